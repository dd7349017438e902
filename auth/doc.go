// Package auth provides worker credentials for the control plane.
//
// Two credential shapes are supported. Worker keys are opaque API keys
// ("dgw_..."): the control plane stores only their SHA-256 hash and the
// worker presents the full key as a bearer token. Worker tokens are
// short-lived HMAC-signed JWTs carrying the worker's name and its
// registered graphs; deployments that share a signing secret between
// worker and control plane can mint these locally instead of
// distributing static keys.
//
//	cfg := auth.TokenConfig{Secret: secret, Issuer: "duragraph"}
//	client := controlplane.NewHTTPClient(controlplane.HTTPClientConfig{
//	    BaseURL:     url,
//	    TokenSource: auth.NewTokenSource(cfg, "payments-worker", graphNames),
//	})
package auth
