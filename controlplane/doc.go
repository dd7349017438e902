// Package controlplane provides the client the worker runtime uses to
// talk to the control-plane service: registering graphs, claiming run
// assignments, and reporting results.
//
// The worker consumes the narrow Client interface; HTTPClient is the
// production implementation, with retry behavior for transient failures
// and pluggable authentication (static API key or an oauth2.TokenSource).
// Transport failures surface as duragraph.TransportError so the worker's
// control loop can log and continue rather than crash.
package controlplane
