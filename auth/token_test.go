package auth

import (
	"errors"
	"testing"
	"time"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func TestWorkerToken_RoundTrip(t *testing.T) {
	cfg := TokenConfig{Secret: testSecret, Issuer: "duragraph"}

	token, err := GenerateWorkerToken(cfg, "payments-worker", []string{"hello-world", "chatbot"})
	if err != nil {
		t.Fatalf("GenerateWorkerToken: %v", err)
	}

	claims, err := ValidateWorkerToken(cfg, token)
	if err != nil {
		t.Fatalf("ValidateWorkerToken: %v", err)
	}
	if claims.Subject != "payments-worker" {
		t.Errorf("subject = %s", claims.Subject)
	}
	if claims.Issuer != "duragraph" {
		t.Errorf("issuer = %s", claims.Issuer)
	}
	if len(claims.Graphs) != 2 {
		t.Errorf("graphs = %v", claims.Graphs)
	}
	if claims.ID == "" {
		t.Error("token id missing")
	}
}

func TestWorkerToken_SecretTooShort(t *testing.T) {
	_, err := GenerateWorkerToken(TokenConfig{Secret: []byte("short")}, "w", nil)
	if !errors.Is(err, ErrSecretTooShort) {
		t.Errorf("err = %v, want ErrSecretTooShort", err)
	}
}

func TestWorkerToken_WrongSecret(t *testing.T) {
	token, err := GenerateWorkerToken(TokenConfig{Secret: testSecret}, "w", nil)
	if err != nil {
		t.Fatal(err)
	}

	other := TokenConfig{Secret: []byte("ffffffffffffffffffffffffffffffff")}
	if _, err := ValidateWorkerToken(other, token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestWorkerToken_Expired(t *testing.T) {
	cfg := TokenConfig{Secret: testSecret, TTL: -time.Minute}

	token, err := GenerateWorkerToken(cfg, "w", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ValidateWorkerToken(cfg, token); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("err = %v, want ErrTokenExpired", err)
	}
}

func TestWorkerToken_IssuerMismatch(t *testing.T) {
	token, err := GenerateWorkerToken(TokenConfig{Secret: testSecret, Issuer: "other"}, "w", nil)
	if err != nil {
		t.Fatal(err)
	}

	cfg := TokenConfig{Secret: testSecret, Issuer: "duragraph"}
	if _, err := ValidateWorkerToken(cfg, token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestWorkerToken_Garbage(t *testing.T) {
	cfg := TokenConfig{Secret: testSecret}
	if _, err := ValidateWorkerToken(cfg, "not.a.token"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestServesGraph(t *testing.T) {
	scoped := &WorkerClaims{Graphs: []string{"hello-world"}}
	if !scoped.ServesGraph("hello-world") {
		t.Error("listed graph rejected")
	}
	if scoped.ServesGraph("chatbot") {
		t.Error("unlisted graph accepted")
	}

	unscoped := &WorkerClaims{}
	if !unscoped.ServesGraph("anything") {
		t.Error("empty graph list should authorize all graphs")
	}
}

func TestTokenSource_CachesUntilNearExpiry(t *testing.T) {
	cfg := TokenConfig{Secret: testSecret, Issuer: "duragraph", TTL: time.Hour}
	src := NewTokenSource(cfg, "payments-worker", nil)

	first, err := src.Token()
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if first.TokenType != "Bearer" {
		t.Errorf("token type = %s", first.TokenType)
	}

	claims, err := ValidateWorkerToken(cfg, first.AccessToken)
	if err != nil {
		t.Fatalf("minted token invalid: %v", err)
	}
	if claims.Subject != "payments-worker" {
		t.Errorf("subject = %s", claims.Subject)
	}

	second, err := src.Token()
	if err != nil {
		t.Fatal(err)
	}
	if second.AccessToken != first.AccessToken {
		t.Error("unexpired token was re-minted")
	}
}

func TestTokenSource_RefreshesExpired(t *testing.T) {
	cfg := TokenConfig{Secret: testSecret, TTL: time.Second}
	src := NewTokenSource(cfg, "w", nil)

	first, err := src.Token()
	if err != nil {
		t.Fatal(err)
	}

	// TTL one second means the minute-wide refresh window has already
	// passed, so the next call mints a fresh token.
	second, err := src.Token()
	if err != nil {
		t.Fatal(err)
	}
	if second == first {
		t.Error("expired token was not refreshed")
	}
}
