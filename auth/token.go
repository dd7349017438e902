package auth

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	nanoid "github.com/matoous/go-nanoid/v2"
	"golang.org/x/oauth2"
)

// DefaultTokenTTL is the default worker token lifetime.
const DefaultTokenTTL = 15 * time.Minute

// TokenConfig holds configuration for worker token generation and
// validation. The secret is shared between worker and control plane.
type TokenConfig struct {
	// Secret is the HMAC signing key (at least 32 bytes).
	Secret []byte

	// Issuer is verified on validation when set.
	Issuer string

	// TTL is the token lifetime. Defaults to DefaultTokenTTL.
	TTL time.Duration
}

func (c TokenConfig) ttl() time.Duration {
	if c.TTL == 0 {
		return DefaultTokenTTL
	}
	return c.TTL
}

// WorkerClaims are the claims carried by a worker token. Subject is the
// worker name; Graphs lists the graph names the worker may claim runs
// for.
type WorkerClaims struct {
	jwt.RegisteredClaims

	Graphs []string `json:"graphs,omitempty"`
}

// ServesGraph reports whether the token authorizes runs of the named
// graph. An empty graph list authorizes all graphs.
func (c *WorkerClaims) ServesGraph(name string) bool {
	if len(c.Graphs) == 0 {
		return true
	}
	for _, g := range c.Graphs {
		if g == name {
			return true
		}
	}
	return false
}

// GenerateWorkerToken mints a signed token for the named worker.
func GenerateWorkerToken(cfg TokenConfig, workerName string, graphs []string) (string, error) {
	if len(cfg.Secret) < 32 {
		return "", ErrSecretTooShort
	}

	tokenID, err := nanoid.New()
	if err != nil {
		return "", fmt.Errorf("generate token id: %w", err)
	}

	now := time.Now()
	claims := WorkerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Subject:   workerName,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(cfg.ttl())),
			ID:        tokenID,
		},
		Graphs: graphs,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(cfg.Secret)
}

// ValidateWorkerToken parses and validates a worker token.
func ValidateWorkerToken(cfg TokenConfig, tokenString string) (*WorkerClaims, error) {
	claims := &WorkerClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return cfg.Secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	if cfg.Issuer != "" && claims.Issuer != cfg.Issuer {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// =============================================================================
// Token Source
// =============================================================================

// tokenSource mints worker tokens on demand and caches them until close
// to expiry. It satisfies oauth2.TokenSource so it plugs straight into
// the control-plane client.
type tokenSource struct {
	cfg        TokenConfig
	workerName string
	graphs     []string

	mu      sync.Mutex
	current *oauth2.Token
}

// NewTokenSource returns a token source that self-signs worker tokens
// with cfg.Secret. Tokens are refreshed one minute before expiry.
func NewTokenSource(cfg TokenConfig, workerName string, graphs []string) oauth2.TokenSource {
	return &tokenSource{cfg: cfg, workerName: workerName, graphs: graphs}
}

func (s *tokenSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil && time.Until(s.current.Expiry) > time.Minute {
		return s.current, nil
	}

	signed, err := GenerateWorkerToken(s.cfg, s.workerName, s.graphs)
	if err != nil {
		return nil, err
	}
	s.current = &oauth2.Token{
		AccessToken: signed,
		TokenType:   "Bearer",
		Expiry:      time.Now().Add(s.cfg.ttl()),
	}
	return s.current, nil
}
