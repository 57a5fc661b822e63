package mcp

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// bearerTokenSource mints short-lived HS256 bearer tokens for an HTTP
// transport server configured with a JWTSecret, so the MCP Server Manager
// can authenticate to internal servers without running an OAuth flow.
type bearerTokenSource struct {
	secret  []byte
	subject string
	ttl     time.Duration
}

func newBearerTokenSource(cfg *ServerConfig) *bearerTokenSource {
	if cfg.JWTSecret == "" {
		return nil
	}
	ttl := cfg.JWTTTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	subject := cfg.JWTSubject
	if subject == "" {
		subject = cfg.ID
	}
	return &bearerTokenSource{secret: []byte(cfg.JWTSecret), subject: subject, ttl: ttl}
}

// Token mints a fresh signed token; callers attach it as "Authorization:
// Bearer <token>" on each outbound request since the token's lifetime is
// intentionally short.
func (s *bearerTokenSource) Token() (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   s.subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign bearer token: %w", err)
	}
	return signed, nil
}
