package remote

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenExpiresWithin reports whether the bearer token's exp claim falls
// within the given window. The signature is NOT verified — the client only
// inspects its own token to decide when a re-login is needed before a flush.
// Tokens without an exp claim, and unparseable tokens, report false so the
// server stays the authority on rejection.
func TokenExpiresWithin(token string, window time.Duration) bool {
	if token == "" {
		return false
	}

	claims := jwt.RegisteredClaims{}
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return time.Until(claims.ExpiresAt.Time) < window
}
