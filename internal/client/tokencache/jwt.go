package tokencache

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/shilei2024/foodai/internal/common"
)

// TTLFromJWT reads the exp claim of a JWT access token without verifying
// its signature and returns how long it remains valid after now. Providers
// that omit expires_in from their responses are handled this way.
func TTLFromJWT(token string, now time.Time) (time.Duration, error) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return 0, fmt.Errorf("parse token: %w: %w", common.ErrInvalidToken, err)
	}
	if claims.ExpiresAt == nil {
		return 0, fmt.Errorf("token has no exp claim: %w", common.ErrInvalidToken)
	}

	ttl := claims.ExpiresAt.Sub(now)
	if ttl <= 0 {
		return 0, fmt.Errorf("token already expired: %w", common.ErrInvalidToken)
	}
	return ttl, nil
}
