// Package auth issues and validates the HS256 access tokens handed out by
// IssueToken and checked on every Apply call.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"

	"github.com/shilei2024/foodai/internal/common"
)

// Claims are the registered claims plus the authenticated client id.
type Claims struct {
	jwt.RegisteredClaims
	ClientID string `json:"client_id"`
}

// Issuer signs and verifies access tokens with a shared secret.
type Issuer struct {
	secret   []byte
	validity time.Duration
	clock    clockwork.Clock
}

func NewIssuer(secret []byte, validity time.Duration, clock clockwork.Clock) *Issuer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Issuer{secret: secret, validity: validity, clock: clock}
}

// Validity is the lifetime of tokens produced by GenerateToken.
func (i *Issuer) Validity() time.Duration { return i.validity }

func (i *Issuer) GenerateToken(clientID string) (string, error) {
	now := i.clock.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   clientID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.validity)),
		},
		ClientID: clientID,
	})

	tokenString, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return tokenString, nil
}

// GetClientIDFromToken verifies tokenString and returns its client id.
// Every failure matches common.ErrInvalidToken.
func (i *Issuer) GetClientIDFromToken(tokenString string) (string, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(i.clock.Now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", fmt.Errorf("%w: token expired", common.ErrInvalidToken)
		}
		return "", fmt.Errorf("%w: %w", common.ErrInvalidToken, err)
	}
	if !token.Valid || claims.ClientID == "" {
		return "", common.ErrInvalidToken
	}

	return claims.ClientID, nil
}
