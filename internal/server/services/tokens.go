package services

import (
	"context"
	"crypto/subtle"
	"fmt"

	"github.com/shilei2024/foodai/internal/common"
	pb "github.com/shilei2024/foodai/internal/proto"
	"github.com/shilei2024/foodai/internal/server/auth"
)

// TokenService hands out access tokens to the one configured client.
type TokenService struct {
	clientID     string
	clientSecret string
	issuer       *auth.Issuer
}

func NewTokenService(clientID, clientSecret string, issuer *auth.Issuer) *TokenService {
	return &TokenService{clientID: clientID, clientSecret: clientSecret, issuer: issuer}
}

// IssueToken returns a signed token when the credentials match, and an
// error matching common.ErrUnauthorized otherwise.
func (s *TokenService) IssueToken(ctx context.Context, req pb.TokenRequest) (pb.TokenResponse, error) {
	idOK := subtle.ConstantTimeCompare([]byte(req.ClientID), []byte(s.clientID)) == 1
	secretOK := subtle.ConstantTimeCompare([]byte(req.ClientSecret), []byte(s.clientSecret)) == 1
	if !idOK || !secretOK {
		return pb.TokenResponse{}, fmt.Errorf("client %q: %w", req.ClientID, common.ErrUnauthorized)
	}

	token, err := s.issuer.GenerateToken(req.ClientID)
	if err != nil {
		return pb.TokenResponse{}, err
	}
	return pb.TokenResponse{
		AccessToken: token,
		ExpiresIn:   int64(s.issuer.Validity().Seconds()),
	}, nil
}

// Authenticate resolves an access token to its client id.
func (s *TokenService) Authenticate(ctx context.Context, token string) (string, error) {
	return s.issuer.GetClientIDFromToken(token)
}
