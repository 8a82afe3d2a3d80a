package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/shilei2024/foodai/internal/client/tokencache"
	"github.com/shilei2024/foodai/internal/common"
	"github.com/shilei2024/foodai/internal/netx"
)

type ClientCredentialsConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scope        string

	HTTPClient *http.Client
	Clock      clockwork.Clock
}

// ClientCredentials obtains access tokens with the client_credentials grant.
type ClientCredentials struct {
	cfg ClientCredentialsConfig
}

func NewClientCredentials(cfg ClientCredentialsConfig) *ClientCredentials {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &ClientCredentials{cfg: cfg}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// FetchToken requests a new token. When the response omits expires_in the
// lifetime is taken from the token's exp claim.
func (c *ClientCredentials) FetchToken(ctx context.Context) (tokencache.Token, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)
	if c.cfg.Scope != "" {
		form.Set("scope", c.cfg.Scope)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return tokencache.Token{}, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var resp tokenResponse
	if err := netx.DoJSON(c.cfg.HTTPClient, req, &resp); err != nil {
		return tokencache.Token{}, fmt.Errorf("token endpoint: %w", err)
	}
	if resp.AccessToken == "" {
		return tokencache.Token{}, fmt.Errorf("token endpoint returned no access_token: %w", common.ErrInvalidToken)
	}

	ttl := time.Duration(resp.ExpiresIn) * time.Second
	if ttl <= 0 {
		if ttl, err = tokencache.TTLFromJWT(resp.AccessToken, c.cfg.Clock.Now()); err != nil {
			return tokencache.Token{}, err
		}
	}
	return tokencache.Token{Value: resp.AccessToken, TTL: ttl}, nil
}
