package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven"
)

// HeaderInternalAPIKey authenticates this service to the auth service.
const HeaderInternalAPIKey = "X-Internal-Api-Key"

// Ensure HTTPCredentials implements the CredentialProvider interface.
var _ driven.CredentialProvider = (*HTTPCredentials)(nil)

// HTTPCredentials fetches user tokens from the auth service.
type HTTPCredentials struct {
	client *resty.Client
}

// HTTPConfig configures the auth service client.
type HTTPConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type tokenResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	Detail      string    `json:"detail,omitempty"`
}

// NewHTTPCredentials creates an auth service client.
func NewHTTPCredentials(cfg HTTPConfig) *HTTPCredentials {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	client := resty.New()
	client.SetBaseURL(cfg.BaseURL)
	client.SetTimeout(cfg.Timeout)
	client.SetHeader(HeaderInternalAPIKey, cfg.APIKey)
	client.SetHeader("Accept", "application/json")

	return &HTTPCredentials{client: client}
}

// GetToken calls GET /api/auth/internal/tokens/{provider}?user_id=.
// A 404 means the user never connected the provider.
func (c *HTTPCredentials) GetToken(
	ctx context.Context, userID string, provider domain.ProviderType,
) (*domain.Token, error) {
	var body tokenResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParam("provider", string(provider)).
		SetQueryParam("user_id", userID).
		SetResult(&body).
		SetError(&body).
		Get("/api/auth/internal/tokens/{provider}")
	if err != nil {
		return nil, fmt.Errorf("call auth service: %w", err)
	}

	switch code := resp.StatusCode(); {
	case code == http.StatusOK:
	case code == http.StatusNotFound:
		return nil, fmt.Errorf("%w: user %s has no %s connection", domain.ErrNotConnected, userID, provider)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return nil, fmt.Errorf("%w: auth service rejected internal api key", domain.ErrAuth)
	default:
		return nil, fmt.Errorf("auth service returned %d: %s", code, body.Detail)
	}

	if body.AccessToken == "" {
		return nil, fmt.Errorf("%w: auth service returned no token for %s", domain.ErrNotConnected, provider)
	}
	return &domain.Token{AccessToken: body.AccessToken, ExpiresAt: body.ExpiresAt}, nil
}
