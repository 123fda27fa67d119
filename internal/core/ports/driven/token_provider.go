package driven

import (
	"context"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
)

// CredentialProvider supplies a valid bearer credential for a user and provider.
// Token acquisition and refresh live outside this system.
type CredentialProvider interface {
	// GetToken returns a token or fails with domain.ErrNotConnected.
	GetToken(ctx context.Context, userID string, provider domain.ProviderType) (*domain.Token, error)
}

// TokenProvider provides access tokens for one source's API calls.
// Implementations cache and re-fetch transparently.
type TokenProvider interface {
	// GetToken returns a valid access token.
	// Returns empty string for no-auth connectors.
	GetToken(ctx context.Context) (string, error)

	// IsAuthenticated returns true if a credential is available.
	IsAuthenticated() bool
}
