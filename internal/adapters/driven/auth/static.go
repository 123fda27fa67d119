package auth

import (
	"context"
	"fmt"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven"
)

// Ensure StaticCredentials implements the CredentialProvider interface.
var _ driven.CredentialProvider = (*StaticCredentials)(nil)

// StaticCredentials serves non-expiring tokens from configuration, one per
// provider. Every user shares them, which suits single-tenant deployments.
type StaticCredentials struct {
	tokens map[domain.ProviderType]string
}

// NewStaticCredentials creates a provider from a provider→token map.
// Empty tokens are ignored.
func NewStaticCredentials(tokens map[string]string) (*StaticCredentials, error) {
	s := &StaticCredentials{tokens: make(map[domain.ProviderType]string, len(tokens))}
	for name, token := range tokens {
		if token == "" {
			continue
		}
		provider, err := domain.ParseProviderType(name)
		if err != nil {
			return nil, fmt.Errorf("static token: %w", err)
		}
		s.tokens[provider] = token
	}
	return s, nil
}

// GetToken returns the configured token or ErrNotConnected.
func (s *StaticCredentials) GetToken(
	_ context.Context, _ string, provider domain.ProviderType,
) (*domain.Token, error) {
	token, ok := s.tokens[provider]
	if !ok {
		return nil, fmt.Errorf("%w: no static token for %s", domain.ErrNotConnected, provider)
	}
	return &domain.Token{AccessToken: token}, nil
}

// Ensure NullCredentials implements the CredentialProvider interface.
var _ driven.CredentialProvider = NullCredentials{}

// NullCredentials never has a token. Used when only local sources run.
type NullCredentials struct{}

// GetToken always fails with ErrNotConnected.
func (NullCredentials) GetToken(_ context.Context, _ string, provider domain.ProviderType) (*domain.Token, error) {
	return nil, fmt.Errorf("%w: %s", domain.ErrNotConnected, provider)
}
