package auth

import (
	"github.com/custodia-labs/sercha-sync/internal/core/domain"
	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven"
)

// Factory creates TokenProviders for sources.
type Factory struct {
	credentials driven.CredentialProvider
}

// NewFactory creates a token provider factory.
func NewFactory(credentials driven.CredentialProvider) *Factory {
	if credentials == nil {
		credentials = NullCredentials{}
	}
	return &Factory{credentials: credentials}
}

// CreateTokenProvider returns the TokenProvider for a source.
// Local sources need no credential and get a NullTokenProvider.
func (f *Factory) CreateTokenProvider(source domain.Source) driven.TokenProvider {
	if source.Provider == domain.ProviderLocal {
		return NewNullTokenProvider()
	}
	return NewSourceTokenProvider(f.credentials, source)
}
