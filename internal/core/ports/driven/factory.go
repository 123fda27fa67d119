package driven

import (
	"context"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
)

// ConnectorBuilder creates a Connector from a Source.
// TokenProvider is nil for connectors that don't require authentication.
type ConnectorBuilder func(source domain.Source, tokenProvider TokenProvider) (Connector, error)

// SourceIdentifier extracts the provider-supplied source identifier from a
// webhook request, before any connector exists for it.
type SourceIdentifier func(req *domain.WebhookRequest) (externalID string, ok bool)

// ConnectorFactory creates connectors from source configuration.
// It is built once at process start from an explicit provider map.
type ConnectorFactory interface {
	// Create returns a Connector for the given source.
	// Returns ErrUnsupportedType if the provider is not registered.
	Create(ctx context.Context, source domain.Source) (Connector, error)

	// Register adds a builder and an identifier for a provider.
	Register(provider domain.ProviderType, builder ConnectorBuilder, identify SourceIdentifier)

	// Identify extracts the external source id from a webhook request.
	Identify(provider domain.ProviderType, req *domain.WebhookRequest) (string, bool)

	// SupportedTypes returns all registered providers.
	SupportedTypes() []domain.ProviderType
}
