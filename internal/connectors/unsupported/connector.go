// Package unsupported provides the connector for provider types that are
// known but not implemented. Every operation fails with
// domain.ErrUnsupported so sources of these types can be stored and fail
// fast instead of being rejected as unknown.
package unsupported

import (
	"context"
	"fmt"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven"
)

// Ensure Connector implements the interface.
var _ driven.Connector = (*Connector)(nil)

// Connector is a placeholder for an unimplemented provider.
type Connector struct {
	sourceID string
	provider domain.ProviderType
}

// New creates a placeholder connector for source.
func New(source domain.Source) *Connector {
	return &Connector{sourceID: source.ID, provider: source.Provider}
}

func (c *Connector) err(operation string) error {
	return fmt.Errorf("%w: %s %s", domain.ErrUnsupported, c.provider, operation)
}

// Type returns the provider type.
func (c *Connector) Type() domain.ProviderType { return c.provider }

// SourceID returns the source identifier.
func (c *Connector) SourceID() string { return c.sourceID }

// Capabilities reports nothing.
func (c *Connector) Capabilities() driven.ConnectorCapabilities {
	return driven.ConnectorCapabilities{}
}

// Validate fails with domain.ErrUnsupported.
func (c *Connector) Validate(context.Context) error { return c.err("validate") }

// ListFiles yields no files and fails with domain.ErrUnsupported.
func (c *Connector) ListFiles(context.Context, driven.ListOptions) (<-chan domain.FileInfo, <-chan error) {
	files := make(chan domain.FileInfo)
	errs := make(chan error, 1)
	errs <- c.err("list files")
	close(files)
	close(errs)
	return files, errs
}

// GetFileContent fails with domain.ErrUnsupported.
func (c *Connector) GetFileContent(context.Context, string) ([]byte, error) {
	return nil, c.err("get file content")
}

// SetupWebhook fails with domain.ErrUnsupported.
func (c *Connector) SetupWebhook(context.Context, string) (*domain.WebhookHandle, error) {
	return nil, c.err("setup webhook")
}

// ValidateWebhook rejects every request.
func (c *Connector) ValidateWebhook(*domain.WebhookRequest) bool { return false }

// ParseWebhook returns no changes.
func (c *Connector) ParseWebhook(*domain.WebhookRequest) []domain.FileChange { return nil }

// Close is a no-op.
func (c *Connector) Close() error { return nil }

// Builder returns a driven.ConnectorBuilder that creates placeholders.
func Builder() driven.ConnectorBuilder {
	return func(source domain.Source, _ driven.TokenProvider) (driven.Connector, error) {
		return New(source), nil
	}
}
