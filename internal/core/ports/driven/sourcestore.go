package driven

import (
	"context"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
)

// SourceStore persists sources.
type SourceStore interface {
	// Save stores or updates a source.
	Save(ctx context.Context, source domain.Source) error

	// Get retrieves a source by ID, including soft-deleted ones.
	Get(ctx context.Context, id string) (*domain.Source, error)

	// Delete removes a source permanently.
	Delete(ctx context.Context, id string) error

	// List returns all sources that are not soft-deleted.
	List(ctx context.Context) ([]domain.Source, error)

	// FindByExternalID returns live sources whose provider identifier matches.
	FindByExternalID(ctx context.Context, provider domain.ProviderType, externalID string) ([]domain.Source, error)

	// CompareAndSetStatus atomically moves a source to status `to` if its
	// current status is one of `from`. Returns false when it was not.
	CompareAndSetStatus(ctx context.Context, id string, from []domain.SourceStatus, to domain.SourceStatus) (bool, error)
}
