package driving

import (
	"context"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
)

// SourceService exposes read access to configured sources and jobs.
type SourceService interface {
	// Get retrieves a source by ID.
	Get(ctx context.Context, id string) (*domain.Source, error)

	// List returns all live sources.
	List(ctx context.Context) ([]domain.Source, error)

	// Jobs returns recent jobs matching the filter.
	Jobs(ctx context.Context, filter domain.JobFilter) ([]domain.SyncJob, error)

	// Job returns one job by ID.
	Job(ctx context.Context, id string) (*domain.SyncJob, error)

	// Stats returns chunk storage stats for a tenant.
	Stats(ctx context.Context, tenantID string) (*domain.StorageStats, error)
}
