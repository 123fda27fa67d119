package driving

import (
	"context"
	"time"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
)

// SyncOrchestrator drives full, incremental and single-file syncs.
type SyncOrchestrator interface {
	// Connect validates and stores a new source, registers its webhook and
	// enqueues the initial full sync. Returns the stored source.
	Connect(ctx context.Context, source domain.Source, callbackURL string) (*domain.Source, error)

	// Declare connects declared sources that do not exist yet and refreshes
	// the name and config of those that do. Returns the number connected.
	Declare(ctx context.Context, sources []domain.Source, callbackURL func(domain.ProviderType) string) (int, error)

	// Disconnect soft-deletes a source, stops its active run and cascades
	// the removal of its file records and chunks.
	Disconnect(ctx context.Context, sourceID string) error

	// Trigger enqueues a sync job for a source and returns the job ID.
	Trigger(ctx context.Context, sourceID string, kind domain.JobKind) (string, error)

	// Retry enqueues a new job carrying the work of a failed job.
	Retry(ctx context.Context, jobID string) (string, error)

	// RunJob executes a dequeued job. Called by workers.
	RunJob(ctx context.Context, job *domain.SyncJob) error

	// Status returns the sync status for a source.
	Status(ctx context.Context, sourceID string) (*SyncStatus, error)

	// Reprocess re-runs the pipeline for the file a chunk belongs to.
	Reprocess(ctx context.Context, chunkID string) (string, error)
}

// SyncStatus represents the current state of a source's sync.
type SyncStatus struct {
	// SourceID identifies the source.
	SourceID string

	// State is the source lifecycle state.
	State domain.SourceStatus

	// Running indicates if a job is currently executing.
	Running bool

	// JobID is the running or most recent job.
	JobID string

	// Progress holds the live counters of JobID.
	Progress domain.JobProgress

	// LastSyncAt is when the last successful sync completed.
	LastSyncAt time.Time

	// LastError is the most recent terminal error.
	LastError string
}
