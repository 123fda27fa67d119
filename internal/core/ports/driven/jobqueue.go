package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
)

// JobQueue is a durable at-least-once work queue with lease semantics.
//
// A dequeued job is leased to one worker. If the lease expires without an
// Ack, Fail or Defer the job becomes visible again, so job execution must be
// resumable. Dequeue never hands out a job for a source that already has a
// live running job, which gives per-source FIFO ordering and exclusivity.
type JobQueue interface {
	// Enqueue adds a job and returns its ID. When the job carries an
	// idempotency key that matches a live job, that job's ID is returned.
	Enqueue(ctx context.Context, job *domain.SyncJob) (string, error)

	// EnqueueOrCoalesce merges an incremental job into a queued, not yet
	// running incremental job for the same source, or enqueues it.
	EnqueueOrCoalesce(ctx context.Context, job *domain.SyncJob) (id string, merged bool, err error)

	// Dequeue blocks until a job on the queue is available and leases it.
	// Returns nil, nil when ctx is done or the queue is closed.
	Dequeue(ctx context.Context, queue domain.QueueName) (*domain.SyncJob, error)

	// Ack marks a running job completed.
	Ack(ctx context.Context, id string) error

	// Fail records a failure. Retryable failures under the attempt cap are
	// re-queued after base × 2^attempt; others become failed.
	Fail(ctx context.Context, id string, cause error) (*domain.SyncJob, error)

	// Defer re-queues a running job with an updated payload, visible after
	// `until`. The attempt counter is not touched.
	Defer(ctx context.Context, job *domain.SyncJob, until time.Time) error

	// Heartbeat extends the lease of a running job.
	Heartbeat(ctx context.Context, id string) error

	// Update persists progress counters of a running job.
	Update(ctx context.Context, job *domain.SyncJob) error

	// Get returns a job by ID.
	Get(ctx context.Context, id string) (*domain.SyncJob, error)

	// List returns jobs matching the filter, newest first.
	List(ctx context.Context, filter domain.JobFilter) ([]domain.SyncJob, error)

	// DiscardQueued fails every queued job of a source and returns the count.
	DiscardQueued(ctx context.Context, sourceID string, reason string) (int, error)

	// Prune deletes terminal jobs completed before the cutoff.
	Prune(ctx context.Context, before time.Time) (int, error)

	// Close wakes blocked consumers and releases resources.
	Close() error
}

// QueueOptions tunes queue backends.
type QueueOptions struct {
	// Visibility is the lease duration of a dequeued job.
	Visibility time.Duration

	// BackoffBase is the first retry delay.
	BackoffBase time.Duration

	// PollInterval is how often blocking backends re-check for work.
	PollInterval time.Duration
}

// DefaultQueueOptions returns the defaults used when a value is zero.
func DefaultQueueOptions() QueueOptions {
	return QueueOptions{
		Visibility:   5 * time.Minute,
		BackoffBase:  30 * time.Second,
		PollInterval: 500 * time.Millisecond,
	}
}

// WithDefaults fills zero values.
func (o QueueOptions) WithDefaults() QueueOptions {
	d := DefaultQueueOptions()
	if o.Visibility <= 0 {
		o.Visibility = d.Visibility
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = d.BackoffBase
	}
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	return o
}
