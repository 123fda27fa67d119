package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven"
)

// Ensure JobQueue implements the interface.
var _ driven.JobQueue = (*JobQueue)(nil)

// JobQueue is an in-memory implementation of driven.JobQueue.
// Jobs are lost on restart; use the sqlite or postgres queue for durability.
type JobQueue struct {
	mu     sync.Mutex
	jobs   map[string]*domain.SyncJob
	order  []string
	opts   driven.QueueOptions
	wake   chan struct{}
	done   chan struct{}
	closed bool
	now    func() time.Time
}

// NewJobQueue creates a new in-memory job queue.
func NewJobQueue(opts driven.QueueOptions) *JobQueue {
	return &JobQueue{
		jobs: make(map[string]*domain.SyncJob),
		opts: opts.WithDefaults(),
		wake: make(chan struct{}),
		done: make(chan struct{}),
		now:  time.Now,
	}
}

// SetClock replaces the time source. Used by tests.
func (q *JobQueue) SetClock(now func() time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.now = now
}

// broadcast wakes every blocked Dequeue. Caller holds q.mu.
func (q *JobQueue) broadcast() {
	close(q.wake)
	q.wake = make(chan struct{})
}

// Enqueue adds a job, honouring its idempotency key.
func (q *JobQueue) Enqueue(_ context.Context, job *domain.SyncJob) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return "", domain.ErrQueueClosed
	}
	if job.IdempotencyKey != "" {
		for _, existing := range q.jobs {
			if existing.IdempotencyKey == job.IdempotencyKey && !existing.Status.IsTerminal() {
				return existing.ID, nil
			}
		}
	}
	q.insert(job)
	return job.ID, nil
}

func (q *JobQueue) insert(job *domain.SyncJob) {
	now := q.now()
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Queue == "" {
		job.Queue = domain.QueueFor(job.Kind)
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = domain.DefaultMaxAttempts
	}
	if job.QueuedAt.IsZero() {
		job.QueuedAt = now
	}
	if job.VisibleAt.IsZero() {
		job.VisibleAt = now
	}
	job.Status = domain.JobStatusQueued
	q.jobs[job.ID] = cloneJob(job)
	q.order = append(q.order, job.ID)
	q.broadcast()
}

// EnqueueOrCoalesce merges an incremental job into a queued incremental job
// of the same source that has not started yet, or enqueues it.
func (q *JobQueue) EnqueueOrCoalesce(ctx context.Context, job *domain.SyncJob) (string, bool, error) {
	if job.Kind != domain.JobKindIncremental {
		id, err := q.Enqueue(ctx, job)
		return id, false, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return "", false, domain.ErrQueueClosed
	}
	for _, id := range q.order {
		existing := q.jobs[id]
		if existing == nil || existing.SourceID != job.SourceID || !existing.Coalescable() {
			continue
		}
		existing.MergeChanges(job.Changes, job.UseChangeFeed)
		return existing.ID, true, nil
	}
	q.insert(job)
	return job.ID, false, nil
}

// Dequeue blocks until a job is available on the queue and leases it.
func (q *JobQueue) Dequeue(ctx context.Context, queue domain.QueueName) (*domain.SyncJob, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, nil
		}
		job, wait := q.next(queue)
		if job != nil {
			out := cloneJob(job)
			q.mu.Unlock()
			return out, nil
		}
		wake := q.wake
		q.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, nil
		case <-q.done:
			timer.Stop()
			return nil, nil
		case <-wake:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// next leases the oldest eligible job, or reports how long to wait.
// Caller holds q.mu.
func (q *JobQueue) next(queue domain.QueueName) (*domain.SyncJob, time.Duration) {
	now := q.now()
	running := make(map[string]bool)
	for _, j := range q.jobs {
		if j.Status != domain.JobStatusRunning {
			continue
		}
		if j.LeaseUntil.Before(now) {
			// Lease expired: the worker is gone, make the job visible again.
			j.Status = domain.JobStatusQueued
			j.VisibleAt = now
			j.LeaseUntil = time.Time{}
			continue
		}
		running[j.SourceID] = true
	}

	wait := q.opts.PollInterval
	blocked := make(map[string]bool)
	for _, id := range q.order {
		j := q.jobs[id]
		if j == nil || j.Queue != queue || j.Status != domain.JobStatusQueued {
			continue
		}
		if running[j.SourceID] || blocked[j.SourceID] {
			continue
		}
		if j.VisibleAt.After(now) {
			// Keep per-source order: later jobs wait behind this one.
			blocked[j.SourceID] = true
			if d := j.VisibleAt.Sub(now); d < wait {
				wait = d
			}
			continue
		}
		j.Status = domain.JobStatusRunning
		j.StartedAt = now
		j.LeaseUntil = now.Add(q.opts.Visibility)
		return j, 0
	}
	return nil, wait
}

// Ack marks a running job completed.
func (q *JobQueue) Ack(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, err := q.running(id)
	if err != nil {
		return err
	}
	j.Status = domain.JobStatusCompleted
	j.CompletedAt = q.now()
	j.LeaseUntil = time.Time{}
	q.broadcast()
	return nil
}

// Fail records a failure and schedules a retry when allowed.
func (q *JobQueue) Fail(_ context.Context, id string, cause error) (*domain.SyncJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, err := q.running(id)
	if err != nil {
		return nil, err
	}
	now := q.now()
	if cause != nil {
		j.LastError = cause.Error()
	}
	delay := domain.BackoffDelay(q.opts.BackoffBase, j.Attempt)
	j.Attempt++
	j.LeaseUntil = time.Time{}
	if !domain.IsRetryable(cause) || j.Attempt >= j.MaxAttempts {
		j.Status = domain.JobStatusFailed
		j.CompletedAt = now
	} else {
		j.Status = domain.JobStatusQueued
		j.VisibleAt = now.Add(delay)
	}
	q.broadcast()
	return cloneJob(j), nil
}

// Defer re-queues a running job with its updated payload.
func (q *JobQueue) Defer(_ context.Context, job *domain.SyncJob, until time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, err := q.running(job.ID)
	if err != nil {
		return err
	}
	j.ApplyPayload(clonePayload(job.Payload()))
	j.Progress = job.Progress
	j.LastError = job.LastError
	j.Status = domain.JobStatusQueued
	j.VisibleAt = until
	j.LeaseUntil = time.Time{}
	q.broadcast()
	return nil
}

// Heartbeat extends the lease of a running job.
func (q *JobQueue) Heartbeat(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, err := q.running(id)
	if err != nil {
		return err
	}
	j.LeaseUntil = q.now().Add(q.opts.Visibility)
	return nil
}

// Update persists progress counters of a job.
func (q *JobQueue) Update(_ context.Context, job *domain.SyncJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[job.ID]
	if !ok {
		return domain.ErrNotFound
	}
	j.Progress = job.Progress
	return nil
}

// Get returns a job by ID.
func (q *JobQueue) Get(_ context.Context, id string) (*domain.SyncJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneJob(j), nil
}

// List returns jobs matching the filter, newest first.
func (q *JobQueue) List(_ context.Context, filter domain.JobFilter) ([]domain.SyncJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var result []domain.SyncJob
	for i := len(q.order) - 1; i >= 0; i-- {
		j := q.jobs[q.order[i]]
		if j == nil {
			continue
		}
		if filter.SourceID != "" && j.SourceID != filter.SourceID {
			continue
		}
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		if filter.Queue != "" && j.Queue != filter.Queue {
			continue
		}
		result = append(result, *cloneJob(j))
		if filter.Limit > 0 && len(result) == filter.Limit {
			break
		}
	}
	return result, nil
}

// DiscardQueued fails every queued job of a source.
func (q *JobQueue) DiscardQueued(_ context.Context, sourceID, reason string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	n := 0
	for _, j := range q.jobs {
		if j.SourceID == sourceID && j.Status == domain.JobStatusQueued {
			j.Status = domain.JobStatusFailed
			j.LastError = reason
			j.CompletedAt = now
			n++
		}
	}
	return n, nil
}

// Prune deletes terminal jobs completed before the cutoff.
func (q *JobQueue) Prune(_ context.Context, before time.Time) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	kept := q.order[:0]
	for _, id := range q.order {
		j := q.jobs[id]
		if j.Status.IsTerminal() && j.CompletedAt.Before(before) {
			delete(q.jobs, id)
			n++
			continue
		}
		kept = append(kept, id)
	}
	q.order = kept
	return n, nil
}

// Close wakes blocked consumers.
func (q *JobQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.done)
	return nil
}

// running returns the live job or an error if it is not running.
// Caller holds q.mu.
func (q *JobQueue) running(id string) (*domain.SyncJob, error) {
	j, ok := q.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if j.Status != domain.JobStatusRunning {
		return nil, fmt.Errorf("%w: job %s is %s", domain.ErrInvalidTransition, id, j.Status)
	}
	return j, nil
}

func cloneJob(j *domain.SyncJob) *domain.SyncJob {
	cp := *j
	cp.ApplyPayload(clonePayload(j.Payload()))
	return &cp
}

func clonePayload(p domain.JobPayload) domain.JobPayload {
	out := domain.JobPayload{UseChangeFeed: p.UseChangeFeed}
	if p.Changes != nil {
		out.Changes = append([]domain.FileChange(nil), p.Changes...)
	}
	if p.Paths != nil {
		out.Paths = append([]string(nil), p.Paths...)
	}
	if p.Resume != nil {
		r := *p.Resume
		r.Listed = append([]domain.FileInfo(nil), p.Resume.Listed...)
		out.Resume = &r
	}
	return out
}
