package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven"
)

// JobQueue is a durable driven.JobQueue stored in the jobs table.
// Consumers in the same process are woken on enqueue; other processes
// sharing the file discover work by polling.
type JobQueue struct {
	store *Store
	opts  driven.QueueOptions

	mu     sync.Mutex
	wake   chan struct{}
	done   chan struct{}
	closed bool
}

var _ driven.JobQueue = (*JobQueue)(nil)

func newJobQueue(store *Store, opts driven.QueueOptions) *JobQueue {
	return &JobQueue{
		store: store,
		opts:  opts.WithDefaults(),
		wake:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

const jobColumns = `id, source_id, kind, queue, status, progress, attempt, max_attempts, last_error,
	idempotency_key, payload, visible_at, lease_until, queued_at, started_at, completed_at`

func (q *JobQueue) notify() {
	q.mu.Lock()
	defer q.mu.Unlock()
	close(q.wake)
	q.wake = make(chan struct{})
}

func (q *JobQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Enqueue adds a job, honouring its idempotency key.
func (q *JobQueue) Enqueue(ctx context.Context, job *domain.SyncJob) (string, error) {
	if q.isClosed() {
		return "", domain.ErrQueueClosed
	}
	var id string
	err := q.store.withTx(ctx, func(tx *sql.Tx) error {
		if job.IdempotencyKey != "" {
			err := tx.QueryRowContext(ctx, `
				SELECT id FROM jobs WHERE idempotency_key = ? AND status IN ('queued', 'running')
				ORDER BY seq LIMIT 1
			`, job.IdempotencyKey).Scan(&id)
			if err == nil {
				return nil
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return err
			}
		}
		if err := insertJob(ctx, tx, job); err != nil {
			return err
		}
		id = job.ID
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("enqueueing job: %w", err)
	}
	q.notify()
	return id, nil
}

// EnqueueOrCoalesce merges an incremental job into a queued incremental job
// of the same source that has not started yet, or enqueues it.
func (q *JobQueue) EnqueueOrCoalesce(ctx context.Context, job *domain.SyncJob) (string, bool, error) {
	if job.Kind != domain.JobKindIncremental {
		id, err := q.Enqueue(ctx, job)
		return id, false, err
	}
	if q.isClosed() {
		return "", false, domain.ErrQueueClosed
	}

	var id string
	var merged bool
	err := q.store.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT `+jobColumns+` FROM jobs
			WHERE source_id = ? AND kind = ? AND status = 'queued' AND started_at IS NULL
			ORDER BY seq LIMIT 1
		`, job.SourceID, string(domain.JobKindIncremental))
		existing, err := scanJob(row)
		if err == nil && !existing.Coalescable() {
			err = sql.ErrNoRows
		}
		if errors.Is(err, sql.ErrNoRows) {
			if err := insertJob(ctx, tx, job); err != nil {
				return err
			}
			id = job.ID
			return nil
		}
		if err != nil {
			return err
		}

		existing.MergeChanges(job.Changes, job.UseChangeFeed)
		payload, err := json.Marshal(existing.Payload())
		if err != nil {
			return fmt.Errorf("marshalling payload: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "UPDATE jobs SET payload = ? WHERE id = ?", string(payload), existing.ID); err != nil {
			return err
		}
		id, merged = existing.ID, true
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("coalescing job: %w", err)
	}
	if !merged {
		q.notify()
	}
	return id, merged, nil
}

// Dequeue blocks until a job on the queue can be leased.
func (q *JobQueue) Dequeue(ctx context.Context, queue domain.QueueName) (*domain.SyncJob, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, nil
		}
		wake := q.wake
		q.mu.Unlock()

		job, err := q.lease(ctx, queue)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil
			}
			return nil, err
		}
		if job != nil {
			return job, nil
		}

		timer := time.NewTimer(q.opts.PollInterval)
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

// lease picks the oldest eligible job in one transaction.
func (q *JobQueue) lease(ctx context.Context, queue domain.QueueName) (*domain.SyncJob, error) {
	var job *domain.SyncJob
	err := q.store.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()

		// Expired leases: the worker is gone, make the job visible again.
		if _, err := tx.ExecContext(ctx, `
			UPDATE jobs SET status = 'queued', visible_at = ?, lease_until = NULL
			WHERE status = 'running' AND lease_until < ?
		`, now.UnixNano(), now.UnixNano()); err != nil {
			return err
		}

		// Oldest visible job whose source has no running job anywhere and
		// no older queued job on this queue.
		var id string
		err := tx.QueryRowContext(ctx, `
			SELECT j.id FROM jobs j
			WHERE j.queue = ? AND j.status = 'queued' AND j.visible_at <= ?
				AND NOT EXISTS (
					SELECT 1 FROM jobs r WHERE r.source_id = j.source_id AND r.status = 'running')
				AND NOT EXISTS (
					SELECT 1 FROM jobs e WHERE e.source_id = j.source_id AND e.queue = j.queue
						AND e.status = 'queued' AND e.seq < j.seq)
			ORDER BY j.seq LIMIT 1
		`, string(queue), now.UnixNano()).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE jobs SET status = 'running', started_at = ?, lease_until = ? WHERE id = ?
		`, now.UnixNano(), now.Add(q.opts.Visibility).UnixNano(), id); err != nil {
			return err
		}

		job, err = getJob(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("dequeueing job: %w", err)
	}
	return job, nil
}

// Ack marks a running job completed.
func (q *JobQueue) Ack(ctx context.Context, id string) error {
	err := q.store.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := runningJob(ctx, tx, id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE jobs SET status = 'completed', completed_at = ?, lease_until = NULL WHERE id = ?
		`, time.Now().UTC().UnixNano(), id)
		return err
	})
	if err != nil {
		return err
	}
	q.notify()
	return nil
}

// Fail records a failure and schedules a retry when allowed.
func (q *JobQueue) Fail(ctx context.Context, id string, cause error) (*domain.SyncJob, error) {
	var out *domain.SyncJob
	err := q.store.withTx(ctx, func(tx *sql.Tx) error {
		job, err := runningJob(ctx, tx, id)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		if cause != nil {
			job.LastError = cause.Error()
		}
		delay := domain.BackoffDelay(q.opts.BackoffBase, job.Attempt)
		job.Attempt++
		job.LeaseUntil = time.Time{}
		if !domain.IsRetryable(cause) || job.Attempt >= job.MaxAttempts {
			job.Status = domain.JobStatusFailed
			job.CompletedAt = now
		} else {
			job.Status = domain.JobStatusQueued
			job.VisibleAt = now.Add(delay)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE jobs SET status = ?, attempt = ?, last_error = ?, visible_at = ?,
				lease_until = NULL, completed_at = ?
			WHERE id = ?
		`, string(job.Status), job.Attempt, nullString(job.LastError), job.VisibleAt.UnixNano(),
			unixNano(job.CompletedAt), id); err != nil {
			return err
		}
		out = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	q.notify()
	return out, nil
}

// Defer re-queues a running job with its updated payload.
func (q *JobQueue) Defer(ctx context.Context, job *domain.SyncJob, until time.Time) error {
	payload, err := json.Marshal(job.Payload())
	if err != nil {
		return fmt.Errorf("marshalling payload: %w", err)
	}
	progress, err := json.Marshal(job.Progress)
	if err != nil {
		return fmt.Errorf("marshalling progress: %w", err)
	}
	err = q.store.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := runningJob(ctx, tx, job.ID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE jobs SET status = 'queued', payload = ?, progress = ?, last_error = ?,
				visible_at = ?, lease_until = NULL
			WHERE id = ?
		`, string(payload), string(progress), nullString(job.LastError), until.UnixNano(), job.ID)
		return err
	})
	if err != nil {
		return err
	}
	q.notify()
	return nil
}

// Heartbeat extends the lease of a running job.
func (q *JobQueue) Heartbeat(ctx context.Context, id string) error {
	return q.store.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := runningJob(ctx, tx, id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "UPDATE jobs SET lease_until = ? WHERE id = ?",
			time.Now().UTC().Add(q.opts.Visibility).UnixNano(), id)
		return err
	})
}

// Update persists progress counters.
func (q *JobQueue) Update(ctx context.Context, job *domain.SyncJob) error {
	progress, err := json.Marshal(job.Progress)
	if err != nil {
		return fmt.Errorf("marshalling progress: %w", err)
	}
	res, err := q.store.db.ExecContext(ctx, "UPDATE jobs SET progress = ? WHERE id = ?", string(progress), job.ID)
	if err != nil {
		return fmt.Errorf("updating job progress: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Get returns a job by ID.
func (q *JobQueue) Get(ctx context.Context, id string) (*domain.SyncJob, error) {
	row := q.store.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return job, err
}

// List returns jobs matching the filter, newest first.
func (q *JobQueue) List(ctx context.Context, filter domain.JobFilter) ([]domain.SyncJob, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1 = 1`
	var args []interface{}
	if filter.SourceID != "" {
		query += " AND source_id = ?"
		args = append(args, filter.SourceID)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.Queue != "" {
		query += " AND queue = ?"
		args = append(args, string(filter.Queue))
	}
	query += " ORDER BY seq DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := q.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.SyncJob //nolint:prealloc // size unknown from query
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating jobs: %w", err)
	}
	return jobs, nil
}

// DiscardQueued fails every queued job of a source.
func (q *JobQueue) DiscardQueued(ctx context.Context, sourceID, reason string) (int, error) {
	res, err := q.store.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'failed', last_error = ?, completed_at = ?
		WHERE source_id = ? AND status = 'queued'
	`, nullString(reason), time.Now().UTC().UnixNano(), sourceID)
	if err != nil {
		return 0, fmt.Errorf("discarding jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading rows affected: %w", err)
	}
	return int(n), nil
}

// Prune deletes terminal jobs completed before the cutoff.
func (q *JobQueue) Prune(ctx context.Context, before time.Time) (int, error) {
	res, err := q.store.db.ExecContext(ctx, `
		DELETE FROM jobs WHERE status IN ('completed', 'failed') AND completed_at < ?
	`, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("pruning jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading rows affected: %w", err)
	}
	return int(n), nil
}

// Close wakes blocked consumers. The underlying Store stays open.
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

func insertJob(ctx context.Context, tx *sql.Tx, job *domain.SyncJob) error {
	now := time.Now().UTC()
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

	payload, err := json.Marshal(job.Payload())
	if err != nil {
		return fmt.Errorf("marshalling payload: %w", err)
	}
	progress, err := json.Marshal(job.Progress)
	if err != nil {
		return fmt.Errorf("marshalling progress: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, job.ID, job.SourceID, string(job.Kind), string(job.Queue), string(job.Status), string(progress),
		job.Attempt, job.MaxAttempts, nullString(job.LastError), nullString(job.IdempotencyKey),
		string(payload), job.VisibleAt.UnixNano(), nil, job.QueuedAt.UnixNano(), nil, nil)
	return err
}

func getJob(ctx context.Context, tx *sql.Tx, id string) (*domain.SyncJob, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return job, err
}

func runningJob(ctx context.Context, tx *sql.Tx, id string) (*domain.SyncJob, error) {
	job, err := getJob(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.JobStatusRunning {
		return nil, fmt.Errorf("%w: job %s is %s", domain.ErrInvalidTransition, id, job.Status)
	}
	return job, nil
}

func scanJob(row rowScanner) (*domain.SyncJob, error) {
	var job domain.SyncJob
	var kind, queue, status, progressJSON, payloadJSON string
	var lastError, idemKey sql.NullString
	var visibleAt, leaseUntil, queuedAt, startedAt, completedAt sql.NullInt64
	if err := row.Scan(&job.ID, &job.SourceID, &kind, &queue, &status, &progressJSON,
		&job.Attempt, &job.MaxAttempts, &lastError, &idemKey, &payloadJSON,
		&visibleAt, &leaseUntil, &queuedAt, &startedAt, &completedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning job: %w", err)
	}

	if err := json.Unmarshal([]byte(progressJSON), &job.Progress); err != nil {
		return nil, fmt.Errorf("unmarshalling progress: %w", err)
	}
	var payload domain.JobPayload
	if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
		return nil, fmt.Errorf("unmarshalling payload: %w", err)
	}
	job.ApplyPayload(payload)

	job.Kind = domain.JobKind(kind)
	job.Queue = domain.QueueName(queue)
	job.Status = domain.JobStatus(status)
	job.LastError = lastError.String
	job.IdempotencyKey = idemKey.String
	job.VisibleAt = fromUnixNano(visibleAt)
	job.LeaseUntil = fromUnixNano(leaseUntil)
	job.QueuedAt = fromUnixNano(queuedAt)
	job.StartedAt = fromUnixNano(startedAt)
	job.CompletedAt = fromUnixNano(completedAt)
	return &job, nil
}
