package postgres

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

// dequeueLockKey serialises lease selection across processes so that two
// workers never start jobs of the same source on different queues.
const dequeueLockKey = 0x5e5c4a

// JobQueue is a driven.JobQueue shared by every process using the same database.
type JobQueue struct {
	conn  *conn
	table string
	opts  driven.QueueOptions

	mu     sync.Mutex
	wake   chan struct{}
	done   chan struct{}
	closed bool
}

var _ driven.JobQueue = (*JobQueue)(nil)

// NewJobQueue creates a queue backed by the database at dsn.
// The connection is opened on first use.
func NewJobQueue(dsn string, opts driven.QueueOptions) (*JobQueue, error) {
	table := quoteIdentifier(jobsTableName)
	c, err := newConn(dsn,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			seq             BIGSERIAL PRIMARY KEY,
			id              TEXT NOT NULL UNIQUE,
			source_id       TEXT NOT NULL,
			kind            TEXT NOT NULL,
			queue           TEXT NOT NULL,
			status          TEXT NOT NULL,
			progress        TEXT NOT NULL DEFAULT '{}',
			attempt         INTEGER NOT NULL DEFAULT 0,
			max_attempts    INTEGER NOT NULL DEFAULT 3,
			last_error      TEXT,
			idempotency_key TEXT,
			payload         TEXT NOT NULL DEFAULT '{}',
			visible_at      TIMESTAMPTZ NOT NULL,
			lease_until     TIMESTAMPTZ,
			queued_at       TIMESTAMPTZ NOT NULL,
			started_at      TIMESTAMPTZ,
			completed_at    TIMESTAMPTZ
		)`, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS sercha_sync_jobs_dequeue ON %s (queue, status, visible_at)`, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS sercha_sync_jobs_source ON %s (source_id, status)`, table),
	)
	if err != nil {
		return nil, err
	}
	return &JobQueue{
		conn:  c,
		table: table,
		opts:  opts.WithDefaults(),
		wake:  make(chan struct{}),
		done:  make(chan struct{}),
	}, nil
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
	err := q.conn.withTx(ctx, func(tx *sql.Tx) error {
		if job.IdempotencyKey != "" {
			// Serialise enqueues of the same key.
			if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, job.IdempotencyKey); err != nil {
				return err
			}
			err := tx.QueryRowContext(ctx, fmt.Sprintf(`
				SELECT id FROM %s WHERE idempotency_key = $1 AND status IN ('queued', 'running')
				ORDER BY seq LIMIT 1`, q.table), job.IdempotencyKey).Scan(&id)
			if err == nil {
				return nil
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return err
			}
		}
		if err := q.insert(ctx, tx, job); err != nil {
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
	err := q.conn.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, fmt.Sprintf(`
			SELECT %s FROM %s
			WHERE source_id = $1 AND kind = $2 AND status = 'queued' AND started_at IS NULL
			ORDER BY seq LIMIT 1 FOR UPDATE`, jobColumns, q.table),
			job.SourceID, string(domain.JobKindIncremental))
		existing, err := scanJob(row)
		if err == nil && !existing.Coalescable() {
			err = sql.ErrNoRows
		}
		if errors.Is(err, sql.ErrNoRows) {
			if err := q.insert(ctx, tx, job); err != nil {
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
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET payload = $1 WHERE id = $2`, q.table),
			string(payload), existing.ID); err != nil {
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

// Dequeue blocks until a job can be leased.
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

func (q *JobQueue) lease(ctx context.Context, queue domain.QueueName) (*domain.SyncJob, error) {
	var job *domain.SyncJob
	err := q.conn.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, dequeueLockKey); err != nil {
			return err
		}
		now := time.Now().UTC()

		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
			UPDATE %s SET status = 'queued', visible_at = $1, lease_until = NULL
			WHERE status = 'running' AND lease_until < $1`, q.table), now); err != nil {
			return err
		}

		row := tx.QueryRowContext(ctx, fmt.Sprintf(`
			SELECT j.id FROM %[1]s j
			WHERE j.queue = $1 AND j.status = 'queued' AND j.visible_at <= $2
				AND NOT EXISTS (
					SELECT 1 FROM %[1]s r WHERE r.source_id = j.source_id AND r.status = 'running')
				AND NOT EXISTS (
					SELECT 1 FROM %[1]s e WHERE e.source_id = j.source_id AND e.queue = j.queue
						AND e.status = 'queued' AND e.seq < j.seq)
			ORDER BY j.seq LIMIT 1
			FOR UPDATE SKIP LOCKED`, q.table), string(queue), now)
		var id string
		if err := row.Scan(&id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return err
		}

		row = tx.QueryRowContext(ctx, fmt.Sprintf(`
			UPDATE %s SET status = 'running', started_at = $1, lease_until = $2
			WHERE id = $3 RETURNING %s`, q.table, jobColumns),
			now, now.Add(q.opts.Visibility), id)
		var err error
		job, err = scanJob(row)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("dequeueing job: %w", err)
	}
	return job, nil
}

// Ack marks a running job completed.
func (q *JobQueue) Ack(ctx context.Context, id string) error {
	err := q.conn.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := q.running(ctx, tx, id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, fmt.Sprintf(`
			UPDATE %s SET status = 'completed', completed_at = $1, lease_until = NULL WHERE id = $2`, q.table),
			time.Now().UTC(), id)
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
	err := q.conn.withTx(ctx, func(tx *sql.Tx) error {
		job, err := q.running(ctx, tx, id)
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
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
			UPDATE %s SET status = $1, attempt = $2, last_error = $3, visible_at = $4,
				lease_until = NULL, completed_at = $5
			WHERE id = $6`, q.table),
			string(job.Status), job.Attempt, nullString(job.LastError), job.VisibleAt,
			nullTime(job.CompletedAt), id); err != nil {
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
	err = q.conn.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := q.running(ctx, tx, job.ID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, fmt.Sprintf(`
			UPDATE %s SET status = 'queued', payload = $1, progress = $2, last_error = $3,
				visible_at = $4, lease_until = NULL
			WHERE id = $5`, q.table),
			string(payload), string(progress), nullString(job.LastError), until.UTC(), job.ID)
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
	return q.conn.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := q.running(ctx, tx, id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET lease_until = $1 WHERE id = $2`, q.table),
			time.Now().UTC().Add(q.opts.Visibility), id)
		return err
	})
}

// Update persists progress counters.
func (q *JobQueue) Update(ctx context.Context, job *domain.SyncJob) error {
	if err := q.conn.ensureReady(); err != nil {
		return err
	}
	progress, err := json.Marshal(job.Progress)
	if err != nil {
		return fmt.Errorf("marshalling progress: %w", err)
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	res, err := q.conn.db.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET progress = $1 WHERE id = $2`, q.table),
		string(progress), job.ID)
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
	if err := q.conn.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	row := q.conn.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, jobColumns, q.table), id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return job, err
}

// List returns jobs matching the filter, newest first.
func (q *JobQueue) List(ctx context.Context, filter domain.JobFilter) ([]domain.SyncJob, error) {
	if err := q.conn.ensureReady(); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE TRUE`, jobColumns, q.table)
	var args []interface{}
	if filter.SourceID != "" {
		args = append(args, filter.SourceID)
		query += fmt.Sprintf(" AND source_id = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.Queue != "" {
		args = append(args, string(filter.Queue))
		query += fmt.Sprintf(" AND queue = $%d", len(args))
	}
	query += " ORDER BY seq DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()
	rows, err := q.conn.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.SyncJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// DiscardQueued fails every queued job of a source.
func (q *JobQueue) DiscardQueued(ctx context.Context, sourceID, reason string) (int, error) {
	return q.exec(ctx, fmt.Sprintf(`
		UPDATE %s SET status = 'failed', last_error = $1, completed_at = $2
		WHERE source_id = $3 AND status = 'queued'`, q.table),
		nullString(reason), time.Now().UTC(), sourceID)
}

// Prune deletes terminal jobs completed before the cutoff.
func (q *JobQueue) Prune(ctx context.Context, before time.Time) (int, error) {
	return q.exec(ctx, fmt.Sprintf(`
		DELETE FROM %s WHERE status IN ('completed', 'failed') AND completed_at < $1`, q.table), before.UTC())
}

// Close wakes blocked consumers and closes the connection.
func (q *JobQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.done)
	q.mu.Unlock()
	return q.conn.close()
}

func (q *JobQueue) exec(ctx context.Context, query string, args ...interface{}) (int, error) {
	if err := q.conn.ensureReady(); err != nil {
		return 0, err
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	res, err := q.conn.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (q *JobQueue) insert(ctx context.Context, tx *sql.Tx, job *domain.SyncJob) error {
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
	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NULL, $13, NULL, NULL)`, q.table, jobColumns),
		job.ID, job.SourceID, string(job.Kind), string(job.Queue), string(job.Status), string(progress),
		job.Attempt, job.MaxAttempts, nullString(job.LastError), nullString(job.IdempotencyKey),
		string(payload), job.VisibleAt.UTC(), job.QueuedAt.UTC())
	return err
}

func (q *JobQueue) running(ctx context.Context, tx *sql.Tx, id string) (*domain.SyncJob, error) {
	row := tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1 FOR UPDATE`, jobColumns, q.table), id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if job.Status != domain.JobStatusRunning {
		return nil, fmt.Errorf("%w: job %s is %s", domain.ErrInvalidTransition, id, job.Status)
	}
	return job, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*domain.SyncJob, error) {
	var job domain.SyncJob
	var kind, queue, status, progressJSON, payloadJSON string
	var lastError, idemKey sql.NullString
	var visibleAt, leaseUntil, queuedAt, startedAt, completedAt sql.NullTime
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
	job.VisibleAt = fromNullTime(visibleAt)
	job.LeaseUntil = fromNullTime(leaseUntil)
	job.QueuedAt = fromNullTime(queuedAt)
	job.StartedAt = fromNullTime(startedAt)
	job.CompletedAt = fromNullTime(completedAt)
	return &job, nil
}
