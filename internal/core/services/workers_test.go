package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-sync/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/sercha-sync/internal/core/domain"
	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven"
)

// stubRunner returns a canned error per job ID.
type stubRunner struct {
	mu   sync.Mutex
	errs map[string]error
	ran  []string
}

func (r *stubRunner) RunJob(_ context.Context, job *domain.SyncJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ran = append(r.ran, job.ID)
	return r.errs[job.ID]
}

func (r *stubRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ran)
}

func leaseJob(t *testing.T, q *memory.JobQueue, id string) *domain.SyncJob {
	t.Helper()
	ctx := context.Background()
	_, err := q.Enqueue(ctx, domain.NewSyncJob(id, "src-"+id, domain.JobKindFull))
	require.NoError(t, err)
	job, err := q.Dequeue(ctx, domain.QueueSync)
	require.NoError(t, err)
	require.NotNil(t, job)
	return job
}

func TestWorkerPool_Handle(t *testing.T) {
	ctx := context.Background()

	t.Run("success acks", func(t *testing.T) {
		q := memory.NewJobQueue(driven.QueueOptions{})
		defer q.Close()
		pool := NewWorkerPool(q, &stubRunner{}, domain.QueueSync, 1)

		job := leaseJob(t, q, "ok")
		pool.handle(ctx, job)

		stored, err := q.Get(ctx, "ok")
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusCompleted, stored.Status)
	})

	t.Run("retryable failure requeues with backoff", func(t *testing.T) {
		q := memory.NewJobQueue(driven.QueueOptions{BackoffBase: time.Minute})
		defer q.Close()
		runner := &stubRunner{errs: map[string]error{"flaky": &domain.ProviderError{StatusCode: 502}}}
		pool := NewWorkerPool(q, runner, domain.QueueSync, 1)

		job := leaseJob(t, q, "flaky")
		pool.handle(ctx, job)

		stored, err := q.Get(ctx, "flaky")
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusQueued, stored.Status)
		assert.Equal(t, 1, stored.Attempt)
		assert.True(t, stored.VisibleAt.After(time.Now().Add(30*time.Second)))
		assert.NotEmpty(t, stored.LastError)
	})

	t.Run("auth failure fails immediately", func(t *testing.T) {
		q := memory.NewJobQueue(driven.QueueOptions{})
		defer q.Close()
		runner := &stubRunner{errs: map[string]error{"denied": domain.ErrAuth}}
		pool := NewWorkerPool(q, runner, domain.QueueSync, 1)

		job := leaseJob(t, q, "denied")
		pool.handle(ctx, job)

		stored, err := q.Get(ctx, "denied")
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusFailed, stored.Status)
	})

	t.Run("rate limit defers without an attempt", func(t *testing.T) {
		q := memory.NewJobQueue(driven.QueueOptions{})
		defer q.Close()
		reset := time.Now().Add(10 * time.Minute)
		runner := &stubRunner{errs: map[string]error{"limited": &domain.RateLimitError{ResetAt: reset}}}
		pool := NewWorkerPool(q, runner, domain.QueueSync, 1)

		job := leaseJob(t, q, "limited")
		pool.handle(ctx, job)

		stored, err := q.Get(ctx, "limited")
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusQueued, stored.Status)
		assert.Zero(t, stored.Attempt)
		assert.WithinDuration(t, reset, stored.VisibleAt, 2*time.Second)
	})

	t.Run("shutdown leaves the lease", func(t *testing.T) {
		q := memory.NewJobQueue(driven.QueueOptions{})
		defer q.Close()
		runner := &stubRunner{errs: map[string]error{"cut": context.Canceled}}
		pool := NewWorkerPool(q, runner, domain.QueueSync, 1)

		job := leaseJob(t, q, "cut")
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		pool.handle(cancelled, job)

		stored, err := q.Get(ctx, "cut")
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusRunning, stored.Status)
	})
}

func TestWorkerPool_RunDrainsQueue(t *testing.T) {
	q := memory.NewJobQueue(driven.QueueOptions{PollInterval: 10 * time.Millisecond})
	runner := &stubRunner{errs: map[string]error{}}
	pool := NewWorkerPool(q, runner, domain.QueueSync, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, id := range []string{"a", "b", "c"} {
		_, err := q.Enqueue(ctx, domain.NewSyncJob(id, "src-"+id, domain.JobKindFull))
		require.NoError(t, err)
	}

	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	require.Eventually(t, func() bool { return runner.count() == 3 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, q.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not stop after queue close")
	}

	for _, id := range []string{"a", "b", "c"} {
		job, err := q.Get(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusCompleted, job.Status, id)
	}
}

func TestWorkerPool_DefaultsSize(t *testing.T) {
	pool := NewWorkerPool(nil, &stubRunner{}, domain.QueueProcess, 0)
	assert.Equal(t, 1, pool.size)
}
