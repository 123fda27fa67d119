// Package queuetest holds a conformance suite shared by every JobQueue backend.
package queuetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven"
)

// Factory builds an empty queue for one subtest.
type Factory func(t *testing.T, opts driven.QueueOptions) driven.JobQueue

// Options used by the suite. Short enough to keep the suite fast.
var Options = driven.QueueOptions{
	Visibility:   300 * time.Millisecond,
	BackoffBase:  20 * time.Millisecond,
	PollInterval: 5 * time.Millisecond,
}

// Run executes the conformance suite against a backend.
func Run(t *testing.T, factory Factory) {
	t.Run("EnqueueDequeueAck", func(t *testing.T) { testEnqueueDequeueAck(t, factory) })
	t.Run("PerSourceExclusivity", func(t *testing.T) { testPerSourceExclusivity(t, factory) })
	t.Run("ExclusivityAcrossQueues", func(t *testing.T) { testExclusivityAcrossQueues(t, factory) })
	t.Run("IdempotencyKey", func(t *testing.T) { testIdempotencyKey(t, factory) })
	t.Run("Coalesce", func(t *testing.T) { testCoalesce(t, factory) })
	t.Run("CoalesceSkipsStartedJobs", func(t *testing.T) { testCoalesceSkipsStarted(t, factory) })
	t.Run("RetryUntilExhausted", func(t *testing.T) { testRetryUntilExhausted(t, factory) })
	t.Run("NonRetryableFailsFast", func(t *testing.T) { testNonRetryable(t, factory) })
	t.Run("DeferKeepsAttempt", func(t *testing.T) { testDefer(t, factory) })
	t.Run("ExpiredLeaseBecomesVisible", func(t *testing.T) { testLeaseExpiry(t, factory) })
	t.Run("DequeueReturnsOnCancel", func(t *testing.T) { testDequeueCancel(t, factory) })
	t.Run("DiscardAndPrune", func(t *testing.T) { testDiscardAndPrune(t, factory) })
	t.Run("ConcurrentWorkers", func(t *testing.T) { testConcurrentWorkers(t, factory) })
}

func dequeue(t *testing.T, q driven.JobQueue, queue domain.QueueName, wait time.Duration) *domain.SyncJob {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	job, err := q.Dequeue(ctx, queue)
	require.NoError(t, err)
	return job
}

func testEnqueueDequeueAck(t *testing.T, factory Factory) {
	q := factory(t, Options)
	ctx := context.Background()

	id1, err := q.Enqueue(ctx, domain.NewSyncJob("", "s1", domain.JobKindFull))
	require.NoError(t, err)
	require.NotEmpty(t, id1)
	id2, err := q.Enqueue(ctx, domain.NewSyncJob("", "s2", domain.JobKindFull))
	require.NoError(t, err)

	job := dequeue(t, q, domain.QueueSync, time.Second)
	require.NotNil(t, job)
	assert.Equal(t, id1, job.ID)
	assert.Equal(t, domain.JobStatusRunning, job.Status)
	assert.False(t, job.LeaseUntil.IsZero())

	require.NoError(t, q.Ack(ctx, id1))
	got, err := q.Get(ctx, id1)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)

	// Acking twice is an invalid transition.
	assert.ErrorIs(t, q.Ack(ctx, id1), domain.ErrInvalidTransition)

	job = dequeue(t, q, domain.QueueSync, time.Second)
	require.NotNil(t, job)
	assert.Equal(t, id2, job.ID)
}

func testPerSourceExclusivity(t *testing.T, factory Factory) {
	q := factory(t, Options)
	ctx := context.Background()

	first, err := q.Enqueue(ctx, domain.NewSyncJob("", "s1", domain.JobKindFull))
	require.NoError(t, err)
	second, err := q.Enqueue(ctx, domain.NewSyncJob("", "s1", domain.JobKindFull))
	require.NoError(t, err)
	other, err := q.Enqueue(ctx, domain.NewSyncJob("", "s2", domain.JobKindFull))
	require.NoError(t, err)

	job := dequeue(t, q, domain.QueueSync, time.Second)
	require.NotNil(t, job)
	assert.Equal(t, first, job.ID)

	// s1 is busy, so the next job handed out belongs to s2.
	job = dequeue(t, q, domain.QueueSync, time.Second)
	require.NotNil(t, job)
	assert.Equal(t, other, job.ID)

	assert.Nil(t, dequeue(t, q, domain.QueueSync, 50*time.Millisecond))

	require.NoError(t, q.Ack(ctx, first))
	job = dequeue(t, q, domain.QueueSync, time.Second)
	require.NotNil(t, job)
	assert.Equal(t, second, job.ID)
}

func testExclusivityAcrossQueues(t *testing.T, factory Factory) {
	q := factory(t, Options)
	ctx := context.Background()

	syncID, err := q.Enqueue(ctx, domain.NewSyncJob("", "s1", domain.JobKindFull))
	require.NoError(t, err)
	single := domain.NewSyncJob("", "s1", domain.JobKindSingleFile)
	single.Paths = []string{"a.go"}
	_, err = q.Enqueue(ctx, single)
	require.NoError(t, err)

	require.NotNil(t, dequeue(t, q, domain.QueueSync, time.Second))
	assert.Nil(t, dequeue(t, q, domain.QueueProcess, 50*time.Millisecond))

	require.NoError(t, q.Ack(ctx, syncID))
	job := dequeue(t, q, domain.QueueProcess, time.Second)
	require.NotNil(t, job)
	assert.Equal(t, []string{"a.go"}, job.Paths)
}

func testIdempotencyKey(t *testing.T, factory Factory) {
	q := factory(t, Options)
	ctx := context.Background()

	a := domain.NewSyncJob("", "s1", domain.JobKindFull)
	a.IdempotencyKey = "connect:s1"
	id1, err := q.Enqueue(ctx, a)
	require.NoError(t, err)

	b := domain.NewSyncJob("", "s1", domain.JobKindFull)
	b.IdempotencyKey = "connect:s1"
	id2, err := q.Enqueue(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	jobs, err := q.List(ctx, domain.JobFilter{SourceID: "s1"})
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func testCoalesce(t *testing.T, factory Factory) {
	q := factory(t, Options)
	ctx := context.Background()

	a := domain.NewSyncJob("", "s1", domain.JobKindIncremental)
	a.Changes = []domain.FileChange{{Path: "a.go", Kind: domain.ChangeModified, Sequence: 1}}
	id1, merged, err := q.EnqueueOrCoalesce(ctx, a)
	require.NoError(t, err)
	assert.False(t, merged)

	b := domain.NewSyncJob("", "s1", domain.JobKindIncremental)
	b.Changes = []domain.FileChange{
		{Path: "a.go", Kind: domain.ChangeRemoved, Sequence: 2},
		{Path: "b.go", Kind: domain.ChangeAdded, Sequence: 3},
	}
	id2, merged, err := q.EnqueueOrCoalesce(ctx, b)
	require.NoError(t, err)
	assert.True(t, merged)
	assert.Equal(t, id1, id2)

	job, err := q.Get(ctx, id1)
	require.NoError(t, err)
	require.Len(t, job.Changes, 2)
	assert.Equal(t, domain.ChangeRemoved, job.Changes[0].Kind)

	// Once running, new events create a fresh job.
	require.NotNil(t, dequeue(t, q, a.Queue, time.Second))
	c := domain.NewSyncJob("", "s1", domain.JobKindIncremental)
	c.UseChangeFeed = true
	id3, merged, err := q.EnqueueOrCoalesce(ctx, c)
	require.NoError(t, err)
	assert.False(t, merged)
	assert.NotEqual(t, id1, id3)
}

func testCoalesceSkipsStarted(t *testing.T, factory Factory) {
	ctx := context.Background()

	t.Run("deferred continuation", func(t *testing.T) {
		q := factory(t, Options)
		first := domain.NewSyncJob("", "s1", domain.JobKindIncremental)
		first.UseChangeFeed = true
		id, _, err := q.EnqueueOrCoalesce(ctx, first)
		require.NoError(t, err)

		job := dequeue(t, q, first.Queue, time.Second)
		require.NotNil(t, job)
		job.Resume = &domain.ResumePoint{RunID: "run-1", Next: 1, Listed: []domain.FileInfo{{Path: "x.go"}, {Path: "y.go"}}}
		require.NoError(t, q.Defer(ctx, job, time.Now().Add(time.Hour)))

		push := domain.NewSyncJob("", "s1", domain.JobKindIncremental)
		push.Changes = []domain.FileChange{{Path: "a.go", Kind: domain.ChangeModified, Sequence: 7}}
		pushID, merged, err := q.EnqueueOrCoalesce(ctx, push)
		require.NoError(t, err)
		assert.False(t, merged)
		assert.NotEqual(t, id, pushID)

		deferred, err := q.Get(ctx, id)
		require.NoError(t, err)
		assert.Empty(t, deferred.Changes)
	})

	t.Run("retry after failure", func(t *testing.T) {
		q := factory(t, Options)
		first := domain.NewSyncJob("", "s1", domain.JobKindIncremental)
		first.Changes = []domain.FileChange{{Path: "a.go", Kind: domain.ChangeModified, Sequence: 1}}
		id, _, err := q.EnqueueOrCoalesce(ctx, first)
		require.NoError(t, err)
		require.NotNil(t, dequeue(t, q, first.Queue, time.Second))

		failed, err := q.Fail(ctx, id, &domain.ProviderError{StatusCode: 502})
		require.NoError(t, err)
		require.Equal(t, domain.JobStatusQueued, failed.Status)

		next := domain.NewSyncJob("", "s1", domain.JobKindIncremental)
		next.Changes = []domain.FileChange{{Path: "b.go", Kind: domain.ChangeAdded, Sequence: 2}}
		_, merged, err := q.EnqueueOrCoalesce(ctx, next)
		require.NoError(t, err)
		assert.False(t, merged)
	})
}

func testRetryUntilExhausted(t *testing.T, factory Factory) {
	q := factory(t, Options)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, domain.NewSyncJob("", "s1", domain.JobKindFull))
	require.NoError(t, err)

	cause := &domain.ProviderError{Provider: domain.ProviderGitHub, StatusCode: 502, Message: "bad gateway"}
	for attempt := 1; attempt <= domain.DefaultMaxAttempts; attempt++ {
		job := dequeue(t, q, domain.QueueSync, 2*time.Second)
		require.NotNil(t, job, "attempt %d", attempt)
		assert.Equal(t, id, job.ID)

		failed, err := q.Fail(ctx, id, cause)
		require.NoError(t, err)
		assert.Equal(t, attempt, failed.Attempt)
		if attempt < domain.DefaultMaxAttempts {
			assert.Equal(t, domain.JobStatusQueued, failed.Status)
			assert.True(t, failed.VisibleAt.After(time.Now().Add(-time.Millisecond)))
		} else {
			assert.Equal(t, domain.JobStatusFailed, failed.Status)
			assert.Contains(t, failed.LastError, "bad gateway")
		}
	}
	assert.Nil(t, dequeue(t, q, domain.QueueSync, 100*time.Millisecond))
}

func testNonRetryable(t *testing.T, factory Factory) {
	q := factory(t, Options)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, domain.NewSyncJob("", "s1", domain.JobKindFull))
	require.NoError(t, err)
	require.NotNil(t, dequeue(t, q, domain.QueueSync, time.Second))

	failed, err := q.Fail(ctx, id, fmt.Errorf("validate: %w", domain.ErrAuth))
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, failed.Status)
	assert.Equal(t, 1, failed.Attempt)
}

func testDefer(t *testing.T, factory Factory) {
	q := factory(t, Options)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, domain.NewSyncJob("", "s1", domain.JobKindFull))
	require.NoError(t, err)
	job := dequeue(t, q, domain.QueueSync, time.Second)
	require.NotNil(t, job)

	job.Resume = &domain.ResumePoint{RunID: "run-1", Next: 2, Listed: []domain.FileInfo{{Path: "a"}, {Path: "b"}, {Path: "c"}}}
	job.Progress.FilesProcessed = 2
	require.NoError(t, q.Defer(ctx, job, time.Now().Add(50*time.Millisecond)))

	got, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusQueued, got.Status)
	assert.Zero(t, got.Attempt)
	require.NotNil(t, got.Resume)
	assert.Equal(t, 2, got.Resume.Next)

	job = dequeue(t, q, domain.QueueSync, 2*time.Second)
	require.NotNil(t, job)
	assert.Equal(t, id, job.ID)
	require.NotNil(t, job.Resume)
	assert.Len(t, job.Resume.Listed, 3)
	assert.Equal(t, 2, job.Progress.FilesProcessed)
}

func testLeaseExpiry(t *testing.T, factory Factory) {
	opts := Options
	opts.Visibility = 50 * time.Millisecond
	q := factory(t, opts)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, domain.NewSyncJob("", "s1", domain.JobKindFull))
	require.NoError(t, err)
	require.NotNil(t, dequeue(t, q, domain.QueueSync, time.Second))

	job := dequeue(t, q, domain.QueueSync, 2*time.Second)
	require.NotNil(t, job)
	assert.Equal(t, id, job.ID)
}

func testDequeueCancel(t *testing.T, factory Factory) {
	q := factory(t, Options)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		job, err := q.Dequeue(ctx, domain.QueueSync)
		assert.NoError(t, err)
		assert.Nil(t, job)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dequeue did not return after cancel")
	}
}

func testDiscardAndPrune(t *testing.T, factory Factory) {
	q := factory(t, Options)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, domain.NewSyncJob("", "s1", domain.JobKindFull))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, domain.NewSyncJob("", "s1", domain.JobKindIncremental))
	require.NoError(t, err)
	keep, err := q.Enqueue(ctx, domain.NewSyncJob("", "s2", domain.JobKindFull))
	require.NoError(t, err)

	n, err := q.DiscardQueued(ctx, "s1", "source disconnected")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	failed, err := q.List(ctx, domain.JobFilter{SourceID: "s1", Status: domain.JobStatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 2)
	assert.Equal(t, "source disconnected", failed[0].LastError)

	n, err = q.Prune(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	jobs, err := q.List(ctx, domain.JobFilter{})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, keep, jobs[0].ID)

	_, err = q.Get(ctx, "missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func testConcurrentWorkers(t *testing.T, factory Factory) {
	q := factory(t, Options)
	ctx := context.Background()

	const sources, perSource = 3, 4
	for i := 0; i < perSource; i++ {
		for s := 0; s < sources; s++ {
			_, err := q.Enqueue(ctx, domain.NewSyncJob("", fmt.Sprintf("s%d", s), domain.JobKindFull))
			require.NoError(t, err)
		}
	}

	var mu sync.Mutex
	active := make(map[string]int)
	violations := 0
	processed := 0

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job := dequeue(t, q, domain.QueueSync, 200*time.Millisecond)
				if job == nil {
					return
				}
				mu.Lock()
				active[job.SourceID]++
				if active[job.SourceID] > 1 {
					violations++
				}
				mu.Unlock()

				time.Sleep(5 * time.Millisecond)

				mu.Lock()
				active[job.SourceID]--
				processed++
				mu.Unlock()
				assert.NoError(t, q.Ack(ctx, job.ID))
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, violations)
	assert.Equal(t, sources*perSource, processed)
}
