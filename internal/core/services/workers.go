package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-sync/internal/logger"
)

// JobRunner executes one leased job.
type JobRunner interface {
	RunJob(ctx context.Context, job *domain.SyncJob) error
}

// WorkerPool drains one logical queue with a fixed number of workers.
type WorkerPool struct {
	queue  driven.JobQueue
	runner JobRunner
	name   domain.QueueName
	size   int
	now    func() time.Time

	// retryDelay is the pause after a failed dequeue.
	retryDelay time.Duration
}

// NewWorkerPool creates a pool of size workers for the named queue.
func NewWorkerPool(queue driven.JobQueue, runner JobRunner, name domain.QueueName, size int) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	return &WorkerPool{
		queue:      queue,
		runner:     runner,
		name:       name,
		size:       size,
		now:        time.Now,
		retryDelay: time.Second,
	}
}

// Run starts the workers and blocks until ctx is cancelled or the queue
// closes, then waits for in-flight jobs to return.
func (p *WorkerPool) Run(ctx context.Context) error {
	ctx = logger.WithField(ctx, logger.FieldComponent, "worker:"+string(p.name))
	logger.CtxInfo(ctx, "starting %d workers", p.size)

	var wg sync.WaitGroup
	for i := 0; i < p.size; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.loop(ctx)
		}()
	}
	wg.Wait()

	logger.CtxInfo(ctx, "workers stopped")
	return nil
}

func (p *WorkerPool) loop(ctx context.Context) {
	for {
		job, err := p.queue.Dequeue(ctx, p.name)
		if err != nil {
			if errors.Is(err, domain.ErrQueueClosed) {
				return
			}
			logger.CtxError(ctx, "dequeue failed: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.retryDelay):
			}
			continue
		}
		if job == nil {
			return
		}
		p.handle(ctx, job)
	}
}

// handle runs a job and settles its lease.
func (p *WorkerPool) handle(ctx context.Context, job *domain.SyncJob) {
	jobCtx := logger.WithFields(ctx, logger.Fields{
		logger.FieldJobID:    job.ID,
		logger.FieldSourceID: job.SourceID,
	})

	runErr := p.runner.RunJob(jobCtx, job)

	// Settle even when shutting down, except for jobs the shutdown itself
	// interrupted. Their lease lapses and another worker resumes them.
	settleCtx := context.WithoutCancel(jobCtx)
	if runErr == nil {
		if err := p.queue.Ack(settleCtx, job.ID); err != nil {
			logger.CtxError(jobCtx, "ack failed: %v", err)
		}
		return
	}
	if ctx.Err() != nil && errors.Is(runErr, context.Canceled) {
		logger.CtxInfo(jobCtx, "job interrupted by shutdown, lease left to expire")
		return
	}

	if wait, ok := domain.RetryAfter(runErr, p.now()); ok {
		until := p.now().Add(wait)
		if err := p.queue.Defer(settleCtx, job, until); err != nil {
			logger.CtxError(jobCtx, "defer failed: %v", err)
			return
		}
		logger.CtxInfo(jobCtx, "job deferred until %s", until.Format(time.RFC3339))
		return
	}

	failed, err := p.queue.Fail(settleCtx, job.ID, runErr)
	if err != nil {
		logger.CtxError(jobCtx, "fail failed: %v", err)
		return
	}
	if failed.Status == domain.JobStatusFailed {
		logger.CtxError(jobCtx, "job failed after %d attempts: %v", failed.Attempt, runErr)
	} else {
		logger.CtxWarn(jobCtx, "job attempt %d failed, retrying at %s: %v",
			failed.Attempt, failed.VisibleAt.Format(time.RFC3339), runErr)
	}
}
