package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-sync/internal/logger"
)

// workItem is one path a job visits.
type workItem struct {
	info   domain.FileInfo
	change domain.FileChange
	remove bool
	force  bool
}

// RunJob executes a dequeued job against its source. A rate-limited job
// returns an error matching domain.ErrRateLimited with its payload updated
// so the caller can defer it and resume later.
func (o *SyncOrchestrator) RunJob(ctx context.Context, job *domain.SyncJob) error {
	ctx = logger.WithFields(ctx, logger.Fields{
		logger.FieldJobID:    job.ID,
		logger.FieldSourceID: job.SourceID,
	})

	source, err := o.sources.Get(ctx, job.SourceID)
	if err != nil {
		return fmt.Errorf("get source: %w", err)
	}
	if source.IsDeleted() {
		return domain.ErrSourceDisconnected
	}

	if err := o.begin(ctx, job, source); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	run := &activeRun{jobID: job.ID, done: make(chan struct{}), progress: job.Progress}
	o.mu.Lock()
	o.active[source.ID] = run
	o.mu.Unlock()
	defer func() {
		cancel()
		o.mu.Lock()
		delete(o.active, source.ID)
		o.mu.Unlock()
		close(run.done)
	}()

	go o.heartbeat(runCtx, job.ID)

	start := o.now()
	logger.CtxInfo(ctx, "running %s job (attempt %d)", job.Kind, job.Attempt+1)

	cursor, runErr := o.execute(runCtx, run, job, source)
	if run.stopped.Load() {
		runErr = domain.ErrSourceDisconnected
	}

	// Bookkeeping must land even when the worker is shutting down.
	return o.finish(context.WithoutCancel(ctx), job, run, cursor, runErr, o.now().Sub(start))
}

// begin moves the source to syncing. Continuations and retries may find it
// still syncing from the interrupted run.
func (o *SyncOrchestrator) begin(ctx context.Context, job *domain.SyncJob, source *domain.Source) error {
	from := []domain.SourceStatus{
		domain.SourceStatusPending,
		domain.SourceStatusSynced,
		domain.SourceStatusError,
	}
	if job.Resume != nil || job.Attempt > 0 {
		from = append(from, domain.SourceStatusSyncing)
	}

	ok, err := o.sources.CompareAndSetStatus(ctx, source.ID, from, domain.SourceStatusSyncing)
	if err != nil {
		return fmt.Errorf("set syncing: %w", err)
	}
	if ok {
		return nil
	}

	o.mu.Lock()
	_, local := o.active[source.ID]
	o.mu.Unlock()
	if local {
		return domain.ErrSyncInProgress
	}

	// The queue never leases two jobs of one source, so a syncing source
	// without a run here belongs to a paused or interrupted job.
	logger.CtxDebug(ctx, "source %s already %s, continuing", source.ID, source.Status)
	return nil
}

func (o *SyncOrchestrator) execute(
	ctx context.Context,
	run *activeRun,
	job *domain.SyncJob,
	source *domain.Source,
) (string, error) {
	conn, err := o.factory.Create(ctx, *source)
	if err != nil {
		return "", fmt.Errorf("create connector: %w", err)
	}
	defer conn.Close()

	switch job.Kind {
	case domain.JobKindFull:
		return o.runFull(ctx, run, job, source, conn)
	case domain.JobKindIncremental:
		return o.runIncremental(ctx, run, job, source, conn)
	case domain.JobKindSingleFile:
		return "", o.runPaths(ctx, run, job, source, conn)
	default:
		return "", fmt.Errorf("%w: unknown job kind %q", domain.ErrInvalidInput, job.Kind)
	}
}

// finish records the outcome on the job and the source.
func (o *SyncOrchestrator) finish(
	ctx context.Context,
	job *domain.SyncJob,
	run *activeRun,
	cursor string,
	runErr error,
	elapsed time.Duration,
) error {
	job.Progress = run.snapshot()
	if err := o.queue.Update(ctx, job); err != nil {
		logger.CtxWarn(ctx, "failed to save progress: %v", err)
	}

	source, err := o.sources.Get(ctx, job.SourceID)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && source.IsDeleted()) {
		// Disconnected mid-run, possibly by another process. Drop what
		// this run wrote after the disconnect purged the source.
		o.purge(ctx, job.SourceID)
		return domain.ErrSourceDisconnected
	}
	if err != nil {
		return errors.Join(runErr, fmt.Errorf("reload source: %w", err))
	}

	p := job.Progress
	fields := logger.Fields{
		logger.FieldDurationMs: elapsed.Milliseconds(),
		logger.FieldCount:      p.FilesProcessed,
	}

	switch {
	case runErr == nil:
		source.Status = domain.SourceStatusSynced
		source.LastSyncAt = o.now()
		source.LastError = ""
		if cursor != "" && job.Kind != domain.JobKindSingleFile {
			source.Cursor = cursor
		}
		logger.FromContext(ctx).WithFields(fields).Infof(
			"%s sync finished: %d processed, %d skipped, %d deleted, %d errors",
			job.Kind, p.FilesProcessed, p.FilesSkipped, p.FilesDeleted, p.Errors)

	case errors.Is(runErr, domain.ErrRateLimited), errors.Is(runErr, context.Canceled):
		// The job continues later, the source stays syncing.
		logger.FromContext(ctx).WithFields(fields).Infof("%s sync paused: %v", job.Kind, runErr)
		return runErr

	default:
		source.Status = domain.SourceStatusError
		source.LastError = runErr.Error()
		logger.FromContext(ctx).WithFields(fields).Errorf("%s sync failed: %v", job.Kind, runErr)
	}

	source.UpdatedAt = o.now()
	if err := o.sources.Save(ctx, *source); err != nil {
		return errors.Join(runErr, fmt.Errorf("save source: %w", err))
	}
	return runErr
}

func (o *SyncOrchestrator) purge(ctx context.Context, sourceID string) {
	if _, err := o.files.DeleteBySource(ctx, sourceID); err != nil {
		logger.CtxWarn(ctx, "failed to delete file records of %s: %v", sourceID, err)
	}
	if _, err := o.retention.RemoveSource(ctx, sourceID); err != nil {
		logger.CtxWarn(ctx, "failed to remove chunks of %s: %v", sourceID, err)
	}
}

// halted reports whether the run must stop taking new work. The source
// record is the authority since a disconnect may come from another process.
func (o *SyncOrchestrator) halted(ctx context.Context, run *activeRun, sourceID string) bool {
	if run.stopped.Load() {
		return true
	}
	source, err := o.sources.Get(ctx, sourceID)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && source.IsDeleted()) {
		run.stop()
		return true
	}
	return false
}

func (o *SyncOrchestrator) heartbeat(ctx context.Context, jobID string) {
	ticker := time.NewTicker(o.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := o.queue.Heartbeat(ctx, jobID); err != nil && ctx.Err() == nil {
				logger.CtxWarn(ctx, "heartbeat failed: %v", err)
			}
		}
	}
}

// runFull lists the source, processes every file and removes records of
// files no longer listed. A continuation resumes the stored listing.
func (o *SyncOrchestrator) runFull(
	ctx context.Context,
	run *activeRun,
	job *domain.SyncJob,
	source *domain.Source,
	conn driven.Connector,
) (string, error) {
	resume := job.Resume
	if resume == nil {
		listed, cursor, err := o.list(ctx, conn, domain.NewFileFilter(source.Config))
		if err != nil {
			return "", fmt.Errorf("list files: %w", err)
		}
		resume = &domain.ResumePoint{RunID: uuid.New().String(), Listed: listed, Cursor: cursor}
		run.mu.Lock()
		run.progress = domain.JobProgress{}
		run.mu.Unlock()
	} else {
		logger.CtxInfo(ctx, "resuming run %s at file %d of %d", resume.RunID, resume.Next, len(resume.Listed))
	}
	run.setTotal(len(resume.Listed))

	items := make([]workItem, 0, len(resume.Listed)-resume.Next)
	for _, info := range resume.Listed[resume.Next:] {
		items = append(items, workItem{info: info})
	}

	completed, err := o.runItems(ctx, run, job, source, conn, items)
	if err != nil {
		// Keep the listing with completed files ahead of the cursor.
		for i, item := range items {
			resume.Listed[resume.Next+i] = item.info
		}
		resume.Next += completed
		job.Resume = resume
		return "", err
	}

	if err := o.removeOrphans(ctx, run, source.ID, resume.Listed); err != nil {
		return "", err
	}
	job.Resume = nil
	return resume.Cursor, nil
}

// list drains a connector listing, re-applying the source filter.
func (o *SyncOrchestrator) list(
	ctx context.Context,
	conn driven.Connector,
	filter *domain.FileFilter,
) ([]domain.FileInfo, string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	files, errs := conn.ListFiles(ctx, driven.ListOptions{Recursive: true})
	var (
		listed []domain.FileInfo
		cursor string
	)
	for files != nil || errs != nil {
		select {
		case <-ctx.Done():
			return nil, "", ctx.Err()
		case info, ok := <-files:
			if !ok {
				files = nil
				continue
			}
			if !filter.Allows(info.Path, info.SizeBytes) {
				continue
			}
			listed = append(listed, info)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if sc, ok := driven.IsSyncComplete(err); ok {
				cursor = sc.NewCursor
				continue
			}
			return nil, "", err
		}
	}
	return listed, cursor, nil
}

// removeOrphans deletes records of files absent from the listing.
func (o *SyncOrchestrator) removeOrphans(ctx context.Context, run *activeRun, sourceID string, listed []domain.FileInfo) error {
	seen := make(map[string]struct{}, len(listed))
	for _, info := range listed {
		seen[info.Path] = struct{}{}
	}

	records, err := o.files.List(ctx, sourceID)
	if err != nil {
		return fmt.Errorf("list file records: %w", err)
	}
	for _, record := range records {
		if _, ok := seen[record.Path]; ok {
			continue
		}
		if err := o.processor.Delete(ctx, sourceID, record.Path, 0); err != nil {
			return fmt.Errorf("remove %s: %w", record.Path, err)
		}
		run.record(outcomeDeleted)
	}
	return nil
}

// runIncremental applies a change set, read from the job or from the
// connector's change feed. Without either it falls back to a full sync.
func (o *SyncOrchestrator) runIncremental(
	ctx context.Context,
	run *activeRun,
	job *domain.SyncJob,
	source *domain.Source,
	conn driven.Connector,
) (string, error) {
	if job.Resume != nil {
		return o.runFull(ctx, run, job, source, conn)
	}

	changes := job.Changes
	var cursor string
	if job.UseChangeFeed || len(changes) == 0 {
		lister, ok := conn.(driven.ChangeLister)
		if !ok || source.Cursor == "" {
			if len(changes) == 0 {
				logger.CtxInfo(ctx, "no change feed position for %s, running full sync", source.ID)
				return o.runFull(ctx, run, job, source, conn)
			}
		} else {
			feed, next, err := lister.ListChanges(ctx, source.Cursor)
			if errors.Is(err, domain.ErrCursorInvalid) && len(changes) == 0 {
				logger.CtxWarn(ctx, "change feed position for %s is no longer valid, running full sync", source.ID)
				return o.runFull(ctx, run, job, source, conn)
			}
			if err != nil {
				return "", fmt.Errorf("list changes: %w", err)
			}
			feed = domain.StampChanges(feed, arrivals.Reserve(o.now(), len(feed)))
			changes = append(changes, feed...)
			cursor = next
		}
	}

	changes = domain.CollapseChanges(changes)
	items := make([]workItem, 0, len(changes))
	stale := 0
	feedCursor := cursor != ""
	var newest int64 = -1
	for _, change := range changes {
		if !feedCursor && change.Cursor != "" && change.Sequence > newest {
			cursor = change.Cursor
			newest = change.Sequence
		}
		if change.Sequence > 0 {
			last, err := o.files.LastSequence(ctx, source.ID, change.Path)
			if err != nil {
				return "", fmt.Errorf("read sequence: %w", err)
			}
			if change.Sequence <= last {
				stale++
				run.record(outcomeSkipped)
				continue
			}
		}
		items = append(items, workItem{
			info:   domain.FileInfo{Path: change.Path},
			change: change,
			remove: change.Kind == domain.ChangeRemoved,
		})
	}
	run.setTotal(len(items) + stale)

	completed, err := o.runItems(ctx, run, job, source, conn, items)
	if err != nil {
		remaining := make([]domain.FileChange, 0, len(items)-completed)
		for _, item := range items[completed:] {
			remaining = append(remaining, item.change)
		}
		job.Changes = remaining
		job.UseChangeFeed = false
		return "", err
	}
	job.Changes = nil
	job.UseChangeFeed = false
	return cursor, nil
}

// runPaths reprocesses the listed paths regardless of their content hash.
func (o *SyncOrchestrator) runPaths(
	ctx context.Context,
	run *activeRun,
	job *domain.SyncJob,
	source *domain.Source,
	conn driven.Connector,
) error {
	items := make([]workItem, 0, len(job.Paths))
	for _, p := range job.Paths {
		items = append(items, workItem{info: domain.FileInfo{Path: p}, force: true})
	}
	run.setTotal(len(items))

	completed, err := o.runItems(ctx, run, job, source, conn, items)
	if err != nil {
		remaining := make([]string, 0, len(items)-completed)
		for _, item := range items[completed:] {
			remaining = append(remaining, item.info.Path)
		}
		job.Paths = remaining
		return err
	}
	return nil
}

// runItems processes items in checkpointed batches. On a fatal error it
// reorders items so the completed ones come first and returns their count.
func (o *SyncOrchestrator) runItems(
	ctx context.Context,
	run *activeRun,
	job *domain.SyncJob,
	source *domain.Source,
	conn driven.Connector,
	items []workItem,
) (int, error) {
	filter := domain.NewFileFilter(source.Config)
	completed := 0
	for completed < len(items) {
		if o.halted(ctx, run, source.ID) {
			return completed, domain.ErrSourceDisconnected
		}
		end := min(completed+o.cfg.BatchSize, len(items))
		batch := items[completed:end]

		done, err := o.processBatch(ctx, run, source, conn, filter, batch)
		if err == nil && run.stopped.Load() {
			err = domain.ErrSourceDisconnected
		}
		if err != nil {
			return completed + partitionDone(batch, done), err
		}
		completed = end

		job.Progress = run.snapshot()
		if err := o.queue.Update(ctx, job); err != nil {
			logger.CtxWarn(ctx, "failed to checkpoint progress: %v", err)
		}
	}
	return completed, nil
}

// processBatch runs a batch with bounded concurrency. Per-file failures
// are counted and skipped; fatal ones stop the batch.
func (o *SyncOrchestrator) processBatch(
	ctx context.Context,
	run *activeRun,
	source *domain.Source,
	conn driven.Connector,
	filter *domain.FileFilter,
	batch []workItem,
) ([]bool, error) {
	done := make([]bool, len(batch))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Concurrency)

	for i, item := range batch {
		g.Go(func() error {
			if o.halted(gctx, run, source.ID) {
				return nil
			}
			outcome, err := o.processItem(gctx, source, conn, filter, item)
			switch {
			case err == nil:
				run.record(outcome)
			case domain.IsSkip(err):
				logger.CtxDebug(gctx, "skipped %s: %v", item.info.Path, err)
				run.record(outcomeSkipped)
			case isFatal(err):
				return err
			default:
				logger.CtxWarn(gctx, "failed to process %s: %v", item.info.Path, err)
				run.recordError()
			}
			done[i] = true
			return nil
		})
	}
	return done, g.Wait()
}

func (o *SyncOrchestrator) processItem(
	ctx context.Context,
	source *domain.Source,
	conn driven.Connector,
	filter *domain.FileFilter,
	item workItem,
) (fileOutcome, error) {
	if item.remove {
		return outcomeDeleted, o.processor.Delete(ctx, source.ID, item.info.Path, item.change.Sequence)
	}
	if err := filter.Check(item.info.Path, item.info.SizeBytes); err != nil {
		return outcomeSkipped, fmt.Errorf("%s: %w", item.info.Path, err)
	}
	return o.processor.Process(ctx, source, conn, item.info, item.change.Sequence, item.force)
}

// isFatal reports whether a file error should stop the whole job rather
// than be counted against the file.
func isFatal(err error) bool {
	var pe *domain.PipelineError
	switch {
	case errors.Is(err, domain.ErrRateLimited),
		errors.Is(err, domain.ErrAuth),
		errors.Is(err, domain.ErrNotConnected),
		errors.Is(err, domain.ErrSourceDisconnected),
		errors.Is(err, domain.ErrConnectorClosed),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return true
	case errors.As(err, &pe):
		return !pe.IsClientError()
	default:
		return false
	}
}

// partitionDone moves completed items ahead of the rest, keeping order.
func partitionDone(batch []workItem, done []bool) int {
	ordered := make([]workItem, 0, len(batch))
	for i := range batch {
		if done[i] {
			ordered = append(ordered, batch[i])
		}
	}
	n := len(ordered)
	for i := range batch {
		if !done[i] {
			ordered = append(ordered, batch[i])
		}
	}
	copy(batch, ordered)
	return n
}
