package domain

import (
	"time"
)

// JobKind is the kind of orchestration work a SyncJob carries.
type JobKind string

// Job kinds.
const (
	JobKindFull        JobKind = "full"
	JobKindIncremental JobKind = "incremental"
	JobKindSingleFile  JobKind = "single-file"
)

// QueueName identifies a logical job queue.
type QueueName string

// Logical queues. Full syncs run on QueueSync. File-level work, meaning
// webhook and feed driven incrementals and single-file reprocessing, runs on
// QueueProcess with its own worker pool, so long backfills of other sources
// never hold it up. Per-source exclusivity spans both queues.
const (
	QueueSync    QueueName = "sync"
	QueueProcess QueueName = "process"
)

// QueueFor returns the queue a job kind is routed to.
func QueueFor(kind JobKind) QueueName {
	if kind == JobKindFull {
		return QueueSync
	}
	return QueueProcess
}

// JobStatus is the lifecycle state of a SyncJob.
type JobStatus string

// Job states.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransitionJob reports whether a job may move between two states.
// Running jobs may return to queued for a retry or a rate-limit deferral.
func CanTransitionJob(from, to JobStatus) bool {
	switch from {
	case JobStatusQueued:
		return to == JobStatusRunning || to == JobStatusFailed
	case JobStatusRunning:
		return to == JobStatusCompleted || to == JobStatusFailed || to == JobStatusQueued
	default:
		return false
	}
}

// DefaultMaxAttempts is the retry cap applied when a job does not set one.
const DefaultMaxAttempts = 3

// JobProgress holds the counters exposed while a job runs.
type JobProgress struct {
	// FilesTotal is the number of files the job intends to visit.
	FilesTotal int `json:"files_total"`

	// FilesProcessed counts files that went through the pipeline.
	FilesProcessed int `json:"files_processed"`

	// FilesSkipped counts unchanged, filtered or too-large files.
	FilesSkipped int `json:"files_skipped"`

	// FilesDeleted counts File records removed by the job.
	FilesDeleted int `json:"files_deleted"`

	// Errors counts per-file failures.
	Errors int `json:"errors"`
}

// ResumePoint lets a rate-limited full sync continue where it stopped.
type ResumePoint struct {
	// RunID identifies the logical sync run across continuations.
	RunID string `json:"run_id"`

	// Listed is the listing captured by the first run.
	Listed []FileInfo `json:"listed"`

	// Next is the index of the first file not yet processed.
	Next int `json:"next"`

	// Cursor is the provider cursor observed when the listing was taken.
	Cursor string `json:"cursor,omitempty"`
}

// SyncJob is one unit of orchestration work against a Source.
type SyncJob struct {
	// ID is the unique identifier for the job.
	ID string

	// SourceID links to the Source the job runs against.
	SourceID string

	// Kind is full, incremental or single-file.
	Kind JobKind

	// Queue is the logical queue the job lives on.
	Queue QueueName

	// Status is the lifecycle state.
	Status JobStatus

	// Progress holds the counters.
	Progress JobProgress

	// Attempt counts failed executions so far.
	Attempt int

	// MaxAttempts caps retries before the job becomes failed.
	MaxAttempts int

	// LastError is the human-readable detail of the last failure.
	LastError string

	// IdempotencyKey deduplicates enqueues of the same logical work.
	IdempotencyKey string

	// Changes is the change set of an incremental job.
	Changes []FileChange

	// UseChangeFeed asks the orchestrator to read changes from the
	// connector's change feed instead of Changes.
	UseChangeFeed bool

	// Paths lists the targets of a single-file job.
	Paths []string

	// Resume is set on continuation jobs.
	Resume *ResumePoint

	// VisibleAt is the earliest time the job may be dequeued.
	VisibleAt time.Time

	// LeaseUntil is when a running job's lease expires.
	LeaseUntil time.Time

	// QueuedAt is when the job was first enqueued.
	QueuedAt time.Time

	// StartedAt is when the job last started running.
	StartedAt time.Time

	// CompletedAt is when the job reached a terminal state.
	CompletedAt time.Time
}

// NewSyncJob creates a queued job routed to the right queue. The queue
// stamps QueuedAt and VisibleAt from its own clock on enqueue.
func NewSyncJob(id, sourceID string, kind JobKind) *SyncJob {
	return &SyncJob{
		ID:          id,
		SourceID:    sourceID,
		Kind:        kind,
		Queue:       QueueFor(kind),
		Status:      JobStatusQueued,
		MaxAttempts: DefaultMaxAttempts,
	}
}

// Coalescable reports whether new changes may still be merged into the job.
// The window closes once the job has started running: a retried or deferred
// job keeps its own work and new changes get a job of their own.
func (j *SyncJob) Coalescable() bool {
	return j.Kind == JobKindIncremental &&
		j.Status == JobStatusQueued &&
		j.StartedAt.IsZero() &&
		j.Resume == nil
}

// MergeChanges folds another change set into an incremental job.
func (j *SyncJob) MergeChanges(changes []FileChange, useFeed bool) {
	j.Changes = CollapseChanges(append(j.Changes, changes...))
	j.UseChangeFeed = j.UseChangeFeed || useFeed
}

// JobPayload is the JSON body stored alongside a queued job row.
type JobPayload struct {
	Changes       []FileChange `json:"changes,omitempty"`
	UseChangeFeed bool         `json:"use_change_feed,omitempty"`
	Paths         []string     `json:"paths,omitempty"`
	Resume        *ResumePoint `json:"resume,omitempty"`
}

// Payload extracts the serialisable work description.
func (j *SyncJob) Payload() JobPayload {
	return JobPayload{
		Changes:       j.Changes,
		UseChangeFeed: j.UseChangeFeed,
		Paths:         j.Paths,
		Resume:        j.Resume,
	}
}

// ApplyPayload restores the work description from a stored payload.
func (j *SyncJob) ApplyPayload(p JobPayload) {
	j.Changes = p.Changes
	j.UseChangeFeed = p.UseChangeFeed
	j.Paths = p.Paths
	j.Resume = p.Resume
}

// JobFilter narrows List queries.
type JobFilter struct {
	SourceID string
	Status   JobStatus
	Queue    QueueName
	Limit    int
}

// BackoffDelay returns base × 2^attempt.
func BackoffDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 16 {
		attempt = 16
	}
	return base * time.Duration(1<<uint(attempt))
}
