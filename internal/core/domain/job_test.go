package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewSyncJob_RoutesQueue(t *testing.T) {
	full := NewSyncJob("j1", "src", JobKindFull)
	assert.Equal(t, QueueSync, full.Queue)
	assert.Equal(t, JobStatusQueued, full.Status)
	assert.Equal(t, DefaultMaxAttempts, full.MaxAttempts)

	assert.True(t, full.QueuedAt.IsZero())
	assert.True(t, full.VisibleAt.IsZero())

	inc := NewSyncJob("j2", "src", JobKindIncremental)
	assert.Equal(t, QueueProcess, inc.Queue)

	single := NewSyncJob("j3", "src", JobKindSingleFile)
	assert.Equal(t, QueueProcess, single.Queue)
}

func TestCanTransitionJob(t *testing.T) {
	assert.True(t, CanTransitionJob(JobStatusQueued, JobStatusRunning))
	assert.True(t, CanTransitionJob(JobStatusRunning, JobStatusCompleted))
	assert.True(t, CanTransitionJob(JobStatusRunning, JobStatusFailed))
	assert.True(t, CanTransitionJob(JobStatusRunning, JobStatusQueued))
	assert.False(t, CanTransitionJob(JobStatusCompleted, JobStatusRunning))
	assert.False(t, CanTransitionJob(JobStatusFailed, JobStatusQueued))
	assert.False(t, CanTransitionJob(JobStatusQueued, JobStatusCompleted))
}

func TestSyncJob_MergeChanges(t *testing.T) {
	job := NewSyncJob("j1", "src", JobKindIncremental)
	job.Changes = []FileChange{
		{Path: "a.go", Kind: ChangeAdded, Sequence: 1},
		{Path: "b.go", Kind: ChangeModified, Sequence: 2},
	}

	job.MergeChanges([]FileChange{
		{Path: "a.go", Kind: ChangeRemoved, Sequence: 3},
		{Path: "b.go", Kind: ChangeRemoved, Sequence: 1},
		{Path: "c.go", Kind: ChangeAdded, Sequence: 4},
	}, false)

	assert.Equal(t, []FileChange{
		{Path: "a.go", Kind: ChangeRemoved, Sequence: 3},
		{Path: "b.go", Kind: ChangeModified, Sequence: 2},
		{Path: "c.go", Kind: ChangeAdded, Sequence: 4},
	}, job.Changes)
	assert.False(t, job.UseChangeFeed)

	job.MergeChanges(nil, true)
	assert.True(t, job.UseChangeFeed)
}

func TestSyncJob_Coalescable(t *testing.T) {
	job := NewSyncJob("j1", "src", JobKindIncremental)
	assert.True(t, job.Coalescable())

	started := *job
	started.StartedAt = time.Now()
	assert.False(t, started.Coalescable())

	resumed := *job
	resumed.Resume = &ResumePoint{RunID: "run-1"}
	assert.False(t, resumed.Coalescable())

	running := *job
	running.Status = JobStatusRunning
	assert.False(t, running.Coalescable())

	assert.False(t, NewSyncJob("j2", "src", JobKindFull).Coalescable())
}

func TestSyncJob_PayloadRoundTrip(t *testing.T) {
	job := NewSyncJob("j1", "src", JobKindFull)
	job.Resume = &ResumePoint{RunID: "run-1", Next: 20, Listed: []FileInfo{{Path: "a.go"}}}

	restored := NewSyncJob("j1", "src", JobKindFull)
	restored.ApplyPayload(job.Payload())

	assert.Equal(t, job.Resume, restored.Resume)
}

func TestBackoffDelay(t *testing.T) {
	base := 2 * time.Second
	assert.Equal(t, 2*time.Second, BackoffDelay(base, 0))
	assert.Equal(t, 4*time.Second, BackoffDelay(base, 1))
	assert.Equal(t, 8*time.Second, BackoffDelay(base, 2))
	assert.Equal(t, 2*time.Second, BackoffDelay(base, -1))
}

func TestCollapseChanges_Empty(t *testing.T) {
	assert.Nil(t, CollapseChanges(nil))
}

func TestLanguageForPath(t *testing.T) {
	assert.Equal(t, "python", LanguageForPath("src/a.py"))
	assert.Equal(t, "go", LanguageForPath("MAIN.GO"))
	assert.Equal(t, "", LanguageForPath("Makefile"))
	assert.True(t, IsBinaryPath("logo.PNG"))
	assert.False(t, IsBinaryPath("README.md"))
}

func TestHashContent(t *testing.T) {
	assert.Equal(t,
		"2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824",
		HashContent([]byte("hello")))
}

func TestParseRetentionMode(t *testing.T) {
	mode, err := ParseRetentionMode("mongo-ttl")
	assert.NoError(t, err)
	assert.Equal(t, RetentionTTLStore, mode)

	mode, err = ParseRetentionMode("")
	assert.NoError(t, err)
	assert.Equal(t, RetentionEphemeral, mode)

	_, err = ParseRetentionMode("forever")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestToken_Valid(t *testing.T) {
	var nilTok *Token
	assert.False(t, nilTok.Valid(0))
	assert.True(t, (&Token{AccessToken: "x"}).Valid(time.Hour))
	assert.False(t, (&Token{AccessToken: "x", ExpiresAt: time.Now().Add(time.Minute)}).Valid(5*time.Minute))
}
