package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-sync/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/sercha-sync/internal/core/domain"
	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven"
)

// watchingConnector streams whatever the test pushes on changes.
type watchingConnector struct {
	*fakeConnector
	changes chan domain.FileChange
}

func (c *watchingConnector) Watch(ctx context.Context) (<-chan domain.FileChange, error) {
	out := make(chan domain.FileChange)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case ch := <-c.changes:
				select {
				case out <- ch:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

type watchFactory struct {
	fakeFactory
	conn *watchingConnector
}

func (f *watchFactory) Create(_ context.Context, source domain.Source) (driven.Connector, error) {
	f.conn.sourceID = source.ID
	return f.conn, nil
}

func TestWatchSupervisor(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sources := memory.NewSourceStore()
	queue := memory.NewJobQueue(driven.QueueOptions{PollInterval: 10 * time.Millisecond})
	t.Cleanup(func() { queue.Close() })

	require.NoError(t, sources.Save(ctx, domain.Source{
		ID:       "local-1",
		Provider: domain.ProviderLocal,
		Webhook:  &domain.WebhookHandle{ID: "/data", Kind: domain.WebhookWatch},
	}))
	require.NoError(t, sources.Save(ctx, domain.Source{
		ID:       "gh-1",
		Provider: domain.ProviderGitHub,
		Webhook:  &domain.WebhookHandle{ID: "1", Kind: domain.WebhookPush},
	}))

	conn := &watchingConnector{fakeConnector: newFakeConnector(nil), changes: make(chan domain.FileChange)}
	sup := NewWatchSupervisor(sources, queue, &watchFactory{conn: conn}, WatchConfig{
		Debounce: 20 * time.Millisecond,
		Rescan:   time.Hour,
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = sup.Run(ctx)
	}()

	require.Eventually(t, func() bool { return sup.Watching() == 1 }, time.Second, 5*time.Millisecond)

	conn.changes <- domain.FileChange{Path: "a.txt", Kind: domain.ChangeAdded, Sequence: 1}
	conn.changes <- domain.FileChange{Path: "a.txt", Kind: domain.ChangeModified, Sequence: 2}
	conn.changes <- domain.FileChange{Path: "b.txt", Kind: domain.ChangeRemoved, Sequence: 3}

	var jobs []domain.SyncJob
	require.Eventually(t, func() bool {
		var err error
		jobs, err = queue.List(ctx, domain.JobFilter{SourceID: "local-1"})
		return err == nil && len(jobs) == 1
	}, time.Second, 10*time.Millisecond)

	job := jobs[0]
	assert.Equal(t, domain.JobKindIncremental, job.Kind)
	assert.Equal(t, domain.JobStatusQueued, job.Status)
	require.Len(t, job.Changes, 2)
	assert.Equal(t, "a.txt", job.Changes[0].Path)
	assert.Equal(t, domain.ChangeModified, job.Changes[0].Kind)
	assert.Equal(t, "b.txt", job.Changes[1].Path)
	assert.Equal(t, domain.ChangeRemoved, job.Changes[1].Kind)
	assert.Less(t, job.Changes[0].Sequence, job.Changes[1].Sequence)

	others, err := queue.List(ctx, domain.JobFilter{SourceID: "gh-1"})
	require.NoError(t, err)
	assert.Empty(t, others)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("supervisor did not stop")
	}
	assert.Equal(t, 0, sup.Watching())
}

func TestWatchSupervisor_SkipsNonWatchers(t *testing.T) {
	ctx := context.Background()
	sources := memory.NewSourceStore()
	queue := memory.NewJobQueue(driven.QueueOptions{})
	t.Cleanup(func() { queue.Close() })

	require.NoError(t, sources.Save(ctx, domain.Source{
		ID:       "src-1",
		Provider: domain.ProviderGitHub,
		Webhook:  &domain.WebhookHandle{Kind: domain.WebhookWatch},
	}))

	conn := newFakeConnector(nil)
	sup := NewWatchSupervisor(sources, queue, &fakeFactory{conn: conn}, WatchConfig{})
	sup.reconcile(ctx)

	assert.Equal(t, 0, sup.Watching())
	assert.Equal(t, 1, conn.closed)
}
