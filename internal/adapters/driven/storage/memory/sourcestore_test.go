package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
)

func TestNewSourceStore(t *testing.T) {
	store := NewSourceStore()
	require.NotNil(t, store)
	assert.NotNil(t, store.sources)
}

func TestSourceStore_SaveAndGet(t *testing.T) {
	store := NewSourceStore()
	ctx := context.Background()

	source := domain.Source{
		ID:         "src-1",
		Provider:   domain.ProviderGitHub,
		Name:       "api",
		ExternalID: "acme/api",
		Config:     domain.SourceConfig{Settings: map[string]string{"repository": "acme/api"}},
	}
	require.NoError(t, store.Save(ctx, source))

	saved, err := store.Get(ctx, "src-1")
	require.NoError(t, err)
	assert.Equal(t, "api", saved.Name)
	assert.Equal(t, "acme/api", saved.Setting("repository", ""))

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSourceStore_ListSkipsDeleted(t *testing.T) {
	store := NewSourceStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.Save(ctx, domain.Source{ID: "a", CreatedAt: now}))
	require.NoError(t, store.Save(ctx, domain.Source{ID: "b", CreatedAt: now.Add(time.Second), DeletedAt: &now}))
	require.NoError(t, store.Save(ctx, domain.Source{ID: "c", CreatedAt: now.Add(2 * time.Second)}))

	sources, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.Equal(t, "a", sources[0].ID)
	assert.Equal(t, "c", sources[1].ID)

	// Deleted sources are still readable by ID.
	deleted, err := store.Get(ctx, "b")
	require.NoError(t, err)
	assert.True(t, deleted.IsDeleted())
}

func TestSourceStore_FindByExternalID(t *testing.T) {
	store := NewSourceStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.Save(ctx, domain.Source{ID: "s1", Provider: domain.ProviderGitHub, ExternalID: "acme/api"}))
	require.NoError(t, store.Save(ctx, domain.Source{ID: "s2", Provider: domain.ProviderGitLab, ExternalID: "acme/api"}))
	require.NoError(t, store.Save(ctx, domain.Source{
		ID: "s3", Provider: domain.ProviderGitHub, ExternalID: "acme/api", DeletedAt: &now,
	}))

	found, err := store.FindByExternalID(ctx, domain.ProviderGitHub, "acme/api")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "s1", found[0].ID)

	found, err = store.FindByExternalID(ctx, domain.ProviderGitHub, "acme/web")
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestSourceStore_CompareAndSetStatus(t *testing.T) {
	store := NewSourceStore()
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, domain.Source{ID: "s1", Status: domain.SourceStatusPending}))

	from := []domain.SourceStatus{domain.SourceStatusPending, domain.SourceStatusSynced}

	ok, err := store.CompareAndSetStatus(ctx, "s1", from, domain.SourceStatusSyncing)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.CompareAndSetStatus(ctx, "s1", from, domain.SourceStatusSyncing)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.CompareAndSetStatus(ctx, "missing", from, domain.SourceStatusSyncing)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSourceStore_CompareAndSetStatus_SingleWinner(t *testing.T) {
	store := NewSourceStore()
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, domain.Source{ID: "s1", Status: domain.SourceStatusSynced}))

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.CompareAndSetStatus(ctx, "s1",
				[]domain.SourceStatus{domain.SourceStatusSynced}, domain.SourceStatusSyncing)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}
