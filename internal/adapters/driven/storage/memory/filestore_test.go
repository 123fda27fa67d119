package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
)

func TestFileStore_UpsertGetDelete(t *testing.T) {
	store := NewFileStore()
	ctx := context.Background()

	rec := domain.FileRecord{SourceID: "s1", Path: "a.go", ContentHash: "h1", Language: "go"}
	require.NoError(t, store.Upsert(ctx, rec))

	got, err := store.Get(ctx, "s1", "a.go")
	require.NoError(t, err)
	assert.Equal(t, "h1", got.ContentHash)

	rec.ContentHash = "h2"
	require.NoError(t, store.Upsert(ctx, rec))
	got, err = store.Get(ctx, "s1", "a.go")
	require.NoError(t, err)
	assert.Equal(t, "h2", got.ContentHash)

	require.NoError(t, store.Delete(ctx, "s1", "a.go"))
	_, err = store.Get(ctx, "s1", "a.go")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// Deleting twice is fine.
	assert.NoError(t, store.Delete(ctx, "s1", "a.go"))
}

func TestFileStore_ListAndDeleteBySource(t *testing.T) {
	store := NewFileStore()
	ctx := context.Background()

	for _, p := range []string{"b.go", "a.go"} {
		require.NoError(t, store.Upsert(ctx, domain.FileRecord{SourceID: "s1", Path: p}))
	}
	require.NoError(t, store.Upsert(ctx, domain.FileRecord{SourceID: "s2", Path: "a.go"}))
	require.NoError(t, store.SetSequence(ctx, "s1", "a.go", 7))

	files, err := store.List(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "a.go", files[0].Path)

	n, err := store.DeleteBySource(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	seq, err := store.LastSequence(ctx, "s1", "a.go")
	require.NoError(t, err)
	assert.Zero(t, seq)

	files, err = store.List(ctx, "s2")
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestFileStore_SequenceSurvivesRecordDeletion(t *testing.T) {
	store := NewFileStore()
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, domain.FileRecord{SourceID: "s1", Path: "a.go"}))
	require.NoError(t, store.SetSequence(ctx, "s1", "a.go", 42))
	require.NoError(t, store.Delete(ctx, "s1", "a.go"))

	seq, err := store.LastSequence(ctx, "s1", "a.go")
	require.NoError(t, err)
	assert.Equal(t, int64(42), seq)
}
