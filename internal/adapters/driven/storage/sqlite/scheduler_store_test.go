package sqlite

import (
	"context"
	"database/sql"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
)

// seedMaintenanceTasks saves every built-in task with its default interval,
// the way the scheduler does on first start.
func seedMaintenanceTasks(t *testing.T, store *Store, now time.Time) {
	t.Helper()
	cfg := domain.DefaultSchedulerConfig()
	for id, tc := range cfg.TaskConfigs {
		require.NoError(t, store.SchedulerStore().SaveTask(context.Background(), &domain.ScheduledTask{
			ID:       id,
			Name:     id,
			Interval: tc.Interval,
			NextRun:  now.Add(tc.Interval),
			Enabled:  tc.Enabled,
		}))
	}
}

func TestSchedulerStore_Tasks(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	tasks := store.SchedulerStore()
	now := time.Now().UTC().Truncate(time.Second)
	seedMaintenanceTasks(t, store, now)

	t.Run("list is ordered by id", func(t *testing.T) {
		list, err := tasks.ListTasks(ctx)
		require.NoError(t, err)

		ids := make([]string, 0, len(list))
		for _, task := range list {
			ids = append(ids, task.ID)
		}
		assert.Len(t, ids, 5)
		assert.True(t, sort.StringsAreSorted(ids))
	})

	t.Run("a run updates timing and error", func(t *testing.T) {
		poll, err := tasks.GetTask(ctx, domain.TaskIDPollSync)
		require.NoError(t, err)
		require.NotNil(t, poll)
		assert.Equal(t, 15*time.Minute, poll.Interval)
		assert.True(t, poll.LastRun.IsZero())

		poll.LastRun = now
		poll.NextRun = now.Add(poll.Interval)
		poll.LastError = "dropbox: rate limited"
		require.NoError(t, tasks.SaveTask(ctx, poll))

		got, err := tasks.GetTask(ctx, domain.TaskIDPollSync)
		require.NoError(t, err)
		assert.WithinDuration(t, now, got.LastRun, time.Second)
		assert.WithinDuration(t, now.Add(15*time.Minute), got.NextRun, time.Second)
		assert.Equal(t, "dropbox: rate limited", got.LastError)
		assert.True(t, got.LastSuccess.IsZero())
		assert.True(t, got.Enabled)
	})

	t.Run("disabling keeps the row", func(t *testing.T) {
		sweep, err := tasks.GetTask(ctx, domain.TaskIDTTLSweep)
		require.NoError(t, err)
		sweep.Enabled = false
		require.NoError(t, tasks.SaveTask(ctx, sweep))

		got, err := tasks.GetTask(ctx, domain.TaskIDTTLSweep)
		require.NoError(t, err)
		assert.False(t, got.Enabled)
	})

	t.Run("delete and missing", func(t *testing.T) {
		require.NoError(t, tasks.DeleteTask(ctx, domain.TaskIDWebhookReplay))
		got, err := tasks.GetTask(ctx, domain.TaskIDWebhookReplay)
		require.NoError(t, err)
		assert.Nil(t, got)

		require.NoError(t, tasks.DeleteTask(ctx, "never-existed"))
	})

	t.Run("nil task", func(t *testing.T) {
		assert.ErrorIs(t, tasks.SaveTask(ctx, nil), domain.ErrInvalidInput)
	})
}

func TestSchedulerStore_History(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	tasks := store.SchedulerStore()
	base := time.Now().UTC().Truncate(time.Second)

	record := func(taskID string, i int, errMsg string) {
		require.NoError(t, tasks.RecordResult(ctx, &domain.TaskResult{
			TaskID:         taskID,
			StartedAt:      base.Add(time.Duration(i) * time.Minute),
			EndedAt:        base.Add(time.Duration(i)*time.Minute + time.Second),
			Success:        errMsg == "",
			Error:          errMsg,
			ItemsProcessed: i,
		}))
	}
	for i := 0; i < 6; i++ {
		record(domain.TaskIDJobCleanup, i, "")
	}
	record(domain.TaskIDStaleChunks, 0, "chunk store unavailable")

	t.Run("most recent first with limit", func(t *testing.T) {
		history, err := tasks.GetTaskHistory(ctx, domain.TaskIDJobCleanup, 3)
		require.NoError(t, err)
		require.Len(t, history, 3)
		assert.Equal(t, 5, history[0].ItemsProcessed)
		assert.Equal(t, 3, history[2].ItemsProcessed)
		assert.True(t, history[0].Success)
		assert.WithinDuration(t, base.Add(5*time.Minute+time.Second), history[0].EndedAt, time.Millisecond)
	})

	t.Run("failures keep their message", func(t *testing.T) {
		history, err := tasks.GetTaskHistory(ctx, domain.TaskIDStaleChunks, 0)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.False(t, history[0].Success)
		assert.Equal(t, "chunk store unavailable", history[0].Error)
	})

	t.Run("prune keeps the newest per task", func(t *testing.T) {
		require.NoError(t, tasks.PruneHistory(ctx, 2))

		kept, err := tasks.GetTaskHistory(ctx, domain.TaskIDJobCleanup, 10)
		require.NoError(t, err)
		require.Len(t, kept, 2)
		assert.Equal(t, 5, kept[0].ItemsProcessed)
		assert.Equal(t, 4, kept[1].ItemsProcessed)

		stale, err := tasks.GetTaskHistory(ctx, domain.TaskIDStaleChunks, 10)
		require.NoError(t, err)
		assert.Len(t, stale, 1)
	})

	t.Run("unknown task has no history", func(t *testing.T) {
		history, err := tasks.GetTaskHistory(ctx, "unknown", 10)
		require.NoError(t, err)
		assert.Empty(t, history)
	})

	t.Run("nil result", func(t *testing.T) {
		assert.ErrorIs(t, tasks.RecordResult(ctx, nil), domain.ErrInvalidInput)
	})
}

func TestColumnHelpers(t *testing.T) {
	assert.Nil(t, unixNano(time.Time{}))

	now := time.Now().UTC()
	assert.Equal(t, now.UnixNano(), unixNano(now))
	assert.True(t, now.Equal(fromUnixNano(sql.NullInt64{Int64: now.UnixNano(), Valid: true})))
	assert.True(t, fromUnixNano(sql.NullInt64{}).IsZero())

	assert.Equal(t, 1, boolToInt(true))
	assert.Equal(t, 0, boolToInt(false))
	assert.Nil(t, nullString(""))
	assert.Equal(t, "hello", nullString("hello"))
}
