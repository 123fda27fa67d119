package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
)

func TestWebhookEventStore_FindByDelivery(t *testing.T) {
	store := NewWebhookEventStore()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, domain.WebhookEvent{
		ID: "forged", Provider: domain.ProviderGitHub, DeliveryID: "d1", SignatureValid: false,
	}))
	_, err := store.FindByDelivery(ctx, domain.ProviderGitHub, "d1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, store.Save(ctx, domain.WebhookEvent{
		ID: "e1", Provider: domain.ProviderGitHub, DeliveryID: "d1", SignatureValid: true,
	}))
	require.NoError(t, store.Save(ctx, domain.WebhookEvent{
		ID: "e2", Provider: domain.ProviderGitHub, DeliveryID: "d1", SignatureValid: true, DuplicateOf: "e1",
	}))

	found, err := store.FindByDelivery(ctx, domain.ProviderGitHub, "d1")
	require.NoError(t, err)
	assert.Equal(t, "e1", found.ID)

	// A body digest repeats across distinct notifications.
	require.NoError(t, store.Save(ctx, domain.WebhookEvent{
		ID: "e3", Provider: domain.ProviderGitHub, DeliveryID: "d1", SignatureValid: true,
	}))
	found, err = store.FindByDelivery(ctx, domain.ProviderGitHub, "d1")
	require.NoError(t, err)
	assert.Equal(t, "e3", found.ID)

	assert.ErrorIs(t, store.Save(ctx, domain.WebhookEvent{ID: "e1"}), domain.ErrAlreadyExists)
}

func TestWebhookEventStore_MarkProcessedAndList(t *testing.T) {
	store := NewWebhookEventStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.Save(ctx, domain.WebhookEvent{ID: "e1", SourceID: "s1", ReceivedAt: now}))
	require.NoError(t, store.Save(ctx, domain.WebhookEvent{ID: "e2", SourceID: "s1", ReceivedAt: now.Add(time.Second)}))
	require.NoError(t, store.MarkProcessed(ctx, "e1", "job-1", now))

	pending, err := store.List(ctx, domain.WebhookEventFilter{OnlyPending: true})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "e2", pending[0].ID)

	e1, err := store.Get(ctx, "e1")
	require.NoError(t, err)
	assert.True(t, e1.Processed)
	assert.Equal(t, "job-1", e1.JobID)

	assert.ErrorIs(t, store.MarkProcessed(ctx, "missing", "", now), domain.ErrNotFound)
}
