package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
)

// WebhookEventStore is the append-only webhook event log.
type WebhookEventStore interface {
	// Save appends an event.
	Save(ctx context.Context, event domain.WebhookEvent) error

	// Get returns an event by ID.
	Get(ctx context.Context, id string) (*domain.WebhookEvent, error)

	// FindByDelivery returns the latest valid, non-duplicate event for a
	// delivery id, or domain.ErrNotFound.
	FindByDelivery(ctx context.Context, provider domain.ProviderType, deliveryID string) (*domain.WebhookEvent, error)

	// MarkProcessed sets the processed flag and the job reference.
	MarkProcessed(ctx context.Context, id, jobID string, at time.Time) error

	// List returns events matching the filter, oldest first.
	List(ctx context.Context, filter domain.WebhookEventFilter) ([]domain.WebhookEvent, error)
}
