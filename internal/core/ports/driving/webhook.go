package driving

import (
	"context"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
)

// WebhookOutcome summarises how a notification was handled.
type WebhookOutcome string

// Webhook outcomes.
const (
	WebhookEnqueued   WebhookOutcome = "enqueued"
	WebhookCoalesced  WebhookOutcome = "coalesced"
	WebhookDuplicate  WebhookOutcome = "duplicate"
	WebhookUnmatched  WebhookOutcome = "unmatched"
	WebhookRejected   WebhookOutcome = "rejected"
	WebhookIgnored    WebhookOutcome = "ignored"
	WebhookLoggedOnly WebhookOutcome = "logged"
)

// WebhookResult is returned by WebhookNormalizer.Handle.
type WebhookResult struct {
	// StatusCode is the HTTP status to answer the provider with.
	StatusCode int

	// Outcome is what happened to the notification.
	Outcome WebhookOutcome

	// EventIDs are the logged events, one per matched source.
	EventIDs []string

	// JobIDs are the jobs enqueued or merged into.
	JobIDs []string
}

// WebhookNormalizer turns provider notifications into sync jobs.
type WebhookNormalizer interface {
	// Handle logs the notification and enqueues work for the matched source.
	Handle(ctx context.Context, req *domain.WebhookRequest) (*WebhookResult, error)

	// Replay re-enqueues logged events that never became jobs.
	Replay(ctx context.Context) (int, error)
}
