package domain

import (
	"net/http"
	"time"
)

// WebhookKind describes how a source receives change notifications.
type WebhookKind string

// Webhook handle kinds.
const (
	// WebhookPush is a provider-side subscription that POSTs to us.
	WebhookPush WebhookKind = "push"

	// WebhookPoll is a scheduled poll registration for providers without push.
	WebhookPoll WebhookKind = "poll"

	// WebhookWatch is a local filesystem watch.
	WebhookWatch WebhookKind = "watch"
)

// WebhookHandle identifies a subscription created by SetupWebhook.
type WebhookHandle struct {
	// ID is the provider hook id, channel id or registration id.
	ID string `json:"id"`

	// Kind is push, poll or watch.
	Kind WebhookKind `json:"kind"`

	// CallbackURL is the URL the provider calls back.
	CallbackURL string `json:"callback_url,omitempty"`

	// CreatedAt is when the subscription was created.
	CreatedAt time.Time `json:"created_at"`
}

// WebhookRequest is a raw provider notification as received.
type WebhookRequest struct {
	// Provider is the receiver the request arrived on.
	Provider ProviderType

	// Headers are the request headers.
	Headers http.Header

	// Body is the raw request body.
	Body []byte

	// Query holds URL query parameters.
	Query map[string]string
}

// Header returns a header value or empty string.
func (r *WebhookRequest) Header(key string) string {
	if r == nil || r.Headers == nil {
		return ""
	}
	return r.Headers.Get(key)
}

// WebhookEvent is an immutable log entry of one received notification.
// Only the processed fields are mutated after creation.
type WebhookEvent struct {
	// ID is the unique identifier for the event.
	ID string

	// SourceID is empty when no source matched.
	SourceID string

	// Provider is the receiving provider.
	Provider ProviderType

	// EventType is the provider event name (push, Merge Request Hook...).
	EventType string

	// DeliveryID is the provider delivery id or a payload digest.
	DeliveryID string

	// Payload is the raw body.
	Payload []byte

	// SignatureValid records the verification outcome.
	SignatureValid bool

	// Processed is set once the event has been turned into a job.
	Processed bool

	// ProcessedAt is when Processed was set.
	ProcessedAt time.Time

	// DuplicateOf references the first event with the same DeliveryID.
	DuplicateOf string

	// JobID is the job the event was enqueued or coalesced into.
	JobID string

	// ReceivedAt is when the event was logged.
	ReceivedAt time.Time
}

// IsOrphan reports whether the event matched no source.
func (e *WebhookEvent) IsOrphan() bool {
	return e.SourceID == ""
}

// WebhookEventFilter narrows webhook event queries.
type WebhookEventFilter struct {
	SourceID      string
	OnlyPending   bool
	ReceivedAfter time.Time
	Limit         int
}
