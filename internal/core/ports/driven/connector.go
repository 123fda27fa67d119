package driven

import (
	"context"
	"errors"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
)

// Connector presents one provider instance behind a uniform contract.
// Each provider (github, gitlab, gdrive, etc.) implements this interface.
// Operations a provider cannot perform return domain.ErrUnsupported.
type Connector interface {
	// Type returns the provider type.
	Type() domain.ProviderType

	// SourceID returns the configured source ID.
	SourceID() string

	// Capabilities returns what this connector supports.
	Capabilities() ConnectorCapabilities

	// Validate confirms the held credential can reach the provider.
	// Does not mutate state. Fails with domain.ErrAuth on bad credentials.
	Validate(ctx context.Context) error

	// ListFiles lazily enumerates files under opts.PathPrefix.
	// The sequence is finite and not restartable; a fresh call re-lists.
	// Include/exclude globs, language and size filters are applied before a
	// file is yielded. A SyncComplete may be sent on the error channel to
	// report the provider cursor observed at listing time.
	ListFiles(ctx context.Context, opts ListOptions) (<-chan domain.FileInfo, <-chan error)

	// GetFileContent fetches one file. The size cap is enforced client-side.
	// Fails with domain.ErrNotFound, domain.ErrTooLarge or a provider error.
	GetFileContent(ctx context.Context, path string) ([]byte, error)

	// SetupWebhook registers the callback. Calling it twice with the same
	// callback returns the existing subscription where the provider allows
	// querying. Providers without push support return a poll handle.
	SetupWebhook(ctx context.Context, callbackURL string) (*domain.WebhookHandle, error)

	// ValidateWebhook verifies authenticity in constant time.
	// Returns false on malformed input instead of failing.
	ValidateWebhook(req *domain.WebhookRequest) bool

	// ParseWebhook converts a payload into an ordered change list.
	// Malformed payloads yield an empty list.
	ParseWebhook(req *domain.WebhookRequest) []domain.FileChange

	// Close releases resources.
	Close() error
}

// ListOptions scopes a listing.
type ListOptions struct {
	// PathPrefix restricts the listing to a sub-tree. Empty lists everything.
	PathPrefix string

	// Recursive descends into sub-directories.
	Recursive bool
}

// ChangeLister is implemented by connectors with a change-since-cursor API.
// The orchestrator uses it for incremental jobs that carry no change list.
type ChangeLister interface {
	// ListChanges returns changes after cursor and the cursor to store next.
	ListChanges(ctx context.Context, cursor string) ([]domain.FileChange, string, error)
}

// WebhookRemover is implemented by connectors that can delete a subscription.
type WebhookRemover interface {
	// RemoveWebhook deletes the subscription. Missing hooks are not an error.
	RemoveWebhook(ctx context.Context, handle domain.WebhookHandle) error
}

// ExternalIdentifier is implemented by connectors that know the identifier
// provider webhooks carry for their source. Valid after Validate succeeds.
type ExternalIdentifier interface {
	ExternalID() string
}

// Watcher is implemented by connectors that push changes in-process.
type Watcher interface {
	// Watch streams changes until ctx is cancelled.
	Watch(ctx context.Context) (<-chan domain.FileChange, error)
}

// ConnectorCapabilities describes what a connector supports.
type ConnectorCapabilities struct {
	// SupportsWebhooks indicates the provider pushes notifications.
	SupportsWebhooks bool

	// SupportsPolling indicates changes are discovered by polling.
	SupportsPolling bool

	// SupportsChangeFeed indicates the connector implements ChangeLister.
	SupportsChangeFeed bool

	// SupportsWatch indicates the connector implements Watcher.
	SupportsWatch bool

	// RequiresAuth indicates the connector needs a token.
	// False for local connectors.
	RequiresAuth bool

	// SupportsRateLimiting indicates the connector reads provider quota headers.
	SupportsRateLimiting bool
}

// SyncComplete is sent on the error channel when a listing completes.
// Carries the provider cursor at listing time.
type SyncComplete struct {
	NewCursor string
}

// Error implements the error interface.
// This allows SyncComplete to be sent on the error channel.
func (SyncComplete) Error() string {
	return "sync complete"
}

// IsSyncComplete checks if an error is actually a successful completion.
// Returns the SyncComplete and true if it is, nil and false otherwise.
func IsSyncComplete(err error) (*SyncComplete, bool) {
	var sc *SyncComplete
	if errors.As(err, &sc) {
		return sc, true
	}
	return nil, false
}
