package domain

import (
	"fmt"
	"strings"
	"time"
)

// ProviderType identifies the upstream system behind a Source.
type ProviderType string

// Supported and stubbed provider types.
const (
	ProviderGitHub     ProviderType = "github"
	ProviderGitLab     ProviderType = "gitlab"
	ProviderBitbucket  ProviderType = "bitbucket"
	ProviderGDrive     ProviderType = "gdrive"
	ProviderDropbox    ProviderType = "dropbox"
	ProviderLocal      ProviderType = "local"
	ProviderOneDrive   ProviderType = "onedrive"
	ProviderNotion     ProviderType = "notion"
	ProviderSlack      ProviderType = "slack"
	ProviderConfluence ProviderType = "confluence"
	ProviderURL        ProviderType = "url"
)

// ParseProviderType converts a string to a ProviderType.
// Accepts a few aliases used by older configuration files.
func ParseProviderType(s string) (ProviderType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "github":
		return ProviderGitHub, nil
	case "gitlab":
		return ProviderGitLab, nil
	case "bitbucket":
		return ProviderBitbucket, nil
	case "gdrive", "google-drive", "google_drive":
		return ProviderGDrive, nil
	case "dropbox":
		return ProviderDropbox, nil
	case "local", "filesystem", "local_file":
		return ProviderLocal, nil
	case "onedrive":
		return ProviderOneDrive, nil
	case "notion":
		return ProviderNotion, nil
	case "slack":
		return ProviderSlack, nil
	case "confluence":
		return ProviderConfluence, nil
	case "url", "url_scraper":
		return ProviderURL, nil
	default:
		return "", fmt.Errorf("%w: provider %q", ErrUnsupportedType, s)
	}
}

// SourceStatus is the lifecycle state of a Source.
type SourceStatus string

// Source lifecycle states.
const (
	SourceStatusPending SourceStatus = "pending"
	SourceStatusSyncing SourceStatus = "syncing"
	SourceStatusSynced  SourceStatus = "synced"
	SourceStatusError   SourceStatus = "error"
)

// Source represents a configured connection to one provider instance.
// It is owned by the orchestrator: created on connect, mutated on every
// sync transition and soft-deleted on disconnect.
type Source struct {
	// ID is the unique identifier for the source.
	ID string

	// TenantID scopes chunk deduplication and retention.
	TenantID string

	// UserID is the owner whose credentials are used for provider calls.
	UserID string

	// Provider identifies the connector variant.
	Provider ProviderType

	// Name is the human-readable name for this source.
	Name string

	// ExternalID is the provider-supplied identifier carried by webhooks
	// (repository full name, project id, Dropbox account id, Drive channel id).
	ExternalID string

	// Config contains filters and provider-specific settings.
	Config SourceConfig

	// Status is the current lifecycle state.
	Status SourceStatus

	// LastSyncAt is when the last successful sync completed.
	LastSyncAt time.Time

	// LastError is the most recent terminal error, empty when healthy.
	LastError string

	// Cursor is the change-feed position (commit SHA, page token, list cursor).
	Cursor string

	// Webhook is the subscription handle, nil when none is registered.
	Webhook *WebhookHandle

	// CreatedAt is when the source was created.
	CreatedAt time.Time

	// UpdatedAt is when the source was last updated.
	UpdatedAt time.Time

	// DeletedAt is set when the source has been disconnected.
	DeletedAt *time.Time
}

// IsDeleted reports whether the source has been disconnected.
func (s *Source) IsDeleted() bool {
	return s.DeletedAt != nil
}

// Setting returns a provider-specific setting or the fallback.
func (s *Source) Setting(key, fallback string) string {
	if v, ok := s.Config.Settings[key]; ok && v != "" {
		return v
	}
	return fallback
}

// SourceConfig holds the per-source filters and provider settings.
type SourceConfig struct {
	// IncludePaths are glob patterns a path must match (empty matches all).
	IncludePaths []string

	// ExcludePaths are glob patterns that drop a path.
	ExcludePaths []string

	// Languages restricts files to these languages (empty allows all).
	Languages []string

	// Branch is the ref to sync for Git providers.
	Branch string

	// MaxFileSizeBytes drops files above this size. Zero uses the default.
	MaxFileSizeBytes int64

	// WebhookSecret is the shared secret used to verify provider signatures.
	WebhookSecret string

	// Settings holds provider keys such as repository, project, workspace,
	// root_path or folder_id.
	Settings map[string]string
}

// DefaultMaxFileSize is applied when a source does not set MaxFileSizeBytes.
const DefaultMaxFileSize int64 = 10 * 1024 * 1024

// EffectiveMaxFileSize returns the configured cap or the default.
func (c SourceConfig) EffectiveMaxFileSize() int64 {
	if c.MaxFileSizeBytes > 0 {
		return c.MaxFileSizeBytes
	}
	return DefaultMaxFileSize
}

// CanTransition reports whether a source may move from one status to another.
func CanTransition(from, to SourceStatus) bool {
	switch from {
	case SourceStatusPending, SourceStatusSynced, SourceStatusError:
		return to == SourceStatusSyncing
	case SourceStatusSyncing:
		return to == SourceStatusSynced || to == SourceStatusError
	default:
		return false
	}
}
