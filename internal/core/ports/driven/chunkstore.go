package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
)

// ChunkStore persists chunk metadata. Always written before any body.
type ChunkStore interface {
	// Save creates or updates a chunk record.
	Save(ctx context.Context, chunk domain.ChunkRecord) error

	// Get returns a chunk by ID.
	Get(ctx context.Context, id string) (*domain.ChunkRecord, error)

	// FindEmbedded returns a live embedded chunk with the same tenant and
	// content hash, or domain.ErrNotFound.
	FindEmbedded(ctx context.Context, tenantID, contentHash string) (*domain.ChunkRecord, error)

	// ListByFile returns live chunks of a file.
	ListByFile(ctx context.Context, sourceID, path string) ([]domain.ChunkRecord, error)

	// MarkRemovedByFile flags the chunks of a file for downstream removal.
	MarkRemovedByFile(ctx context.Context, sourceID, path string, at time.Time) (int, error)

	// MarkRemovedBySource flags all chunks of a source for downstream removal.
	MarkRemovedBySource(ctx context.Context, sourceID string, at time.Time) (int, error)

	// MarkRemovedByTenant flags all chunks of a tenant and returns their body keys.
	MarkRemovedByTenant(ctx context.Context, tenantID string, at time.Time) ([]string, error)

	// FailStalePending moves chunks pending since before `before` to failed.
	FailStalePending(ctx context.Context, before time.Time) (int, error)

	// Stats summarises chunk storage for a tenant.
	Stats(ctx context.Context, tenantID string) (*domain.StorageStats, error)
}

// BodyStore stores chunk bodies for the ttl-store and full-persistence tiers.
type BodyStore interface {
	// Put writes a body and returns its key.
	Put(ctx context.Context, body domain.ChunkBody) (string, error)

	// Get reads a body, or fails with domain.ErrBodyUnavailable.
	Get(ctx context.Context, key string) (*domain.ChunkBody, error)

	// Delete removes a body. Missing bodies are not an error.
	Delete(ctx context.Context, key string) error

	// DeleteExpired removes bodies whose purge time is before now.
	// Stores without expiry return zero.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}
