package domain

import (
	"fmt"
	"strings"
	"time"
)

// EmbeddingState is the embedding lifecycle of a chunk.
type EmbeddingState string

// Embedding states.
const (
	EmbeddingPending    EmbeddingState = "pending"
	EmbeddingProcessing EmbeddingState = "processing"
	EmbeddingEmbedded   EmbeddingState = "embedded"
	EmbeddingFailed     EmbeddingState = "failed"
)

// ChunkRecord is the always-persisted metadata of a chunk.
// The body text lives in whichever retention tier is configured.
type ChunkRecord struct {
	// ID is the unique identifier for the chunk.
	ID string

	// TenantID scopes deduplication.
	TenantID string

	// SourceID links to the Source the chunk came from.
	SourceID string

	// FilePath is the path of the file the chunk came from.
	FilePath string

	// ChunkIndex is the ordinal position within the file.
	ChunkIndex int

	// ContentHash is the sha256 of the chunk text. Stable under re-processing.
	ContentHash string

	// GraphNodeID references the downstream graph node.
	GraphNodeID string

	// EmbeddingState is the embedding lifecycle state.
	EmbeddingState EmbeddingState

	// Summary is an optional short description returned by the chunker.
	Summary string

	// TokenCount is the chunker's token estimate.
	TokenCount int

	// BodyKey locates the body in the retention tier, empty when discarded.
	BodyKey string

	// PurgeAt is when a ttl-store body expires. Zero for other tiers.
	PurgeAt time.Time

	// RemovedAt marks the chunk for downstream removal.
	RemovedAt *time.Time

	// CreatedAt is when the record was written.
	CreatedAt time.Time

	// EmbeddedAt is when the embedding completed.
	EmbeddedAt time.Time
}

// IsEmbedded reports whether the chunk can be reused by dedup.
func (c *ChunkRecord) IsEmbedded() bool {
	return c.EmbeddingState == EmbeddingEmbedded && c.GraphNodeID != ""
}

// RetentionMode selects where chunk bodies live.
type RetentionMode string

// Retention modes.
const (
	RetentionEphemeral       RetentionMode = "ephemeral"
	RetentionTTLStore        RetentionMode = "ttl-store"
	RetentionFullPersistence RetentionMode = "full-persistence"
)

// ParseRetentionMode converts a configuration value into a RetentionMode.
// The legacy names mongo-ttl and postgres are accepted.
func ParseRetentionMode(s string) (RetentionMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "ephemeral":
		return RetentionEphemeral, nil
	case "ttl-store", "ttl", "mongo-ttl":
		return RetentionTTLStore, nil
	case "full-persistence", "full", "postgres":
		return RetentionFullPersistence, nil
	default:
		return "", fmt.Errorf("%w: retention mode %q", ErrInvalidInput, s)
	}
}

// ChunkBody is a body stored by a retention tier.
type ChunkBody struct {
	// Key locates the body.
	Key string

	// TenantID owns the body.
	TenantID string

	// ContentHash is the hash of Text.
	ContentHash string

	// Text is the chunk body.
	Text string

	// PurgeAt is the expiry for ttl-store bodies.
	PurgeAt time.Time
}

// StorageStats summarises chunk storage for one tenant.
type StorageStats struct {
	TenantID string
	Total    int
	Embedded int
	Pending  int
	Failed   int
	Removed  int
}
