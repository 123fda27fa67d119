package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// FileInfo is one entry yielded by a connector listing.
type FileInfo struct {
	// Path is the provider path relative to the source root.
	Path string

	// SizeBytes is the reported size, zero when unknown.
	SizeBytes int64

	// ContentHash is the provider-side hash (blob SHA, content_hash, md5).
	// Empty when the provider does not expose one.
	ContentHash string

	// LastModified is the provider modification time.
	LastModified time.Time
}

// FileRecord is one row per path known within a Source.
type FileRecord struct {
	// SourceID links to the owning Source.
	SourceID string

	// Path is unique per source.
	Path string

	// ContentHash is the sha256 of the indexed bytes, used for change
	// detection and dedup.
	ContentHash string

	// ProviderHash is the provider-side hash seen at the last listing.
	// It lets a sync skip unchanged files without fetching them.
	ProviderHash string

	// SizeBytes is the size of the indexed content.
	SizeBytes int64

	// Language is derived from the file extension.
	Language string

	// LastModified comes from the provider.
	LastModified time.Time

	// LastIndexedAt is when the pipeline last completed for this path.
	LastIndexedAt time.Time

	// Sequence is the ordinal of the last change applied to this path.
	Sequence int64
}

// ChangeKind is the kind of a FileChange.
type ChangeKind string

// Change kinds.
const (
	ChangeAdded    ChangeKind = "added"
	ChangeModified ChangeKind = "modified"
	ChangeRemoved  ChangeKind = "removed"
)

// FileChange is a provider-agnostic change event for one path.
type FileChange struct {
	// Path is the affected path.
	Path string

	// Kind is added, modified or removed.
	Kind ChangeKind

	// Sequence orders changes to a path. Connectors number changes within
	// a payload; the change is restamped with an arrival ordinal from an
	// OrdinalClock when it is logged.
	Sequence int64

	// Cursor is the provider position this change belongs to (commit id).
	Cursor string
}

// CollapseChanges keeps the newest change per path, preserving first-seen
// order of paths. Changes with equal sequence keep delivery order.
func CollapseChanges(changes []FileChange) []FileChange {
	if len(changes) == 0 {
		return nil
	}
	index := make(map[string]int, len(changes))
	out := make([]FileChange, 0, len(changes))
	for _, c := range changes {
		if i, ok := index[c.Path]; ok {
			if c.Sequence >= out[i].Sequence {
				out[i] = c
			}
			continue
		}
		index[c.Path] = len(out)
		out = append(out, c)
	}
	return out
}

// HashContent returns the hex sha256 of content.
func HashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
