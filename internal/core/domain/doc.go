// Package domain defines the core business entities for Sercha Sync.
//
// This package is part of the hexagonal architecture's innermost layer.
// It has NO external dependencies and defines the fundamental types:
//
//   - Source: A configured connection to one provider instance
//   - FileRecord: One known path within a Source
//   - SyncJob: One queued or executing unit of orchestration work
//   - WebhookEvent: An immutable log entry of a provider notification
//   - ChunkRecord: Always-persisted metadata for a processed chunk
//
// # Architectural Position
//
// Domain is at the centre of the hexagon. It may only import
// the Go standard library. All other packages depend on domain,
// never the reverse.
//
// # Import Rules
//
//   - Can Import: Standard library only
//   - Cannot Import: Any internal/ package, any external dependency
package domain
