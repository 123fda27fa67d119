// Package sqlite provides a unified SQLite-based implementation of driven port interfaces.
//
// This adapter uses modernc.org/sqlite, a pure Go SQLite implementation that requires
// no CGO, enabling easy cross-compilation. It implements every store through a single
// database file:
//
//   - SourceStore: Source configuration and status
//   - FileStore: File records and per-path change ordinals
//   - JobQueue: Durable lease-based work queue
//   - WebhookEventStore: Received notification log
//   - ChunkStore: Chunk metadata
//   - BodyStore: Chunk bodies for the full-persistence tier
//   - SchedulerStore: Scheduled task state
//
// # Schema
//
// The database schema is managed through versioned migrations stored in the
// migrations/ directory. Each migration is a pair of .up.sql and .down.sql files.
// Timestamps are stored as Unix nanoseconds.
//
// # Data Location
//
// By default, the database is stored at ~/.sercha/sync/sync.db
//
// # Thread Safety
//
// All operations are thread-safe. The store holds a single connection in WAL mode,
// which serialises writers.
package sqlite
