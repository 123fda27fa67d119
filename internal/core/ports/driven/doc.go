// Package driven defines the interfaces that core calls OUT to infrastructure.
//
// These are the "driven" or "secondary" ports in hexagonal architecture.
// Core services depend on these interfaces, and infrastructure adapters
// implement them.
//
// # Required Interfaces
//
// These must be provided for the application to function:
//
//   - Connector: Lists and fetches files from one provider instance
//   - ConnectorFactory: Creates connectors from an explicit provider map
//   - CredentialProvider: Supplies bearer tokens per user and provider
//   - SourceStore, FileStore: Source and file record persistence
//   - JobQueue: Durable at-least-once work queue
//   - WebhookEventStore: Webhook event log
//   - ChunkStore: Always-persisted chunk metadata
//   - Normaliser, Chunker, Embedder, GraphWriter: Downstream pipeline services
//   - SchedulerStore: Scheduled task state
//
// # Optional Interfaces
//
// These can be nil - the application degrades gracefully:
//
//   - BodyStore: Chunk body storage. Nil in ephemeral retention mode.
//
// # Import Rules
//
//   - Can Import: domain package only
//   - Cannot Import: Any adapter or connector package
package driven
