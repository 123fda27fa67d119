package driving

import "context"

// Scheduler manages background maintenance tasks such as the TTL sweep,
// job cleanup and poll-driven syncs.
type Scheduler interface {
	// Start begins running scheduled tasks.
	// Blocks until context is cancelled or an error occurs.
	Start(ctx context.Context) error

	// Stop gracefully stops all running tasks.
	Stop() error
}
