package driving

import "context"

// Scheduler runs graph maintenance in the background.
type Scheduler interface {
	// Start begins running scheduled tasks.
	// Blocks until context is cancelled or an error occurs.
	Start(ctx context.Context) error

	// Stop gracefully stops all running tasks.
	Stop() error

	// Notify signals that the graph changed. It never blocks; bursts of
	// notifications coalesce into one maintenance run.
	Notify()
}
