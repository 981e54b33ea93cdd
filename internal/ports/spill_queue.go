package ports

import (
	"context"

	"github.com/bft-labs/fanrelay/internal/domain"
)

// SpillQueue is a FIFO that overflows to secondary storage instead of
// blocking the inserter or growing memory without bound.
type SpillQueue[T any] interface {
	// Start prepares storage and background work. Call once before Put.
	Start() error

	// Stop releases storage and wakes blocked pollers with domain.ErrQueueClosed.
	// Items still queued are discarded.
	Stop() error

	// Put never blocks. Items that cannot be kept are logged, not returned.
	Put(item T)

	// Poll blocks until an item is available, ctx is done or the queue stops.
	Poll(ctx context.Context) (T, error)

	// Len returns the number of queued items in memory and on disk.
	Len() int
}

// QueueFactory creates the spill queue of one client connection.
type QueueFactory interface {
	NewQueue(name string) (SpillQueue[*domain.Batch], error)
}
