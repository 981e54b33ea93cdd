package domain

import "errors"

// Errors shared by the relay packages. Check them with errors.Is.
var (
	// ErrQueueClosed is returned by Poll once the queue has been stopped.
	ErrQueueClosed = errors.New("fanrelay: queue closed")

	// ErrHandlerStopped is returned when a stopped connection handler is run again.
	ErrHandlerStopped = errors.New("fanrelay: handler stopped")

	// ErrCorruptBatch is returned when a spilled batch fails to decode.
	ErrCorruptBatch = errors.New("fanrelay: corrupt batch")

	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("fanrelay: invalid configuration")
)
