package ports

import (
	"context"

	"github.com/bft-labs/fanrelay/internal/domain"
)

// EventHandler receives each upstream event on the producer's single
// consumer goroutine. OnEvent must return quickly and must not block.
type EventHandler interface {
	OnEvent(msg domain.Message, sequence uint64, endOfBatch bool)
}

// EventHandlerFunc adapts a function to EventHandler.
type EventHandlerFunc func(msg domain.Message, sequence uint64, endOfBatch bool)

func (f EventHandlerFunc) OnEvent(msg domain.Message, sequence uint64, endOfBatch bool) {
	f(msg, sequence, endOfBatch)
}

// Producer is the lifecycle of the upstream source feeding an EventHandler.
type Producer interface {
	// Init connects the source and starts delivering events.
	Init(ctx context.Context) error

	// Cleanup stops delivery and releases the source. Safe to call more than once.
	Cleanup() error
}
