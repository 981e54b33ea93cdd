package upstream

import (
	"context"
	"errors"
	"sync"

	"github.com/bft-labs/fanrelay/internal/domain"
	"github.com/bft-labs/fanrelay/internal/ports"
	"github.com/bft-labs/fanrelay/pkg/log"
)

// DefaultRingSize is the number of buffered events when no size is given.
const DefaultRingSize = 8192

// ErrRingClosed is returned when publishing into a ring after Cleanup.
var ErrRingClosed = errors.New("upstream: ring closed")

type ringState int

const (
	ringIdle ringState = iota
	ringRunning
	ringClosed
)

// Ring is a bounded multi-producer, single-consumer event buffer. Publishers
// are serialized so sequence order equals delivery order.
type Ring struct {
	handler ports.EventHandler
	logger  log.Logger
	events  chan domain.Message
	done    chan struct{}
	drained chan struct{}

	pubMu sync.Mutex
	seq   uint64

	mu    sync.Mutex
	state ringState
}

// NewRing creates a ring of the given size delivering to handler.
func NewRing(size int, handler ports.EventHandler, logger log.Logger) *Ring {
	if size <= 0 {
		size = DefaultRingSize
	}
	if logger == nil {
		logger = log.NoopLogger{}
	}
	return &Ring{
		handler: handler,
		logger:  logger,
		events:  make(chan domain.Message, size),
		done:    make(chan struct{}),
		drained: make(chan struct{}),
	}
}

// Init starts the consumer goroutine. Events published before Init are
// buffered and delivered once it runs.
func (r *Ring) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.state {
	case ringRunning:
		return nil
	case ringClosed:
		return ErrRingClosed
	}
	r.state = ringRunning

	go r.consume()
	r.logger.Debug("ring consumer started", log.Int("size", cap(r.events)))
	return nil
}

func (r *Ring) consume() {
	defer close(r.drained)
	for msg := range r.events {
		r.handler.OnEvent(msg, msg.Seq, len(r.events) == 0)
	}
}

// Publish copies payload into the ring under the next sequence number,
// blocking while the ring is full.
func (r *Ring) Publish(ctx context.Context, payload []byte) error {
	r.pubMu.Lock()
	defer r.pubMu.Unlock()

	if r.closed() {
		return ErrRingClosed
	}
	msg := domain.NewMessage(r.seq+1, payload)

	select {
	case r.events <- msg:
		r.seq++
		return nil
	case <-r.done:
		return ErrRingClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryPublish is Publish without blocking. It reports false when the ring is
// full or closed.
func (r *Ring) TryPublish(payload []byte) bool {
	r.pubMu.Lock()
	defer r.pubMu.Unlock()

	if r.closed() {
		return false
	}
	select {
	case r.events <- domain.NewMessage(r.seq+1, payload):
		r.seq++
		return true
	default:
		return false
	}
}

// Cleanup rejects further publishes, delivers whatever is buffered and stops
// the consumer. It is a no-op before Init and safe to call more than once.
func (r *Ring) Cleanup() error {
	r.mu.Lock()
	if r.state != ringRunning {
		r.mu.Unlock()
		return nil
	}
	r.state = ringClosed
	close(r.done)
	r.mu.Unlock()

	r.pubMu.Lock()
	close(r.events)
	r.pubMu.Unlock()

	<-r.drained
	r.logger.Debug("ring drained", log.Uint64("published", r.Published()))
	return nil
}

func (r *Ring) closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == ringClosed
}

// Len returns the number of buffered events.
func (r *Ring) Len() int {
	return len(r.events)
}

// Published returns the last assigned sequence number.
func (r *Ring) Published() uint64 {
	r.pubMu.Lock()
	defer r.pubMu.Unlock()
	return r.seq
}
