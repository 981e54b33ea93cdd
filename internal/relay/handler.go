package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/bft-labs/fanrelay/internal/domain"
	"github.com/bft-labs/fanrelay/internal/ports"
	"github.com/bft-labs/fanrelay/pkg/log"
)

const (
	DefaultBatchSize        = 1000
	DefaultFlushInterval    = 2 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
)

// HandlerConfig tunes a connection handler.
type HandlerConfig struct {
	// BatchSize is the pending message count that triggers a flush.
	BatchSize int

	// FlushInterval is the period of the status log and forced flush.
	FlushInterval time.Duration

	// WriteTimeout bounds each batch write. Zero blocks until the peer reads.
	WriteTimeout time.Duration

	// HandshakeTimeout bounds the TLS handshake of secure connections.
	HandshakeTimeout time.Duration
}

// SetDefaults fills zero values.
func (c *HandlerConfig) SetDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
}

// HandlerState is the connection handler state.
type HandlerState int32

const (
	HandlerCreated HandlerState = iota
	HandlerRunning
	HandlerStopped
)

func (s HandlerState) String() string {
	switch s {
	case HandlerCreated:
		return "Created"
	case HandlerRunning:
		return "Running"
	case HandlerStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// ConnectionHandler delivers the event stream to one client socket. Intake
// runs on the distributor goroutine; Run owns the socket on its own
// goroutine. A handler runs once and is never reused.
type ConnectionHandler struct {
	id          string
	conn        net.Conn
	remote      string
	queue       ports.SpillQueue[*domain.Batch]
	distributor *Distributor
	cfg         HandlerConfig
	logger      log.Logger
	metrics     *Metrics

	mu      sync.Mutex
	pending []domain.Message

	state    atomic.Int32
	open     atomic.Bool
	received atomic.Uint64
	sent     atomic.Uint64

	interrupt     context.Context
	stopInterrupt context.CancelFunc
	done          chan struct{}
}

// NewConnectionHandler binds conn and allocates its queue from queues.
func NewConnectionHandler(
	conn net.Conn,
	queues ports.QueueFactory,
	distributor *Distributor,
	cfg HandlerConfig,
	logger log.Logger,
	metrics *Metrics,
) (*ConnectionHandler, error) {
	cfg.SetDefaults()
	if logger == nil {
		logger = log.NoopLogger{}
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	id := uuid.NewString()
	q, err := queues.NewQueue(id)
	if err != nil {
		return nil, fmt.Errorf("allocate queue for %s: %w", conn.RemoteAddr(), err)
	}

	remote := conn.RemoteAddr().String()
	interrupt, stop := context.WithCancel(context.Background())
	return &ConnectionHandler{
		id:            id,
		conn:          conn,
		remote:        remote,
		queue:         q,
		distributor:   distributor,
		cfg:           cfg,
		logger:        log.With(logger, log.String("conn_id", id), log.String("remote", remote)),
		metrics:       metrics,
		pending:       make([]domain.Message, 0, cfg.BatchSize),
		interrupt:     interrupt,
		stopInterrupt: stop,
		done:          make(chan struct{}),
	}, nil
}

// ID returns the handler's unique connection id.
func (h *ConnectionHandler) ID() string { return h.id }

// RemoteAddr returns the client address.
func (h *ConnectionHandler) RemoteAddr() string { return h.remote }

// State returns the current handler state.
func (h *ConnectionHandler) State() HandlerState { return HandlerState(h.state.Load()) }

// Open reports whether the delivery loop is running on an open socket.
func (h *ConnectionHandler) Open() bool { return h.open.Load() }

// Received returns the number of messages taken in from the distributor.
func (h *ConnectionHandler) Received() uint64 { return h.received.Load() }

// Sent returns the number of messages written to the socket.
func (h *ConnectionHandler) Sent() uint64 { return h.sent.Load() }

// QueueDepth returns the number of batches waiting for the socket.
func (h *ConnectionHandler) QueueDepth() int { return h.queue.Len() }

// Done is closed once the handler has stopped.
func (h *ConnectionHandler) Done() <-chan struct{} { return h.done }

// Interrupt asks Run to exit and closes the socket so a blocked write returns.
func (h *ConnectionHandler) Interrupt() {
	h.stopInterrupt()
	_ = h.conn.Close()
}

// Run delivers queued batches to the socket until ctx is done, Interrupt is
// called, or the socket fails. Shutdown happens on every exit path.
func (h *ConnectionHandler) Run(ctx context.Context) error {
	if !h.state.CompareAndSwap(int32(HandlerCreated), int32(HandlerRunning)) {
		return domain.ErrHandlerStopped
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopWatch := context.AfterFunc(h.interrupt, cancel)
	defer stopWatch()

	var (
		registered bool
		queueUp    bool
		stopStatus func()
	)
	defer func() {
		h.shutdown(registered, queueUp, stopStatus)
	}()

	if err := h.handshake(ctx); err != nil {
		h.logger.Warn("tls handshake failed", log.Err(err))
		return nil
	}

	if err := h.queue.Start(); err != nil {
		h.logger.Error("unable to start client queue", log.Err(err))
		return err
	}
	queueUp = true

	registered = h.distributor.RegisterHandler(h)
	stopStatus = h.startStatusTask(ctx)
	h.open.Store(true)

	return h.deliver(ctx)
}

func (h *ConnectionHandler) handshake(ctx context.Context) error {
	hs, ok := h.conn.(interface {
		HandshakeContext(context.Context) error
	})
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, h.cfg.HandshakeTimeout)
	defer cancel()
	return hs.HandshakeContext(ctx)
}

func (h *ConnectionHandler) deliver(ctx context.Context) error {
	for {
		batch, err := h.queue.Poll(ctx)
		if err != nil {
			if h.interrupted(ctx) || errors.Is(err, domain.ErrQueueClosed) {
				h.logger.Debug("delivery interrupted")
				return nil
			}
			h.logger.Error("unexpected error waiting for client queue", log.Err(err))
			return err
		}

		if err := h.write(batch); err != nil {
			h.metrics.WriteFailures.Inc()
			h.metrics.BatchesAbandoned.Inc()
			if h.interrupted(ctx) {
				h.logger.Warn("write interrupted, batch abandoned",
					log.Int("unsent", batch.Size()),
					log.Uint64("first_seq", batch.FirstSeq()),
					log.Uint64("last_seq", batch.LastSeq()),
				)
				return nil
			}
			h.logger.Warn("client disconnected",
				log.Err(err),
				log.Int("unsent", batch.Size()),
				log.Uint64("first_seq", batch.FirstSeq()),
				log.Uint64("last_seq", batch.LastSeq()),
				log.Uint64("sent", h.sent.Load()),
			)
			return nil
		}
	}
}

// interrupted reports whether ctx is done or Interrupt was called.
// Interrupt cancels h.interrupt before it closes the socket.
func (h *ConnectionHandler) interrupted(ctx context.Context) bool {
	return ctx.Err() != nil || h.interrupt.Err() != nil
}

func (h *ConnectionHandler) write(b *domain.Batch) error {
	if b.Empty() {
		return nil
	}
	if h.cfg.WriteTimeout > 0 {
		if err := h.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout)); err != nil {
			return err
		}
	}
	bufs := net.Buffers(b.Payloads())
	n, err := bufs.WriteTo(h.conn)
	h.metrics.BytesSent.Add(float64(n))
	if err != nil {
		return err
	}
	h.sent.Add(uint64(b.Size()))
	h.metrics.MessagesSent.Add(float64(b.Size()))
	return nil
}

// startStatusTask runs the periodic status log and flush. The returned func
// cancels the task and waits for it.
func (h *ConnectionHandler) startStatusTask(ctx context.Context) func() {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		ticker := time.NewTicker(h.cfg.FlushInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.logger.Info("client status",
					log.Int("queue_depth", h.queue.Len()),
					log.Uint64("received", h.received.Load()),
					log.Uint64("sent", h.sent.Load()),
				)
				h.Flush()
			}
		}
	}()

	return func() {
		cancel()
		wg.Wait()
	}
}

func (h *ConnectionHandler) shutdown(registered, queueUp bool, stopStatus func()) {
	h.open.Store(false)
	h.state.Store(int32(HandlerStopped))

	if err := h.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		h.logger.Warn("error closing client socket", log.Err(err))
	}
	if registered {
		h.distributor.DeregisterHandler(h)
	}
	if stopStatus != nil {
		stopStatus()
	}

	h.mu.Lock()
	pending := len(h.pending)
	h.pending = nil
	h.mu.Unlock()

	if queueUp {
		if depth := h.queue.Len(); depth > 0 || pending > 0 {
			h.metrics.BatchesAbandoned.Add(float64(depth))
			h.logger.Warn("abandoning undelivered data",
				log.Int("batches", depth),
				log.Int("pending_messages", pending),
			)
		}
		if err := h.queue.Stop(); err != nil {
			h.logger.Warn("error stopping client queue", log.Err(err))
		}
	}

	h.stopInterrupt()
	close(h.done)
	h.logger.Info("client handler stopped",
		log.Uint64("received", h.received.Load()),
		log.Uint64("sent", h.sent.Load()),
	)
}

// Intake appends msg to the pending batch and queues the batch once it is
// full. It never blocks on the socket.
func (h *ConnectionHandler) Intake(msg domain.Message) {
	if h.State() == HandlerStopped {
		return
	}
	h.received.Add(1)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pending == nil && h.State() == HandlerStopped {
		return
	}
	h.pending = append(h.pending, msg)
	if len(h.pending) >= h.cfg.BatchSize {
		h.flushLocked()
	}
}

// Flush queues the pending batch if it is not empty.
func (h *ConnectionHandler) Flush() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.pending) > 0 {
		h.flushLocked()
	}
}

func (h *ConnectionHandler) flushLocked() {
	batch := domain.NewBatch(h.pending)
	h.pending = make([]domain.Message, 0, h.cfg.BatchSize)
	h.queue.Put(batch)
}
