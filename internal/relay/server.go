package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/bft-labs/fanrelay/internal/ports"
	"github.com/bft-labs/fanrelay/internal/sockets"
	"github.com/bft-labs/fanrelay/pkg/lifecycle"
	"github.com/bft-labs/fanrelay/pkg/log"
)

// ErrServerClosed is returned by ListenAndServe after Stop.
var ErrServerClosed = errors.New("relay: server closed")

// DefaultPort is the client port used when none is configured.
const DefaultPort = 8900

// ConnectionObserver is notified about client connections. Calls happen on
// the accept and handler goroutines and must return quickly.
type ConnectionObserver interface {
	OnClientConnected(id, remote string)
	OnClientDisconnected(id, remote string, sent uint64)
	OnClientRejected(remote, reason string)
}

// ServerConfig configures the accept server.
type ServerConfig struct {
	// Address is the listen address, e.g. ":8900".
	Address string

	// ShutdownTimeout bounds how long Stop waits for handlers to exit.
	ShutdownTimeout time.Duration
}

// ServerOption configures optional server collaborators.
type ServerOption func(*Server)

func WithServerLogger(l log.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

func WithServerMetrics(m *Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

func WithAdmission(a *Admission) ServerOption {
	return func(s *Server) { s.admission = a }
}

func WithObserver(o ConnectionObserver) ServerOption {
	return func(s *Server) { s.observer = o }
}

// WithStateEmitter receives server lifecycle transitions.
func WithStateEmitter(e lifecycle.EventEmitter) ServerOption {
	return func(s *Server) { s.emitter = e }
}

// Server accepts client connections and runs one ConnectionHandler per
// connection. It also owns the upstream producer lifecycle. A Server serves
// once; after Stop, ListenAndServe returns ErrServerClosed.
type Server struct {
	cfg       ServerConfig
	sockets   sockets.ServerFactory
	handlers  HandlerFactory
	producer  ports.Producer
	admission *Admission
	observer  ConnectionObserver
	emitter   lifecycle.EventEmitter
	lifecycle *lifecycle.DefaultManager
	logger    log.Logger
	metrics   *Metrics

	mu        sync.Mutex
	listener  net.Listener
	active    map[*ConnectionHandler]struct{}
	cancel    context.CancelFunc
	closed    bool
	listening chan struct{}

	stopOnce sync.Once
	stopErr  error
}

// NewServer creates a server. producer may be nil when events are injected
// directly into the distributor.
func NewServer(cfg ServerConfig, factory sockets.ServerFactory, handlers HandlerFactory, producer ports.Producer, opts ...ServerOption) *Server {
	if cfg.Address == "" {
		cfg.Address = fmt.Sprintf(":%d", DefaultPort)
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = lifecycle.ShutdownTimeout
	}

	s := &Server{
		cfg:       cfg,
		sockets:   factory,
		handlers:  handlers,
		producer:  producer,
		active:    make(map[*ConnectionHandler]struct{}),
		listening: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.NoopLogger{}
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(nil)
	}
	s.lifecycle = lifecycle.NewManager(s.logger, s.emitter)
	return s
}

// ListenAndServe binds the listener, initializes the producer and accepts
// connections until Stop is called or ctx is done, returning nil in both
// cases. Bind, producer and accept failures stop the server and are returned.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrServerClosed
	}
	if !s.lifecycle.CanStart() {
		s.mu.Unlock()
		return fmt.Errorf("relay: cannot listen while %s", s.lifecycle.State())
	}
	if err := s.lifecycle.TransitionTo(lifecycle.StateStarting, "listen"); err != nil {
		s.mu.Unlock()
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	defer cancel()
	stopOnCancel := context.AfterFunc(ctx, func() { _ = s.Stop() })
	defer stopOnCancel()

	ln, err := s.sockets.Listen("tcp", s.cfg.Address)
	if err != nil {
		s.logger.Error("unable to bind listener", log.String("addr", s.cfg.Address), log.Err(err))
		s.fail("bind failed")
		return fmt.Errorf("relay: listen %s: %w", s.cfg.Address, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = ln.Close()
		return ErrServerClosed
	}
	s.listener = ln
	close(s.listening)
	s.mu.Unlock()

	if s.producer != nil {
		if err := s.producer.Init(ctx); err != nil {
			s.logger.Error("unable to initialize producer", log.Err(err))
			s.fail("producer init failed")
			return fmt.Errorf("relay: init producer: %w", err)
		}
	}

	if err := s.lifecycle.TransitionTo(lifecycle.StateRunning, "accepting"); err != nil {
		// Stop won the race while the producer was starting.
		if s.producer != nil {
			_ = s.producer.Cleanup()
		}
		return nil
	}
	s.logger.Info("relay listening",
		log.String("addr", ln.Addr().String()),
		log.Bool("secure", s.sockets.Secure()),
	)

	for {
		if err := s.admission.Wait(ctx); err != nil {
			_ = s.Stop()
			return nil
		}

		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() || errors.Is(err, net.ErrClosed) {
				_ = s.Stop()
				return nil
			}
			s.logger.Error("accept failed", log.Err(err))
			s.fail("accept failed")
			return fmt.Errorf("relay: accept: %w", err)
		}
		s.serve(ctx, conn)
	}
}

func (s *Server) serve(ctx context.Context, conn net.Conn) {
	remote := conn.RemoteAddr().String()

	release, reason, ok := s.admission.Admit()
	if !ok {
		s.metrics.ConnectionsRejected.WithLabelValues(reason).Inc()
		s.logger.Warn("connection rejected", log.String("remote", remote), log.String("reason", reason))
		_ = conn.Close()
		if s.observer != nil {
			s.observer.OnClientRejected(remote, reason)
		}
		return
	}

	h, err := s.handlers.NewHandler(conn)
	if err != nil {
		release()
		s.logger.Error("unable to create connection handler", log.String("remote", remote), log.Err(err))
		_ = conn.Close()
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		release()
		_ = conn.Close()
		return
	}
	s.active[h] = struct{}{}
	n := len(s.active)
	s.lifecycle.AddWorker()
	s.mu.Unlock()

	s.metrics.ConnectionsAccepted.Inc()
	s.metrics.ActiveConnections.Inc()
	s.logger.Info("client connected",
		log.String("conn_id", h.ID()),
		log.String("remote", remote),
		log.Int("connections", n),
	)
	if s.observer != nil {
		s.observer.OnClientConnected(h.ID(), remote)
	}

	go func() {
		defer s.lifecycle.WorkerDone()
		defer release()

		if err := h.Run(ctx); err != nil {
			s.logger.Error("connection handler failed", log.String("conn_id", h.ID()), log.Err(err))
		}

		s.mu.Lock()
		delete(s.active, h)
		n := len(s.active)
		s.mu.Unlock()

		s.metrics.ActiveConnections.Dec()
		s.logger.Info("client disconnected",
			log.String("conn_id", h.ID()),
			log.String("remote", remote),
			log.Uint64("sent", h.Sent()),
			log.Int("connections", n),
		)
		if s.observer != nil {
			s.observer.OnClientDisconnected(h.ID(), remote, h.Sent())
		}
	}()
}

func (s *Server) fail(reason string) {
	_ = s.lifecycle.TransitionTo(lifecycle.StateCrashed, reason)
	_ = s.Stop()
}

// Stop tears down the producer, interrupts every handler and closes the
// listener. Close errors are logged, not returned; the result is
// lifecycle.ErrShutdownTimeout when handlers outlive the shutdown timeout.
// Stop may be called more than once and from any goroutine.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		s.stopErr = s.shutdown()
	})
	return s.stopErr
}

func (s *Server) shutdown() error {
	s.mu.Lock()
	s.closed = true
	ln := s.listener
	cancel := s.cancel
	handlers := make([]*ConnectionHandler, 0, len(s.active))
	for h := range s.active {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()

	stopping := s.lifecycle.CanStop()
	if stopping {
		_ = s.lifecycle.TransitionTo(lifecycle.StateStopping, "stop requested")
	}

	if s.producer != nil {
		if err := s.producer.Cleanup(); err != nil {
			s.logger.Warn("producer cleanup failed", log.Err(err))
		}
	}
	if cancel != nil {
		cancel()
	}
	for _, h := range handlers {
		h.Interrupt()
	}
	if ln != nil {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Warn("error closing listener", log.Err(err))
		}
	}

	err := s.lifecycle.WaitWithTimeout(s.cfg.ShutdownTimeout)
	if stopping {
		_ = s.lifecycle.TransitionTo(lifecycle.StateStopped, "stopped")
	}
	s.logger.Info("relay stopped", log.Int("interrupted", len(handlers)))
	return err
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Listening is closed once the listener is bound.
func (s *Server) Listening() <-chan struct{} {
	return s.listening
}

// Addr returns the bound address, or nil before binding.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// State returns the server lifecycle state.
func (s *Server) State() lifecycle.State {
	return s.lifecycle.State()
}

// ActiveConnections returns the number of connections with a running handler.
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}
