package fanrelay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bft-labs/fanrelay/internal/ports"
	"github.com/bft-labs/fanrelay/internal/relay"
	"github.com/bft-labs/fanrelay/internal/sockets"
	"github.com/bft-labs/fanrelay/internal/spill"
	"github.com/bft-labs/fanrelay/internal/upstream"
	"github.com/bft-labs/fanrelay/pkg/lifecycle"
	"github.com/bft-labs/fanrelay/pkg/log"
)

// Relay fans one upstream stream out to every connected TCP client.
// Use New to create one, then Start to accept clients.
type Relay struct {
	config      Config
	opts        options
	logger      log.Logger
	sockets     sockets.ServerFactory
	queues      *spill.Factory
	distributor *relay.Distributor
	handlers    *relay.DefaultHandlerFactory
	metrics     *relay.Metrics
	registry    *prometheus.Registry
	cpuGate     *relay.CPUGate
	emitter     eventEmitter

	mu         sync.Mutex
	current    *run
	last       *run
	metricsSrv *http.Server
}

// run is one Start/Stop cycle. err is written before served is closed.
type run struct {
	server *relay.Server
	ring   *upstream.Ring
	cancel context.CancelFunc
	served chan struct{}
	err    error
}

// New creates a relay. TLS material is loaded here, so a bad key or trust
// store fails New rather than Start.
func New(cfg Config, opts ...Option) (*Relay, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = log.NoopLogger{}
	}

	factory, err := sockets.CreateServerFactory(cfg.Secure, cfg.TLS.storeConfig())
	if err != nil {
		return nil, fmt.Errorf("fanrelay: socket factory: %w", err)
	}

	queues, err := spill.NewFactory(cfg.spillConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("fanrelay: queue factory: %w", err)
	}

	reg := o.registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	metrics := relay.NewMetrics(reg)

	distributor := relay.NewDistributor(relay.NewRegistry(), logger, metrics, cfg.HeartbeatEvery)

	r := &Relay{
		config:      cfg,
		opts:        o,
		logger:      logger,
		sockets:     factory,
		queues:      queues,
		distributor: distributor,
		handlers: &relay.DefaultHandlerFactory{
			Queues:      queues,
			Distributor: distributor,
			Config:      cfg.handlerConfig(),
			Logger:      logger,
			Metrics:     metrics,
		},
		metrics:  metrics,
		registry: reg,
		emitter:  eventEmitter{handler: o.eventHandler},
	}
	if cfg.CPUThreshold > 0 {
		r.cpuGate = relay.NewCPUGate(cfg.CPUThreshold, cfg.CPUInterval, logger)
	}
	return r, nil
}

// Start initializes plugins, binds the listener and starts the upstream
// producer. It returns once the relay is listening, or with the error that
// prevented it.
func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current != nil {
		return ErrAlreadyRunning
	}

	producer, ring, err := r.newProducer()
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	pluginCfg := PluginConfig{
		ListenAddr: r.config.ListenAddr,
		SpillDir:   r.config.SpillDir,
		Logger:     r.logger,
		Registry:   r.registry,
	}
	if rl, ok := r.sockets.(Reloadable); ok {
		pluginCfg.TLS = rl
	}
	for i, p := range r.opts.plugins {
		if err := p.Initialize(runCtx, pluginCfg); err != nil {
			r.logger.Error("plugin initialization failed", log.String("plugin", p.Name()), log.Err(err))
			r.shutdownPlugins(r.opts.plugins[:i])
			cancel()
			return fmt.Errorf("fanrelay: plugin %s: %w", p.Name(), err)
		}
		r.logger.Info("plugin initialized", log.String("plugin", p.Name()))
	}

	var gate ports.ResourceGate
	if r.cpuGate != nil {
		r.cpuGate.Start(runCtx)
		gate = r.cpuGate
	}

	server := relay.NewServer(
		relay.ServerConfig{Address: r.config.ListenAddr, ShutdownTimeout: r.config.ShutdownTimeout},
		r.sockets,
		r.handlers,
		producer,
		relay.WithServerLogger(r.logger),
		relay.WithServerMetrics(r.metrics),
		relay.WithAdmission(relay.NewAdmission(r.config.admissionConfig(), gate)),
		relay.WithObserver(r.emitter),
		relay.WithStateEmitter(r.emitter),
	)

	cur := &run{server: server, ring: ring, cancel: cancel, served: make(chan struct{})}
	go func() {
		cur.err = server.ListenAndServe(runCtx)
		close(cur.served)
	}()

	select {
	case <-server.Listening():
	case <-cur.served:
		r.stopAuxiliary(cancel)
		r.shutdownPlugins(r.opts.plugins)
		if cur.err != nil {
			return cur.err
		}
		return ctx.Err()
	}
	r.current = cur

	if r.config.MetricsAddr != "" {
		if err := r.startMetrics(); err != nil {
			r.logger.Error("metrics endpoint failed", log.String("addr", r.config.MetricsAddr), log.Err(err))
		}
	}
	return nil
}

func (r *Relay) newProducer() (Producer, *upstream.Ring, error) {
	sink := r.distributor.EventHandler()
	if r.opts.producerFactory != nil {
		p, err := r.opts.producerFactory(sink)
		if err != nil {
			return nil, nil, fmt.Errorf("fanrelay: producer: %w", err)
		}
		return p, nil, nil
	}
	ring := upstream.NewRing(r.config.RingSize, sink, r.logger)
	return ring, ring, nil
}

func (r *Relay) startMetrics() error {
	ln, err := net.Listen("tcp", r.config.MetricsAddr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.MetricsHandler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	r.metricsSrv = srv

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("metrics server stopped", log.Err(err))
		}
	}()
	r.logger.Info("metrics listening", log.String("addr", ln.Addr().String()))
	return nil
}

// Stop stops accepting clients, interrupts every client, stops the producer
// and shuts plugins down. It returns lifecycle.ErrShutdownTimeout when client
// handlers outlive the shutdown timeout.
func (r *Relay) Stop() error {
	r.mu.Lock()
	cur := r.current
	if cur == nil {
		r.mu.Unlock()
		return ErrNotRunning
	}
	r.current = nil
	r.mu.Unlock()

	err := cur.server.Stop()
	<-cur.served

	r.mu.Lock()
	r.stopAuxiliary(cur.cancel)
	r.last = cur
	r.mu.Unlock()

	r.shutdownPlugins(r.opts.plugins)
	return err
}

func (r *Relay) stopAuxiliary(cancel context.CancelFunc) {
	if r.cpuGate != nil {
		r.cpuGate.Stop()
	}
	if r.metricsSrv != nil {
		ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.metricsSrv.Shutdown(ctx); err != nil {
			r.logger.Warn("metrics shutdown failed", log.Err(err))
		}
		done()
		r.metricsSrv = nil
	}
	cancel()
}

func (r *Relay) shutdownPlugins(plugins []Plugin) {
	ctx := context.Background()
	for i := len(plugins) - 1; i >= 0; i-- {
		p := plugins[i]
		if err := p.Shutdown(ctx); err != nil {
			r.logger.Error("plugin shutdown failed", log.String("plugin", p.Name()), log.Err(err))
		} else {
			r.logger.Info("plugin shutdown complete", log.String("plugin", p.Name()))
		}
	}
}

// Publish hands payload to every connected client. It blocks while the
// producer buffer is full and requires the default producer.
func (r *Relay) Publish(ctx context.Context, payload []byte) error {
	r.mu.Lock()
	cur := r.current
	r.mu.Unlock()

	if cur == nil {
		return ErrNotRunning
	}
	if cur.ring == nil {
		return ErrNoPublisher
	}
	return cur.ring.Publish(ctx, payload)
}

// Status returns the current lifecycle state.
func (r *Relay) Status() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case r.current != nil:
		return r.current.server.State()
	case r.last != nil:
		return r.last.server.State()
	default:
		return lifecycle.StateStopped
	}
}

// Addr returns the bound client address, or nil when not running.
func (r *Relay) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return nil
	}
	return r.current.server.Addr()
}

// Clients returns the number of clients receiving events.
func (r *Relay) Clients() int {
	return r.distributor.Handlers()
}

// Done is closed when the current run ends, by Stop or by a fatal accept
// error. It is nil when not running.
func (r *Relay) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return nil
	}
	return r.current.served
}

// Err returns the fatal error that ended the current or last run, if any.
func (r *Relay) Err() error {
	r.mu.Lock()
	cur := r.current
	if cur == nil {
		cur = r.last
	}
	r.mu.Unlock()
	if cur == nil {
		return nil
	}
	select {
	case <-cur.served:
		return cur.err
	default:
		return nil
	}
}

// MetricsHandler serves the relay metrics in the Prometheus exposition format.
func (r *Relay) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
