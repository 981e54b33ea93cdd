package upstream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/bft-labs/fanrelay/pkg/lifecycle"
	"github.com/bft-labs/fanrelay/pkg/log"
)

// Defaults for NATSConfig.
const (
	DefaultConnectRetries = 10
	DefaultRetryInitial   = 500 * time.Millisecond
	DefaultRetryMax       = 10 * time.Second
	DefaultConnectTimeout = 5 * time.Second
)

// NATSConfig configures a NATSSource.
type NATSConfig struct {
	URL     string
	Subject string

	// Queue, when set, joins a queue group so several relays share the subject.
	Queue string

	// Name identifies the connection on the NATS server.
	Name string

	ConnectRetries int
	RetryInitial   time.Duration
	RetryMax       time.Duration
	ConnectTimeout time.Duration
}

// SetDefaults fills zero values.
func (c *NATSConfig) SetDefaults() {
	if c.URL == "" {
		c.URL = nats.DefaultURL
	}
	if c.Name == "" {
		c.Name = "fanrelay"
	}
	if c.ConnectRetries <= 0 {
		c.ConnectRetries = DefaultConnectRetries
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = DefaultRetryInitial
	}
	if c.RetryMax <= 0 {
		c.RetryMax = DefaultRetryMax
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
}

// Validate checks required fields.
func (c *NATSConfig) Validate() error {
	if c.Subject == "" {
		return errors.New("upstream: nats subject is required")
	}
	return nil
}

type connectFunc func(url string, opts ...nats.Option) (*nats.Conn, error)

// NATSSource subscribes to a NATS subject and publishes every message body
// into a Ring. It implements ports.Producer.
type NATSSource struct {
	cfg     NATSConfig
	ring    *Ring
	logger  log.Logger
	connect connectFunc

	mu     sync.Mutex
	conn   *nats.Conn
	sub    *nats.Subscription
	cancel context.CancelFunc
}

// NewNATSSource creates a source publishing into ring.
func NewNATSSource(cfg NATSConfig, ring *Ring, logger log.Logger) (*NATSSource, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.NoopLogger{}
	}
	return &NATSSource{
		cfg:     cfg,
		ring:    ring,
		logger:  log.With(logger, log.String("subject", cfg.Subject)),
		connect: nats.Connect,
	}, nil
}

// Init starts the ring, connects to NATS with retries and subscribes.
func (s *NATSSource) Init(ctx context.Context) error {
	if err := s.ring.Init(ctx); err != nil {
		return err
	}

	conn, err := s.dial(ctx)
	if err != nil {
		_ = s.ring.Cleanup()
		return err
	}

	pubCtx, cancel := context.WithCancel(context.Background())
	handler := func(m *nats.Msg) {
		if err := s.ring.Publish(pubCtx, m.Data); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("dropping upstream message", log.Err(err))
		}
	}

	var sub *nats.Subscription
	if s.cfg.Queue != "" {
		sub, err = conn.QueueSubscribe(s.cfg.Subject, s.cfg.Queue, handler)
	} else {
		sub, err = conn.Subscribe(s.cfg.Subject, handler)
	}
	if err != nil {
		cancel()
		conn.Close()
		_ = s.ring.Cleanup()
		return fmt.Errorf("upstream: subscribe %s: %w", s.cfg.Subject, err)
	}

	s.mu.Lock()
	s.conn, s.sub, s.cancel = conn, sub, cancel
	s.mu.Unlock()

	s.logger.Info("subscribed to upstream",
		log.String("url", conn.ConnectedUrlRedacted()),
		log.String("queue", s.cfg.Queue),
	)
	return nil
}

func (s *NATSSource) dial(ctx context.Context) (*nats.Conn, error) {
	backoff := lifecycle.NewBackoff(s.cfg.RetryInitial, s.cfg.RetryMax)
	opts := []nats.Option{
		nats.Name(s.cfg.Name),
		nats.Timeout(s.cfg.ConnectTimeout),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				s.logger.Warn("upstream disconnected", log.Err(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			s.logger.Info("upstream reconnected", log.String("url", c.ConnectedUrlRedacted()))
		}),
	}

	var lastErr error
	for attempt := 1; attempt <= s.cfg.ConnectRetries; attempt++ {
		conn, err := s.connect(s.cfg.URL, opts...)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		s.logger.Warn("upstream connect failed",
			log.Int("attempt", attempt),
			log.Int("max_attempts", s.cfg.ConnectRetries),
			log.Err(err),
		)
		if attempt == s.cfg.ConnectRetries {
			break
		}
		if err := backoff.Wait(ctx); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("upstream: connect %s after %d attempts: %w", s.cfg.URL, s.cfg.ConnectRetries, lastErr)
}

// Cleanup unsubscribes, closes the connection and drains the ring.
func (s *NATSSource) Cleanup() error {
	s.mu.Lock()
	conn, sub, cancel := s.conn, s.sub, s.cancel
	s.conn, s.sub, s.cancel = nil, nil, nil
	s.mu.Unlock()

	var errs []error
	if sub != nil {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			errs = append(errs, fmt.Errorf("upstream: unsubscribe: %w", err))
		}
	}
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	if err := s.ring.Cleanup(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
