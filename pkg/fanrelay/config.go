package fanrelay

import (
	"fmt"
	"time"

	"github.com/bft-labs/fanrelay/internal/relay"
	"github.com/bft-labs/fanrelay/internal/sockets"
	"github.com/bft-labs/fanrelay/internal/spill"
	"github.com/bft-labs/fanrelay/internal/upstream"
	"github.com/bft-labs/fanrelay/pkg/lifecycle"
)

// TLSConfig locates the key and trust stores of a secure relay.
type TLSConfig struct {
	// KeyStore holds the server certificate chain and private key.
	KeyStore         string
	KeyStoreType     string // PEM (default) or PKCS12
	KeyStorePassword string

	// TrustStore holds the CAs used to verify client certificates. Optional.
	TrustStore         string
	TrustStoreType     string
	TrustStorePassword string

	// Protocol is TLS (default), TLSv1.2 or TLSv1.3.
	Protocol string

	// RequireClientAuth rejects clients without a certificate signed by the trust store.
	RequireClientAuth bool
}

func (c TLSConfig) storeConfig() sockets.StoreConfig {
	return sockets.StoreConfig{
		KeyStore:         c.KeyStore,
		KeyStoreFormat:   c.KeyStoreType,
		KeyStoreSecret:   c.KeyStorePassword,
		TrustStore:       c.TrustStore,
		TrustStoreFormat: c.TrustStoreType,
		TrustStoreSecret: c.TrustStorePassword,
		TLSProtocol:      c.Protocol,
		ClientAuth:       c.RequireClientAuth,
	}
}

// Config holds the configuration of a Relay.
// Zero values are replaced by defaults in SetDefaults.
type Config struct {
	// ListenAddr is the client listen address. Default ":8900".
	ListenAddr string

	// MetricsAddr serves Prometheus metrics on /metrics when set.
	MetricsAddr string

	// Secure enables TLS using the TLS stores.
	Secure bool
	TLS    TLSConfig

	// BatchSize is the number of messages that triggers an immediate
	// hand-off to a client's queue. Default 1000.
	BatchSize int

	// FlushInterval bounds how long a partial batch waits. Default 2s.
	FlushInterval time.Duration

	// WriteTimeout is the per-batch socket write deadline. Zero disables it.
	WriteTimeout time.Duration

	// QueueCapacity, QueueQuota and SpillTimeout tune each client's queue.
	QueueCapacity int
	QueueQuota    int
	SpillTimeout  time.Duration

	// SpillDir is the parent of per-client spill directories. Empty keeps
	// queues in memory.
	SpillDir string

	// MaxConnections caps concurrent clients. Zero means unbounded.
	MaxConnections int

	// AcceptRate and AcceptBurst pace new connections. Zero disables pacing.
	AcceptRate  float64
	AcceptBurst int

	// CPUThreshold rejects new connections while host CPU usage (percent) is
	// at or above it. Zero disables the check.
	CPUThreshold float64
	CPUInterval  time.Duration

	// RingSize is the buffer of the default in-process producer.
	RingSize int

	// HeartbeatEvery logs a distribution heartbeat every N events.
	HeartbeatEvery uint64

	ShutdownTimeout time.Duration
}

// SetDefaults fills zero values with defaults.
func (c *Config) SetDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = fmt.Sprintf(":%d", relay.DefaultPort)
	}
	if c.BatchSize <= 0 {
		c.BatchSize = relay.DefaultBatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = relay.DefaultFlushInterval
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = spill.DefaultCapacity
	}
	if c.QueueQuota <= 0 {
		c.QueueQuota = spill.DefaultQuota
	}
	if c.SpillTimeout <= 0 {
		c.SpillTimeout = spill.DefaultTimeout
	}
	if c.CPUInterval <= 0 {
		c.CPUInterval = time.Second
	}
	if c.RingSize <= 0 {
		c.RingSize = upstream.DefaultRingSize
	}
	if c.HeartbeatEvery == 0 {
		c.HeartbeatEvery = relay.DefaultHeartbeatEvery
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = lifecycle.ShutdownTimeout
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Secure && c.TLS.KeyStore == "" {
		return fmt.Errorf("%w: TLS.KeyStore is required when Secure is set", ErrInvalidConfig)
	}
	if c.TLS.RequireClientAuth && c.TLS.TrustStore == "" {
		return fmt.Errorf("%w: TLS.TrustStore is required with RequireClientAuth", ErrInvalidConfig)
	}
	if c.QueueQuota > c.QueueCapacity {
		return fmt.Errorf("%w: QueueQuota %d exceeds QueueCapacity %d", ErrInvalidConfig, c.QueueQuota, c.QueueCapacity)
	}
	if c.CPUThreshold < 0 || c.CPUThreshold > 100 {
		return fmt.Errorf("%w: CPUThreshold must be within 0-100", ErrInvalidConfig)
	}
	if c.MaxConnections < 0 || c.AcceptRate < 0 {
		return fmt.Errorf("%w: admission limits must not be negative", ErrInvalidConfig)
	}
	return nil
}

func (c Config) handlerConfig() relay.HandlerConfig {
	return relay.HandlerConfig{
		BatchSize:     c.BatchSize,
		FlushInterval: c.FlushInterval,
		WriteTimeout:  c.WriteTimeout,
	}
}

func (c Config) spillConfig() spill.Config {
	return spill.Config{
		Capacity: c.QueueCapacity,
		Quota:    c.QueueQuota,
		Timeout:  c.SpillTimeout,
		Dir:      c.SpillDir,
	}
}

func (c Config) admissionConfig() relay.AdmissionConfig {
	return relay.AdmissionConfig{
		MaxConnections: c.MaxConnections,
		AcceptRate:     c.AcceptRate,
		AcceptBurst:    c.AcceptBurst,
	}
}
