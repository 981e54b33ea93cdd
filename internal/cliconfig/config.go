package cliconfig

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Upstream source names.
const (
	UpstreamStdin = "stdin"
	UpstreamNATS  = "nats"
)

// DefaultListenAddr is the client listen address.
const DefaultListenAddr = ":8900"

// Config holds CLI configuration for fanrelay.
type Config struct {
	ListenAddr  string
	MetricsAddr string

	Secure             bool
	KeyStore           string
	KeyStoreType       string
	KeyStorePassword   string
	TrustStore         string
	TrustStoreType     string
	TrustStorePassword string
	TLSProtocol        string
	ClientAuth         bool
	TLSReload          bool

	BatchSize     int
	FlushInterval time.Duration
	WriteTimeout  time.Duration

	QueueCapacity int
	QueueQuota    int
	SpillTimeout  time.Duration
	SpillDir      string
	SpillMaxAge   time.Duration

	MaxConnections int
	AcceptRate     float64
	AcceptBurst    int
	CPUThreshold   float64

	Upstream    string
	NATSURL     string
	NATSSubject string
	NATSQueue   string
	NATSRetries int
	ChunkSize   int
	RingSize    int

	ShutdownTimeout time.Duration

	LogLevel  string
	LogFormat string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		ListenAddr:      DefaultListenAddr,
		KeyStoreType:    "PEM",
		TrustStoreType:  "PEM",
		TLSProtocol:     "TLS",
		BatchSize:       1000,
		FlushInterval:   2 * time.Second,
		QueueCapacity:   10000,
		QueueQuota:      1000,
		SpillTimeout:    100 * time.Millisecond,
		SpillMaxAge:     time.Hour,
		Upstream:        UpstreamStdin,
		NATSURL:         "nats://127.0.0.1:4222",
		NATSRetries:     10,
		ChunkSize:       32 * 1024,
		RingSize:        8192,
		ShutdownTimeout: 30 * time.Second,
		LogLevel:        "info",
		LogFormat:       "console",
	}
}

// Validate checks the configuration for errors and normalizes values.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if err := validateAddr("listen", c.ListenAddr); err != nil {
		return err
	}
	if c.MetricsAddr != "" {
		if err := validateAddr("metrics-addr", c.MetricsAddr); err != nil {
			return err
		}
	}

	if c.Secure && c.KeyStore == "" {
		return fmt.Errorf("keystore is required when secure is enabled")
	}
	if c.ClientAuth && c.TrustStore == "" {
		return fmt.Errorf("truststore is required when client-auth is enabled")
	}

	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.FlushInterval <= 0 {
		return fmt.Errorf("flush interval must be positive")
	}
	if c.QueueCapacity <= 0 || c.QueueQuota <= 0 {
		return fmt.Errorf("queue capacity and quota must be positive")
	}
	if c.QueueQuota > c.QueueCapacity {
		return fmt.Errorf("queue quota %d exceeds capacity %d", c.QueueQuota, c.QueueCapacity)
	}
	if c.CPUThreshold < 0 || c.CPUThreshold > 100 {
		return fmt.Errorf("cpu threshold must be a percentage between 0 and 100")
	}

	c.Upstream = strings.ToLower(c.Upstream)
	switch c.Upstream {
	case UpstreamStdin:
	case UpstreamNATS:
		if c.NATSSubject == "" {
			return fmt.Errorf("nats-subject is required for the nats upstream")
		}
	default:
		return fmt.Errorf("unknown upstream %q (want %s or %s)", c.Upstream, UpstreamStdin, UpstreamNATS)
	}

	return nil
}

func validateAddr(name, addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("%s address %q: %w", name, addr, err)
	}
	p, err := strconv.Atoi(port)
	if err != nil || p < 0 || p > 65535 {
		return fmt.Errorf("%s address %q: invalid port", name, addr)
	}
	return nil
}

// configSetter helps apply configuration values while respecting flag precedence.
// It only applies values if the corresponding flag hasn't been explicitly set.
type configSetter struct {
	changed map[string]bool
}

func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

func (s *configSetter) setFloat(flag string, value float64, dst *float64) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setIntFromString parses an environment value. Non-positive values are ignored.
func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if i <= 0 {
		return nil
	}
	*dst = i
	return nil
}

func (s *configSetter) setFloatFromString(flag, value string, dst *float64) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if f <= 0 {
		return nil
	}
	*dst = f
	return nil
}

// setBoolFromString accepts "true" and "1" as true, anything else as false.
func (s *configSetter) setBoolFromString(flag, value string, dst *bool) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value == "true" || value == "1"
}
