package cliconfig

import (
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors Config but uses strings for durations to make TOML friendly.
type FileConfig struct {
	ListenAddr  string `toml:"listen"`
	MetricsAddr string `toml:"metrics_addr"`

	TLS TLSFileConfig `toml:"tls"`

	BatchSize     int    `toml:"batch_size"`
	FlushInterval string `toml:"flush_interval"`
	WriteTimeout  string `toml:"write_timeout"`

	Spill SpillFileConfig `toml:"spill"`

	MaxConnections int     `toml:"max_connections"`
	AcceptRate     float64 `toml:"accept_rate"`
	AcceptBurst    int     `toml:"accept_burst"`
	CPUThreshold   float64 `toml:"cpu_threshold"`

	Upstream UpstreamFileConfig `toml:"upstream"`

	ShutdownTimeout string `toml:"shutdown_timeout"`
	LogLevel        string `toml:"log_level"`
	LogFormat       string `toml:"log_format"`
}

// TLSFileConfig is the [tls] table.
type TLSFileConfig struct {
	Enabled            *bool  `toml:"enabled"`
	KeyStore           string `toml:"keystore"`
	KeyStoreType       string `toml:"keystore_type"`
	KeyStorePassword   string `toml:"keystore_password"`
	TrustStore         string `toml:"truststore"`
	TrustStoreType     string `toml:"truststore_type"`
	TrustStorePassword string `toml:"truststore_password"`
	Protocol           string `toml:"protocol"`
	ClientAuth         *bool  `toml:"client_auth"`
	Reload             *bool  `toml:"reload"`
}

// SpillFileConfig is the [spill] table.
type SpillFileConfig struct {
	Capacity int    `toml:"capacity"`
	Quota    int    `toml:"quota"`
	Timeout  string `toml:"timeout"`
	Dir      string `toml:"dir"`
	MaxAge   string `toml:"max_age"`
}

// UpstreamFileConfig is the [upstream] table.
type UpstreamFileConfig struct {
	Source      string `toml:"source"`
	NATSURL     string `toml:"nats_url"`
	NATSSubject string `toml:"nats_subject"`
	NATSQueue   string `toml:"nats_queue"`
	NATSRetries int    `toml:"nats_retries"`
	ChunkSize   int    `toml:"chunk_size"`
	RingSize    int    `toml:"ring_size"`
}

// LoadFileConfig reads and parses a TOML config file from the given path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns ~/.fanrelay/config.toml, or "" without a home directory.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".fanrelay", "config.toml")
	}
	return ""
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("listen", fc.ListenAddr, &cfg.ListenAddr)
	s.setString("metrics-addr", fc.MetricsAddr, &cfg.MetricsAddr)

	s.setBool("secure", fc.TLS.Enabled, &cfg.Secure)
	s.setString("keystore", fc.TLS.KeyStore, &cfg.KeyStore)
	s.setString("keystore-type", fc.TLS.KeyStoreType, &cfg.KeyStoreType)
	s.setString("keystore-password", fc.TLS.KeyStorePassword, &cfg.KeyStorePassword)
	s.setString("truststore", fc.TLS.TrustStore, &cfg.TrustStore)
	s.setString("truststore-type", fc.TLS.TrustStoreType, &cfg.TrustStoreType)
	s.setString("truststore-password", fc.TLS.TrustStorePassword, &cfg.TrustStorePassword)
	s.setString("tls-protocol", fc.TLS.Protocol, &cfg.TLSProtocol)
	s.setBool("client-auth", fc.TLS.ClientAuth, &cfg.ClientAuth)
	s.setBool("tls-reload", fc.TLS.Reload, &cfg.TLSReload)

	s.setInt("batch-size", fc.BatchSize, &cfg.BatchSize)
	if err := s.setDuration("flush-interval", fc.FlushInterval, &cfg.FlushInterval); err != nil {
		return err
	}
	if err := s.setDuration("write-timeout", fc.WriteTimeout, &cfg.WriteTimeout); err != nil {
		return err
	}

	s.setInt("queue-capacity", fc.Spill.Capacity, &cfg.QueueCapacity)
	s.setInt("queue-quota", fc.Spill.Quota, &cfg.QueueQuota)
	s.setString("spill-dir", fc.Spill.Dir, &cfg.SpillDir)
	if err := s.setDuration("spill-timeout", fc.Spill.Timeout, &cfg.SpillTimeout); err != nil {
		return err
	}
	if err := s.setDuration("spill-max-age", fc.Spill.MaxAge, &cfg.SpillMaxAge); err != nil {
		return err
	}

	s.setInt("max-connections", fc.MaxConnections, &cfg.MaxConnections)
	s.setFloat("accept-rate", fc.AcceptRate, &cfg.AcceptRate)
	s.setInt("accept-burst", fc.AcceptBurst, &cfg.AcceptBurst)
	s.setFloat("cpu-threshold", fc.CPUThreshold, &cfg.CPUThreshold)

	s.setString("upstream", fc.Upstream.Source, &cfg.Upstream)
	s.setString("nats-url", fc.Upstream.NATSURL, &cfg.NATSURL)
	s.setString("nats-subject", fc.Upstream.NATSSubject, &cfg.NATSSubject)
	s.setString("nats-queue", fc.Upstream.NATSQueue, &cfg.NATSQueue)
	s.setInt("nats-retries", fc.Upstream.NATSRetries, &cfg.NATSRetries)
	s.setInt("chunk-size", fc.Upstream.ChunkSize, &cfg.ChunkSize)
	s.setInt("ring-size", fc.Upstream.RingSize, &cfg.RingSize)

	if err := s.setDuration("shutdown-timeout", fc.ShutdownTimeout, &cfg.ShutdownTimeout); err != nil {
		return err
	}
	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)
	s.setString("log-format", fc.LogFormat, &cfg.LogFormat)

	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
