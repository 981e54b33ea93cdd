package cliconfig

import "os"

// EnvPrefix starts every environment variable read by ApplyEnvConfig.
const EnvPrefix = "FANRELAY_"

func env(name string) string {
	return os.Getenv(EnvPrefix + name)
}

// ApplyEnvConfig applies configuration from environment variables (FANRELAY_*).
// It respects flags that have been explicitly set (changed map).
// Returns error if any environment variable has an invalid format.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("listen", env("LISTEN"), &cfg.ListenAddr)
	s.setString("metrics-addr", env("METRICS_ADDR"), &cfg.MetricsAddr)

	s.setBoolFromString("secure", env("SECURE"), &cfg.Secure)
	s.setString("keystore", env("KEYSTORE"), &cfg.KeyStore)
	s.setString("keystore-type", env("KEYSTORE_TYPE"), &cfg.KeyStoreType)
	s.setString("keystore-password", env("KEYSTORE_PASSWORD"), &cfg.KeyStorePassword)
	s.setString("truststore", env("TRUSTSTORE"), &cfg.TrustStore)
	s.setString("truststore-type", env("TRUSTSTORE_TYPE"), &cfg.TrustStoreType)
	s.setString("truststore-password", env("TRUSTSTORE_PASSWORD"), &cfg.TrustStorePassword)
	s.setString("tls-protocol", env("TLS_PROTOCOL"), &cfg.TLSProtocol)
	s.setBoolFromString("client-auth", env("CLIENT_AUTH"), &cfg.ClientAuth)
	s.setBoolFromString("tls-reload", env("TLS_RELOAD"), &cfg.TLSReload)

	if err := s.setIntFromString("batch-size", env("BATCH_SIZE"), &cfg.BatchSize); err != nil {
		return err
	}
	if err := s.setDuration("flush-interval", env("FLUSH_INTERVAL"), &cfg.FlushInterval); err != nil {
		return err
	}
	if err := s.setDuration("write-timeout", env("WRITE_TIMEOUT"), &cfg.WriteTimeout); err != nil {
		return err
	}

	if err := s.setIntFromString("queue-capacity", env("QUEUE_CAPACITY"), &cfg.QueueCapacity); err != nil {
		return err
	}
	if err := s.setIntFromString("queue-quota", env("QUEUE_QUOTA"), &cfg.QueueQuota); err != nil {
		return err
	}
	if err := s.setDuration("spill-timeout", env("SPILL_TIMEOUT"), &cfg.SpillTimeout); err != nil {
		return err
	}
	s.setString("spill-dir", env("SPILL_DIR"), &cfg.SpillDir)
	if err := s.setDuration("spill-max-age", env("SPILL_MAX_AGE"), &cfg.SpillMaxAge); err != nil {
		return err
	}

	if err := s.setIntFromString("max-connections", env("MAX_CONNECTIONS"), &cfg.MaxConnections); err != nil {
		return err
	}
	if err := s.setFloatFromString("accept-rate", env("ACCEPT_RATE"), &cfg.AcceptRate); err != nil {
		return err
	}
	if err := s.setIntFromString("accept-burst", env("ACCEPT_BURST"), &cfg.AcceptBurst); err != nil {
		return err
	}
	if err := s.setFloatFromString("cpu-threshold", env("CPU_THRESHOLD"), &cfg.CPUThreshold); err != nil {
		return err
	}

	s.setString("upstream", env("UPSTREAM"), &cfg.Upstream)
	s.setString("nats-url", env("NATS_URL"), &cfg.NATSURL)
	s.setString("nats-subject", env("NATS_SUBJECT"), &cfg.NATSSubject)
	s.setString("nats-queue", env("NATS_QUEUE"), &cfg.NATSQueue)
	if err := s.setIntFromString("nats-retries", env("NATS_RETRIES"), &cfg.NATSRetries); err != nil {
		return err
	}
	if err := s.setIntFromString("chunk-size", env("CHUNK_SIZE"), &cfg.ChunkSize); err != nil {
		return err
	}
	if err := s.setIntFromString("ring-size", env("RING_SIZE"), &cfg.RingSize); err != nil {
		return err
	}

	if err := s.setDuration("shutdown-timeout", env("SHUTDOWN_TIMEOUT"), &cfg.ShutdownTimeout); err != nil {
		return err
	}
	s.setString("log-level", env("LOG_LEVEL"), &cfg.LogLevel)
	s.setString("log-format", env("LOG_FORMAT"), &cfg.LogFormat)

	return nil
}
