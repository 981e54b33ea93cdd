package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/bft-labs/fanrelay/internal/cliconfig"
	"github.com/bft-labs/fanrelay/pkg/fanrelay"
	"github.com/bft-labs/fanrelay/pkg/log"
	"github.com/bft-labs/fanrelay/plugins/spillsweep"
	"github.com/bft-labs/fanrelay/plugins/tlsreload"
)

const longHelp = `Relay one upstream telemetry stream to any number of TCP clients.

Every client receives every message published after it connected, in order.
Each client has its own queue that spills to disk, so a slow client never
holds back the others or the upstream.

Upstreams:
  stdin   raw chunks read from standard input
  nats    message bodies from a NATS subject`

var exampleUsage = strings.TrimSpace(`
  tail -F /var/log/telemetry.bin | fanrelay --listen :8900
  fanrelay --upstream nats --nats-subject 'telemetry.>' --secure --keystore server.p12 --keystore-type PKCS12
  fanrelay --config $HOME/.fanrelay/config.toml
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	cfg := cliconfig.DefaultConfig()
	var cfgPath string

	root := &cobra.Command{
		Use:           "fanrelay",
		Short:         "Real-time fan-out relay for telemetry streams",
		Long:          longHelp,
		Example:       exampleUsage,
		Version:       fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgFile := cfgPath
			if cfgFile == "" {
				cfgFile = cliconfig.DefaultConfigPath()
			}

			changed := map[string]bool{}
			cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

			if cfgFile != "" && cliconfig.FileExists(cfgFile) {
				fc, err := cliconfig.LoadFileConfig(cfgFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				if err := cliconfig.ApplyFileConfig(&cfg, fc, changed); err != nil {
					return err
				}
			}

			// FANRELAY_* override the file but not explicit flags.
			if err := cliconfig.ApplyEnvConfig(&cfg, changed); err != nil {
				return err
			}

			if err := cfg.Validate(); err != nil {
				return err
			}

			logger, err := cfg.NewLogger(os.Stderr)
			if err != nil {
				return err
			}
			logger.Info("configuration", log.Any("config", cfg.Redacted()))

			return run(cmd.Context(), cfg, logger)
		},
	}

	f := root.Flags()
	f.StringVar(&cfgPath, "config", "", "path to config file (default: $HOME/.fanrelay/config.toml)")
	f.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "client listen address")
	f.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "serve Prometheus metrics on this address (disabled when empty)")

	f.BoolVar(&cfg.Secure, "secure", cfg.Secure, "accept clients over TLS")
	f.StringVar(&cfg.KeyStore, "keystore", cfg.KeyStore, "server certificate and key store")
	f.StringVar(&cfg.KeyStoreType, "keystore-type", cfg.KeyStoreType, "key store type: PEM or PKCS12")
	f.StringVar(&cfg.KeyStorePassword, "keystore-password", cfg.KeyStorePassword, "key store password")
	f.StringVar(&cfg.TrustStore, "truststore", cfg.TrustStore, "CA store used to verify client certificates")
	f.StringVar(&cfg.TrustStoreType, "truststore-type", cfg.TrustStoreType, "trust store type: PEM or PKCS12")
	f.StringVar(&cfg.TrustStorePassword, "truststore-password", cfg.TrustStorePassword, "trust store password")
	f.StringVar(&cfg.TLSProtocol, "tls-protocol", cfg.TLSProtocol, "TLS, TLSv1.2 or TLSv1.3")
	f.BoolVar(&cfg.ClientAuth, "client-auth", cfg.ClientAuth, "require client certificates")
	f.BoolVar(&cfg.TLSReload, "tls-reload", cfg.TLSReload, "reload certificates when the store files change")

	f.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "messages per batch before an immediate flush")
	f.DurationVar(&cfg.FlushInterval, "flush-interval", cfg.FlushInterval, "maximum delay of a partial batch")
	f.DurationVar(&cfg.WriteTimeout, "write-timeout", cfg.WriteTimeout, "per-batch client write deadline (0 disables)")

	f.IntVar(&cfg.QueueCapacity, "queue-capacity", cfg.QueueCapacity, "per-client queue capacity in batches")
	f.IntVar(&cfg.QueueQuota, "queue-quota", cfg.QueueQuota, "batches kept in memory before spilling")
	f.DurationVar(&cfg.SpillTimeout, "spill-timeout", cfg.SpillTimeout, "interval of the unspill task")
	f.StringVar(&cfg.SpillDir, "spill-dir", cfg.SpillDir, "directory for per-client spill stores (memory only when empty)")
	f.DurationVar(&cfg.SpillMaxAge, "spill-max-age", cfg.SpillMaxAge, "age after which spill directories of dead processes are removed")

	f.IntVar(&cfg.MaxConnections, "max-connections", cfg.MaxConnections, "maximum concurrent clients (0 = unbounded)")
	f.Float64Var(&cfg.AcceptRate, "accept-rate", cfg.AcceptRate, "accepted connections per second (0 = unpaced)")
	f.IntVar(&cfg.AcceptBurst, "accept-burst", cfg.AcceptBurst, "accept rate burst")
	f.Float64Var(&cfg.CPUThreshold, "cpu-threshold", cfg.CPUThreshold, "reject new clients above this CPU percentage (0 disables)")

	f.StringVar(&cfg.Upstream, "upstream", cfg.Upstream, "upstream source: stdin or nats")
	f.StringVar(&cfg.NATSURL, "nats-url", cfg.NATSURL, "NATS server URL")
	f.StringVar(&cfg.NATSSubject, "nats-subject", cfg.NATSSubject, "NATS subject to relay")
	f.StringVar(&cfg.NATSQueue, "nats-queue", cfg.NATSQueue, "NATS queue group")
	f.IntVar(&cfg.NATSRetries, "nats-retries", cfg.NATSRetries, "NATS connection attempts")
	f.IntVar(&cfg.ChunkSize, "chunk-size", cfg.ChunkSize, "stdin read size")
	f.IntVar(&cfg.RingSize, "ring-size", cfg.RingSize, "upstream buffer in messages")

	f.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "maximum wait for clients on shutdown")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	f.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "console or json")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fanrelay: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg cliconfig.Config, logger log.Logger) error {
	opts := []fanrelay.Option{
		fanrelay.WithLogger(logger),
		fanrelay.WithProducerFactory(producerFactory(cfg, logger)),
	}
	if cfg.Secure && cfg.TLSReload {
		opts = append(opts, tlsreload.WithTLSReload(tlsreload.DefaultConfig()))
	}
	if cfg.SpillDir != "" {
		sweep := spillsweep.DefaultConfig()
		sweep.MaxAge = cfg.SpillMaxAge
		opts = append(opts, spillsweep.WithSpillSweep(sweep))
	}

	r, err := fanrelay.New(relayConfig(cfg), opts...)
	if err != nil {
		return fmt.Errorf("create relay: %w", err)
	}

	if err := r.Start(ctx); err != nil {
		return fmt.Errorf("start relay: %w", err)
	}

	select {
	case <-ctx.Done():
		logger.Info("received signal, stopping")
	case <-r.Done():
		logger.Error("relay stopped unexpectedly", log.Err(r.Err()))
	}

	if err := r.Stop(); err != nil {
		return fmt.Errorf("stop relay: %w", err)
	}
	return r.Err()
}

func producerFactory(cfg cliconfig.Config, logger log.Logger) fanrelay.ProducerFactory {
	if cfg.Upstream == cliconfig.UpstreamNATS {
		return fanrelay.NATSProducer(fanrelay.NATSConfig{
			URL:            cfg.NATSURL,
			Subject:        cfg.NATSSubject,
			Queue:          cfg.NATSQueue,
			ConnectRetries: cfg.NATSRetries,
		}, cfg.RingSize, logger)
	}
	return fanrelay.ReaderProducer(os.Stdin, cfg.ChunkSize, cfg.RingSize, logger)
}

func relayConfig(cfg cliconfig.Config) fanrelay.Config {
	return fanrelay.Config{
		ListenAddr:  cfg.ListenAddr,
		MetricsAddr: cfg.MetricsAddr,
		Secure:      cfg.Secure,
		TLS: fanrelay.TLSConfig{
			KeyStore:           cfg.KeyStore,
			KeyStoreType:       cfg.KeyStoreType,
			KeyStorePassword:   cfg.KeyStorePassword,
			TrustStore:         cfg.TrustStore,
			TrustStoreType:     cfg.TrustStoreType,
			TrustStorePassword: cfg.TrustStorePassword,
			Protocol:           cfg.TLSProtocol,
			RequireClientAuth:  cfg.ClientAuth,
		},
		BatchSize:       cfg.BatchSize,
		FlushInterval:   cfg.FlushInterval,
		WriteTimeout:    cfg.WriteTimeout,
		QueueCapacity:   cfg.QueueCapacity,
		QueueQuota:      cfg.QueueQuota,
		SpillTimeout:    cfg.SpillTimeout,
		SpillDir:        cfg.SpillDir,
		MaxConnections:  cfg.MaxConnections,
		AcceptRate:      cfg.AcceptRate,
		AcceptBurst:     cfg.AcceptBurst,
		CPUThreshold:    cfg.CPUThreshold,
		RingSize:        cfg.RingSize,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}
}
