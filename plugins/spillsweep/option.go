package spillsweep

import "github.com/bft-labs/fanrelay/pkg/fanrelay"

// WithSpillSweep returns a relay Option that removes stale spill
// directories under the relay's SpillDir.
//
// Usage:
//
//	r, err := fanrelay.New(cfg, spillsweep.WithSpillSweep(spillsweep.DefaultConfig()))
func WithSpillSweep(cfg Config) fanrelay.Option {
	return fanrelay.WithPlugin(New(cfg))
}

// WithDefaultSpillSweep enables the sweep with default settings (every 10
// minutes, directories idle for an hour).
func WithDefaultSpillSweep() fanrelay.Option {
	return WithSpillSweep(DefaultConfig())
}
