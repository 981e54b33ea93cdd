package spill

import (
	"github.com/bft-labs/fanrelay/internal/domain"
	"github.com/bft-labs/fanrelay/internal/ports"
	"github.com/bft-labs/fanrelay/pkg/log"
)

// Factory builds one batch queue per client connection.
type Factory struct {
	cfg    Config
	logger log.Logger
}

// NewFactory validates cfg once so per-connection construction cannot fail on it.
func NewFactory(cfg Config, logger log.Logger) (*Factory, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.NoopLogger{}
	}
	return &Factory{cfg: cfg, logger: logger}, nil
}

func (f *Factory) NewQueue(name string) (ports.SpillQueue[*domain.Batch], error) {
	q, err := NewQueue[*domain.Batch](name, f.cfg, BatchCodec{}, log.With(f.logger, log.String("queue", name)))
	if err != nil {
		return nil, err
	}
	return q, nil
}

// Config returns the defaulted configuration.
func (f *Factory) Config() Config {
	return f.cfg
}
