package relay

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"

	"github.com/bft-labs/fanrelay/pkg/log"
)

// CPUGate is a ResourceGate that closes while host CPU usage is at or above
// a threshold. Usage is sampled in the background.
type CPUGate struct {
	threshold float64
	interval  time.Duration
	logger    log.Logger
	sample    func(ctx context.Context, interval time.Duration) (float64, error)

	percent atomic.Uint64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewCPUGate creates a gate for threshold percent, sampling over interval.
func NewCPUGate(threshold float64, interval time.Duration, logger log.Logger) *CPUGate {
	if interval <= 0 {
		interval = time.Second
	}
	if logger == nil {
		logger = log.NoopLogger{}
	}
	return &CPUGate{
		threshold: threshold,
		interval:  interval,
		logger:    logger,
		sample:    sampleCPU,
	}
}

func sampleCPU(ctx context.Context, interval time.Duration) (float64, error) {
	p, err := cpu.PercentWithContext(ctx, interval, false)
	if err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}
	return p[0], nil
}

// Start begins sampling until Stop or ctx is done.
func (g *CPUGate) Start(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancel != nil {
		return
	}
	ctx, g.cancel = context.WithCancel(ctx)
	g.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		for ctx.Err() == nil {
			p, err := g.sample(ctx, g.interval)
			if err != nil {
				if ctx.Err() == nil {
					g.logger.Debug("cpu sample failed", log.Err(err))
					select {
					case <-ctx.Done():
					case <-time.After(g.interval):
					}
				}
				continue
			}
			g.setPercent(p)
		}
	}(g.done)
}

// Stop ends sampling and waits for the sampler to exit.
func (g *CPUGate) Stop() {
	g.mu.Lock()
	cancel, done := g.cancel, g.done
	g.cancel, g.done = nil, nil
	g.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// OK reports whether the last sample is below the threshold.
func (g *CPUGate) OK() bool {
	return g.Percent() < g.threshold
}

// Percent returns the last sampled CPU usage.
func (g *CPUGate) Percent() float64 {
	return math.Float64frombits(g.percent.Load())
}

func (g *CPUGate) setPercent(p float64) {
	g.percent.Store(math.Float64bits(p))
}
