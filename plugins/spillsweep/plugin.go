// Package spillsweep removes spill directories left behind by relay
// processes that did not shut down cleanly.
package spillsweep

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bft-labs/fanrelay/internal/spill"
	"github.com/bft-labs/fanrelay/pkg/fanrelay"
	"github.com/bft-labs/fanrelay/pkg/log"
)

// Plugin periodically deletes stale per-client spill directories. A
// directory is stale when it belongs to another process and has not been
// modified for MaxAge.
type Plugin struct {
	mu sync.RWMutex

	interval       time.Duration
	maxAge         time.Duration
	runImmediately bool

	dir    string
	pid    int
	logger log.Logger
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config holds configuration options for the spill sweep plugin.
type Config struct {
	// Interval is how often the spill directory is scanned.
	// Default: 10 minutes
	Interval time.Duration

	// MaxAge is how long a foreign spill directory must be idle before removal.
	// Default: 1 hour
	MaxAge time.Duration

	// RunImmediately if true, sweeps once on startup.
	// Default: true
	RunImmediately bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:       10 * time.Minute,
		MaxAge:         time.Hour,
		RunImmediately: true,
	}
}

// New creates a spill sweep plugin.
func New(cfg Config) *Plugin {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = time.Hour
	}
	return &Plugin{
		interval:       cfg.Interval,
		maxAge:         cfg.MaxAge,
		runImmediately: cfg.RunImmediately,
		pid:            os.Getpid(),
	}
}

// Name returns the plugin identifier.
func (p *Plugin) Name() string {
	return "spillsweep"
}

// Initialize starts the sweep loop.
func (p *Plugin) Initialize(ctx context.Context, cfg fanrelay.PluginConfig) error {
	logger := cfg.Logger
	if logger == nil {
		logger = log.NoopLogger{}
	}

	p.mu.Lock()
	p.dir = cfg.SpillDir
	p.logger = logger
	p.mu.Unlock()

	if cfg.SpillDir == "" {
		logger.Warn("spill sweep disabled: no spill directory configured")
		return nil
	}

	sweepCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(1)
	go p.sweepLoop(sweepCtx)

	logger.Info("spill sweep plugin initialized", log.String("dir", cfg.SpillDir))
	return nil
}

// Shutdown stops the sweep loop.
func (p *Plugin) Shutdown(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	return nil
}

func (p *Plugin) sweepLoop(ctx context.Context) {
	defer p.wg.Done()

	if p.runImmediately {
		p.sweepAndLog(ctx)
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweepAndLog(ctx)
		}
	}
}

func (p *Plugin) sweepAndLog(ctx context.Context) {
	removed, err := p.Sweep(ctx, time.Now())
	if err != nil {
		p.logger.Error("spill sweep failed", log.Err(err))
	}
	if removed > 0 {
		p.logger.Info("spill sweep completed", log.Int("removed", removed))
	}
}

// Sweep removes stale spill directories as of now and returns how many were
// removed.
func (p *Plugin) Sweep(ctx context.Context, now time.Time) (int, error) {
	p.mu.RLock()
	dir := p.dir
	logger := p.logger
	p.mu.RUnlock()

	if dir == "" {
		return 0, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	removed := 0
	for _, e := range entries {
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}
		if !e.IsDir() || !strings.HasPrefix(e.Name(), spill.DirPrefix) {
			continue
		}
		pid, ok := ownerPID(e.Name())
		if !ok || pid == p.pid {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) < p.maxAge {
			continue
		}

		path := filepath.Join(dir, e.Name())
		if err := os.RemoveAll(path); err != nil {
			logger.Warn("spill sweep: remove failed", log.String("path", path), log.Err(err))
			continue
		}
		logger.Debug("removed stale spill directory", log.String("path", path), log.Int("pid", pid))
		removed++
	}
	return removed, nil
}

// ownerPID extracts the pid from "<prefix><name>-<pid>-<unixnano>". The
// queue name may itself contain dashes.
func ownerPID(name string) (int, bool) {
	parts := strings.Split(strings.TrimPrefix(name, spill.DirPrefix), "-")
	if len(parts) < 3 {
		return 0, false
	}
	if _, err := strconv.ParseInt(parts[len(parts)-1], 10, 64); err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(parts[len(parts)-2])
	if err != nil {
		return 0, false
	}
	return pid, true
}
