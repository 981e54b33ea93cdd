// Package tlsreload reloads a secure relay's certificates when the key or
// trust store files change on disk.
package tlsreload

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bft-labs/fanrelay/pkg/fanrelay"
	"github.com/bft-labs/fanrelay/pkg/log"
)

// Plugin watches the TLS store files of a relay and reloads them after a
// change. Plaintext relays leave it idle.
type Plugin struct {
	mu sync.Mutex

	debounceDelay time.Duration

	target   fanrelay.Reloadable
	logger   log.Logger
	files    map[string]struct{}
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	debounce *time.Timer

	reloads  atomic.Uint64
	failures atomic.Uint64
}

// Config holds configuration options for the TLS reload plugin.
type Config struct {
	// DebounceDelay is how long to wait after the last change before reloading.
	// Certificate rotation usually rewrites several files.
	// Default: 250 milliseconds
	DebounceDelay time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{DebounceDelay: 250 * time.Millisecond}
}

// New creates a TLS reload plugin.
func New(cfg Config) *Plugin {
	if cfg.DebounceDelay <= 0 {
		cfg.DebounceDelay = 250 * time.Millisecond
	}
	return &Plugin{debounceDelay: cfg.DebounceDelay}
}

// Name returns the plugin identifier.
func (p *Plugin) Name() string {
	return "tlsreload"
}

// Initialize starts watching the store files.
func (p *Plugin) Initialize(ctx context.Context, cfg fanrelay.PluginConfig) error {
	logger := cfg.Logger
	if logger == nil {
		logger = log.NoopLogger{}
	}

	if cfg.TLS == nil {
		logger.Warn("TLS reload disabled: relay is not secure")
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	files := make(map[string]struct{})
	dirs := make(map[string]struct{})
	for _, path := range cfg.TLS.WatchPaths() {
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		files[abs] = struct{}{}
		dirs[filepath.Dir(abs)] = struct{}{}
	}
	// Directories are watched rather than files so atomic replacements
	// (write to temp, rename over) are seen.
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			_ = watcher.Close()
			return err
		}
	}

	watchCtx, cancel := context.WithCancel(ctx)

	p.mu.Lock()
	p.target = cfg.TLS
	p.logger = logger
	p.files = files
	p.cancel = cancel
	p.mu.Unlock()

	p.wg.Add(1)
	go p.watchLoop(watchCtx, watcher)

	logger.Info("TLS reload plugin initialized", log.Int("files", len(files)))
	return nil
}

// Shutdown stops watching and cancels a pending reload.
func (p *Plugin) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	if p.debounce != nil {
		p.debounce.Stop()
	}
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
	return nil
}

// Reloads returns the number of successful reloads.
func (p *Plugin) Reloads() uint64 { return p.reloads.Load() }

// Failures returns the number of failed reloads.
func (p *Plugin) Failures() uint64 { return p.failures.Load() }

func (p *Plugin) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer p.wg.Done()
	defer watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !p.watched(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			p.scheduleReload(ctx)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			p.logger.Error("TLS reload: watcher error", log.Err(err))
		}
	}
}

func (p *Plugin) watched(name string) bool {
	abs, err := filepath.Abs(name)
	if err != nil {
		abs = name
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.files[abs]
	return ok
}

func (p *Plugin) scheduleReload(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.debounce != nil {
		p.debounce.Stop()
	}
	p.debounce = time.AfterFunc(p.debounceDelay, func() {
		if ctx.Err() != nil {
			return
		}
		p.reload()
	})
}

func (p *Plugin) reload() {
	p.mu.Lock()
	target, logger := p.target, p.logger
	p.mu.Unlock()

	if err := target.Reload(); err != nil {
		p.failures.Add(1)
		logger.Error("TLS reload failed, keeping previous certificates", log.Err(err))
		return
	}
	p.reloads.Add(1)
	logger.Info("TLS certificates reloaded")
}
