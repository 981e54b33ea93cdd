package spill

import (
	"fmt"
	"time"

	"github.com/bft-labs/fanrelay/internal/domain"
)

const (
	DefaultCapacity = 10000
	DefaultQuota    = 1000
	DefaultTimeout  = 100 * time.Millisecond

	// DirPrefix starts the name of every per-queue spill directory.
	DirPrefix = "spill-"
)

// Config controls one spill queue.
type Config struct {
	// Capacity bounds memory when no store is configured.
	Capacity int

	// Quota is the number of in-memory items before spilling starts.
	Quota int

	// Timeout is the interval of the background unspill task.
	Timeout time.Duration

	// Dir is the parent of per-queue spill directories. Empty disables spilling.
	Dir string

	// OpenStore opens the store for a queue directory. Defaults to pebble.
	OpenStore func(dir string) (Store, error)
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.Capacity == 0 {
		c.Capacity = DefaultCapacity
	}
	if c.Quota == 0 {
		c.Quota = DefaultQuota
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.OpenStore == nil {
		c.OpenStore = func(dir string) (Store, error) {
			s, err := OpenPebbleStore(dir)
			if err != nil {
				return nil, err
			}
			return s, nil
		}
	}
}

// Validate checks the queue bounds.
func (c Config) Validate() error {
	if c.Quota <= 0 {
		return fmt.Errorf("%w: spill quota must be positive", domain.ErrInvalidConfig)
	}
	if c.Capacity < c.Quota {
		return fmt.Errorf("%w: queue capacity %d below spill quota %d", domain.ErrInvalidConfig, c.Capacity, c.Quota)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: spill timeout must be positive", domain.ErrInvalidConfig)
	}
	return nil
}
