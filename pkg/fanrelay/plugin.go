package fanrelay

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bft-labs/fanrelay/internal/sockets"
	"github.com/bft-labs/fanrelay/pkg/log"
)

// Reloadable is implemented by the TLS listener of a secure relay.
type Reloadable = sockets.Reloadable

// Plugin extends a Relay. Plugins are initialized in registration order on
// Start and shut down in reverse order on Stop.
type Plugin interface {
	Name() string
	Initialize(ctx context.Context, cfg PluginConfig) error
	Shutdown(ctx context.Context) error
}

// PluginConfig is what a relay shares with its plugins.
type PluginConfig struct {
	ListenAddr string
	SpillDir   string

	// TLS is the reloadable TLS listener, or nil for a plaintext relay.
	TLS Reloadable

	Logger   log.Logger
	Registry prometheus.Registerer
}
