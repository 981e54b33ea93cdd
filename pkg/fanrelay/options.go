package fanrelay

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bft-labs/fanrelay/internal/domain"
	"github.com/bft-labs/fanrelay/internal/ports"
	"github.com/bft-labs/fanrelay/pkg/log"
)

type (
	// Message is one upstream event.
	Message = domain.Message

	// EventSink receives upstream events on the producer's consumer goroutine.
	EventSink = ports.EventHandler

	// Producer is an upstream source. Init starts delivery into the sink it
	// was built with; Cleanup stops it.
	Producer = ports.Producer

	// ProducerFactory builds the upstream producer for one run of the relay.
	ProducerFactory func(sink EventSink) (Producer, error)
)

// Option configures optional behavior of a Relay.
type Option func(*options)

type options struct {
	logger          log.Logger
	eventHandler    EventHandler
	plugins         []Plugin
	producerFactory ProducerFactory
	registry        *prometheus.Registry
}

// WithLogger sets the logger. Without it nothing is logged.
func WithLogger(logger log.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithEventHandler receives state and client events.
func WithEventHandler(handler EventHandler) Option {
	return func(o *options) {
		o.eventHandler = handler
	}
}

// WithPlugin registers a plugin.
func WithPlugin(plugin Plugin) Option {
	return func(o *options) {
		o.plugins = append(o.plugins, plugin)
	}
}

// WithProducerFactory replaces the default in-process producer. Publish is
// unavailable when a custom producer is used.
func WithProducerFactory(f ProducerFactory) Option {
	return func(o *options) {
		o.producerFactory = f
	}
}

// WithRegistry registers relay metrics with reg instead of a private registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) {
		o.registry = reg
	}
}
