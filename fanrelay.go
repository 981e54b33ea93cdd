// Package fanrelay is a real-time fan-out relay for telemetry streams.
//
// Example usage:
//
//	r, err := fanrelay.New(fanrelay.Config{ListenAddr: ":8900"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := r.Start(context.Background()); err != nil {
//	    log.Fatal(err)
//	}
//	defer r.Stop()
//	_ = r.Publish(ctx, payload)
//
// The full library lives in github.com/bft-labs/fanrelay/pkg/fanrelay; this
// package re-exports its main entry points.
package fanrelay

import (
	"github.com/bft-labs/fanrelay/pkg/fanrelay"
)

// Config holds the configuration of a Relay.
type Config = fanrelay.Config

// TLSConfig locates the key and trust stores of a secure relay.
type TLSConfig = fanrelay.TLSConfig

// Relay fans one upstream stream out to every connected TCP client.
type Relay = fanrelay.Relay

// Option configures optional behavior of a Relay.
type Option = fanrelay.Option

type (
	EventHandler     = fanrelay.EventHandler
	BaseEventHandler = fanrelay.BaseEventHandler
	Plugin           = fanrelay.Plugin
	PluginConfig     = fanrelay.PluginConfig
	ProducerFactory  = fanrelay.ProducerFactory
	NATSConfig       = fanrelay.NATSConfig
)

// New creates a relay. See fanrelay.New in pkg/fanrelay.
func New(cfg Config, opts ...Option) (*Relay, error) {
	return fanrelay.New(cfg, opts...)
}

var (
	WithLogger          = fanrelay.WithLogger
	WithEventHandler    = fanrelay.WithEventHandler
	WithPlugin          = fanrelay.WithPlugin
	WithProducerFactory = fanrelay.WithProducerFactory
	WithRegistry        = fanrelay.WithRegistry

	NATSProducer   = fanrelay.NATSProducer
	ReaderProducer = fanrelay.ReaderProducer
)

// DefaultPort is the client port used when ListenAddr is empty.
const DefaultPort = 8900
