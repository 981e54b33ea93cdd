// Package fanrelay provides an embeddable real-time fan-out relay.
//
// A Relay receives one ordered stream of upstream messages and delivers it,
// in order, to every connected TCP client. Each client has its own bounded
// queue that spills to disk, so a slow client never delays the others or
// the producer. Clients that connect late only see messages published after
// they registered.
//
// # Basic Usage
//
//	r, err := fanrelay.New(fanrelay.Config{ListenAddr: ":8900"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := r.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer r.Stop()
//
//	_ = r.Publish(ctx, []byte("telemetry"))
//
// # Upstream Producers
//
// Without options the relay owns an in-process ring and Publish feeds it.
// Use [WithProducerFactory] with [NATSProducer] or [ReaderProducer], or a
// custom [Producer], to relay from elsewhere.
//
// # TLS
//
// Set Secure and the TLS stores. PEM and PKCS#12 key and trust stores are
// supported. Store errors are reported by New. A secure relay's listener is
// passed to plugins as a [Reloadable] so certificates can be rotated.
//
// # Plugins and Events
//
// Plugins are initialized in registration order by Start and shut down in
// reverse order by Stop. An [EventHandler] receives lifecycle transitions
// and client connects, disconnects and rejections.
package fanrelay
