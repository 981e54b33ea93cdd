package fanrelay

import (
	"io"

	"github.com/bft-labs/fanrelay/internal/upstream"
	"github.com/bft-labs/fanrelay/pkg/log"
)

// NATSConfig configures the NATS upstream.
type NATSConfig = upstream.NATSConfig

// NATSProducer returns a ProducerFactory that subscribes to a NATS subject.
// Every message body becomes one relay message.
func NATSProducer(cfg NATSConfig, ringSize int, logger log.Logger) ProducerFactory {
	return func(sink EventSink) (Producer, error) {
		return upstream.NewNATSSource(cfg, upstream.NewRing(ringSize, sink, logger), logger)
	}
}

// ReaderProducer returns a ProducerFactory that relays chunks read from r
// verbatim. A reader can only be consumed once, so the factory is meant for
// a single run.
func ReaderProducer(r io.Reader, chunkSize, ringSize int, logger log.Logger) ProducerFactory {
	return func(sink EventSink) (Producer, error) {
		return upstream.NewReaderSource(r, upstream.NewRing(ringSize, sink, logger), chunkSize, logger), nil
	}
}
