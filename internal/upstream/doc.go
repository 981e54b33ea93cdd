// Package upstream provides the producers that feed the relay distributor.
//
// Ring is the single-consumer hand-off between upstream sources and the
// distributor. It assigns sequence numbers and calls the consumer's
// ports.EventHandler on one goroutine. NATSSource and ReaderSource publish
// into a Ring from a NATS subject or an io.Reader respectively.
package upstream
