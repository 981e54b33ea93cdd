package tlsreload

import "github.com/bft-labs/fanrelay/pkg/fanrelay"

// WithTLSReload returns a relay Option that reloads certificates when the
// key or trust store files change.
//
// Usage:
//
//	r, err := fanrelay.New(cfg, tlsreload.WithTLSReload(tlsreload.DefaultConfig()))
func WithTLSReload(cfg Config) fanrelay.Option {
	return fanrelay.WithPlugin(New(cfg))
}
