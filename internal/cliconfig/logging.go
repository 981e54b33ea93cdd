package cliconfig

import (
	"io"

	"github.com/bft-labs/fanrelay/pkg/log"
)

// NewLogger builds the process logger from the configured level and format.
func (c Config) NewLogger(w io.Writer) (*log.ZerologAdapter, error) {
	return log.New(w, c.LogFormat, c.LogLevel)
}

// Redacted returns a copy safe to log.
func (c Config) Redacted() Config {
	if c.KeyStorePassword != "" {
		c.KeyStorePassword = "*****"
	}
	if c.TrustStorePassword != "" {
		c.TrustStorePassword = "*****"
	}
	return c
}
