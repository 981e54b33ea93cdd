package sockets

// TLSConfig describes where TLS material lives. Implementations are plain
// value holders; nothing here is read until a secure factory is created.
type TLSConfig interface {
	KeyStorePath() string
	KeyStoreType() string
	KeyStorePassword() string

	TrustStorePath() string
	TrustStoreType() string
	TrustStorePassword() string

	// Protocol is the TLS protocol name, e.g. "TLS", "TLSv1.2" or "TLSv1.3".
	Protocol() string

	// RequireClientAuth makes servers reject clients without a trusted certificate.
	RequireClientAuth() bool
}

// StoreConfig is the value object implementation of TLSConfig.
type StoreConfig struct {
	KeyStore         string
	KeyStoreFormat   string
	KeyStoreSecret   string
	TrustStore       string
	TrustStoreFormat string
	TrustStoreSecret string
	TLSProtocol      string
	ClientAuth       bool
}

func (c StoreConfig) KeyStorePath() string       { return c.KeyStore }
func (c StoreConfig) KeyStoreType() string       { return c.KeyStoreFormat }
func (c StoreConfig) KeyStorePassword() string   { return c.KeyStoreSecret }
func (c StoreConfig) TrustStorePath() string     { return c.TrustStore }
func (c StoreConfig) TrustStoreType() string     { return c.TrustStoreFormat }
func (c StoreConfig) TrustStorePassword() string { return c.TrustStoreSecret }
func (c StoreConfig) Protocol() string           { return c.TLSProtocol }
func (c StoreConfig) RequireClientAuth() bool    { return c.ClientAuth }
