package sockets

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
)

// ServerFactory creates listening sockets.
type ServerFactory interface {
	Listen(network, address string) (net.Listener, error)
	Secure() bool
}

// ClientFactory creates connecting sockets.
type ClientFactory interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
	Secure() bool
}

// Reloadable is implemented by factories whose TLS material can be re-read
// while listeners are open.
type Reloadable interface {
	Reload() error
	WatchPaths() []string
}

// CreateServerFactory returns a plain factory, or a TLS factory loaded from
// cfg when secure is set.
func CreateServerFactory(secure bool, cfg TLSConfig) (ServerFactory, error) {
	if !secure {
		return PlainServerFactory{}, nil
	}
	if cfg == nil {
		return nil, errors.New("sockets: secure server requires TLS configuration")
	}
	return NewTLSServerFactory(cfg)
}

// CreateClientFactory returns a plain factory, or a TLS factory loaded from
// cfg when secure is set.
func CreateClientFactory(secure bool, cfg TLSConfig) (ClientFactory, error) {
	if !secure {
		return PlainClientFactory{}, nil
	}
	if cfg == nil {
		return nil, errors.New("sockets: secure client requires TLS configuration")
	}
	tlsCfg, err := buildClientConfig(cfg)
	if err != nil {
		return nil, err
	}
	return &TLSClientFactory{config: tlsCfg}, nil
}

// PlainServerFactory listens with plain TCP.
type PlainServerFactory struct {
	ListenConfig net.ListenConfig
}

func (f PlainServerFactory) Listen(network, address string) (net.Listener, error) {
	return f.ListenConfig.Listen(context.Background(), network, address)
}

func (PlainServerFactory) Secure() bool { return false }

// PlainClientFactory dials plain TCP.
type PlainClientFactory struct {
	Dialer net.Dialer
}

func (f PlainClientFactory) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	return f.Dialer.DialContext(ctx, network, address)
}

func (PlainClientFactory) Secure() bool { return false }

// TLSServerFactory serves TLS from material that Reload can swap. Handshakes
// started after a successful Reload use the new material.
type TLSServerFactory struct {
	source  TLSConfig
	current atomic.Pointer[tls.Config]
}

// NewTLSServerFactory loads cfg once and fails if anything is unreadable.
func NewTLSServerFactory(cfg TLSConfig) (*TLSServerFactory, error) {
	f := &TLSServerFactory{source: cfg}
	if err := f.Reload(); err != nil {
		return nil, err
	}
	return f, nil
}

// Reload re-reads key and trust stores. On error the previous material stays active.
func (f *TLSServerFactory) Reload() error {
	c, err := buildServerConfig(f.source)
	if err != nil {
		return err
	}
	f.current.Store(c)
	return nil
}

// WatchPaths lists the files backing the factory.
func (f *TLSServerFactory) WatchPaths() []string {
	paths := []string{f.source.KeyStorePath()}
	if p := f.source.TrustStorePath(); p != "" {
		paths = append(paths, p)
	}
	return paths
}

// Config returns the active TLS configuration.
func (f *TLSServerFactory) Config() *tls.Config {
	return f.current.Load()
}

func (f *TLSServerFactory) Listen(network, address string) (net.Listener, error) {
	ln, err := net.Listen(network, address)
	if err != nil {
		return nil, err
	}
	return tls.NewListener(ln, &tls.Config{
		MinVersion: tls.VersionTLS12,
		GetConfigForClient: func(*tls.ClientHelloInfo) (*tls.Config, error) {
			return f.current.Load(), nil
		},
	}), nil
}

func (*TLSServerFactory) Secure() bool { return true }

// TLSClientFactory dials TLS with a fixed configuration.
type TLSClientFactory struct {
	config *tls.Config
	Dialer net.Dialer
}

func (f *TLSClientFactory) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	d := tls.Dialer{NetDialer: &f.Dialer, Config: f.config.Clone()}
	return d.DialContext(ctx, network, address)
}

func (*TLSClientFactory) Secure() bool { return true }

// Config returns a copy of the client TLS configuration.
func (f *TLSClientFactory) Config() *tls.Config {
	return f.config.Clone()
}

func buildServerConfig(cfg TLSConfig) (*tls.Config, error) {
	minVer, maxVer, err := ParseProtocol(cfg.Protocol())
	if err != nil {
		return nil, err
	}
	if cfg.KeyStorePath() == "" {
		return nil, errors.New("sockets: secure server requires a key store")
	}
	cert, err := LoadKeyStore(cfg.KeyStorePath(), cfg.KeyStoreType(), cfg.KeyStorePassword())
	if err != nil {
		return nil, fmt.Errorf("sockets: %w", err)
	}

	c := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   minVer,
		MaxVersion:   maxVer,
		Rand:         rand.Reader,
	}

	if cfg.TrustStorePath() != "" {
		pool, err := LoadTrustStore(cfg.TrustStorePath(), cfg.TrustStoreType(), cfg.TrustStorePassword())
		if err != nil {
			return nil, fmt.Errorf("sockets: %w", err)
		}
		c.ClientCAs = pool
		c.ClientAuth = tls.VerifyClientCertIfGiven
	}
	if cfg.RequireClientAuth() {
		if c.ClientCAs == nil {
			return nil, errors.New("sockets: client authentication requires a trust store")
		}
		c.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return c, nil
}

func buildClientConfig(cfg TLSConfig) (*tls.Config, error) {
	minVer, maxVer, err := ParseProtocol(cfg.Protocol())
	if err != nil {
		return nil, err
	}

	c := &tls.Config{
		MinVersion: minVer,
		MaxVersion: maxVer,
		Rand:       rand.Reader,
	}

	if cfg.KeyStorePath() != "" {
		cert, err := LoadKeyStore(cfg.KeyStorePath(), cfg.KeyStoreType(), cfg.KeyStorePassword())
		if err != nil {
			return nil, fmt.Errorf("sockets: %w", err)
		}
		c.Certificates = []tls.Certificate{cert}
	}
	// Without a trust store the system roots apply.
	if cfg.TrustStorePath() != "" {
		pool, err := LoadTrustStore(cfg.TrustStorePath(), cfg.TrustStoreType(), cfg.TrustStorePassword())
		if err != nil {
			return nil, fmt.Errorf("sockets: %w", err)
		}
		c.RootCAs = pool
	}
	return c, nil
}
