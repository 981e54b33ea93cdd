package sockets

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"

	"software.sslmate.com/src/go-pkcs12"
)

// Store formats.
const (
	StoreTypePEM    = "PEM"
	StoreTypePKCS12 = "PKCS12"
)

// ErrUnsupportedStore is returned for store types other than PEM and PKCS12.
var ErrUnsupportedStore = errors.New("sockets: unsupported store type")

// NormalizeStoreType maps accepted spellings to StoreTypePEM or StoreTypePKCS12.
// An empty type means PEM.
func NormalizeStoreType(t string) (string, error) {
	switch strings.ToUpper(strings.TrimSpace(t)) {
	case "", "PEM":
		return StoreTypePEM, nil
	case "PKCS12", "P12", "PFX":
		return StoreTypePKCS12, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedStore, t)
	}
}

// LoadKeyStore reads the identity (certificate chain and private key).
// A PEM key store holds both the CERTIFICATE blocks and the key block.
func LoadKeyStore(path, storeType, password string) (tls.Certificate, error) {
	kind, err := NormalizeStoreType(storeType)
	if err != nil {
		return tls.Certificate{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("read key store: %w", err)
	}

	if kind == StoreTypePEM {
		cert, err := tls.X509KeyPair(data, data)
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("parse PEM key store %s: %w", path, err)
		}
		return cert, nil
	}

	key, leaf, chain, err := pkcs12.DecodeChain(data, password)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("decode PKCS12 key store %s: %w", path, err)
	}
	cert := tls.Certificate{
		Certificate: [][]byte{leaf.Raw},
		PrivateKey:  key,
		Leaf:        leaf,
	}
	for _, c := range chain {
		cert.Certificate = append(cert.Certificate, c.Raw)
	}
	return cert, nil
}

// LoadTrustStore reads the trusted certificates into a pool. PKCS#12 trust
// stores may be certificate-only archives or archives with a key entry, in
// which case the entry's chain is trusted.
func LoadTrustStore(path, storeType, password string) (*x509.CertPool, error) {
	kind, err := NormalizeStoreType(storeType)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read trust store: %w", err)
	}

	pool := x509.NewCertPool()
	if kind == StoreTypePEM {
		if !pool.AppendCertsFromPEM(data) {
			return nil, fmt.Errorf("parse PEM trust store %s: no certificates found", path)
		}
		return pool, nil
	}

	certs, err := pkcs12.DecodeTrustStore(data, password)
	if err != nil {
		_, leaf, chain, chainErr := pkcs12.DecodeChain(data, password)
		if chainErr != nil {
			return nil, fmt.Errorf("decode PKCS12 trust store %s: %w", path, err)
		}
		certs = append([]*x509.Certificate{leaf}, chain...)
	}
	if len(certs) == 0 {
		return nil, fmt.Errorf("decode PKCS12 trust store %s: no certificates found", path)
	}
	for _, c := range certs {
		pool.AddCert(c)
	}
	return pool, nil
}

// ParseProtocol returns the version range for a protocol name.
// "TLS" (or empty) allows 1.2 and 1.3; older protocols are refused.
func ParseProtocol(p string) (min, max uint16, err error) {
	switch strings.ToUpper(strings.TrimSpace(p)) {
	case "", "TLS":
		return tls.VersionTLS12, tls.VersionTLS13, nil
	case "TLSV1.2", "1.2":
		return tls.VersionTLS12, tls.VersionTLS12, nil
	case "TLSV1.3", "1.3":
		return tls.VersionTLS13, tls.VersionTLS13, nil
	default:
		return 0, 0, fmt.Errorf("sockets: unsupported TLS protocol %q", p)
	}
}
