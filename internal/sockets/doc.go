// Package sockets selects the listening and dialing socket factories.
//
// CreateServerFactory and CreateClientFactory return plain TCP factories
// unless secure is set, in which case the TLS material described by a
// TLSConfig is loaded up front. Loading errors are returned to the caller;
// a secure factory never degrades to plaintext.
//
// Key and trust stores are either PEM files or PKCS#12 archives.
package sockets
