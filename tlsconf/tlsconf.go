// Copyright 2025 The icinga2 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tlsconf builds the mutual-TLS configuration of the remoting
// fabric and extracts peer identities from verified certificates.
package tlsconf

import (
	"crypto/tls"
	"crypto/x509"
	"os"

	"github.com/pkg/errors"
)

// Context holds the certificate chain, private key and trust roots shared
// by every listener and dialer of a manager. It is set once and read
// concurrently.
type Context struct {
	cert tls.Certificate
	ca   *x509.CertPool
}

// NewContext creates a TLS context from an in-memory certificate and trust
// pool.
func NewContext(cert tls.Certificate, ca *x509.CertPool) (*Context, error) {
	if cert.Certificate == nil || cert.PrivateKey == nil {
		return nil, errors.New("certificate chain and private key must be set")
	}
	if ca == nil {
		return nil, errors.New("trust roots must be set")
	}
	return &Context{cert: cert, ca: ca}, nil
}

// LoadContext creates a TLS context from PEM files on disk.
func LoadContext(certFile, keyFile, caFile string) (*Context, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, errors.Wrap(err, "cannot load cert/key pair")
	}
	ca, err := ParseCAFile(caFile)
	if err != nil {
		return nil, errors.Wrap(err, "cannot load ca file")
	}
	return NewContext(cert, ca)
}

// ParseCAFile reads a PEM bundle of trust roots from a file.
func ParseCAFile(certfile string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(certfile)
	if err != nil {
		return nil, err
	}
	return ParseCAPEM(pem)
}

// ParseCAPEM builds a trust pool from a PEM bundle.
func ParseCAPEM(pem []byte) (*x509.CertPool, error) {
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("PEM parsing error")
	}
	return pool, nil
}

// ServerConfig returns the TLS configuration for accepted connections.
// Clients must present a certificate that verifies against the trust
// roots.
func (c *Context) ServerConfig() *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{c.cert},
		ClientCAs:    c.ca,
		ClientAuth:   tls.RequireAndVerifyClientCert,
	}
}

// ClientConfig returns the TLS configuration for dialed connections. The
// peer's certificate chain is verified against the trust roots, but its
// subject is not matched against the dialed host name: peers are
// identified by certificate common name, which is a fabric identity
// rather than an address.
func (c *Context) ClientConfig() *tls.Config {
	conf := &tls.Config{
		Certificates: []tls.Certificate{c.cert},
		RootCAs:      c.ca,

		// Chain verification happens in VerifyPeerCertificate; identity
		// checks are by certificate CN, not host name.
		InsecureSkipVerify: true,
	}
	conf.VerifyPeerCertificate = func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		return verifyChain(rawCerts, c.ca)
	}
	return conf
}

// verifyChain verifies the presented certificate chain against the trust
// pool without a host name check.
func verifyChain(rawCerts [][]byte, roots *x509.CertPool) error {
	if len(rawCerts) == 0 {
		return errors.New("no certificate presented by peer")
	}

	leaf, err := x509.ParseCertificate(rawCerts[0])
	if err != nil {
		return errors.Wrap(err, "cannot parse peer certificate")
	}

	intermediates := x509.NewCertPool()
	for _, raw := range rawCerts[1:] {
		cert, err := x509.ParseCertificate(raw)
		if err != nil {
			return errors.Wrap(err, "cannot parse intermediate certificate")
		}
		intermediates.AddCert(cert)
	}

	_, err = leaf.Verify(x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	return err
}

// PeerIdentity extracts the peer identity from a completed handshake: the
// common name of the peer certificate. A missing certificate or an empty
// common name is a fatal connection error.
func PeerIdentity(cs tls.ConnectionState) (string, error) {
	if len(cs.PeerCertificates) == 0 {
		return "", errors.New("peer presented no certificate")
	}
	cn := cs.PeerCertificates[0].Subject.CommonName
	if cn == "" {
		return "", errors.New("peer certificate has no common name")
	}
	return cn, nil
}
