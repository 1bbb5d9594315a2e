// Copyright 2025 The icinga2 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package testutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dominik-r-s/icinga2/tlsconf"
)

// TestPKI is an in-memory certificate authority for mutual-TLS tests.
// Every certificate it issues carries the requested common name, the
// fabric identity of the holder.
type TestPKI struct {
	caCert *x509.Certificate
	caKey  *ecdsa.PrivateKey
	pool   *x509.CertPool
}

// NewTestPKI generates a fresh certificate authority.
func NewTestPKI(t testing.TB) *TestPKI {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate CA key: %v", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "test-ca"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("Failed to create CA certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("Failed to parse CA certificate: %v", err)
	}

	pool := x509.NewCertPool()
	pool.AddCert(cert)

	return &TestPKI{caCert: cert, caKey: key, pool: pool}
}

// IssueCertificate issues a certificate whose common name is the given
// fabric identity.
func (p *TestPKI) IssueCertificate(t testing.TB, commonName string) tls.Certificate {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate key for %q: %v", commonName, err)
	}

	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		t.Fatalf("Failed to generate serial for %q: %v", commonName, err)
	}

	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, p.caCert, &key.PublicKey, p.caKey)
	if err != nil {
		t.Fatalf("Failed to issue certificate for %q: %v", commonName, err)
	}

	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  key,
	}
}

// NewContext builds a TLS context for the given fabric identity, trusted
// by every other context issued from the same PKI.
func (p *TestPKI) NewContext(t testing.TB, commonName string) *tlsconf.Context {
	t.Helper()

	ctx, err := tlsconf.NewContext(p.IssueCertificate(t, commonName), p.pool)
	if err != nil {
		t.Fatalf("Failed to build TLS context for %q: %v", commonName, err)
	}
	return ctx
}

// Pool returns the PKI's trust pool.
func (p *TestPKI) Pool() *x509.CertPool {
	return p.pool
}

// WritePEMFiles writes a certificate, key and CA bundle for the given
// identity into dir and returns their paths.
func (p *TestPKI) WritePEMFiles(t testing.TB, dir, commonName string) (certPath, keyPath, caPath string) {
	t.Helper()

	cert := p.IssueCertificate(t, commonName)

	certPath = filepath.Join(dir, commonName+".crt")
	keyPath = filepath.Join(dir, commonName+".key")
	caPath = filepath.Join(dir, "ca.crt")

	writePEM(t, certPath, "CERTIFICATE", cert.Certificate[0])

	keyDER, err := x509.MarshalECPrivateKey(cert.PrivateKey.(*ecdsa.PrivateKey))
	if err != nil {
		t.Fatalf("Failed to marshal key for %q: %v", commonName, err)
	}
	writePEM(t, keyPath, "EC PRIVATE KEY", keyDER)
	writePEM(t, caPath, "CERTIFICATE", p.caCert.Raw)
	return certPath, keyPath, caPath
}

func writePEM(t testing.TB, path, blockType string, der []byte) {
	t.Helper()

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create %s: %v", path, err)
	}
	defer f.Close()

	if err := pem.Encode(f, &pem.Block{Type: blockType, Bytes: der}); err != nil {
		t.Fatalf("Failed to encode %s: %v", path, err)
	}
}
