// Copyright 2025 The icinga2 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tlsconf_test

import (
	"crypto/tls"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dominik-r-s/icinga2/internal/testutil"
	"github.com/dominik-r-s/icinga2/tlsconf"
)

func TestNewContextValidation(t *testing.T) {
	pki := testutil.NewTestPKI(t)

	_, err := tlsconf.NewContext(tls.Certificate{}, pki.Pool())
	require.Error(t, err, "certificate chain and key are required")

	_, err = tlsconf.NewContext(pki.IssueCertificate(t, "alpha"), nil)
	require.Error(t, err, "trust roots are required")

	_, err = tlsconf.NewContext(pki.IssueCertificate(t, "alpha"), pki.Pool())
	require.NoError(t, err)
}

func TestParseCAPEMRejectsGarbage(t *testing.T) {
	_, err := tlsconf.ParseCAPEM([]byte("not pem"))
	require.Error(t, err)
}

func TestLoadContextMissingFiles(t *testing.T) {
	_, err := tlsconf.LoadContext("/does/not/exist.crt", "/does/not/exist.key", "/does/not/exist.ca")
	require.Error(t, err)
}

// TestMutualHandshake runs a full handshake between a server and client
// context and checks that both sides identify the peer by certificate
// common name.
func TestMutualHandshake(t *testing.T) {
	pki := testutil.NewTestPKI(t)

	serverCtx, err := tlsconf.NewContext(pki.IssueCertificate(t, "alpha"), pki.Pool())
	require.NoError(t, err)
	clientCtx, err := tlsconf.NewContext(pki.IssueCertificate(t, "beta"), pki.Pool())
	require.NoError(t, err)

	c1, c2 := net.Pipe()
	server := tls.Server(c1, serverCtx.ServerConfig())
	client := tls.Client(c2, clientCtx.ClientConfig())
	defer server.Close()
	defer client.Close()

	errc := make(chan error, 1)
	go func() {
		errc <- server.Handshake()
	}()
	require.NoError(t, client.Handshake())
	require.NoError(t, <-errc)

	// The server sees the client's identity and vice versa.
	serverIdent, err := tlsconf.PeerIdentity(server.ConnectionState())
	require.NoError(t, err)
	require.Equal(t, "beta", serverIdent)

	clientIdent, err := tlsconf.PeerIdentity(client.ConnectionState())
	require.NoError(t, err)
	require.Equal(t, "alpha", clientIdent)
}

// TestHandshakeRejectsForeignCA checks that a certificate from an unknown
// authority does not pass verification on either side.
func TestHandshakeRejectsForeignCA(t *testing.T) {
	pki := testutil.NewTestPKI(t)
	rogue := testutil.NewTestPKI(t)

	serverCtx, err := tlsconf.NewContext(pki.IssueCertificate(t, "alpha"), pki.Pool())
	require.NoError(t, err)
	rogueCtx, err := tlsconf.NewContext(rogue.IssueCertificate(t, "mallory"), rogue.Pool())
	require.NoError(t, err)

	c1, c2 := net.Pipe()
	server := tls.Server(c1, serverCtx.ServerConfig())
	client := tls.Client(c2, rogueCtx.ClientConfig())
	defer server.Close()
	defer client.Close()

	errc := make(chan error, 1)
	go func() {
		errc <- server.Handshake()
	}()

	clientErr := client.Handshake()
	serverErr := <-errc
	require.True(t, clientErr != nil || serverErr != nil,
		"handshake between foreign authorities must fail")
}

func TestPeerIdentityRequiresCertificate(t *testing.T) {
	_, err := tlsconf.PeerIdentity(tls.ConnectionState{})
	require.Error(t, err)
}
