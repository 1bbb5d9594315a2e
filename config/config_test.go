// Copyright 2025 The icinga2 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	icinga2 "github.com/dominik-r-s/icinga2"
	"github.com/dominik-r-s/icinga2/config"
	"github.com/dominik-r-s/icinga2/internal/testutil"
)

func TestParseConfigBytes(t *testing.T) {
	cfg, err := config.ParseConfigBytes([]byte(`
identity: alpha
tls:
  cert: /etc/icinga2/alpha.crt
  key: /etc/icinga2/alpha.key
  ca: /etc/icinga2/ca.crt
listen:
  - "5665"
endpoints:
  - name: beta
    node: beta-host
    service: "5665"
    subscriptions:
      - checker::Result
  - name: gamma
`))
	require.NoError(t, err)

	require.Equal(t, "alpha", cfg.Identity)
	require.Equal(t, []string{"5665"}, cfg.Listen)
	require.Len(t, cfg.Endpoints, 2)
	require.Equal(t, "beta-host", cfg.Endpoints[0].Node)
	require.Equal(t, []string{"checker::Result"}, cfg.Endpoints[0].Subscriptions)
	require.Empty(t, cfg.Endpoints[1].Node)
}

func TestParseConfigBytesErrors(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{"empty", "# nothing here\n"},
		{"missing identity", "identity: \"\"\ntls: {cert: a, key: b, ca: c}\n"},
		{"missing tls", "identity: alpha\ntls: {cert: \"\", key: b, ca: c}\n"},
		{"unnamed endpoint", "identity: alpha\ntls: {cert: a, key: b, ca: c}\nendpoints: [{name: \"\"}]\n"},
		{"duplicate endpoint", "identity: alpha\ntls: {cert: a, key: b, ca: c}\nendpoints: [{name: x}, {name: x}]\n"},
		{"node without service", "identity: alpha\ntls: {cert: a, key: b, ca: c}\nendpoints: [{name: x, node: h}]\n"},
		{"unknown field", "identity: alpha\ntls: {cert: a, key: b, ca: c}\nbogus: 1\n"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := config.ParseConfigBytes([]byte(tc.doc))
			require.Error(t, err)
		})
	}
}

func TestBuildManager(t *testing.T) {
	pki := testutil.NewTestPKI(t)
	dir := t.TempDir()
	cert, key, ca := pki.WritePEMFiles(t, dir, "alpha")

	doc := fmt.Sprintf(`
identity: alpha
tls:
  cert: %s
  key: %s
  ca: %s
listen:
  - "0"
endpoints:
  - name: beta
    node: beta-host
    service: "5665"
    subscriptions:
      - checker::Result
`, cert, key, ca)

	cfg, err := config.ParseConfigBytes([]byte(doc))
	require.NoError(t, err)

	m, err := config.BuildManager(cfg,
		icinga2.WithLogger(icinga2.DevNullLogger),
		icinga2.WithTickInterval(time.Hour))
	require.NoError(t, err)
	defer m.Close()

	require.Equal(t, "alpha", m.Identity())
	require.NotNil(t, m.IdentityEndpoint())

	beta := m.GetEndpointByName("beta")
	require.NotNil(t, beta)
	require.False(t, beta.IsLocal())
	require.Equal(t, "beta-host", beta.Node())
	require.Equal(t, "5665", beta.Service())
	require.True(t, beta.HasSubscription("checker::Result"))
	require.False(t, beta.IsConnected(), "declared endpoints are dialed by the reconnect timer, not at build time")
}

func TestBuildManagerBadTLSMaterial(t *testing.T) {
	cfg, err := config.ParseConfigBytes([]byte(`
identity: alpha
tls:
  cert: /does/not/exist.crt
  key: /does/not/exist.key
  ca: /does/not/exist.ca
`))
	require.NoError(t, err)

	_, err = config.BuildManager(cfg)
	require.Error(t, err)
}
