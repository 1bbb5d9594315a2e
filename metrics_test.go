// Copyright 2025 The icinga2 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package icinga2

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetricsRegister(t *testing.T) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()

	require.NoError(t, m.Register(reg))
	require.Error(t, m.Register(reg), "double registration must fail")
}

func TestMetricsTrackDroppedMessages(t *testing.T) {
	metrics := NewMetrics()
	m := newTestManager(t, WithMetrics(metrics))

	r1 := m.MakeEndpoint("remote-1", true, false)
	r2 := m.MakeEndpoint("remote-2", true, false)

	// The locality firewall drops this message.
	m.SendUnicastMessage(r1, r2, NewRequest("x"))

	require.Equal(t, 1.0, promtestutil.ToFloat64(metrics.MessagesDropped))
}

func TestMetricsTrackPendingRequests(t *testing.T) {
	metrics := NewMetrics()
	m := newTestManager(t, WithMetrics(metrics))

	require.NoError(t, m.SendAPIMessage(nil, nil, NewRequest("x"),
		func(sender *Endpoint, request, response *Message, timedOut bool) {}, time.Hour))
	require.Equal(t, 1.0, promtestutil.ToFloat64(metrics.PendingRequests))
}
