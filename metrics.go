// Copyright 2025 The icinga2 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package icinga2

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the prometheus collectors of one manager. The manager
// works without metrics attached; collectors are only updated when a
// Metrics value is passed via WithMetrics.
type Metrics struct {
	ConnectionsAccepted prometheus.Counter
	ConnectionsDialed   prometheus.Counter
	MessagesReceived    prometheus.Counter
	MessagesSent        prometheus.Counter
	MessagesDropped     prometheus.Counter
	RequestsTimedOut    prometheus.Counter
	ConnectedEndpoints  prometheus.Gauge
	PendingRequests     prometheus.Gauge
}

// NewMetrics creates the manager's collectors. They are not registered;
// call Register with the desired registerer.
func NewMetrics() *Metrics {
	return &Metrics{
		ConnectionsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "icinga2",
			Subsystem: "remoting",
			Name:      "connections_accepted_total",
			Help:      "Number of TLS connections accepted by listeners.",
		}),
		ConnectionsDialed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "icinga2",
			Subsystem: "remoting",
			Name:      "connections_dialed_total",
			Help:      "Number of TLS connections established by dialing.",
		}),
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "icinga2",
			Subsystem: "remoting",
			Name:      "messages_received_total",
			Help:      "Number of framed messages received from peers.",
		}),
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "icinga2",
			Subsystem: "remoting",
			Name:      "messages_sent_total",
			Help:      "Number of framed messages written to peers.",
		}),
		MessagesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "icinga2",
			Subsystem: "remoting",
			Name:      "messages_dropped_total",
			Help:      "Number of messages dropped by routing policy or missing streams.",
		}),
		RequestsTimedOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "icinga2",
			Subsystem: "remoting",
			Name:      "requests_timed_out_total",
			Help:      "Number of API requests completed by timeout.",
		}),
		ConnectedEndpoints: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "icinga2",
			Subsystem: "remoting",
			Name:      "connected_endpoints",
			Help:      "Number of endpoints with a live stream.",
		}),
		PendingRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "icinga2",
			Subsystem: "remoting",
			Name:      "pending_requests",
			Help:      "Number of outstanding API requests.",
		}),
	}
}

// Register registers all collectors with r.
func (m *Metrics) Register(r prometheus.Registerer) error {
	for _, c := range m.collectors() {
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// MustRegister registers all collectors with r and panics on error.
func (m *Metrics) MustRegister(r prometheus.Registerer) {
	r.MustRegister(m.collectors()...)
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ConnectionsAccepted,
		m.ConnectionsDialed,
		m.MessagesReceived,
		m.MessagesSent,
		m.MessagesDropped,
		m.RequestsTimedOut,
		m.ConnectedEndpoints,
		m.PendingRequests,
	}
}
