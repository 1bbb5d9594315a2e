// Copyright 2025 The icinga2 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package icinga2

import "time"

// Option configures an EndpointManager.
type Option func(m *EndpointManager)

// WithLogger sets the logger used by the manager and its tasks.
func WithLogger(log *Logger) Option {
	return func(m *EndpointManager) {
		m.log = log
	}
}

// WithCodec sets the message codec used for framed streams. All endpoints
// in a fleet must agree on one codec.
func WithCodec(codec MessageCodec) Option {
	return func(m *EndpointManager) {
		m.codec = codec
	}
}

// WithTickInterval sets the interval of the periodic request-timeout,
// subscription-aggregation and reconnect tasks. The default is 5 seconds.
func WithTickInterval(d time.Duration) Option {
	return func(m *EndpointManager) {
		m.tickInterval = d
	}
}

// WithHandshakeTimeout bounds the TLS handshake of accepted and dialed
// connections.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(m *EndpointManager) {
		m.handshakeTimeout = d
	}
}

// WithDialTimeout bounds connection attempts.
func WithDialTimeout(d time.Duration) Option {
	return func(m *EndpointManager) {
		m.dialTimeout = d
	}
}

// WithMetrics attaches prometheus collectors to the manager.
func WithMetrics(metrics *Metrics) Option {
	return func(m *EndpointManager) {
		m.metrics = metrics
	}
}

// WithConnectHandler registers a callback fired after a stream has been
// assigned to an endpoint.
func WithConnectHandler(handler func(*Endpoint)) Option {
	return func(m *EndpointManager) {
		m.connectHandler = handler
	}
}

// WithErrorSink routes topic handler errors to the given function instead
// of the manager's logger.
func WithErrorSink(sink func(error)) Option {
	return func(m *EndpointManager) {
		m.errorSink = sink
	}
}
