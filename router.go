// Copyright 2025 The icinga2 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package icinga2

import (
	"math/rand"
	"strconv"
	"time"
)

// routable applies the locality policy: messages are never forwarded
// between two non-local endpoints. An anonymous sender (nil) is treated as
// local.
func routable(sender, recipient *Endpoint) bool {
	if sender != nil && !sender.IsLocal() && !recipient.IsLocal() {
		return false
	}
	return true
}

// SendUnicastMessage sends a message to the specified recipient. Messages
// from a non-local sender to a non-local recipient are dropped silently,
// preventing anonymous relay between remote peers. A nil sender is treated
// as local.
func (m *EndpointManager) SendUnicastMessage(sender, recipient *Endpoint, msg *Message) {
	if recipient == nil {
		return
	}
	if !routable(sender, recipient) {
		m.messageDropped()
		return
	}

	if msg.IsResponse() {
		recipient.ProcessResponse(sender, msg)
	} else {
		recipient.ProcessRequest(sender, msg)
	}
}

// SendAnycastMessage sends a request to exactly one endpoint out of all
// endpoints that have a subscription for the request's topic, selected
// uniformly at random. If no endpoint qualifies the message is dropped
// silently.
func (m *EndpointManager) SendAnycastMessage(sender *Endpoint, req *Message) error {
	if req.Method == "" {
		return &ProtocolError{Reason: "message is missing the 'method' property"}
	}

	var candidates []*Endpoint
	for _, ep := range m.registry.All() {
		if !routable(sender, ep) {
			continue
		}
		if ep.HasSubscription(req.Method) {
			candidates = append(candidates, ep)
		}
	}

	if len(candidates) == 0 {
		return nil
	}

	recipient := candidates[rand.Intn(len(candidates))]
	m.SendUnicastMessage(sender, recipient, req)
	return nil
}

// SendMulticastMessage sends a request to every endpoint that has a
// subscription for the request's topic, except the sender itself.
// Multicast requests must not carry a correlation id: a response could not
// be attributed to a single recipient.
func (m *EndpointManager) SendMulticastMessage(sender *Endpoint, req *Message) error {
	if req.ID != "" {
		return &ProtocolError{Reason: "multicast requests must not have an ID"}
	}
	if req.Method == "" {
		return &ProtocolError{Reason: "message is missing the 'method' property"}
	}

	for _, recipient := range m.registry.All() {
		if recipient == sender {
			continue
		}
		if recipient.HasSubscription(req.Method) {
			m.SendUnicastMessage(sender, recipient, req)
		}
	}
	return nil
}

// SendAPIMessage assigns the request a fresh correlation id, registers the
// callback with the given timeout in the pending-request table, and
// dispatches the request: unicast when a recipient is given, anycast
// otherwise. The callback is invoked exactly once — with the correlated
// response, or with the timeout flag set once the deadline passes.
func (m *EndpointManager) SendAPIMessage(sender, recipient *Endpoint, req *Message, callback APICallback, timeout time.Duration) error {
	if req.IsResponse() {
		return &ProtocolError{Reason: "API messages must be requests"}
	}
	if req.Method == "" {
		return &ProtocolError{Reason: "message is missing the 'method' property"}
	}

	id := strconv.FormatUint(m.nextMessageID.Add(1), 10)
	req.ID = id

	m.requests.insert(id, req, callback, time.Now().Add(timeout))
	m.pendingGauge()

	if recipient == nil {
		return m.SendAnycastMessage(sender, req)
	}
	m.SendUnicastMessage(sender, recipient, req)
	return nil
}

// ProcessResponseMessage correlates a response with its pending request and
// invokes the request's callback. Responses for unknown or already
// completed ids are ignored.
func (m *EndpointManager) ProcessResponseMessage(sender *Endpoint, resp *Message) error {
	if resp.ID == "" {
		return &ProtocolError{Reason: "response message must have a message ID"}
	}

	if m.requests.complete(sender, resp.ID, resp) {
		m.pendingGauge()
	}
	return nil
}
