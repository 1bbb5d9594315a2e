// Copyright 2025 The icinga2 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package icinga2

import (
	"fmt"
	"sync"
	"time"

	"github.com/jpillora/backoff"
)

// ConnState describes the connectivity of an endpoint.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateHandshaking
	StateConnected
)

// String returns the string representation of the connection state
func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// TopicHandler is a user callback invoked for requests matching a topic the
// handler was registered for. A returned error is surfaced to the manager's
// error sink; it does not prevent later handlers from running and does not
// tear down any stream.
type TopicHandler func(sender *Endpoint, request *Message) error

// Endpoint is a named, possibly-connected peer in the fabric. Remote
// endpoints are named after the common name of their peer certificate;
// local endpoints represent message consumers co-located with the manager.
// The local flag is immutable after creation.
type Endpoint struct {
	name       string
	local      bool
	replicated bool
	manager    *EndpointManager

	mu              sync.Mutex
	subscriptions   map[string]struct{}
	handlers        map[string][]TopicHandler
	stream          *Stream
	node            string
	service         string
	state           ConnState
	sentWelcome     bool
	receivedWelcome bool
	retryAt         time.Time

	retry *backoff.Backoff
}

func newEndpoint(manager *EndpointManager, name string, replicated, local bool) *Endpoint {
	return &Endpoint{
		name:          name,
		local:         local,
		replicated:    replicated,
		manager:       manager,
		subscriptions: make(map[string]struct{}),
		handlers:      make(map[string][]TopicHandler),
		retry: &backoff.Backoff{
			Min:    time.Second,
			Max:    2 * time.Minute,
			Factor: 2,
			Jitter: true,
		},
	}
}

// Name returns the endpoint's unique name.
func (e *Endpoint) Name() string {
	return e.name
}

// IsLocal reports whether messages may be routed between this endpoint and
// non-local peers.
func (e *Endpoint) IsLocal() bool {
	return e.local
}

// IsReplicated reports whether the endpoint was materialized from a peer
// connection or a replicated declaration rather than local-only use.
func (e *Endpoint) IsReplicated() bool {
	return e.replicated
}

// IsConnected reports whether the endpoint currently has a stream attached.
// An endpoint without a stream survives in the registry and is a candidate
// for the reconnect timer if it has a dial target.
func (e *Endpoint) IsConnected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stream != nil
}

// State returns the endpoint's connectivity state.
func (e *Endpoint) State() ConnState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Endpoint) setState(s ConnState) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// SetDialTarget sets the node and service the reconnect timer uses to
// re-establish this endpoint's connection.
func (e *Endpoint) SetDialTarget(node, service string) {
	e.mu.Lock()
	e.node = node
	e.service = service
	e.mu.Unlock()
}

// Node returns the endpoint's dial host, if any.
func (e *Endpoint) Node() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.node
}

// Service returns the endpoint's dial port, if any.
func (e *Endpoint) Service() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.service
}

// RegisterSubscription adds a topic to the endpoint's subscription set.
// Registering an existing topic is a no-op.
func (e *Endpoint) RegisterSubscription(topic string) {
	e.mu.Lock()
	e.subscriptions[topic] = struct{}{}
	e.mu.Unlock()
}

// UnregisterSubscription removes a topic from the subscription set.
func (e *Endpoint) UnregisterSubscription(topic string) {
	e.mu.Lock()
	delete(e.subscriptions, topic)
	e.mu.Unlock()
}

// HasSubscription reports whether the endpoint subscribes to the topic.
func (e *Endpoint) HasSubscription(topic string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.subscriptions[topic]
	return ok
}

// Subscriptions returns a snapshot of the endpoint's subscribed topics.
func (e *Endpoint) Subscriptions() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	topics := make([]string, 0, len(e.subscriptions))
	for topic := range e.subscriptions {
		topics = append(topics, topic)
	}
	return topics
}

// SetSubscriptions replaces the endpoint's subscription set.
func (e *Endpoint) SetSubscriptions(topics []string) {
	subs := make(map[string]struct{}, len(topics))
	for _, topic := range topics {
		subs[topic] = struct{}{}
	}
	e.mu.Lock()
	e.subscriptions = subs
	e.mu.Unlock()
}

// ClearSubscriptions empties the endpoint's subscription set.
func (e *Endpoint) ClearSubscriptions() {
	e.mu.Lock()
	e.subscriptions = make(map[string]struct{})
	e.mu.Unlock()
}

// RegisterTopicHandler appends a callback for the given topic and
// subscribes the endpoint to it. Handlers remain registered for the
// endpoint's lifetime and fire in registration order.
func (e *Endpoint) RegisterTopicHandler(topic string, handler TopicHandler) {
	e.mu.Lock()
	e.handlers[topic] = append(e.handlers[topic], handler)
	e.subscriptions[topic] = struct{}{}
	e.mu.Unlock()
}

// ReceivedWelcome reports whether a message has been received on the
// current connection. Welcome state is advisory and never gates delivery.
func (e *Endpoint) ReceivedWelcome() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.receivedWelcome
}

// SentWelcome reports whether a welcome has been sent on the current
// connection.
func (e *Endpoint) SentWelcome() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sentWelcome
}

func (e *Endpoint) markReceivedWelcome() {
	e.mu.Lock()
	e.receivedWelcome = true
	e.mu.Unlock()
}

func (e *Endpoint) markSentWelcome() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sentWelcome {
		return false
	}
	e.sentWelcome = true
	return true
}

// Stream returns the endpoint's current stream, or nil when disconnected.
func (e *Endpoint) Stream() *Stream {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stream
}

// SetStream replaces the endpoint's stream and starts a reader task that
// consumes framed messages until the stream ends or errors. On reader
// termination the stream reference is cleared atomically; the endpoint
// becomes disconnected but survives in the registry for reconnection.
func (e *Endpoint) SetStream(s *Stream) {
	e.mu.Lock()
	old := e.stream
	e.stream = s
	e.sentWelcome = false
	e.receivedWelcome = false
	if s != nil {
		e.state = StateConnected
		e.retryAt = time.Time{}
	} else {
		e.state = StateDisconnected
	}
	e.mu.Unlock()

	if old != nil {
		old.Close()
	}
	if s != nil {
		e.retry.Reset()
		e.manager.startReader(e, s)
	}
}

// clearStream detaches s from the endpoint if it is still the current
// stream. A newer stream assigned by a concurrent reconnect is left alone.
func (e *Endpoint) clearStream(s *Stream) {
	e.mu.Lock()
	if e.stream != s {
		e.mu.Unlock()
		return
	}
	e.stream = nil
	e.state = StateDisconnected
	e.mu.Unlock()

	s.Close()
}

// dialFailed pushes the next reconnect attempt out by the endpoint's
// backoff interval.
func (e *Endpoint) dialFailed(now time.Time) {
	e.mu.Lock()
	e.retryAt = now.Add(e.retry.Duration())
	e.state = StateDisconnected
	e.mu.Unlock()
}

// beginDial claims a reconnect attempt. It returns false when the endpoint
// is already connected or its backoff has not elapsed; otherwise it moves
// the retry deadline out by holdoff so overlapping ticks cannot start a
// second dial for the same endpoint.
func (e *Endpoint) beginDial(now time.Time, holdoff time.Duration) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stream != nil || now.Before(e.retryAt) {
		return false
	}
	e.retryAt = now.Add(holdoff)
	e.state = StateConnecting
	return true
}

// ProcessRequest processes a request addressed to this endpoint.
//
// For a local endpoint the request has reached its terminus: every handler
// registered for the request's method runs in registration order, and an
// error from one handler does not prevent later handlers from running.
//
// For a remote endpoint the behavior depends on the direction. A request
// received from the peer itself (sender == e) is routed into the local
// fabric: anycast when it carries a correlation id, multicast otherwise.
// Any other request is outbound and is written to the attached stream.
func (e *Endpoint) ProcessRequest(sender *Endpoint, req *Message) {
	if e.local {
		e.dispatchRequest(sender, req)
		return
	}

	if sender == e {
		if req.ID != "" {
			e.manager.SendAnycastMessage(sender, req)
		} else {
			e.manager.SendMulticastMessage(sender, req)
		}
		return
	}

	e.writeMessage(req)
}

// ProcessResponse processes a response addressed to this endpoint. Local
// delivery and inbound responses are forwarded to the pending-request
// table; outbound responses for a remote endpoint are written to its
// stream.
func (e *Endpoint) ProcessResponse(sender *Endpoint, resp *Message) {
	if e.local || sender == e {
		e.manager.ProcessResponseMessage(sender, resp)
		return
	}

	e.writeMessage(resp)
}

// dispatchRequest invokes the topic handlers registered for the request's
// method. The handler list is snapshotted under the endpoint lock and
// invoked outside it, so handlers may call back into the endpoint.
func (e *Endpoint) dispatchRequest(sender *Endpoint, req *Message) {
	e.mu.Lock()
	handlers := make([]TopicHandler, len(e.handlers[req.Method]))
	copy(handlers, e.handlers[req.Method])
	e.mu.Unlock()

	for _, handler := range handlers {
		if err := handler(sender, req); err != nil {
			e.manager.handlerError(fmt.Errorf("icinga2: handler for topic %q on endpoint %q: %w", req.Method, e.name, err))
		}
	}
}

// writeMessage serializes a message to the endpoint's stream. Messages for
// a disconnected endpoint are dropped; a write error tears down the stream
// so the reader task and the reconnect timer can take over.
func (e *Endpoint) writeMessage(m *Message) {
	e.mu.Lock()
	s := e.stream
	e.mu.Unlock()

	if s == nil {
		e.manager.messageDropped()
		e.manager.log.Debug("dropping message for disconnected endpoint %q", e.name)
		return
	}

	if err := s.WriteMessage(m); err != nil {
		e.manager.log.Warn("write to endpoint %q failed: %v", e.name, err)
		s.Close()
		return
	}
	e.manager.messageSent()
}
