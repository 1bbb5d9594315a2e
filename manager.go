// Copyright 2025 The icinga2 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package icinga2

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dominik-r-s/icinga2/tlsconf"
)

const (
	defaultTickInterval     = 5 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
	defaultDialTimeout      = 10 * time.Second
)

// EndpointManager owns the messaging fabric of one process: it accepts and
// dials TLS connections, associates each live connection with the endpoint
// named by its peer certificate, routes messages, and drives the periodic
// request-timeout, subscription-aggregation and reconnect tasks.
//
// A manager is an explicitly constructed value; independent managers can
// coexist in one process.
type EndpointManager struct {
	log              *Logger
	codec            MessageCodec
	tickInterval     time.Duration
	handshakeTimeout time.Duration
	dialTimeout      time.Duration
	metrics          *Metrics
	connectHandler   func(*Endpoint)
	errorSink        func(error)

	registry *Registry
	requests *pendingTable

	nextMessageID atomic.Uint64

	mu        sync.Mutex
	identity  string
	endpoint  *Endpoint // identity endpoint
	tlsCtx    TLSContext
	listeners []net.Listener
	closed    bool

	// Statistics
	totalReceived atomic.Uint64
	totalSent     atomic.Uint64
	totalDropped  atomic.Uint64

	ctx      context.Context
	cancel   context.CancelFunc
	grp      *errgroup.Group
	readerWG sync.WaitGroup
	dialer   net.Dialer
}

// TLSContext produces the TLS configuration for one side of a handshake.
// It is satisfied by *tlsconf.Context.
type TLSContext interface {
	ServerConfig() *tls.Config
	ClientConfig() *tls.Config
}

// NewEndpointManager creates a manager and starts its periodic tasks. The
// manager accepts no connections until a TLS context is set and a listener
// or connection is added. Callers must Close the manager to release its
// tasks.
func NewEndpointManager(opts ...Option) *EndpointManager {
	ctx, cancel := context.WithCancel(context.Background())

	m := &EndpointManager{
		log:              DefaultLogger,
		codec:            JSONCodec{},
		tickInterval:     defaultTickInterval,
		handshakeTimeout: defaultHandshakeTimeout,
		dialTimeout:      defaultDialTimeout,
		registry:         NewRegistry(),
		requests:         newPendingTable(),
		ctx:              ctx,
		cancel:           cancel,
		grp:              new(errgroup.Group),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.errorSink == nil {
		m.errorSink = func(err error) { m.log.Error("%v", err) }
	}
	m.dialer = net.Dialer{Timeout: m.dialTimeout}

	m.grp.Go(m.requestTimerLoop)
	m.grp.Go(m.subscriptionTimerLoop)
	m.grp.Go(m.reconnectTimerLoop)

	return m
}

// SetTLSContext sets the TLS context used by listeners and dialers.
func (m *EndpointManager) SetTLSContext(tlsCtx TLSContext) {
	m.mu.Lock()
	m.tlsCtx = tlsCtx
	m.mu.Unlock()
}

// TLSContext returns the configured TLS context, or nil.
func (m *EndpointManager) TLSContext() TLSContext {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tlsCtx
}

// SetIdentity sets the manager's own name. The identity endpoint is looked
// up or created as a local endpoint; a previously configured identity
// endpoint is unregistered.
func (m *EndpointManager) SetIdentity(identity string) error {
	if identity == "" {
		return &ConfigurationError{Reason: "identity must not be empty"}
	}

	m.mu.Lock()
	old := m.endpoint
	m.identity = identity
	m.mu.Unlock()

	if old != nil {
		m.UnregisterEndpoint(old.Name())
	}

	ep := m.MakeEndpoint(identity, true, true)

	m.mu.Lock()
	m.endpoint = ep
	m.mu.Unlock()
	return nil
}

// Identity returns the manager's own name.
func (m *EndpointManager) Identity() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.identity
}

// IdentityEndpoint returns the endpoint representing the manager itself,
// or nil when no identity has been set.
func (m *EndpointManager) IdentityEndpoint() *Endpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.endpoint
}

// MakeEndpoint looks up or creates the endpoint with the given name.
// Concurrent calls for one name observe a single endpoint; the flags of an
// already existing endpoint are left untouched.
func (m *EndpointManager) MakeEndpoint(name string, replicated, local bool) *Endpoint {
	return m.registry.getOrCreate(name, func() *Endpoint {
		return newEndpoint(m, name, replicated, local)
	})
}

// GetEndpointByName returns the endpoint with the given name, or nil.
func (m *EndpointManager) GetEndpointByName(name string) *Endpoint {
	return m.registry.GetByName(name)
}

// UnregisterEndpoint removes the endpoint with the given name from the
// registry and tears down its stream, if any.
func (m *EndpointManager) UnregisterEndpoint(name string) {
	ep := m.registry.Unregister(name)
	if ep == nil {
		return
	}
	ep.SetStream(nil)
}

// Registry returns the manager's endpoint registry.
func (m *EndpointManager) Registry() *Registry {
	return m.registry
}

// AddListener binds a dual-stack TCP socket on the given service port and
// accepts connections until the manager is closed. It returns the bound
// address, so a service of "0" can be used to listen on an ephemeral port.
func (m *EndpointManager) AddListener(service string) (net.Addr, error) {
	if m.TLSContext() == nil {
		return nil, &ConfigurationError{Reason: "TLS context is required for AddListener()"}
	}

	l, err := net.Listen("tcp", net.JoinHostPort("", service))
	if err != nil {
		return nil, fmt.Errorf("icinga2: could not listen on port %s: %w", service, err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		l.Close()
		return nil, &ConfigurationError{Reason: "manager is closed"}
	}
	m.listeners = append(m.listeners, l)
	m.mu.Unlock()

	m.log.Info("adding new listener: port %s (%s)", service, l.Addr())

	m.grp.Go(func() error {
		m.acceptLoop(l)
		return nil
	})
	return l.Addr(), nil
}

// acceptLoop accepts connections forever; each accepted connection is
// handed to NewClient in its own task so a slow TLS handshake cannot stall
// the listener.
func (m *EndpointManager) acceptLoop(l net.Listener) {
	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-m.ctx.Done():
				return
			default:
			}
			m.log.Warn("error accepting connection on %s: %v", l.Addr(), err)
			continue
		}

		m.grp.Go(func() error {
			if err := m.NewClient(conn, RoleServer); err != nil {
				m.log.Info("error for new client connection: %v", err)
			}
			return nil
		})
	}
}

// AddConnection resolves and connects to the given node and service and
// hands the connection to NewClient. Dial failures are logged and
// returned; the reconnect timer drives retries.
func (m *EndpointManager) AddConnection(node, service string) error {
	if m.TLSContext() == nil {
		return &ConfigurationError{Reason: "TLS context is required for AddConnection()"}
	}

	conn, err := m.dialer.DialContext(m.ctx, "tcp", net.JoinHostPort(node, service))
	if err != nil {
		m.log.Info("could not connect to %s:%s: %v", node, service, err)
		return fmt.Errorf("icinga2: could not connect to %s:%s: %w", node, service, err)
	}

	if err := m.NewClient(conn, RoleClient); err != nil {
		m.log.Info("could not establish connection to %s:%s: %v", node, service, err)
		return err
	}
	return nil
}

// Role describes which side of the TLS handshake a connection plays.
type Role int

const (
	RoleServer Role = iota
	RoleClient
)

// String returns the string representation of the role
func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

// NewClient wraps an established socket in a TLS stream, performs the
// handshake, extracts the peer certificate's common name as the peer
// identity, and assigns the resulting framed stream to the endpoint of
// that name, creating it if necessary.
func (m *EndpointManager) NewClient(conn net.Conn, role Role) error {
	tlsCtx := m.TLSContext()
	if tlsCtx == nil {
		conn.Close()
		return &ConfigurationError{Reason: "TLS context is required for NewClient()"}
	}

	var tlsConn *tls.Conn
	switch role {
	case RoleServer:
		tlsConn = tls.Server(conn, tlsCtx.ServerConfig())
	default:
		tlsConn = tls.Client(conn, tlsCtx.ClientConfig())
	}

	hctx, cancel := context.WithTimeout(m.ctx, m.handshakeTimeout)
	defer cancel()
	if err := tlsConn.HandshakeContext(hctx); err != nil {
		tlsConn.Close()
		return fmt.Errorf("icinga2: TLS handshake with %s failed: %w", conn.RemoteAddr(), err)
	}

	identity, err := tlsconf.PeerIdentity(tlsConn.ConnectionState())
	if err != nil {
		tlsConn.Close()
		return fmt.Errorf("icinga2: could not identify peer %s: %w", conn.RemoteAddr(), err)
	}

	connID := uuid.New().String()
	m.log.Info("new client connection for identity %q from %s (conn %s, role %s)",
		identity, conn.RemoteAddr(), connID, role)
	m.connectionOpened(role)

	ep := m.MakeEndpoint(identity, true, false)
	ep.SetStream(NewStream(tlsConn, m.codec))

	m.sendWelcome(ep)

	if m.connectHandler != nil {
		m.connectHandler(ep)
	}
	return nil
}

// sendWelcome sends the advisory welcome request once per connection.
func (m *EndpointManager) sendWelcome(ep *Endpoint) {
	if !ep.markSentWelcome() {
		return
	}
	ep.writeMessage(NewRequest(MethodWelcome))
}

// startReader runs the reader task for a freshly assigned stream.
func (m *EndpointManager) startReader(ep *Endpoint, s *Stream) {
	m.readerWG.Add(1)
	m.connectedGauge(1)
	go func() {
		defer m.readerWG.Done()
		defer m.connectedGauge(-1)
		m.readLoop(ep, s)
	}()
}

// readLoop consumes framed messages from a stream until it ends or errors
// and feeds each into the owning endpoint's processing path. On
// termination the endpoint's stream reference is cleared so the reconnect
// timer can redial.
func (m *EndpointManager) readLoop(ep *Endpoint, s *Stream) {
	defer ep.clearStream(s)

	for {
		msg, err := s.ReadMessage()
		if err != nil {
			if IsProtocolError(err) {
				m.log.Warn("dropping connection to endpoint %q: %v", ep.Name(), err)
			} else {
				m.log.Debug("connection to endpoint %q closed: %v", ep.Name(), err)
			}
			return
		}

		m.messageReceived()
		ep.markReceivedWelcome()

		if msg.IsResponse() {
			ep.ProcessResponse(ep, msg)
			continue
		}

		if msg.Method == "" {
			m.log.Warn("dropping connection to endpoint %q: request without method", ep.Name())
			return
		}

		if msg.Method == MethodWelcome {
			m.handleWelcome(ep, msg)
			continue
		}

		ep.ProcessRequest(ep, msg)
	}
}

// handleWelcome processes an inbound advisory welcome. A welcome carrying
// a correlation id is answered; welcome state never gates delivery.
func (m *EndpointManager) handleWelcome(ep *Endpoint, msg *Message) {
	m.log.Debug("received welcome from endpoint %q", ep.Name())
	if msg.ID != "" {
		ep.writeMessage(NewResponse(msg.ID))
	}
}

// requestTimerLoop sweeps the pending-request table.
func (m *EndpointManager) requestTimerLoop() error {
	ticker := time.NewTicker(m.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return nil
		case now := <-ticker.C:
			if n := m.requests.sweep(now); n > 0 {
				m.log.Debug("timed out %d pending request(s)", n)
				m.requestsTimedOut(n)
			}
			m.pendingGauge()
		}
	}
}

// subscriptionTimerLoop recomputes the identity endpoint's subscription
// set from scratch on every tick: the union of the subscriptions of every
// other local endpoint. Recomputing rather than diffing guarantees
// eventual convergence even if individual updates were missed.
func (m *EndpointManager) subscriptionTimerLoop() error {
	ticker := time.NewTicker(m.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return nil
		case <-ticker.C:
			m.aggregateSubscriptions()
		}
	}
}

func (m *EndpointManager) aggregateSubscriptions() {
	identity := m.IdentityEndpoint()
	if identity == nil {
		return
	}

	var union []string
	seen := make(map[string]struct{})
	for _, ep := range m.registry.All() {
		if !ep.IsLocal() || ep == identity {
			continue
		}
		for _, topic := range ep.Subscriptions() {
			if _, dup := seen[topic]; dup {
				continue
			}
			seen[topic] = struct{}{}
			union = append(union, topic)
		}
	}

	identity.SetSubscriptions(union)
}

// reconnectTimerLoop attempts one dial per tick for every disconnected
// endpoint with a dial target, subject to the endpoint's backoff.
func (m *EndpointManager) reconnectTimerLoop() error {
	ticker := time.NewTicker(m.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return nil
		case now := <-ticker.C:
			m.reconnectAll(now)
		}
	}
}

func (m *EndpointManager) reconnectAll(now time.Time) {
	identity := m.IdentityEndpoint()

	for _, ep := range m.registry.All() {
		if ep == identity || ep.IsConnected() {
			continue
		}

		node, service := ep.Node(), ep.Service()
		if node == "" || service == "" {
			m.log.Trace("can't reconnect to endpoint %q: no node/service information", ep.Name())
			continue
		}

		if !ep.beginDial(now, m.dialTimeout+m.handshakeTimeout) {
			continue
		}

		ep := ep
		m.grp.Go(func() error {
			m.reconnectEndpoint(ep, node, service)
			return nil
		})
	}
}

// reconnectEndpoint performs a single dial attempt for a disconnected
// endpoint. The connection's actual identity comes from the peer
// certificate, so a successful handshake may well connect a different
// endpoint than the one that triggered the dial.
func (m *EndpointManager) reconnectEndpoint(ep *Endpoint, node, service string) {
	conn, err := m.dialer.DialContext(m.ctx, "tcp", net.JoinHostPort(node, service))
	if err != nil {
		m.log.Info("could not reconnect to endpoint %q at %s:%s: %v", ep.Name(), node, service, err)
		ep.dialFailed(time.Now())
		return
	}

	ep.setState(StateHandshaking)
	if err := m.NewClient(conn, RoleClient); err != nil {
		m.log.Info("could not reconnect to endpoint %q at %s:%s: %v", ep.Name(), node, service, err)
		ep.dialFailed(time.Now())
		return
	}

	if !ep.IsConnected() {
		// The peer identified as somebody else.
		ep.setState(StateDisconnected)
	}
}

// handlerError surfaces a topic handler error to the configured sink.
func (m *EndpointManager) handlerError(err error) {
	m.errorSink(err)
}

// Stats returns the manager's lifetime message totals: received, sent and
// dropped.
func (m *EndpointManager) Stats() (received, sent, dropped uint64) {
	return m.totalReceived.Load(), m.totalSent.Load(), m.totalDropped.Load()
}

func (m *EndpointManager) messageReceived() {
	m.totalReceived.Add(1)
	if m.metrics != nil {
		m.metrics.MessagesReceived.Inc()
	}
}

func (m *EndpointManager) messageSent() {
	m.totalSent.Add(1)
	if m.metrics != nil {
		m.metrics.MessagesSent.Inc()
	}
}

func (m *EndpointManager) messageDropped() {
	m.totalDropped.Add(1)
	if m.metrics != nil {
		m.metrics.MessagesDropped.Inc()
	}
}

func (m *EndpointManager) connectionOpened(role Role) {
	if m.metrics == nil {
		return
	}
	if role == RoleServer {
		m.metrics.ConnectionsAccepted.Inc()
	} else {
		m.metrics.ConnectionsDialed.Inc()
	}
}

func (m *EndpointManager) connectedGauge(delta float64) {
	if m.metrics != nil {
		m.metrics.ConnectedEndpoints.Add(delta)
	}
}

func (m *EndpointManager) requestsTimedOut(n int) {
	if m.metrics != nil {
		m.metrics.RequestsTimedOut.Add(float64(n))
	}
}

func (m *EndpointManager) pendingGauge() {
	if m.metrics != nil {
		m.metrics.PendingRequests.Set(float64(m.requests.size()))
	}
}

// Close shuts the manager down: timer tasks exit on the stop signal,
// listeners stop accepting, and every endpoint's stream is torn down so
// the reader tasks terminate. Close blocks until all tasks have exited.
func (m *EndpointManager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	listeners := m.listeners
	m.listeners = nil
	m.mu.Unlock()

	m.cancel()
	for _, l := range listeners {
		l.Close()
	}
	for _, ep := range m.registry.All() {
		ep.SetStream(nil)
	}

	err := m.grp.Wait()

	// An in-flight NewClient may have assigned a stream after the sweep
	// above; tear those down as well before waiting for the readers.
	for _, ep := range m.registry.All() {
		ep.SetStream(nil)
	}
	m.readerWG.Wait()
	return err
}
