// Copyright 2025 The icinga2 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package icinga2

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/dominik-r-s/icinga2/internal/testutil"
)

func TestEndpointSubscriptions(t *testing.T) {
	m := newTestManager(t)
	ep := m.MakeEndpoint("checker", false, true)

	ep.RegisterSubscription("checker::Result")
	ep.RegisterSubscription("checker::Result") // idempotent
	ep.RegisterSubscription("checker::State")

	if !ep.HasSubscription("checker::Result") {
		t.Error("Expected subscription for checker::Result")
	}
	if got := len(ep.Subscriptions()); got != 2 {
		t.Errorf("Expected 2 subscriptions, got %d", got)
	}

	ep.UnregisterSubscription("checker::Result")
	if ep.HasSubscription("checker::Result") {
		t.Error("Expected subscription to be removed")
	}

	ep.ClearSubscriptions()
	if got := len(ep.Subscriptions()); got != 0 {
		t.Errorf("Expected no subscriptions after clear, got %d", got)
	}

	ep.SetSubscriptions([]string{"a", "b"})
	if !ep.HasSubscription("a") || !ep.HasSubscription("b") {
		t.Error("Expected subscriptions a and b after SetSubscriptions")
	}
}

func TestEndpointTopicHandlerSubscribes(t *testing.T) {
	m := newTestManager(t)
	ep := m.MakeEndpoint("checker", false, true)

	ep.RegisterTopicHandler("checker::Result", func(sender *Endpoint, req *Message) error {
		return nil
	})

	if !ep.HasSubscription("checker::Result") {
		t.Error("Expected RegisterTopicHandler to register a subscription")
	}
}

func TestEndpointHandlerOrderAndErrors(t *testing.T) {
	var sinkErrs []error
	m := newTestManager(t, WithErrorSink(func(err error) {
		sinkErrs = append(sinkErrs, err)
	}))

	ep := m.MakeEndpoint("checker", false, true)

	var order []int
	ep.RegisterTopicHandler("x", func(sender *Endpoint, req *Message) error {
		order = append(order, 1)
		return errors.New("boom")
	})
	ep.RegisterTopicHandler("x", func(sender *Endpoint, req *Message) error {
		order = append(order, 2)
		return nil
	})

	ep.ProcessRequest(nil, NewRequest("x"))

	// Handlers fire in registration order; an error from one handler
	// does not prevent later handlers from running.
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("Expected handlers [1 2], got %v", order)
	}
	if len(sinkErrs) != 1 {
		t.Fatalf("Expected 1 handler error in sink, got %d", len(sinkErrs))
	}
}

func TestEndpointHandlersFireForEverySubsequentRequest(t *testing.T) {
	m := newTestManager(t)
	ep := m.MakeEndpoint("checker", false, true)

	var calls int
	ep.RegisterTopicHandler("x", func(sender *Endpoint, req *Message) error {
		calls++
		return nil
	})

	for i := 0; i < 3; i++ {
		ep.ProcessRequest(nil, NewRequest("x"))
	}
	if calls != 3 {
		t.Errorf("Expected 3 handler invocations, got %d", calls)
	}
}

func TestEndpointStreamLifecycle(t *testing.T) {
	m := newTestManager(t)
	ep := m.MakeEndpoint("beta", true, false)

	if ep.IsConnected() {
		t.Fatal("Expected fresh endpoint to be disconnected")
	}
	if ep.State() != StateDisconnected {
		t.Fatalf("Expected disconnected state, got %v", ep.State())
	}

	c1, c2 := net.Pipe()
	defer c2.Close()

	ep.SetStream(NewStream(c1, nil))
	if !ep.IsConnected() {
		t.Fatal("Expected endpoint to be connected after SetStream")
	}
	if ep.State() != StateConnected {
		t.Fatalf("Expected connected state, got %v", ep.State())
	}

	// Tearing down the stream terminates the reader, which clears the
	// stream reference; the endpoint survives in the registry.
	c2.Close()
	testutil.RequireEventually(t, 5*time.Second, func() bool {
		return !ep.IsConnected()
	}, "endpoint did not disconnect after stream teardown")

	if m.GetEndpointByName("beta") != ep {
		t.Error("Expected disconnected endpoint to survive in the registry")
	}
	if ep.State() != StateDisconnected {
		t.Errorf("Expected disconnected state, got %v", ep.State())
	}
}

func TestEndpointStreamReplacement(t *testing.T) {
	m := newTestManager(t)
	ep := m.MakeEndpoint("beta", true, false)

	c1, c2 := net.Pipe()
	defer c2.Close()
	first := NewStream(c1, nil)
	ep.SetStream(first)

	c3, c4 := net.Pipe()
	defer c4.Close()
	second := NewStream(c3, nil)
	ep.SetStream(second)

	// The replaced stream is torn down; the endpoint stays connected on
	// the new one.
	if !first.Closed() {
		t.Error("Expected replaced stream to be closed")
	}
	if ep.Stream() != second {
		t.Error("Expected endpoint to use the new stream")
	}

	// The old reader's termination must not clear the new stream.
	testutil.RequireEventually(t, 5*time.Second, func() bool {
		return ep.Stream() == second && ep.IsConnected()
	}, "replacement stream did not stay attached")
}

func TestEndpointWelcomeFlagsResetOnNewStream(t *testing.T) {
	m := newTestManager(t)
	ep := m.MakeEndpoint("beta", true, false)

	if ep.SentWelcome() || ep.ReceivedWelcome() {
		t.Fatal("Expected welcome flags to start unset")
	}

	if !ep.markSentWelcome() {
		t.Fatal("Expected first markSentWelcome to succeed")
	}
	if ep.markSentWelcome() {
		t.Fatal("Expected second markSentWelcome to be a no-op")
	}
	ep.markReceivedWelcome()

	c1, c2 := net.Pipe()
	defer c2.Close()
	ep.SetStream(NewStream(c1, nil))

	if ep.SentWelcome() || ep.ReceivedWelcome() {
		t.Error("Expected welcome flags to reset on stream assignment")
	}
}
