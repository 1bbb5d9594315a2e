// Copyright 2025 The icinga2 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package icinga2

import (
	"encoding/binary"
	"errors"
	"net"
	"testing"
	"time"
)

func TestMessageClassification(t *testing.T) {
	req := NewRequest("checker::Result")
	if req.IsResponse() {
		t.Errorf("Expected request classification for %+v", req)
	}

	req.ID = "42"
	if req.IsResponse() {
		t.Errorf("Expected request classification for request with id %+v", req)
	}

	resp := NewResponse("42")
	if !resp.IsResponse() {
		t.Errorf("Expected response classification for %+v", resp)
	}

	// Classification is intrinsic to the payload: no method, no id is
	// not a response.
	empty := &Message{}
	if empty.IsResponse() {
		t.Errorf("Expected empty message not to classify as response")
	}
}

func TestMessagePayloadRoundTrip(t *testing.T) {
	req := NewRequest("demo::Ping")
	if err := req.SetParams(map[string]string{"host": "web01"}); err != nil {
		t.Fatalf("Failed to set params: %v", err)
	}

	var params map[string]string
	if err := req.GetParams(&params); err != nil {
		t.Fatalf("Failed to get params: %v", err)
	}
	if params["host"] != "web01" {
		t.Errorf("Expected host web01, got %q", params["host"])
	}

	resp := NewResponse("7")
	if err := resp.SetResult("pong"); err != nil {
		t.Fatalf("Failed to set result: %v", err)
	}
	var result string
	if err := resp.GetResult(&result); err != nil {
		t.Fatalf("Failed to get result: %v", err)
	}
	if result != "pong" {
		t.Errorf("Expected result pong, got %q", result)
	}
}

func TestStreamRoundTrip(t *testing.T) {
	c1, c2 := net.Pipe()
	s1 := NewStream(c1, nil)
	s2 := NewStream(c2, nil)
	defer s1.Close()
	defer s2.Close()

	sent := NewRequest("checker::Result")
	sent.ID = "23"

	errc := make(chan error, 1)
	go func() {
		errc <- s1.WriteMessage(sent)
	}()

	got, err := s2.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	if err := <-errc; err != nil {
		t.Fatalf("Failed to write message: %v", err)
	}

	if got.Method != sent.Method {
		t.Errorf("Expected method %q, got %q", sent.Method, got.Method)
	}
	if got.ID != sent.ID {
		t.Errorf("Expected id %q, got %q", sent.ID, got.ID)
	}
}

func TestStreamOrdering(t *testing.T) {
	c1, c2 := net.Pipe()
	s1 := NewStream(c1, nil)
	s2 := NewStream(c2, nil)
	defer s1.Close()
	defer s2.Close()

	const n = 10
	go func() {
		for i := 0; i < n; i++ {
			msg := NewRequest("seq")
			msg.ID = string(rune('a' + i))
			if err := s1.WriteMessage(msg); err != nil {
				return
			}
		}
	}()

	// Messages on a single stream arrive in the order written.
	for i := 0; i < n; i++ {
		msg, err := s2.ReadMessage()
		if err != nil {
			t.Fatalf("Failed to read message %d: %v", i, err)
		}
		if want := string(rune('a' + i)); msg.ID != want {
			t.Fatalf("Expected id %q at position %d, got %q", want, i, msg.ID)
		}
	}
}

func TestStreamRejectsOversizedFrame(t *testing.T) {
	c1, c2 := net.Pipe()
	s2 := NewStream(c2, nil)
	defer c1.Close()
	defer s2.Close()

	go func() {
		var hdr [frameHeaderSize]byte
		binary.BigEndian.PutUint32(hdr[:], MaxMessageSize+1)
		c1.Write(hdr[:])
	}()

	_, err := s2.ReadMessage()
	if !IsProtocolError(err) {
		t.Fatalf("Expected protocol error for oversized frame, got %v", err)
	}
}

func TestStreamRejectsMalformedPayload(t *testing.T) {
	c1, c2 := net.Pipe()
	s2 := NewStream(c2, nil)
	defer c1.Close()
	defer s2.Close()

	go func() {
		body := []byte("not json")
		var hdr [frameHeaderSize]byte
		binary.BigEndian.PutUint32(hdr[:], uint32(len(body)))
		c1.Write(hdr[:])
		c1.Write(body)
	}()

	_, err := s2.ReadMessage()
	if !IsProtocolError(err) {
		t.Fatalf("Expected protocol error for malformed payload, got %v", err)
	}
}

func TestStreamClosed(t *testing.T) {
	c1, c2 := net.Pipe()
	s1 := NewStream(c1, nil)
	defer c2.Close()

	s1.Close()

	if _, err := s1.ReadMessage(); !errors.Is(err, ErrClosedStream) {
		t.Errorf("Expected ErrClosedStream on read, got %v", err)
	}
	if err := s1.WriteMessage(NewRequest("x")); !errors.Is(err, ErrClosedStream) {
		t.Errorf("Expected ErrClosedStream on write, got %v", err)
	}
}

func TestStreamReadUnblocksOnClose(t *testing.T) {
	c1, c2 := net.Pipe()
	s1 := NewStream(c1, nil)
	defer c2.Close()

	done := make(chan error, 1)
	go func() {
		_, err := s1.ReadMessage()
		done <- err
	}()

	s1.Close()

	select {
	case err := <-done:
		if err == nil {
			t.Errorf("Expected error from read on closed stream")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Read did not unblock on close")
	}
}
