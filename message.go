// Copyright 2025 The icinga2 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package icinga2 implements the remoting core of a distributed monitoring
// system: a peer-to-peer messaging fabric that connects named endpoints over
// mutually-authenticated TLS and routes request/response messages between
// them using a topic-subscription model.
package icinga2

import "encoding/json"

// MethodWelcome is the advisory handshake topic exchanged when a connection
// is established. Welcome state never gates message delivery.
const MethodWelcome = "remoting::Welcome"

// Message is a single framed message on the fabric. A message is either a
// request (Method set, ID optional; an ID means the sender expects a
// response) or a response (ID set, Method empty). The classification is a
// property of the payload itself, not of how the message is delivered.
type Message struct {
	Method string          `json:"method,omitempty"` // request topic
	ID     string          `json:"id,omitempty"`     // correlation id
	Params json.RawMessage `json:"params,omitempty"` // request payload
	Result json.RawMessage `json:"result,omitempty"` // response payload
	Error  string          `json:"error,omitempty"`  // response error text
}

// NewRequest creates a request message for the given topic.
func NewRequest(method string) *Message {
	return &Message{Method: method}
}

// NewResponse creates a response message correlating to the given request id.
func NewResponse(id string) *Message {
	return &Message{ID: id}
}

// IsResponse reports whether the message is a response. A message with no
// method and a correlation id is a response; everything else is a request.
func (m *Message) IsResponse() bool {
	return m.Method == "" && m.ID != ""
}

// SetParams marshals v into the request payload.
func (m *Message) SetParams(v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.Params = raw
	return nil
}

// GetParams unmarshals the request payload into v.
func (m *Message) GetParams(v interface{}) error {
	if m.Params == nil {
		return nil
	}
	return json.Unmarshal(m.Params, v)
}

// SetResult marshals v into the response payload.
func (m *Message) SetResult(v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.Result = raw
	return nil
}

// GetResult unmarshals the response payload into v.
func (m *Message) GetResult(v interface{}) error {
	if m.Result == nil {
		return nil
	}
	return json.Unmarshal(m.Result, v)
}

// MessageCodec marshals messages to and from their wire form. All endpoints
// in a fleet must agree on one codec.
type MessageCodec interface {
	Marshal(m *Message) ([]byte, error)
	Unmarshal(data []byte) (*Message, error)
}

// JSONCodec is the default MessageCodec. It encodes messages as JSON
// documents.
type JSONCodec struct{}

func (JSONCodec) Marshal(m *Message) ([]byte, error) {
	return json.Marshal(m)
}

func (JSONCodec) Unmarshal(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &ProtocolError{Reason: "malformed message payload: " + err.Error()}
	}
	return &m, nil
}
