// Copyright 2025 The icinga2 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package icinga2

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
)

// MaxMessageSize is the largest frame the codec accepts, header excluded.
const MaxMessageSize = 16 * 1024 * 1024 // 16MB

// frameHeaderSize is the length prefix preceding every message.
const frameHeaderSize = 4

// Stream frames messages on a bidirectional byte channel. Each message is a
// 4-byte big-endian length prefix followed by the codec's encoding of the
// message. Reads are driven by a single reader task; writes may come from
// any task and are serialized internally.
type Stream struct {
	conn  net.Conn
	br    *bufio.Reader
	bw    *bufio.Writer
	codec MessageCodec

	wmu    sync.Mutex
	closed int32
}

// NewStream wraps conn in a buffered framed stream using the given codec.
func NewStream(conn net.Conn, codec MessageCodec) *Stream {
	if codec == nil {
		codec = JSONCodec{}
	}
	return &Stream{
		conn:  conn,
		br:    bufio.NewReader(conn),
		bw:    bufio.NewWriter(conn),
		codec: codec,
	}
}

// ReadMessage reads one framed message. It blocks until a full message is
// available, the stream ends, or an error occurs.
func (s *Stream) ReadMessage() (*Message, error) {
	if s.Closed() {
		return nil, ErrClosedStream
	}

	var hdr [frameHeaderSize]byte
	if _, err := io.ReadFull(s.br, hdr[:]); err != nil {
		s.checkIO(err)
		return nil, err
	}

	size := binary.BigEndian.Uint32(hdr[:])
	if size > MaxMessageSize {
		return nil, &ProtocolError{Reason: fmt.Sprintf("frame of %d bytes exceeds maximum of %d", size, MaxMessageSize)}
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(s.br, body); err != nil {
		s.checkIO(err)
		return nil, err
	}

	return s.codec.Unmarshal(body)
}

// WriteMessage frames and writes one message, flushing the buffer.
func (s *Stream) WriteMessage(m *Message) error {
	if s.Closed() {
		return ErrClosedStream
	}

	body, err := s.codec.Marshal(m)
	if err != nil {
		return fmt.Errorf("icinga2: could not marshal message: %w", err)
	}
	if len(body) > MaxMessageSize {
		return ErrMessageTooLarge
	}

	var hdr [frameHeaderSize]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(body)))

	s.wmu.Lock()
	defer s.wmu.Unlock()

	if _, err := s.bw.Write(hdr[:]); err != nil {
		s.checkIO(err)
		return err
	}
	if _, err := s.bw.Write(body); err != nil {
		s.checkIO(err)
		return err
	}
	if err := s.bw.Flush(); err != nil {
		s.checkIO(err)
		return err
	}
	return nil
}

// Close tears down the underlying connection. Safe to call multiple times.
func (s *Stream) Close() error {
	atomic.StoreInt32(&s.closed, 1)
	return s.conn.Close()
}

// Closed reports whether the stream has been torn down.
func (s *Stream) Closed() bool {
	return atomic.LoadInt32(&s.closed) == 1
}

// RemoteAddr returns the remote address of the underlying connection.
func (s *Stream) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

func (s *Stream) checkIO(err error) {
	if err == nil {
		return
	}

	// Deadline expiry does not invalidate the stream.
	var e net.Error
	if errors.As(err, &e) && e.Timeout() {
		return
	}
	atomic.StoreInt32(&s.closed, 1)
}
