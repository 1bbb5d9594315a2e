// Copyright 2025 The icinga2 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package icinga2

import (
	"errors"
	"fmt"
)

var (
	// ErrClosedStream is returned for reads or writes on a stream that
	// has already been torn down.
	ErrClosedStream = errors.New("icinga2: read/write on closed stream")

	// ErrMessageTooLarge is returned by WriteMessage when an encoded
	// message exceeds MaxMessageSize. An oversized inbound frame is
	// reported as a ProtocolError instead.
	ErrMessageTooLarge = errors.New("icinga2: message exceeds maximum frame size")
)

// ConfigurationError indicates that an operation was attempted without the
// configuration it requires (missing TLS context, invalid identity).
// It is fatal for the operation but not for the process.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("icinga2: configuration error: %s", e.Reason)
}

// ProtocolError indicates a violation of the message protocol: a malformed
// frame, a request without a method, or a multicast request carrying a
// correlation id. For inbound frames the offending connection is dropped;
// for send-time violations the caller receives the error synchronously.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("icinga2: protocol error: %s", e.Reason)
}

// IsConfigurationError reports whether err is a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsProtocolError reports whether err is a ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}
