// Copyright 2025 The icinga2 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package testutil

import (
	"testing"
	"time"
)

// Eventually polls cond every interval until it returns true or the
// timeout elapses. It reports whether the condition was met.
func Eventually(timeout, interval time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(interval)
	}
}

// RequireEventually fails the test when cond does not become true within
// the timeout.
func RequireEventually(t testing.TB, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	if !Eventually(timeout, 10*time.Millisecond, cond) {
		t.Fatalf("condition not met within %v: %s", timeout, msg)
	}
}
