// Copyright 2025 The icinga2 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package icinga2

import (
	"sync"
	"time"
)

// APICallback is invoked exactly once for every request issued through
// SendAPIMessage: either with the correlated response (timedOut false), or
// with an empty response after the request's deadline passed (timedOut
// true).
type APICallback func(sender *Endpoint, request *Message, response *Message, timedOut bool)

// pendingRequest tracks one outstanding API request.
type pendingRequest struct {
	request  *Message
	callback APICallback
	deadline time.Time
}

// pendingTable is a manager's table of outstanding request/response
// correlations. Mutation is serialized; callbacks are always invoked
// outside the lock.
type pendingTable struct {
	mu       sync.Mutex
	requests map[string]*pendingRequest
}

func newPendingTable() *pendingTable {
	return &pendingTable{
		requests: make(map[string]*pendingRequest),
	}
}

// insert registers a pending request under its correlation id.
func (t *pendingTable) insert(id string, req *Message, callback APICallback, deadline time.Time) {
	t.mu.Lock()
	t.requests[id] = &pendingRequest{
		request:  req,
		callback: callback,
		deadline: deadline,
	}
	t.mu.Unlock()
}

// complete resolves the pending request with the given id. The callback is
// invoked with timedOut=false and the entry is removed. Completing an
// unknown id is a no-op; the exactly-once guarantee holds because removal
// happens under the lock.
func (t *pendingTable) complete(sender *Endpoint, id string, response *Message) bool {
	t.mu.Lock()
	pr, ok := t.requests[id]
	if ok {
		delete(t.requests, id)
	}
	t.mu.Unlock()

	if !ok {
		return false
	}
	pr.callback(sender, pr.request, response, false)
	return true
}

// sweep completes every request whose deadline has passed with timedOut=true
// and an empty response. It returns the number of requests that timed out.
func (t *pendingTable) sweep(now time.Time) int {
	var expired []*pendingRequest

	t.mu.Lock()
	for id, pr := range t.requests {
		if !pr.deadline.After(now) {
			expired = append(expired, pr)
			delete(t.requests, id)
		}
	}
	t.mu.Unlock()

	for _, pr := range expired {
		pr.callback(nil, pr.request, &Message{}, true)
	}
	return len(expired)
}

// size returns the number of outstanding requests.
func (t *pendingTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.requests)
}
