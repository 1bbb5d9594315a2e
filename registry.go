// Copyright 2025 The icinga2 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package icinga2

import "sync"

// Registry is a manager's index of endpoints, keyed by name. Two
// endpoints with the same name never coexist; mutation is serialized and
// iteration works on a consistent snapshot of references.
type Registry struct {
	mu        sync.RWMutex
	endpoints map[string]*Endpoint
}

// NewRegistry creates an empty endpoint registry.
func NewRegistry() *Registry {
	return &Registry{
		endpoints: make(map[string]*Endpoint),
	}
}

// GetByName returns the endpoint with the given name, or nil.
func (r *Registry) GetByName(name string) *Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.endpoints[name]
}

// getOrCreate returns the endpoint with the given name, creating it with
// make if it does not exist yet. The factory runs under the registry lock
// so that concurrent callers observe exactly one endpoint per name.
func (r *Registry) getOrCreate(name string, make func() *Endpoint) *Endpoint {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ep, ok := r.endpoints[name]; ok {
		return ep
	}
	ep := make()
	r.endpoints[name] = ep
	return ep
}

// Unregister removes the endpoint with the given name and returns it, or
// nil if no such endpoint exists. The endpoint's stream, if any, is not
// touched; tearing it down is the caller's concern.
func (r *Registry) Unregister(name string) *Endpoint {
	r.mu.Lock()
	defer r.mu.Unlock()

	ep, ok := r.endpoints[name]
	if !ok {
		return nil
	}
	delete(r.endpoints, name)
	return ep
}

// All returns a snapshot of every registered endpoint. The slice is safe to
// iterate while the registry is mutated concurrently.
func (r *Registry) All() []*Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	eps := make([]*Endpoint, 0, len(r.endpoints))
	for _, ep := range r.endpoints {
		eps = append(eps, ep)
	}
	return eps
}

// Len returns the number of registered endpoints.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.endpoints)
}
