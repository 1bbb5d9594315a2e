// Copyright 2025 The icinga2 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"github.com/pkg/errors"

	icinga2 "github.com/dominik-r-s/icinga2"
	"github.com/dominik-r-s/icinga2/tlsconf"
)

// BuildManager materializes an endpoint manager from a validated
// configuration: it loads the TLS context, sets the identity, registers
// the declared endpoints with their dial targets and subscriptions, and
// binds the configured listeners. Declared dial targets are connected by
// the manager's reconnect timer.
//
// On error the partially constructed manager is closed and nil is
// returned.
func BuildManager(c *Config, opts ...icinga2.Option) (*icinga2.EndpointManager, error) {
	tlsCtx, err := tlsconf.LoadContext(c.TLS.Cert, c.TLS.Key, c.TLS.CA)
	if err != nil {
		return nil, errors.Wrap(err, "cannot build TLS context")
	}

	m := icinga2.NewEndpointManager(opts...)
	m.SetTLSContext(tlsCtx)

	if err := m.SetIdentity(c.Identity); err != nil {
		m.Close()
		return nil, errors.Wrap(err, "cannot set identity")
	}

	for _, decl := range c.Endpoints {
		ep := m.MakeEndpoint(decl.Name, true, false)
		if decl.Node != "" {
			ep.SetDialTarget(decl.Node, decl.Service)
		}
		for _, topic := range decl.Subscriptions {
			ep.RegisterSubscription(topic)
		}
	}

	for _, service := range c.Listen {
		if _, err := m.AddListener(service); err != nil {
			m.Close()
			return nil, errors.Wrapf(err, "cannot listen on port %s", service)
		}
	}

	return m, nil
}
