// Copyright 2025 The icinga2 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config declares the YAML configuration surface of the remoting
// fabric and materializes managers from it. Endpoint declarations are
// re-materialized on every start; the core persists no state.
package config

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	yaml "github.com/zrepl/yaml-config"
)

// Config is the top-level configuration of one endpoint manager.
type Config struct {
	// Identity is the manager's own name, matching the common name of
	// its certificate.
	Identity string `yaml:"identity"`

	// TLS names the PEM files of the manager's certificate chain, key
	// and trust roots.
	TLS TLSConfig `yaml:"tls"`

	// Listen lists the service ports to accept connections on.
	Listen []string `yaml:"listen,optional"`

	// Endpoints declares remote endpoints known ahead of time, with
	// optional dial targets and subscriptions.
	Endpoints []EndpointConfig `yaml:"endpoints,optional"`
}

// TLSConfig locates the TLS material on disk.
type TLSConfig struct {
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
	CA   string `yaml:"ca"`
}

// EndpointConfig declares a single remote endpoint.
type EndpointConfig struct {
	Name          string   `yaml:"name"`
	Node          string   `yaml:"node,optional"`
	Service       string   `yaml:"service,optional"`
	Subscriptions []string `yaml:"subscriptions,optional"`
}

// ParseConfig reads and validates a configuration file.
func ParseConfig(path string) (*Config, error) {
	bytes, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfigBytes(bytes)
}

// ParseConfigBytes parses and validates a YAML configuration document.
func ParseConfigBytes(bytes []byte) (*Config, error) {
	var c *Config
	if err := yaml.UnmarshalStrict(bytes, &c); err != nil {
		return nil, err
	}
	if c == nil {
		return nil, errors.New("config is empty or only consists of comments")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the declaration for semantic errors.
func (c *Config) Validate() error {
	if c.Identity == "" {
		return errors.New("field 'identity' must be specified")
	}
	if c.TLS.Cert == "" || c.TLS.Key == "" || c.TLS.CA == "" {
		return errors.New("fields 'cert', 'key' and 'ca' must be specified")
	}

	names := make(map[string]struct{}, len(c.Endpoints))
	for i, ep := range c.Endpoints {
		if ep.Name == "" {
			return errors.Errorf("endpoint #%d has no name", i)
		}
		if _, dup := names[ep.Name]; dup {
			return errors.Errorf("duplicate endpoint %q", ep.Name)
		}
		names[ep.Name] = struct{}{}

		if (ep.Node == "") != (ep.Service == "") {
			return errors.Errorf("endpoint %q: 'node' and 'service' must be specified together", ep.Name)
		}
	}
	return nil
}

func (c *Config) String() string {
	return fmt.Sprintf("config for identity %q (%d listener(s), %d endpoint(s))",
		c.Identity, len(c.Listen), len(c.Endpoints))
}
