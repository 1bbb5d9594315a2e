// Copyright 2025 The icinga2 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command agent runs a config-driven endpoint manager and serves its
// prometheus metrics over HTTP.
package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	icinga2 "github.com/dominik-r-s/icinga2"
	"github.com/dominik-r-s/icinga2/config"
)

func main() {
	configPath := flag.String("config", "agent.yml", "path to the configuration file")
	metricsAddr := flag.String("metrics", ":9101", "address of the prometheus endpoint")
	flag.Parse()

	cfg, err := config.ParseConfig(*configPath)
	if err != nil {
		log.Fatalf("cannot parse config: %v", err)
	}

	metrics := icinga2.NewMetrics()
	registry := prometheus.NewRegistry()
	metrics.MustRegister(registry)

	m, err := config.BuildManager(cfg, icinga2.WithMetrics(metrics))
	if err != nil {
		log.Fatalf("cannot build manager: %v", err)
	}
	defer m.Close()

	go func() {
		http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
			log.Printf("metrics endpoint failed: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Printf("shutting down %q", m.Identity())
}
