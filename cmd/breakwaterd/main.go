// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command breakwaterd runs the scrubber control plane: it seeds the shared
// maps from configuration and feed files, starts the background loops, and
// serves the operator API.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"grimm.is/breakwater/internal/api"
	"grimm.is/breakwater/internal/config"
	"grimm.is/breakwater/internal/controlplane"
	"grimm.is/breakwater/internal/dataplane"
	"grimm.is/breakwater/internal/feeds"
	"grimm.is/breakwater/internal/geoip"
	"grimm.is/breakwater/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "Path to HCL config file")
	listen := flag.String("listen", "", "API listen address (overrides config)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.LoadFile(*configPath)
		if err != nil {
			logging.Error("Failed to load config", "path", *configPath, "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	logger := logging.New(logging.Config{Level: cfg.LogLevel, Output: os.Stderr, ReportTime: true})
	logging.SetDefault(logger)

	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	scrubCfg := dataplane.DefaultConfig()
	scrubCfg.CPUs = workers

	scrub, err := dataplane.New(scrubCfg, nil)
	if err != nil {
		logger.Error("Failed to create scrubber", "error", err)
		os.Exit(1)
	}
	cfg.Apply(scrub.ConfigMap())

	mgr := controlplane.New(scrub, controlplane.Options{Logger: logger.With("component", "controlplane")})

	if cfg.GeoIPDB != "" {
		if _, err := geoip.LoadMMDB(cfg.GeoIPDB, scrub.GeoIP(), logger.With("component", "geoip")); err != nil {
			logger.Warn("GeoIP database not loaded", "error", err)
		}
	}
	if f := cfg.Feeds; f != nil {
		feedLogger := logger.With("component", "feeds")
		if f.ThreatIntel != "" {
			if _, err := feeds.LoadThreatIntel(f.ThreatIntel, mgr, feedLogger); err != nil {
				logger.Warn("Threat-intel feed not loaded", "error", err)
			}
		}
		if f.Signatures != "" {
			if _, err := feeds.LoadSignatures(f.Signatures, mgr, feedLogger); err != nil {
				logger.Warn("Signature file not loaded", "error", err)
			}
		}
		if f.PayloadRules != "" {
			if _, err := feeds.LoadPayloadRules(f.PayloadRules, mgr, feedLogger); err != nil {
				logger.Warn("Payload rule file not loaded", "error", err)
			}
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mgr.Run(ctx)

	apiCfg := api.DefaultServerConfig()
	if cfg.API != nil && cfg.API.Listen != "" {
		apiCfg.Listen = cfg.API.Listen
	}
	if *listen != "" {
		apiCfg.Listen = *listen
	}
	server := api.NewServer(mgr, apiCfg, logger.With("component", "api"))

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	logger.Info("breakwaterd started",
		"workers", workers, "interface", cfg.Interface, "api", apiCfg.Listen)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sig:
		logger.Info("Shutting down", "signal", s.String())
	case err := <-errCh:
		if err != nil {
			logger.Error("API server failed", "error", err)
		}
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("API shutdown incomplete", "error", err)
	}
}
