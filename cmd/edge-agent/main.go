// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// edge-agent runs the edge telemetry pipeline: protocol connector → durable
// journal → sync worker. It keeps capturing readings while the network is
// down and drains the backlog once connectivity returns.
package main

import (
	"context"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/plantops/edgesync/connector"
	"github.com/plantops/edgesync/ingest"
	"github.com/plantops/edgesync/internal/config"
	"github.com/plantops/edgesync/journal"
	"github.com/plantops/edgesync/uplink"
)

func main() {
	configPath := pflag.String("config", ".", "directory containing agent.yaml")
	pflag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := run(*configPath, logger); err != nil {
		logger.Error("Agent failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, logger *slog.Logger) error {
	cfg, err := config.LoadAgent(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	jrnl, err := journal.Open(cfg.DatabasePath, &journal.Config{
		MaxRetries:         cfg.Sync.MaxRetries,
		DriftWarnThreshold: 60 * time.Second,
	}, logger)
	if err != nil {
		return err
	}
	defer jrnl.Close()

	deviceID, err := journal.EnsureDeviceID(jrnl.DB)
	if err != nil {
		return err
	}
	logger.Info("Agent starting", "site_id", cfg.SiteID, "device_id", deviceID)

	security, err := loadSecurity(cfg)
	if err != nil {
		return err
	}

	var transport connector.Transport
	var sim *connector.SimTransport
	if cfg.Endpoint.Simulate {
		sim = connector.NewSimTransport()
		transport = sim
	} else {
		// Real protocol stacks plug in through connector.Transport; this build
		// ships only the simulator.
		logger.Warn("No protocol stack configured for endpoint, using simulator",
			"endpoint", cfg.Endpoint.URL)
		sim = connector.NewSimTransport()
		transport = sim
	}

	connCfg := connector.DefaultConfig(cfg.Endpoint.URL, cfg.Tags)
	connCfg.Security = security
	conn, err := connector.NewConnector(transport, jrnl, connCfg, logger)
	if err != nil {
		return err
	}
	if err := conn.Connect(ctx); err != nil {
		return err
	}
	defer conn.Disconnect()

	if sim != nil {
		go simulateReadings(ctx, sim, cfg.Tags)
	}

	jwtAuth := ingest.NewJWTAuth(cfg.Ingest.JWTSecret)
	token := func(ctx context.Context) (string, error) {
		return jwtAuth.GenerateToken(cfg.SiteID, deviceID, time.Hour)
	}

	workerCfg := uplink.DefaultConfig()
	workerCfg.Interval = cfg.Sync.Interval
	workerCfg.ClockInterval = cfg.Sync.ClockInterval
	workerCfg.BatchSize = cfg.Sync.BatchSize
	worker, err := uplink.NewWorker(jrnl, cfg.Ingest.BaseURL, token, workerCfg, logger)
	if err != nil {
		return err
	}
	worker.OnDriftAlert = func(offsetMs int64) {
		logger.Error("Clock drift alert", "offset_ms", offsetMs)
	}
	worker.Start(ctx)

	go pruneLoop(ctx, jrnl, cfg.Sync.RetentionDays, logger)

	<-ctx.Done()
	logger.Info("Shutting down, draining pending events")

	// Stop ingestion first, then one best-effort final push before the
	// storage handle closes.
	_ = conn.Disconnect()
	drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, _, err := worker.SyncOnce(drainCtx); err != nil {
		logger.Warn("Final drain incomplete, events remain journaled", "error", err)
	}
	return nil
}

func loadSecurity(cfg *config.AgentConfig) (connector.SecurityConfig, error) {
	sec := connector.SecurityConfig{
		Mode:   connector.SecurityMode(cfg.Endpoint.SecurityMode),
		Policy: cfg.Endpoint.Policy,
	}
	if cfg.Endpoint.CertFile != "" {
		pem, err := os.ReadFile(cfg.Endpoint.CertFile)
		if err != nil {
			return sec, err
		}
		sec.CertificatePEM = pem
	}
	if cfg.Endpoint.KeyFile != "" {
		pem, err := os.ReadFile(cfg.Endpoint.KeyFile)
		if err != nil {
			return sec, err
		}
		sec.PrivateKeyPEM = pem
	}
	return sec, nil
}

// simulateReadings feeds the simulator with a random walk per configured tag.
func simulateReadings(ctx context.Context, sim *connector.SimTransport, tags []connector.TagMapping) {
	values := make(map[string]float64, len(tags))
	for _, tag := range tags {
		values[tag.NodeID] = 100
	}
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			session := sim.Session()
			if session == nil {
				continue
			}
			for _, tag := range tags {
				values[tag.NodeID] += rand.Float64()*2 - 1
				quality := connector.QualityGood
				if rand.Intn(50) == 0 {
					quality = connector.QualityBad
				}
				session.SetNode(tag.NodeID, values[tag.NodeID], quality)
			}
		}
	}
}

func pruneLoop(ctx context.Context, jrnl *journal.Journal, retentionDays int, logger *slog.Logger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := jrnl.PruneOldEvents(ctx, retentionDays); err != nil {
				logger.Warn("Prune failed", "error", err)
			}
		}
	}
}
