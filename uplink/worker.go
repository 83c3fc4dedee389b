// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package uplink reconciles the local journal with the remote ingest service.
//
// The worker is pull-based and at-least-once by design: it drains pending
// events on a fixed interval, pushes them as one signed batch, and marks the
// outcome afterwards in a second short transaction. A crash between "server
// accepted" and "marked synced" re-delivers the batch; the ingest side is
// idempotent on event_id, which turns that into effectively-exactly-once
// processing. Ingestion is never blocked by sync: no network call happens
// while the journal's write lock is held.
package uplink

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/plantops/edgesync/journal"
)

// Worker periodically drains unsynced journal entries to the ingest endpoint.
type Worker struct {
	Journal *journal.Journal
	BaseURL string
	Token   func(context.Context) (string, error) // returns JWT
	HTTP    *http.Client

	// OnDriftAlert, when set, is invoked with the measured offset (ms) each
	// time a clock check breaches the journal's drift threshold.
	OnDriftAlert func(offsetMs int64)

	config  *Config
	logger  *slog.Logger
	trigger chan struct{}
}

// Config holds configuration for the sync worker
type Config struct {
	Interval       time.Duration // Sync cycle period, e.g., 60s
	ClockInterval  time.Duration // Clock-sanity cycle period, e.g., 15m
	BatchSize      int           // Max events per push, e.g., 100
	BackoffMin     time.Duration // 1s
	BackoffMax     time.Duration // 60s
	RequestTimeout time.Duration // Per-request HTTP timeout
}

// DefaultConfig returns the default sync worker configuration.
func DefaultConfig() *Config {
	return &Config{
		Interval:       60 * time.Second,
		ClockInterval:  15 * time.Minute,
		BatchSize:      100,
		BackoffMin:     1 * time.Second,
		BackoffMax:     60 * time.Second,
		RequestTimeout: 30 * time.Second,
	}
}

// NewWorker creates a sync worker for the given journal and ingest base URL.
func NewWorker(jrnl *journal.Journal, baseURL string, token func(context.Context) (string, error), config *Config, logger *slog.Logger) (*Worker, error) {
	if jrnl == nil {
		return nil, fmt.Errorf("journal cannot be nil")
	}
	if baseURL == "" {
		return nil, fmt.Errorf("base URL must be provided")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		Journal: jrnl,
		BaseURL: baseURL,
		Token:   token,
		HTTP:    &http.Client{Timeout: config.RequestTimeout},
		config:  config,
		logger:  logger,
		trigger: make(chan struct{}, 1),
	}, nil
}

// Start launches the sync loop and the slower clock-sanity loop. Both stop
// when ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	go w.syncLoop(ctx)
	go w.clockLoop(ctx)
}

// Trigger requests an immediate sync cycle, independent of the interval.
func (w *Worker) Trigger() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

// syncLoop runs sync cycles on the configured interval, with exponential
// backoff between failed cycles.
func (w *Worker) syncLoop(ctx context.Context) {
	backoff := w.config.BackoffMin
	timer := time.NewTimer(w.config.Interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.trigger:
		case <-timer.C:
		}

		_, _, err := w.SyncOnce(ctx)
		if err != nil {
			w.logger.Warn("Sync cycle failed", "error", err, "backoff", backoff)
			timer.Reset(backoff)
			backoff *= 2
			if backoff > w.config.BackoffMax {
				backoff = w.config.BackoffMax
			}
		} else {
			backoff = w.config.BackoffMin
			timer.Reset(w.config.Interval)
		}
	}
}

// clockLoop performs the clock-sanity check on its own slower interval.
func (w *Worker) clockLoop(ctx context.Context) {
	for {
		if err := sleepWithContext(ctx, w.config.ClockInterval); err != nil {
			return
		}
		if _, err := w.CheckClock(ctx); err != nil {
			w.logger.Warn("Clock check failed", "error", err)
		}
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
