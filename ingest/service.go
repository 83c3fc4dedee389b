// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package ingest implements the central side of the edge telemetry contract:
// a batch-ingest service that verifies signed event chains and stores them in
// Postgres, idempotent on event_id.
//
// Edge devices deliver at-least-once: a crash between "server accepted" and
// "device marked synced" re-delivers an already-stored batch on the next
// cycle. The ON CONFLICT (event_id) DO NOTHING insert converts that into
// effectively-exactly-once processing, and a duplicate is reported back as
// accepted so the device can finally mark the event synced.
package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/plantops/edgesync/internal/auth"
)

// Service processes signed event batches from edge devices.
type Service struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewService creates the ingest service and ensures the schema exists.
func NewService(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{pool: pool, logger: logger}
	if err := s.initSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize ingest schema: %w", err)
	}
	return s, nil
}

func (s *Service) initSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS edge_event (
			server_id      BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
			device_id      TEXT NOT NULL,
			event_id       TEXT NOT NULL UNIQUE,
			ts             TIMESTAMPTZ NOT NULL,
			asset_id       TEXT NOT NULL,
			line_id        TEXT,
			event_type     TEXT NOT NULL,
			data           JSONB,
			signature      TEXT NOT NULL,
			prev_signature TEXT NOT NULL,
			received_at    TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("failed to create edge_event table: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		CREATE INDEX IF NOT EXISTS idx_edge_event_device_ts ON edge_event (device_id, ts)`)
	if err != nil {
		return fmt.Errorf("failed to create edge_event index: %w", err)
	}
	return nil
}

// ProcessBatch validates and stores a batch of signed events for one device.
//
// Events are checked individually (payload shape, recomputed signature) and as
// a segment (each event's prev_signature must equal its predecessor's
// signature within the batch). The first event of a batch is only checked
// against its own carried prev_signature; linking it to the device's last
// previously ingested event is an audit-time concern, not an ingest gate.
func (s *Service) ProcessBatch(ctx context.Context, deviceID string, req *BatchRequest) (*BatchResponse, error) {
	resp := &BatchResponse{
		Accepted: true,
		Statuses: make([]EventStatus, len(req.Events)),
	}
	if len(req.Events) == 0 {
		return resp, nil
	}

	err := withRetryableTx(ctx, s.pool, func(ctx context.Context, tx pgx.Tx) error {
		for i := range req.Events {
			ev := &req.Events[i]
			resp.Statuses[i] = s.processEvent(ctx, tx, deviceID, ev, prevOf(req.Events, i))
			if resp.Statuses[i].Status != StAccepted {
				resp.Accepted = false
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to process batch for device %s: %w", deviceID, err)
	}

	siteID, _ := auth.GetSiteID(ctx)
	s.logger.Info("Processed ingest batch",
		"site_id", siteID, "device_id", deviceID, "events", len(req.Events), "accepted", resp.Accepted)
	return resp, nil
}

// prevOf returns the in-batch predecessor of event i, or nil for the first.
func prevOf(events []EventUpload, i int) *EventUpload {
	if i == 0 {
		return nil
	}
	return &events[i-1]
}

// validateEvent checks one uploaded event against its carried signatures and
// its in-batch predecessor. Returns nil when the event is acceptable.
func validateEvent(ev *EventUpload, prev *EventUpload) *EventStatus {
	if ev.EventID == "" || ev.AssetID == "" || ev.Type == "" || ev.Signature == "" || ev.PrevSignature == "" {
		return &EventStatus{EventID: ev.EventID, Status: StRejected, Reason: ReasonBadPayload,
			Message: "missing required field"}
	}

	payload, err := ev.SignedPayload()
	if err != nil {
		return &EventStatus{EventID: ev.EventID, Status: StRejected, Reason: ReasonBadPayload,
			Message: "data is not a JSON object: " + err.Error()}
	}

	computed, err := ComputeSignature(payload)
	if err != nil {
		return &EventStatus{EventID: ev.EventID, Status: StRejected, Reason: ReasonInternalError,
			Message: err.Error()}
	}
	if computed != ev.Signature {
		return &EventStatus{EventID: ev.EventID, Status: StRejected, Reason: ReasonBadSignature,
			Message: "recomputed signature does not match"}
	}

	// Within a batch the events form a contiguous chain segment.
	if prev != nil && ev.PrevSignature != prev.Signature {
		return &EventStatus{EventID: ev.EventID, Status: StRejected, Reason: ReasonChainMismatch,
			Message: fmt.Sprintf("prev_signature does not link to preceding event %s", prev.EventID)}
	}
	return nil
}

func (s *Service) processEvent(ctx context.Context, tx pgx.Tx, deviceID string, ev *EventUpload, prev *EventUpload) EventStatus {
	if st := validateEvent(ev, prev); st != nil {
		return *st
	}

	// Idempotent insert: a duplicate event_id means a re-delivered batch, which
	// is accepted so the device can mark the event synced.
	_, err := tx.Exec(ctx, `
		INSERT INTO edge_event (device_id, event_id, ts, asset_id, line_id, event_type, data, signature, prev_signature)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9)
		ON CONFLICT (event_id) DO NOTHING
	`, deviceID, ev.EventID, ev.Timestamp, ev.AssetID, ev.LineID, ev.Type, ev.Data, ev.Signature, ev.PrevSignature)
	if err != nil {
		s.logger.Error("Failed to insert event", "event_id", ev.EventID, "error", err)
		return EventStatus{EventID: ev.EventID, Status: StRejected, Reason: ReasonInternalError,
			Message: err.Error()}
	}

	return EventStatus{EventID: ev.EventID, Status: StAccepted}
}

// EventCount returns the total number of ingested events.
func (s *Service) EventCount(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM edge_event`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}
