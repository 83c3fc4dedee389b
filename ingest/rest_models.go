// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"encoding/json"
	"time"
)

// REST/JSON models for the batch-ingest HTTP API.
// The device identity (device_id) is derived from the JWT did claim, not from
// the request body.

// BatchRequest represents a batch of signed events uploaded by one edge device.
// Events must be ordered by the device's local id so the server can verify the
// chain segment they form.
type BatchRequest struct {
	Events []EventUpload `json:"events"`
}

// EventUpload is a single signed event record on the wire. It carries the full
// signed payload plus the signatures, so the server can independently verify
// the chain segment without trusting the device.
type EventUpload struct {
	EventID       string          `json:"event_id"`       // Device-generated UUID (idempotency key)
	Timestamp     time.Time       `json:"ts"`             // Source-reported capture time
	AssetID       string          `json:"asset_id"`       // Subject equipment
	LineID        string          `json:"line_id,omitempty"`
	Type          string          `json:"type"`           // telemetry, status-change
	Data          json.RawMessage `json:"data"`           // Opaque point payload
	Signature     string          `json:"signature"`      // sha256 chain signature
	PrevSignature string          `json:"prev_signature"` // Signature of the preceding event (or sentinel)
}

// BatchResponse represents the server's per-event verdict for an upload.
type BatchResponse struct {
	Accepted bool          `json:"accepted"` // True iff every event was accepted
	Statuses []EventStatus `json:"statuses"` // One entry per uploaded event, same order
}

// EventStatus is the result of processing a single uploaded event.
type EventStatus struct {
	EventID string `json:"event_id"`          // Echo back the device's event ID
	Status  string `json:"status"`            // "accepted" or "rejected"
	Reason  string `json:"reason,omitempty"`  // Rejection reason constant
	Message string `json:"message,omitempty"` // Optional details for errors
}

// ServerTimeResponse carries the server clock for device drift checks.
type ServerTimeResponse struct {
	ServerTime time.Time `json:"server_time"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// StatusResponse represents service status response
type StatusResponse struct {
	Status     string `json:"status"`      // healthy, degraded, unhealthy
	AppName    string `json:"app_name"`    // Application name
	EventCount int64  `json:"event_count"` // Total ingested events
}

// SignedPayload converts a wire record into the canonical hash input.
// Returns an error when the data payload is not a JSON object.
func (e *EventUpload) SignedPayload() (SignedPayload, error) {
	var data map[string]any
	if len(e.Data) > 0 {
		if err := json.Unmarshal(e.Data, &data); err != nil {
			return SignedPayload{}, err
		}
	}
	return SignedPayload{
		EventID:       e.EventID,
		Timestamp:     e.Timestamp,
		AssetID:       e.AssetID,
		LineID:        e.LineID,
		Type:          e.Type,
		Data:          data,
		PrevSignature: e.PrevSignature,
	}, nil
}
