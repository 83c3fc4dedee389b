// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// SentinelSignature is the prev_signature carried by the first event of a chain.
const SentinelSignature = "genesis"

// SignedPayload is the exact hash input of an event: the immutable fields plus
// the signature of the preceding event. Operational sync state (synced flag,
// retry counter, last error) is deliberately not part of this type, so that
// legitimate sync-state updates can never invalidate the chain.
type SignedPayload struct {
	EventID       string         `json:"event_id"`
	Timestamp     time.Time      `json:"ts"`
	AssetID       string         `json:"asset_id"`
	LineID        string         `json:"line_id,omitempty"`
	Type          string         `json:"type"`
	Data          map[string]any `json:"data"`
	PrevSignature string         `json:"prev_signature"`
}

// ComputeSignature hashes a signed payload into its chain signature.
//
// The hash input is a canonical JSON document: struct fields marshal in
// declaration order, map keys sort lexicographically, the timestamp is
// normalized to UTC RFC3339Nano, and the data map is reduced to its decoded
// JSON form first. Both the edge journal and the ingest service compute
// signatures through this function, so a record round-tripped through storage
// or over the wire reproduces the same bytes.
func ComputeSignature(p SignedPayload) (string, error) {
	data, err := canonicalData(p.Data)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize payload data: %w", err)
	}

	hashInput := struct {
		EventID string         `json:"event_id"`
		TS      string         `json:"ts"`
		AssetID string         `json:"asset_id"`
		LineID  string         `json:"line_id"`
		Type    string         `json:"type"`
		Data    map[string]any `json:"data"`
		PrevSig string         `json:"prev"`
	}{p.EventID, p.Timestamp.UTC().Format(time.RFC3339Nano), p.AssetID, p.LineID, p.Type, data, p.PrevSignature}

	raw, err := json.Marshal(hashInput)
	if err != nil {
		return "", fmt.Errorf("failed to marshal signed payload: %w", err)
	}
	h := sha256.Sum256(raw)
	return "sha256:" + hex.EncodeToString(h[:]), nil
}

// canonicalData round-trips the payload map through JSON, so the hash covers
// the values as they decode from the stored row or the wire (an int64 hashes
// as the float64 it becomes after decoding). Without this an appended event
// could verify differently on each side of a serialization boundary.
func canonicalData(data map[string]any) (map[string]any, error) {
	if data == nil {
		return nil, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, err
	}
	return decoded, nil
}
