// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package journal

import (
	"context"

	"github.com/plantops/edgesync/ingest"
)

// IntegrityReport is the result of a full chain verification walk.
type IntegrityReport struct {
	Valid    bool    `json:"valid"`
	Checked  int64   `json:"checked"`
	LocalIDs []int64 `json:"errors,omitempty"` // Offending events, ascending
}

// Err returns an *IntegrityError when the report is invalid, nil otherwise.
func (r IntegrityReport) Err() error {
	if r.Valid {
		return nil
	}
	return &IntegrityError{LocalIDs: r.LocalIDs}
}

// VerifyIntegrity walks all events in local_id order, recomputing each
// signature from its stored fields and checking the prev_signature link
// against the predecessor's stored signature.
//
// A single tampered row is reported at exactly that row: later rows recompute
// against the predecessor's *stored* signature, so they are not falsely
// flagged unless their own stored link was also altered.
func (j *Journal) VerifyIntegrity(ctx context.Context) (IntegrityReport, error) {
	rows, err := j.DB.QueryContext(ctx, `
		SELECT local_id, event_id, ts, asset_id, line_id, event_type, data,
		       signature, prev_signature, synced, synced_at, retry_count, last_error
		FROM journal_event
		ORDER BY local_id ASC
	`)
	if err != nil {
		return IntegrityReport{}, &StorageError{Op: "verify", Err: err}
	}
	defer rows.Close()

	report := IntegrityReport{Valid: true}
	prevStored := ingest.SentinelSignature
	first := true
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return IntegrityReport{}, err
		}
		report.Checked++

		if first && ev.LocalID > 1 {
			// Head was pruned by retention; trust the oldest survivor's carried
			// link. The remote holds the full chain for the pruned prefix.
			prevStored = ev.Payload.PrevSignature
		}
		first = false

		bad := false
		if ev.Payload.PrevSignature != prevStored {
			// Link break: insertion, deletion, or reordering before this row
			bad = true
		}
		recomputed, err := ingest.ComputeSignature(ev.Payload)
		if err != nil {
			return IntegrityReport{}, err
		}
		if recomputed != ev.Signature {
			bad = true
		}

		if bad {
			report.Valid = false
			report.LocalIDs = append(report.LocalIDs, ev.LocalID)
			j.logger.Error("Journal integrity violation",
				"local_id", ev.LocalID, "event_id", ev.Payload.EventID)
		}
		prevStored = ev.Signature
	}
	if err := rows.Err(); err != nil {
		return IntegrityReport{}, &StorageError{Op: "verify", Err: err}
	}
	return report, nil
}
