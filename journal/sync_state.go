// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/plantops/edgesync/ingest"
)

// DrainUnsynced returns up to limit events that still need delivery, ordered
// ascending by local_id so the remote system receives them in causal order.
// Dead-lettered events (retry_count at the cap) are skipped, never reordered past.
func (j *Journal) DrainUnsynced(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := j.DB.QueryContext(ctx, `
		SELECT local_id, event_id, ts, asset_id, line_id, event_type, data,
		       signature, prev_signature, synced, synced_at, retry_count, last_error
		FROM journal_event
		WHERE synced = 0 AND retry_count < ?
		ORDER BY local_id ASC
		LIMIT ?
	`, j.config.MaxRetries, limit)
	if err != nil {
		return nil, &StorageError{Op: "drain", Err: err}
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "drain", Err: err}
	}
	return events, nil
}

// MarkSynced transactionally flips synced=false→true for the given local ids
// and bumps the sync_status counters by the number of rows actually flipped.
// Ids that do not exist or are already synced are no-ops, so overlapping calls
// never double-count, and synced is monotonic: nothing ever reverts it.
func (j *Journal) MarkSynced(ctx context.Context, localIDs []int64) error {
	if len(localIDs) == 0 {
		return nil
	}

	j.writeMu.Lock()
	defer j.writeMu.Unlock()

	tx, err := j.DB.BeginTx(ctx, nil)
	if err != nil {
		return &StorageError{Op: "mark synced", Err: err}
	}
	defer tx.Rollback()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(localIDs)), ",")
	args := make([]any, 0, len(localIDs)+1)
	now := formatTime(time.Now())
	args = append(args, now)
	for _, id := range localIDs {
		args = append(args, id)
	}

	res, err := tx.ExecContext(ctx, fmt.Sprintf(`
		UPDATE journal_event SET synced = 1, synced_at = ?
		WHERE local_id IN (%s) AND synced = 0
	`, placeholders), args...)
	if err != nil {
		return &StorageError{Op: "mark synced", Err: err}
	}
	flipped, err := res.RowsAffected()
	if err != nil {
		return &StorageError{Op: "mark synced", Err: err}
	}
	if flipped == 0 {
		return tx.Commit()
	}

	var maxID int64
	for _, id := range localIDs {
		if id > maxID {
			maxID = id
		}
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE sync_status SET
			total_synced = total_synced + ?,
			last_sync_at = ?,
			last_synced_local_id = CASE
				WHEN last_synced_local_id < ? THEN ?
				ELSE last_synced_local_id
			END
		WHERE id = 1
	`, flipped, now, maxID, maxID)
	if err != nil {
		return &StorageError{Op: "mark synced", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &StorageError{Op: "mark synced", Err: err}
	}
	return nil
}

// MarkFailed records a failed sync attempt for an event. Once retry_count
// reaches the configured cap the event becomes a dead letter: excluded from
// future drains but retained in the journal for forensic inspection.
func (j *Journal) MarkFailed(ctx context.Context, localID int64, reason string) error {
	j.writeMu.Lock()
	defer j.writeMu.Unlock()

	tx, err := j.DB.BeginTx(ctx, nil)
	if err != nil {
		return &StorageError{Op: "mark failed", Err: err}
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE journal_event SET retry_count = retry_count + 1, last_error = ?
		WHERE local_id = ? AND synced = 0
	`, reason, localID)
	if err != nil {
		return &StorageError{Op: "mark failed", Err: err}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return &StorageError{Op: "mark failed", Err: err}
	}
	if affected == 0 {
		// Unknown or already-synced id is a no-op, matching MarkSynced semantics.
		return tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE sync_status SET total_failed = total_failed + 1 WHERE id = 1
	`); err != nil {
		return &StorageError{Op: "mark failed", Err: err}
	}

	var retryCount int
	if err := tx.QueryRowContext(ctx, `
		SELECT retry_count FROM journal_event WHERE local_id = ?
	`, localID).Scan(&retryCount); err != nil {
		return &StorageError{Op: "mark failed", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &StorageError{Op: "mark failed", Err: err}
	}

	if retryCount >= j.config.MaxRetries {
		j.logger.Warn("Event dead-lettered after exhausting retry budget",
			"local_id", localID, "retry_count", retryCount, "last_error", reason)
	}
	return nil
}

// GetEvent loads a single event by local id.
func (j *Journal) GetEvent(ctx context.Context, localID int64) (Event, error) {
	row := j.DB.QueryRowContext(ctx, `
		SELECT local_id, event_id, ts, asset_id, line_id, event_type, data,
		       signature, prev_signature, synced, synced_at, retry_count, last_error
		FROM journal_event WHERE local_id = ?
	`, localID)
	ev, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return Event{}, fmt.Errorf("event %d not found", localID)
	}
	return ev, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (Event, error) {
	var ev Event
	var ts string
	var lineID, data, syncedAt, lastError sql.NullString
	var synced int
	err := row.Scan(&ev.LocalID, &ev.Payload.EventID, &ts, &ev.Payload.AssetID, &lineID,
		&ev.Payload.Type, &data, &ev.Signature, &ev.Payload.PrevSignature,
		&synced, &syncedAt, &ev.RetryCount, &lastError)
	if err == sql.ErrNoRows {
		return Event{}, err
	}
	if err != nil {
		return Event{}, &StorageError{Op: "scan", Err: err}
	}

	ev.Payload.Timestamp, err = parseTime(ts)
	if err != nil {
		return Event{}, fmt.Errorf("failed to parse event timestamp: %w", err)
	}
	ev.Payload.LineID = lineID.String
	if data.Valid && data.String != "" {
		if err := json.Unmarshal([]byte(data.String), &ev.Payload.Data); err != nil {
			return Event{}, fmt.Errorf("failed to unmarshal event data: %w", err)
		}
	}
	ev.Synced = synced != 0
	if syncedAt.Valid {
		t, err := parseTime(syncedAt.String)
		if err != nil {
			return Event{}, fmt.Errorf("failed to parse synced_at: %w", err)
		}
		ev.SyncedAt = &t
	}
	ev.LastError = lastError.String
	return ev, nil
}

// ToUpload converts a stored event into its wire representation.
func (ev *Event) ToUpload() (ingest.EventUpload, error) {
	var data json.RawMessage
	if ev.Payload.Data != nil {
		raw, err := json.Marshal(ev.Payload.Data)
		if err != nil {
			return ingest.EventUpload{}, fmt.Errorf("failed to marshal event data: %w", err)
		}
		data = raw
	}
	return ingest.EventUpload{
		EventID:       ev.Payload.EventID,
		Timestamp:     ev.Payload.Timestamp,
		AssetID:       ev.Payload.AssetID,
		LineID:        ev.Payload.LineID,
		Type:          ev.Payload.Type,
		Data:          data,
		Signature:     ev.Signature,
		PrevSignature: ev.Payload.PrevSignature,
	}, nil
}
