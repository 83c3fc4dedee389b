// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package journal

import (
	"context"
	"time"
)

// PruneOldEvents deletes events that are already synced and older than the
// retention window, returning the number of rows removed. Unsynced and
// dead-lettered events are never pruned: the former still need delivery, the
// latter are kept for audit.
//
// Only a contiguous prefix of the journal is ever removed (nothing past the
// oldest unsynced row), so the chain stays verifiable from the oldest
// surviving event onward.
func (j *Journal) PruneOldEvents(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	j.writeMu.Lock()
	defer j.writeMu.Unlock()

	// julianday compares timestamps as instants; the RFC3339Nano text varies
	// in fractional-digit count, so plain string comparison misorders rows at
	// the cutoff boundary.
	res, err := j.DB.ExecContext(ctx, `
		DELETE FROM journal_event
		WHERE synced = 1 AND julianday(ts) < julianday(?)
		AND local_id < COALESCE(
			(SELECT MIN(local_id) FROM journal_event WHERE synced = 0), local_id + 1)
	`, formatTime(cutoff))
	if err != nil {
		return 0, &StorageError{Op: "prune", Err: err}
	}
	pruned, err := res.RowsAffected()
	if err != nil {
		return 0, &StorageError{Op: "prune", Err: err}
	}
	if pruned > 0 {
		j.logger.Info("Pruned synced events past retention", "pruned", pruned, "retention_days", retentionDays)
	}
	return pruned, nil
}
