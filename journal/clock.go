// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package journal

import (
	"context"
	"database/sql"
	"time"
)

// RecordClockSync stores a clock sample taken against a trusted time source
// and returns the measured offset in milliseconds (serverTime - localTime).
// An offset magnitude above the configured threshold is logged as a warning:
// large drift undermines trust in the timestamps baked into the signatures.
func (j *Journal) RecordClockSync(ctx context.Context, localTime, serverTime time.Time) (int64, error) {
	offsetMs := serverTime.Sub(localTime).Milliseconds()

	j.writeMu.Lock()
	defer j.writeMu.Unlock()

	_, err := j.DB.ExecContext(ctx, `
		INSERT INTO clock_sample (local_time, server_time, offset_ms) VALUES (?, ?, ?)
	`, formatTime(localTime), formatTime(serverTime), offsetMs)
	if err != nil {
		return 0, &StorageError{Op: "record clock sync", Err: err}
	}

	if exceedsDrift(offsetMs, j.config.DriftWarnThreshold) {
		j.logger.Warn("Clock drift exceeds threshold",
			"offset_ms", offsetMs, "threshold", j.config.DriftWarnThreshold)
	}
	return offsetMs, nil
}

// GetClockOffset returns the most recently measured offset in milliseconds.
// A journal that has never seen a clock sync reports zero offset.
func (j *Journal) GetClockOffset(ctx context.Context) (int64, error) {
	var offsetMs int64
	err := j.DB.QueryRowContext(ctx, `
		SELECT offset_ms FROM clock_sample ORDER BY id DESC LIMIT 1
	`).Scan(&offsetMs)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, &StorageError{Op: "clock offset", Err: err}
	}
	return offsetMs, nil
}

// ClockOffsetExceeded reports whether the latest sample breaches the
// configured drift threshold.
func (j *Journal) ClockOffsetExceeded(ctx context.Context) (bool, error) {
	offsetMs, err := j.GetClockOffset(ctx)
	if err != nil {
		return false, err
	}
	return exceedsDrift(offsetMs, j.config.DriftWarnThreshold), nil
}

func exceedsDrift(offsetMs int64, threshold time.Duration) bool {
	if offsetMs < 0 {
		offsetMs = -offsetMs
	}
	return time.Duration(offsetMs)*time.Millisecond > threshold
}
