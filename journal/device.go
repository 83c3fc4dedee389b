// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package journal

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// EnsureDeviceID generates and persists a device ID if not already present.
// The ID survives restarts so the ingest service sees a stable identity for
// this journal across the device's lifetime.
func EnsureDeviceID(db *sql.DB) (string, error) {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS device_info (
			id        INTEGER PRIMARY KEY CHECK (id = 1),
			device_id TEXT NOT NULL
		)`); err != nil {
		return "", fmt.Errorf("failed to create device_info table: %w", err)
	}

	var deviceID string
	err := db.QueryRow(`SELECT device_id FROM device_info WHERE id = 1`).Scan(&deviceID)
	if errors.Is(err, sql.ErrNoRows) {
		deviceID = uuid.New().String()
		if _, err := db.Exec(`INSERT INTO device_info (id, device_id) VALUES (1, ?)`, deviceID); err != nil {
			return "", fmt.Errorf("failed to insert device info: %w", err)
		}
	} else if err != nil {
		return "", fmt.Errorf("failed to query device info: %w", err)
	}
	return deviceID, nil
}
