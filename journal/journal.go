// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package journal provides the durable, tamper-evident event store of an edge
// telemetry device.
//
// The journal is the single source of truth on the device: the protocol
// connector appends readings to it, and the sync worker drains it toward the
// central ingest service. Every event is hash-chained to its predecessor, so
// silent insertion, deletion, or reordering of history is detectable, while
// sync bookkeeping (synced flag, retry counter) lives outside the signed
// payload and can change freely.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/plantops/edgesync/ingest"
)

// Journal manages the SQLite-backed append-only event store.
type Journal struct {
	DB      *sql.DB
	config  *Config
	logger  *slog.Logger
	writeMu sync.Mutex // Serialize writes to keep local_id/prev_signature assignment atomic
}

// Config holds configuration for the journal
type Config struct {
	MaxRetries         int           // Sync attempts before an event is dead-lettered
	DriftWarnThreshold time.Duration // Clock offset magnitude that triggers a warning
}

// DefaultConfig returns the default journal configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:         5,
		DriftWarnThreshold: 60 * time.Second,
	}
}

// NewEvent carries the caller-supplied fields of an event to append.
type NewEvent struct {
	EventID   string         // Unique idempotency key (e.g., a UUID)
	Timestamp time.Time      // Capture time as reported by the source
	AssetID   string
	LineID    string         // Optional
	Type      string         // ingest.TypeTelemetry, ingest.TypeStatusChange, ...
	Data      map[string]any // Opaque point payload (value, quality, unit, scale)
}

// Event is a stored journal row: the signed payload plus operational state.
type Event struct {
	LocalID    int64
	Payload    ingest.SignedPayload
	Signature  string
	Synced     bool
	SyncedAt   *time.Time
	RetryCount int
	LastError  string
}

// EventCount summarizes journal occupancy for health endpoints.
type EventCount struct {
	Total       int64 `json:"total"`
	Synced      int64 `json:"synced"`
	Pending     int64 `json:"pending"`
	DeadLetters int64 `json:"dead_letters"`
}

// SyncStatus is the singleton sync aggregate, updated only by mark operations.
type SyncStatus struct {
	LastSyncedLocalID int64
	LastSyncAt        *time.Time
	TotalSynced       int64
	TotalFailed       int64
}

// NewJournal creates a journal on top of an open SQLite handle and ensures the
// schema exists. The handle is owned exclusively by the journal afterwards.
func NewJournal(db *sql.DB, config *Config, logger *slog.Logger) (*Journal, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.MaxRetries <= 0 {
		return nil, fmt.Errorf("config.MaxRetries must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := initializeDatabase(db); err != nil {
		return nil, fmt.Errorf("failed to initialize journal database: %w", err)
	}
	return &Journal{DB: db, config: config, logger: logger}, nil
}

// Open opens (or creates) a journal database file.
func Open(path string, config *Config, logger *slog.Logger) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}
	j, err := NewJournal(db, config, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

// Close closes the underlying database handle.
func (j *Journal) Close() error {
	j.writeMu.Lock()
	defer j.writeMu.Unlock()
	return j.DB.Close()
}

func initializeDatabase(db *sql.DB) error {
	// WAL allows the sync worker to read pending batches while the connector appends
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	tables := []string{
		// Append-only event log; AUTOINCREMENT forbids rowid reuse so local_id
		// stays strictly increasing even across deletes
		`CREATE TABLE IF NOT EXISTS journal_event (
			local_id       INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id       TEXT NOT NULL UNIQUE,
			ts             TEXT NOT NULL,
			asset_id       TEXT NOT NULL,
			line_id        TEXT,
			event_type     TEXT NOT NULL,
			data           TEXT,                -- JSON payload captured at append time
			signature      TEXT NOT NULL,
			prev_signature TEXT NOT NULL,
			synced         INTEGER NOT NULL DEFAULT 0,
			synced_at      TEXT,
			retry_count    INTEGER NOT NULL DEFAULT 0,
			last_error     TEXT
		)`,

		// Singleton sync aggregate (one row)
		`CREATE TABLE IF NOT EXISTS sync_status (
			id                   INTEGER PRIMARY KEY CHECK (id = 1),
			last_synced_local_id INTEGER NOT NULL DEFAULT 0,
			last_sync_at         TEXT,
			total_synced         INTEGER NOT NULL DEFAULT 0,
			total_failed         INTEGER NOT NULL DEFAULT 0
		)`,

		// Clock drift sample history
		`CREATE TABLE IF NOT EXISTS clock_sample (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			local_time  TEXT NOT NULL,
			server_time TEXT NOT NULL,
			offset_ms   INTEGER NOT NULL
		)`,
	}
	for _, table := range tables {
		if _, err := db.Exec(table); err != nil {
			return fmt.Errorf("failed to create journal table: %w", err)
		}
	}

	if _, err := db.Exec(`INSERT OR IGNORE INTO sync_status (id) VALUES (1)`); err != nil {
		return fmt.Errorf("failed to seed sync_status row: %w", err)
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_journal_event_unsynced
		ON journal_event (local_id) WHERE synced = 0`); err != nil {
		return fmt.Errorf("failed to create unsynced index: %w", err)
	}
	return nil
}

// Append computes the chain signature for ev and persists it atomically,
// returning the assigned local_id.
//
// Readers are never blocked: the write mutex only serializes appends and sync
// state mutation, and a storage failure propagates to the caller because a
// lost telemetry event cannot be reconstructed.
func (j *Journal) Append(ctx context.Context, ev NewEvent) (int64, error) {
	if ev.EventID == "" {
		return 0, fmt.Errorf("event ID must be provided")
	}
	if ev.AssetID == "" || ev.Type == "" {
		return 0, fmt.Errorf("asset ID and event type must be provided")
	}
	if ev.Timestamp.IsZero() {
		return 0, fmt.Errorf("event timestamp must be provided")
	}

	j.writeMu.Lock()
	defer j.writeMu.Unlock()

	tx, err := j.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, &StorageError{Op: "append", Err: err}
	}
	defer tx.Rollback()

	// Chain tail: signature of the last stored event, or the sentinel
	prevSignature := ingest.SentinelSignature
	err = tx.QueryRowContext(ctx, `
		SELECT signature FROM journal_event ORDER BY local_id DESC LIMIT 1
	`).Scan(&prevSignature)
	if err != nil && err != sql.ErrNoRows {
		return 0, &StorageError{Op: "append", Err: err}
	}

	payload := ingest.SignedPayload{
		EventID:       ev.EventID,
		Timestamp:     ev.Timestamp,
		AssetID:       ev.AssetID,
		LineID:        ev.LineID,
		Type:          ev.Type,
		Data:          ev.Data,
		PrevSignature: prevSignature,
	}
	signature, err := ingest.ComputeSignature(payload)
	if err != nil {
		return 0, fmt.Errorf("failed to sign event %s: %w", ev.EventID, err)
	}

	var dataJSON any
	if ev.Data != nil {
		raw, err := json.Marshal(ev.Data)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal event data: %w", err)
		}
		dataJSON = string(raw)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO journal_event (event_id, ts, asset_id, line_id, event_type, data, signature, prev_signature)
		VALUES (?, ?, ?, NULLIF(?, ''), ?, ?, ?, ?)
	`, ev.EventID, formatTime(ev.Timestamp), ev.AssetID, ev.LineID, ev.Type, dataJSON, signature, prevSignature)
	if err != nil {
		return 0, &StorageError{Op: "append", Err: err}
	}
	localID, err := res.LastInsertId()
	if err != nil {
		return 0, &StorageError{Op: "append", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return 0, &StorageError{Op: "append", Err: err}
	}

	return localID, nil
}

// EventCount reports journal occupancy. Pending excludes dead letters.
func (j *Journal) EventCount(ctx context.Context) (EventCount, error) {
	var c EventCount
	err := j.DB.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(synced), 0),
		       COALESCE(SUM(CASE WHEN synced = 0 AND retry_count < ? THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN synced = 0 AND retry_count >= ? THEN 1 ELSE 0 END), 0)
		FROM journal_event
	`, j.config.MaxRetries, j.config.MaxRetries).Scan(&c.Total, &c.Synced, &c.Pending, &c.DeadLetters)
	if err != nil {
		return EventCount{}, &StorageError{Op: "count", Err: err}
	}
	return c, nil
}

// GetSyncStatus reads the singleton sync aggregate.
func (j *Journal) GetSyncStatus(ctx context.Context) (SyncStatus, error) {
	var s SyncStatus
	var lastSyncAt sql.NullString
	err := j.DB.QueryRowContext(ctx, `
		SELECT last_synced_local_id, last_sync_at, total_synced, total_failed
		FROM sync_status WHERE id = 1
	`).Scan(&s.LastSyncedLocalID, &lastSyncAt, &s.TotalSynced, &s.TotalFailed)
	if err != nil {
		return SyncStatus{}, &StorageError{Op: "sync status", Err: err}
	}
	if lastSyncAt.Valid {
		t, err := parseTime(lastSyncAt.String)
		if err != nil {
			return SyncStatus{}, fmt.Errorf("failed to parse last_sync_at: %w", err)
		}
		s.LastSyncAt = &t
	}
	return s, nil
}

// MaxRetries exposes the configured dead-letter cap.
func (j *Journal) MaxRetries() int { return j.config.MaxRetries }

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
