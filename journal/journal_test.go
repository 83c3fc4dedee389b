// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package journal

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/plantops/edgesync/ingest"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	j, err := NewJournal(db, DefaultConfig(), nil)
	require.NoError(t, err)
	return j
}

func appendTemp(t *testing.T, j *Journal, eventID string, value float64) int64 {
	t.Helper()
	id, err := j.Append(context.Background(), NewEvent{
		EventID:   eventID,
		Timestamp: time.Now(),
		AssetID:   "press-01",
		LineID:    "line-a",
		Type:      ingest.TypeTelemetry,
		Data:      map[string]any{"metric": "temp", "value": value, "quality": "good"},
	})
	require.NoError(t, err)
	return id
}

func TestAppendAssignsSequentialLocalIDsAndChains(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	idA := appendTemp(t, j, "ev-a", 25.5)
	idB := appendTemp(t, j, "ev-b", 26.0)
	idC := appendTemp(t, j, "ev-c", 24.8)

	require.Equal(t, int64(1), idA)
	require.Equal(t, int64(2), idB)
	require.Equal(t, int64(3), idC)

	evA, err := j.GetEvent(ctx, idA)
	require.NoError(t, err)
	evB, err := j.GetEvent(ctx, idB)
	require.NoError(t, err)
	evC, err := j.GetEvent(ctx, idC)
	require.NoError(t, err)

	require.Equal(t, ingest.SentinelSignature, evA.Payload.PrevSignature)
	require.Equal(t, evA.Signature, evB.Payload.PrevSignature)
	require.Equal(t, evB.Signature, evC.Payload.PrevSignature)

	// Stored signature reproduces from the stored payload
	recomputed, err := ingest.ComputeSignature(evB.Payload)
	require.NoError(t, err)
	require.Equal(t, evB.Signature, recomputed)
}

func TestAppendValidation(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	cases := []NewEvent{
		{Timestamp: time.Now(), AssetID: "a", Type: "telemetry"},              // no event id
		{EventID: "e1", Timestamp: time.Now(), Type: "telemetry"},             // no asset
		{EventID: "e2", Timestamp: time.Now(), AssetID: "a"},                  // no type
		{EventID: "e3", AssetID: "a", Type: "telemetry"},                      // no timestamp
	}
	for i, ev := range cases {
		if _, err := j.Append(ctx, ev); err == nil {
			t.Fatalf("case %d: expected append to fail", i)
		}
	}

	// Duplicate event_id violates the idempotency key constraint
	appendTemp(t, j, "dup", 1)
	_, err := j.Append(ctx, NewEvent{
		EventID: "dup", Timestamp: time.Now(), AssetID: "a", Type: "telemetry",
	})
	require.Error(t, err)
	var storageErr *StorageError
	require.ErrorAs(t, err, &storageErr)
}

func TestEventCountAndDrainScenario(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	idA := appendTemp(t, j, "ev-a", 25.5)
	idB := appendTemp(t, j, "ev-b", 26.0)
	appendTemp(t, j, "ev-c", 24.8)

	counts, err := j.EventCount(ctx)
	require.NoError(t, err)
	require.Equal(t, EventCount{Total: 3, Synced: 0, Pending: 3}, counts)

	batch, err := j.DrainUnsynced(ctx, 2)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	require.Equal(t, idA, batch[0].LocalID)
	require.Equal(t, idB, batch[1].LocalID)

	require.NoError(t, j.MarkSynced(ctx, []int64{idA, idB}))

	counts, err = j.EventCount(ctx)
	require.NoError(t, err)
	require.Equal(t, EventCount{Total: 3, Synced: 2, Pending: 1}, counts)

	status, err := j.GetSyncStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), status.TotalSynced)
	require.Equal(t, idB, status.LastSyncedLocalID)
	require.NotNil(t, status.LastSyncAt)
}

func TestDrainOrderingAscending(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		appendTemp(t, j, fmt.Sprintf("ev-%02d", i), float64(i))
	}
	events, err := j.DrainUnsynced(ctx, 100)
	require.NoError(t, err)
	require.Len(t, events, 10)
	for i := 1; i < len(events); i++ {
		if events[i-1].LocalID >= events[i].LocalID {
			t.Fatalf("drain out of order at %d: %d >= %d", i, events[i-1].LocalID, events[i].LocalID)
		}
	}
}

func TestMarkSyncedIdempotentAndMonotonic(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	idA := appendTemp(t, j, "ev-a", 1)
	idB := appendTemp(t, j, "ev-b", 2)

	require.NoError(t, j.MarkSynced(ctx, []int64{idA}))
	// Overlapping set: idA already synced, 999 unknown
	require.NoError(t, j.MarkSynced(ctx, []int64{idA, idB, 999}))

	status, err := j.GetSyncStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), status.TotalSynced, "totals must not double-count")

	// synced_at is set once and never reverted
	evA, err := j.GetEvent(ctx, idA)
	require.NoError(t, err)
	require.True(t, evA.Synced)
	firstSyncedAt := *evA.SyncedAt

	require.NoError(t, j.MarkSynced(ctx, []int64{idA}))
	require.NoError(t, j.MarkFailed(ctx, idA, "late failure"))

	evA, err = j.GetEvent(ctx, idA)
	require.NoError(t, err)
	require.True(t, evA.Synced)
	require.Equal(t, firstSyncedAt, *evA.SyncedAt)
	require.Equal(t, 0, evA.RetryCount, "synced events take no further failures")
}

func TestRetryCapDeadLetters(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	idC := appendTemp(t, j, "ev-c", 24.8)
	for i := 0; i < j.MaxRetries(); i++ {
		require.NoError(t, j.MarkFailed(ctx, idC, "timeout"))
	}

	events, err := j.DrainUnsynced(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, events, "dead-lettered event must be excluded from drain")

	// Retained for audit, not deleted
	evC, err := j.GetEvent(ctx, idC)
	require.NoError(t, err)
	require.Equal(t, j.MaxRetries(), evC.RetryCount)
	require.Equal(t, "timeout", evC.LastError)

	counts, err := j.EventCount(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), counts.DeadLetters)
	require.Equal(t, int64(0), counts.Pending)
}

func TestPruneOnlyRemovesSyncedOldEvents(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	old := time.Now().AddDate(0, 0, -60)
	idOld, err := j.Append(ctx, NewEvent{
		EventID: "old", Timestamp: old, AssetID: "a", Type: "telemetry",
	})
	require.NoError(t, err)
	idOldUnsynced, err := j.Append(ctx, NewEvent{
		EventID: "old-unsynced", Timestamp: old, AssetID: "a", Type: "telemetry",
	})
	require.NoError(t, err)
	idFresh := appendTemp(t, j, "fresh", 1)

	require.NoError(t, j.MarkSynced(ctx, []int64{idOld}))
	require.NoError(t, j.MarkSynced(ctx, []int64{idFresh}))

	pruned, err := j.PruneOldEvents(ctx, 30)
	require.NoError(t, err)
	require.Equal(t, int64(1), pruned)

	_, err = j.GetEvent(ctx, idOld)
	require.Error(t, err)
	_, err = j.GetEvent(ctx, idOldUnsynced)
	require.NoError(t, err, "unsynced events are never pruned")
	_, err = j.GetEvent(ctx, idFresh)
	require.NoError(t, err)
}

func TestPruneWholeSecondTimestampAtCutoff(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	// A whole-second timestamp serializes without fractional digits and would
	// sort after the fractional cutoff string; it must still count as older.
	old := time.Now().AddDate(0, 0, -30).Truncate(time.Second)
	id, err := j.Append(ctx, NewEvent{
		EventID: "old-whole-second", Timestamp: old, AssetID: "a", Type: "telemetry",
	})
	require.NoError(t, err)
	require.NoError(t, j.MarkSynced(ctx, []int64{id}))

	pruned, err := j.PruneOldEvents(ctx, 30)
	require.NoError(t, err)
	require.Equal(t, int64(1), pruned)
}

func TestEnsureDeviceIDIsStable(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	first, err := EnsureDeviceID(db)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := EnsureDeviceID(db)
	require.NoError(t, err)
	require.Equal(t, first, second)
}
