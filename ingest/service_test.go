// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

// newTestService connects to the Postgres instance named by TEST_DATABASE_URL,
// skipping when none is configured.
func newTestService(t *testing.T) *Service {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping Postgres-backed test")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, `DROP TABLE IF EXISTS edge_event`)
	require.NoError(t, err)

	service, err := NewService(ctx, pool, nil)
	require.NoError(t, err)
	return service
}

func TestProcessBatchStoresChain(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	a := signedUpload(t, "ev-a", SentinelSignature)
	b := signedUpload(t, "ev-b", a.Signature)

	resp, err := service.ProcessBatch(ctx, "device-1", &BatchRequest{Events: []EventUpload{a, b}})
	require.NoError(t, err)
	require.True(t, resp.Accepted)
	require.Len(t, resp.Statuses, 2)
	for _, st := range resp.Statuses {
		require.Equal(t, StAccepted, st.Status)
	}

	count, err := service.EventCount(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), count)
}

func TestProcessBatchIsIdempotentOnEventID(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	a := signedUpload(t, "ev-a", SentinelSignature)
	batch := &BatchRequest{Events: []EventUpload{a}}

	first, err := service.ProcessBatch(ctx, "device-1", batch)
	require.NoError(t, err)
	require.True(t, first.Accepted)

	// Re-delivery after a simulated crash between accept and mark-synced
	second, err := service.ProcessBatch(ctx, "device-1", batch)
	require.NoError(t, err)
	require.True(t, second.Accepted, "duplicates must be accepted, not rejected")

	count, err := service.EventCount(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), count, "duplicate must not create a second row")
}

func TestProcessBatchRejectsBrokenSegment(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	a := signedUpload(t, "ev-a", SentinelSignature)
	b := signedUpload(t, "ev-b", "sha256:forged")

	resp, err := service.ProcessBatch(ctx, "device-1", &BatchRequest{Events: []EventUpload{a, b}})
	require.NoError(t, err)
	require.False(t, resp.Accepted)
	require.Equal(t, StAccepted, resp.Statuses[0].Status)
	require.Equal(t, StRejected, resp.Statuses[1].Status)
	require.Equal(t, ReasonChainMismatch, resp.Statuses[1].Reason)
}

func TestProcessBatchEmpty(t *testing.T) {
	service := newTestService(t)

	resp, err := service.ProcessBatch(context.Background(), "device-1", &BatchRequest{})
	require.NoError(t, err)
	require.True(t, resp.Accepted)
	require.Empty(t, resp.Statuses)
}
