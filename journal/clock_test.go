// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package journal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClockOffsetWithoutSamples(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	offset, err := j.GetClockOffset(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(0), offset)

	exceeded, err := j.ClockOffsetExceeded(ctx)
	require.NoError(t, err)
	require.False(t, exceeded)
}

func TestRecordClockSyncMeasuresOffset(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	local := time.Now()
	offset, err := j.RecordClockSync(ctx, local, local.Add(90*time.Second))
	require.NoError(t, err)
	require.Equal(t, int64(90000), offset)

	got, err := j.GetClockOffset(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(90000), got)

	exceeded, err := j.ClockOffsetExceeded(ctx)
	require.NoError(t, err)
	require.True(t, exceeded, "90s drift breaches the 60s threshold")
}

func TestClockOffsetUsesLatestSample(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	local := time.Now()
	_, err := j.RecordClockSync(ctx, local, local.Add(90*time.Second))
	require.NoError(t, err)
	_, err = j.RecordClockSync(ctx, local, local.Add(-2*time.Second))
	require.NoError(t, err)

	offset, err := j.GetClockOffset(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(-2000), offset)

	exceeded, err := j.ClockOffsetExceeded(ctx)
	require.NoError(t, err)
	require.False(t, exceeded)
}

func TestDriftThresholdIsSymmetric(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	local := time.Now()
	offset, err := j.RecordClockSync(ctx, local, local.Add(-90*time.Second))
	require.NoError(t, err)
	require.Equal(t, int64(-90000), offset)

	exceeded, err := j.ClockOffsetExceeded(ctx)
	require.NoError(t, err)
	require.True(t, exceeded, "negative drift counts too")
}
