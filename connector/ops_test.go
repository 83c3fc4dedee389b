// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package connector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadUnknownNode(t *testing.T) {
	sim := NewSimTransport()
	conn, err := NewConnector(sim, newTestJournal(t), testConfig(tempMapping()), nil)
	require.NoError(t, err)
	require.NoError(t, conn.Connect(context.Background()))
	defer conn.Disconnect()

	_, err = conn.Read(context.Background(), "no/such/node")
	require.ErrorIs(t, err, ErrNodeNotFound)
}

func TestOpsBeforeConnect(t *testing.T) {
	conn, err := NewConnector(NewSimTransport(), newTestJournal(t), testConfig(tempMapping()), nil)
	require.NoError(t, err)

	_, err = conn.Read(context.Background(), "line1/press/temperature")
	require.ErrorIs(t, err, ErrSessionInvalid)

	err = conn.Write(context.Background(), "line1/press/temperature", 1.0)
	require.ErrorIs(t, err, ErrSessionInvalid)

	_, err = conn.Browse(context.Background(), "line1")
	require.ErrorIs(t, err, ErrSessionInvalid)
}

func TestWriteThenRead(t *testing.T) {
	sim := NewSimTransport()
	conn, err := NewConnector(sim, newTestJournal(t), testConfig(tempMapping()), nil)
	require.NoError(t, err)
	require.NoError(t, conn.Connect(context.Background()))
	defer conn.Disconnect()

	require.NoError(t, conn.Write(context.Background(), "line1/press/setpoint", 42.0))

	dv, err := conn.Read(context.Background(), "line1/press/setpoint")
	require.NoError(t, err)
	require.Equal(t, 42.0, dv.Value)
	require.Equal(t, QualityGood, dv.Quality)
	require.False(t, dv.SourceTimestamp.IsZero())
}

func TestReadWithRetryReRaisesLastError(t *testing.T) {
	sim := NewSimTransport()
	conn, err := NewConnector(sim, newTestJournal(t), testConfig(tempMapping()), nil)
	require.NoError(t, err)
	require.NoError(t, conn.Connect(context.Background()))
	defer conn.Disconnect()

	_, err = conn.ReadWithRetry(context.Background(), "no/such/node", 3)
	require.ErrorIs(t, err, ErrNodeNotFound)
}

func TestReadWithRetrySucceeds(t *testing.T) {
	sim := NewSimTransport()
	conn, err := NewConnector(sim, newTestJournal(t), testConfig(tempMapping()), nil)
	require.NoError(t, err)
	require.NoError(t, conn.Connect(context.Background()))
	defer conn.Disconnect()

	sim.Session().SetNode("line1/press/temperature", 7.5, QualityGood)

	dv, err := conn.ReadWithRetry(context.Background(), "line1/press/temperature", 3)
	require.NoError(t, err)
	require.Equal(t, 7.5, dv.Value)
}
