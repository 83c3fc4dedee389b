// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func signedUpload(t *testing.T, eventID, prevSig string) EventUpload {
	t.Helper()
	p := SignedPayload{
		EventID:       eventID,
		Timestamp:     time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
		AssetID:       "press-01",
		Type:          TypeTelemetry,
		Data:          map[string]any{"value": 1.0},
		PrevSignature: prevSig,
	}
	sig, err := ComputeSignature(p)
	require.NoError(t, err)
	data, err := json.Marshal(p.Data)
	require.NoError(t, err)
	return EventUpload{
		EventID:       p.EventID,
		Timestamp:     p.Timestamp,
		AssetID:       p.AssetID,
		Type:          p.Type,
		Data:          data,
		Signature:     sig,
		PrevSignature: prevSig,
	}
}

func TestValidateEventAcceptsWellFormedChain(t *testing.T) {
	a := signedUpload(t, "ev-a", SentinelSignature)
	b := signedUpload(t, "ev-b", a.Signature)

	require.Nil(t, validateEvent(&a, nil))
	require.Nil(t, validateEvent(&b, &a))
}

func TestValidateEventMissingFields(t *testing.T) {
	ev := signedUpload(t, "ev-a", SentinelSignature)
	ev.AssetID = ""
	st := validateEvent(&ev, nil)
	require.NotNil(t, st)
	require.Equal(t, StRejected, st.Status)
	require.Equal(t, ReasonBadPayload, st.Reason)
}

func TestValidateEventBadSignature(t *testing.T) {
	ev := signedUpload(t, "ev-a", SentinelSignature)
	// Tamper with the payload after signing
	ev.Data = json.RawMessage(`{"value":999.0}`)
	st := validateEvent(&ev, nil)
	require.NotNil(t, st)
	require.Equal(t, ReasonBadSignature, st.Reason)
}

func TestValidateEventChainMismatch(t *testing.T) {
	a := signedUpload(t, "ev-a", SentinelSignature)
	// b signs against a forged predecessor signature
	b := signedUpload(t, "ev-b", "sha256:forged")
	st := validateEvent(&b, &a)
	require.NotNil(t, st)
	require.Equal(t, ReasonChainMismatch, st.Reason)
}

func TestValidateEventNonObjectData(t *testing.T) {
	ev := signedUpload(t, "ev-a", SentinelSignature)
	ev.Data = json.RawMessage(`"scalar"`)
	st := validateEvent(&ev, nil)
	require.NotNil(t, st)
	require.Equal(t, ReasonBadPayload, st.Reason)
}

func TestPrevOf(t *testing.T) {
	events := []EventUpload{{EventID: "a"}, {EventID: "b"}}
	require.Nil(t, prevOf(events, 0))
	require.Equal(t, "a", prevOf(events, 1).EventID)
}
