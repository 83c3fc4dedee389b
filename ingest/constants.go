// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package ingest

// Event kind constants
const (
	TypeTelemetry    = "telemetry"
	TypeStatusChange = "status-change"
)

// Status constants for per-event batch results
const (
	StAccepted = "accepted"
	StRejected = "rejected"
)

// Rejection reason constants
const (
	ReasonBadPayload    = "bad_payload"
	ReasonBadSignature  = "bad_signature"
	ReasonChainMismatch = "chain_mismatch"
	ReasonInternalError = "internal_error"
)
