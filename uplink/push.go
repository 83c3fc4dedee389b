// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package uplink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/plantops/edgesync/ingest"
)

// SyncOnce performs a single sync cycle: drain pending events, push them as
// one signed batch, and record the per-event outcome.
//
// On total failure (endpoint unreachable, non-200, malformed response) every
// event in the batch is marked failed with the transport error; on partial
// success the accepted subset is marked synced and the rest marked failed
// with the server-reported reason. Re-delivery of an already-accepted batch
// is safe: the server answers accepted for duplicates.
func (w *Worker) SyncOnce(ctx context.Context) (synced int, failed int, err error) {
	events, err := w.Journal.DrainUnsynced(ctx, w.config.BatchSize)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to drain journal: %w", err)
	}
	if len(events) == 0 {
		return 0, 0, nil
	}

	req := &ingest.BatchRequest{Events: make([]ingest.EventUpload, len(events))}
	for i := range events {
		upload, err := events[i].ToUpload()
		if err != nil {
			return 0, 0, fmt.Errorf("failed to build upload for event %d: %w", events[i].LocalID, err)
		}
		req.Events[i] = upload
	}

	response, err := w.sendBatchRequest(ctx, req)
	if err != nil {
		// Total failure: record against every event, but never block appends
		for i := range events {
			if markErr := w.Journal.MarkFailed(ctx, events[i].LocalID, err.Error()); markErr != nil {
				w.logger.Error("Failed to record sync failure",
					"local_id", events[i].LocalID, "error", markErr)
			}
		}
		return 0, len(events), fmt.Errorf("failed to push batch: %w", err)
	}

	if len(response.Statuses) != len(events) {
		return 0, 0, fmt.Errorf("status count mismatch: sent %d events, got %d statuses",
			len(events), len(response.Statuses))
	}

	var acceptedIDs []int64
	for i, status := range response.Statuses {
		switch status.Status {
		case ingest.StAccepted:
			acceptedIDs = append(acceptedIDs, events[i].LocalID)
		case ingest.StRejected:
			failed++
			reason := status.Reason
			if status.Message != "" {
				reason = reason + ": " + status.Message
			}
			if markErr := w.Journal.MarkFailed(ctx, events[i].LocalID, reason); markErr != nil {
				w.logger.Error("Failed to record rejection",
					"local_id", events[i].LocalID, "error", markErr)
			}
		default:
			w.logger.Warn("Unknown status in batch response",
				"event_id", status.EventID, "status", status.Status)
		}
	}

	if len(acceptedIDs) > 0 {
		if err := w.Journal.MarkSynced(ctx, acceptedIDs); err != nil {
			return 0, failed, fmt.Errorf("failed to mark synced: %w", err)
		}
		synced = len(acceptedIDs)
	}

	w.logger.Info("Sync cycle complete", "synced", synced, "failed", failed)
	return synced, failed, nil
}

// sendBatchRequest posts a signed batch to the ingest endpoint.
func (w *Worker) sendBatchRequest(ctx context.Context, req *ingest.BatchRequest) (*ingest.BatchResponse, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal batch request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", w.BaseURL+"/ingest/batch", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	token, err := w.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get JWT token: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := w.HTTP.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	var batchResp ingest.BatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&batchResp); err != nil {
		return nil, fmt.Errorf("failed to decode batch response: %w", err)
	}
	return &batchResp, nil
}

// CheckClock fetches trusted server time, records a clock sample, and raises
// the drift alert when the offset exceeds the journal's threshold.
func (w *Worker) CheckClock(ctx context.Context) (int64, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", w.BaseURL+"/ingest/time", nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	token, err := w.Token(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get JWT token: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := w.HTTP.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch server time: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	var timeResp ingest.ServerTimeResponse
	if err := json.NewDecoder(resp.Body).Decode(&timeResp); err != nil {
		return 0, fmt.Errorf("failed to decode server time: %w", err)
	}

	offsetMs, err := w.Journal.RecordClockSync(ctx, time.Now(), timeResp.ServerTime)
	if err != nil {
		return 0, fmt.Errorf("failed to record clock sync: %w", err)
	}

	exceeded, err := w.Journal.ClockOffsetExceeded(ctx)
	if err != nil {
		return offsetMs, err
	}
	if exceeded && w.OnDriftAlert != nil {
		w.OnDriftAlert(offsetMs)
	}
	return offsetMs, nil
}
