// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/plantops/edgesync/internal/auth"
)

// DeviceAuthenticator extracts site and device identity from HTTP requests.
// Implementations should validate auth (e.g., JWT) and provide both identifiers.
type DeviceAuthenticator interface {
	GetSiteID(r *http.Request) (string, error)
	GetDeviceID(r *http.Request) (string, error)
}

// HTTPHandlers provides HTTP handlers for the batch-ingest API
type HTTPHandlers struct {
	service       *Service
	authenticator DeviceAuthenticator
	logger        *slog.Logger
}

// NewHTTPHandlers creates a new instance of ingest handlers
func NewHTTPHandlers(service *Service, authenticator DeviceAuthenticator, logger *slog.Logger) *HTTPHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPHandlers{
		service:       service,
		authenticator: authenticator,
		logger:        logger,
	}
}

// RegisterRoutes attaches the ingest endpoints to a mux.
func (h *HTTPHandlers) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ingest/batch", h.HandleBatch)
	mux.HandleFunc("/ingest/time", h.HandleServerTime)
	mux.HandleFunc("/ingest/status", h.HandleStatus)
}

// HandleBatch processes signed event batch uploads
func (h *HTTPHandlers) HandleBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only POST method is allowed")
		return
	}

	deviceID, err := h.authenticator.GetDeviceID(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "authentication_failed", err.Error())
		return
	}
	siteID, err := h.authenticator.GetSiteID(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "authentication_failed", err.Error())
		return
	}

	var batchReq BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&batchReq); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Failed to parse batch request")
		return
	}

	ctx := auth.SetAuthContext(r.Context(), siteID, deviceID)
	response, err := h.service.ProcessBatch(ctx, deviceID, &batchReq)
	if err != nil {
		h.logger.Error("Failed to process batch", "error", err, "device_id", deviceID)
		h.writeError(w, http.StatusInternalServerError, "ingest_failed", "Failed to process batch")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err = json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("Failed to encode batch response", "error", err, "device_id", deviceID)
	}
}

// HandleServerTime returns the server clock for device drift checks.
// Authenticated so that an unauthenticated scanner learns nothing, and because
// the device trusts this clock enough to alert on it.
func (h *HTTPHandlers) HandleServerTime(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only GET method is allowed")
		return
	}

	if _, err := h.authenticator.GetDeviceID(r); err != nil {
		h.writeError(w, http.StatusUnauthorized, "authentication_failed", err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(ServerTimeResponse{ServerTime: time.Now().UTC()})
}

// HandleStatus reports service health and ingested event count
func (h *HTTPHandlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only GET method is allowed")
		return
	}

	count, err := h.service.EventCount(r.Context())
	status := "healthy"
	if err != nil {
		h.logger.Error("Failed to count events for status", "error", err)
		status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(StatusResponse{
		Status:     status,
		AppName:    "edgesync-ingest",
		EventCount: count,
	})
}

func (h *HTTPHandlers) writeError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:   errorCode,
		Message: message,
	})
}
