// Package http provides HTTP handlers for the sync API.
package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/atinyakov/HealthSync/internal/middleware"
	"github.com/atinyakov/HealthSync/internal/models"
	"github.com/atinyakov/HealthSync/internal/service"
)

// SyncService defines the interface for synchronization operations
// required by the SyncHandler.
type SyncService interface {
	// Sync runs one sync cycle for the authenticated user.
	Sync(ctx context.Context, req service.Request) (*service.Result, error)
	// Pull reads changes after the cursor without acknowledging them.
	Pull(ctx context.Context, userID, cursor string, limit int) (*service.Result, error)
}

// SyncHandler handles HTTP requests for record synchronization.
type SyncHandler struct {
	SyncService SyncService
}

// SyncRequest is the JSON body of POST /api/sync.
type SyncRequest struct {
	ClientID string          `json:"clientId"`
	Cursor   string          `json:"cursor"`
	Changes  []models.Record `json:"changes"`
}

// Sync handles POST /api/sync requests.
// It decodes the client's pending writes and cursor, runs a sync cycle
// and writes the service.Result as JSON.
func (h *SyncHandler) Sync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserIDFromContext(ctx)

	var req SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidInput, "invalid body")
		return
	}
	if req.ClientID == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidInput, "clientId is required")
		return
	}

	result, err := h.SyncService.Sync(ctx, service.Request{
		UserID:   userID,
		ClientID: req.ClientID,
		Cursor:   req.Cursor,
		Changes:  req.Changes,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Changes handles GET /api/changes?cursor=&limit= requests.
func (h *SyncHandler) Changes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserIDFromContext(ctx)

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, CodeInvalidInput, "invalid limit")
			return
		}
		limit = n
	}

	result, err := h.SyncService.Pull(ctx, userID, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
