package http

import (
	"context"
	"net/http"

	"github.com/atinyakov/HealthSync/internal/middleware"
	"github.com/atinyakov/HealthSync/internal/models"
	"github.com/go-chi/chi/v5"
)

// TombstoneService soft-deletes records.
type TombstoneService interface {
	MarkDeleted(ctx context.Context, userID string, ref models.Ref) (models.Record, error)
}

// RecordHandler handles direct record mutations outside a sync cycle.
type RecordHandler struct {
	Tombstones TombstoneService
}

// Delete handles DELETE /api/records/{kind}/{id}. It responds with the
// tombstone. An unknown kind is reported as not found.
func (h *RecordHandler) Delete(w http.ResponseWriter, r *http.Request) {
	kind, err := models.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, http.StatusNotFound, CodeNotFound, err.Error())
		return
	}
	ref := models.Ref{Kind: kind, ID: chi.URLParam(r, "id")}

	tomb, err := h.Tombstones.MarkDeleted(r.Context(), middleware.GetUserIDFromContext(r.Context()), ref)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tomb)
}
