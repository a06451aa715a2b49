package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/atinyakov/HealthSync/internal/models"
)

// Error codes returned in the body of failed requests.
const (
	CodeInvalidCursor = "INVALID_CURSOR"
	CodeStaleCursor   = "STALE_CURSOR"
	CodeNotFound      = "NOT_FOUND"
	CodeInvalidInput  = "INVALID_INPUT"
	CodeSyncFailed    = "SYNC_FAILED"
	CodeInternal      = "INTERNAL_ERROR"
)

// ErrorBody is the JSON shape of an error response.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// classify maps a service error to its HTTP status and code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrInvalidCursor):
		return http.StatusBadRequest, CodeInvalidCursor
	case errors.Is(err, models.ErrStaleCursor):
		return http.StatusConflict, CodeStaleCursor
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, models.ErrInvalidRecord):
		return http.StatusBadRequest, CodeInvalidInput
	case errors.Is(err, models.ErrSyncFailed):
		return http.StatusServiceUnavailable, CodeSyncFailed
	}
	return http.StatusInternalServerError, CodeInternal
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorBody{Code: code, Message: msg})
}

// writeServiceError reports err without leaking internal details.
func writeServiceError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	msg := err.Error()
	if code == CodeInternal {
		msg = "internal error"
	}
	writeError(w, status, code, msg)
}
