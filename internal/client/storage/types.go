package storage

import "github.com/atinyakov/HealthSync/internal/models"

// fileState is the on-disk form of the local store. Maps are keyed by
// models.Ref.String().
type fileState struct {
	ClientID string `json:"clientId"`
	Cursor   string `json:"cursor"`
	// Resync is set when the server refused the cursor. The next sync
	// replays the whole change log and drops records it no longer holds.
	Resync  bool                     `json:"resync,omitempty"`
	Records map[string]models.Record `json:"records"`
	Pending map[string]models.Record `json:"pending"`
}

// syncRequest is the body of POST /api/sync.
type syncRequest struct {
	ClientID string          `json:"clientId"`
	Cursor   string          `json:"cursor"`
	Changes  []models.Record `json:"changes"`
}

type rejection struct {
	Ref    models.Ref `json:"ref"`
	Reason string     `json:"reason"`
}

// syncResponse is the body returned by POST /api/sync.
type syncResponse struct {
	Cursor   string          `json:"cursor"`
	HasMore  bool            `json:"hasMore"`
	Changes  []models.Record `json:"changes"`
	Applied  []models.Ref    `json:"applied"`
	Deferred []models.Ref    `json:"deferred"`
	Rejected []rejection     `json:"rejected"`
}

// errorBody is the JSON body of a failed API call.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
