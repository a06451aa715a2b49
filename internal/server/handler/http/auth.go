package http

import (
	"context"
	"net/http"

	"github.com/atinyakov/HealthSync/internal/middleware"
	"github.com/atinyakov/HealthSync/internal/models"
)

// AuthService defines the user operations required by the HTTP handlers.
type AuthService interface {
	// FindByClerkID returns the user mirrored for the identity provider subject.
	FindByClerkID(ctx context.Context, clerkID string) (*models.User, error)
	// RegisterUser mirrors the subject into the users table. It is idempotent.
	RegisterUser(ctx context.Context, clerkID string) (*models.User, error)
}

// AuthHandler handles HTTP requests for user registration and lookup.
type AuthHandler struct {
	// AuthService performs the underlying user operations.
	AuthService AuthService
}

// Register handles POST /api/users. The caller's identity comes from the
// bearer token; registering twice returns the same user.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	clerkID := middleware.GetClerkIDFromContext(r.Context())
	if clerkID == "" {
		http.Error(w, middleware.ErrMissingToken.Error(), http.StatusUnauthorized)
		return
	}

	u, err := h.AuthService.RegisterUser(r.Context(), clerkID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// Me handles GET /api/me and returns the resolved user.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	u, err := h.AuthService.FindByClerkID(r.Context(), middleware.GetClerkIDFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}
