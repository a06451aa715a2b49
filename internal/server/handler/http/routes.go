// Package http provides HTTP routing and middleware configuration
// for the HealthSync service.
package http

import (
	"net/http"

	"github.com/atinyakov/HealthSync/internal/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// NewRouter constructs and returns an HTTP handler that serves
// the HealthSync API.
//
// Routes:
//
//	GET    /metrics                  → Prometheus metrics
//	POST   /api/users                → authHandler.Register
//	GET    /api/me                   → authHandler.Me
//	POST   /api/sync                 → syncHandler.Sync
//	GET    /api/changes              → syncHandler.Changes
//	DELETE /api/records/{kind}/{id}  → recordHandler.Delete
//
// Middleware chain (applied in order):
//  1. AllowContentType("application/json") rejects non-JSON bodies
//  2. WithRequestLogging(logger) logs incoming requests
//  3. Authenticate(tokens) verifies the bearer token on /api
//  4. ResolveUser(authHandler.AuthService) maps the token subject to a user
func NewRouter(
	authHandler *AuthHandler,
	syncHandler *SyncHandler,
	recordHandler *RecordHandler,
	tokens middleware.TokenConfig,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Only allow requests with Content-Type: application/json
	r.Use(chiMiddleware.AllowContentType("application/json"))

	// Log each request and its metadata
	r.Use(middleware.WithRequestLogging(logger))

	r.Handle("/metrics", promhttp.Handler())

	// Mount API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Authenticate(tokens))

		// Registration only needs a valid token
		r.Post("/users", authHandler.Register)

		// Protected group: requires a registered user
		r.Group(func(r chi.Router) {
			r.Use(middleware.ResolveUser(authHandler.AuthService))
			r.Get("/me", authHandler.Me)
			r.Post("/sync", syncHandler.Sync)
			r.Get("/changes", syncHandler.Changes)
			r.Delete("/records/{kind}/{id}", recordHandler.Delete)
		})
	})

	return r
}
