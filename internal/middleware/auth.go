// Package middleware provides HTTP middlewares for authentication and logging.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/atinyakov/HealthSync/internal/models"
	"github.com/golang-jwt/jwt/v5"
)

type ctxKey string

const (
	clerkKey ctxKey = "clerk"
	userKey  ctxKey = "user"
)

var (
	// ErrMissingToken is returned when the Authorization header is absent.
	ErrMissingToken = errors.New("missing bearer token")
	// ErrInvalidToken wraps parsing and validation failures.
	ErrInvalidToken = errors.New("invalid bearer token")
)

// TokenConfig holds the parameters used to verify identity provider tokens.
type TokenConfig struct {
	Secret string
	Issuer string
}

// ParseToken validates an HS256 token and returns its subject, the Clerk user id.
func ParseToken(token string, cfg TokenConfig) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrMissingToken
	}
	if cfg.Secret == "" {
		return "", fmt.Errorf("%w: no signing secret configured", ErrInvalidToken)
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		return []byte(cfg.Secret), nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// Authenticate is a middleware that validates the bearer token and stores
// the Clerk id from its subject in the request context.
func Authenticate(cfg TokenConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				http.Error(w, ErrMissingToken.Error(), http.StatusUnauthorized)
				return
			}
			if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
				http.Error(w, ErrInvalidToken.Error(), http.StatusUnauthorized)
				return
			}
			clerkID, err := ParseToken(header[len("Bearer "):], cfg)
			if err != nil {
				http.Error(w, ErrInvalidToken.Error(), http.StatusUnauthorized)
				return
			}
			ctx := WithClerkID(r.Context(), clerkID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserResolver maps a Clerk id to the internal user.
type UserResolver interface {
	FindByClerkID(ctx context.Context, clerkID string) (*models.User, error)
}

// ResolveUser is a middleware that looks up the internal user for the
// authenticated Clerk id. Authorization downstream uses only the internal id.
func ResolveUser(users UserResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clerkID := GetClerkIDFromContext(r.Context())
			if clerkID == "" {
				http.Error(w, ErrMissingToken.Error(), http.StatusUnauthorized)
				return
			}
			u, err := users.FindByClerkID(r.Context(), clerkID)
			if errors.Is(err, models.ErrNotFound) {
				http.Error(w, "user not registered", http.StatusForbidden)
				return
			}
			if err != nil {
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), u.ID)))
		})
	}
}

// WithUserID stores the internal user id on the context.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey, userID)
}

// WithClerkID stores the Clerk id on the context.
func WithClerkID(ctx context.Context, clerkID string) context.Context {
	return context.WithValue(ctx, clerkKey, clerkID)
}

// GetUserIDFromContext extracts the internal user id from the request context.
// Returns an empty string if not found.
func GetUserIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(userKey).(string); ok {
		return s
	}
	return ""
}

// GetClerkIDFromContext extracts the Clerk id from the request context.
// Returns an empty string if not found.
func GetClerkIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(clerkKey).(string); ok {
		return s
	}
	return ""
}
