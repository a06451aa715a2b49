package http_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/atinyakov/HealthSync/internal/middleware"
	"github.com/atinyakov/HealthSync/internal/models"
	handler "github.com/atinyakov/HealthSync/internal/server/handler/http"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type routerUsers struct {
	users map[string]*models.User
}

func (u *routerUsers) FindByClerkID(ctx context.Context, clerkID string) (*models.User, error) {
	if user, ok := u.users[clerkID]; ok {
		return user, nil
	}
	return nil, models.ErrNotFound
}

func (u *routerUsers) RegisterUser(ctx context.Context, clerkID string) (*models.User, error) {
	user := &models.User{ID: "id-" + clerkID, ClerkID: clerkID}
	u.users[clerkID] = user
	return user, nil
}

var tokens = middleware.TokenConfig{Secret: "router-secret"}

func bearer(t *testing.T, subject string) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(tokens.Secret))
	require.NoError(t, err)
	return "Bearer " + tok
}

func newTestRouter(syncSvc *fakeSyncService) (http.Handler, *routerUsers) {
	users := &routerUsers{users: map[string]*models.User{}}
	r := handler.NewRouter(
		&handler.AuthHandler{AuthService: users},
		&handler.SyncHandler{SyncService: syncSvc},
		&handler.RecordHandler{Tombstones: &fakeTombstones{}},
		tokens,
		zap.NewNop(),
	)
	return r, users
}

func TestRouter_RequiresToken(t *testing.T) {
	r, _ := newTestRouter(&fakeSyncService{})

	req := httptest.NewRequest(http.MethodPost, "/api/sync", bytes.NewBufferString(`{"clientId":"phone"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRouter_RegisterThenSync(t *testing.T) {
	syncSvc := &fakeSyncService{result: emptyResult()}
	r, _ := newTestRouter(syncSvc)
	auth := bearer(t, "user_2abc")

	// Unregistered users are refused.
	req := httptest.NewRequest(http.MethodPost, "/api/sync", bytes.NewBufferString(`{"clientId":"phone"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", auth)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusForbidden, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/users", nil)
	req.Header.Set("Authorization", auth)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/sync", bytes.NewBufferString(`{"clientId":"phone"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", auth)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "id-user_2abc", syncSvc.receivedReq.UserID)
}

func TestRouter_RejectsNonJSONBody(t *testing.T) {
	r, _ := newTestRouter(&fakeSyncService{})

	req := httptest.NewRequest(http.MethodPost, "/api/sync", bytes.NewBufferString("clientId=phone"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
}

func TestRouter_ServesMetrics(t *testing.T) {
	r, _ := newTestRouter(&fakeSyncService{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}
