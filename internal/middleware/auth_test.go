package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/atinyakov/HealthSync/internal/models"
	"github.com/golang-jwt/jwt/v5"
)

var testCfg = TokenConfig{Secret: "test-secret", Issuer: "https://clerk.example"}

func sign(t *testing.T, secret string, claims jwt.RegisteredClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

func validClaims() jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Subject:   "user_2abc",
		Issuer:    testCfg.Issuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
}

// dummyHandler is a placeholder that records if it was called and the context it received.
type dummyHandler struct {
	called bool
	ctx    context.Context
}

func (d *dummyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.called = true
	d.ctx = r.Context()
	w.WriteHeader(http.StatusOK)
}

func TestParseToken(t *testing.T) {
	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	wrongIssuer := validClaims()
	wrongIssuer.Issuer = "someone-else"
	noSubject := validClaims()
	noSubject.Subject = ""

	cases := []struct {
		name    string
		token   string
		wantErr error
	}{
		{"valid", sign(t, testCfg.Secret, validClaims()), nil},
		{"empty", "  ", ErrMissingToken},
		{"wrong secret", sign(t, "other", validClaims()), ErrInvalidToken},
		{"expired", sign(t, testCfg.Secret, expired), ErrInvalidToken},
		{"wrong issuer", sign(t, testCfg.Secret, wrongIssuer), ErrInvalidToken},
		{"no subject", sign(t, testCfg.Secret, noSubject), ErrInvalidToken},
		{"garbage", "a.b.c", ErrInvalidToken},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sub, err := ParseToken(tc.token, testCfg)
			if tc.wantErr == nil {
				if err != nil || sub != "user_2abc" {
					t.Fatalf("ParseToken = %q, %v; want user_2abc", sub, err)
				}
				return
			}
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("ParseToken error = %v; want %v", err, tc.wantErr)
			}
		})
	}
}

func TestParseToken_EmptySecretRejectsEverything(t *testing.T) {
	tok := sign(t, testCfg.Secret, validClaims())
	_, err := ParseToken(tok, TokenConfig{Issuer: testCfg.Issuer})
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v; want ErrInvalidToken", err)
	}
}

func TestAuthenticate_NoHeader(t *testing.T) {
	dummy := &dummyHandler{}
	h := Authenticate(testCfg)(dummy)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sync", nil))

	if dummy.called {
		t.Error("did not expect next handler to be called without a token")
	}
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestAuthenticate_NotBearer(t *testing.T) {
	dummy := &dummyHandler{}
	h := Authenticate(testCfg)(dummy)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/sync", nil)
	req.Header.Set("Authorization", "Basic Zm9vOmJhcg==")
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestAuthenticate_StoresClerkID(t *testing.T) {
	dummy := &dummyHandler{}
	h := Authenticate(testCfg)(dummy)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/sync", nil)
	req.Header.Set("Authorization", "Bearer "+sign(t, testCfg.Secret, validClaims()))
	h.ServeHTTP(rec, req)

	if !dummy.called {
		t.Fatal("expected next handler to be called")
	}
	if got := GetClerkIDFromContext(dummy.ctx); got != "user_2abc" {
		t.Errorf("clerk id = %q; want user_2abc", got)
	}
}

type fakeUsers struct {
	user *models.User
	err  error
}

func (f fakeUsers) FindByClerkID(ctx context.Context, clerkID string) (*models.User, error) {
	return f.user, f.err
}

func TestResolveUser(t *testing.T) {
	cases := []struct {
		name     string
		clerkID  string
		users    fakeUsers
		wantCode int
		wantUser string
	}{
		{"resolved", "user_2abc", fakeUsers{user: &models.User{ID: "u-1", ClerkID: "user_2abc"}}, http.StatusOK, "u-1"},
		{"not registered", "user_2abc", fakeUsers{err: models.ErrNotFound}, http.StatusForbidden, ""},
		{"lookup failure", "user_2abc", fakeUsers{err: errors.New("db down")}, http.StatusInternalServerError, ""},
		{"unauthenticated", "", fakeUsers{}, http.StatusUnauthorized, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dummy := &dummyHandler{}
			h := ResolveUser(tc.users)(dummy)
			req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
			if tc.clerkID != "" {
				req = req.WithContext(WithClerkID(req.Context(), tc.clerkID))
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tc.wantCode {
				t.Fatalf("status = %d; want %d", rec.Code, tc.wantCode)
			}
			if tc.wantUser != "" && GetUserIDFromContext(dummy.ctx) != tc.wantUser {
				t.Errorf("user id = %q; want %q", GetUserIDFromContext(dummy.ctx), tc.wantUser)
			}
		})
	}
}

func TestGetUserIDFromContext_Empty(t *testing.T) {
	if got := GetUserIDFromContext(context.Background()); got != "" {
		t.Errorf("expected empty user id, got %q", got)
	}
}
