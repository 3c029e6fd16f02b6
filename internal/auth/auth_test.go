// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/slopbox/slopbox/internal/conf"
	"github.com/slopbox/slopbox/internal/db"
	"github.com/slopbox/slopbox/internal/models"
	testlibDB "github.com/slopbox/slopbox/testlib/db"
)

const testSecret = "test-secret"

func TestTokenRoundTrip(t *testing.T) {
	token, err := MintToken(testSecret, "user-123", time.Hour)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	userID, err := VerifyToken(testSecret, token)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if userID != "user-123" {
		t.Errorf("expected user-123, got %s", userID)
	}
}

func TestTokenExpired(t *testing.T) {
	token, err := MintToken(testSecret, "user-123", -time.Hour)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if _, err := VerifyToken(testSecret, token); err == nil {
		t.Error("expected an error for an expired token")
	}
}

func TestTokenBadSignature(t *testing.T) {
	token, err := MintToken("other-secret", "user-123", time.Hour)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if _, err := VerifyToken(testSecret, token); err == nil {
		t.Error("expected an error for a token signed with another secret")
	}
}

func TestTokenGarbage(t *testing.T) {
	if _, err := VerifyToken(testSecret, "not.a.token"); err == nil {
		t.Error("expected an error for a malformed token")
	}
}

func TestRequestToken(t *testing.T) {
	header := httptest.NewRequest(http.MethodGet, "/ws", nil)
	header.Header.Set("Authorization", "Bearer from-header")
	if token, ok := RequestToken(header); !ok || token != "from-header" {
		t.Errorf("expected header token, got %q (%v)", token, ok)
	}

	query := httptest.NewRequest(http.MethodGet, "/ws?token=from-query", nil)
	if token, ok := RequestToken(query); !ok || token != "from-query" {
		t.Errorf("expected query token, got %q (%v)", token, ok)
	}

	neither := httptest.NewRequest(http.MethodGet, "/ws", nil)
	if _, ok := RequestToken(neither); ok {
		t.Error("expected no token")
	}
}

func setupMiddleware(t *testing.T) (*Middleware, db.DB, func()) {
	dbEnv := testlibDB.SetupDBEnv(t)
	d := db.DB{DbMap: dbEnv.DbMap}
	if err := d.CreateTable(models.AddTables(d)...); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	m := NewMiddleware(d, conf.AuthConfig{JWTSecret: testSecret})
	return m, d, dbEnv.Close
}

func insertUserWithStatus(t *testing.T, d db.DB, email string, status models.UserStatus) models.User {
	t.Helper()
	user, err := models.InsertUser(d, email, nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := models.SetUserStatus(d, user.ID, status); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	user.Status = status
	return user
}

func bearerFor(t *testing.T, userID string) string {
	t.Helper()
	token, err := MintToken(testSecret, userID, time.Hour)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	return "Bearer " + token
}

func TestAuthenticatedMiddleware(t *testing.T) {
	m, d, closeDB := setupMiddleware(t)
	defer closeDB()
	user := insertUserWithStatus(t, d, "auth@example.com", models.UserStatusActive)

	var gotUser models.User
	handler := m.Authenticated(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, _ = UserFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/agents", nil)
	req.Header.Set("Authorization", bearerFor(t, user.ID))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if gotUser.ID != user.ID {
		t.Errorf("expected user %s in context, got %s", user.ID, gotUser.ID)
	}
}

func TestAuthenticatedMiddlewareRejects(t *testing.T) {
	m, _, closeDB := setupMiddleware(t)
	defer closeDB()

	unknownUserToken, err := MintToken(testSecret, "ffffffff-0000-0000-0000-000000000000", time.Hour)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	tests := []struct {
		name   string
		header string
	}{
		{"missing token", ""},
		{"garbage token", "Bearer junk"},
		{"unknown user", "Bearer " + unknownUserToken},
	}
	handler := m.Authenticated(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run for unauthenticated requests")
	}))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/agents", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("expected 401, got %d", rec.Code)
			}
		})
	}
}

func TestRequireActive(t *testing.T) {
	m, d, closeDB := setupMiddleware(t)
	defer closeDB()
	pending := insertUserWithStatus(t, d, "pending@example.com", models.UserStatusPending)
	active := insertUserWithStatus(t, d, "active@example.com", models.UserStatusActive)

	handler := m.Authenticated(m.RequireActive(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	req := httptest.NewRequest(http.MethodPost, "/agents", nil)
	req.Header.Set("Authorization", bearerFor(t, pending.ID))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for pending user, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if body["error"] != "forbidden: user is not active" {
		t.Errorf("unexpected error message %q", body["error"])
	}

	req = httptest.NewRequest(http.MethodPost, "/agents", nil)
	req.Header.Set("Authorization", bearerFor(t, active.ID))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for active user, got %d", rec.Code)
	}
}

func TestRequireAdmin(t *testing.T) {
	m, d, closeDB := setupMiddleware(t)
	defer closeDB()
	user := insertUserWithStatus(t, d, "user@example.com", models.UserStatusActive)
	admin := insertUserWithStatus(t, d, "admin@example.com", models.UserStatusActive)
	if err := models.SetUserRole(d, admin.ID, models.UserRoleAdmin); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	handler := m.Authenticated(m.RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	req := httptest.NewRequest(http.MethodGet, "/admin/users", nil)
	req.Header.Set("Authorization", bearerFor(t, user.ID))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for non-admin, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/admin/users", nil)
	req.Header.Set("Authorization", bearerFor(t, admin.ID))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for admin, got %d", rec.Code)
	}
}

func TestCORS(t *testing.T) {
	handler := CORS("http://localhost:3000", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	preflight := httptest.NewRequest(http.MethodOptions, "/agents", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, preflight)
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204 preflight, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("unexpected allow-origin %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Errorf("unexpected allow-credentials %q", got)
	}

	get := httptest.NewRequest(http.MethodGet, "/agents", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, get)
	if rec.Code != http.StatusOK {
		t.Errorf("expected wrapped handler to run, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("unexpected allow-origin %q", got)
	}
}
