// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"net/http"

	"github.com/slopbox/slopbox/internal/api"
	"github.com/slopbox/slopbox/internal/conf"
	"github.com/slopbox/slopbox/internal/db"
	"github.com/slopbox/slopbox/internal/models"
)

// Middleware authenticates api requests and enforces the user gates.
type Middleware struct {
	db     db.DB
	secret string
}

func NewMiddleware(d db.DB, config conf.AuthConfig) *Middleware {
	return &Middleware{db: d, secret: config.JWTSecret}
}

// Authenticated resolves the bearer token, loads the user, and attaches
// it to the request context. Bad tokens and unknown users answer 401.
func (m *Middleware) Authenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := BearerToken(r)
		if !ok {
			api.WriteError(w, api.Unauthorized())
			return
		}
		userID, err := VerifyToken(m.secret, token)
		if err != nil {
			api.WriteError(w, api.Unauthorized())
			return
		}
		user, err := models.GetUserByID(m.db, userID)
		if err != nil {
			api.WriteError(w, api.Unauthorized())
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
	})
}

// RequireActive rejects users that are not in active status. Profile
// and plan catalog reads skip this gate so pending users can see where
// they stand.
func (m *Middleware) RequireActive(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		if !ok {
			api.WriteError(w, api.Unauthorized())
			return
		}
		if user.Status != models.UserStatusActive {
			api.WriteError(w, api.Forbidden("user is not active"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin rejects users without the admin role.
func (m *Middleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		if !ok {
			api.WriteError(w, api.Unauthorized())
			return
		}
		if user.Role != models.UserRoleAdmin {
			api.WriteError(w, api.Forbidden("admin access required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CORS applies the cross-origin policy for the configured frontend
// origin. Preflight requests are answered without reaching the wrapped
// handler.
func CORS(origin string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, PATCH, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "authorization, content-type")
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Add("Vary", "Origin")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
