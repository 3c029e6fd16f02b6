// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package http binds the control plane api: the tenant surface for
// agents, vpses, channels and usage, the profile and catalog reads,
// the admin surface, and the gateway relay routes. Handlers return
// errors from the api taxonomy; the adapter renders them as json
// error bodies and feeds the request timer.
package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/slopbox/slopbox/internal/api"
	"github.com/slopbox/slopbox/internal/auth"
	"github.com/slopbox/slopbox/internal/db"
	"github.com/slopbox/slopbox/internal/gateway"
	"github.com/slopbox/slopbox/internal/lifecycle"
	"github.com/slopbox/slopbox/internal/models"
)

type HTTPAPI interface {
	// Bind the server handlers.
	Init(*http.ServeMux)
}

type httpAPI struct {
	db        db.DB
	lifecycle *lifecycle.Service
	gateway   *gateway.Handler
	mw        *auth.Middleware
	monitor   Monitor
}

func NewAPI(
	d db.DB,
	lc *lifecycle.Service,
	gw *gateway.Handler,
	mw *auth.Middleware,
	monitor Monitor,
) HTTPAPI {
	return &httpAPI{
		db:        d,
		lifecycle: lc,
		gateway:   gw,
		mw:        mw,
		monitor:   monitor,
	}
}

// Init the api mux and bind the handlers. Routes come in three tiers:
// authenticated, authenticated plus active status, and admin role. The
// gateway relay authenticates itself against the agent's token and is
// mounted without middleware.
func (a *httpAPI) Init(mux *http.ServeMux) {
	authed := func(fn handlerFunc) http.Handler {
		return a.mw.Authenticated(a.handle(fn))
	}
	active := func(fn handlerFunc) http.Handler {
		return a.mw.Authenticated(a.mw.RequireActive(a.handle(fn)))
	}
	admin := func(fn handlerFunc) http.Handler {
		return a.mw.Authenticated(a.mw.RequireAdmin(a.handle(fn)))
	}

	mux.HandleFunc("GET /health", a.health)

	// Tenant surface, gated on active status.
	mux.Handle("POST /agents", active(a.createAgent))
	mux.Handle("GET /agents", active(a.listAgents))
	mux.Handle("GET /agents/{id}", active(a.getAgent))
	mux.Handle("DELETE /agents/{id}", active(a.deleteAgent))
	mux.Handle("POST /agents/{id}/rotate-token", active(a.rotateToken))
	mux.Handle("POST /agents/{id}/vps", active(a.provisionVps))
	mux.Handle("DELETE /agents/{id}/vps", active(a.destroyVps))
	mux.Handle("POST /agents/{id}/vps/start", active(a.startVps))
	mux.Handle("POST /agents/{id}/vps/stop", active(a.stopVps))
	mux.Handle("POST /agents/{id}/channels", active(a.addChannel))
	mux.Handle("GET /agents/{id}/channels", active(a.listChannels))
	mux.Handle("DELETE /agents/{id}/channels/{kind}", active(a.removeChannel))
	mux.Handle("PUT /agents/{id}/config", active(a.updateConfig))
	mux.Handle("PUT /agents/{id}/workspace/{filename}", active(a.updateWorkspaceFile))
	mux.Handle("POST /agents/{id}/restart", active(a.restartAgent))
	mux.Handle("GET /agents/{id}/health", active(a.agentHealth))
	mux.Handle("GET /agents/{id}/usage", active(a.getUsage))
	mux.Handle("GET /users/me/overage-budget", active(a.getOverageBudget))
	mux.Handle("PUT /users/me/overage-budget", active(a.setOverageBudget))

	// Profile and catalog reads skip the active gate so pending users
	// can see where they stand.
	mux.Handle("GET /users/me", authed(a.getMe))
	mux.Handle("GET /plans", authed(a.listPlans))

	// Admin surface.
	mux.Handle("GET /admin/users", admin(a.listUsers))
	mux.Handle("PUT /admin/users/{id}/status", admin(a.setUserStatus))
	mux.Handle("PUT /admin/users/{id}/role", admin(a.setUserRole))
	mux.Handle("GET /admin/vpses", admin(a.listVpses))
	mux.Handle("POST /admin/vpses/{id}/stop", admin(a.adminStopVps))
	mux.Handle("POST /admin/vpses/{id}/destroy", admin(a.adminDestroyVps))
	mux.Handle("GET /admin/agents", admin(a.adminListAgents))
	mux.Handle("DELETE /admin/agents/{id}", admin(a.adminDeleteAgent))
	mux.Handle("GET /admin/vps-configs", admin(a.listVpsConfigs))
	mux.Handle("POST /admin/vps-configs", admin(a.createVpsConfig))
	mux.Handle("PUT /admin/vps-configs/{id}", admin(a.updateVpsConfig))
	mux.Handle("DELETE /admin/vps-configs/{id}", admin(a.deleteVpsConfig))
	mux.Handle("POST /admin/cleanup", admin(a.cleanup))

	// Gateway relay. The websocket route wins over the catch-all for
	// GET requests on the ws path.
	mux.HandleFunc("GET /agents/{id}/gateway/ws", a.gateway.ProxyWS)
	mux.HandleFunc("/agents/{id}/gateway/{path...}", a.gateway.ProxyHTTP)
}

// Handlers return taxonomy errors instead of writing error bodies
// themselves.
type handlerFunc func(http.ResponseWriter, *http.Request) error

// Adapter rendering handler errors as json bodies and timing the
// request under its route pattern.
func (a *httpAPI) handle(fn handlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		if err := fn(rec, r); err != nil {
			apiErr := api.AsError(err)
			if apiErr.Status >= http.StatusInternalServerError {
				slog.Error("request failed",
					"method", r.Method, "path", r.URL.Path, "error", err)
			}
			api.WriteError(rec, apiErr)
		}
		a.monitor.observe(r.Method, r.Pattern, rec.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Decode the request body into the given request type.
func decode[T any](r *http.Request) (T, error) {
	var req T
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, api.BadRequest("failed to decode request body")
	}
	return req, nil
}

// The authenticated user placed in the context by the middleware.
func requestUser(r *http.Request) (models.User, error) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		return models.User{}, api.Unauthorized()
	}
	return user, nil
}

// Liveness probe, public and body-less.
func (a *httpAPI) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
