// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package http

import (
	"net/http"

	"github.com/slopbox/slopbox/internal/api"
)

// Rebuild the agent runtime config with the given overrides and push
// it onto the VPS.
func (a *httpAPI) updateConfig(w http.ResponseWriter, r *http.Request) error {
	user, err := requestUser(r)
	if err != nil {
		return err
	}
	req, err := decode[api.UpdateConfigRequest](r)
	if err != nil {
		return err
	}
	if err := a.lifecycle.PushConfig(r.Context(), user.ID, r.PathValue("id"), req.Model, req.ToolsDeny); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// Write an allowlisted workspace file onto the agent's VPS.
func (a *httpAPI) updateWorkspaceFile(w http.ResponseWriter, r *http.Request) error {
	user, err := requestUser(r)
	if err != nil {
		return err
	}
	req, err := decode[api.UpdateWorkspaceFileRequest](r)
	if err != nil {
		return err
	}
	err = a.lifecycle.PushWorkspaceFile(r.Context(),
		user.ID, r.PathValue("id"), r.PathValue("filename"), req.Content)
	if err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// Restart the agent runtime on its VPS.
func (a *httpAPI) restartAgent(w http.ResponseWriter, r *http.Request) error {
	user, err := requestUser(r)
	if err != nil {
		return err
	}
	if err := a.lifecycle.Restart(r.Context(), user.ID, r.PathValue("id")); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// Probe the in-vps gateway and report reachability.
func (a *httpAPI) agentHealth(w http.ResponseWriter, r *http.Request) error {
	user, err := requestUser(r)
	if err != nil {
		return err
	}
	reachable, err := a.lifecycle.Health(r.Context(), user.ID, r.PathValue("id"))
	if err != nil {
		return err
	}
	api.WriteJSON(w, http.StatusOK, api.HealthResponse{GatewayReachable: reachable})
	return nil
}
