// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package http

import (
	"net/http"

	"github.com/slopbox/slopbox/internal/api"
)

// Provision a VPS for the agent from one of the plan's vps configs.
func (a *httpAPI) provisionVps(w http.ResponseWriter, r *http.Request) error {
	user, err := requestUser(r)
	if err != nil {
		return err
	}
	req, err := decode[api.ProvisionVpsRequest](r)
	if err != nil {
		return err
	}
	vps, err := a.lifecycle.Provision(r.Context(), user.ID, r.PathValue("id"), req.VpsConfigID)
	if err != nil {
		return err
	}
	api.WriteJSON(w, http.StatusCreated, api.NewVpsResponse(vps))
	return nil
}

func (a *httpAPI) startVps(w http.ResponseWriter, r *http.Request) error {
	user, err := requestUser(r)
	if err != nil {
		return err
	}
	vps, err := a.lifecycle.Start(r.Context(), user.ID, r.PathValue("id"))
	if err != nil {
		return err
	}
	api.WriteJSON(w, http.StatusOK, api.NewVpsResponse(vps))
	return nil
}

func (a *httpAPI) stopVps(w http.ResponseWriter, r *http.Request) error {
	user, err := requestUser(r)
	if err != nil {
		return err
	}
	vps, err := a.lifecycle.Stop(r.Context(), user.ID, r.PathValue("id"))
	if err != nil {
		return err
	}
	api.WriteJSON(w, http.StatusOK, api.NewVpsResponse(vps))
	return nil
}

func (a *httpAPI) destroyVps(w http.ResponseWriter, r *http.Request) error {
	user, err := requestUser(r)
	if err != nil {
		return err
	}
	if err := a.lifecycle.Destroy(r.Context(), user.ID, r.PathValue("id")); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}
