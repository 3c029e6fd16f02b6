// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package http

import (
	"net/http"

	"github.com/slopbox/slopbox/internal/api"
	"github.com/slopbox/slopbox/internal/models"
)

func (a *httpAPI) listUsers(w http.ResponseWriter, r *http.Request) error {
	users, err := models.ListUsers(a.db)
	if err != nil {
		return err
	}
	if users == nil {
		users = []models.User{} // render [] instead of null
	}
	api.WriteJSON(w, http.StatusOK, users)
	return nil
}

// Set a user's status. Activating a user without a plan auto-assigns
// the plan named "demo" when one exists, so fresh signups land on the
// trial tier without a second admin call.
func (a *httpAPI) setUserStatus(w http.ResponseWriter, r *http.Request) error {
	req, err := decode[api.SetUserStatusRequest](r)
	if err != nil {
		return err
	}
	switch req.Status {
	case models.UserStatusPending, models.UserStatusActive, models.UserStatusSuspended:
	default:
		return api.BadRequest("unknown user status: " + string(req.Status))
	}

	user, err := models.GetUserByID(a.db, r.PathValue("id"))
	if err != nil {
		return err
	}
	if req.Status == models.UserStatusActive && user.PlanID == nil {
		if demo, err := models.GetPlanByName(a.db, "demo"); err == nil {
			if err := models.SetUserPlan(a.db, user.ID, &demo.ID); err != nil {
				return err
			}
		}
	}
	if err := models.SetUserStatus(a.db, user.ID, req.Status); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (a *httpAPI) setUserRole(w http.ResponseWriter, r *http.Request) error {
	req, err := decode[api.SetUserRoleRequest](r)
	if err != nil {
		return err
	}
	switch req.Role {
	case models.UserRoleUser, models.UserRoleAdmin:
	default:
		return api.BadRequest("unknown user role: " + string(req.Role))
	}

	user, err := models.GetUserByID(a.db, r.PathValue("id"))
	if err != nil {
		return err
	}
	if err := models.SetUserRole(a.db, user.ID, req.Role); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (a *httpAPI) listVpses(w http.ResponseWriter, r *http.Request) error {
	vpses, err := models.ListAllVpses(a.db)
	if err != nil {
		return err
	}
	responses := make([]api.AdminVpsResponse, 0, len(vpses))
	for _, vps := range vpses {
		responses = append(responses, api.NewAdminVpsResponse(vps))
	}
	api.WriteJSON(w, http.StatusOK, responses)
	return nil
}

func (a *httpAPI) adminStopVps(w http.ResponseWriter, r *http.Request) error {
	vps, err := models.GetVpsByID(a.db, r.PathValue("id"))
	if err != nil {
		return err
	}
	if err := a.lifecycle.AdminStopVps(r.Context(), vps); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (a *httpAPI) adminDestroyVps(w http.ResponseWriter, r *http.Request) error {
	vps, err := models.GetVpsByID(a.db, r.PathValue("id"))
	if err != nil {
		return err
	}
	if err := a.lifecycle.DestroyVps(r.Context(), vps); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (a *httpAPI) adminListAgents(w http.ResponseWriter, r *http.Request) error {
	agents, err := models.ListAllAgents(a.db)
	if err != nil {
		return err
	}
	if agents == nil {
		agents = []models.Agent{} // render [] instead of null
	}
	api.WriteJSON(w, http.StatusOK, agents)
	return nil
}

func (a *httpAPI) adminDeleteAgent(w http.ResponseWriter, r *http.Request) error {
	agent, err := models.GetAgentByID(a.db, r.PathValue("id"))
	if err != nil {
		return api.NotFound()
	}
	if err := a.lifecycle.DeleteAgent(r.Context(), agent); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (a *httpAPI) listVpsConfigs(w http.ResponseWriter, r *http.Request) error {
	configs, err := models.ListVpsConfigs(a.db)
	if err != nil {
		return err
	}
	if configs == nil {
		configs = []models.VpsConfig{} // render [] instead of null
	}
	api.WriteJSON(w, http.StatusOK, configs)
	return nil
}

func (a *httpAPI) createVpsConfig(w http.ResponseWriter, r *http.Request) error {
	req, err := decode[api.CreateVpsConfigRequest](r)
	if err != nil {
		return err
	}
	config := models.VpsConfig{
		Name:          req.Name,
		Provider:      req.Provider,
		Image:         req.Image,
		Location:      req.Location,
		CPUMillicores: req.CPUMillicores,
		MemoryMB:      req.MemoryMB,
		DiskGB:        req.DiskGB,
	}
	if err := models.InsertVpsConfig(a.db, &config); err != nil {
		return err
	}
	api.WriteJSON(w, http.StatusCreated, config)
	return nil
}

// Partial update. Image and location distinguish absent from explicit
// null so they can be cleared.
func (a *httpAPI) updateVpsConfig(w http.ResponseWriter, r *http.Request) error {
	config, err := models.GetVpsConfigByID(a.db, r.PathValue("id"))
	if err != nil {
		return api.NotFound()
	}
	req, err := decode[api.UpdateVpsConfigRequest](r)
	if err != nil {
		return err
	}
	if req.Name != nil {
		config.Name = *req.Name
	}
	if req.Image.Set {
		config.Image = req.Image.Value
	}
	if req.Location.Set {
		config.Location = req.Location.Value
	}
	if req.CPUMillicores != nil {
		config.CPUMillicores = *req.CPUMillicores
	}
	if req.MemoryMB != nil {
		config.MemoryMB = *req.MemoryMB
	}
	if req.DiskGB != nil {
		config.DiskGB = *req.DiskGB
	}
	if err := models.UpdateVpsConfig(a.db, &config); err != nil {
		return err
	}
	api.WriteJSON(w, http.StatusOK, config)
	return nil
}

func (a *httpAPI) deleteVpsConfig(w http.ResponseWriter, r *http.Request) error {
	config, err := models.GetVpsConfigByID(a.db, r.PathValue("id"))
	if err != nil {
		return api.NotFound()
	}
	if err := models.DeleteVpsConfig(a.db, config.ID); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// Reap VPSes stuck in provisioning state and report how many.
func (a *httpAPI) cleanup(w http.ResponseWriter, r *http.Request) error {
	count, err := a.lifecycle.CleanupStuck(r.Context())
	if err != nil {
		return err
	}
	api.WriteJSON(w, http.StatusOK, api.CleanupResponse{CleanedUp: count})
	return nil
}
