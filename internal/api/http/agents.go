// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package http

import (
	"fmt"
	"net/http"

	"github.com/slopbox/slopbox/internal/api"
	"github.com/slopbox/slopbox/internal/models"
)

// Create an agent, gated on the user's plan agent limit.
func (a *httpAPI) createAgent(w http.ResponseWriter, r *http.Request) error {
	user, err := requestUser(r)
	if err != nil {
		return err
	}
	req, err := decode[api.CreateAgentRequest](r)
	if err != nil {
		return err
	}

	if user.PlanID == nil {
		return api.LimitExceeded("user has no plan")
	}
	plan, err := models.GetPlanByID(a.db, *user.PlanID)
	if err != nil {
		return err
	}
	count, err := models.CountAgentsForUser(a.db, user.ID)
	if err != nil {
		return err
	}
	if count >= plan.MaxAgents {
		return api.LimitExceeded(fmt.Sprintf("agent limit reached (%d/%d)", count, plan.MaxAgents))
	}

	agent, err := models.InsertAgent(a.db, user.ID, req.Name)
	if err != nil {
		return err
	}
	api.WriteJSON(w, http.StatusCreated, api.NewAgentResponse(agent, nil))
	return nil
}

func (a *httpAPI) listAgents(w http.ResponseWriter, r *http.Request) error {
	user, err := requestUser(r)
	if err != nil {
		return err
	}
	agents, err := models.ListAgentsForUser(a.db, user.ID)
	if err != nil {
		return err
	}
	responses := make([]api.AgentResponse, 0, len(agents))
	for _, agent := range agents {
		responses = append(responses, api.NewAgentResponse(agent, a.attachedVps(agent)))
	}
	api.WriteJSON(w, http.StatusOK, responses)
	return nil
}

func (a *httpAPI) getAgent(w http.ResponseWriter, r *http.Request) error {
	user, err := requestUser(r)
	if err != nil {
		return err
	}
	agent, err := a.lifecycle.OwnedAgent(user.ID, r.PathValue("id"))
	if err != nil {
		return err
	}
	api.WriteJSON(w, http.StatusOK, api.NewAgentResponse(agent, a.attachedVps(agent)))
	return nil
}

// Delete an agent, destroying its attached VPS first if one is alive.
func (a *httpAPI) deleteAgent(w http.ResponseWriter, r *http.Request) error {
	user, err := requestUser(r)
	if err != nil {
		return err
	}
	agent, err := a.lifecycle.OwnedAgent(user.ID, r.PathValue("id"))
	if err != nil {
		return err
	}
	if err := a.lifecycle.DeleteAgent(r.Context(), agent); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// Rotate the agent's gateway token. The new token is returned exactly
// once; the old one stops working everywhere at the same moment, so a
// running VPS keeps its injected copy until the next provision.
func (a *httpAPI) rotateToken(w http.ResponseWriter, r *http.Request) error {
	user, err := requestUser(r)
	if err != nil {
		return err
	}
	agent, err := a.lifecycle.OwnedAgent(user.ID, r.PathValue("id"))
	if err != nil {
		return err
	}
	token, err := models.RotateAgentGatewayToken(a.db, agent.ID)
	if err != nil {
		return err
	}
	api.WriteJSON(w, http.StatusOK, api.TokenResponse{GatewayToken: token})
	return nil
}

// Embedded VPS view for agent responses. Fetch failures degrade to a
// detached view instead of failing the whole listing.
func (a *httpAPI) attachedVps(agent models.Agent) *models.Vps {
	if agent.VpsID == nil {
		return nil
	}
	vps, err := models.GetVpsByID(a.db, *agent.VpsID)
	if err != nil {
		return nil
	}
	return &vps
}
