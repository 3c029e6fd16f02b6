// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package http

import (
	"net/http"

	"github.com/slopbox/slopbox/internal/api"
	"github.com/slopbox/slopbox/internal/models"
)

// Attach a messaging channel to the agent. One channel per kind; the
// credentials blob is stored verbatim and never echoed back.
func (a *httpAPI) addChannel(w http.ResponseWriter, r *http.Request) error {
	user, err := requestUser(r)
	if err != nil {
		return err
	}
	agent, err := a.lifecycle.OwnedAgent(user.ID, r.PathValue("id"))
	if err != nil {
		return err
	}
	req, err := decode[api.AddChannelRequest](r)
	if err != nil {
		return err
	}
	if !models.IsValidChannelKind(req.ChannelKind) {
		return api.BadRequest("unknown channel kind: " + req.ChannelKind)
	}
	if _, err := models.GetChannelByAgentAndKind(a.db, agent.ID, req.ChannelKind); err == nil {
		return api.Conflict("agent already has a " + req.ChannelKind + " channel")
	}
	channel, err := models.InsertAgentChannel(a.db, agent.ID, req.ChannelKind, string(req.Credentials))
	if err != nil {
		return err
	}
	api.WriteJSON(w, http.StatusCreated, channel)
	return nil
}

func (a *httpAPI) listChannels(w http.ResponseWriter, r *http.Request) error {
	user, err := requestUser(r)
	if err != nil {
		return err
	}
	agent, err := a.lifecycle.OwnedAgent(user.ID, r.PathValue("id"))
	if err != nil {
		return err
	}
	channels, err := models.ListChannelsForAgent(a.db, agent.ID)
	if err != nil {
		return err
	}
	if channels == nil {
		channels = []models.AgentChannel{} // render [] instead of null
	}
	api.WriteJSON(w, http.StatusOK, channels)
	return nil
}

// Detach a channel. Removing a kind the agent does not have succeeds
// silently.
func (a *httpAPI) removeChannel(w http.ResponseWriter, r *http.Request) error {
	user, err := requestUser(r)
	if err != nil {
		return err
	}
	agent, err := a.lifecycle.OwnedAgent(user.ID, r.PathValue("id"))
	if err != nil {
		return err
	}
	kind := r.PathValue("kind")
	if !models.IsValidChannelKind(kind) {
		return api.BadRequest("unknown channel kind: " + kind)
	}
	if err := models.DeleteChannelByAgentAndKind(a.db, agent.ID, kind); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}
