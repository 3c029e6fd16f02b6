// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"github.com/slopbox/slopbox/internal/models"
	"github.com/slopbox/slopbox/internal/mqtt"
)

// Topic on which vps state transitions are published.
const StateTopic = "slopbox/vps/state"

// Payload published on StateTopic after every state transition. AgentID
// is nil for transitions applied outside an agent context, e.g. admin
// stops or stuck-provisioning cleanup.
type StateEvent struct {
	VpsID   string          `json:"vps_id"`
	AgentID *string         `json:"agent_id"`
	UserID  string          `json:"user_id"`
	State   models.VpsState `json:"state"`
}

// PublishState announces a state transition. A nil client (no broker
// configured) drops the event.
func PublishState(client mqtt.Client, vps models.Vps, agentID *string, state models.VpsState) {
	if client == nil {
		return
	}
	client.Publish(StateTopic, StateEvent{
		VpsID:   vps.ID,
		AgentID: agentID,
		UserID:  vps.UserID,
		State:   state,
	})
}
