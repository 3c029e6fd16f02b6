// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/slopbox/slopbox/internal/db"
)

// Logical end-user construct owning at most one VPS. The gateway token
// authenticates both the forward proxy and the in-VPS gateway.
type Agent struct {
	ID           string    `json:"id" db:"id,primarykey"`
	UserID       string    `json:"user_id" db:"user_id"`
	VpsID        *string   `json:"vps_id" db:"vps_id"`
	Name         string    `json:"name" db:"name"`
	GatewayToken string    `json:"-" db:"gateway_token"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// Table in which the agents are stored.
func (Agent) TableName() string { return "agents" }

// Insert a new agent with a generated id and gateway token.
func InsertAgent(d db.DB, userID, name string) (Agent, error) {
	now := time.Now().UTC()
	agent := Agent{
		ID:           uuid.NewString(),
		UserID:       userID,
		Name:         name,
		GatewayToken: randomHexToken(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := d.Insert(&agent); err != nil {
		return Agent{}, err
	}
	return agent, nil
}

func GetAgentByID(d db.DB, id string) (Agent, error) {
	var agent Agent
	err := d.SelectOne(&agent, "SELECT * FROM agents WHERE id = :id", map[string]any{"id": id})
	return agent, err
}

// Look up an agent by id and exact gateway token match. Used by the
// forward proxy to authenticate Basic credentials.
func GetAgentByIDAndToken(d db.DB, id, token string) (Agent, error) {
	var agent Agent
	err := d.SelectOne(&agent,
		"SELECT * FROM agents WHERE id = :id AND gateway_token = :token",
		map[string]any{"id": id, "token": token},
	)
	return agent, err
}

func ListAgentsForUser(d db.DB, userID string) ([]Agent, error) {
	var agents []Agent
	_, err := d.Select(&agents,
		"SELECT * FROM agents WHERE user_id = :user_id ORDER BY created_at",
		map[string]any{"user_id": userID},
	)
	return agents, err
}

func ListAllAgents(d db.DB) ([]Agent, error) {
	var agents []Agent
	_, err := d.Select(&agents, "SELECT * FROM agents ORDER BY created_at")
	return agents, err
}

// Agents currently attached to the given VPS. At most one in practice,
// but destruction detaches all matches to be safe.
func ListAgentsByVpsID(d db.DB, vpsID string) ([]Agent, error) {
	var agents []Agent
	_, err := d.Select(&agents,
		"SELECT * FROM agents WHERE vps_id = :vps_id",
		map[string]any{"vps_id": vpsID},
	)
	return agents, err
}

func CountAgentsForUser(d db.DB, userID string) (int, error) {
	count, err := d.SelectInt(
		"SELECT COUNT(*) FROM agents WHERE user_id = :user_id",
		map[string]any{"user_id": userID},
	)
	return int(count), err
}

// Attach or detach (nil) the agent's VPS.
func AssignAgentVps(d db.DB, agentID string, vpsID *string) error {
	_, err := d.Exec(
		"UPDATE agents SET vps_id = :vps_id, updated_at = :now WHERE id = :id",
		map[string]any{"vps_id": vpsID, "now": time.Now().UTC(), "id": agentID},
	)
	return err
}

func DeleteAgent(d db.DB, id string) error {
	_, err := d.Exec("DELETE FROM agents WHERE id = :id", map[string]any{"id": id})
	return err
}

// Replace the agent's gateway token with a fresh one and return it.
// Traffic authenticated with the previous token is rejected afterwards.
func RotateAgentGatewayToken(d db.DB, id string) (string, error) {
	token := randomHexToken()
	_, err := d.Exec(
		"UPDATE agents SET gateway_token = :token, updated_at = :now WHERE id = :id",
		map[string]any{"token": token, "now": time.Now().UTC(), "id": id},
	)
	if err != nil {
		return "", err
	}
	return token, nil
}
