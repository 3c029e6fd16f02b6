// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package models

import (
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/slopbox/slopbox/internal/db"
)

// Channel kinds that can be attached to an agent.
var ValidChannelKinds = []string{"telegram", "whatsapp", "discord", "slack", "signal"}

func IsValidChannelKind(kind string) bool {
	return slices.Contains(ValidChannelKinds, kind)
}

// Messaging channel attached to an agent. Credentials hold the raw JSON
// the user supplied and are never echoed back through the API. At most
// one channel of each kind per agent.
type AgentChannel struct {
	ID            string    `json:"id" db:"id,primarykey"`
	AgentID       string    `json:"agent_id" db:"agent_id"`
	ChannelKind   string    `json:"channel_kind" db:"channel_kind"`
	Credentials   string    `json:"-" db:"credentials"`
	Enabled       bool      `json:"enabled" db:"enabled"`
	WebhookSecret string    `json:"-" db:"webhook_secret"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// Table in which the agent channels are stored.
func (AgentChannel) TableName() string { return "agent_channels" }

// Insert a new channel with a generated id and webhook secret.
func InsertAgentChannel(d db.DB, agentID, channelKind, credentials string) (AgentChannel, error) {
	now := time.Now().UTC()
	channel := AgentChannel{
		ID:            uuid.NewString(),
		AgentID:       agentID,
		ChannelKind:   channelKind,
		Credentials:   credentials,
		Enabled:       true,
		WebhookSecret: randomHexToken(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := d.Insert(&channel); err != nil {
		return AgentChannel{}, err
	}
	return channel, nil
}

func GetChannelByAgentAndKind(d db.DB, agentID, channelKind string) (AgentChannel, error) {
	var channel AgentChannel
	err := d.SelectOne(&channel,
		"SELECT * FROM agent_channels WHERE agent_id = :agent_id AND channel_kind = :channel_kind",
		map[string]any{"agent_id": agentID, "channel_kind": channelKind},
	)
	return channel, err
}

func ListChannelsForAgent(d db.DB, agentID string) ([]AgentChannel, error) {
	var channels []AgentChannel
	_, err := d.Select(&channels,
		"SELECT * FROM agent_channels WHERE agent_id = :agent_id ORDER BY channel_kind",
		map[string]any{"agent_id": agentID},
	)
	return channels, err
}

func DeleteChannelByAgentAndKind(d db.DB, agentID, channelKind string) error {
	_, err := d.Exec(
		"DELETE FROM agent_channels WHERE agent_id = :agent_id AND channel_kind = :channel_kind",
		map[string]any{"agent_id": agentID, "channel_kind": channelKind},
	)
	return err
}
