// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package models

import (
	"testing"
)

func TestInsertAgentGeneratesToken(t *testing.T) {
	d, closeDB := setupDB(t)
	defer closeDB()

	agent, err := InsertAgent(d, "user-1", "my-agent")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(agent.GatewayToken) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(agent.GatewayToken))
	}
	if agent.VpsID != nil {
		t.Error("expected no vps attached")
	}
}

func TestGetAgentByIDAndToken(t *testing.T) {
	d, closeDB := setupDB(t)
	defer closeDB()

	agent, err := InsertAgent(d, "user-1", "my-agent")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	got, err := GetAgentByIDAndToken(d, agent.ID, agent.GatewayToken)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got.ID != agent.ID {
		t.Errorf("expected id %s, got %s", agent.ID, got.ID)
	}

	if _, err := GetAgentByIDAndToken(d, agent.ID, "wrong-token"); err == nil {
		t.Error("expected error for wrong token")
	}
}

func TestRotateAgentGatewayToken(t *testing.T) {
	d, closeDB := setupDB(t)
	defer closeDB()

	agent, err := InsertAgent(d, "user-1", "my-agent")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	token, err := RotateAgentGatewayToken(d, agent.ID)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if token == agent.GatewayToken {
		t.Error("expected a fresh token")
	}

	// The old token no longer authenticates.
	if _, err := GetAgentByIDAndToken(d, agent.ID, agent.GatewayToken); err == nil {
		t.Error("expected old token to be rejected")
	}
	if _, err := GetAgentByIDAndToken(d, agent.ID, token); err != nil {
		t.Errorf("expected new token to authenticate, got %v", err)
	}
}

func TestAssignAgentVps(t *testing.T) {
	d, closeDB := setupDB(t)
	defer closeDB()

	agent, err := InsertAgent(d, "user-1", "my-agent")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	vpsID := "vps-1"
	if err := AssignAgentVps(d, agent.ID, &vpsID); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	got, err := GetAgentByID(d, agent.ID)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got.VpsID == nil || *got.VpsID != vpsID {
		t.Errorf("expected vps id %s, got %v", vpsID, got.VpsID)
	}

	if err := AssignAgentVps(d, agent.ID, nil); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	got, err = GetAgentByID(d, agent.ID)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got.VpsID != nil {
		t.Errorf("expected vps id to be nulled, got %v", got.VpsID)
	}
}

func TestCountAgentsForUser(t *testing.T) {
	d, closeDB := setupDB(t)
	defer closeDB()

	for range 3 {
		if _, err := InsertAgent(d, "user-1", "agent"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
	}
	if _, err := InsertAgent(d, "user-2", "agent"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	count, err := CountAgentsForUser(d, "user-1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3 agents, got %d", count)
	}
}

func TestListAgentsByVpsID(t *testing.T) {
	d, closeDB := setupDB(t)
	defer closeDB()

	agent, err := InsertAgent(d, "user-1", "my-agent")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if _, err := InsertAgent(d, "user-1", "other-agent"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	vpsID := "vps-1"
	if err := AssignAgentVps(d, agent.ID, &vpsID); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	attached, err := ListAgentsByVpsID(d, vpsID)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(attached) != 1 || attached[0].ID != agent.ID {
		t.Errorf("expected only the attached agent, got %v", attached)
	}

	all, err := ListAllAgents(d)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 agents, got %d", len(all))
	}
}

func TestDeleteAgent(t *testing.T) {
	d, closeDB := setupDB(t)
	defer closeDB()

	agent, err := InsertAgent(d, "user-1", "my-agent")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := DeleteAgent(d, agent.ID); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if _, err := GetAgentByID(d, agent.ID); err == nil {
		t.Error("expected agent to be gone")
	}
}
