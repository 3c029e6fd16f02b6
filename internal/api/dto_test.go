// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/slopbox/slopbox/internal/models"
)

func TestOptionalThreeStates(t *testing.T) {
	var req UpdateVpsConfigRequest
	if err := json.Unmarshal([]byte(`{"name":"small"}`), &req); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if req.Image.Set {
		t.Error("absent field must not be marked set")
	}

	req = UpdateVpsConfigRequest{}
	if err := json.Unmarshal([]byte(`{"image":null}`), &req); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if !req.Image.Set || req.Image.Value != nil {
		t.Errorf("explicit null must be set with nil value, got %+v", req.Image)
	}

	req = UpdateVpsConfigRequest{}
	if err := json.Unmarshal([]byte(`{"image":"debian-13"}`), &req); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if !req.Image.Set || req.Image.Value == nil || *req.Image.Value != "debian-13" {
		t.Errorf("expected set value debian-13, got %+v", req.Image)
	}
}

func TestUsageMetricBoundary(t *testing.T) {
	// Usage at exactly the limit is not exceeded.
	if NewUsageMetric(100, 100).Exceeded {
		t.Error("usage equal to the limit must not count as exceeded")
	}
	if !NewUsageMetric(101, 100).Exceeded {
		t.Error("usage above the limit must count as exceeded")
	}
	if NewUsageMetric(0, 0).Exceeded {
		t.Error("zero usage against a zero limit must not count as exceeded")
	}
}

func TestOverageBudgetResponsePeriodStart(t *testing.T) {
	budget := models.OverageBudget{
		UserID:      "u1",
		PeriodStart: time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
		BudgetCents: 1500,
	}
	resp := NewOverageBudgetResponse(budget)
	if resp.PeriodStart != "2025-07-01" {
		t.Errorf("expected date-only period start, got %q", resp.PeriodStart)
	}
	if resp.BudgetCents != 1500 {
		t.Errorf("unexpected budget %d", resp.BudgetCents)
	}
}

func TestNewAgentResponse(t *testing.T) {
	now := time.Now().UTC()
	vpsID := "vps-1"
	agent := models.Agent{
		ID:           "agent-1",
		UserID:       "user-1",
		VpsID:        &vpsID,
		Name:         "crawler",
		GatewayToken: "secret",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	addr := "203.0.113.7"
	vps := models.Vps{
		ID:          vpsID,
		UserID:      "user-1",
		VpsConfigID: "cfg-1",
		Name:        "agent-agent-1",
		Provider:    "hetzner",
		Address:     &addr,
		State:       models.VpsStateRunning,
	}

	resp := NewAgentResponse(agent, &vps)
	if resp.Vps == nil || resp.Vps.ID != vpsID {
		t.Fatalf("expected nested vps %q, got %+v", vpsID, resp.Vps)
	}

	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if _, ok := fields["gateway_token"]; ok {
		t.Error("agent response must not expose the gateway token")
	}

	bare := NewAgentResponse(agent, nil)
	if bare.Vps != nil {
		t.Error("expected nil vps when none is attached")
	}
}

func TestVpsResponseHidesInternals(t *testing.T) {
	vmID := "hcloud-123"
	cpu := int64(42)
	vps := models.Vps{
		ID:           "vps-1",
		UserID:       "user-1",
		VpsConfigID:  "cfg-1",
		Name:         "agent-agent-1",
		Provider:     "hetzner",
		ProviderVMID: &vmID,
		State:        models.VpsStateRunning,
		CPUUsedMs:    &cpu,
	}
	data, err := json.Marshal(NewVpsResponse(vps))
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	for _, hidden := range []string{"provider_vm_id", "user_id", "cpu_used_ms", "memory_used_mb_seconds"} {
		if _, ok := fields[hidden]; ok {
			t.Errorf("vps response must not expose %q", hidden)
		}
	}
	if fields["provider"] != "hetzner" {
		t.Errorf("expected provider hetzner, got %v", fields["provider"])
	}
}

func TestNewUserResponse(t *testing.T) {
	name := "Ada"
	user := models.User{ID: "user-1", Email: "ada@example.com", Name: &name, Role: models.UserRoleAdmin}
	plan := models.Plan{ID: "plan-1", Name: "demo", MaxAgents: 2}

	resp := NewUserResponse(user, &plan)
	if resp.Plan == nil || resp.Plan.Name != "demo" {
		t.Fatalf("expected nested plan demo, got %+v", resp.Plan)
	}

	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	// Role and status are admin-only details.
	for _, hidden := range []string{"role", "status", "plan_id"} {
		if _, ok := fields[hidden]; ok {
			t.Errorf("user response must not expose %q", hidden)
		}
	}

	planless := NewUserResponse(user, nil)
	if planless.Plan != nil {
		t.Error("expected nil plan when the user has none")
	}
}
