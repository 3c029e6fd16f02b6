// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"encoding/json"
	"time"

	"github.com/slopbox/slopbox/internal/models"
)

// Three-state json field for patch requests. Absent fields keep Set
// false; an explicit null sets Set with a nil Value.
type Optional[T any] struct {
	Set   bool
	Value *T
}

func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	o.Set = true
	if string(data) == "null" {
		o.Value = nil
		return nil
	}
	return json.Unmarshal(data, &o.Value)
}

type CreateAgentRequest struct {
	Name string `json:"name"`
}

type ProvisionVpsRequest struct {
	VpsConfigID string `json:"vps_config_id"`
}

type SetOverageBudgetRequest struct {
	BudgetCents int64 `json:"budget_cents"`
}

// Credentials are stored verbatim and never echoed back.
type AddChannelRequest struct {
	ChannelKind string          `json:"channel_kind"`
	Credentials json.RawMessage `json:"credentials"`
}

type UpdateConfigRequest struct {
	Model     *string   `json:"model"`
	ToolsDeny *[]string `json:"tools_deny"`
}

type UpdateWorkspaceFileRequest struct {
	Content string `json:"content"`
}

type SetUserStatusRequest struct {
	Status models.UserStatus `json:"status"`
}

type SetUserRoleRequest struct {
	Role models.UserRole `json:"role"`
}

type CreateVpsConfigRequest struct {
	Name          string  `json:"name"`
	Provider      string  `json:"provider"`
	Image         *string `json:"image"`
	Location      *string `json:"location"`
	CPUMillicores int     `json:"cpu_millicores"`
	MemoryMB      int     `json:"memory_mb"`
	DiskGB        int     `json:"disk_gb"`
}

// Image and location distinguish "leave unchanged" (absent) from
// "clear" (explicit null), so they use Optional instead of a pointer.
type UpdateVpsConfigRequest struct {
	Name          *string          `json:"name"`
	Image         Optional[string] `json:"image"`
	Location      Optional[string] `json:"location"`
	CPUMillicores *int             `json:"cpu_millicores"`
	MemoryMB      *int             `json:"memory_mb"`
	DiskGB        *int             `json:"disk_gb"`
}

// Tenant view of a VPS. Provider VM ids and raw metric columns stay
// internal.
type VpsResponse struct {
	ID               string          `json:"id"`
	VpsConfigID      string          `json:"vps_config_id"`
	Name             string          `json:"name"`
	Provider         string          `json:"provider"`
	State            models.VpsState `json:"state"`
	Address          *string         `json:"address"`
	StorageUsedBytes int64           `json:"storage_used_bytes"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func NewVpsResponse(vps models.Vps) VpsResponse {
	return VpsResponse{
		ID:               vps.ID,
		VpsConfigID:      vps.VpsConfigID,
		Name:             vps.Name,
		Provider:         vps.Provider,
		State:            vps.State,
		Address:          vps.Address,
		StorageUsedBytes: vps.StorageUsedBytes,
		CreatedAt:        vps.CreatedAt,
		UpdatedAt:        vps.UpdatedAt,
	}
}

type AgentResponse struct {
	ID        string       `json:"id"`
	UserID    string       `json:"user_id"`
	Name      string       `json:"name"`
	Vps       *VpsResponse `json:"vps"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

func NewAgentResponse(agent models.Agent, vps *models.Vps) AgentResponse {
	resp := AgentResponse{
		ID:        agent.ID,
		UserID:    agent.UserID,
		Name:      agent.Name,
		CreatedAt: agent.CreatedAt,
		UpdatedAt: agent.UpdatedAt,
	}
	if vps != nil {
		vpsResp := NewVpsResponse(*vps)
		resp.Vps = &vpsResp
	}
	return resp
}

type PlanResponse struct {
	ID                              string `json:"id"`
	Name                            string `json:"name"`
	MaxAgents                       int    `json:"max_agents"`
	MaxVpses                        int    `json:"max_vpses"`
	MaxBandwidthBytes               int64  `json:"max_bandwidth_bytes"`
	MaxStorageBytes                 int64  `json:"max_storage_bytes"`
	MaxCPUMs                        int64  `json:"max_cpu_ms"`
	MaxMemoryMBSeconds              int64  `json:"max_memory_mb_seconds"`
	OverageBandwidthCostPerGBCents  int64  `json:"overage_bandwidth_cost_per_gb_cents"`
	OverageCPUCostPerHourCents      int64  `json:"overage_cpu_cost_per_hour_cents"`
	OverageMemoryCostPerGBHourCents int64  `json:"overage_memory_cost_per_gb_hour_cents"`
}

func NewPlanResponse(plan models.Plan) PlanResponse {
	return PlanResponse{
		ID:                              plan.ID,
		Name:                            plan.Name,
		MaxAgents:                       plan.MaxAgents,
		MaxVpses:                        plan.MaxVpses,
		MaxBandwidthBytes:               plan.MaxBandwidthBytes,
		MaxStorageBytes:                 plan.MaxStorageBytes,
		MaxCPUMs:                        plan.MaxCPUMs,
		MaxMemoryMBSeconds:              plan.MaxMemoryMBSeconds,
		OverageBandwidthCostPerGBCents:  plan.OverageBandwidthCostPerGBCents,
		OverageCPUCostPerHourCents:      plan.OverageCPUCostPerHourCents,
		OverageMemoryCostPerGBHourCents: plan.OverageMemoryCostPerGBHourCents,
	}
}

type UserResponse struct {
	ID        string        `json:"id"`
	Email     string        `json:"email"`
	Name      *string       `json:"name"`
	Plan      *PlanResponse `json:"plan"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

func NewUserResponse(user models.User, plan *models.Plan) UserResponse {
	resp := UserResponse{
		ID:        user.ID,
		Email:     user.Email,
		Name:      user.Name,
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	}
	if plan != nil {
		planResp := NewPlanResponse(*plan)
		resp.Plan = &planResp
	}
	return resp
}

type UsageMetric struct {
	Used     int64 `json:"used"`
	Limit    int64 `json:"limit"`
	Exceeded bool  `json:"exceeded"`
}

// A metric is exceeded strictly above its limit, never at it.
func NewUsageMetric(used, limit int64) UsageMetric {
	return UsageMetric{Used: used, Limit: limit, Exceeded: used > limit}
}

// CPU and memory are nil for providers that do not meter them.
type UsageResponse struct {
	Allowed            bool         `json:"allowed"`
	Bandwidth          UsageMetric  `json:"bandwidth"`
	Storage            UsageMetric  `json:"storage"`
	CPU                *UsageMetric `json:"cpu"`
	Memory             *UsageMetric `json:"memory"`
	OverageCostCents   int64        `json:"overage_cost_cents"`
	OverageBudgetCents int64        `json:"overage_budget_cents"`
}

type OverageBudgetResponse struct {
	BudgetCents int64  `json:"budget_cents"`
	PeriodStart string `json:"period_start"`
}

// Budgets are per calendar month, so the period start renders date-only.
func NewOverageBudgetResponse(budget models.OverageBudget) OverageBudgetResponse {
	return OverageBudgetResponse{
		BudgetCents: budget.BudgetCents,
		PeriodStart: budget.PeriodStart.Format("2006-01-02"),
	}
}

// Returned exactly once, on token rotation.
type TokenResponse struct {
	GatewayToken string `json:"gateway_token"`
}

type HealthResponse struct {
	GatewayReachable bool `json:"gateway_reachable"`
}

type CleanupResponse struct {
	CleanedUp int `json:"cleaned_up"`
}

// Admin view of a VPS across all users.
type AdminVpsResponse struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Name      string          `json:"name"`
	Provider  string          `json:"provider"`
	State     models.VpsState `json:"state"`
	Address   *string         `json:"address"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func NewAdminVpsResponse(vps models.Vps) AdminVpsResponse {
	return AdminVpsResponse{
		ID:        vps.ID,
		UserID:    vps.UserID,
		Name:      vps.Name,
		Provider:  vps.Provider,
		State:     vps.State,
		Address:   vps.Address,
		CreatedAt: vps.CreatedAt,
		UpdatedAt: vps.UpdatedAt,
	}
}
