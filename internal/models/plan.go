// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package models

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/slopbox/slopbox/internal/db"
)

// Subscription plan with included resource limits and per-unit overage rates.
// Plan records are immutable once created.
type Plan struct {
	ID                               string    `json:"id" db:"id,primarykey"`
	Name                             string    `json:"name" db:"name"`
	MaxAgents                        int       `json:"max_agents" db:"max_agents"`
	MaxVpses                         int       `json:"max_vpses" db:"max_vpses"`
	MaxBandwidthBytes                int64     `json:"max_bandwidth_bytes" db:"max_bandwidth_bytes"`
	MaxStorageBytes                  int64     `json:"max_storage_bytes" db:"max_storage_bytes"`
	MaxCPUMs                         int64     `json:"max_cpu_ms" db:"max_cpu_ms"`
	MaxMemoryMBSeconds               int64     `json:"max_memory_mb_seconds" db:"max_memory_mb_seconds"`
	OverageBandwidthCostPerGBCents   int64     `json:"overage_bandwidth_cost_per_gb_cents" db:"overage_bandwidth_cost_per_gb_cents"`
	OverageCPUCostPerHourCents       int64     `json:"overage_cpu_cost_per_hour_cents" db:"overage_cpu_cost_per_hour_cents"`
	OverageMemoryCostPerGBHourCents  int64     `json:"overage_memory_cost_per_gb_hour_cents" db:"overage_memory_cost_per_gb_hour_cents"`
	CreatedAt                        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt                        time.Time `json:"updated_at" db:"updated_at"`
}

// Table in which the plans are stored.
func (Plan) TableName() string { return "plans" }

// Report whether aggregate usage stays within the plan's included
// bandwidth, cpu, and memory. Usage exactly at a limit is still within.
// Storage is tracked per vps and checked separately.
func (p Plan) WithinLimits(usage AggregateUsage) bool {
	return usage.BandwidthBytes <= p.MaxBandwidthBytes &&
		usage.CPUUsedMs <= p.MaxCPUMs &&
		usage.MemoryUsedMBSeconds <= p.MaxMemoryMBSeconds
}

// Compute the total overage cost in cents given aggregate usage.
// Returns 0 when usage is within plan limits. Only the portion exceeding
// each limit is counted, converted to the billing unit and multiplied by
// the per-unit rate. The ceiling is taken over the sum, not per axis.
func (p Plan) OverageCostCents(usage AggregateUsage) int64 {
	bwOver := max(usage.BandwidthBytes-p.MaxBandwidthBytes, 0)
	bwCost := float64(bwOver) / 1_073_741_824.0 * // bytes -> GB
		float64(p.OverageBandwidthCostPerGBCents)

	cpuOver := max(usage.CPUUsedMs-p.MaxCPUMs, 0)
	cpuCost := float64(cpuOver) / 3_600_000.0 * // ms -> hours
		float64(p.OverageCPUCostPerHourCents)

	memOver := max(usage.MemoryUsedMBSeconds-p.MaxMemoryMBSeconds, 0)
	memCost := float64(memOver) / (1024.0 * 3600.0) * // MB*s -> GB*hours
		float64(p.OverageMemoryCostPerGBHourCents)

	return int64(math.Ceil(bwCost + cpuCost + memCost))
}

// Insert a new plan with a generated id.
func InsertPlan(d db.DB, plan *Plan) error {
	now := time.Now().UTC()
	if plan.ID == "" {
		plan.ID = uuid.NewString()
	}
	plan.CreatedAt = now
	plan.UpdatedAt = now
	return d.Insert(plan)
}

func GetPlanByID(d db.DB, id string) (Plan, error) {
	var plan Plan
	err := d.SelectOne(&plan, "SELECT * FROM plans WHERE id = :id", map[string]any{"id": id})
	return plan, err
}

func GetPlanByName(d db.DB, name string) (Plan, error) {
	var plan Plan
	err := d.SelectOne(&plan, "SELECT * FROM plans WHERE name = :name", map[string]any{"name": name})
	return plan, err
}

func ListPlans(d db.DB) ([]Plan, error) {
	var plans []Plan
	_, err := d.Select(&plans, "SELECT * FROM plans ORDER BY name")
	return plans, err
}

// Allow a vps config on a plan. Adding the same pair twice is a no-op.
func AddVpsConfigToPlan(d db.DB, planID, vpsConfigID string) error {
	err := d.Insert(&PlanVpsConfig{PlanID: planID, VpsConfigID: vpsConfigID})
	if db.IsDuplicate(err) {
		return nil
	}
	return err
}

func RemoveVpsConfigFromPlan(d db.DB, planID, vpsConfigID string) error {
	_, err := d.Exec(
		"DELETE FROM plan_vps_configs WHERE plan_id = :plan_id AND vps_config_id = :vps_config_id",
		map[string]any{"plan_id": planID, "vps_config_id": vpsConfigID},
	)
	return err
}
