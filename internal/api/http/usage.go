// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package http

import (
	"net/http"

	"github.com/slopbox/slopbox/internal/api"
	"github.com/slopbox/slopbox/internal/models"
	"github.com/slopbox/slopbox/internal/providers"
)

// Current period usage of the agent's VPS against the plan limits,
// plus the user-level overage position. Cpu and memory metrics appear
// only for providers that meter them.
func (a *httpAPI) getUsage(w http.ResponseWriter, r *http.Request) error {
	user, err := requestUser(r)
	if err != nil {
		return err
	}
	_, vps, err := a.lifecycle.AgentVps(user.ID, r.PathValue("id"))
	if err != nil {
		return err
	}

	if user.PlanID == nil {
		return api.BadRequest("user has no plan")
	}
	plan, err := models.GetPlanByID(a.db, *user.PlanID)
	if err != nil {
		return err
	}
	period, err := models.GetCurrentUsage(a.db, vps.ID)
	if err != nil {
		return err
	}
	metering := providers.MeteredResourcesFor(vps.Provider)

	bandwidth := api.NewUsageMetric(period.BandwidthBytes, plan.MaxBandwidthBytes)
	storage := api.NewUsageMetric(vps.StorageUsedBytes, plan.MaxStorageBytes)
	var cpu, memory *api.UsageMetric
	if metering.CPU {
		m := api.NewUsageMetric(period.CPUUsedMs, plan.MaxCPUMs)
		cpu = &m
	}
	if metering.Memory {
		m := api.NewUsageMetric(period.MemoryUsedMBSeconds, plan.MaxMemoryMBSeconds)
		memory = &m
	}

	aggregate, err := models.GetUserAggregateUsage(a.db, user.ID)
	if err != nil {
		return err
	}
	overageCost := plan.OverageCostCents(aggregate)
	budget, err := models.GetCurrentBudget(a.db, user.ID)
	if err != nil {
		return err
	}

	withinMetrics := !bandwidth.Exceeded && !storage.Exceeded &&
		!(cpu != nil && cpu.Exceeded) && !(memory != nil && memory.Exceeded)

	api.WriteJSON(w, http.StatusOK, api.UsageResponse{
		Allowed:            withinMetrics || overageCost <= budget.BudgetCents,
		Bandwidth:          bandwidth,
		Storage:            storage,
		CPU:                cpu,
		Memory:             memory,
		OverageCostCents:   overageCost,
		OverageBudgetCents: budget.BudgetCents,
	})
	return nil
}

func (a *httpAPI) getOverageBudget(w http.ResponseWriter, r *http.Request) error {
	user, err := requestUser(r)
	if err != nil {
		return err
	}
	budget, err := models.GetCurrentBudget(a.db, user.ID)
	if err != nil {
		return err
	}
	api.WriteJSON(w, http.StatusOK, api.NewOverageBudgetResponse(budget))
	return nil
}

// Set the user's overage budget for the current period.
func (a *httpAPI) setOverageBudget(w http.ResponseWriter, r *http.Request) error {
	user, err := requestUser(r)
	if err != nil {
		return err
	}
	req, err := decode[api.SetOverageBudgetRequest](r)
	if err != nil {
		return err
	}
	budget, err := models.SetBudget(a.db, user.ID, req.BudgetCents)
	if err != nil {
		return err
	}
	api.WriteJSON(w, http.StatusOK, api.NewOverageBudgetResponse(budget))
	return nil
}
