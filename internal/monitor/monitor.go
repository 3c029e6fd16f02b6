// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package monitor runs the periodic usage sweep: it folds collected
// resource counters into the monthly ledger and stops Hetzner vpses of
// users whose plan and overage budget are both exhausted. Fly and
// sprites vpses are not stopped here since the forward proxy already
// gates them per request.
package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/sapcc/go-bits/jobloop"

	"github.com/slopbox/slopbox/internal/conf"
	"github.com/slopbox/slopbox/internal/db"
	"github.com/slopbox/slopbox/internal/lifecycle"
	"github.com/slopbox/slopbox/internal/models"
	"github.com/slopbox/slopbox/internal/mqtt"
	"github.com/slopbox/slopbox/internal/providers"
)

// Service sweeping usage metrics and enforcing budgets.
type Service struct {
	db         db.DB
	collector  MetricsCollector
	providers  providers.Registry
	mqttClient mqtt.Client
	monitor    Monitor
	interval   time.Duration
}

// NewService builds the monitor. The mqtt client may be nil when no
// broker is configured; enforcement state events are then dropped.
func NewService(
	d db.DB,
	collector MetricsCollector,
	registry providers.Registry,
	client mqtt.Client,
	monitor Monitor,
	config conf.MonitorConfig,
) *Service {
	return &Service{
		db:         d,
		collector:  collector,
		providers:  registry,
		mqttClient: client,
		monitor:    monitor,
		interval:   time.Duration(config.IntervalSecs) * time.Second,
	}
}

// Run sweeps until the context is done.
func (s *Service) Run(ctx context.Context) {
	slog.Info("starting usage monitor", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("usage monitor shutting down")
			return
		default:
			s.Sweep(ctx)
			time.Sleep(jobloop.DefaultJitter(s.interval))
		}
	}
}

// Sweep runs one metrics poll and one enforcement round. Failures are
// logged and never abort the loop.
func (s *Service) Sweep(ctx context.Context) {
	if err := s.pollMetrics(ctx); err != nil {
		slog.Error("metrics poll failed", "error", err)
	}
	if err := s.enforceLimits(ctx); err != nil {
		slog.Error("enforcement check failed", "error", err)
	}
	if s.monitor.sweeps != nil {
		s.monitor.sweeps.Inc()
	}
}

// Fold collected counters into the monthly ledger and store the
// absolute values on the vps rows.
func (s *Service) pollMetrics(ctx context.Context) error {
	running, err := models.ListVpsesByState(s.db, models.VpsStateRunning)
	if err != nil {
		return err
	}
	for _, vps := range running {
		metering := providers.MeteredResourcesFor(vps.Provider)
		if !metering.CPU && !metering.Memory {
			continue
		}

		metrics, err := s.collector.Collect(ctx, vps)
		if err != nil {
			slog.Error("failed to collect metrics", "vps", vps.ID, "error", err)
			continue
		}

		var cpuDelta, memDelta int64
		if metering.CPU {
			cpuDelta = positiveDelta(metrics.CPUUsedMs, vps.CPUUsedMs)
		}
		if metering.Memory {
			memDelta = positiveDelta(metrics.MemoryUsedMBSeconds, vps.MemoryUsedMBSeconds)
		}
		if cpuDelta > 0 || memDelta > 0 {
			if err := models.AddCPUMemory(s.db, vps.ID, cpuDelta, memDelta); err != nil {
				slog.Error("failed to write period metrics", "vps", vps.ID, "error", err)
			}
		}

		err = models.UpdateVpsUsage(s.db, vps.ID,
			metrics.StorageUsedBytes, metrics.CPUUsedMs, metrics.MemoryUsedMBSeconds)
		if err != nil {
			slog.Error("failed to write metrics", "vps", vps.ID, "error", err)
		}
	}
	return nil
}

// Positive counter delta. Zero when either sample is missing or the
// counter reset because the vm restarted.
func positiveDelta(newVal, oldVal *int64) int64 {
	if newVal == nil || oldVal == nil {
		return 0
	}
	if *newVal <= *oldVal {
		return 0
	}
	return *newVal - *oldVal
}

// Stop the running Hetzner vpses of every user whose aggregate usage
// left the plan limits and whose projected overage cost exceeds the
// month's budget. Per-user and per-vps failures are logged and skipped
// so one broken row cannot shield the others.
func (s *Service) enforceLimits(ctx context.Context) error {
	running, err := models.ListVpsesByState(s.db, models.VpsStateRunning)
	if err != nil {
		return err
	}

	hetznerUsers := make(map[string]struct{})
	for _, vps := range running {
		if vps.Provider == providers.ProviderHetzner {
			hetznerUsers[vps.UserID] = struct{}{}
		}
	}

	for userID := range hetznerUsers {
		user, err := models.GetUserByID(s.db, userID)
		if err != nil {
			slog.Error("enforcement: failed to load user", "user", userID, "error", err)
			continue
		}
		// Without a plan there are no limits to enforce.
		if user.PlanID == nil {
			continue
		}
		plan, err := models.GetPlanByID(s.db, *user.PlanID)
		if err != nil {
			slog.Error("enforcement: failed to load plan", "user", userID, "error", err)
			continue
		}
		usage, err := models.GetUserAggregateUsage(s.db, userID)
		if err != nil {
			slog.Error("enforcement: failed to load aggregate usage", "user", userID, "error", err)
			continue
		}
		if plan.WithinLimits(usage) {
			continue
		}

		overageCost := plan.OverageCostCents(usage)
		budget, err := models.GetCurrentBudget(s.db, userID)
		if err != nil {
			slog.Error("enforcement: failed to load overage budget", "user", userID, "error", err)
			continue
		}
		if overageCost <= budget.BudgetCents {
			continue
		}

		provider, ok := s.providers.Get(providers.ProviderHetzner)
		if !ok {
			slog.Warn("enforcement: hetzner provider not available, skipping stop")
			continue
		}

		for _, vps := range running {
			if vps.UserID != userID || vps.Provider != providers.ProviderHetzner {
				continue
			}
			if vps.ProviderVMID == nil {
				continue
			}
			slog.Warn("enforcement: stopping hetzner vps, overage budget exhausted",
				"user", userID, "vps", vps.ID,
				"overageCostCents", overageCost, "budgetCents", budget.BudgetCents)
			if err := provider.StopVps(ctx, *vps.ProviderVMID); err != nil {
				slog.Error("enforcement: failed to stop vps", "vps", vps.ID, "error", err)
				continue
			}
			if err := models.SetVpsState(s.db, vps.ID, models.VpsStateStopped); err != nil {
				slog.Error("enforcement: failed to update vps state", "vps", vps.ID, "error", err)
				continue
			}
			lifecycle.PublishState(s.mqttClient, vps, nil, models.VpsStateStopped)
			if s.monitor.enforcementStops != nil {
				s.monitor.enforcementStops.Inc()
			}
		}
	}
	return nil
}
