// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/slopbox/slopbox/internal/monitoring"
)

// Collection of prometheus metrics for the usage monitor.
type Monitor struct {
	// Counter for completed monitor sweeps.
	sweeps prometheus.Counter
	// Counter for vpses stopped by budget enforcement.
	enforcementStops prometheus.Counter
}

// Create a new usage monitor and register the metrics.
func NewUsageMonitor(registry *monitoring.Registry) Monitor {
	sweeps := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "slopbox_monitor_sweeps_total",
		Help: "Number of completed usage monitor sweeps",
	})
	enforcementStops := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "slopbox_monitor_enforcement_stops_total",
		Help: "Number of vpses stopped because the overage budget ran out",
	})
	registry.MustRegister(sweeps, enforcementStops)
	return Monitor{sweeps: sweeps, enforcementStops: enforcementStops}
}
