// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/slopbox/slopbox/internal/monitoring"
)

type Monitor struct {
	// Counter for vps state transitions, by provider and new state.
	stateTransitions *prometheus.CounterVec
}

func NewLifecycleMonitor(registry *monitoring.Registry) Monitor {
	stateTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "slopbox_vps_state_transitions_total",
		Help: "Number of vps state transitions, by provider and new state.",
	}, []string{"provider", "state"})
	registry.MustRegister(
		stateTransitions,
	)
	return Monitor{stateTransitions: stateTransitions}
}
