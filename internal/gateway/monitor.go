// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/slopbox/slopbox/internal/monitoring"
)

// Collection of prometheus metrics for the gateway proxy.
type Monitor struct {
	// Counter for bytes relayed through the gateway, by transport.
	relayedBytes *prometheus.CounterVec
	// Counter for rpc calls blocked at the gateway boundary.
	blockedCalls prometheus.Counter
}

// Create a new gateway monitor and register the metrics.
func NewGatewayMonitor(registry *monitoring.Registry) Monitor {
	relayedBytes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "slopbox_gateway_bytes_total",
		Help: "Number of bytes relayed through the gateway proxy",
	}, []string{"transport"})
	blockedCalls := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "slopbox_gateway_blocked_calls_total",
		Help: "Number of rpc calls rejected by the gateway method blocklist",
	})
	registry.MustRegister(relayedBytes, blockedCalls)
	return Monitor{relayedBytes: relayedBytes, blockedCalls: blockedCalls}
}
