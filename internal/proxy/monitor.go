// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/slopbox/slopbox/internal/monitoring"
)

type Monitor struct {
	// Counter for bytes relayed through the proxy, by transfer mode.
	bytesTransferred *prometheus.CounterVec
	// Counter for denied proxy requests, by denial reason.
	denials *prometheus.CounterVec
}

func NewProxyMonitor(registry *monitoring.Registry) Monitor {
	bytesTransferred := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "slopbox_proxy_bytes_total",
		Help: "Number of bytes relayed through the forward proxy",
	}, []string{"mode"})
	denials := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "slopbox_proxy_denials_total",
		Help: "Number of denied forward proxy requests",
	}, []string{"reason"})
	registry.MustRegister(
		bytesTransferred,
		denials,
	)
	return Monitor{
		bytesTransferred: bytesTransferred,
		denials:          denials,
	}
}
