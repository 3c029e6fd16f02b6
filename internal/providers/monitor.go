// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package providers

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/slopbox/slopbox/internal/monitoring"
)

type Monitor struct {
	// Timer for requests against the provider backends.
	RequestTimer *prometheus.HistogramVec
	// Counter for failed requests against the provider backends.
	RequestErrors *prometheus.CounterVec
}

func NewProviderMonitor(registry *monitoring.Registry) Monitor {
	requestTimer := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "slopbox_provider_request_duration_seconds",
		Help:    "Duration of provider API requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider", "endpoint"})
	requestErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "slopbox_provider_request_errors_total",
		Help: "Number of failed provider API requests",
	}, []string{"provider", "endpoint"})
	registry.MustRegister(
		requestTimer,
		requestErrors,
	)
	return Monitor{
		RequestTimer:  requestTimer,
		RequestErrors: requestErrors,
	}
}
