// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package http

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/slopbox/slopbox/internal/monitoring"
)

// Collection of prometheus metrics for the control plane api.
type Monitor struct {
	// Histogram measuring how long api requests take to handle.
	requestTimer *prometheus.HistogramVec
}

// Create a new api monitor and register the metrics.
func NewAPIMonitor(registry *monitoring.Registry) Monitor {
	requestTimer := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "slopbox_api_request_duration_seconds",
		Help:    "Duration of api requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
	registry.MustRegister(requestTimer)
	return Monitor{requestTimer: requestTimer}
}

// Observe a handled request. The path label carries the route pattern,
// never the raw url, to keep the cardinality bounded.
func (m Monitor) observe(method, pattern string, status int, d time.Duration) {
	if m.requestTimer == nil {
		return
	}
	m.requestTimer.WithLabelValues(method, pattern, strconv.Itoa(status)).Observe(d.Seconds())
}
