// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"context"

	"github.com/slopbox/slopbox/internal/models"
)

// Resource counters sampled for a single running vps. CPU and memory
// are absolute counters since vm start and are nil when the provider
// exposes no usage api for them.
type VpsMetrics struct {
	StorageUsedBytes    int64
	CPUUsedMs           *int64
	MemoryUsedMBSeconds *int64
}

// MetricsCollector samples resource counters for a running vps.
type MetricsCollector interface {
	Collect(ctx context.Context, vps models.Vps) (VpsMetrics, error)
}

// StubCollector echoes the counters already stored on the vps row, so
// sweeps are no-ops until a real collector replaces it.
type StubCollector struct{}

func (StubCollector) Collect(_ context.Context, vps models.Vps) (VpsMetrics, error) {
	return VpsMetrics{
		StorageUsedBytes:    vps.StorageUsedBytes,
		CPUUsedMs:           vps.CPUUsedMs,
		MemoryUsedMBSeconds: vps.MemoryUsedMBSeconds,
	}, nil
}
