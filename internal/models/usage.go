// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package models

import (
	"time"

	"github.com/slopbox/slopbox/internal/db"
)

// Usage ledger row for one VPS and one calendar month. Counters only
// ever increase for a fixed (vps_id, period_start) key. A missing row
// means zero usage.
type VpsUsagePeriod struct {
	VpsID               string    `json:"vps_id" db:"vps_id,primarykey"`
	PeriodStart         time.Time `json:"period_start" db:"period_start,primarykey"`
	BandwidthBytes      int64     `json:"bandwidth_bytes" db:"bandwidth_bytes"`
	CPUUsedMs           int64     `json:"cpu_used_ms" db:"cpu_used_ms"`
	MemoryUsedMBSeconds int64     `json:"memory_used_mb_seconds" db:"memory_used_mb_seconds"`
	CreatedAt           time.Time `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time `json:"updated_at" db:"updated_at"`
}

// Table in which the usage ledger is stored.
func (VpsUsagePeriod) TableName() string { return "vps_usage_periods" }

// Summed usage across all of a user's VPSes for a billing period.
type AggregateUsage struct {
	BandwidthBytes      int64 `json:"bandwidth_bytes" db:"bandwidth_bytes"`
	CPUUsedMs           int64 `json:"cpu_used_ms" db:"cpu_used_ms"`
	MemoryUsedMBSeconds int64 `json:"memory_used_mb_seconds" db:"memory_used_mb_seconds"`
}

// Atomically increment bandwidth for the current calendar month.
// The database serializes conflicting upserts on (vps_id, period_start),
// so concurrent increments always sum up.
func AddBandwidth(d db.DB, vpsID string, bytes int64) error {
	now := time.Now().UTC()
	_, err := d.Exec(`
		INSERT INTO vps_usage_periods (vps_id, period_start, bandwidth_bytes, cpu_used_ms, memory_used_mb_seconds, created_at, updated_at)
		VALUES (:vps_id, :period_start, :bytes, 0, 0, :now, :now)
		ON CONFLICT (vps_id, period_start)
		DO UPDATE SET bandwidth_bytes = vps_usage_periods.bandwidth_bytes + EXCLUDED.bandwidth_bytes,
		              updated_at = EXCLUDED.updated_at`,
		map[string]any{
			"vps_id":       vpsID,
			"period_start": CurrentPeriodStart(),
			"bytes":        bytes,
			"now":          now,
		},
	)
	return err
}

// Atomically increment cpu and memory deltas for the current calendar month.
func AddCPUMemory(d db.DB, vpsID string, cpuDeltaMs, memDeltaMBSeconds int64) error {
	now := time.Now().UTC()
	_, err := d.Exec(`
		INSERT INTO vps_usage_periods (vps_id, period_start, bandwidth_bytes, cpu_used_ms, memory_used_mb_seconds, created_at, updated_at)
		VALUES (:vps_id, :period_start, 0, :cpu, :memory, :now, :now)
		ON CONFLICT (vps_id, period_start)
		DO UPDATE SET cpu_used_ms = vps_usage_periods.cpu_used_ms + EXCLUDED.cpu_used_ms,
		              memory_used_mb_seconds = vps_usage_periods.memory_used_mb_seconds + EXCLUDED.memory_used_mb_seconds,
		              updated_at = EXCLUDED.updated_at`,
		map[string]any{
			"vps_id":       vpsID,
			"period_start": CurrentPeriodStart(),
			"cpu":          cpuDeltaMs,
			"memory":       memDeltaMBSeconds,
			"now":          now,
		},
	)
	return err
}

// Fetch the current month's usage row, returning zeros if none exists.
func GetCurrentUsage(d db.DB, vpsID string) (VpsUsagePeriod, error) {
	var usage VpsUsagePeriod
	err := d.SelectOne(&usage, `
		SELECT * FROM vps_usage_periods
		WHERE vps_id = :vps_id AND period_start = :period_start`,
		map[string]any{"vps_id": vpsID, "period_start": CurrentPeriodStart()},
	)
	if err == nil {
		return usage, nil
	}
	if db.IsErrNoRows(err) {
		now := time.Now().UTC()
		return VpsUsagePeriod{
			VpsID:       vpsID,
			PeriodStart: CurrentPeriodStart(),
			CreatedAt:   now,
			UpdatedAt:   now,
		}, nil
	}
	return VpsUsagePeriod{}, err
}

// Sum usage across all of a user's non-destroyed VPSes for the current month.
func GetUserAggregateUsage(d db.DB, userID string) (AggregateUsage, error) {
	var usage AggregateUsage
	err := d.SelectOne(&usage, `
		SELECT COALESCE(SUM(u.bandwidth_bytes), 0) AS bandwidth_bytes,
		       COALESCE(SUM(u.cpu_used_ms), 0) AS cpu_used_ms,
		       COALESCE(SUM(u.memory_used_mb_seconds), 0) AS memory_used_mb_seconds
		FROM vps_usage_periods u
		JOIN vpses v ON v.id = u.vps_id
		WHERE v.user_id = :user_id
		  AND u.period_start = :period_start
		  AND v.state != 'destroyed'`,
		map[string]any{"user_id": userID, "period_start": CurrentPeriodStart()},
	)
	return usage, err
}
