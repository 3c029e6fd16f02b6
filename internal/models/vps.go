// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/slopbox/slopbox/internal/db"
)

// Lifecycle state of a VPS. Destroyed is terminal.
type VpsState string

const (
	VpsStateProvisioning VpsState = "provisioning"
	VpsStateRunning      VpsState = "running"
	VpsStateStopped      VpsState = "stopped"
	VpsStateDestroyed    VpsState = "destroyed"
)

// Provider-backed VM or container sprite executing the agent software.
// The cpu and memory columns hold the provider's absolute counters as of
// the last monitor sweep; they may reset when the VM restarts.
type Vps struct {
	ID                  string    `json:"id" db:"id,primarykey"`
	UserID              string    `json:"user_id" db:"user_id"`
	VpsConfigID         string    `json:"vps_config_id" db:"vps_config_id"`
	Name                string    `json:"name" db:"name"`
	Provider            string    `json:"provider" db:"provider"`
	ProviderVMID        *string   `json:"provider_vm_id" db:"provider_vm_id"`
	Address             *string   `json:"address" db:"address"`
	State               VpsState  `json:"state" db:"state"`
	StorageUsedBytes    int64     `json:"storage_used_bytes" db:"storage_used_bytes"`
	CPUUsedMs           *int64    `json:"cpu_used_ms" db:"cpu_used_ms"`
	MemoryUsedMBSeconds *int64    `json:"memory_used_mb_seconds" db:"memory_used_mb_seconds"`
	CreatedAt           time.Time `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time `json:"updated_at" db:"updated_at"`
}

// Table in which the VPSes are stored.
func (Vps) TableName() string { return "vpses" }

// Insert a new VPS row in provisioning state with a generated id.
func InsertVps(d db.DB, userID, vpsConfigID, name, provider string) (Vps, error) {
	now := time.Now().UTC()
	vps := Vps{
		ID:          uuid.NewString(),
		UserID:      userID,
		VpsConfigID: vpsConfigID,
		Name:        name,
		Provider:    provider,
		State:       VpsStateProvisioning,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := d.Insert(&vps); err != nil {
		return Vps{}, err
	}
	return vps, nil
}

func GetVpsByID(d db.DB, id string) (Vps, error) {
	var vps Vps
	err := d.SelectOne(&vps, "SELECT * FROM vpses WHERE id = :id", map[string]any{"id": id})
	return vps, err
}

func ListVpsesForUser(d db.DB, userID string) ([]Vps, error) {
	var vpses []Vps
	_, err := d.Select(&vpses,
		"SELECT * FROM vpses WHERE user_id = :user_id ORDER BY created_at",
		map[string]any{"user_id": userID},
	)
	return vpses, err
}

// Count the user's VPSes, excluding destroyed ones. Compared against
// the plan's max_vpses limit at provision time.
func CountVpsesForUser(d db.DB, userID string) (int, error) {
	count, err := d.SelectInt(
		"SELECT COUNT(*) FROM vpses WHERE user_id = :user_id AND state != 'destroyed'",
		map[string]any{"user_id": userID},
	)
	return int(count), err
}

func ListVpsesByState(d db.DB, state VpsState) ([]Vps, error) {
	var vpses []Vps
	_, err := d.Select(&vpses,
		"SELECT * FROM vpses WHERE state = :state ORDER BY created_at",
		map[string]any{"state": state},
	)
	return vpses, err
}

// Provisioning rows created before the cutoff. These are leftovers of
// provider creates that failed without rolling back the row.
func ListStuckProvisioning(d db.DB, cutoff time.Time) ([]Vps, error) {
	var vpses []Vps
	_, err := d.Select(&vpses,
		"SELECT * FROM vpses WHERE state = 'provisioning' AND created_at < :cutoff ORDER BY created_at",
		map[string]any{"cutoff": cutoff},
	)
	return vpses, err
}

func ListAllVpses(d db.DB) ([]Vps, error) {
	var vpses []Vps
	_, err := d.Select(&vpses, "SELECT * FROM vpses ORDER BY created_at")
	return vpses, err
}

// Record the provider-assigned VM id and address after a create.
func UpdateVpsProviderRefs(d db.DB, id string, providerVMID, address *string) error {
	_, err := d.Exec(
		"UPDATE vpses SET provider_vm_id = :provider_vm_id, address = :address, updated_at = :now WHERE id = :id",
		map[string]any{"provider_vm_id": providerVMID, "address": address, "now": time.Now().UTC(), "id": id},
	)
	return err
}

func SetVpsState(d db.DB, id string, state VpsState) error {
	_, err := d.Exec(
		"UPDATE vpses SET state = :state, updated_at = :now WHERE id = :id",
		map[string]any{"state": state, "now": time.Now().UTC(), "id": id},
	)
	return err
}

// Store the provider's absolute usage counters and the storage gauge.
func UpdateVpsUsage(d db.DB, id string, storageUsedBytes int64, cpuUsedMs, memoryUsedMBSeconds *int64) error {
	_, err := d.Exec(`
		UPDATE vpses
		SET storage_used_bytes     = :storage_used_bytes,
		    cpu_used_ms            = :cpu_used_ms,
		    memory_used_mb_seconds = :memory_used_mb_seconds,
		    updated_at             = :now
		WHERE id = :id`,
		map[string]any{
			"storage_used_bytes":     storageUsedBytes,
			"cpu_used_ms":            cpuUsedMs,
			"memory_used_mb_seconds": memoryUsedMBSeconds,
			"now":                    time.Now().UTC(),
			"id":                     id,
		},
	)
	return err
}
