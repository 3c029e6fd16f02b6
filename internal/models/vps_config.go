// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/slopbox/slopbox/internal/db"
)

// Operator-defined VPS template. Which configs a user may provision is
// gated through the plan_vps_configs relation.
type VpsConfig struct {
	ID            string    `json:"id" db:"id,primarykey"`
	Name          string    `json:"name" db:"name"`
	Provider      string    `json:"provider" db:"provider"`
	Image         *string   `json:"image" db:"image"`
	Location      *string   `json:"location" db:"location"`
	CPUMillicores int       `json:"cpu_millicores" db:"cpu_millicores"`
	MemoryMB      int       `json:"memory_mb" db:"memory_mb"`
	DiskGB        int       `json:"disk_gb" db:"disk_gb"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// Table in which the vps configs are stored.
func (VpsConfig) TableName() string { return "vps_configs" }

// Relation gating vps configs to plans.
type PlanVpsConfig struct {
	PlanID      string `json:"plan_id" db:"plan_id,primarykey"`
	VpsConfigID string `json:"vps_config_id" db:"vps_config_id,primarykey"`
}

// Table in which the plan to vps config relations are stored.
func (PlanVpsConfig) TableName() string { return "plan_vps_configs" }

// Insert a new vps config with a generated id.
func InsertVpsConfig(d db.DB, config *VpsConfig) error {
	now := time.Now().UTC()
	if config.ID == "" {
		config.ID = uuid.NewString()
	}
	config.CreatedAt = now
	config.UpdatedAt = now
	return d.Insert(config)
}

func GetVpsConfigByID(d db.DB, id string) (VpsConfig, error) {
	var config VpsConfig
	err := d.SelectOne(&config, "SELECT * FROM vps_configs WHERE id = :id", map[string]any{"id": id})
	return config, err
}

func GetVpsConfigByName(d db.DB, name string) (VpsConfig, error) {
	var config VpsConfig
	err := d.SelectOne(&config, "SELECT * FROM vps_configs WHERE name = :name", map[string]any{"name": name})
	return config, err
}

func ListVpsConfigs(d db.DB) ([]VpsConfig, error) {
	var configs []VpsConfig
	_, err := d.Select(&configs, "SELECT * FROM vps_configs ORDER BY cpu_millicores, memory_mb")
	return configs, err
}

// List the vps configs available on a plan, smallest first.
func ListVpsConfigsForPlan(d db.DB, planID string) ([]VpsConfig, error) {
	var configs []VpsConfig
	_, err := d.Select(&configs, `
		SELECT vc.* FROM vps_configs vc
		JOIN plan_vps_configs pvc ON pvc.vps_config_id = vc.id
		WHERE pvc.plan_id = :plan_id
		ORDER BY vc.cpu_millicores, vc.memory_mb`,
		map[string]any{"plan_id": planID},
	)
	return configs, err
}

// Update the mutable fields of a vps config.
func UpdateVpsConfig(d db.DB, config *VpsConfig) error {
	config.UpdatedAt = time.Now().UTC()
	_, err := d.Update(config)
	return err
}

func DeleteVpsConfig(d db.DB, id string) error {
	_, err := d.Exec("DELETE FROM vps_configs WHERE id = :id", map[string]any{"id": id})
	return err
}
