// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package seed loads a declarative catalog of plans and vps configs
// from a yaml file and applies it to the database at boot. A fresh
// deployment gets its plan catalog (including the demo plan handed to
// newly activated users) without manual inserts, and re-applying the
// same file is a no-op.
package seed

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/slopbox/slopbox/internal/db"
	"github.com/slopbox/slopbox/internal/models"
)

// Catalog of vps configs and plans, both keyed by name.
type Catalog struct {
	VpsConfigs []VpsConfigSeed `yaml:"vpsConfigs"`
	Plans      []PlanSeed      `yaml:"plans"`
}

// Seedable subset of a vps config. Timestamps and ids are managed by
// the models package.
type VpsConfigSeed struct {
	Name          string  `yaml:"name"`
	Provider      string  `yaml:"provider"`
	Image         *string `yaml:"image,omitempty"`
	Location      *string `yaml:"location,omitempty"`
	CPUMillicores int     `yaml:"cpuMillicores"`
	MemoryMB      int     `yaml:"memoryMb"`
	DiskGB        int     `yaml:"diskGb"`
}

// Seedable subset of a plan, plus the names of the vps configs the
// plan should allow.
type PlanSeed struct {
	Name                            string `yaml:"name"`
	MaxAgents                       int    `yaml:"maxAgents"`
	MaxVpses                        int    `yaml:"maxVpses"`
	MaxBandwidthBytes               int64  `yaml:"maxBandwidthBytes"`
	MaxStorageBytes                 int64  `yaml:"maxStorageBytes"`
	MaxCPUMs                        int64  `yaml:"maxCpuMs"`
	MaxMemoryMBSeconds              int64  `yaml:"maxMemoryMbSeconds"`
	OverageBandwidthCostPerGBCents  int64  `yaml:"overageBandwidthCostPerGbCents"`
	OverageCPUCostPerHourCents      int64  `yaml:"overageCpuCostPerHourCents"`
	OverageMemoryCostPerGBHourCents int64  `yaml:"overageMemoryCostPerGbHourCents"`

	VpsConfigs []string `yaml:"vpsConfigs"`
}

// Load a catalog from the given yaml file.
func LoadCatalog(filepath string) (Catalog, error) {
	bytes, err := os.ReadFile(filepath)
	if err != nil {
		return Catalog{}, fmt.Errorf("failed to read seed file: %w", err)
	}
	var catalog Catalog
	if err := yaml.Unmarshal(bytes, &catalog); err != nil {
		return Catalog{}, fmt.Errorf("failed to parse seed file: %w", err)
	}
	return catalog, nil
}

// Load the catalog from the given yaml file and apply it.
func ApplyFile(d db.DB, filepath string) error {
	catalog, err := LoadCatalog(filepath)
	if err != nil {
		return err
	}
	return Apply(d, catalog)
}

// Apply the catalog to the database. Vps configs are updated in place,
// plans are immutable and only inserted when missing, and each seeded
// plan's link set is reconciled to the file.
func Apply(d db.DB, catalog Catalog) error {
	for _, seed := range catalog.VpsConfigs {
		if err := applyVpsConfig(d, seed); err != nil {
			return fmt.Errorf("failed to seed vps config %q: %w", seed.Name, err)
		}
	}
	for _, seed := range catalog.Plans {
		if err := applyPlan(d, seed); err != nil {
			return fmt.Errorf("failed to seed plan %q: %w", seed.Name, err)
		}
	}
	return nil
}

func applyVpsConfig(d db.DB, seed VpsConfigSeed) error {
	config, err := models.GetVpsConfigByName(d, seed.Name)
	if err != nil {
		if !db.IsErrNoRows(err) {
			return err
		}
		config = models.VpsConfig{
			Name:          seed.Name,
			Provider:      seed.Provider,
			Image:         seed.Image,
			Location:      seed.Location,
			CPUMillicores: seed.CPUMillicores,
			MemoryMB:      seed.MemoryMB,
			DiskGB:        seed.DiskGB,
		}
		if err := models.InsertVpsConfig(d, &config); err != nil {
			return err
		}
		slog.Info("seeded vps config", "name", seed.Name, "provider", seed.Provider)
		return nil
	}
	config.Provider = seed.Provider
	config.Image = seed.Image
	config.Location = seed.Location
	config.CPUMillicores = seed.CPUMillicores
	config.MemoryMB = seed.MemoryMB
	config.DiskGB = seed.DiskGB
	return models.UpdateVpsConfig(d, &config)
}

// Plans already in the database are left untouched. Plan limits are
// referenced by the usage ledger, so changing them under existing
// subscribers through a seed file would silently reprice the current
// period. New limits need a new plan name.
func applyPlan(d db.DB, seed PlanSeed) error {
	plan, err := models.GetPlanByName(d, seed.Name)
	if err != nil {
		if !db.IsErrNoRows(err) {
			return err
		}
		plan = models.Plan{
			Name:                            seed.Name,
			MaxAgents:                       seed.MaxAgents,
			MaxVpses:                        seed.MaxVpses,
			MaxBandwidthBytes:               seed.MaxBandwidthBytes,
			MaxStorageBytes:                 seed.MaxStorageBytes,
			MaxCPUMs:                        seed.MaxCPUMs,
			MaxMemoryMBSeconds:              seed.MaxMemoryMBSeconds,
			OverageBandwidthCostPerGBCents:  seed.OverageBandwidthCostPerGBCents,
			OverageCPUCostPerHourCents:      seed.OverageCPUCostPerHourCents,
			OverageMemoryCostPerGBHourCents: seed.OverageMemoryCostPerGBHourCents,
		}
		if err := models.InsertPlan(d, &plan); err != nil {
			return err
		}
		slog.Info("seeded plan", "name", seed.Name)
	}
	linked := make(map[string]bool, len(seed.VpsConfigs))
	for _, name := range seed.VpsConfigs {
		config, err := models.GetVpsConfigByName(d, name)
		if err != nil {
			if db.IsErrNoRows(err) {
				return fmt.Errorf("references unknown vps config %q", name)
			}
			return err
		}
		if err := models.AddVpsConfigToPlan(d, plan.ID, config.ID); err != nil {
			return err
		}
		linked[config.ID] = true
	}
	// The seeded link set is authoritative: configs no longer named in
	// the file stop being provisionable under this plan.
	current, err := models.ListVpsConfigsForPlan(d, plan.ID)
	if err != nil {
		return err
	}
	for _, config := range current {
		if linked[config.ID] {
			continue
		}
		if err := models.RemoveVpsConfigFromPlan(d, plan.ID, config.ID); err != nil {
			return err
		}
		slog.Info("unlinked vps config from plan", "plan", seed.Name, "config", config.Name)
	}
	return nil
}
