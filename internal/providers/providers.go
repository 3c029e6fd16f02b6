// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package providers contains the backend-agnostic vps provider interface
// and its implementations for Fly.io machines, Hetzner Cloud servers, and
// Sprites containers.
package providers

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"

	"github.com/slopbox/slopbox/internal/conf"
)

// Known provider names, as stored in the vps rows.
const (
	ProviderFly     = "fly"
	ProviderHetzner = "hetzner"
	ProviderSprites = "sprites"
)

// Provider-reported vm state. Distinct from the lifecycle state stored in
// the database, which only changes through the orchestrator.
type VMState string

const (
	VMStateStarting  VMState = "starting"
	VMStateRunning   VMState = "running"
	VMStateStopped   VMState = "stopped"
	VMStateDestroyed VMState = "destroyed"
	VMStateUnknown   VMState = "unknown"
)

// A file to inject into the vps at provision time.
type FileMount struct {
	GuestPath string
	RawValue  string
}

// Specification for creating a vps.
type VpsSpec struct {
	Name string
	// Image to boot, provider-specific default when nil.
	Image *string
	// Placement hint, currently unused since each provider pins its own
	// region from configuration.
	Location      *string
	CPUMillicores int
	MemoryMB      int
	// Env vars made available to the agent process inside the vps.
	Env map[string]string
	// Files written into the guest before the agent starts.
	Files []FileMount
}

// Vps status and metadata returned from the provider.
type VpsInfo struct {
	// Opaque provider-side id (e.g. Fly machine id or Hetzner server id).
	ID      string
	State   VMState
	Address *string
}

// Describes which resource axes a provider meters on a usage basis.
type MeteredResources struct {
	Bandwidth bool
	CPU       bool
	Memory    bool
}

// All resources metered (elastic providers).
var AllResources = MeteredResources{Bandwidth: true, CPU: true, Memory: true}

// Only bandwidth metered (fixed-allocation providers).
var BandwidthOnly = MeteredResources{Bandwidth: true}

// MeteredResourcesFor returns the metering profile for a provider name.
// Used by the proxy and monitor, which only have the provider string from
// the vps row. Unknown providers default to all axes metered.
func MeteredResourcesFor(provider string) MeteredResources {
	switch provider {
	case ProviderFly, ProviderHetzner, ProviderSprites:
		return BandwidthOnly
	default:
		slog.Warn("unknown provider, defaulting to all resources metered", "provider", provider)
		return AllResources
	}
}

// Backend-agnostic interface for managing agent vpses. Each provider owns
// its configuration and speaks its backend's REST API directly.
type VpsProvider interface {
	// Create and start a vps with the given spec. Storage is provider-managed.
	CreateVps(ctx context.Context, spec VpsSpec) (VpsInfo, error)
	// Start a stopped vps.
	StartVps(ctx context.Context, id string) error
	// Stop a running vps.
	StopVps(ctx context.Context, id string) error
	// Destroy a vps permanently. Destroying an already destroyed vps is
	// not an error.
	DestroyVps(ctx context.Context, id string) error
	// Get current vps status and metadata.
	GetVps(ctx context.Context, id string) (VpsInfo, error)
	// Provider identifier (fly, hetzner, sprites).
	Name() string
	// Which resources this provider meters on a usage basis.
	MeteredResources() MeteredResources
}

// Optionally implemented by providers that can write guest files
// directly after provisioning. Providers without it receive file pushes
// through the in-vps gateway instead.
type FileWriter interface {
	WriteVpsFile(ctx context.Context, id, path, content string) error
}

// Registry of all configured vps providers, keyed by name.
type Registry map[string]VpsProvider

// Get the provider with the given name.
func (r Registry) Get(name string) (VpsProvider, bool) {
	provider, ok := r[name]
	return provider, ok
}

// Available returns the sorted names of all configured providers.
func (r Registry) Available() []string {
	return slices.Sorted(maps.Keys(r))
}

// NewRegistry builds all providers whose required configuration is present.
// Unconfigured providers are skipped with a debug log. An error is returned
// only if no provider could be constructed at all.
func NewRegistry(config conf.ProvidersConfig, mon Monitor) (Registry, error) {
	registry := Registry{}
	if config.Fly.APIToken != "" {
		registry[ProviderFly] = NewFlyProvider(mon, config.Fly)
		slog.Info("registered vps provider", "provider", ProviderFly)
	} else {
		slog.Debug("skipping vps provider, no api token", "provider", ProviderFly)
	}
	if config.Hetzner.APIToken != "" {
		registry[ProviderHetzner] = NewHetznerProvider(mon, config.Hetzner)
		slog.Info("registered vps provider", "provider", ProviderHetzner)
	} else {
		slog.Debug("skipping vps provider, no api token", "provider", ProviderHetzner)
	}
	if config.Sprites.APIToken != "" {
		registry[ProviderSprites] = NewSpritesProvider(mon, config.Sprites)
		slog.Info("registered vps provider", "provider", ProviderSprites)
	} else {
		slog.Debug("skipping vps provider, no api token", "provider", ProviderSprites)
	}
	if len(registry) == 0 {
		return nil, errors.New(
			"no vps providers configured " +
				"(set FLY_API_TOKEN, HETZNER_API_TOKEN, and/or SPRITES_API_TOKEN)",
		)
	}
	return registry, nil
}
