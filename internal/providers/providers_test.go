// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package providers

import (
	"slices"
	"strings"
	"testing"

	"github.com/slopbox/slopbox/internal/conf"
)

func TestMeteredResourcesFor(t *testing.T) {
	for _, provider := range []string{ProviderFly, ProviderHetzner, ProviderSprites} {
		if MeteredResourcesFor(provider) != BandwidthOnly {
			t.Errorf("expected bandwidth-only metering for %s", provider)
		}
	}
	if MeteredResourcesFor("k8s") != AllResources {
		t.Error("expected all resources metered for unknown provider")
	}
}

func TestNewRegistryNoProviders(t *testing.T) {
	_, err := NewRegistry(conf.ProvidersConfig{}, Monitor{})
	if err == nil {
		t.Fatal("expected error when no provider is configured")
	}
	if !strings.Contains(err.Error(), "no vps providers configured") {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestNewRegistrySingleProvider(t *testing.T) {
	config := conf.ProvidersConfig{Fly: conf.FlyConfig{APIToken: "token"}}
	registry, err := NewRegistry(config, Monitor{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if _, ok := registry.Get(ProviderFly); !ok {
		t.Error("expected fly provider to be registered")
	}
	if _, ok := registry.Get(ProviderHetzner); ok {
		t.Error("expected hetzner provider to be skipped")
	}
	if _, ok := registry.Get(ProviderSprites); ok {
		t.Error("expected sprites provider to be skipped")
	}
}

func TestNewRegistryAllProviders(t *testing.T) {
	config := conf.ProvidersConfig{
		Fly:     conf.FlyConfig{APIToken: "token"},
		Hetzner: conf.HetznerConfig{APIToken: "token"},
		Sprites: conf.SpritesConfig{APIToken: "token"},
	}
	registry, err := NewRegistry(config, Monitor{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	expected := []string{ProviderFly, ProviderHetzner, ProviderSprites}
	if available := registry.Available(); !slices.Equal(available, expected) {
		t.Errorf("expected %v, got %v", expected, available)
	}
	for _, name := range expected {
		provider, ok := registry.Get(name)
		if !ok {
			t.Fatalf("expected provider %s to be registered", name)
		}
		if provider.Name() != name {
			t.Errorf("expected provider name %s, got %s", name, provider.Name())
		}
		if provider.MeteredResources() != BandwidthOnly {
			t.Errorf("expected bandwidth-only metering for %s", name)
		}
	}
}
