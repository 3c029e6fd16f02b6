// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/slopbox/slopbox/internal/conf"
)

const (
	// Public machines API endpoint.
	flyAPIURL = "https://api.machines.dev/v1"
	// Image to boot when the vps config does not pin one.
	flyDefaultImage = "ubuntu:24.04"
)

// Machines API payloads, reduced to the fields we use.
type flyGuestConfig struct {
	CPUs     int    `json:"cpus"`
	CPUKind  string `json:"cpu_kind"`
	MemoryMB int    `json:"memory_mb"`
}

type flyMachineFile struct {
	GuestPath string `json:"guest_path"`
	RawValue  string `json:"raw_value"`
}

type flyMachineConfig struct {
	Image       string            `json:"image"`
	Env         map[string]string `json:"env,omitempty"`
	Guest       flyGuestConfig    `json:"guest"`
	Files       []flyMachineFile  `json:"files,omitempty"`
	AutoDestroy bool              `json:"auto_destroy"`
}

type flyCreateMachineRequest struct {
	Name   string           `json:"name"`
	Region string           `json:"region"`
	Config flyMachineConfig `json:"config"`
}

type flyMachine struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	State     string  `json:"state"`
	Region    string  `json:"region"`
	PrivateIP *string `json:"private_ip"`
}

// Fly.io machines provider. Machines boot fast and bill per second, so
// start/stop map directly onto the machines API.
type flyProvider struct {
	// Monitor to track the provider requests.
	mon Monitor
	// Fly configuration.
	conf conf.FlyConfig
	// HTTP client to reach the machines API.
	client *http.Client
	// Base URL of the machines API, swapped out in tests.
	url string
}

func NewFlyProvider(mon Monitor, c conf.FlyConfig) VpsProvider {
	return &flyProvider{
		mon:    mon,
		conf:   c,
		client: &http.Client{Timeout: 60 * time.Second},
		url:    flyAPIURL,
	}
}

// Send a request against the machines API and decode the response into
// result if given. A 404 counts as success if allow404 is set, so deletes
// stay idempotent.
func (p *flyProvider) do(ctx context.Context, endpoint, method, path string, payload, result any, allow404 bool) (err error) {
	if p.mon.RequestTimer != nil {
		timer := prometheus.NewTimer(p.mon.RequestTimer.WithLabelValues(ProviderFly, endpoint))
		defer timer.ObserveDuration()
	}
	defer func() {
		if err != nil && p.mon.RequestErrors != nil {
			p.mon.RequestErrors.WithLabelValues(ProviderFly, endpoint).Inc()
		}
	}()

	var body io.Reader = http.NoBody
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.url+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.conf.APIToken)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("fly api %s failed: %w", endpoint, err)
	}
	defer resp.Body.Close()
	if allow404 && resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("fly api %s returned %d: %s", endpoint, resp.StatusCode, string(text))
	}
	if result != nil {
		return json.NewDecoder(resp.Body).Decode(result)
	}
	return nil
}

// Map cpu millicores to a machines performance preset.
func flyGuest(cpuMillicores, memoryMB int) flyGuestConfig {
	var cpus int
	var cpuKind string
	switch {
	case cpuMillicores <= 1000:
		cpus, cpuKind = 1, "shared"
	case cpuMillicores <= 2000:
		cpus, cpuKind = 2, "shared"
	case cpuMillicores <= 4000:
		cpus, cpuKind = 2, "performance"
	default:
		cpus, cpuKind = 4, "performance"
	}
	return flyGuestConfig{CPUs: cpus, CPUKind: cpuKind, MemoryMB: memoryMB}
}

// Map the machine state reported by the API to a vm state.
func flyState(state string) VMState {
	switch state {
	case "started":
		return VMStateRunning
	case "starting":
		return VMStateStarting
	case "stopped":
		return VMStateStopped
	case "destroyed", "destroying":
		return VMStateDestroyed
	default:
		return VMStateUnknown
	}
}

// Address the agent is reachable at. Falls back to the internal DNS name
// when the API did not report a private ip yet.
func (p *flyProvider) address(machine flyMachine) *string {
	if machine.PrivateIP != nil {
		return machine.PrivateIP
	}
	address := fmt.Sprintf("%s.vm.%s.internal", machine.ID, p.conf.AppName)
	return &address
}

func (p *flyProvider) CreateVps(ctx context.Context, spec VpsSpec) (VpsInfo, error) {
	image := flyDefaultImage
	if spec.Image != nil {
		image = *spec.Image
	}
	var files []flyMachineFile
	for _, file := range spec.Files {
		files = append(files, flyMachineFile{GuestPath: file.GuestPath, RawValue: file.RawValue})
	}
	payload := flyCreateMachineRequest{
		Name:   spec.Name,
		Region: p.conf.Region,
		Config: flyMachineConfig{
			Image: image,
			Env:   spec.Env,
			Guest: flyGuest(spec.CPUMillicores, spec.MemoryMB),
			Files: files,
		},
	}
	var machine flyMachine
	path := "/apps/" + p.conf.AppName + "/machines"
	if err := p.do(ctx, "create machine", http.MethodPost, path, payload, &machine, false); err != nil {
		return VpsInfo{}, err
	}
	slog.Info("fly: machine created", "machine", machine.ID, "state", machine.State)
	return VpsInfo{
		ID:      machine.ID,
		State:   flyState(machine.State),
		Address: p.address(machine),
	}, nil
}

func (p *flyProvider) StartVps(ctx context.Context, id string) error {
	path := "/apps/" + p.conf.AppName + "/machines/" + id + "/start"
	if err := p.do(ctx, "start machine", http.MethodPost, path, nil, nil, false); err != nil {
		return err
	}
	slog.Info("fly: machine started", "machine", id)
	return nil
}

func (p *flyProvider) StopVps(ctx context.Context, id string) error {
	path := "/apps/" + p.conf.AppName + "/machines/" + id + "/stop"
	if err := p.do(ctx, "stop machine", http.MethodPost, path, nil, nil, false); err != nil {
		return err
	}
	slog.Info("fly: machine stopped", "machine", id)
	return nil
}

func (p *flyProvider) DestroyVps(ctx context.Context, id string) error {
	path := "/apps/" + p.conf.AppName + "/machines/" + id
	if err := p.do(ctx, "delete machine", http.MethodDelete, path, nil, nil, true); err != nil {
		return err
	}
	slog.Info("fly: machine destroyed", "machine", id)
	return nil
}

func (p *flyProvider) GetVps(ctx context.Context, id string) (VpsInfo, error) {
	var machine flyMachine
	path := "/apps/" + p.conf.AppName + "/machines/" + id
	if err := p.do(ctx, "get machine", http.MethodGet, path, nil, &machine, false); err != nil {
		return VpsInfo{}, err
	}
	return VpsInfo{
		ID:      machine.ID,
		State:   flyState(machine.State),
		Address: p.address(machine),
	}, nil
}

func (p *flyProvider) Name() string {
	return ProviderFly
}

func (p *flyProvider) MeteredResources() MeteredResources {
	return MeteredResourcesFor(ProviderFly)
}
