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
	"maps"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/slopbox/slopbox/internal/conf"
)

const (
	// Public cloud API endpoint.
	hetznerAPIURL = "https://api.hetzner.cloud/v1"
	// Image to boot when the vps config does not pin one.
	hetznerDefaultImage = "ubuntu-24.04"
)

// Cloud API payloads, reduced to the fields we use.
type hetznerFirewallRef struct {
	Firewall int64 `json:"firewall"`
}

type hetznerCreateServerRequest struct {
	Name             string               `json:"name"`
	ServerType       string               `json:"server_type"`
	Image            string               `json:"image"`
	Location         string               `json:"location,omitempty"`
	UserData         string               `json:"user_data,omitempty"`
	Networks         []int64              `json:"networks,omitempty"`
	Firewalls        []hetznerFirewallRef `json:"firewalls,omitempty"`
	SSHKeys          []string             `json:"ssh_keys,omitempty"`
	StartAfterCreate bool                 `json:"start_after_create"`
}

type hetznerPrivateNet struct {
	IP string `json:"ip"`
}

type hetznerServer struct {
	ID         int64               `json:"id"`
	Name       string              `json:"name"`
	Status     string              `json:"status"`
	PrivateNet []hetznerPrivateNet `json:"private_net"`
}

// Create and get responses wrap the server object.
type hetznerServerResponse struct {
	Server hetznerServer `json:"server"`
}

// Hetzner Cloud provider. Servers are fixed-allocation IaaS machines, so
// files and env vars are delivered through a cloud-init userdata document
// at create time.
type hetznerProvider struct {
	// Monitor to track the provider requests.
	mon Monitor
	// Hetzner configuration.
	conf conf.HetznerConfig
	// HTTP client to reach the cloud API.
	client *http.Client
	// Base URL of the cloud API, swapped out in tests.
	url string
}

func NewHetznerProvider(mon Monitor, c conf.HetznerConfig) VpsProvider {
	return &hetznerProvider{
		mon:    mon,
		conf:   c,
		client: &http.Client{Timeout: 60 * time.Second},
		url:    hetznerAPIURL,
	}
}

// Send a request against the cloud API and decode the response into result
// if given. A 404 counts as success if allow404 is set, so deletes stay
// idempotent.
func (p *hetznerProvider) do(ctx context.Context, endpoint, method, path string, payload, result any, allow404 bool) (err error) {
	if p.mon.RequestTimer != nil {
		timer := prometheus.NewTimer(p.mon.RequestTimer.WithLabelValues(ProviderHetzner, endpoint))
		defer timer.ObserveDuration()
	}
	defer func() {
		if err != nil && p.mon.RequestErrors != nil {
			p.mon.RequestErrors.WithLabelValues(ProviderHetzner, endpoint).Inc()
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
		return fmt.Errorf("hetzner api %s failed: %w", endpoint, err)
	}
	defer resp.Body.Close()
	if allow404 && resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("hetzner api %s returned %d: %s", endpoint, resp.StatusCode, string(text))
	}
	if result != nil {
		return json.NewDecoder(resp.Body).Decode(result)
	}
	return nil
}

// Map the server status reported by the API to a vm state.
func hetznerState(status string) VMState {
	switch status {
	case "running":
		return VMStateRunning
	case "initializing", "starting":
		return VMStateStarting
	case "off", "stopping":
		return VMStateStopped
	case "deleting":
		return VMStateDestroyed
	default:
		return VMStateUnknown
	}
}

// Map cpu millicores and memory to a server type. First matching row wins.
func hetznerServerType(cpuMillicores, memoryMB int) string {
	switch {
	case cpuMillicores <= 1000 && memoryMB <= 2048:
		return "cpx11"
	case cpuMillicores <= 2000 && memoryMB <= 4096:
		return "cpx21"
	case cpuMillicores <= 4000 && memoryMB <= 8192:
		return "cpx31"
	default:
		return "cpx41"
	}
}

// Cloud-init userdata that writes the spec files, exports env vars into
// /etc/slopbox/env, and starts the agent service baked into the image.
// Env vars are sorted so the document stays stable for equal specs.
func hetznerUserData(spec VpsSpec) string {
	var doc strings.Builder
	doc.WriteString("#cloud-config\nruncmd:\n")
	doc.WriteString("  - mkdir -p /etc/slopbox\n")
	for _, key := range slices.Sorted(maps.Keys(spec.Env)) {
		fmt.Fprintf(&doc, "  - echo '%s=%s' >> /etc/slopbox/env\n", key, spec.Env[key])
	}
	for _, file := range spec.Files {
		doc.WriteString("  - |\n")
		fmt.Fprintf(&doc, "    mkdir -p $(dirname %s)\n", file.GuestPath)
		fmt.Fprintf(&doc, "    cat > %s << 'SLOPBOX_EOF'\n", file.GuestPath)
		content := strings.TrimSuffix(file.RawValue, "\n")
		for _, line := range strings.Split(content, "\n") {
			doc.WriteString("    " + line + "\n")
		}
		doc.WriteString("    SLOPBOX_EOF\n")
	}
	doc.WriteString("  - systemctl start slopbox-agent\n")
	return doc.String()
}

// Server ids are integers on the wire but opaque strings everywhere else.
func hetznerServerID(id string) (int64, error) {
	parsed, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid hetzner server id: %q", id)
	}
	return parsed, nil
}

// First private network ip, or nil if the server has none attached.
func hetznerAddress(server hetznerServer) *string {
	if len(server.PrivateNet) == 0 || server.PrivateNet[0].IP == "" {
		return nil
	}
	return &server.PrivateNet[0].IP
}

func (p *hetznerProvider) CreateVps(ctx context.Context, spec VpsSpec) (VpsInfo, error) {
	image := hetznerDefaultImage
	if spec.Image != nil {
		image = *spec.Image
	}
	payload := hetznerCreateServerRequest{
		Name:             spec.Name,
		ServerType:       hetznerServerType(spec.CPUMillicores, spec.MemoryMB),
		Image:            image,
		Location:         p.conf.Location,
		UserData:         hetznerUserData(spec),
		SSHKeys:          p.conf.SSHKeyNames,
		StartAfterCreate: true,
	}
	if p.conf.NetworkID != 0 {
		payload.Networks = []int64{p.conf.NetworkID}
	}
	if p.conf.FirewallID != 0 {
		payload.Firewalls = []hetznerFirewallRef{{Firewall: p.conf.FirewallID}}
	}
	var result hetznerServerResponse
	if err := p.do(ctx, "create server", http.MethodPost, "/servers", payload, &result, false); err != nil {
		return VpsInfo{}, err
	}
	server := result.Server
	slog.Info("hetzner: server created", "server", server.ID, "status", server.Status)
	return VpsInfo{
		ID:      strconv.FormatInt(server.ID, 10),
		State:   hetznerState(server.Status),
		Address: hetznerAddress(server),
	}, nil
}

func (p *hetznerProvider) StartVps(ctx context.Context, id string) error {
	serverID, err := hetznerServerID(id)
	if err != nil {
		return err
	}
	path := fmt.Sprintf("/servers/%d/actions/poweron", serverID)
	if err := p.do(ctx, "power on server", http.MethodPost, path, nil, nil, false); err != nil {
		return err
	}
	slog.Info("hetzner: server started", "server", id)
	return nil
}

func (p *hetznerProvider) StopVps(ctx context.Context, id string) error {
	serverID, err := hetznerServerID(id)
	if err != nil {
		return err
	}
	path := fmt.Sprintf("/servers/%d/actions/shutdown", serverID)
	if err := p.do(ctx, "shutdown server", http.MethodPost, path, nil, nil, false); err != nil {
		return err
	}
	slog.Info("hetzner: server stopped", "server", id)
	return nil
}

func (p *hetznerProvider) DestroyVps(ctx context.Context, id string) error {
	serverID, err := hetznerServerID(id)
	if err != nil {
		return err
	}
	path := fmt.Sprintf("/servers/%d", serverID)
	if err := p.do(ctx, "delete server", http.MethodDelete, path, nil, nil, true); err != nil {
		return err
	}
	slog.Info("hetzner: server destroyed", "server", id)
	return nil
}

func (p *hetznerProvider) GetVps(ctx context.Context, id string) (VpsInfo, error) {
	serverID, err := hetznerServerID(id)
	if err != nil {
		return VpsInfo{}, err
	}
	var result hetznerServerResponse
	path := fmt.Sprintf("/servers/%d", serverID)
	if err := p.do(ctx, "get server", http.MethodGet, path, nil, &result, false); err != nil {
		return VpsInfo{}, err
	}
	server := result.Server
	return VpsInfo{
		ID:      strconv.FormatInt(server.ID, 10),
		State:   hetznerState(server.Status),
		Address: hetznerAddress(server),
	}, nil
}

func (p *hetznerProvider) Name() string {
	return ProviderHetzner
}

func (p *hetznerProvider) MeteredResources() MeteredResources {
	return MeteredResourcesFor(ProviderHetzner)
}
