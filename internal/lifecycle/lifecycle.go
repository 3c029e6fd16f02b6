// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package lifecycle orchestrates VPS state transitions. All writes to
// the vps state column outside the enforcement monitor go through the
// Service, which talks to the configured providers, records
// transitions, and announces them over mqtt.
package lifecycle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/slopbox/slopbox/internal/api"
	"github.com/slopbox/slopbox/internal/conf"
	"github.com/slopbox/slopbox/internal/db"
	"github.com/slopbox/slopbox/internal/models"
	"github.com/slopbox/slopbox/internal/mqtt"
	"github.com/slopbox/slopbox/internal/openclaw"
	"github.com/slopbox/slopbox/internal/providers"
)

// Gateway health probes give up after this long.
const healthProbeTimeout = 5 * time.Second

type Service struct {
	db         db.DB
	providers  providers.Registry
	mqttClient mqtt.Client
	monitor    Monitor
	httpClient *http.Client
	// External address agents use to reach the forward proxy.
	proxyAddr string
	// Age above which provisioning rows count as stuck.
	stuckAfter time.Duration
	// Port of the in-vps gateway, fixed outside of tests.
	gatewayPort int
}

// NewService builds the orchestrator. The mqtt client may be nil when
// no broker is configured; state events are then dropped.
func NewService(
	d db.DB,
	registry providers.Registry,
	client mqtt.Client,
	monitor Monitor,
	proxyConf conf.ProxyConfig,
	monitorConf conf.MonitorConfig,
) *Service {
	return &Service{
		db:          d,
		providers:   registry,
		mqttClient:  client,
		monitor:     monitor,
		httpClient:  &http.Client{},
		proxyAddr:   proxyConf.ExternalAddr,
		stuckAfter:  time.Duration(monitorConf.CleanupStuckAfterMins) * time.Minute,
		gatewayPort: openclaw.GatewayPort,
	}
}

// OwnedAgent fetches an agent, masking rows owned by other users as not
// found so tenants cannot probe for foreign agent ids.
func (s *Service) OwnedAgent(userID, agentID string) (models.Agent, error) {
	agent, err := models.GetAgentByID(s.db, agentID)
	if err != nil {
		return models.Agent{}, api.NotFound()
	}
	if agent.UserID != userID {
		return models.Agent{}, api.NotFound()
	}
	return agent, nil
}

// AgentVps resolves the agent and its attached VPS. Detached agents and
// dangling vps references mask as not found like foreign agents do.
func (s *Service) AgentVps(userID, agentID string) (models.Agent, models.Vps, error) {
	agent, err := s.OwnedAgent(userID, agentID)
	if err != nil {
		return models.Agent{}, models.Vps{}, err
	}
	if agent.VpsID == nil {
		return models.Agent{}, models.Vps{}, api.NotFound()
	}
	vps, err := models.GetVpsByID(s.db, *agent.VpsID)
	if err != nil {
		return models.Agent{}, models.Vps{}, api.NotFound()
	}
	return agent, vps, nil
}

// RunningAgentVps is AgentVps with the additional requirement that the
// VPS is running. Config pushes, restarts, and health probes need a
// live gateway to talk to.
func (s *Service) RunningAgentVps(userID, agentID string) (models.Agent, models.Vps, error) {
	agent, vps, err := s.AgentVps(userID, agentID)
	if err != nil {
		return agent, vps, err
	}
	if vps.State != models.VpsStateRunning {
		return agent, vps, api.Conflict(fmt.Sprintf("VPS is not running (state: %s)", vps.State))
	}
	return agent, vps, nil
}

// Provision creates a VPS for the agent: plan and limit gates, insert
// in provisioning state, provider create, then refs update and the
// transition to running. A failed provider create leaves the row in
// provisioning state for CleanupStuck to reap.
func (s *Service) Provision(ctx context.Context, userID, agentID, vpsConfigID string) (models.Vps, error) {
	agent, err := s.OwnedAgent(userID, agentID)
	if err != nil {
		return models.Vps{}, err
	}
	if agent.VpsID != nil {
		return models.Vps{}, api.Conflict("agent already has a VPS")
	}

	user, err := models.GetUserByID(s.db, userID)
	if err != nil {
		return models.Vps{}, err
	}
	if user.PlanID == nil {
		return models.Vps{}, api.LimitExceeded("user has no plan")
	}
	plan, err := models.GetPlanByID(s.db, *user.PlanID)
	if err != nil {
		return models.Vps{}, err
	}

	count, err := models.CountVpsesForUser(s.db, userID)
	if err != nil {
		return models.Vps{}, err
	}
	if count >= plan.MaxVpses {
		return models.Vps{}, api.LimitExceeded(fmt.Sprintf("VPS limit reached (%d/%d)", count, plan.MaxVpses))
	}

	allowed, err := models.ListVpsConfigsForPlan(s.db, plan.ID)
	if err != nil {
		return models.Vps{}, err
	}
	if !slices.ContainsFunc(allowed, func(c models.VpsConfig) bool { return c.ID == vpsConfigID }) {
		return models.Vps{}, api.BadRequest("VPS config not available on your plan")
	}
	vpsConfig, err := models.GetVpsConfigByID(s.db, vpsConfigID)
	if err != nil {
		return models.Vps{}, err
	}

	if !knownProvider(vpsConfig.Provider) {
		return models.Vps{}, api.Internal("unknown provider in VPS config: " + vpsConfig.Provider)
	}
	provider, ok := s.providers.Get(vpsConfig.Provider)
	if !ok {
		return models.Vps{}, api.BadRequest("provider not available: " + vpsConfig.Provider)
	}

	vpsName := "agent-" + agentID
	vps, err := models.InsertVps(s.db, userID, vpsConfigID, vpsName, vpsConfig.Provider)
	if err != nil {
		return models.Vps{}, err
	}
	if err := models.AssignAgentVps(s.db, agentID, &vps.ID); err != nil {
		return models.Vps{}, err
	}

	// All outbound traffic from the VPS flows through the forward proxy,
	// authenticated with the agent's gateway token.
	proxyURL := fmt.Sprintf("https://%s:%s@%s", agent.ID, agent.GatewayToken, s.proxyAddr)
	env := map[string]string{
		"OPENCLAW_GATEWAY_TOKEN": agent.GatewayToken,
		"HTTP_PROXY":             proxyURL,
		"HTTPS_PROXY":            proxyURL,
		"http_proxy":             proxyURL,
		"https_proxy":            proxyURL,
	}

	files := []providers.FileMount{
		openclaw.ConfigFile(openclaw.ConfigParams{AgentID: agent.ID}),
	}
	files = append(files, openclaw.WorkspaceFiles(agent.Name)...)

	info, err := provider.CreateVps(ctx, providers.VpsSpec{
		Name:          vpsName,
		Image:         vpsConfig.Image,
		Location:      vpsConfig.Location,
		CPUMillicores: vpsConfig.CPUMillicores,
		MemoryMB:      vpsConfig.MemoryMB,
		Env:           env,
		Files:         files,
	})
	if err != nil {
		slog.Error("failed to create VPS",
			"vps", vps.ID, "provider", vpsConfig.Provider, "error", err)
		return models.Vps{}, api.Infra(err)
	}

	if err := models.UpdateVpsProviderRefs(s.db, vps.ID, &info.ID, info.Address); err != nil {
		return models.Vps{}, err
	}
	if err := s.setState(vps, &agent.ID, models.VpsStateRunning); err != nil {
		return models.Vps{}, err
	}
	return models.GetVpsByID(s.db, vps.ID)
}

// Start a stopped VPS attached to the agent.
func (s *Service) Start(ctx context.Context, userID, agentID string) (models.Vps, error) {
	agent, vps, err := s.AgentVps(userID, agentID)
	if err != nil {
		return models.Vps{}, err
	}
	if vps.State != models.VpsStateStopped {
		return models.Vps{}, api.Conflict(fmt.Sprintf("VPS is %s, expected stopped", vps.State))
	}
	if vps.ProviderVMID == nil {
		return models.Vps{}, api.Internal("VPS has no provider VM ID")
	}
	provider, err := s.providerFor(vps)
	if err != nil {
		return models.Vps{}, err
	}
	if err := provider.StartVps(ctx, *vps.ProviderVMID); err != nil {
		return models.Vps{}, api.Infra(err)
	}
	if err := s.setState(vps, &agent.ID, models.VpsStateRunning); err != nil {
		return models.Vps{}, err
	}
	return models.GetVpsByID(s.db, vps.ID)
}

// Stop a running VPS attached to the agent.
func (s *Service) Stop(ctx context.Context, userID, agentID string) (models.Vps, error) {
	agent, vps, err := s.AgentVps(userID, agentID)
	if err != nil {
		return models.Vps{}, err
	}
	if vps.State != models.VpsStateRunning {
		return models.Vps{}, api.Conflict(fmt.Sprintf("VPS is %s, expected running", vps.State))
	}
	if vps.ProviderVMID == nil {
		return models.Vps{}, api.Internal("VPS has no provider VM ID")
	}
	provider, err := s.providerFor(vps)
	if err != nil {
		return models.Vps{}, err
	}
	if err := provider.StopVps(ctx, *vps.ProviderVMID); err != nil {
		return models.Vps{}, api.Infra(err)
	}
	if err := s.setState(vps, &agent.ID, models.VpsStateStopped); err != nil {
		return models.Vps{}, err
	}
	return models.GetVpsByID(s.db, vps.ID)
}

// Destroy the agent's VPS and detach it from the agent.
func (s *Service) Destroy(ctx context.Context, userID, agentID string) error {
	_, vps, err := s.AgentVps(userID, agentID)
	if err != nil {
		return err
	}
	return s.DestroyVps(ctx, vps)
}

// DestroyVps destroys a VPS permanently and detaches any agent still
// pointing at it. Destroyed is terminal: destroying again conflicts.
// The provider-side destroy is best-effort so rows whose vm is already
// gone still reach the destroyed state.
func (s *Service) DestroyVps(ctx context.Context, vps models.Vps) error {
	if vps.State == models.VpsStateDestroyed {
		return api.Conflict("VPS is already destroyed")
	}
	s.destroyAtProvider(ctx, vps)
	if err := s.setState(vps, nil, models.VpsStateDestroyed); err != nil {
		return err
	}
	return s.detachAgents(vps.ID)
}

// AdminStopVps stops a running VPS without ownership checks.
func (s *Service) AdminStopVps(ctx context.Context, vps models.Vps) error {
	if vps.State != models.VpsStateRunning {
		return api.Conflict("VPS is not running")
	}
	if vps.ProviderVMID == nil {
		return api.Internal("VPS has no provider VM ID")
	}
	provider, err := s.providerFor(vps)
	if err != nil {
		return err
	}
	if err := provider.StopVps(ctx, *vps.ProviderVMID); err != nil {
		return api.Infra(err)
	}
	return s.setState(vps, nil, models.VpsStateStopped)
}

// DeleteAgent removes the agent, destroying its attached VPS first if
// one is still alive.
func (s *Service) DeleteAgent(ctx context.Context, agent models.Agent) error {
	if agent.VpsID != nil {
		vps, err := models.GetVpsByID(s.db, *agent.VpsID)
		if err == nil && vps.State != models.VpsStateDestroyed {
			s.destroyAtProvider(ctx, vps)
			if err := s.setState(vps, &agent.ID, models.VpsStateDestroyed); err != nil {
				return err
			}
		}
	}
	return models.DeleteAgent(s.db, agent.ID)
}

// CleanupStuck reaps VPSes sitting in provisioning state beyond the
// configured threshold, left behind by failed provider creates. Returns
// how many rows were cleaned.
func (s *Service) CleanupStuck(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-s.stuckAfter)
	stuck, err := models.ListStuckProvisioning(s.db, cutoff)
	if err != nil {
		return 0, err
	}
	for _, vps := range stuck {
		s.destroyAtProvider(ctx, vps)
		if err := s.setState(vps, nil, models.VpsStateDestroyed); err != nil {
			return 0, err
		}
		if err := s.detachAgents(vps.ID); err != nil {
			return 0, err
		}
	}
	return len(stuck), nil
}

// Restart the agent runtime by bouncing the VPS through the provider.
// On sprites this stops and starts the agent service without touching
// the container. The row stays running throughout.
func (s *Service) Restart(ctx context.Context, userID, agentID string) error {
	_, vps, err := s.RunningAgentVps(userID, agentID)
	if err != nil {
		return err
	}
	if vps.ProviderVMID == nil {
		return api.Internal("VPS has no provider VM ID")
	}
	provider, err := s.providerFor(vps)
	if err != nil {
		return err
	}
	if err := provider.StopVps(ctx, *vps.ProviderVMID); err != nil {
		return api.Infra(err)
	}
	if err := provider.StartVps(ctx, *vps.ProviderVMID); err != nil {
		return api.Infra(err)
	}
	return nil
}

// PushConfig rebuilds the agent runtime config with the given overrides
// and pushes it onto the VPS.
func (s *Service) PushConfig(ctx context.Context, userID, agentID string, model *string, toolsDeny *[]string) error {
	agent, vps, err := s.RunningAgentVps(userID, agentID)
	if err != nil {
		return err
	}
	content := openclaw.RenderConfig(openclaw.BuildConfig(openclaw.ConfigParams{
		AgentID:   agent.ID,
		Model:     model,
		ToolsDeny: toolsDeny,
	}))
	return s.pushFile(ctx, agent, vps, openclaw.ConfigGuestPath, openclaw.ConfigGuestPath, content)
}

// PushWorkspaceFile writes an allowlisted workspace file onto the
// agent's VPS.
func (s *Service) PushWorkspaceFile(ctx context.Context, userID, agentID, filename, content string) error {
	if !openclaw.AllowedWorkspaceFile(filename) {
		return api.BadRequest("file not allowed: " + filename)
	}
	agent, vps, err := s.RunningAgentVps(userID, agentID)
	if err != nil {
		return err
	}
	return s.pushFile(ctx, agent, vps,
		openclaw.WorkspaceGuestPath(filename), openclaw.SandboxWorkspacePath(filename), content)
}

// Health probes the agent gateway with the agent's bearer token.
// Network errors degrade to unreachable instead of failing the request.
func (s *Service) Health(ctx context.Context, userID, agentID string) (bool, error) {
	agent, vps, err := s.RunningAgentVps(userID, agentID)
	if err != nil {
		return false, err
	}
	address, err := vpsAddress(vps)
	if err != nil {
		return false, err
	}

	probeCtx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()
	url := fmt.Sprintf("http://%s:%d/", address, s.gatewayPort)
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, url, nil)
	if err != nil {
		return false, nil
	}
	req.Header.Set("Authorization", "Bearer "+agent.GatewayToken)
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false, nil
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 400, nil
}

// Push a file onto the VPS. Providers that can write guest files do so
// directly and restart the agent service to pick up the change; the
// rest receive the write through the in-vps gateway, which applies it
// without a restart. The two paths differ because the gateway's write
// tool resolves paths inside the sandbox.
func (s *Service) pushFile(ctx context.Context, agent models.Agent, vps models.Vps, hostPath, sandboxPath, content string) error {
	provider, err := s.providerFor(vps)
	if err != nil {
		return err
	}
	writer, ok := provider.(providers.FileWriter)
	if !ok {
		return s.gatewayWrite(ctx, agent, vps, sandboxPath, content)
	}
	if vps.ProviderVMID == nil {
		return api.Internal("VPS has no provider VM ID")
	}
	if err := writer.WriteVpsFile(ctx, *vps.ProviderVMID, hostPath, content); err != nil {
		return api.Infra(err)
	}
	if err := provider.StopVps(ctx, *vps.ProviderVMID); err != nil {
		return api.Infra(err)
	}
	if err := provider.StartVps(ctx, *vps.ProviderVMID); err != nil {
		return api.Infra(err)
	}
	return nil
}

// Write a file through the gateway's tool dispatch endpoint.
func (s *Service) gatewayWrite(ctx context.Context, agent models.Agent, vps models.Vps, path, content string) error {
	address, err := vpsAddress(vps)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(map[string]any{
		"tool":   "write",
		"params": map[string]string{"path": path, "content": content},
	})
	if err != nil {
		return api.Internal("gateway request failed: " + err.Error())
	}

	url := fmt.Sprintf("http://%s:%d/tools/invoke", address, s.gatewayPort)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return api.Internal("gateway request failed: " + err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+agent.GatewayToken)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return api.Internal("gateway request failed: " + err.Error())
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return api.Internal(fmt.Sprintf("gateway returned %s: %s", resp.Status, string(body)))
	}
	return nil
}

// Best-effort provider-side destroy. Failures are logged only, so the
// state transition proceeds regardless.
func (s *Service) destroyAtProvider(ctx context.Context, vps models.Vps) {
	if vps.ProviderVMID == nil {
		return
	}
	provider, err := s.providerFor(vps)
	if err != nil {
		slog.Warn("skipping provider destroy", "vps", vps.ID, "error", err)
		return
	}
	if err := provider.DestroyVps(ctx, *vps.ProviderVMID); err != nil {
		slog.Warn("provider destroy failed",
			"vps", vps.ID, "provider", vps.Provider, "error", err)
	}
}

// Detach all agents still pointing at the VPS.
func (s *Service) detachAgents(vpsID string) error {
	agents, err := models.ListAgentsByVpsID(s.db, vpsID)
	if err != nil {
		return err
	}
	for _, agent := range agents {
		if err := models.AssignAgentVps(s.db, agent.ID, nil); err != nil {
			return err
		}
	}
	return nil
}

// Persist a state transition, count it, and announce it over mqtt.
func (s *Service) setState(vps models.Vps, agentID *string, state models.VpsState) error {
	if err := models.SetVpsState(s.db, vps.ID, state); err != nil {
		return err
	}
	if s.monitor.stateTransitions != nil {
		s.monitor.stateTransitions.WithLabelValues(vps.Provider, string(state)).Inc()
	}
	PublishState(s.mqttClient, vps, agentID, state)
	return nil
}

// Resolve the configured provider for a VPS row.
func (s *Service) providerFor(vps models.Vps) (providers.VpsProvider, error) {
	if !knownProvider(vps.Provider) {
		return nil, api.Internal("unknown provider in VPS config: " + vps.Provider)
	}
	provider, ok := s.providers.Get(vps.Provider)
	if !ok {
		return nil, api.Internal("provider not configured: " + vps.Provider)
	}
	return provider, nil
}

func knownProvider(name string) bool {
	switch name {
	case providers.ProviderFly, providers.ProviderHetzner, providers.ProviderSprites:
		return true
	}
	return false
}

func vpsAddress(vps models.Vps) (string, error) {
	if vps.Address == nil {
		return "", api.Internal("VPS has no address")
	}
	return *vps.Address, nil
}
