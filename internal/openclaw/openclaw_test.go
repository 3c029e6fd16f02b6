// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package openclaw

import (
	"encoding/json"
	"slices"
	"strings"
	"testing"
)

func TestBuildConfigDefaults(t *testing.T) {
	config := BuildConfig(ConfigParams{AgentID: "agent-1"})

	if config.Agents.Defaults.Workspace != "~/.openclaw/workspace" {
		t.Errorf("unexpected workspace: %s", config.Agents.Defaults.Workspace)
	}
	if config.Agents.Defaults.Model != nil {
		t.Errorf("expected no model, got %v", *config.Agents.Defaults.Model)
	}
	if !slices.Equal(config.Tools.Deny, []string{"gateway", "nodes"}) {
		t.Errorf("unexpected default deny list: %v", config.Tools.Deny)
	}
	if config.Gateway.Bind != "0.0.0.0:18789" {
		t.Errorf("unexpected gateway bind: %s", config.Gateway.Bind)
	}
	if config.Gateway.ControlUI.BasePath != "/agents/agent-1/gateway" {
		t.Errorf("unexpected control ui base path: %s", config.Gateway.ControlUI.BasePath)
	}
	if config.Tools.Elevated.Enabled || config.Hooks.Enabled || config.Gateway.Bonjour {
		t.Error("elevated tools, hooks, and bonjour must stay disabled")
	}
	if config.Agents.Defaults.Sandbox.Docker.Network != "none" {
		t.Errorf("unexpected sandbox network: %s", config.Agents.Defaults.Sandbox.Docker.Network)
	}
}

func TestBuildConfigOverrides(t *testing.T) {
	model := "sonnet-large"
	deny := []string{"browser"}
	config := BuildConfig(ConfigParams{AgentID: "agent-1", Model: &model, ToolsDeny: &deny})

	if config.Agents.Defaults.Model == nil || *config.Agents.Defaults.Model != "sonnet-large" {
		t.Errorf("expected model override, got %v", config.Agents.Defaults.Model)
	}
	if !slices.Equal(config.Tools.Deny, []string{"browser"}) {
		t.Errorf("expected deny override, got %v", config.Tools.Deny)
	}
}

func TestRenderConfig(t *testing.T) {
	rendered := RenderConfig(BuildConfig(ConfigParams{AgentID: "agent-1"}))

	var doc map[string]any
	if err := json.Unmarshal([]byte(rendered), &doc); err != nil {
		t.Fatalf("rendered config is not valid json: %v", err)
	}

	defaults := doc["agents"].(map[string]any)["defaults"].(map[string]any)
	if _, ok := defaults["model"]; ok {
		t.Error("model key must be omitted when unset")
	}
	sandbox := defaults["sandbox"].(map[string]any)
	if _, ok := sandbox["workspaceAccess"]; !ok {
		t.Error("expected camelCase workspaceAccess key")
	}
	dockerEnv, ok := sandbox["docker"].(map[string]any)["env"].(map[string]any)
	if !ok {
		t.Fatal("docker env must render as an object, not null")
	}
	if len(dockerEnv) != 0 {
		t.Errorf("expected empty docker env, got %v", dockerEnv)
	}
	gateway := doc["gateway"].(map[string]any)
	controlUI, ok := gateway["controlUi"].(map[string]any)
	if !ok {
		t.Fatal("expected camelCase controlUi key")
	}
	if controlUI["basePath"] != "/agents/agent-1/gateway" {
		t.Errorf("unexpected basePath: %v", controlUI["basePath"])
	}
	if gateway["auth"].(map[string]any)["mode"] != "token" {
		t.Error("gateway auth mode must be token")
	}

	// Pretty-printed for readability on the guest.
	if !strings.Contains(rendered, "\n  \"tools\"") {
		t.Error("expected indented json output")
	}
}

func TestRenderConfigWithModel(t *testing.T) {
	model := "sonnet-large"
	rendered := RenderConfig(BuildConfig(ConfigParams{AgentID: "agent-1", Model: &model}))

	var doc map[string]any
	if err := json.Unmarshal([]byte(rendered), &doc); err != nil {
		t.Fatal(err)
	}
	defaults := doc["agents"].(map[string]any)["defaults"].(map[string]any)
	if defaults["model"] != "sonnet-large" {
		t.Errorf("expected model in rendered config, got %v", defaults["model"])
	}
}

func TestConfigFile(t *testing.T) {
	file := ConfigFile(ConfigParams{AgentID: "agent-1"})
	if file.GuestPath != "/root/.openclaw/openclaw.json" {
		t.Errorf("unexpected guest path: %s", file.GuestPath)
	}
	if !strings.Contains(file.RawValue, `"deny"`) {
		t.Error("expected rendered config content")
	}
}

func TestWorkspaceFiles(t *testing.T) {
	files := WorkspaceFiles("mika")
	if len(files) != 3 {
		t.Fatalf("expected 3 workspace files, got %d", len(files))
	}
	if files[0].GuestPath != "/root/.openclaw/workspace/IDENTITY.md" {
		t.Errorf("unexpected identity path: %s", files[0].GuestPath)
	}
	if files[0].RawValue != "# Identity\n\nYou are mika, a Slopbox agent.\n" {
		t.Errorf("unexpected identity content: %q", files[0].RawValue)
	}
	if files[1].GuestPath != "/root/.openclaw/workspace/SOUL.md" {
		t.Errorf("unexpected soul path: %s", files[1].GuestPath)
	}
	if files[2].RawValue != "# Agents\n\nNo sub-agents configured.\n" {
		t.Errorf("unexpected agents content: %q", files[2].RawValue)
	}
}

func TestAllowedWorkspaceFile(t *testing.T) {
	for _, name := range []string{"AGENTS.md", "SOUL.md", "IDENTITY.md", "TOOLS.md", "USER.md", "MEMORY.md", "BOOTSTRAP.md"} {
		if !AllowedWorkspaceFile(name) {
			t.Errorf("expected %s to be allowed", name)
		}
	}
	for _, name := range []string{"EVIL.md", "../IDENTITY.md", "identity.md", "openclaw.json", ""} {
		if AllowedWorkspaceFile(name) {
			t.Errorf("expected %s to be rejected", name)
		}
	}
}

func TestWorkspacePaths(t *testing.T) {
	if got := WorkspaceGuestPath("SOUL.md"); got != "/root/.openclaw/workspace/SOUL.md" {
		t.Errorf("unexpected guest path: %s", got)
	}
	if got := SandboxWorkspacePath("SOUL.md"); got != "/workspace/SOUL.md" {
		t.Errorf("unexpected sandbox path: %s", got)
	}
}
