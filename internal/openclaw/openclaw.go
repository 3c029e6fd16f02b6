// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package openclaw renders the locked-down agent runtime configuration
// and the workspace seed files injected into each VPS at provision time.
package openclaw

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/slopbox/slopbox/internal/providers"
)

// Port the agent gateway listens on inside each VPS.
const GatewayPort = 18789

// Guest path the rendered config is mounted at.
const ConfigGuestPath = "/root/.openclaw/openclaw.json"

// Guest directory holding the agent's editable workspace files.
const WorkspaceGuestDir = "/root/.openclaw/workspace"

// Filenames writable through the workspace api.
var allowedWorkspaceFiles = []string{
	"AGENTS.md",
	"SOUL.md",
	"IDENTITY.md",
	"TOOLS.md",
	"USER.md",
	"MEMORY.md",
	"BOOTSTRAP.md",
}

// Check if the given workspace file may be written through the api.
func AllowedWorkspaceFile(name string) bool {
	return slices.Contains(allowedWorkspaceFiles, name)
}

// Guest path of a workspace file.
func WorkspaceGuestPath(name string) string {
	return WorkspaceGuestDir + "/" + name
}

// Path of a workspace file as seen from inside the agent sandbox, where
// the workspace directory is bind-mounted at /workspace.
func SandboxWorkspacePath(name string) string {
	return "/workspace/" + name
}

// Parameters for building an agent config. Model and ToolsDeny are
// optional overrides; nil keeps the defaults.
type ConfigParams struct {
	AgentID   string
	Model     *string
	ToolsDeny *[]string
}

// Agent runtime configuration as serialized into openclaw.json.
type Config struct {
	Agents  AgentsConfig       `json:"agents"`
	Tools   ToolsConfig        `json:"tools"`
	Gateway AgentGatewayConfig `json:"gateway"`
	Hooks   HooksConfig        `json:"hooks"`
}

type AgentsConfig struct {
	Defaults AgentDefaults `json:"defaults"`
}

type AgentDefaults struct {
	Workspace string        `json:"workspace"`
	Model     *string       `json:"model,omitempty"`
	Sandbox   SandboxConfig `json:"sandbox"`
}

type SandboxConfig struct {
	Mode            string       `json:"mode"`
	Scope           string       `json:"scope"`
	WorkspaceAccess string       `json:"workspaceAccess"`
	Docker          DockerConfig `json:"docker"`
}

type DockerConfig struct {
	Network string            `json:"network"`
	Env     map[string]string `json:"env"`
}

type ToolsConfig struct {
	Profile  string         `json:"profile"`
	Deny     []string       `json:"deny"`
	Elevated ElevatedConfig `json:"elevated"`
}

type ElevatedConfig struct {
	Enabled bool `json:"enabled"`
}

type AgentGatewayConfig struct {
	Bind      string            `json:"bind"`
	Auth      GatewayAuthConfig `json:"auth"`
	Bonjour   bool              `json:"bonjour"`
	ControlUI ControlUIConfig   `json:"controlUi"`
}

type GatewayAuthConfig struct {
	Mode string `json:"mode"`
}

type ControlUIConfig struct {
	BasePath string `json:"basePath"`
}

type HooksConfig struct {
	Enabled bool `json:"enabled"`
}

// Build a locked-down agent config. The sandbox has no network of its
// own, so all outbound traffic is forced through the proxy env vars,
// and the gateway and nodes tools stay denied unless overridden.
func BuildConfig(params ConfigParams) Config {
	deny := []string{"gateway", "nodes"}
	if params.ToolsDeny != nil {
		deny = *params.ToolsDeny
	}

	return Config{
		Agents: AgentsConfig{
			Defaults: AgentDefaults{
				Workspace: "~/.openclaw/workspace",
				Model:     params.Model,
				Sandbox: SandboxConfig{
					Mode:            "all",
					Scope:           "agent",
					WorkspaceAccess: "readwrite",
					Docker: DockerConfig{
						Network: "none",
						Env:     map[string]string{},
					},
				},
			},
		},
		Tools: ToolsConfig{
			Profile:  "default",
			Deny:     deny,
			Elevated: ElevatedConfig{Enabled: false},
		},
		Gateway: AgentGatewayConfig{
			Bind:    fmt.Sprintf("0.0.0.0:%d", GatewayPort),
			Auth:    GatewayAuthConfig{Mode: "token"},
			Bonjour: false,
			ControlUI: ControlUIConfig{
				BasePath: fmt.Sprintf("/agents/%s/gateway", params.AgentID),
			},
		},
		Hooks: HooksConfig{Enabled: false},
	}
}

// Render a config to the pretty-printed json mounted on the guest.
func RenderConfig(config Config) string {
	buf, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		panic(err)
	}
	return string(buf)
}

// The rendered agent config as a file mount at its guest path.
func ConfigFile(params ConfigParams) providers.FileMount {
	return providers.FileMount{
		GuestPath: ConfigGuestPath,
		RawValue:  RenderConfig(BuildConfig(params)),
	}
}

// Workspace seed files injected at provision time.
func WorkspaceFiles(agentName string) []providers.FileMount {
	return []providers.FileMount{
		{
			GuestPath: WorkspaceGuestPath("IDENTITY.md"),
			RawValue:  fmt.Sprintf("# Identity\n\nYou are %s, a Slopbox agent.\n", agentName),
		},
		{
			GuestPath: WorkspaceGuestPath("SOUL.md"),
			RawValue:  "# Soul\n\nYou are a helpful assistant.\n",
		},
		{
			GuestPath: WorkspaceGuestPath("AGENTS.md"),
			RawValue:  "# Agents\n\nNo sub-agents configured.\n",
		},
	}
}
