// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package providers

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/slopbox/slopbox/internal/conf"
)

const (
	// Name of the agent service managed on each sprite.
	spritesServiceName = "openclaw"
	// Port the agent gateway listens on inside the sprite.
	spritesGatewayPort = 18789
)

// Sprites container provider. Creating a vps is a multi-step provisioning
// run (create, install docker, install the agent, write files and env,
// register and start the service). A failed run deletes the sprite again
// so half-provisioned containers do not leak.
type spritesProvider struct {
	client *spritesClient
}

func NewSpritesProvider(mon Monitor, c conf.SpritesConfig) VpsProvider {
	return &spritesProvider{client: newSpritesClient(mon, c.APIToken)}
}

// Execute a command on the sprite and fail on a non-zero exit code.
func (p *spritesProvider) execChecked(ctx context.Context, name string, cmd ...string) (string, error) {
	result, err := p.client.exec(ctx, name, cmd, nil)
	if err != nil {
		return "", err
	}
	exitCode := -1
	if result.ExitCode != nil {
		exitCode = *result.ExitCode
	}
	if exitCode != 0 {
		return "", fmt.Errorf(
			"sprites: command %v failed (exit %d): %s%s",
			cmd, exitCode, result.Stderr, result.Stdout,
		)
	}
	return result.Stdout, nil
}

// Write a file onto the sprite via exec and stdin.
func (p *spritesProvider) writeFile(ctx context.Context, name, path, content string) error {
	result, err := p.client.exec(ctx, name, []string{"tee", path}, &content)
	if err != nil {
		return err
	}
	exitCode := -1
	if result.ExitCode != nil {
		exitCode = *result.ExitCode
	}
	if exitCode != 0 {
		return fmt.Errorf("sprites: write to %s failed (exit %d): %s", path, exitCode, result.Stderr)
	}
	return nil
}

// Install docker and wait for the daemon to accept connections.
func (p *spritesProvider) installDocker(ctx context.Context, name string) error {
	if _, err := p.execChecked(
		ctx, name, "sh", "-c", "apt-get update && apt-get install -y docker.io",
	); err != nil {
		return err
	}
	_, err := p.execChecked(
		ctx, name, "sh", "-c",
		"dockerd &>/dev/null & "+
			"for i in $(seq 1 30); do docker info &>/dev/null && break; sleep 1; done; "+
			"docker info &>/dev/null",
	)
	return err
}

// Install the agent cli via npm.
func (p *spritesProvider) installAgent(ctx context.Context, name string) error {
	_, err := p.execChecked(ctx, name, "npm", "install", "-g", "openclaw")
	return err
}

func (p *spritesProvider) CreateVps(ctx context.Context, spec VpsSpec) (VpsInfo, error) {
	created, err := p.client.createSprite(ctx, spec.Name)
	if err != nil {
		return VpsInfo{}, err
	}
	info, err := p.provision(ctx, created.Name, spec)
	if err != nil {
		slog.Error("sprites: provisioning failed, cleaning up", "sprite", created.Name, "error", err)
		if deleteErr := p.client.deleteSprite(ctx, created.Name); deleteErr != nil {
			slog.Error("sprites: cleanup failed", "sprite", created.Name, "error", deleteErr)
		}
		return VpsInfo{}, err
	}
	return info, nil
}

// Run the provisioning steps on a freshly created sprite.
func (p *spritesProvider) provision(ctx context.Context, name string, spec VpsSpec) (VpsInfo, error) {
	slog.Info("sprites: installing docker", "sprite", name)
	if err := p.installDocker(ctx, name); err != nil {
		return VpsInfo{}, err
	}

	slog.Info("sprites: installing agent", "sprite", name)
	if err := p.installAgent(ctx, name); err != nil {
		return VpsInfo{}, err
	}

	slog.Info("sprites: writing config files", "sprite", name, "files", len(spec.Files))
	for _, file := range spec.Files {
		if parent := parentDir(file.GuestPath); parent != "" {
			if _, err := p.execChecked(ctx, name, "mkdir", "-p", parent); err != nil {
				return VpsInfo{}, err
			}
		}
		if err := p.writeFile(ctx, name, file.GuestPath, file.RawValue); err != nil {
			return VpsInfo{}, err
		}
	}

	if len(spec.Env) > 0 {
		if _, err := p.execChecked(ctx, name, "mkdir", "-p", "/etc/slopbox"); err != nil {
			return VpsInfo{}, err
		}
		var env strings.Builder
		for _, key := range slices.Sorted(maps.Keys(spec.Env)) {
			fmt.Fprintf(&env, "export %s=%s\n", key, spec.Env[key])
		}
		if err := p.writeFile(ctx, name, "/etc/slopbox/env", env.String()); err != nil {
			return VpsInfo{}, err
		}
	}

	slog.Info("sprites: creating agent service", "sprite", name)
	cmd := "exec openclaw gateway run"
	if len(spec.Env) > 0 {
		cmd = "source /etc/slopbox/env && " + cmd
	}
	err := p.client.createService(ctx, name, spritesServiceName, spriteCreateServiceRequest{
		Cmd:      "sh",
		Args:     []string{"-c", cmd},
		HTTPPort: spritesGatewayPort,
	})
	if err != nil {
		return VpsInfo{}, err
	}

	slog.Info("sprites: starting agent service", "sprite", name)
	if err := p.client.startService(ctx, name, spritesServiceName); err != nil {
		return VpsInfo{}, err
	}

	// The sprite url doubles as the reachable address.
	fetched, err := p.client.getSprite(ctx, name)
	if err != nil {
		return VpsInfo{}, err
	}
	return VpsInfo{
		ID:      fetched.Name,
		State:   VMStateRunning,
		Address: &fetched.URL,
	}, nil
}

func (p *spritesProvider) StartVps(ctx context.Context, id string) error {
	return p.client.startService(ctx, id, spritesServiceName)
}

func (p *spritesProvider) StopVps(ctx context.Context, id string) error {
	return p.client.stopService(ctx, id, spritesServiceName)
}

func (p *spritesProvider) DestroyVps(ctx context.Context, id string) error {
	return p.client.deleteSprite(ctx, id)
}

func (p *spritesProvider) GetVps(ctx context.Context, id string) (VpsInfo, error) {
	fetched, err := p.client.getSprite(ctx, id)
	if err != nil {
		return VpsInfo{}, err
	}
	// A running sprite does not imply a running agent, so refine the state
	// through the service if possible.
	var state VMState
	switch fetched.Status {
	case "running":
		state = VMStateRunning
		if service, err := p.client.getService(ctx, id, spritesServiceName); err == nil {
			if service.State == nil || service.State.Status != "running" {
				state = VMStateStopped
			}
		}
	default: // cold, warm
		state = VMStateStopped
	}
	return VpsInfo{
		ID:      fetched.Name,
		State:   state,
		Address: &fetched.URL,
	}, nil
}

// Write a guest file on a provisioned sprite, creating parent
// directories as needed. Satisfies FileWriter.
func (p *spritesProvider) WriteVpsFile(ctx context.Context, id, path, content string) error {
	if parent := parentDir(path); parent != "" {
		if _, err := p.execChecked(ctx, id, "mkdir", "-p", parent); err != nil {
			return err
		}
	}
	return p.writeFile(ctx, id, path, content)
}

func (p *spritesProvider) Name() string {
	return ProviderSprites
}

func (p *spritesProvider) MeteredResources() MeteredResources {
	return MeteredResourcesFor(ProviderSprites)
}

// Parent directory of a guest path, or empty if it has none.
func parentDir(path string) string {
	index := strings.LastIndex(path, "/")
	if index <= 0 {
		return ""
	}
	return path[:index]
}
