// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package providers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"

	"github.com/slopbox/slopbox/internal/conf"
)

func setupSpritesProvider(t *testing.T, handler http.HandlerFunc) *spritesProvider {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	provider := NewSpritesProvider(Monitor{}, conf.SpritesConfig{APIToken: "token"}).(*spritesProvider)
	provider.client.url = server.URL
	return provider
}

func TestSpritesCreateVps(t *testing.T) {
	spriteJSON := `{"id": "s1", "name": "agent-1", "status": "running", "url": "https://agent-1.sprites.dev"}`
	var execCmds [][]string
	var envBody string
	var serviceReq map[string]any
	provider := setupSpritesProvider(t, func(w http.ResponseWriter, r *http.Request) {
		switch key := r.Method + " " + r.URL.Path; key {
		case "POST /sprites":
			if _, err := w.Write([]byte(spriteJSON)); err != nil {
				t.Fatalf("failed to write response: %v", err)
			}
		case "POST /sprites/agent-1/exec":
			cmd := r.URL.Query()["cmd"]
			execCmds = append(execCmds, cmd)
			if len(cmd) == 2 && cmd[0] == "tee" && cmd[1] == "/etc/slopbox/env" {
				body, err := io.ReadAll(r.Body)
				if err != nil {
					t.Fatalf("failed to read stdin body: %v", err)
				}
				envBody = string(body)
			}
			if _, err := w.Write([]byte(`{"stdout": "", "stderr": "", "exit_code": 0}`)); err != nil {
				t.Fatalf("failed to write response: %v", err)
			}
		case "PUT /sprites/agent-1/services/openclaw":
			if err := json.NewDecoder(r.Body).Decode(&serviceReq); err != nil {
				t.Fatalf("failed to decode service request: %v", err)
			}
			if _, err := w.Write([]byte(`{"name": "openclaw", "cmd": "sh"}`)); err != nil {
				t.Fatalf("failed to write response: %v", err)
			}
		case "POST /sprites/agent-1/services/openclaw/start":
			if _, err := w.Write([]byte(`{"type": "complete"}`)); err != nil {
				t.Fatalf("failed to write response: %v", err)
			}
		case "GET /sprites/agent-1":
			if _, err := w.Write([]byte(spriteJSON)); err != nil {
				t.Fatalf("failed to write response: %v", err)
			}
		default:
			t.Fatalf("unexpected request: %s", key)
		}
	})

	info, err := provider.CreateVps(t.Context(), VpsSpec{
		Name:  "agent-1",
		Env:   map[string]string{"FOO": "bar"},
		Files: []FileMount{{GuestPath: "/etc/openclaw/config.json", RawValue: "{}"}},
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if info.ID != "agent-1" {
		t.Errorf("expected sprite name as id, got %s", info.ID)
	}
	if info.State != VMStateRunning {
		t.Errorf("expected running state, got %s", info.State)
	}
	if info.Address == nil || *info.Address != "https://agent-1.sprites.dev" {
		t.Errorf("expected sprite url as address, got %v", info.Address)
	}

	// Docker install, daemon wait, agent install, file mkdir + write,
	// env mkdir + write.
	if len(execCmds) != 7 {
		t.Fatalf("expected 7 exec calls, got %d: %v", len(execCmds), execCmds)
	}
	if !slices.Equal(execCmds[3], []string{"mkdir", "-p", "/etc/openclaw"}) {
		t.Errorf("expected parent mkdir before file write, got %v", execCmds[3])
	}
	if !slices.Equal(execCmds[4], []string{"tee", "/etc/openclaw/config.json"}) {
		t.Errorf("expected file write via tee, got %v", execCmds[4])
	}
	if envBody != "export FOO=bar\n" {
		t.Errorf("unexpected env file content: %q", envBody)
	}

	if serviceReq["cmd"] != "sh" {
		t.Errorf("expected service cmd sh, got %v", serviceReq["cmd"])
	}
	args, ok := serviceReq["args"].([]any)
	if !ok || len(args) != 2 || args[1] != "source /etc/slopbox/env && exec openclaw gateway run" {
		t.Errorf("unexpected service args: %v", serviceReq["args"])
	}
	if serviceReq["http_port"] != float64(spritesGatewayPort) {
		t.Errorf("expected gateway port %d, got %v", spritesGatewayPort, serviceReq["http_port"])
	}
}

func TestSpritesCreateVpsCleanupOnFailure(t *testing.T) {
	deleted := false
	provider := setupSpritesProvider(t, func(w http.ResponseWriter, r *http.Request) {
		switch key := r.Method + " " + r.URL.Path; key {
		case "POST /sprites":
			if _, err := w.Write([]byte(`{"id": "s1", "name": "agent-1", "status": "running", "url": "u"}`)); err != nil {
				t.Fatalf("failed to write response: %v", err)
			}
		case "POST /sprites/agent-1/exec":
			if _, err := w.Write([]byte(`{"stdout": "", "stderr": "apt broke", "exit_code": 1}`)); err != nil {
				t.Fatalf("failed to write response: %v", err)
			}
		case "DELETE /sprites/agent-1":
			deleted = true
			w.WriteHeader(http.StatusOK)
		default:
			t.Fatalf("unexpected request: %s", key)
		}
	})

	_, err := provider.CreateVps(t.Context(), VpsSpec{Name: "agent-1"})
	if err == nil {
		t.Fatal("expected error when provisioning fails")
	}
	if !strings.Contains(err.Error(), "exit 1") || !strings.Contains(err.Error(), "apt broke") {
		t.Errorf("expected exit code and stderr in error, got %v", err)
	}
	if !deleted {
		t.Error("expected sprite to be deleted after failed provisioning")
	}
}

func TestSpritesGetVpsStates(t *testing.T) {
	tests := []struct {
		name          string
		spriteStatus  string
		serviceStatus string
		expected      VMState
	}{
		{"agent service running", "running", "running", VMStateRunning},
		{"agent service stopped", "running", "stopped", VMStateStopped},
		{"service lookup fails", "running", "", VMStateRunning},
		{"warm sprite", "warm", "", VMStateStopped},
		{"cold sprite", "cold", "", VMStateStopped},
	}
	for _, tt := range tests {
		provider := setupSpritesProvider(t, func(w http.ResponseWriter, r *http.Request) {
			switch key := r.Method + " " + r.URL.Path; key {
			case "GET /sprites/agent-1":
				sprite := fmt.Sprintf(
					`{"id": "s1", "name": "agent-1", "status": "%s", "url": "https://agent-1.sprites.dev"}`,
					tt.spriteStatus,
				)
				if _, err := w.Write([]byte(sprite)); err != nil {
					t.Fatalf("failed to write response: %v", err)
				}
			case "GET /sprites/agent-1/services/openclaw":
				if tt.serviceStatus == "" {
					w.WriteHeader(http.StatusInternalServerError)
					return
				}
				service := fmt.Sprintf(
					`{"name": "openclaw", "cmd": "sh", "state": {"name": "openclaw", "status": "%s"}}`,
					tt.serviceStatus,
				)
				if _, err := w.Write([]byte(service)); err != nil {
					t.Fatalf("failed to write response: %v", err)
				}
			default:
				t.Fatalf("unexpected request: %s", key)
			}
		})

		info, err := provider.GetVps(t.Context(), "agent-1")
		if err != nil {
			t.Fatalf("%s: expected no error, got %v", tt.name, err)
		}
		if info.State != tt.expected {
			t.Errorf("%s: expected state %s, got %s", tt.name, tt.expected, info.State)
		}
	}
}

func TestSpritesDestroyVpsIdempotent(t *testing.T) {
	provider := setupSpritesProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		w.WriteHeader(http.StatusNotFound)
	})
	if err := provider.DestroyVps(t.Context(), "agent-1"); err != nil {
		t.Fatalf("expected no error for 404 delete, got %v", err)
	}
}

func TestSpritesStartStopVps(t *testing.T) {
	var paths []string
	provider := setupSpritesProvider(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		w.WriteHeader(http.StatusOK)
	})

	if err := provider.StartVps(t.Context(), "agent-1"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := provider.StopVps(t.Context(), "agent-1"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	expected := []string{
		"POST /sprites/agent-1/services/openclaw/start",
		"POST /sprites/agent-1/services/openclaw/stop",
	}
	for i, path := range expected {
		if paths[i] != path {
			t.Errorf("expected %s, got %s", path, paths[i])
		}
	}
}
