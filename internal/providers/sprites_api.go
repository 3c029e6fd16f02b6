// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Public sprites API endpoint.
const spritesAPIURL = "https://api.sprites.dev/v1"

// Sprites API payloads, reduced to the fields we use.
type sprite struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// One of cold, warm, running.
	Status string `json:"status"`
	URL    string `json:"url"`
}

type spriteCreateRequest struct {
	Name string `json:"name"`
}

type spriteExecResult struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
	// Nil when the command did not run to completion.
	ExitCode *int `json:"exit_code"`
}

type spriteServiceState struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

type spriteService struct {
	Name  string              `json:"name"`
	Cmd   string              `json:"cmd"`
	Args  []string            `json:"args"`
	State *spriteServiceState `json:"state"`
}

type spriteCreateServiceRequest struct {
	Cmd      string   `json:"cmd"`
	Args     []string `json:"args,omitempty"`
	Needs    []string `json:"needs,omitempty"`
	HTTPPort int      `json:"http_port,omitempty"`
}

// Minimal client for the sprites REST API. Service start/stop responses
// stream NDJSON progress events which are drained and discarded.
type spritesClient struct {
	// Monitor to track the client requests.
	mon Monitor
	// Bearer token for the sprites API.
	token string
	// HTTP client to reach the sprites API. Exec calls can run package
	// installs, so the timeout is generous.
	client *http.Client
	// Base URL of the sprites API, swapped out in tests.
	url string
}

func newSpritesClient(mon Monitor, token string) *spritesClient {
	return &spritesClient{
		mon:    mon,
		token:  token,
		client: &http.Client{Timeout: 5 * time.Minute},
		url:    spritesAPIURL,
	}
}

// Send a request against the sprites API and return the raw response body.
// A 404 counts as success if allow404 is set, so deletes stay idempotent.
func (c *spritesClient) do(ctx context.Context, endpoint, method, path string, query url.Values, contentType string, body io.Reader) (data []byte, err error) {
	return c.doAllow404(ctx, endpoint, method, path, query, contentType, body, false)
}

func (c *spritesClient) doAllow404(ctx context.Context, endpoint, method, path string, query url.Values, contentType string, body io.Reader, allow404 bool) (data []byte, err error) {
	if c.mon.RequestTimer != nil {
		timer := prometheus.NewTimer(c.mon.RequestTimer.WithLabelValues(ProviderSprites, endpoint))
		defer timer.ObserveDuration()
	}
	defer func() {
		if err != nil && c.mon.RequestErrors != nil {
			c.mon.RequestErrors.WithLabelValues(ProviderSprites, endpoint).Inc()
		}
	}()

	target := c.url + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sprites api %s failed: %w", endpoint, err)
	}
	defer resp.Body.Close()
	if allow404 && resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	data, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("sprites api %s returned %d: %s", endpoint, resp.StatusCode, string(data))
	}
	return data, nil
}

func (c *spritesClient) createSprite(ctx context.Context, name string) (sprite, error) {
	payload, err := json.Marshal(spriteCreateRequest{Name: name})
	if err != nil {
		return sprite{}, err
	}
	data, err := c.do(ctx, "create sprite", http.MethodPost, "/sprites", nil, "application/json", bytes.NewReader(payload))
	if err != nil {
		return sprite{}, err
	}
	var created sprite
	if err := json.Unmarshal(data, &created); err != nil {
		return sprite{}, err
	}
	return created, nil
}

func (c *spritesClient) getSprite(ctx context.Context, name string) (sprite, error) {
	data, err := c.do(ctx, "get sprite", http.MethodGet, "/sprites/"+name, nil, "", http.NoBody)
	if err != nil {
		return sprite{}, err
	}
	var fetched sprite
	if err := json.Unmarshal(data, &fetched); err != nil {
		return sprite{}, err
	}
	return fetched, nil
}

func (c *spritesClient) deleteSprite(ctx context.Context, name string) error {
	_, err := c.doAllow404(ctx, "delete sprite", http.MethodDelete, "/sprites/"+name, nil, "", http.NoBody, true)
	return err
}

// Execute a command on the sprite, optionally feeding content to stdin,
// and wait for it to complete.
func (c *spritesClient) exec(ctx context.Context, name string, cmd []string, stdin *string) (spriteExecResult, error) {
	query := url.Values{}
	for _, arg := range cmd {
		query.Add("cmd", arg)
	}
	var body io.Reader = http.NoBody
	if stdin != nil {
		query.Set("stdin", "true")
		body = strings.NewReader(*stdin)
	}
	data, err := c.do(ctx, "exec", http.MethodPost, "/sprites/"+name+"/exec", query, "", body)
	if err != nil {
		return spriteExecResult{}, err
	}
	var result spriteExecResult
	if err := json.Unmarshal(data, &result); err != nil {
		return spriteExecResult{}, err
	}
	return result, nil
}

func (c *spritesClient) getService(ctx context.Context, name, service string) (spriteService, error) {
	data, err := c.do(ctx, "get service", http.MethodGet, "/sprites/"+name+"/services/"+service, nil, "", http.NoBody)
	if err != nil {
		return spriteService{}, err
	}
	var fetched spriteService
	if err := json.Unmarshal(data, &fetched); err != nil {
		return spriteService{}, err
	}
	return fetched, nil
}

// Create or update a service. The API upserts on PUT.
func (c *spritesClient) createService(ctx context.Context, name, service string, request spriteCreateServiceRequest) error {
	payload, err := json.Marshal(request)
	if err != nil {
		return err
	}
	path := "/sprites/" + name + "/services/" + service
	_, err = c.do(ctx, "create service", http.MethodPut, path, nil, "application/json", bytes.NewReader(payload))
	return err
}

func (c *spritesClient) startService(ctx context.Context, name, service string) error {
	path := "/sprites/" + name + "/services/" + service + "/start"
	_, err := c.do(ctx, "start service", http.MethodPost, path, nil, "", http.NoBody)
	return err
}

func (c *spritesClient) stopService(ctx context.Context, name, service string) error {
	path := "/sprites/" + name + "/services/" + service + "/stop"
	_, err := c.do(ctx, "stop service", http.MethodPost, path, nil, "", http.NoBody)
	return err
}
