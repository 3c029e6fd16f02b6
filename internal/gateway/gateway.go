// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package gateway relays HTTP and websocket traffic from authenticated
// tenants to the openclaw gateway running inside their agent's vps. The
// relay injects the per-agent gateway token so that clients never hold
// vps credentials, signs handshake nonces on the fly, and refuses rpc
// methods that would let a tenant bypass the control plane.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"nhooyr.io/websocket"

	"github.com/slopbox/slopbox/internal/api"
	"github.com/slopbox/slopbox/internal/auth"
	"github.com/slopbox/slopbox/internal/conf"
	"github.com/slopbox/slopbox/internal/db"
	"github.com/slopbox/slopbox/internal/models"
	"github.com/slopbox/slopbox/internal/openclaw"
)

const (
	// Cap on relayed request bodies and websocket messages.
	maxRequestBody = 10 << 20
	// Outbound messages queued for the client before upstream reads
	// stall. Bounds memory when the client reads slower than the vps
	// produces output.
	clientMailboxSize = 64
)

// Handler relays gateway traffic for one control plane instance.
type Handler struct {
	db         db.DB
	jwtSecret  string
	monitor    Monitor
	httpClient *http.Client
	// Port of the in-vps gateway, fixed outside of tests.
	gatewayPort int
}

// NewHandler builds the gateway relay handler.
func NewHandler(d db.DB, authConf conf.AuthConfig, monitor Monitor) *Handler {
	return &Handler{
		db:          d,
		jwtSecret:   authConf.JWTSecret,
		monitor:     monitor,
		httpClient:  &http.Client{},
		gatewayPort: openclaw.GatewayPort,
	}
}

// Resolve the relay target for the agent in the request path. Agents
// owned by other users are masked as not found. Websocket requests may
// carry the token in the query string since browsers cannot set headers
// on websocket handshakes.
func (h *Handler) resolve(r *http.Request, allowQueryToken bool) (models.Agent, models.Vps, error) {
	var token string
	var ok bool
	if allowQueryToken {
		token, ok = auth.RequestToken(r)
	} else {
		token, ok = auth.BearerToken(r)
	}
	if !ok {
		return models.Agent{}, models.Vps{}, api.Unauthorized()
	}
	userID, err := auth.VerifyToken(h.jwtSecret, token)
	if err != nil {
		return models.Agent{}, models.Vps{}, api.Unauthorized()
	}
	agent, err := models.GetAgentByID(h.db, r.PathValue("id"))
	if err != nil || agent.UserID != userID {
		return models.Agent{}, models.Vps{}, api.NotFound()
	}
	if agent.VpsID == nil {
		return models.Agent{}, models.Vps{}, api.NotFound()
	}
	vps, err := models.GetVpsByID(h.db, *agent.VpsID)
	if err != nil {
		return models.Agent{}, models.Vps{}, api.NotFound()
	}
	if vps.State != models.VpsStateRunning {
		return models.Agent{}, models.Vps{}, api.Conflict("VPS is not running")
	}
	if vps.Address == nil {
		return models.Agent{}, models.Vps{}, api.Internal("VPS has no address")
	}
	return agent, vps, nil
}

// Headers that must not leak from the tenant's request to the vps. The
// caller's own authorization is replaced with the gateway token, and
// browser cookies stay on the control plane side.
var strippedRequestHeaders = []string{
	"Host",
	"Cookie",
	"Authorization",
	"Connection",
	"Transfer-Encoding",
}

// ProxyHTTP relays a single HTTP request to the agent's gateway.
func (h *Handler) ProxyHTTP(w http.ResponseWriter, r *http.Request) {
	agent, vps, err := h.resolve(r, false)
	if err != nil {
		api.WriteError(w, err)
		return
	}

	path := r.PathValue("path")
	if r.Method == http.MethodPost && path == "tools/invoke" {
		api.WriteError(w, api.BadRequest("tools/invoke is blocked through the gateway proxy"))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			api.WriteError(w, api.BadRequest("request body too large (max 10MB)"))
			return
		}
		api.WriteError(w, api.Internal("failed to read request body: "+err.Error()))
		return
	}

	upstreamURL := fmt.Sprintf("http://%s:%d/%s", *vps.Address, h.gatewayPort, path)
	outReq, err := http.NewRequestWithContext(r.Context(), r.Method, upstreamURL, bytes.NewReader(body))
	if err != nil {
		api.WriteError(w, api.Internal("upstream request failed: "+err.Error()))
		return
	}
	for key, values := range r.Header {
		if slices.Contains(strippedRequestHeaders, key) {
			continue
		}
		for _, value := range values {
			outReq.Header.Add(key, value)
		}
	}
	outReq.Header.Set("Authorization", "Bearer "+agent.GatewayToken)

	resp, err := h.httpClient.Do(outReq)
	if err != nil {
		api.WriteError(w, api.Internal("upstream request failed: "+err.Error()))
		return
	}
	defer resp.Body.Close() //nolint:errcheck // Response body is fully read below.
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		api.WriteError(w, api.Internal("failed to read upstream response: "+err.Error()))
		return
	}

	h.addBandwidth(vps.ID, "http", int64(len(body))+int64(len(respBody)))

	for key, values := range resp.Header {
		if key == "Transfer-Encoding" || key == "Connection" {
			continue
		}
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := w.Write(respBody); err != nil {
		slog.Debug("failed to write gateway response", "error", err)
	}
}

// Text or binary frame queued for the client writer.
type wsMessage struct {
	typ  websocket.MessageType
	data []byte
}

// ProxyWS upgrades the request and relays websocket frames between the
// tenant and the agent's gateway until either side closes.
func (h *Handler) ProxyWS(w http.ResponseWriter, r *http.Request) {
	agent, vps, err := h.resolve(r, true)
	if err != nil {
		api.WriteError(w, err)
		return
	}

	client, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Tokens authenticate gateway websockets, not browser origins.
		InsecureSkipVerify: true,
	})
	if err != nil {
		slog.Debug("gateway websocket accept failed", "agent", agent.ID, "error", err)
		return
	}

	h.relay(r.Context(), client, agent, vps)
}

// Relay frames between the client and the vps gateway. The first
// connect rpc from the client has its credentials rewritten, blocked
// methods are answered locally, and all payload bytes count against
// the vps bandwidth ledger.
func (h *Handler) relay(ctx context.Context, client *websocket.Conn, agent models.Agent, vps models.Vps) {
	upstreamURL := fmt.Sprintf("ws://%s:%d/ws", *vps.Address, h.gatewayPort)
	upstream, _, err := websocket.Dial(ctx, upstreamURL, nil)
	if err != nil {
		slog.Error("failed to connect to upstream websocket",
			"agent", agent.ID, "vps", vps.ID, "error", err)
		client.Close(websocket.StatusBadGateway, "upstream unreachable") //nolint:errcheck // Connection is torn down either way.
		return
	}
	client.SetReadLimit(maxRequestBody)
	upstream.SetReadLimit(maxRequestBody)

	var bandwidth atomic.Int64
	clientMsgs := make(chan wsMessage, clientMailboxSize)

	group, ctx := errgroup.WithContext(ctx)

	// Single writer for the client connection. Both readers feed it
	// through the mailbox channel.
	group.Go(func() error {
		for {
			select {
			case msg := <-clientMsgs:
				if err := client.Write(ctx, msg.typ, msg.data); err != nil {
					return err
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})

	group.Go(func() error {
		for {
			typ, data, err := upstream.Read(ctx)
			if err != nil {
				return err
			}
			bandwidth.Add(int64(len(data)))
			select {
			case clientMsgs <- wsMessage{typ, data}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})

	group.Go(func() error {
		handshakeDone := false
		for {
			typ, data, err := client.Read(ctx)
			if err != nil {
				return err
			}
			bandwidth.Add(int64(len(data)))
			if typ == websocket.MessageText {
				forward, reply := h.filterClientMessage(data, &handshakeDone, agent.GatewayToken)
				if reply != nil {
					select {
					case clientMsgs <- wsMessage{websocket.MessageText, reply}:
					case <-ctx.Done():
						return ctx.Err()
					}
					continue
				}
				data = forward
			}
			if err := upstream.Write(ctx, typ, data); err != nil {
				return err
			}
		}
	})

	// The first close or failure on either side cancels the group and
	// unblocks the other two goroutines.
	if err := group.Wait(); err != nil && websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
		slog.Debug("gateway websocket relay ended", "agent", agent.ID, "error", err)
	}
	client.Close(websocket.StatusNormalClosure, "")   //nolint:errcheck // Best effort close.
	upstream.Close(websocket.StatusNormalClosure, "") //nolint:errcheck // Best effort close.

	h.addBandwidth(vps.ID, "ws", bandwidth.Load())
}

// Inspect a text frame from the client. The first connect rpc gets the
// real gateway credentials, blocked methods produce a local error reply
// instead of being forwarded, and everything else passes through
// unmodified. Exactly one of forward and reply is non-nil.
func (h *Handler) filterClientMessage(data []byte, handshakeDone *bool, gatewayToken string) (forward, reply []byte) {
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		return data, nil
	}
	method, _ := msg["method"].(string)

	if !*handshakeDone && method == "connect" {
		*handshakeDone = true
		return rewriteHandshake(msg, gatewayToken, data), nil
	}

	if IsBlockedMethod(method) {
		if h.monitor.blockedCalls != nil {
			h.monitor.blockedCalls.Inc()
		}
		// A missing id marshals as null, matching notification rpcs.
		payload, err := json.Marshal(map[string]any{
			"id": msg["id"],
			"error": map[string]any{
				"code":    -32601,
				"message": fmt.Sprintf("method '%s' is blocked", method),
			},
		})
		if err != nil {
			return data, nil
		}
		return nil, payload
	}

	return data, nil
}

// Substitute the agent's gateway token into the connect rpc and sign
// the nonce when one is present. Fields the client did not send stay
// absent so that older clients keep working.
func rewriteHandshake(msg map[string]any, gatewayToken string, original []byte) []byte {
	params, ok := msg["params"].(map[string]any)
	if ok {
		if authParams, ok := params["auth"].(map[string]any); ok {
			authParams["token"] = gatewayToken
		}
		if nonce, ok := params["nonce"].(string); ok {
			params["signedNonce"] = SignNonce(nonce, gatewayToken)
		}
	}
	rewritten, err := json.Marshal(msg)
	if err != nil {
		return original
	}
	return rewritten
}

// Record relayed bytes in the usage ledger and the transfer metric.
func (h *Handler) addBandwidth(vpsID, transport string, total int64) {
	if total <= 0 {
		return
	}
	if h.monitor.relayedBytes != nil {
		h.monitor.relayedBytes.WithLabelValues(transport).Add(float64(total))
	}
	if err := models.AddBandwidth(h.db, vpsID, total); err != nil {
		slog.Error("failed to record gateway bandwidth", "vps", vpsID, "error", err)
	}
}
