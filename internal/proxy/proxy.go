// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package proxy implements the authenticated forward proxy that all
// agent egress flows through. Requests authenticate with Basic proxy
// credentials carrying the agent's gateway token, pass a per-provider
// usage admission check, and have their byte counts recorded in the
// usage ledger.
package proxy

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sapcc/go-bits/httpext"

	"github.com/slopbox/slopbox/internal/conf"
	"github.com/slopbox/slopbox/internal/db"
	"github.com/slopbox/slopbox/internal/models"
	"github.com/slopbox/slopbox/internal/providers"
)

// Buffer size for each direction of a CONNECT tunnel.
const tunnelBufferSize = 8192

type Server struct {
	db         db.DB
	monitor    Monitor
	httpClient *http.Client
	listenAddr string
}

// NewServer builds the forward proxy. Its http client never follows
// redirects, so upstream redirects pass back to the agent untouched.
func NewServer(d db.DB, monitor Monitor, config conf.ProxyConfig) *Server {
	return &Server{
		db:      d,
		monitor: monitor,
		httpClient: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		listenAddr: config.ListenAddr,
	}
}

// Run the proxy until the context is canceled.
func (p *Server) Run(ctx context.Context) error {
	slog.Info("starting forward proxy", "addr", p.listenAddr)
	return httpext.ListenAndServeContext(ctx, p.listenAddr, p)
}

func (p *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	agent, ok := p.authenticate(w, r)
	if !ok {
		return
	}
	if agent.VpsID == nil {
		p.deny(w, "no_vps", "agent has no VPS")
		return
	}
	vps, err := models.GetVpsByID(p.db, *agent.VpsID)
	if err != nil {
		p.internalError(w, err)
		return
	}

	// Hetzner skips per-request admission: its allocation is fixed, so
	// the enforcement monitor stops servers instead of gating requests.
	if vps.Provider != providers.ProviderHetzner && !p.checkUsage(w, vps) {
		return
	}

	if r.Method == http.MethodConnect {
		p.handleConnect(w, r, vps.ID)
	} else {
		p.forwardHTTP(w, r, vps.ID)
	}
}

// Authenticate the request from its Proxy-Authorization header, which
// carries base64(agent_id:gateway_token). Missing or invalid credentials
// answer with the 407 challenge so proxy-aware clients retry.
func (p *Server) authenticate(w http.ResponseWriter, r *http.Request) (models.Agent, bool) {
	header := r.Header.Get("Proxy-Authorization")
	encoded, found := strings.CutPrefix(header, "Basic ")
	if !found {
		return p.challenge(w)
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return p.challenge(w)
	}
	agentID, token, found := strings.Cut(string(decoded), ":")
	if !found {
		return p.challenge(w)
	}
	if uuid.Validate(agentID) != nil {
		return p.challenge(w)
	}
	agent, err := models.GetAgentByIDAndToken(p.db, agentID, token)
	if err != nil {
		return p.challenge(w)
	}
	return agent, true
}

func (p *Server) challenge(w http.ResponseWriter) (models.Agent, bool) {
	if p.monitor.denials != nil {
		p.monitor.denials.WithLabelValues("auth").Inc()
	}
	w.Header().Set("Proxy-Authenticate", `Basic realm="slopbox"`)
	http.Error(w, "Proxy authentication required", http.StatusProxyAuthRequired)
	return models.Agent{}, false
}

// Deny the request with 403, counting the reason.
func (p *Server) deny(w http.ResponseWriter, reason, msg string) {
	if p.monitor.denials != nil {
		p.monitor.denials.WithLabelValues(reason).Inc()
	}
	http.Error(w, msg, http.StatusForbidden)
}

func (p *Server) internalError(w http.ResponseWriter, err error) {
	slog.Error("proxy handler error", "error", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

// Usage admission for elastic providers: aggregate usage within the plan
// limits passes; beyond them the overage cost must stay inside the
// user's budget for the current month.
func (p *Server) checkUsage(w http.ResponseWriter, vps models.Vps) bool {
	user, err := models.GetUserByID(p.db, vps.UserID)
	if err != nil {
		p.internalError(w, err)
		return false
	}
	if user.PlanID == nil {
		p.deny(w, "no_plan", "no plan")
		return false
	}
	plan, err := models.GetPlanByID(p.db, *user.PlanID)
	if err != nil {
		p.internalError(w, err)
		return false
	}
	usage, err := models.GetUserAggregateUsage(p.db, user.ID)
	if err != nil {
		p.internalError(w, err)
		return false
	}
	if plan.WithinLimits(usage) {
		return true
	}
	cost := plan.OverageCostCents(usage)
	budget, err := models.GetCurrentBudget(p.db, user.ID)
	if err != nil {
		p.internalError(w, err)
		return false
	}
	if cost > budget.BudgetCents {
		p.deny(w, "budget", "usage limit exceeded (overage budget exhausted)")
		return false
	}
	return true
}

// Tunnel a CONNECT request. The connection is hijacked from the http
// server and both directions are pumped until either side closes.
func (p *Server) handleConnect(w http.ResponseWriter, r *http.Request, vpsID string) {
	host := r.Host
	if host == "" {
		http.Error(w, "missing host", http.StatusBadRequest)
		return
	}
	var dialer net.Dialer
	target, err := dialer.DialContext(r.Context(), "tcp", host)
	if err != nil {
		slog.Warn("CONNECT target unreachable", "host", host, "error", err)
		http.Error(w, "target unreachable", http.StatusBadGateway)
		return
	}

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		target.Close()
		p.internalError(w, errors.New("response writer does not support hijacking"))
		return
	}
	client, bufrw, err := hijacker.Hijack()
	if err != nil {
		target.Close()
		p.internalError(w, err)
		return
	}
	// The server's deadlines stay armed on the hijacked conn and would
	// kill long-lived tunnels.
	client.SetDeadline(time.Time{})

	if _, err := bufrw.WriteString("HTTP/1.1 200 OK\r\n\r\n"); err != nil {
		client.Close()
		target.Close()
		return
	}
	if err := bufrw.Flush(); err != nil {
		client.Close()
		target.Close()
		return
	}

	// Reads must go through the hijack buffer, which may already hold
	// bytes the client pipelined after the CONNECT.
	p.tunnel(client, bufrw.Reader, target, vpsID)
}

// Pump bytes both ways until either direction closes, then flush the
// total into the usage ledger. bytesOut counts client to target (agent
// egress), bytesIn counts target to client.
func (p *Server) tunnel(client net.Conn, clientRead io.Reader, target net.Conn, vpsID string) {
	var bytesIn, bytesOut atomic.Int64

	var once sync.Once
	abort := func() {
		once.Do(func() {
			client.Close()
			target.Close()
		})
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer abort()
		pump(target, clientRead, &bytesOut)
	}()
	go func() {
		defer wg.Done()
		defer abort()
		pump(client, target, &bytesIn)
	}()
	wg.Wait()

	p.flushBandwidth(vpsID, "connect", bytesIn.Load()+bytesOut.Load())
}

// Copy bytes one way with a fixed buffer, counting them as they pass.
func pump(dst io.Writer, src io.Reader, count *atomic.Int64) {
	buf := make([]byte, tunnelBufferSize)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			count.Add(int64(n))
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// Forward a plain http request to its absolute target URI and relay the
// response. Request and response body sizes count toward the ledger.
func (p *Server) forwardHTTP(w http.ResponseWriter, r *http.Request, vpsID string) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		p.internalError(w, err)
		return
	}

	outReq, err := http.NewRequestWithContext(r.Context(), r.Method, r.URL.String(), bytes.NewReader(body))
	if err != nil {
		slog.Warn("plain HTTP forward failed", "uri", r.URL.String(), "error", err)
		http.Error(w, "target unreachable", http.StatusBadGateway)
		return
	}
	copyProxyHeaders(outReq.Header, r.Header)

	resp, err := p.httpClient.Do(outReq)
	if err != nil {
		slog.Warn("plain HTTP forward failed", "uri", outReq.URL.String(), "error", err)
		http.Error(w, "target unreachable", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		p.internalError(w, err)
		return
	}

	p.flushBandwidth(vpsID, "http", int64(len(body))+int64(len(respBody)))

	for key, values := range resp.Header {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := w.Write(respBody); err != nil {
		slog.Debug("failed to write proxy response", "error", err)
	}
}

// Record relayed bytes in the usage ledger and the byte counter metric.
// Failures are logged only; the stream itself already completed.
func (p *Server) flushBandwidth(vpsID, mode string, total int64) {
	if total <= 0 {
		return
	}
	if p.monitor.bytesTransferred != nil {
		p.monitor.bytesTransferred.WithLabelValues(mode).Add(float64(total))
	}
	if err := models.AddBandwidth(p.db, vpsID, total); err != nil {
		slog.Error("failed to flush proxy byte counts", "vps", vpsID, "error", err)
	}
}

// Hop-by-hop headers are per-connection and must not cross the proxy.
// Proxy-Authorization carries the agent's credentials and is stripped
// with them.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func copyProxyHeaders(dst, src http.Header) {
	for key, values := range src {
		if slices.Contains(hopByHopHeaders, key) {
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}
