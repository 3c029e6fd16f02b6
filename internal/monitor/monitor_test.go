// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"context"
	"errors"
	"testing"

	"github.com/slopbox/slopbox/internal/conf"
	"github.com/slopbox/slopbox/internal/db"
	"github.com/slopbox/slopbox/internal/lifecycle"
	"github.com/slopbox/slopbox/internal/models"
	"github.com/slopbox/slopbox/internal/providers"
	testlibDB "github.com/slopbox/slopbox/testlib/db"
	testlibMQTT "github.com/slopbox/slopbox/testlib/mqtt"
)

// Provider recording stop calls.
type fakeProvider struct {
	name    string
	stopErr error
	stopped []string
}

func (f *fakeProvider) CreateVps(ctx context.Context, spec providers.VpsSpec) (providers.VpsInfo, error) {
	return providers.VpsInfo{}, errors.New("not implemented")
}

func (f *fakeProvider) StartVps(ctx context.Context, id string) error { return nil }

func (f *fakeProvider) StopVps(ctx context.Context, id string) error {
	f.stopped = append(f.stopped, id)
	return f.stopErr
}

func (f *fakeProvider) DestroyVps(ctx context.Context, id string) error { return nil }

func (f *fakeProvider) GetVps(ctx context.Context, id string) (providers.VpsInfo, error) {
	return providers.VpsInfo{}, errors.New("not implemented")
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) MeteredResources() providers.MeteredResources {
	return providers.BandwidthOnly
}

// Collector returning canned metrics per vps id.
type fakeCollector struct {
	metrics map[string]VpsMetrics
	err     error
}

func (f *fakeCollector) Collect(_ context.Context, vps models.Vps) (VpsMetrics, error) {
	if f.err != nil {
		return VpsMetrics{}, f.err
	}
	return f.metrics[vps.ID], nil
}

func newTestMonitor(t *testing.T, collector MetricsCollector, registry providers.Registry) (*Service, db.DB, *testlibMQTT.RecordingClient, func()) {
	dbEnv := testlibDB.SetupDBEnv(t)
	d := db.DB{DbMap: dbEnv.DbMap}
	if err := d.CreateTable(models.AddTables(d)...); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	events := &testlibMQTT.RecordingClient{}
	service := NewService(d, collector, registry, events, Monitor{},
		conf.MonitorConfig{IntervalSecs: 60})
	return service, d, events, dbEnv.Close
}

// Seed a user on a plan with the given bandwidth limit and one running
// vps on the given provider.
func seedMonitoredVps(t *testing.T, d db.DB, provider string, maxBandwidth int64) (models.User, models.Vps) {
	t.Helper()
	plan := models.Plan{
		Name:                           "mon-" + provider,
		MaxAgents:                      1,
		MaxVpses:                       1,
		MaxBandwidthBytes:              maxBandwidth,
		MaxCPUMs:                       1 << 40,
		MaxMemoryMBSeconds:             1 << 40,
		OverageBandwidthCostPerGBCents: 100,
	}
	if err := models.InsertPlan(d, &plan); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	config := models.VpsConfig{
		Name:          "mon-small-" + provider,
		Provider:      provider,
		CPUMillicores: 1000,
		MemoryMB:      1024,
		DiskGB:        10,
	}
	if err := models.InsertVpsConfig(d, &config); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	user, err := models.InsertUser(d, "mon-"+provider+"@example.com", nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := models.SetUserPlan(d, user.ID, &plan.ID); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	vps, err := models.InsertVps(d, user.ID, config.ID, "monitored", provider)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	vmID := "vm-" + provider
	if err := models.UpdateVpsProviderRefs(d, vps.ID, &vmID, nil); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := models.SetVpsState(d, vps.ID, models.VpsStateRunning); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	return user, vps
}

func TestEnforcementStopsHetznerVps(t *testing.T) {
	fake := &fakeProvider{name: providers.ProviderHetzner}
	registry := providers.Registry{providers.ProviderHetzner: fake}
	service, d, events, closeDB := newTestMonitor(t, StubCollector{}, registry)
	defer closeDB()

	// 1 GiB over a 100 byte limit, no overage budget.
	_, vps := seedMonitoredVps(t, d, providers.ProviderHetzner, 100)
	if err := models.AddBandwidth(d, vps.ID, 1<<30); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	service.Sweep(context.Background())

	if len(fake.stopped) != 1 || fake.stopped[0] != "vm-hetzner" {
		t.Errorf("expected one provider stop of vm-hetzner, got %v", fake.stopped)
	}
	reloaded, err := models.GetVpsByID(d, vps.ID)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if reloaded.State != models.VpsStateStopped {
		t.Errorf("expected stopped state, got %s", reloaded.State)
	}
	if len(events.Topics) != 1 || events.Topics[0] != lifecycle.StateTopic {
		t.Fatalf("expected one state event, got %v", events.Topics)
	}
	event, ok := events.Payloads[0].(lifecycle.StateEvent)
	if !ok {
		t.Fatalf("unexpected payload type %T", events.Payloads[0])
	}
	if event.VpsID != vps.ID || event.State != models.VpsStateStopped {
		t.Errorf("unexpected event %+v", event)
	}
	if event.AgentID != nil {
		t.Errorf("expected no agent on an enforcement event, got %v", *event.AgentID)
	}

	// The vps is no longer running, so the next sweep must not touch it.
	service.Sweep(context.Background())
	if len(fake.stopped) != 1 {
		t.Errorf("expected no second stop, got %v", fake.stopped)
	}
}

func TestEnforcementHonorsOverageBudget(t *testing.T) {
	fake := &fakeProvider{name: providers.ProviderHetzner}
	registry := providers.Registry{providers.ProviderHetzner: fake}
	service, d, _, closeDB := newTestMonitor(t, StubCollector{}, registry)
	defer closeDB()

	// 2 GiB over a 1 GiB limit costs 100 cents at the plan rate.
	user, vps := seedMonitoredVps(t, d, providers.ProviderHetzner, 1<<30)
	if err := models.AddBandwidth(d, vps.ID, 2<<30); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if _, err := models.SetBudget(d, user.ID, 100); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	service.Sweep(context.Background())

	if len(fake.stopped) != 0 {
		t.Errorf("expected no stop within budget, got %v", fake.stopped)
	}

	// Shrinking the budget below the projected cost flips the decision.
	if _, err := models.SetBudget(d, user.ID, 99); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	service.Sweep(context.Background())

	if len(fake.stopped) != 1 {
		t.Errorf("expected one stop after the budget shrank, got %v", fake.stopped)
	}
}

func TestEnforcementSkipsUsersWithinLimits(t *testing.T) {
	fake := &fakeProvider{name: providers.ProviderHetzner}
	registry := providers.Registry{providers.ProviderHetzner: fake}
	service, d, _, closeDB := newTestMonitor(t, StubCollector{}, registry)
	defer closeDB()

	_, vps := seedMonitoredVps(t, d, providers.ProviderHetzner, 1<<30)
	if err := models.AddBandwidth(d, vps.ID, 1<<30); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	service.Sweep(context.Background())

	if len(fake.stopped) != 0 {
		t.Errorf("expected usage at the limit to pass, got %v", fake.stopped)
	}
	reloaded, err := models.GetVpsByID(d, vps.ID)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if reloaded.State != models.VpsStateRunning {
		t.Errorf("expected running state, got %s", reloaded.State)
	}
}

func TestEnforcementIgnoresFlyVpses(t *testing.T) {
	fake := &fakeProvider{name: providers.ProviderFly}
	registry := providers.Registry{providers.ProviderFly: fake}
	service, d, _, closeDB := newTestMonitor(t, StubCollector{}, registry)
	defer closeDB()

	// Hopelessly over limit, but fly vpses are gated by the proxy.
	_, vps := seedMonitoredVps(t, d, providers.ProviderFly, 100)
	if err := models.AddBandwidth(d, vps.ID, 1<<30); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	service.Sweep(context.Background())

	if len(fake.stopped) != 0 {
		t.Errorf("expected no stop for a fly vps, got %v", fake.stopped)
	}
}

func int64Ptr(v int64) *int64 { return &v }

func TestPollMetricsWritesDeltas(t *testing.T) {
	// An unknown provider name meters all axes.
	const provider = "elastic"
	service, d, _, closeDB := newTestMonitor(t, nil, providers.Registry{})
	defer closeDB()

	_, vps := seedMonitoredVps(t, d, provider, 1<<30)
	if err := models.UpdateVpsUsage(d, vps.ID, 10, int64Ptr(1000), int64Ptr(2000)); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	service.collector = &fakeCollector{metrics: map[string]VpsMetrics{
		vps.ID: {StorageUsedBytes: 50, CPUUsedMs: int64Ptr(1500), MemoryUsedMBSeconds: int64Ptr(2600)},
	}}
	service.Sweep(context.Background())

	usage, err := models.GetCurrentUsage(d, vps.ID)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if usage.CPUUsedMs != 500 {
		t.Errorf("expected a 500 ms cpu delta, got %d", usage.CPUUsedMs)
	}
	if usage.MemoryUsedMBSeconds != 600 {
		t.Errorf("expected a 600 mb-second memory delta, got %d", usage.MemoryUsedMBSeconds)
	}

	reloaded, err := models.GetVpsByID(d, vps.ID)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if reloaded.StorageUsedBytes != 50 {
		t.Errorf("expected the storage gauge stored, got %d", reloaded.StorageUsedBytes)
	}
	if reloaded.CPUUsedMs == nil || *reloaded.CPUUsedMs != 1500 {
		t.Errorf("expected the absolute cpu counter stored, got %v", reloaded.CPUUsedMs)
	}

	// A counter reset (vm restart) must not produce a negative delta.
	service.collector = &fakeCollector{metrics: map[string]VpsMetrics{
		vps.ID: {StorageUsedBytes: 50, CPUUsedMs: int64Ptr(100), MemoryUsedMBSeconds: int64Ptr(100)},
	}}
	service.Sweep(context.Background())

	usage, err = models.GetCurrentUsage(d, vps.ID)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if usage.CPUUsedMs != 500 || usage.MemoryUsedMBSeconds != 600 {
		t.Errorf("expected the ledger untouched after a counter reset, got %d/%d",
			usage.CPUUsedMs, usage.MemoryUsedMBSeconds)
	}
}

func TestPollMetricsSkipsBandwidthOnlyProviders(t *testing.T) {
	collector := &fakeCollector{metrics: map[string]VpsMetrics{}}
	service, d, _, closeDB := newTestMonitor(t, collector, providers.Registry{})
	defer closeDB()

	_, vps := seedMonitoredVps(t, d, providers.ProviderFly, 1<<30)
	if err := models.UpdateVpsUsage(d, vps.ID, 10, int64Ptr(1000), nil); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	service.Sweep(context.Background())

	// The collector was never consulted, so the stored counters stay.
	reloaded, err := models.GetVpsByID(d, vps.ID)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if reloaded.CPUUsedMs == nil || *reloaded.CPUUsedMs != 1000 {
		t.Errorf("expected the stored counter untouched, got %v", reloaded.CPUUsedMs)
	}
}

func TestStubCollectorEchoesRow(t *testing.T) {
	vps := models.Vps{
		StorageUsedBytes:    42,
		CPUUsedMs:           int64Ptr(7),
		MemoryUsedMBSeconds: nil,
	}
	metrics, err := StubCollector{}.Collect(context.Background(), vps)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if metrics.StorageUsedBytes != 42 {
		t.Errorf("expected 42 storage bytes, got %d", metrics.StorageUsedBytes)
	}
	if metrics.CPUUsedMs == nil || *metrics.CPUUsedMs != 7 {
		t.Errorf("expected the cpu counter echoed, got %v", metrics.CPUUsedMs)
	}
	if metrics.MemoryUsedMBSeconds != nil {
		t.Errorf("expected nil memory, got %v", *metrics.MemoryUsedMBSeconds)
	}
}
