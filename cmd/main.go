// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sapcc/go-api-declarations/bininfo"
	"github.com/sapcc/go-bits/httpext"
	"github.com/sapcc/go-bits/must"
	"go.uber.org/automaxprocs/maxprocs"

	apihttp "github.com/slopbox/slopbox/internal/api/http"
	"github.com/slopbox/slopbox/internal/auth"
	"github.com/slopbox/slopbox/internal/conf"
	"github.com/slopbox/slopbox/internal/db"
	"github.com/slopbox/slopbox/internal/gateway"
	"github.com/slopbox/slopbox/internal/lifecycle"
	"github.com/slopbox/slopbox/internal/models"
	"github.com/slopbox/slopbox/internal/monitor"
	"github.com/slopbox/slopbox/internal/monitoring"
	"github.com/slopbox/slopbox/internal/mqtt"
	"github.com/slopbox/slopbox/internal/providers"
	"github.com/slopbox/slopbox/internal/proxy"
	"github.com/slopbox/slopbox/internal/seed"
)

// Run the prometheus metrics server for monitoring.
func runMonitoringServer(ctx context.Context, registry *monitoring.Registry, config conf.MonitoringConfig) {
	if config.Port == 0 {
		slog.Info("metrics endpoint disabled")
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	slog.Info("metrics listening", "port", config.Port)
	addr := fmt.Sprintf(":%d", config.Port)
	if err := httpext.ListenAndServeContext(ctx, addr, mux); err != nil {
		panic(err)
	}
}

func main() {
	// If called with `--version`, report version and exit (the Dockerfile
	// uses this to check if the binary was built correctly)
	bininfo.HandleVersionArgument()

	// Local development reads its environment from a .env file.
	_ = godotenv.Load()

	config := conf.NewConfig()
	config.LoggingConfig.SetDefaultLogger()
	must.Succeed(config.Validate())

	// Set runtime concurrency to match CPU limit imposed by Kubernetes
	undoMaxprocs, err := maxprocs.Set(maxprocs.Logger(slog.Debug))
	if err != nil {
		panic(err)
	}
	defer undoMaxprocs()

	// Override User-Agent header for all requests made by this process,
	// so provider api logs show which deployment called them.
	wrap := httpext.WrapTransport(&http.DefaultTransport)
	wrap.SetOverrideUserAgent(bininfo.Component(), bininfo.VersionOr("rolling"))

	// This context will gracefully shutdown when the process receives the
	// standard shutdown signal SIGINT, with a 10-second delay to allow
	// Kubernetes to stop sending new requests well before the process starts
	// to shut down.
	ctx := httpext.ContextWithSIGINT(context.Background(), 10*time.Second)

	// Set up the monitoring registry and database connection.
	registry := monitoring.NewRegistry(config.MonitoringConfig)

	database := db.NewPostgresDB(config.DBConfig, db.NewDBMonitor(registry))
	defer database.Close()
	models.AddTables(database)
	db.NewMigrater(database).Migrate(false)

	if config.SeedFile != "" {
		must.Succeed(seed.ApplyFile(database, config.SeedFile))
	}

	go runMonitoringServer(ctx, registry, config.MonitoringConfig)

	providerRegistry := must.Return(
		providers.NewRegistry(config.ProvidersConfig, providers.NewProviderMonitor(registry)))

	// The mqtt client stays nil without a broker url; state change events
	// are then dropped instead of published.
	var mqttClient mqtt.Client
	if config.MQTTConfig.URL != "" {
		mqttClient = mqtt.NewClient(config.MQTTConfig, mqtt.NewMQTTMonitor(registry))
		if err := mqttClient.Connect(); err != nil {
			panic("failed to connect to mqtt broker: " + err.Error())
		}
		defer mqttClient.Disconnect()
	}

	lifecycleService := lifecycle.NewService(
		database, providerRegistry, mqttClient,
		lifecycle.NewLifecycleMonitor(registry),
		config.ProxyConfig, config.MonitorConfig,
	)

	// All vps egress passes through the forward proxy, which meters
	// bandwidth and blocks traffic once the budget is exhausted.
	proxyServer := proxy.NewServer(database, proxy.NewProxyMonitor(registry), config.ProxyConfig)
	go func() {
		if err := proxyServer.Run(ctx); err != nil {
			panic(err)
		}
	}()

	usageMonitor := monitor.NewService(
		database, monitor.StubCollector{}, providerRegistry, mqttClient,
		monitor.NewUsageMonitor(registry), config.MonitorConfig,
	)
	go usageMonitor.Run(ctx)

	// Run the api server after all other tasks have been started and
	// all http handlers have been registered to the mux.
	mux := http.NewServeMux()
	gatewayHandler := gateway.NewHandler(database, config.AuthConfig, gateway.NewGatewayMonitor(registry))
	middleware := auth.NewMiddleware(database, config.AuthConfig)
	apihttp.NewAPI(
		database, lifecycleService, gatewayHandler, middleware,
		apihttp.NewAPIMonitor(registry),
	).Init(mux)

	handler := auth.CORS(config.APIConfig.FrontendOrigin, mux)
	slog.Info("api listening", "addr", config.APIConfig.ListenAddr)
	if err := httpext.ListenAndServeContext(ctx, config.APIConfig.ListenAddr, handler); err != nil {
		panic(err)
	}
}
