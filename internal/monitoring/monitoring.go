// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package monitoring owns the process-wide prometheus registry shared
// by the api, proxy, gateway and monitor metrics.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	dto "github.com/prometheus/client_model/go"

	"github.com/slopbox/slopbox/internal/conf"
)

// Registry wraps the prometheus registry and stamps the configured
// deployment labels onto every gathered metric.
type Registry struct {
	*prometheus.Registry
	labels map[string]string
}

func NewRegistry(config conf.MonitoringConfig) *Registry {
	registry := &Registry{
		Registry: prometheus.NewRegistry(),
		labels:   config.Labels,
	}
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return registry
}

// Gather implements prometheus.Gatherer. The configured labels keep the
// default go collector metrics apart from those of other services
// scraped into the same backend.
func (r *Registry) Gather() ([]*dto.MetricFamily, error) {
	families, err := r.Registry.Gather()
	if err != nil {
		return nil, err
	}
	for name, value := range r.labels {
		for _, family := range families {
			for _, metric := range family.Metric {
				metric.Label = append(metric.Label, &dto.LabelPair{
					Name:  &name,
					Value: &value,
				})
			}
		}
	}
	return families, nil
}
