// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package metrics holds the Prometheus collectors for the control plane.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the collectors the engines report into. A single instance
// is constructed at the composition root and passed down as a dependency.
type Metrics struct {
	registry *prometheus.Registry

	ExecutionsTotal      *prometheus.CounterVec
	StepDurationSeconds  *prometheus.HistogramVec
	PackageInstallsTotal *prometheus.CounterVec
	PromotionsTotal      *prometheus.CounterVec
	IntentsTotal         *prometheus.CounterVec
	DomainEventsTotal    *prometheus.CounterVec
}

// New creates the collector set on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ExecutionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "loom_runner_executions_total",
			Help: "Runner executions by requested action and outcome.",
		}, []string{"action", "outcome"}),
		StepDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "loom_workflow_step_duration_seconds",
			Help:    "Workflow step handler duration by step type.",
			Buckets: prometheus.DefBuckets,
		}, []string{"step_type"}),
		PackageInstallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "loom_graph_package_installs_total",
			Help: "Graph package install attempts by outcome.",
		}, []string{"outcome"}),
		PromotionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "loom_promotion_transitions_total",
			Help: "Promotion intent state transitions by target state.",
		}, []string{"to"}),
		IntentsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "loom_workflow_intents_total",
			Help: "Workflow execution intents by dispatch outcome.",
		}, []string{"outcome"}),
		DomainEventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "loom_domain_events_total",
			Help: "Domain events emitted by type and status.",
		}, []string{"type", "status"}),
	}
}

// Handler returns the HTTP handler serving the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
