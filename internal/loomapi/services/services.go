// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package services wires the engines into the service bundle the HTTP
// handlers consume. This is the composition root's inventory: one
// explicitly constructed instance of each subsystem, no hidden process-wide
// state.
package services

import (
	"log/slog"
	"time"

	"github.com/loomhq/loom/internal/events"
	"github.com/loomhq/loom/internal/graph"
	"github.com/loomhq/loom/internal/loomapi/config"
	"github.com/loomhq/loom/internal/metrics"
	"github.com/loomhq/loom/internal/promotion"
	"github.com/loomhq/loom/internal/runner"
	"github.com/loomhq/loom/internal/storage"
	"github.com/loomhq/loom/internal/workflow"
)

// Services bundles every engine behind the API surface.
type Services struct {
	Store      *storage.Store
	Emitter    *events.Emitter
	Metrics    *metrics.Metrics
	Runner     runner.Adapter
	Workflow   *workflow.Engine
	Dispatcher *workflow.Dispatcher
	Graph      *graph.Engine
	Promotion  *promotion.Service
}

// New constructs the full service graph from configuration.
func New(cfg *config.Config, store *storage.Store, logger *slog.Logger) (*Services, error) {
	m := metrics.New()

	emitter := events.NewEmitter(logger,
		events.NewLogSink(logger),
		events.NewMetricsSink(m),
		storage.NewTelemetrySink(store),
	)

	local := runner.NewLocal(store, emitter, m, logger)
	adapter, err := runner.New(runner.Config{
		Adapter: cfg.Runner.Adapter,
		URL:     cfg.Runner.URL,
		Timeout: time.Duration(cfg.Runner.TimeoutMS) * time.Millisecond,
	}, local, logger)
	if err != nil {
		return nil, err
	}

	workflowEngine := workflow.NewEngine(store, adapter, emitter, m, logger)
	dispatcher := workflow.NewDispatcher(store, workflowEngine, m, logger,
		time.Duration(cfg.Dispatcher.IntervalSeconds)*time.Second)
	graphEngine := graph.NewEngine(store, emitter, m, logger)
	promotionService := promotion.NewService(store, emitter, m, promotion.NewNotifier(logger), logger)

	return &Services{
		Store:      store,
		Emitter:    emitter,
		Metrics:    m,
		Runner:     adapter,
		Workflow:   workflowEngine,
		Dispatcher: dispatcher,
		Graph:      graphEngine,
		Promotion:  promotionService,
	}, nil
}

// Close drains the event emitter.
func (s *Services) Close() {
	s.Emitter.Close()
}
