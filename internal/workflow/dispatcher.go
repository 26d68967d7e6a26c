// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loomhq/loom/internal/capability"
	"github.com/loomhq/loom/internal/metrics"
	"github.com/loomhq/loom/internal/storage"
	"github.com/loomhq/loom/internal/tenant"
)

// DefaultDispatchInterval is how often the dispatcher sweeps for pending
// intents.
const DefaultDispatchInterval = 5 * time.Second

// Dispatcher serializes trigger-fired workflow starts: triggers create
// durable intents, and this worker pulls pending intents oldest-first and
// turns each into an execution. A failed intent stays failed; reprocessing
// requires a new intent.
type Dispatcher struct {
	store    *storage.Store
	engine   *Engine
	metrics  *metrics.Metrics
	logger   *slog.Logger
	interval time.Duration
}

// NewDispatcher builds the intent dispatcher worker.
func NewDispatcher(store *storage.Store, engine *Engine, m *metrics.Metrics, logger *slog.Logger, interval time.Duration) *Dispatcher {
	if interval <= 0 {
		interval = DefaultDispatchInterval
	}
	return &Dispatcher{
		store:    store,
		engine:   engine,
		metrics:  m,
		logger:   logger.With("module", "dispatcher"),
		interval: interval,
	}
}

// Run sweeps on a ticker until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.logger.Info("intent dispatcher started", "interval", d.interval)
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("intent dispatcher stopped")
			return
		case <-ticker.C:
			if err := d.Tick(ctx); err != nil {
				d.logger.Error("dispatch sweep failed", "error", err)
			}
		}
	}
}

// Tick processes all currently pending intents in FIFO order.
func (d *Dispatcher) Tick(ctx context.Context) error {
	sc := tenant.ForSystem("workflow intent dispatch")
	pending, err := d.store.ListPendingIntents(ctx, sc, 0)
	if err != nil {
		return err
	}

	for _, intent := range pending {
		d.dispatch(ctx, intent)
	}
	return nil
}

// dispatch turns one intent into a workflow execution. Each intent is its
// own serialization point; failures are recorded on the intent, never
// propagated.
func (d *Dispatcher) dispatch(ctx context.Context, intent storage.WorkflowExecutionIntent) {
	tc := tenant.New(intent.TenantID, tenant.SourceInternal)

	fail := func(cause string) {
		d.metrics.IntentsTotal.WithLabelValues("failed").Inc()
		if err := d.store.MarkIntentFailed(ctx, tc, intent.ID, cause); err != nil {
			d.logger.Error("failed to mark intent failed", "intent", intent.ID, "error", err)
		}
		d.logger.Warn("intent dispatch failed", "intent", intent.ID, "cause", cause)
	}

	def, err := d.store.GetWorkflowDefinition(ctx, tc, intent.WorkflowDefinitionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			fail("workflow definition not found for tenant")
		} else {
			fail(fmt.Sprintf("failed to load workflow definition: %v", err))
		}
		return
	}
	if def.Status != storage.WorkflowStatusActive {
		fail(fmt.Sprintf("workflow definition is %s, not active", def.Status))
		return
	}

	module, err := d.resolveModule(ctx, tc, def)
	if err != nil {
		fail(err.Error())
		return
	}

	mc := tenant.NewModuleContext(tc, module.ID, module.RootPath, capability.Profile(module.CapabilityProfile))

	exec, err := d.engine.ExecuteWorkflow(ctx, mc, def.ID, intent.TriggerPayload, intent.ID)
	if err != nil {
		fail(fmt.Sprintf("execution failed: %v", err))
		return
	}

	if err := d.store.MarkIntentDispatched(ctx, tc, intent.ID, exec.ID); err != nil {
		d.logger.Error("failed to mark intent dispatched", "intent", intent.ID, "error", err)
		return
	}
	d.metrics.IntentsTotal.WithLabelValues("dispatched").Inc()
	d.logger.Info("intent dispatched", "intent", intent.ID, "execution", exec.ID)
}

// resolveModule prefers the module referenced by the workflow's change and
// falls back to any module in any project of the tenant.
func (d *Dispatcher) resolveModule(ctx context.Context, tc tenant.Context, def *storage.WorkflowDefinition) (*storage.Module, error) {
	if def.ChangeID != "" {
		change, err := d.store.GetChangeRecord(ctx, tc, def.ChangeID)
		if err == nil && change.ModuleID != "" {
			if module, err := d.store.GetModule(ctx, tc, change.ModuleID); err == nil {
				return module, nil
			}
		}
	}

	module, err := d.store.FindAnyModule(ctx, tc)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errors.New("no module available to host the execution context")
		}
		return nil, fmt.Errorf("failed to resolve module: %w", err)
	}
	return module, nil
}
