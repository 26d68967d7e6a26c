// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/loomhq/loom/internal/events"
	"github.com/loomhq/loom/internal/metrics"
	"github.com/loomhq/loom/internal/storage"
)

// Adapter dispatches validated execution requests. The local variant runs
// in-process; the remote variant forwards to a runner service over HTTP.
type Adapter interface {
	ExecuteWorkflowStep(ctx context.Context, req ExecutionRequest) ExecutionResult
	ExecuteTask(ctx context.Context, req ExecutionRequest) ExecutionResult
	ExecuteAgentAction(ctx context.Context, req ExecutionRequest) ExecutionResult
}

// Handler executes one admitted action inside the local adapter.
type Handler func(ctx context.Context, executionID string, req ExecutionRequest) (map[string]any, []string, error)

// LocalAdapter executes requests in-process.
type LocalAdapter struct {
	store    *storage.Store
	emitter  *events.Emitter
	metrics  *metrics.Metrics
	logger   *slog.Logger
	handlers map[Action]Handler
}

// NewLocal builds the in-process adapter with the default action handlers
// registered.
func NewLocal(store *storage.Store, emitter *events.Emitter, m *metrics.Metrics, logger *slog.Logger) *LocalAdapter {
	a := &LocalAdapter{
		store:    store,
		emitter:  emitter,
		metrics:  m,
		logger:   logger.With("module", "runner"),
		handlers: map[Action]Handler{},
	}
	a.handlers[ActionWorkflowStep] = a.handleWorkflowStep
	a.handlers[ActionAgentTask] = a.handleAgentTask
	a.handlers[ActionAgentAction] = a.handleAgentAction
	a.handlers[ActionWorkspaceStart] = a.handleWorkspaceStart
	a.handlers[ActionWorkspaceStop] = a.handleWorkspaceStop
	a.handlers[ActionSkillInvoke] = a.handleSkillInvoke
	return a
}

func (a *LocalAdapter) ExecuteWorkflowStep(ctx context.Context, req ExecutionRequest) ExecutionResult {
	return a.execute(ctx, req)
}

func (a *LocalAdapter) ExecuteTask(ctx context.Context, req ExecutionRequest) ExecutionResult {
	return a.execute(ctx, req)
}

func (a *LocalAdapter) ExecuteAgentAction(ctx context.Context, req ExecutionRequest) ExecutionResult {
	return a.execute(ctx, req)
}

// execute is the shared per-call flow: id, boundary validation, telemetry,
// dispatch, telemetry, return. All failures come back as results.
func (a *LocalAdapter) execute(ctx context.Context, req ExecutionRequest) ExecutionResult {
	executionID := newExecutionID()

	if verr := ValidateExecutionRequest(req); verr != nil {
		a.logger.Warn("boundary rejected execution request",
			"execution_id", executionID,
			"action", req.Action,
			"code", verr.Code,
			"error", verr.Message,
		)
		a.observe(req, executionID, "rejected", verr.Message)
		return failure(executionID, verr.Code, verr.Message)
	}

	a.emitter.Emit(req.Tenant, events.Event{
		Type:     events.TypeExecutionStarted,
		Status:   events.StatusSuccess,
		EntityID: executionID,
	})

	handler, ok := a.handlers[req.Action]
	if !ok {
		msg := fmt.Sprintf("no handler registered for action %q", req.Action)
		a.observe(req, executionID, "failed", msg)
		return failure(executionID, CodeUnknownAction, msg)
	}

	output, logs, err := handler(ctx, executionID, req)
	if err != nil {
		a.logger.Warn("execution failed",
			"execution_id", executionID, "action", req.Action, "error", err)
		a.observe(req, executionID, "failed", err.Error())

		var berr *BoundaryError
		code := CodeExecutionError
		if errors.As(err, &berr) {
			code = berr.Code
		}
		result := failure(executionID, code, err.Error())
		result.Logs = append(logs, result.Logs...)
		return result
	}

	a.metrics.ExecutionsTotal.WithLabelValues(string(req.Action), "completed").Inc()
	a.emitter.Emit(req.Tenant, events.Event{
		Type:     events.TypeExecutionCompleted,
		Status:   events.StatusSuccess,
		EntityID: executionID,
	})

	return ExecutionResult{
		ExecutionID: executionID,
		Success:     true,
		Output:      output,
		Logs:        append(logs, fmt.Sprintf("execution %s completed", executionID)),
	}
}

func (a *LocalAdapter) observe(req ExecutionRequest, executionID, outcome, cause string) {
	a.metrics.ExecutionsTotal.WithLabelValues(string(req.Action), outcome).Inc()
	a.emitter.Emit(req.Tenant, events.Event{
		Type:     events.TypeExecutionFailed,
		Status:   events.StatusFailure,
		EntityID: executionID,
		Error:    cause,
	})
}

func newExecutionID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.New().String()
}
