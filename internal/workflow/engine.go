// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/loomhq/loom/internal/events"
	"github.com/loomhq/loom/internal/metrics"
	"github.com/loomhq/loom/internal/runner"
	"github.com/loomhq/loom/internal/storage"
	"github.com/loomhq/loom/internal/tenant"
)

// Engine interprets workflow definitions. Execution is synchronous within a
// single run's forward progress; a paused execution releases its task
// entirely and is resumed by a new request.
type Engine struct {
	store   *storage.Store
	adapter runner.Adapter
	emitter *events.Emitter
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewEngine builds the workflow engine.
func NewEngine(store *storage.Store, adapter runner.Adapter, emitter *events.Emitter, m *metrics.Metrics, logger *slog.Logger) *Engine {
	return &Engine{
		store:   store,
		adapter: adapter,
		emitter: emitter,
		metrics: m,
		logger:  logger.With("module", "workflow"),
	}
}

// ResumeDecision carries an approval resolution into a paused execution.
type ResumeDecision struct {
	Approved   bool
	ResolvedBy string
}

// ExecuteWorkflow starts an execution of an active, tenant-owned
// definition. An intent id is the mandatory durable precondition; direct
// execution without one fails.
func (e *Engine) ExecuteWorkflow(ctx context.Context, mc tenant.ModuleContext, definitionID string, input map[string]any, intentID string) (*storage.WorkflowExecution, error) {
	if intentID == "" {
		return nil, ErrIntentRequired
	}

	def, err := e.store.GetWorkflowDefinition(ctx, mc.Tenant, definitionID)
	if err != nil {
		return nil, err
	}
	if def.Status != storage.WorkflowStatusActive {
		return nil, fmt.Errorf("%w: %s is %s", ErrWorkflowNotActive, def.Name, def.Status)
	}

	steps, err := e.store.ListWorkflowSteps(ctx, mc.Tenant, definitionID)
	if err != nil {
		return nil, err
	}

	exec, err := e.store.CreateWorkflowExecution(ctx, mc.Tenant, &storage.WorkflowExecution{
		WorkflowDefinitionID: definitionID,
		IntentID:             intentID,
		Input:                storage.JSONMap(input),
		Status:               storage.ExecutionRunning,
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("workflow execution started",
		"execution", exec.ID, "definition", def.Name, "intent", intentID, "steps", len(steps))

	if err := e.runStepsFromIndex(ctx, mc, steps, exec, 0, copyInput(input)); err != nil {
		return nil, err
	}
	return e.store.GetWorkflowExecution(ctx, mc.Tenant, exec.ID)
}

// ResumeWorkflowExecution applies an approval decision to a paused
// execution. On approval the run continues from the step immediately after
// the paused one, rehydrating the accumulated input; on rejection the
// execution fails.
func (e *Engine) ResumeWorkflowExecution(ctx context.Context, mc tenant.ModuleContext, executionID, stepExecutionID string, decision ResumeDecision) (*storage.WorkflowExecution, error) {
	exec, err := e.store.GetWorkflowExecution(ctx, mc.Tenant, executionID)
	if err != nil {
		return nil, err
	}
	if exec.Status != storage.ExecutionPaused {
		return nil, fmt.Errorf("%w: status is %s", ErrExecutionNotPaused, exec.Status)
	}

	stepExec, err := e.store.GetStepExecution(ctx, mc.Tenant, stepExecutionID)
	if err != nil {
		return nil, err
	}
	if stepExec.WorkflowStepID != exec.PausedAtStepID {
		return nil, ErrStepNotPausedHere
	}
	if stepExec.Status != storage.StepAwaitingApproval {
		return nil, fmt.Errorf("%w: status is %s", ErrStepNotAwaitingApproval, stepExec.Status)
	}

	resolution := "rejected"
	if decision.Approved {
		resolution = "approved"
	}
	output := storage.JSONMap{}
	for k, v := range stepExec.Output {
		output[k] = v
	}
	output["status"] = resolution
	output["resolvedBy"] = decision.ResolvedBy

	if err := e.store.UpdateStepExecution(ctx, mc.Tenant, stepExec.ID, storage.StepCompleted, output); err != nil {
		return nil, err
	}

	if !decision.Approved {
		cause := fmt.Sprintf("approval rejected by %s", decision.ResolvedBy)
		if err := e.failExecution(ctx, mc.Tenant, exec.ID, cause); err != nil {
			return nil, err
		}
		return e.store.GetWorkflowExecution(ctx, mc.Tenant, exec.ID)
	}

	if err := e.store.MarkExecutionResumed(ctx, mc.Tenant, exec.ID); err != nil {
		return nil, err
	}

	steps, err := e.store.ListWorkflowSteps(ctx, mc.Tenant, exec.WorkflowDefinitionID)
	if err != nil {
		return nil, err
	}

	pausedIndex := -1
	for i, step := range steps {
		if step.ID == exec.PausedAtStepID {
			pausedIndex = i
			break
		}
	}
	if pausedIndex == -1 {
		if err := e.failExecution(ctx, mc.Tenant, exec.ID, "paused step no longer exists"); err != nil {
			return nil, err
		}
		return e.store.GetWorkflowExecution(ctx, mc.Tenant, exec.ID)
	}

	accumulated := copyInput(exec.AccumulatedInput)
	accumulated["approvalStatus"] = resolution
	accumulated["approvalResolvedBy"] = decision.ResolvedBy

	if err := e.runStepsFromIndex(ctx, mc, steps, exec, pausedIndex+1, accumulated); err != nil {
		return nil, err
	}
	return e.store.GetWorkflowExecution(ctx, mc.Tenant, exec.ID)
}

// runStepsFromIndex interprets steps beginning at the given array index.
// Order indexes are dense, but flow is controlled by array index; decision
// output supplies an order index mapped through a lookup table built once
// per run.
func (e *Engine) runStepsFromIndex(ctx context.Context, mc tenant.ModuleContext, steps []storage.WorkflowStep, exec *storage.WorkflowExecution, startIndex int, input map[string]any) error {
	orderToArray := make(map[int]int, len(steps))
	for i, step := range steps {
		orderToArray[step.OrderIndex] = i
	}

	i := startIndex
	for i < len(steps) {
		step := steps[i]

		stepExec, err := e.store.CreateStepExecution(ctx, mc.Tenant, &storage.WorkflowStepExecution{
			WorkflowExecutionID: exec.ID,
			WorkflowStepID:      step.ID,
			Status:              storage.StepPending,
		})
		if err != nil {
			return err
		}

		// Every step crosses the runner boundary so that even logical steps
		// carry the admission check and its audit trail.
		runnerResult := e.adapter.ExecuteWorkflowStep(ctx, runner.ExecutionRequest{
			Tenant: mc.Tenant,
			Module: mc,
			Action: runner.ActionWorkflowStep,
			Input:  map[string]any{"stepType": step.StepType, "executionId": exec.ID},
		})
		if !runnerResult.Success {
			cause := fmt.Sprintf("runner rejected step %d: %s", step.OrderIndex, runnerResult.Error)
			if err := e.store.UpdateStepExecution(ctx, mc.Tenant, stepExec.ID, storage.StepFailed,
				storage.JSONMap{"error": runnerResult.Error, "errorCode": runnerResult.ErrorCode, "logs": toAnySlice(runnerResult.Logs)}); err != nil {
				return err
			}
			return e.failExecution(ctx, mc.Tenant, exec.ID, cause)
		}

		started := time.Now()
		output, stepErr := e.runStep(ctx, mc, exec, step, input)
		e.metrics.StepDurationSeconds.WithLabelValues(step.StepType).Observe(time.Since(started).Seconds())

		if stepErr != nil {
			if err := e.store.UpdateStepExecution(ctx, mc.Tenant, stepExec.ID, storage.StepFailed,
				storage.JSONMap{"error": stepErr.Error(), "logs": toAnySlice(runnerResult.Logs)}); err != nil {
				return err
			}
			return e.failExecution(ctx, mc.Tenant, exec.ID,
				fmt.Sprintf("step %d (%s) failed: %v", step.OrderIndex, step.StepType, stepErr))
		}

		// Augment the handler output with the runner's logs.
		output["logs"] = toAnySlice(runnerResult.Logs)

		if status, _ := output["status"].(string); status == outputAwaitingApproval {
			if err := e.store.UpdateStepExecution(ctx, mc.Tenant, stepExec.ID, storage.StepAwaitingApproval, storage.JSONMap(output)); err != nil {
				return err
			}
			if err := e.store.MarkExecutionPaused(ctx, mc.Tenant, exec.ID, step.ID, storage.JSONMap(input)); err != nil {
				return err
			}
			e.logger.Info("workflow execution paused for approval",
				"execution", exec.ID, "step", step.ID, "order_index", step.OrderIndex)
			return nil
		}

		if err := e.store.UpdateStepExecution(ctx, mc.Tenant, stepExec.ID, storage.StepCompleted, storage.JSONMap(output)); err != nil {
			return err
		}

		input = accumulate(input, output)

		if step.StepType == storage.StepDecision {
			target, _ := output["targetStepIndex"].(int)
			next, known := orderToArray[target]
			if !known {
				return e.failExecution(ctx, mc.Tenant, exec.ID,
					fmt.Sprintf("decision step %d: target order index %d does not reference an existing step", step.OrderIndex, target))
			}
			i = next
			continue
		}

		i++
	}

	if err := e.store.MarkExecutionTerminal(ctx, mc.Tenant, exec.ID, storage.ExecutionCompleted, ""); err != nil {
		return err
	}
	if err := e.store.ReleaseRecordLocks(ctx, mc.Tenant, exec.ID); err != nil {
		e.logger.Warn("failed to release record locks", "execution", exec.ID, "error", err)
	}
	e.emitter.Emit(mc.Tenant, events.Event{
		Type:     events.TypeExecutionCompleted,
		Status:   events.StatusSuccess,
		EntityID: exec.ID,
	})
	e.logger.Info("workflow execution completed", "execution", exec.ID)
	return nil
}

// failExecution marks the execution failed, releases its locks and emits
// the failure event.
func (e *Engine) failExecution(ctx context.Context, tc tenant.Context, executionID, cause string) error {
	if err := e.store.MarkExecutionTerminal(ctx, tc, executionID, storage.ExecutionFailed, cause); err != nil {
		return err
	}
	if err := e.store.ReleaseRecordLocks(ctx, tc, executionID); err != nil {
		e.logger.Warn("failed to release record locks", "execution", executionID, "error", err)
	}
	e.emitter.Emit(tc, events.Event{
		Type:     events.TypeExecutionFailed,
		Status:   events.StatusFailure,
		EntityID: executionID,
		Error:    cause,
	})
	e.logger.Warn("workflow execution failed", "execution", executionID, "cause", cause)
	return nil
}

// accumulate shallow-merges a step's output (minus its logs) into the
// accumulated input for downstream steps.
func accumulate(input, output map[string]any) map[string]any {
	for k, v := range output {
		if k == "logs" {
			continue
		}
		input[k] = v
	}
	return input
}

func copyInput(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func toAnySlice(logs []string) []any {
	out := make([]any, 0, len(logs))
	for _, l := range logs {
		out = append(out, l)
	}
	return out
}
