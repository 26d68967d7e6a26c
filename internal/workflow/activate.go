// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/loomhq/loom/internal/storage"
	"github.com/loomhq/loom/internal/tenant"
)

// ValidateStepsForActivation checks every decision step of a definition
// before it may leave draft: both branch targets must be numbers referencing
// existing order indexes, and the condition must name a field (or carry a
// compilable expression).
func ValidateStepsForActivation(steps []storage.WorkflowStep) error {
	known := map[int]bool{}
	for _, step := range steps {
		known[step.OrderIndex] = true
	}

	var errs []error
	for _, step := range steps {
		if step.StepType != storage.StepDecision {
			continue
		}

		cfg := step.Config
		for _, branch := range []string{"onTrueStepIndex", "onFalseStepIndex"} {
			target, ok := numberFromConfig(cfg, branch)
			if !ok {
				errs = append(errs, fmt.Errorf(
					"decision step %d: %s must be a number", step.OrderIndex, branch))
				continue
			}
			if !known[target] {
				errs = append(errs, fmt.Errorf(
					"decision step %d: %s %d does not reference an existing step", step.OrderIndex, branch, target))
			}
		}

		operator, _ := cfg["operator"].(string)
		if operator == opExpression {
			expr, _ := cfg["conditionExpression"].(string)
			if expr == "" {
				errs = append(errs, fmt.Errorf(
					"decision step %d: operator %q requires conditionExpression", step.OrderIndex, opExpression))
			} else if _, err := compileCondition(expr); err != nil {
				errs = append(errs, fmt.Errorf(
					"decision step %d: conditionExpression does not compile: %w", step.OrderIndex, err))
			}
			continue
		}

		field, _ := cfg["conditionField"].(string)
		if field == "" {
			errs = append(errs, fmt.Errorf(
				"decision step %d: conditionField must be a non-empty string", step.OrderIndex))
		}
	}

	return errors.Join(errs...)
}

// ActivateWorkflow validates a draft definition's steps and moves it to
// active.
func (e *Engine) ActivateWorkflow(ctx context.Context, tc tenant.Context, definitionID string) error {
	def, err := e.store.GetWorkflowDefinition(ctx, tc, definitionID)
	if err != nil {
		return err
	}
	if def.Status != storage.WorkflowStatusDraft {
		return fmt.Errorf("%w: status is %s", ErrWorkflowNotDraft, def.Status)
	}

	steps, err := e.store.ListWorkflowSteps(ctx, tc, definitionID)
	if err != nil {
		return err
	}
	if err := ValidateStepsForActivation(steps); err != nil {
		return err
	}

	return e.store.UpdateWorkflowDefinitionStatus(ctx, tc, definitionID, storage.WorkflowStatusActive)
}

// numberFromConfig reads an integer config value that may arrive as a JSON
// float.
func numberFromConfig(cfg storage.JSONMap, key string) (int, bool) {
	switch v := cfg[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
