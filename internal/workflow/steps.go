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

// Step output statuses.
const (
	outputAutoApproved     = "auto_approved"
	outputAwaitingApproval = "awaiting_approval"
)

// runStep dispatches one step to its type handler. Handlers compute their
// output from (config, input, module context); the only storage they touch
// is the record-lock table.
func (e *Engine) runStep(ctx context.Context, mc tenant.ModuleContext, exec *storage.WorkflowExecution, step storage.WorkflowStep, input map[string]any) (map[string]any, error) {
	switch step.StepType {
	case storage.StepAssignment:
		return stepAssignment(step.Config, input)
	case storage.StepApproval:
		return stepApproval(step.Config)
	case storage.StepNotification:
		return stepNotification(step.Config, input)
	case storage.StepDecision:
		return stepDecision(step.Config, input)
	case storage.StepRecordMutation:
		return e.stepRecordMutation(ctx, mc, exec, step.Config, input)
	case storage.StepRecordLock:
		return e.stepRecordLock(ctx, mc, exec, step.Config, input)
	default:
		return nil, fmt.Errorf("unknown step type %q", step.StepType)
	}
}

// stepAssignment resolves the configured assignee into a canonical token.
func stepAssignment(cfg storage.JSONMap, input map[string]any) (map[string]any, error) {
	assigneeType, _ := cfg["assigneeType"].(string)

	var assignee string
	switch assigneeType {
	case "user":
		id, _ := cfg["userId"].(string)
		if id == "" {
			id, _ = input["userId"].(string)
		}
		assignee = "user:" + id
	case "group":
		id, _ := cfg["groupId"].(string)
		assignee = "group:" + id
	case "rule":
		id, _ := cfg["ruleId"].(string)
		assignee = "rule:" + id
	default:
		return nil, fmt.Errorf("unknown assigneeType %q", assigneeType)
	}

	return map[string]any{"assignee": assignee, "assigneeType": assigneeType}, nil
}

// stepApproval auto-approves when configured to, otherwise reports
// awaiting_approval, which pauses the execution.
func stepApproval(cfg storage.JSONMap) (map[string]any, error) {
	if auto, _ := cfg["autoApprove"].(bool); auto {
		return map[string]any{"status": outputAutoApproved}, nil
	}
	out := map[string]any{"status": outputAwaitingApproval}
	if approver, ok := cfg["approverGroup"].(string); ok && approver != "" {
		out["approverGroup"] = approver
	}
	return out, nil
}

// stepNotification records the would-be notification; delivery is out of
// scope, so delivered is always false.
func stepNotification(cfg storage.JSONMap, input map[string]any) (map[string]any, error) {
	channel, _ := cfg["channel"].(string)
	recipient, _ := cfg["recipient"].(string)
	if recipient == "" {
		recipient, _ = input["assignee"].(string)
	}
	template, _ := cfg["template"].(string)
	message, _ := cfg["message"].(string)

	return map[string]any{
		"channel":   channel,
		"recipient": recipient,
		"template":  template,
		"message":   message,
		"delivered": false,
	}, nil
}

// stepDecision evaluates the configured condition and emits the order index
// of the branch to jump to.
func stepDecision(cfg storage.JSONMap, input map[string]any) (map[string]any, error) {
	onTrue, okTrue := numberFromConfig(cfg, "onTrueStepIndex")
	onFalse, okFalse := numberFromConfig(cfg, "onFalseStepIndex")
	if !okTrue || !okFalse {
		return nil, errors.New("decision step requires numeric branch targets")
	}

	operator, _ := cfg["operator"].(string)

	var result bool
	switch operator {
	case "equals", "not_equals":
		field, _ := cfg["conditionField"].(string)
		want := cfg["conditionValue"]
		got := input[field]
		equal := fmt.Sprintf("%v", got) == fmt.Sprintf("%v", want)
		result = equal == (operator == "equals")
	case "truthy", "falsy":
		field, _ := cfg["conditionField"].(string)
		result = isTruthy(input[field]) == (operator == "truthy")
	case opExpression:
		expr, _ := cfg["conditionExpression"].(string)
		var err error
		result, err = evalCondition(expr, input)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown decision operator %q", operator)
	}

	target := onFalse
	if result {
		target = onTrue
	}
	return map[string]any{"result": result, "targetStepIndex": target}, nil
}

func isTruthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case int:
		return t != 0
	default:
		return true
	}
}

// stepRecordMutation composes the mutation map from static mutations plus a
// source mapping over the accumulated input, resolving the target record id
// from the configured input field. A lock on the target record must be
// absent or held by this execution.
func (e *Engine) stepRecordMutation(ctx context.Context, mc tenant.ModuleContext, exec *storage.WorkflowExecution, cfg storage.JSONMap, input map[string]any) (map[string]any, error) {
	recordIDField, _ := cfg["recordIdField"].(string)
	if recordIDField == "" {
		return nil, errors.New("record_mutation requires recordIdField")
	}
	recordID, _ := input[recordIDField].(string)
	if recordID == "" {
		return nil, fmt.Errorf("record_mutation could not resolve record id from input field %q", recordIDField)
	}
	recordTypeID, _ := cfg["recordTypeId"].(string)

	if recordTypeID != "" {
		lock, err := e.store.GetRecordLock(ctx, mc.Tenant, recordTypeID, recordID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		if lock != nil && lock.ExecutionID != exec.ID {
			return nil, fmt.Errorf("record %s is locked by execution %s", recordID, lock.ExecutionID)
		}
	}

	mutations := map[string]any{}
	if static, ok := cfg["mutations"].(map[string]any); ok {
		for k, v := range static {
			mutations[k] = v
		}
	}
	if mapping, ok := cfg["sourceMapping"].(map[string]any); ok {
		for target, source := range mapping {
			sourceField, _ := source.(string)
			if value, present := input[sourceField]; present {
				mutations[target] = value
			}
		}
	}

	return map[string]any{
		"recordId":     recordID,
		"recordTypeId": recordTypeID,
		"mutations":    mutations,
	}, nil
}

// stepRecordLock takes the advisory lock for the configured record. Taking
// an already-held lock is a no-op.
func (e *Engine) stepRecordLock(ctx context.Context, mc tenant.ModuleContext, exec *storage.WorkflowExecution, cfg storage.JSONMap, input map[string]any) (map[string]any, error) {
	recordTypeID, _ := cfg["recordTypeId"].(string)
	if recordTypeID == "" {
		return nil, errors.New("record_lock requires recordTypeId")
	}
	recordIDField, _ := cfg["recordIdField"].(string)
	if recordIDField == "" {
		recordIDField = "recordId"
	}
	recordID, _ := input[recordIDField].(string)
	if recordID == "" {
		return nil, fmt.Errorf("record_lock could not resolve record id from input field %q", recordIDField)
	}

	lock, err := e.store.CreateRecordLock(ctx, mc.Tenant, recordTypeID, recordID, exec.ID)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"recordId":     recordID,
		"recordTypeId": recordTypeID,
		"lockHolder":   lock.ExecutionID,
		"alreadyHeld":  lock.ExecutionID != exec.ID,
	}, nil
}
