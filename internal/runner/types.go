// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package runner is the boundary between the control plane, which owns
// policy, and the execution plane, which owns effects. Every task, workflow
// step, or agent action crosses ValidateExecutionRequest before dispatch,
// and every path produces a well-typed ExecutionResult; nothing raises past
// the adapter surface.
package runner

import (
	"fmt"

	"github.com/loomhq/loom/internal/capability"
	"github.com/loomhq/loom/internal/tenant"
)

// Action is the requested execution action.
type Action string

const (
	ActionWorkflowStep   Action = "workflow_step"
	ActionAgentTask      Action = "agent_task"
	ActionAgentAction    Action = "agent_action"
	ActionWorkspaceStart Action = "workspace_start"
	ActionWorkspaceStop  Action = "workspace_stop"
	ActionSkillInvoke    Action = "skill_invoke"
)

// Agent action names carried in the input payload of an agent_action.
const (
	AgentActionRunCommand = "run_command"
	AgentActionGetDiff    = "get_diff"
	AgentActionGetLogs    = "get_logs"
)

// Typed error codes for boundary and execution failures.
const (
	CodeMissingTenantContext  = "MISSING_TENANT_CONTEXT"
	CodeInvalidTenantSource   = "INVALID_TENANT_SOURCE"
	CodeMissingModuleContext  = "MISSING_MODULE_CONTEXT"
	CodeTenantContextMutation = "TENANT_CONTEXT_MUTATION"
	CodeCapabilityNotGranted  = "CAPABILITY_NOT_GRANTED"
	CodeModuleBoundaryEscape  = "MODULE_BOUNDARY_ESCAPE"
	CodeUnknownAction         = "UNKNOWN_ACTION"
	CodeExecutionError        = "EXECUTION_ERROR"
	CodeRemoteUnreachable     = "REMOTE_UNREACHABLE"
	CodeRemoteTimeout         = "REMOTE_TIMEOUT"
	CodeRemoteBadResponse     = "REMOTE_BAD_RESPONSE"
)

// ExecutionRequest is the unit of work admitted at the boundary.
type ExecutionRequest struct {
	Tenant       tenant.Context          `json:"tenantContext"`
	Module       tenant.ModuleContext    `json:"moduleExecutionContext"`
	Action       Action                  `json:"requestedAction"`
	Capabilities []capability.Capability `json:"capabilities,omitempty"`
	Input        map[string]any          `json:"inputPayload,omitempty"`
}

// ExecutionResult is the uniform outcome of every execution path.
type ExecutionResult struct {
	ExecutionID string         `json:"executionId"`
	Success     bool           `json:"success"`
	Output      map[string]any `json:"output,omitempty"`
	Logs        []string       `json:"logs,omitempty"`
	ErrorCode   string         `json:"errorCode,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// BoundaryError is a typed validation failure at the control-plane ↔ runner
// boundary. It is converted to an ExecutionResult at the adapter edge and
// never thrown past it.
type BoundaryError struct {
	Code    string
	Message string
}

func (e *BoundaryError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// failure builds a failed ExecutionResult with the structured code and a
// human log line.
func failure(executionID, code, message string) ExecutionResult {
	return ExecutionResult{
		ExecutionID: executionID,
		Success:     false,
		ErrorCode:   code,
		Error:       message,
		Logs:        []string{fmt.Sprintf("execution %s rejected: %s: %s", executionID, code, message)},
	}
}
