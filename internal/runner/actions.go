// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"context"
	"fmt"

	"github.com/loomhq/loom/internal/capability"
	"github.com/loomhq/loom/internal/storage"
)

// handleWorkflowStep is the boundary-execution wrapper for logical workflow
// steps. The workflow engine owns the step semantics; the runner contributes
// the admission check and the audit trail the step result is augmented with.
func (a *LocalAdapter) handleWorkflowStep(_ context.Context, executionID string, req ExecutionRequest) (map[string]any, []string, error) {
	stepType, _ := req.Input["stepType"].(string)
	logs := []string{
		fmt.Sprintf("execution %s admitted for module %s", executionID, req.Module.ModuleID),
		fmt.Sprintf("workflow step %q dispatched under profile %s", stepType, req.Module.Profile),
	}
	return map[string]any{"accepted": true, "stepType": stepType}, logs, nil
}

// handleAgentTask records the task as an agent run and acknowledges it.
func (a *LocalAdapter) handleAgentTask(ctx context.Context, executionID string, req ExecutionRequest) (map[string]any, []string, error) {
	task, _ := req.Input["task"].(string)
	run, err := a.store.CreateAgentRun(ctx, req.Tenant, &storage.AgentRun{
		ModuleID:    req.Module.ModuleID,
		Action:      string(ActionAgentTask),
		Status:      "accepted",
		ExecutionID: executionID,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to record agent run: %w", err)
	}
	logs := []string{fmt.Sprintf("agent task %q accepted as run %s", task, run.ID)}
	return map[string]any{"agentRunId": run.ID, "task": task}, logs, nil
}

// handleAgentAction dispatches the named agent action from the payload.
func (a *LocalAdapter) handleAgentAction(ctx context.Context, executionID string, req ExecutionRequest) (map[string]any, []string, error) {
	name, _ := req.Input["name"].(string)

	switch name {
	case AgentActionRunCommand:
		return a.runCommand(executionID, req)
	case AgentActionGetDiff:
		return a.getDiff(req)
	case AgentActionGetLogs:
		return a.getLogs(ctx, req)
	default:
		return nil, nil, &BoundaryError{
			Code:    CodeUnknownAction,
			Message: fmt.Sprintf("unknown agent action %q", name),
		}
	}
}

// runCommand path-validates the optional targetPath against the module
// boundary before accepting the command.
func (a *LocalAdapter) runCommand(executionID string, req ExecutionRequest) (map[string]any, []string, error) {
	if err := capability.Assert(req.Module.Capabilities, capability.CmdRun); err != nil {
		return nil, nil, &BoundaryError{Code: CodeCapabilityNotGranted, Message: err.Error()}
	}

	command, _ := req.Input["command"].(string)
	if targetPath, ok := req.Input["targetPath"].(string); ok && targetPath != "" {
		if verr := ValidateModuleBoundaryPath(req.Module.ModuleID, req.Module.ModuleRootPath, targetPath); verr != nil {
			return nil, nil, verr
		}
	}

	logs := []string{fmt.Sprintf("command %q accepted in %s", command, req.Module.ModuleRootPath)}
	return map[string]any{
		"command":     command,
		"executionId": executionID,
		"exitCode":    0,
	}, logs, nil
}

// getDiff is a capability-checked read-only call returning the module
// worktree's change summary.
func (a *LocalAdapter) getDiff(req ExecutionRequest) (map[string]any, []string, error) {
	if err := capability.Assert(req.Module.Capabilities, capability.GitDiff); err != nil {
		return nil, nil, &BoundaryError{Code: CodeCapabilityNotGranted, Message: err.Error()}
	}

	diff, err := worktreeDiff(req.Module.ModuleRootPath)
	if err != nil {
		// A module root without a repository yields an empty diff, not a
		// failed execution.
		return map[string]any{"files": []any{}, "clean": true},
			[]string{fmt.Sprintf("no repository at %s: %v", req.Module.ModuleRootPath, err)}, nil
	}

	files := make([]any, 0, len(diff))
	for _, f := range diff {
		files = append(files, map[string]any{"path": f.Path, "status": f.Status})
	}
	return map[string]any{"files": files, "clean": len(files) == 0},
		[]string{fmt.Sprintf("diff computed for %s: %d changed files", req.Module.ModuleID, len(files))}, nil
}

// getLogs is a capability-checked read-only call returning the tenant's
// recent telemetry lines.
func (a *LocalAdapter) getLogs(ctx context.Context, req ExecutionRequest) (map[string]any, []string, error) {
	if err := capability.Assert(req.Module.Capabilities, capability.FSRead); err != nil {
		return nil, nil, &BoundaryError{Code: CodeCapabilityNotGranted, Message: err.Error()}
	}

	rows, err := a.store.ListTelemetryEvents(ctx, req.Tenant, 100)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read telemetry: %w", err)
	}
	lines := make([]any, 0, len(rows))
	for _, r := range rows {
		lines = append(lines, fmt.Sprintf("%s %s %s", r.OccurredAt.Format("2006-01-02T15:04:05Z07:00"), r.Type, r.EntityID))
	}
	return map[string]any{"lines": lines}, []string{fmt.Sprintf("returned %d log lines", len(lines))}, nil
}

// handleWorkspaceStart provisions a synthetic container and preview URL and
// records them on the workspace row.
func (a *LocalAdapter) handleWorkspaceStart(ctx context.Context, executionID string, req ExecutionRequest) (map[string]any, []string, error) {
	workspaceID, _ := req.Input["workspaceId"].(string)
	if workspaceID == "" {
		return nil, nil, fmt.Errorf("workspace_start requires workspaceId")
	}

	containerID := "ctr-" + executionID[:8]
	previewURL := fmt.Sprintf("https://%s.preview.loom.dev", workspaceID)

	if err := a.store.MarkWorkspaceStarted(ctx, req.Tenant, workspaceID, containerID, previewURL); err != nil {
		return nil, nil, fmt.Errorf("failed to start workspace %s: %w", workspaceID, err)
	}

	logs := []string{fmt.Sprintf("workspace %s started as %s", workspaceID, containerID)}
	return map[string]any{
		"workspaceId": workspaceID,
		"containerId": containerID,
		"previewUrl":  previewURL,
	}, logs, nil
}

// handleWorkspaceStop records workspace shutdown.
func (a *LocalAdapter) handleWorkspaceStop(ctx context.Context, _ string, req ExecutionRequest) (map[string]any, []string, error) {
	workspaceID, _ := req.Input["workspaceId"].(string)
	if workspaceID == "" {
		return nil, nil, fmt.Errorf("workspace_stop requires workspaceId")
	}
	if err := a.store.MarkWorkspaceStopped(ctx, req.Tenant, workspaceID); err != nil {
		return nil, nil, fmt.Errorf("failed to stop workspace %s: %w", workspaceID, err)
	}
	return map[string]any{"workspaceId": workspaceID, "stopped": true},
		[]string{fmt.Sprintf("workspace %s stopped", workspaceID)}, nil
}

// handleSkillInvoke acknowledges a skill invocation under the module grant.
func (a *LocalAdapter) handleSkillInvoke(_ context.Context, executionID string, req ExecutionRequest) (map[string]any, []string, error) {
	skill, _ := req.Input["skill"].(string)
	if skill == "" {
		return nil, nil, fmt.Errorf("skill_invoke requires skill")
	}
	return map[string]any{"skill": skill, "invocationId": executionID},
		[]string{fmt.Sprintf("skill %q invoked", skill)}, nil
}
