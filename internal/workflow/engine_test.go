// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomhq/loom/internal/capability"
	"github.com/loomhq/loom/internal/events"
	"github.com/loomhq/loom/internal/metrics"
	"github.com/loomhq/loom/internal/runner"
	"github.com/loomhq/loom/internal/storage"
	"github.com/loomhq/loom/internal/tenant"
)

type testEnv struct {
	store  *storage.Store
	engine *Engine
	tc     tenant.Context
	mc     tenant.ModuleContext
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	store, err := storage.Open(":memory:", logger)
	require.NoError(t, err)

	m := metrics.New()
	emitter := events.NewEmitter(logger)
	t.Cleanup(emitter.Close)

	adapter := runner.NewLocal(store, emitter, m, logger)
	engine := NewEngine(store, adapter, emitter, m, logger)

	tc := tenant.New("tenant-a", tenant.SourceHeader)
	mc := tenant.NewModuleContext(tc, "mod-1", "src/modules/mod-1", capability.ProfileWorkflowModuleDefault)

	return &testEnv{store: store, engine: engine, tc: tc, mc: mc}
}

// defineWorkflow creates an active definition with the given steps.
func (env *testEnv) defineWorkflow(t *testing.T, steps []storage.WorkflowStep) *storage.WorkflowDefinition {
	t.Helper()
	ctx := context.Background()
	def, err := env.store.CreateWorkflowDefinition(ctx, env.tc, &storage.WorkflowDefinition{
		Name:   "wf-" + storage.NewID()[:8],
		Status: storage.WorkflowStatusDraft,
	})
	require.NoError(t, err)
	for i := range steps {
		steps[i].WorkflowDefinitionID = def.ID
		_, err := env.store.CreateWorkflowStep(ctx, env.tc, &steps[i])
		require.NoError(t, err)
	}
	require.NoError(t, env.store.UpdateWorkflowDefinitionStatus(ctx, env.tc, def.ID, storage.WorkflowStatusActive))
	return def
}

func TestExecuteWorkflowRequiresIntent(t *testing.T) {
	env := newTestEnv(t)
	def := env.defineWorkflow(t, []storage.WorkflowStep{
		{OrderIndex: 0, StepType: storage.StepNotification, Config: storage.JSONMap{"channel": "email"}},
	})

	_, err := env.engine.ExecuteWorkflow(context.Background(), env.mc, def.ID, nil, "")
	assert.ErrorIs(t, err, ErrIntentRequired)
}

func TestExecuteWorkflowRequiresActiveDefinition(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	def, err := env.store.CreateWorkflowDefinition(ctx, env.tc, &storage.WorkflowDefinition{Name: "draft-wf"})
	require.NoError(t, err)

	_, err = env.engine.ExecuteWorkflow(ctx, env.mc, def.ID, nil, "intent-1")
	assert.ErrorIs(t, err, ErrWorkflowNotActive)
}

func TestExecuteWorkflowTenantOwnership(t *testing.T) {
	env := newTestEnv(t)
	def := env.defineWorkflow(t, []storage.WorkflowStep{
		{OrderIndex: 0, StepType: storage.StepNotification, Config: storage.JSONMap{}},
	})

	otherTenant := tenant.New("tenant-b", tenant.SourceHeader)
	otherMC := tenant.NewModuleContext(otherTenant, "mod-x", "src/mod-x", capability.ProfileWorkflowModuleDefault)

	_, err := env.engine.ExecuteWorkflow(context.Background(), otherMC, def.ID, nil, "intent-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestExecuteWorkflowRunsAllSteps(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	def := env.defineWorkflow(t, []storage.WorkflowStep{
		{OrderIndex: 0, StepType: storage.StepAssignment, Config: storage.JSONMap{"assigneeType": "group", "groupId": "support"}},
		{OrderIndex: 1, StepType: storage.StepNotification, Config: storage.JSONMap{"channel": "email", "template": "assigned"}},
	})

	exec, err := env.engine.ExecuteWorkflow(ctx, env.mc, def.ID, map[string]any{"recordId": "rec-1"}, "intent-1")
	require.NoError(t, err)
	assert.Equal(t, storage.ExecutionCompleted, exec.Status)
	assert.NotNil(t, exec.CompletedAt)

	stepExecs, err := env.store.ListStepExecutions(ctx, env.tc, exec.ID)
	require.NoError(t, err)
	require.Len(t, stepExecs, 2)
	for _, se := range stepExecs {
		assert.Equal(t, storage.StepCompleted, se.Status)
		assert.NotEmpty(t, se.Output["logs"], "step output must carry runner logs")
	}

	// Notification recipient comes from the assignment output via the
	// accumulated input.
	assert.Equal(t, "group:support", stepExecs[1].Output["recipient"])
	assert.Equal(t, false, stepExecs[1].Output["delivered"])
}

func TestApprovalPauseResumeApproved(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	def := env.defineWorkflow(t, []storage.WorkflowStep{
		{OrderIndex: 0, StepType: storage.StepAssignment, Config: storage.JSONMap{"assigneeType": "user", "userId": "u1"}},
		{OrderIndex: 1, StepType: storage.StepApproval, Config: storage.JSONMap{"approverGroup": "managers"}},
		{OrderIndex: 2, StepType: storage.StepNotification, Config: storage.JSONMap{"channel": "email"}},
	})

	exec, err := env.engine.ExecuteWorkflow(ctx, env.mc, def.ID, map[string]any{"recordId": "rec-1"}, "intent-1")
	require.NoError(t, err)
	assert.Equal(t, storage.ExecutionPaused, exec.Status)
	assert.NotEmpty(t, exec.PausedAtStepID)
	assert.Equal(t, "user:u1", exec.AccumulatedInput["assignee"], "accumulated input must survive the pause")

	stepExecs, err := env.store.ListStepExecutions(ctx, env.tc, exec.ID)
	require.NoError(t, err)
	require.Len(t, stepExecs, 2)
	paused := stepExecs[1]
	assert.Equal(t, storage.StepAwaitingApproval, paused.Status)

	resumed, err := env.engine.ResumeWorkflowExecution(ctx, env.mc, exec.ID, paused.ID, ResumeDecision{
		Approved: true, ResolvedBy: "manager-1",
	})
	require.NoError(t, err)
	assert.Equal(t, storage.ExecutionCompleted, resumed.Status)

	// Ordered step outputs concatenate the pre-pause and post-pause
	// sequences.
	finalSteps, err := env.store.ListStepExecutions(ctx, env.tc, exec.ID)
	require.NoError(t, err)
	require.Len(t, finalSteps, 3)
	assert.Equal(t, "approved", finalSteps[1].Output["status"])
	assert.Equal(t, "manager-1", finalSteps[1].Output["resolvedBy"])
	assert.Equal(t, storage.StepCompleted, finalSteps[2].Status)
}

func TestApprovalPauseResumeRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	def := env.defineWorkflow(t, []storage.WorkflowStep{
		{OrderIndex: 0, StepType: storage.StepApproval, Config: storage.JSONMap{}},
		{OrderIndex: 1, StepType: storage.StepNotification, Config: storage.JSONMap{"channel": "email"}},
	})

	exec, err := env.engine.ExecuteWorkflow(ctx, env.mc, def.ID, nil, "intent-1")
	require.NoError(t, err)
	require.Equal(t, storage.ExecutionPaused, exec.Status)

	stepExecs, err := env.store.ListStepExecutions(ctx, env.tc, exec.ID)
	require.NoError(t, err)

	rejected, err := env.engine.ResumeWorkflowExecution(ctx, env.mc, exec.ID, stepExecs[0].ID, ResumeDecision{
		Approved: false, ResolvedBy: "manager-2",
	})
	require.NoError(t, err)
	assert.Equal(t, storage.ExecutionFailed, rejected.Status)
	assert.Contains(t, rejected.Error, "manager-2")
}

func TestResumeGuards(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	def := env.defineWorkflow(t, []storage.WorkflowStep{
		{OrderIndex: 0, StepType: storage.StepNotification, Config: storage.JSONMap{}},
	})

	exec, err := env.engine.ExecuteWorkflow(ctx, env.mc, def.ID, nil, "intent-1")
	require.NoError(t, err)
	require.Equal(t, storage.ExecutionCompleted, exec.Status)

	stepExecs, err := env.store.ListStepExecutions(ctx, env.tc, exec.ID)
	require.NoError(t, err)

	_, err = env.engine.ResumeWorkflowExecution(ctx, env.mc, exec.ID, stepExecs[0].ID, ResumeDecision{Approved: true})
	assert.ErrorIs(t, err, ErrExecutionNotPaused)
}

func TestAutoApproveDoesNotPause(t *testing.T) {
	env := newTestEnv(t)
	def := env.defineWorkflow(t, []storage.WorkflowStep{
		{OrderIndex: 0, StepType: storage.StepApproval, Config: storage.JSONMap{"autoApprove": true}},
	})

	exec, err := env.engine.ExecuteWorkflow(context.Background(), env.mc, def.ID, nil, "intent-1")
	require.NoError(t, err)
	assert.Equal(t, storage.ExecutionCompleted, exec.Status)
}

func TestDecisionBranching(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	// Step 0 decides: priority == "high" jumps to step 2, else step 1.
	def := env.defineWorkflow(t, []storage.WorkflowStep{
		{OrderIndex: 0, StepType: storage.StepDecision, Config: storage.JSONMap{
			"operator": "equals", "conditionField": "priority", "conditionValue": "high",
			"onTrueStepIndex": 2, "onFalseStepIndex": 1,
		}},
		{OrderIndex: 1, StepType: storage.StepNotification, Config: storage.JSONMap{"channel": "email", "template": "routine"}},
		{OrderIndex: 2, StepType: storage.StepNotification, Config: storage.JSONMap{"channel": "pager", "template": "urgent"}},
	})

	exec, err := env.engine.ExecuteWorkflow(ctx, env.mc, def.ID, map[string]any{"priority": "high"}, "intent-1")
	require.NoError(t, err)
	require.Equal(t, storage.ExecutionCompleted, exec.Status)

	stepExecs, err := env.store.ListStepExecutions(ctx, env.tc, exec.ID)
	require.NoError(t, err)
	// Decision, then the urgent branch, then fallthrough stops at the end.
	require.GreaterOrEqual(t, len(stepExecs), 2)
	assert.Equal(t, "pager", stepExecs[1].Output["channel"])
}

func TestDecisionUnknownOperatorFailsStep(t *testing.T) {
	env := newTestEnv(t)
	def := env.defineWorkflow(t, []storage.WorkflowStep{
		{OrderIndex: 0, StepType: storage.StepDecision, Config: storage.JSONMap{
			"operator": "regex_match", "conditionField": "x",
			"onTrueStepIndex": 0, "onFalseStepIndex": 0,
		}},
	})

	exec, err := env.engine.ExecuteWorkflow(context.Background(), env.mc, def.ID, nil, "intent-1")
	require.NoError(t, err)
	assert.Equal(t, storage.ExecutionFailed, exec.Status)
	assert.Contains(t, exec.Error, "unknown decision operator")
}

func TestDecisionExpressionOperator(t *testing.T) {
	env := newTestEnv(t)
	def := env.defineWorkflow(t, []storage.WorkflowStep{
		{OrderIndex: 0, StepType: storage.StepDecision, Config: storage.JSONMap{
			"operator":            "expression",
			"conditionExpression": `input["severity"] == "critical" && input["count"] > 3.0`,
			"onTrueStepIndex":     1, "onFalseStepIndex": 2,
		}},
		{OrderIndex: 1, StepType: storage.StepNotification, Config: storage.JSONMap{"channel": "pager"}},
		{OrderIndex: 2, StepType: storage.StepNotification, Config: storage.JSONMap{"channel": "email"}},
	})

	ctx := context.Background()
	exec, err := env.engine.ExecuteWorkflow(ctx, env.mc, def.ID,
		map[string]any{"severity": "critical", "count": 5.0}, "intent-1")
	require.NoError(t, err)
	require.Equal(t, storage.ExecutionCompleted, exec.Status)

	stepExecs, err := env.store.ListStepExecutions(ctx, env.tc, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, "pager", stepExecs[1].Output["channel"])
}

func TestRecordLockThenMutation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	def := env.defineWorkflow(t, []storage.WorkflowStep{
		{OrderIndex: 0, StepType: storage.StepRecordLock, Config: storage.JSONMap{
			"recordTypeId": "rt-ticket", "recordIdField": "recordId",
		}},
		{OrderIndex: 1, StepType: storage.StepRecordMutation, Config: storage.JSONMap{
			"recordTypeId":  "rt-ticket",
			"recordIdField": "recordId",
			"mutations":     map[string]any{"status": "in_progress"},
			"sourceMapping": map[string]any{"owner": "assignee"},
		}},
	})

	exec, err := env.engine.ExecuteWorkflow(ctx, env.mc, def.ID,
		map[string]any{"recordId": "rec-9", "assignee": "user:u1"}, "intent-1")
	require.NoError(t, err)
	require.Equal(t, storage.ExecutionCompleted, exec.Status)

	stepExecs, err := env.store.ListStepExecutions(ctx, env.tc, exec.ID)
	require.NoError(t, err)
	mutation := stepExecs[1].Output["mutations"].(map[string]any)
	assert.Equal(t, "in_progress", mutation["status"])
	assert.Equal(t, "user:u1", mutation["owner"])

	// Locks are released once the execution reaches a terminal state.
	_, err = env.store.GetRecordLock(ctx, env.tc, "rt-ticket", "rec-9")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMutationBlockedByForeignLock(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.store.CreateRecordLock(ctx, env.tc, "rt-ticket", "rec-9", "some-other-exec")
	require.NoError(t, err)

	def := env.defineWorkflow(t, []storage.WorkflowStep{
		{OrderIndex: 0, StepType: storage.StepRecordMutation, Config: storage.JSONMap{
			"recordTypeId":  "rt-ticket",
			"recordIdField": "recordId",
			"mutations":     map[string]any{"status": "closed"},
		}},
	})

	exec, err := env.engine.ExecuteWorkflow(ctx, env.mc, def.ID, map[string]any{"recordId": "rec-9"}, "intent-1")
	require.NoError(t, err)
	assert.Equal(t, storage.ExecutionFailed, exec.Status)
	assert.Contains(t, exec.Error, "locked by execution")
}
