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
	"github.com/loomhq/loom/internal/storage"
)

func newDispatcherEnv(t *testing.T) (*testEnv, *Dispatcher) {
	t.Helper()
	env := newTestEnv(t)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	d := NewDispatcher(env.store, env.engine, env.engine.metrics, logger, 0)
	return env, d
}

// seedModule gives the tenant a project and module the dispatcher can fall
// back to for its execution context.
func seedModule(t *testing.T, env *testEnv) *storage.Module {
	t.Helper()
	ctx := context.Background()
	project, err := env.store.CreateProject(ctx, env.tc, "alpha")
	require.NoError(t, err)
	module, err := env.store.CreateModule(ctx, env.tc, &storage.Module{
		ProjectID:         project.ID,
		Name:              "core",
		RootPath:          "src/modules/core",
		CapabilityProfile: string(capability.ProfileWorkflowModuleDefault),
	})
	require.NoError(t, err)
	return module
}

func TestDispatcherDispatchesPendingIntent(t *testing.T) {
	env, d := newDispatcherEnv(t)
	ctx := context.Background()
	seedModule(t, env)

	def := env.defineWorkflow(t, []storage.WorkflowStep{
		{OrderIndex: 0, StepType: storage.StepNotification, Config: storage.JSONMap{"channel": "email"}},
	})

	intent, err := env.store.CreateWorkflowExecutionIntent(ctx, env.tc, &storage.WorkflowExecutionIntent{
		WorkflowDefinitionID: def.ID,
		TriggerType:          storage.TriggerRecordEvent,
		TriggerPayload:       storage.JSONMap{"recordId": "rec-1"},
	})
	require.NoError(t, err)

	require.NoError(t, d.Tick(ctx))

	got, err := env.store.GetWorkflowExecutionIntent(ctx, env.tc, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.IntentDispatched, got.Status)
	require.NotEmpty(t, got.ExecutionID)
	assert.NotNil(t, got.DispatchedAt)

	exec, err := env.store.GetWorkflowExecution(ctx, env.tc, got.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, storage.ExecutionCompleted, exec.Status)
	assert.Equal(t, intent.ID, exec.IntentID)
}

func TestDispatcherFailsIntentForInactiveDefinition(t *testing.T) {
	env, d := newDispatcherEnv(t)
	ctx := context.Background()
	seedModule(t, env)

	def, err := env.store.CreateWorkflowDefinition(ctx, env.tc, &storage.WorkflowDefinition{Name: "draft-wf"})
	require.NoError(t, err)

	intent, err := env.store.CreateWorkflowExecutionIntent(ctx, env.tc, &storage.WorkflowExecutionIntent{
		WorkflowDefinitionID: def.ID,
		TriggerType:          storage.TriggerWebhook,
	})
	require.NoError(t, err)

	require.NoError(t, d.Tick(ctx))

	got, err := env.store.GetWorkflowExecutionIntent(ctx, env.tc, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.IntentFailed, got.Status)
	assert.Contains(t, got.Error, "not active")
}

func TestDispatcherFailsIntentWithoutModule(t *testing.T) {
	env, d := newDispatcherEnv(t)
	ctx := context.Background()

	def := env.defineWorkflow(t, []storage.WorkflowStep{
		{OrderIndex: 0, StepType: storage.StepNotification, Config: storage.JSONMap{}},
	})
	intent, err := env.store.CreateWorkflowExecutionIntent(ctx, env.tc, &storage.WorkflowExecutionIntent{
		WorkflowDefinitionID: def.ID,
		TriggerType:          storage.TriggerManual,
	})
	require.NoError(t, err)

	require.NoError(t, d.Tick(ctx))

	got, err := env.store.GetWorkflowExecutionIntent(ctx, env.tc, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.IntentFailed, got.Status)
	assert.Contains(t, got.Error, "no module available")
}

func TestDispatcherPrefersChangeModule(t *testing.T) {
	env, d := newDispatcherEnv(t)
	ctx := context.Background()

	fallback := seedModule(t, env)
	project, err := env.store.CreateProject(ctx, env.tc, "beta")
	require.NoError(t, err)
	preferred, err := env.store.CreateModule(ctx, env.tc, &storage.Module{
		ProjectID:         project.ID,
		Name:              "billing",
		RootPath:          "src/modules/billing",
		CapabilityProfile: string(capability.ProfileWorkflowModuleDefault),
	})
	require.NoError(t, err)
	change, err := env.store.CreateChangeRecord(ctx, env.tc, &storage.ChangeRecord{
		ProjectID: project.ID,
		ModuleID:  preferred.ID,
		Title:     "billing workflow rollout",
	})
	require.NoError(t, err)

	ctxDef, err := env.store.CreateWorkflowDefinition(ctx, env.tc, &storage.WorkflowDefinition{
		Name:     "billing-wf",
		ChangeID: change.ID,
	})
	require.NoError(t, err)
	_, err = env.store.CreateWorkflowStep(ctx, env.tc, &storage.WorkflowStep{
		WorkflowDefinitionID: ctxDef.ID,
		OrderIndex:           0,
		StepType:             storage.StepNotification,
		Config:               storage.JSONMap{},
	})
	require.NoError(t, err)
	require.NoError(t, env.store.UpdateWorkflowDefinitionStatus(ctx, env.tc, ctxDef.ID, storage.WorkflowStatusActive))

	def, err := env.store.GetWorkflowDefinition(ctx, env.tc, ctxDef.ID)
	require.NoError(t, err)

	module, err := d.resolveModule(ctx, env.tc, def)
	require.NoError(t, err)
	assert.Equal(t, preferred.ID, module.ID)
	assert.NotEqual(t, fallback.ID, module.ID)
}
