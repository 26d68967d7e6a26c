// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomhq/loom/internal/events"
	"github.com/loomhq/loom/internal/tenant"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	store, err := Open(":memory:", logger)
	require.NoError(t, err)
	return store
}

func TestTenantScopingOnReads(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tenantA := tenant.New("tenant-a", tenant.SourceHeader)
	tenantB := tenant.New("tenant-b", tenant.SourceHeader)

	_, err := store.CreateProject(ctx, tenantA, "alpha")
	require.NoError(t, err)
	_, err = store.CreateProject(ctx, tenantB, "beta")
	require.NoError(t, err)

	aProjects, err := store.ListProjects(ctx, tenantA)
	require.NoError(t, err)
	require.Len(t, aProjects, 1)
	assert.Equal(t, "alpha", aProjects[0].Name)

	// A tenant cannot reach another tenant's row by id either.
	bProjects, err := store.ListProjects(ctx, tenantB)
	require.NoError(t, err)
	_, err = store.GetProject(ctx, tenantA, bProjects[0].ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMissingTenantRejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.ListProjects(ctx, tenant.Context{})
	assert.ErrorIs(t, err, ErrMissingTenant)

	_, err = store.CreateProject(ctx, tenant.Context{}, "nope")
	assert.ErrorIs(t, err, ErrMissingTenant)
}

func TestChildWriteVerifiesParentTenant(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tenantA := tenant.New("tenant-a", tenant.SourceHeader)
	tenantB := tenant.New("tenant-b", tenant.SourceHeader)

	def, err := store.CreateWorkflowDefinition(ctx, tenantA, &WorkflowDefinition{Name: "onboarding"})
	require.NoError(t, err)

	// tenant-b cannot attach a step to tenant-a's definition.
	_, err = store.CreateWorkflowStep(ctx, tenantB, &WorkflowStep{
		WorkflowDefinitionID: def.ID,
		OrderIndex:           0,
		StepType:             StepNotification,
	})
	require.Error(t, err)

	_, err = store.CreateWorkflowStep(ctx, tenantA, &WorkflowStep{
		WorkflowDefinitionID: def.ID,
		OrderIndex:           0,
		StepType:             StepNotification,
	})
	require.NoError(t, err)

	steps, err := store.ListWorkflowSteps(ctx, tenantA, def.ID)
	require.NoError(t, err)
	assert.Len(t, steps, 1)
}

func TestIntentIdempotencyKey(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	tc := tenant.New("tenant-a", tenant.SourceHeader)

	def, err := store.CreateWorkflowDefinition(ctx, tc, &WorkflowDefinition{Name: "wf", Status: WorkflowStatusActive})
	require.NoError(t, err)

	key := "evt-123"
	first, err := store.CreateWorkflowExecutionIntent(ctx, tc, &WorkflowExecutionIntent{
		WorkflowDefinitionID: def.ID,
		TriggerType:          TriggerRecordEvent,
		IdempotencyKey:       &key,
	})
	require.NoError(t, err)

	dup, err := store.CreateWorkflowExecutionIntent(ctx, tc, &WorkflowExecutionIntent{
		WorkflowDefinitionID: def.ID,
		TriggerType:          TriggerRecordEvent,
		IdempotencyKey:       &key,
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, dup.ID)

	// Intents without a key never collide.
	a, err := store.CreateWorkflowExecutionIntent(ctx, tc, &WorkflowExecutionIntent{
		WorkflowDefinitionID: def.ID,
		TriggerType:          TriggerManual,
	})
	require.NoError(t, err)
	b, err := store.CreateWorkflowExecutionIntent(ctx, tc, &WorkflowExecutionIntent{
		WorkflowDefinitionID: def.ID,
		TriggerType:          TriggerManual,
	})
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestPendingIntentsFIFO(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	tc := tenant.New("tenant-a", tenant.SourceHeader)

	def, err := store.CreateWorkflowDefinition(ctx, tc, &WorkflowDefinition{Name: "wf", Status: WorkflowStatusActive})
	require.NoError(t, err)

	for range 3 {
		_, err = store.CreateWorkflowExecutionIntent(ctx, tc, &WorkflowExecutionIntent{
			WorkflowDefinitionID: def.ID,
			TriggerType:          TriggerManual,
		})
		require.NoError(t, err)
	}

	sc := tenant.ForSystem("dispatcher test")
	pending, err := store.ListPendingIntents(ctx, sc, 0)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	for i := 1; i < len(pending); i++ {
		assert.False(t, pending[i].CreatedAt.Before(pending[i-1].CreatedAt))
	}

	require.NoError(t, store.MarkIntentDispatched(ctx, tc, pending[0].ID, "exec-1"))
	pending, err = store.ListPendingIntents(ctx, sc, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestRecordLockLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	tc := tenant.New("tenant-a", tenant.SourceHeader)

	lock, err := store.CreateRecordLock(ctx, tc, "rt-1", "rec-1", "exec-1")
	require.NoError(t, err)
	assert.Equal(t, "exec-1", lock.ExecutionID)

	// A second take on the same key is a no-op returning the holder's row.
	again, err := store.CreateRecordLock(ctx, tc, "rt-1", "rec-1", "exec-2")
	require.NoError(t, err)
	assert.Equal(t, "exec-1", again.ExecutionID)

	require.NoError(t, store.ReleaseRecordLocks(ctx, tc, "exec-1"))
	_, err = store.GetRecordLock(ctx, tc, "rt-1", "rec-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLatestGraphPackageInstall(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	tc := tenant.New("tenant-a", tenant.SourceHeader)

	project, err := store.CreateProject(ctx, tc, "alpha")
	require.NoError(t, err)

	_, err = store.GetLatestGraphPackageInstall(ctx, tc, project.ID, "hr.lite")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.CreateGraphPackageInstall(ctx, tc, &GraphPackageInstall{
		ProjectID: project.ID, PackageKey: "hr.lite", Version: "0.1.0", Checksum: "aaa",
	})
	require.NoError(t, err)
	_, err = store.CreateGraphPackageInstall(ctx, tc, &GraphPackageInstall{
		ProjectID: project.ID, PackageKey: "hr.lite", Version: "0.2.0", Checksum: "bbb",
	})
	require.NoError(t, err)

	latest, err := store.GetLatestGraphPackageInstall(ctx, tc, project.ID, "hr.lite")
	require.NoError(t, err)
	assert.Equal(t, "0.2.0", latest.Version)

	byVersion, err := store.GetGraphPackageInstallByVersion(ctx, tc, project.ID, "hr.lite", "0.1.0")
	require.NoError(t, err)
	assert.Equal(t, "aaa", byVersion.Checksum)
}

func TestTelemetrySinkPersists(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	tc := tenant.New("tenant-a", tenant.SourceHeader)

	sink := NewTelemetrySink(store)
	require.NoError(t, sink.Write(ctx, tc, events.Event{
		Type: events.TypeExecutionStarted, Status: events.StatusSuccess, EntityID: "exec-1",
	}))

	rows, err := store.ListTelemetryEvents(ctx, tc, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, events.TypeExecutionStarted, rows[0].Type)

	other, err := store.ListTelemetryEvents(ctx, tenant.New("tenant-b", tenant.SourceHeader), 0)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestCurrentEnvironmentInstallsLatestPerPackage(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	tc := tenant.New("tenant-a", tenant.SourceHeader)

	env, err := store.CreateEnvironment(ctx, tc, &Environment{Name: "dev"})
	require.NoError(t, err)

	for _, row := range []*EnvironmentPackageInstall{
		{EnvironmentID: env.ID, ProjectID: "p1", PackageKey: "hr.lite", Version: "0.1.0", Checksum: "aaa"},
		{EnvironmentID: env.ID, ProjectID: "p1", PackageKey: "payroll", Version: "1.0.0", Checksum: "ccc"},
		{EnvironmentID: env.ID, ProjectID: "p1", PackageKey: "hr.lite", Version: "0.2.0", Checksum: "bbb"},
	} {
		_, err = store.CreateEnvironmentPackageInstall(ctx, tc, row)
		require.NoError(t, err)
	}

	current, err := store.ListCurrentEnvironmentInstalls(ctx, tc, env.ID)
	require.NoError(t, err)
	require.Len(t, current, 2)

	byKey := map[string]string{}
	for _, r := range current {
		byKey[r.PackageKey] = r.Version
	}
	assert.Equal(t, "0.2.0", byKey["hr.lite"])
	assert.Equal(t, "1.0.0", byKey["payroll"])
}
