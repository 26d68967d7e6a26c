// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package graph

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshotFixture() *Snapshot {
	return &Snapshot{
		TenantID: "tenant-a",
		Nodes: []Node{
			{ProjectID: "p1", Key: "person", Fields: []Field{
				{Name: "email", Type: "string", Required: true},
				{Name: "name", Type: "string"},
			}},
			{ProjectID: "p1", Key: "ticket", Fields: []Field{
				{Name: "title", Type: "string"},
			}},
		},
		Bindings: Bindings{
			Workflows:   []string{"triage"},
			Slas:        []SlaBinding{{RecordTypeKey: "ticket", DurationMinutes: 60}},
			Assignments: []AssignmentBinding{{RecordTypeKey: "ticket", StrategyType: "round_robin"}},
		},
	}
}

func TestDiffSnapshots(t *testing.T) {
	a := snapshotFixture()
	b := snapshotFixture()

	// Add a type, drop a type, modify a field, change bindings.
	b.Nodes = append(b.Nodes[:1], Node{ProjectID: "p1", Key: "invoice", Fields: []Field{{Name: "amount", Type: "number"}}})
	b.Nodes[0].Fields = append(b.Nodes[0].Fields, Field{Name: "phone", Type: "string"})
	b.Nodes[0].Fields[1] = Field{Name: "name", Type: "text"}
	b.Bindings.Slas = []SlaBinding{{RecordTypeKey: "invoice", DurationMinutes: 30}}
	b.Bindings.Assignments = append(b.Bindings.Assignments, AssignmentBinding{RecordTypeKey: "invoice", StrategyType: "load_balanced"})
	b.Bindings.Workflows = []string{"billing"}

	diff := DiffSnapshots(a, b)

	assert.Equal(t, []string{"invoice"}, diff.AddedRecordTypes)
	assert.Equal(t, []string{"ticket"}, diff.RemovedRecordTypes)

	require.Len(t, diff.ModifiedRecordTypes, 1)
	mod := diff.ModifiedRecordTypes[0]
	assert.Equal(t, "person", mod.RecordTypeKey)
	assert.Equal(t, []string{"phone"}, mod.FieldAdds)
	assert.Equal(t, []string{"name"}, mod.FieldModifications)
	assert.Empty(t, mod.FieldRemovals)

	assert.Equal(t, []string{"invoice"}, diff.BindingChanges.SlasAdded)
	assert.Equal(t, []string{"ticket"}, diff.BindingChanges.SlasRemoved)
	assert.Equal(t, []string{"invoice:load_balanced"}, diff.BindingChanges.AssignmentsAdded)
	assert.Equal(t, []string{"billing"}, diff.BindingChanges.WorkflowsAdded)
	assert.Equal(t, []string{"triage"}, diff.BindingChanges.WorkflowsRemoved)
}

func TestDiffIdenticalSnapshotsEmpty(t *testing.T) {
	diff := DiffSnapshots(snapshotFixture(), snapshotFixture())
	assert.True(t, diff.Empty())
}

func TestProjectionIdempotent(t *testing.T) {
	current := snapshotFixture()
	pkg := hrLite()

	once := ProjectPackageOntoSnapshot(current, pkg, "p1", "tenant-a")
	twice := ProjectPackageOntoSnapshot(once, pkg, "p1", "tenant-a")

	if diff := cmp.Diff(once, twice); diff != "" {
		t.Fatalf("projection is not idempotent (-once +twice):\n%s", diff)
	}
}

func TestProjectionDoesNotMutateInput(t *testing.T) {
	current := snapshotFixture()
	before := cloneSnapshot(current)

	_ = ProjectPackageOntoSnapshot(current, hrLite(), "p1", "tenant-a")

	if diff := cmp.Diff(before, current); diff != "" {
		t.Fatalf("projection mutated its input:\n%s", diff)
	}
}

// The diff of an install equals the diff between the pre-install snapshot
// and its projection.
func TestDiffOfInstallMatchesProjectionDiff(t *testing.T) {
	env := newGraphEnv(t)
	ctx := t.Context()

	current, err := env.engine.GetProjectGraphSnapshot(ctx, env.tc, env.project.ID)
	require.NoError(t, err)
	projected := ProjectPackageOntoSnapshot(current, hrLite(), env.project.ID, env.tc.TenantID)
	expected := DiffSnapshots(current, projected)

	result, err := env.engine.InstallGraphPackage(ctx, env.tc, env.project.ID, hrLite(), InstallOptions{})
	require.NoError(t, err)
	require.True(t, result.Success)

	if diff := cmp.Diff(expected, result.Diff); diff != "" {
		t.Fatalf("install diff mismatch (-expected +got):\n%s", diff)
	}
}
