// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomhq/loom/internal/storage"
)

func decisionStep(order int, cfg storage.JSONMap) storage.WorkflowStep {
	return storage.WorkflowStep{OrderIndex: order, StepType: storage.StepDecision, Config: cfg}
}

func TestValidateStepsForActivation(t *testing.T) {
	tests := []struct {
		name    string
		steps   []storage.WorkflowStep
		wantErr string
	}{
		{
			name: "valid decision",
			steps: []storage.WorkflowStep{
				decisionStep(0, storage.JSONMap{
					"operator": "truthy", "conditionField": "escalated",
					"onTrueStepIndex": 1, "onFalseStepIndex": 2,
				}),
				{OrderIndex: 1, StepType: storage.StepNotification},
				{OrderIndex: 2, StepType: storage.StepNotification},
			},
		},
		{
			name: "branch target missing",
			steps: []storage.WorkflowStep{
				decisionStep(0, storage.JSONMap{
					"operator": "truthy", "conditionField": "escalated",
					"onTrueStepIndex": 7, "onFalseStepIndex": 1,
				}),
				{OrderIndex: 1, StepType: storage.StepNotification},
			},
			wantErr: "does not reference an existing step",
		},
		{
			name: "branch target not a number",
			steps: []storage.WorkflowStep{
				decisionStep(0, storage.JSONMap{
					"operator": "truthy", "conditionField": "escalated",
					"onTrueStepIndex": "two", "onFalseStepIndex": 1,
				}),
				{OrderIndex: 1, StepType: storage.StepNotification},
			},
			wantErr: "must be a number",
		},
		{
			name: "empty condition field",
			steps: []storage.WorkflowStep{
				decisionStep(0, storage.JSONMap{
					"operator": "truthy", "conditionField": "",
					"onTrueStepIndex": 1, "onFalseStepIndex": 1,
				}),
				{OrderIndex: 1, StepType: storage.StepNotification},
			},
			wantErr: "conditionField must be a non-empty string",
		},
		{
			name: "expression compiles",
			steps: []storage.WorkflowStep{
				decisionStep(0, storage.JSONMap{
					"operator":            "expression",
					"conditionExpression": `input["count"] > 2.0`,
					"onTrueStepIndex":     1, "onFalseStepIndex": 1,
				}),
				{OrderIndex: 1, StepType: storage.StepNotification},
			},
		},
		{
			name: "expression does not compile",
			steps: []storage.WorkflowStep{
				decisionStep(0, storage.JSONMap{
					"operator":            "expression",
					"conditionExpression": `input[`,
					"onTrueStepIndex":     1, "onFalseStepIndex": 1,
				}),
				{OrderIndex: 1, StepType: storage.StepNotification},
			},
			wantErr: "does not compile",
		},
		{
			name: "non-decision steps ignored",
			steps: []storage.WorkflowStep{
				{OrderIndex: 0, StepType: storage.StepNotification},
				{OrderIndex: 1, StepType: storage.StepApproval},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStepsForActivation(tt.steps)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestActivateWorkflow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	def, err := env.store.CreateWorkflowDefinition(ctx, env.tc, &storage.WorkflowDefinition{Name: "escalation"})
	require.NoError(t, err)
	_, err = env.store.CreateWorkflowStep(ctx, env.tc, &storage.WorkflowStep{
		WorkflowDefinitionID: def.ID,
		OrderIndex:           0,
		StepType:             storage.StepDecision,
		Config: storage.JSONMap{
			"operator": "truthy", "conditionField": "escalated",
			"onTrueStepIndex": 9, "onFalseStepIndex": 0,
		},
	})
	require.NoError(t, err)

	err = env.engine.ActivateWorkflow(ctx, env.tc, def.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not reference an existing step")

	got, err := env.store.GetWorkflowDefinition(ctx, env.tc, def.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.WorkflowStatusDraft, got.Status, "failed activation must not change status")
}
