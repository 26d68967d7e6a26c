// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/loomhq/loom/internal/tenant"
)

// CreateWorkflowDefinition persists a definition in draft state.
func (s *Store) CreateWorkflowDefinition(ctx context.Context, tc tenant.Context, def *WorkflowDefinition) (*WorkflowDefinition, error) {
	if tc.TenantID == "" {
		return nil, ErrMissingTenant
	}
	def.ID = NewID()
	def.TenantID = tc.TenantID
	if def.Status == "" {
		def.Status = WorkflowStatusDraft
	}
	if def.Version == 0 {
		def.Version = 1
	}
	if err := s.db.WithContext(ctx).Create(def).Error; err != nil {
		return nil, fmt.Errorf("failed to create workflow definition: %w", err)
	}
	return def, nil
}

// GetWorkflowDefinition fetches a definition by id within the tenant.
func (s *Store) GetWorkflowDefinition(ctx context.Context, tc tenant.Context, id string) (*WorkflowDefinition, error) {
	q, err := s.scoped(tc)
	if err != nil {
		return nil, err
	}
	var def WorkflowDefinition
	if err := q.WithContext(ctx).First(&def, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &def, nil
}

// GetWorkflowDefinitionByName fetches a definition by name within the tenant.
func (s *Store) GetWorkflowDefinitionByName(ctx context.Context, tc tenant.Context, name string) (*WorkflowDefinition, error) {
	q, err := s.scoped(tc)
	if err != nil {
		return nil, err
	}
	var def WorkflowDefinition
	if err := q.WithContext(ctx).First(&def, "name = ?", name).Error; err != nil {
		return nil, translate(err)
	}
	return &def, nil
}

// ListWorkflowDefinitions returns all definitions of the tenant.
func (s *Store) ListWorkflowDefinitions(ctx context.Context, tc tenant.Context) ([]WorkflowDefinition, error) {
	q, err := s.scoped(tc)
	if err != nil {
		return nil, err
	}
	var out []WorkflowDefinition
	if err := q.WithContext(ctx).Order("created_at asc").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateWorkflowDefinitionStatus moves a definition between draft, active
// and retired. Transition legality is the engine's concern.
func (s *Store) UpdateWorkflowDefinitionStatus(ctx context.Context, tc tenant.Context, id, status string) error {
	q, err := s.scoped(tc)
	if err != nil {
		return err
	}
	res := q.WithContext(ctx).Model(&WorkflowDefinition{}).Where("id = ?", id).Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateWorkflowStep persists a step after verifying the parent definition
// belongs to the same tenant.
func (s *Store) CreateWorkflowStep(ctx context.Context, tc tenant.Context, step *WorkflowStep) (*WorkflowStep, error) {
	if _, err := s.GetWorkflowDefinition(ctx, tc, step.WorkflowDefinitionID); err != nil {
		return nil, fmt.Errorf("step parent definition: %w", err)
	}
	step.ID = NewID()
	if err := s.db.WithContext(ctx).Create(step).Error; err != nil {
		return nil, fmt.Errorf("failed to create workflow step: %w", err)
	}
	return step, nil
}

// ListWorkflowSteps returns the definition's steps ordered by OrderIndex.
func (s *Store) ListWorkflowSteps(ctx context.Context, tc tenant.Context, definitionID string) ([]WorkflowStep, error) {
	if _, err := s.GetWorkflowDefinition(ctx, tc, definitionID); err != nil {
		return nil, err
	}
	var steps []WorkflowStep
	err := s.db.WithContext(ctx).
		Where("workflow_definition_id = ?", definitionID).
		Order("order_index asc").
		Find(&steps).Error
	if err != nil {
		return nil, err
	}
	return steps, nil
}

// CreateWorkflowTrigger persists a trigger for a same-tenant definition.
func (s *Store) CreateWorkflowTrigger(ctx context.Context, tc tenant.Context, trg *WorkflowTrigger) (*WorkflowTrigger, error) {
	if _, err := s.GetWorkflowDefinition(ctx, tc, trg.WorkflowDefinitionID); err != nil {
		return nil, fmt.Errorf("trigger parent definition: %w", err)
	}
	trg.ID = NewID()
	trg.TenantID = tc.TenantID
	if err := s.db.WithContext(ctx).Create(trg).Error; err != nil {
		return nil, fmt.Errorf("failed to create workflow trigger: %w", err)
	}
	return trg, nil
}

// CreateWorkflowExecution persists a new execution row.
func (s *Store) CreateWorkflowExecution(ctx context.Context, tc tenant.Context, exec *WorkflowExecution) (*WorkflowExecution, error) {
	if _, err := s.GetWorkflowDefinition(ctx, tc, exec.WorkflowDefinitionID); err != nil {
		return nil, fmt.Errorf("execution parent definition: %w", err)
	}
	exec.ID = NewID()
	exec.TenantID = tc.TenantID
	if exec.Status == "" {
		exec.Status = ExecutionRunning
	}
	if err := s.db.WithContext(ctx).Create(exec).Error; err != nil {
		return nil, fmt.Errorf("failed to create workflow execution: %w", err)
	}
	return exec, nil
}

// GetWorkflowExecution fetches an execution by id within the tenant.
func (s *Store) GetWorkflowExecution(ctx context.Context, tc tenant.Context, id string) (*WorkflowExecution, error) {
	q, err := s.scoped(tc)
	if err != nil {
		return nil, err
	}
	var exec WorkflowExecution
	if err := q.WithContext(ctx).First(&exec, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &exec, nil
}

// MarkExecutionPaused persists the pause continuation: the paused step id
// and the accumulated input the resume will rehydrate.
func (s *Store) MarkExecutionPaused(ctx context.Context, tc tenant.Context, id, pausedAtStepID string, accumulated JSONMap) error {
	q, err := s.scoped(tc)
	if err != nil {
		return err
	}
	res := q.WithContext(ctx).Model(&WorkflowExecution{}).Where("id = ?", id).Updates(map[string]any{
		"status":            ExecutionPaused,
		"paused_at_step_id": pausedAtStepID,
		"accumulated_input": accumulated,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkExecutionResumed flips a paused execution back to running.
func (s *Store) MarkExecutionResumed(ctx context.Context, tc tenant.Context, id string) error {
	q, err := s.scoped(tc)
	if err != nil {
		return err
	}
	res := q.WithContext(ctx).Model(&WorkflowExecution{}).Where("id = ?", id).Updates(map[string]any{
		"status":            ExecutionRunning,
		"paused_at_step_id": "",
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkExecutionTerminal records completion or failure.
func (s *Store) MarkExecutionTerminal(ctx context.Context, tc tenant.Context, id, status, errMsg string) error {
	q, err := s.scoped(tc)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	res := q.WithContext(ctx).Model(&WorkflowExecution{}).Where("id = ?", id).Updates(map[string]any{
		"status":       status,
		"error":        errMsg,
		"completed_at": &now,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateStepExecution persists a step execution row.
func (s *Store) CreateStepExecution(ctx context.Context, tc tenant.Context, se *WorkflowStepExecution) (*WorkflowStepExecution, error) {
	if _, err := s.GetWorkflowExecution(ctx, tc, se.WorkflowExecutionID); err != nil {
		return nil, fmt.Errorf("step execution parent: %w", err)
	}
	se.ID = NewID()
	if se.Status == "" {
		se.Status = StepPending
	}
	if err := s.db.WithContext(ctx).Create(se).Error; err != nil {
		return nil, fmt.Errorf("failed to create step execution: %w", err)
	}
	return se, nil
}

// GetStepExecution fetches a step execution, verifying its parent execution
// belongs to the tenant.
func (s *Store) GetStepExecution(ctx context.Context, tc tenant.Context, id string) (*WorkflowStepExecution, error) {
	var se WorkflowStepExecution
	if err := s.db.WithContext(ctx).First(&se, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	if _, err := s.GetWorkflowExecution(ctx, tc, se.WorkflowExecutionID); err != nil {
		return nil, ErrTenantMismatch
	}
	return &se, nil
}

// UpdateStepExecution rewrites a step execution's status and output.
func (s *Store) UpdateStepExecution(ctx context.Context, tc tenant.Context, id, status string, output JSONMap) error {
	if _, err := s.GetStepExecution(ctx, tc, id); err != nil {
		return err
	}
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Model(&WorkflowStepExecution{}).Where("id = ?", id).Updates(map[string]any{
		"status":      status,
		"output":      output,
		"executed_at": &now,
	}).Error
}

// ListStepExecutions returns the execution's step rows in executed order.
func (s *Store) ListStepExecutions(ctx context.Context, tc tenant.Context, executionID string) ([]WorkflowStepExecution, error) {
	if _, err := s.GetWorkflowExecution(ctx, tc, executionID); err != nil {
		return nil, err
	}
	var out []WorkflowStepExecution
	// Secondary id order keeps sub-millisecond steps stable: ids are
	// time-ordered UUIDv7s assigned in interpretation order.
	err := s.db.WithContext(ctx).
		Where("workflow_execution_id = ?", executionID).
		Order("executed_at asc").
		Order("id asc").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetRecordLock returns the lock row for (tenant, recordType, record), or
// ErrNotFound.
func (s *Store) GetRecordLock(ctx context.Context, tc tenant.Context, recordTypeID, recordID string) (*RecordLock, error) {
	q, err := s.scoped(tc)
	if err != nil {
		return nil, err
	}
	var lock RecordLock
	if err := q.WithContext(ctx).
		First(&lock, "record_type_id = ? AND record_id = ?", recordTypeID, recordID).Error; err != nil {
		return nil, translate(err)
	}
	return &lock, nil
}

// CreateRecordLock takes the advisory lock. If a lock already exists for the
// key, the existing row is returned unchanged.
func (s *Store) CreateRecordLock(ctx context.Context, tc tenant.Context, recordTypeID, recordID, executionID string) (*RecordLock, error) {
	if existing, err := s.GetRecordLock(ctx, tc, recordTypeID, recordID); err == nil {
		return existing, nil
	}
	lock := &RecordLock{
		ID:           NewID(),
		TenantID:     tc.TenantID,
		RecordTypeID: recordTypeID,
		RecordID:     recordID,
		ExecutionID:  executionID,
	}
	if err := s.db.WithContext(ctx).Create(lock).Error; err != nil {
		// Lost a race to another execution; hand back the winner's row.
		if existing, gerr := s.GetRecordLock(ctx, tc, recordTypeID, recordID); gerr == nil {
			return existing, nil
		}
		return nil, fmt.Errorf("failed to create record lock: %w", err)
	}
	return lock, nil
}

// ReleaseRecordLocks drops all locks held by an execution. Called when the
// execution reaches a terminal state.
func (s *Store) ReleaseRecordLocks(ctx context.Context, tc tenant.Context, executionID string) error {
	q, err := s.scoped(tc)
	if err != nil {
		return err
	}
	return q.WithContext(ctx).Where("execution_id = ?", executionID).Delete(&RecordLock{}).Error
}
