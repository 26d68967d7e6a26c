// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/loomhq/loom/internal/tenant"
)

// CreateWorkflowExecutionIntent persists an intent. When an idempotency key
// is present and an intent already carries it, the pre-existing row is
// returned instead of creating a duplicate.
func (s *Store) CreateWorkflowExecutionIntent(ctx context.Context, tc tenant.Context, intent *WorkflowExecutionIntent) (*WorkflowExecutionIntent, error) {
	if tc.TenantID == "" {
		return nil, ErrMissingTenant
	}

	if intent.IdempotencyKey != nil && *intent.IdempotencyKey != "" {
		var existing WorkflowExecutionIntent
		err := s.db.WithContext(ctx).
			Where("idempotency_key = ?", *intent.IdempotencyKey).
			First(&existing).Error
		if err == nil {
			return &existing, nil
		}
	}

	intent.ID = NewID()
	intent.TenantID = tc.TenantID
	if intent.Status == "" {
		intent.Status = IntentPending
	}
	if err := s.db.WithContext(ctx).Create(intent).Error; err != nil {
		// A concurrent insert with the same key wins; return its row.
		if intent.IdempotencyKey != nil && *intent.IdempotencyKey != "" {
			var existing WorkflowExecutionIntent
			if gerr := s.db.WithContext(ctx).
				Where("idempotency_key = ?", *intent.IdempotencyKey).
				First(&existing).Error; gerr == nil {
				return &existing, nil
			}
		}
		return nil, fmt.Errorf("failed to create workflow execution intent: %w", err)
	}
	return intent, nil
}

// GetWorkflowExecutionIntent fetches an intent by id within the tenant.
func (s *Store) GetWorkflowExecutionIntent(ctx context.Context, tc tenant.Context, id string) (*WorkflowExecutionIntent, error) {
	q, err := s.scoped(tc)
	if err != nil {
		return nil, err
	}
	var intent WorkflowExecutionIntent
	if err := q.WithContext(ctx).First(&intent, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &intent, nil
}

// ListPendingIntents returns all pending intents oldest-first across
// tenants. Only the dispatcher's system sweep may call this.
func (s *Store) ListPendingIntents(ctx context.Context, sc *tenant.SystemContext, limit int) ([]WorkflowExecutionIntent, error) {
	var out []WorkflowExecutionIntent
	q := s.system(sc).WithContext(ctx).
		Where("status = ?", IntentPending).
		Order("created_at asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// MarkIntentDispatched records the execution id produced by the dispatch.
func (s *Store) MarkIntentDispatched(ctx context.Context, tc tenant.Context, id, executionID string) error {
	q, err := s.scoped(tc)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	res := q.WithContext(ctx).Model(&WorkflowExecutionIntent{}).Where("id = ?", id).Updates(map[string]any{
		"status":        IntentDispatched,
		"execution_id":  executionID,
		"dispatched_at": &now,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkIntentFailed records the dispatch failure cause. Failed intents stay
// failed; reprocessing requires a new intent.
func (s *Store) MarkIntentFailed(ctx context.Context, tc tenant.Context, id, cause string) error {
	q, err := s.scoped(tc)
	if err != nil {
		return err
	}
	res := q.WithContext(ctx).Model(&WorkflowExecutionIntent{}).Where("id = ?", id).Updates(map[string]any{
		"status": IntentFailed,
		"error":  cause,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
