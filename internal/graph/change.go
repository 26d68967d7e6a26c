// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/loomhq/loom/internal/storage"
	"github.com/loomhq/loom/internal/tenant"
)

// Patch operations applied by ExecuteChange.
const (
	OpSetField    = "set_field"
	OpRemoveField = "remove_field"
)

// ChangeResult reports the outcome of executing a change's patch batch.
type ChangeResult struct {
	ChangeID   string `json:"changeId"`
	Success    bool   `json:"success"`
	AppliedOps int    `json:"appliedOps"`
	RolledBack bool   `json:"rolledBack,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ExecuteChange applies the change's ordered patch ops to its project's
// record types. Before the first mutation of each record type, the prior
// schema is captured once per change; any failure rolls the mutated types
// back in reverse order from those snapshots.
func (e *Engine) ExecuteChange(ctx context.Context, tc tenant.Context, changeID string) (*ChangeResult, error) {
	change, err := e.store.GetChangeRecord(ctx, tc, changeID)
	if err != nil {
		return nil, fmt.Errorf("change %s: %w", changeID, err)
	}

	ops, err := e.store.ListPatchOpsForChange(ctx, tc, changeID)
	if err != nil {
		return nil, err
	}

	snapshotted := map[string]bool{}
	var mutated []string // reverse-rollback order

	rollback := func() {
		for i := len(mutated) - 1; i >= 0; i-- {
			key := mutated[i]
			snaps, err := e.store.ListSnapshotsForChange(ctx, tc, changeID)
			if err != nil {
				e.logger.Error("rollback failed to load snapshots", "change", changeID, "error", err)
				return
			}
			for _, snap := range snaps {
				if snap.RecordTypeKey != key {
					continue
				}
				rt, err := e.store.GetRecordTypeByKey(ctx, tc, change.ProjectID, key)
				if err != nil {
					e.logger.Error("rollback failed to load record type", "key", key, "error", err)
					continue
				}
				if err := e.store.UpdateRecordTypeSchema(ctx, tc, rt.ID, snap.Schema); err != nil {
					e.logger.Error("rollback failed to restore schema", "key", key, "error", err)
				}
			}
		}
	}

	applied := 0
	for _, op := range ops {
		rt, err := e.store.GetRecordTypeByKey(ctx, tc, change.ProjectID, op.RecordTypeKey)
		if err != nil {
			rollback()
			return &ChangeResult{
				ChangeID:   changeID,
				RolledBack: applied > 0,
				Error:      fmt.Sprintf("patch op %d targets unknown record type %q", op.OrderIndex, op.RecordTypeKey),
			}, nil
		}

		if !snapshotted[op.RecordTypeKey] {
			if _, err := e.store.CreateRecordTypeSnapshot(ctx, tc, &storage.RecordTypeSnapshot{
				ChangeID:      changeID,
				RecordTypeKey: op.RecordTypeKey,
				Schema:        rt.Schema,
			}); err != nil {
				return nil, fmt.Errorf("failed to snapshot %q: %w", op.RecordTypeKey, err)
			}
			snapshotted[op.RecordTypeKey] = true
		}

		next, err := applyPatchOp(rt.Schema, op)
		if err != nil {
			rollback()
			return &ChangeResult{
				ChangeID:   changeID,
				RolledBack: applied > 0,
				Error:      err.Error(),
			}, nil
		}

		if err := e.store.UpdateRecordTypeSchema(ctx, tc, rt.ID, next); err != nil {
			rollback()
			return &ChangeResult{
				ChangeID:   changeID,
				RolledBack: applied > 0,
				Error:      fmt.Sprintf("failed to persist patch op %d: %v", op.OrderIndex, err),
			}, nil
		}

		mutated = append(mutated, op.RecordTypeKey)
		applied++
	}

	return &ChangeResult{ChangeID: changeID, Success: true, AppliedOps: applied}, nil
}

// applyPatchOp computes the next schema for one patch op.
func applyPatchOp(schema storage.JSONMap, op storage.ChangePatchOp) (storage.JSONMap, error) {
	fields := fieldsFromSchema(schema)

	switch op.Op {
	case OpSetField:
		field, err := fieldFromPayload(op.Payload)
		if err != nil {
			return nil, fmt.Errorf("patch op %d: %w", op.OrderIndex, err)
		}
		fields = mergeFields(fields, []Field{field})
		return schemaFromFields(fields), nil

	case OpRemoveField:
		name, _ := op.Payload["fieldName"].(string)
		if name == "" {
			return nil, fmt.Errorf("patch op %d: remove_field requires fieldName", op.OrderIndex)
		}
		out := fields[:0]
		found := false
		for _, f := range fields {
			if f.Name == name {
				found = true
				continue
			}
			out = append(out, f)
		}
		if !found {
			return nil, fmt.Errorf("patch op %d: field %q not present on %q", op.OrderIndex, name, op.RecordTypeKey)
		}
		return schemaFromFields(out), nil

	default:
		return nil, fmt.Errorf("patch op %d: unknown op %q", op.OrderIndex, op.Op)
	}
}

func fieldFromPayload(payload storage.JSONMap) (Field, error) {
	raw, ok := payload["field"].(map[string]any)
	if !ok {
		return Field{}, errors.New("set_field requires a field object")
	}
	f := Field{}
	f.Name, _ = raw["name"].(string)
	f.Type, _ = raw["type"].(string)
	f.Required, _ = raw["required"].(bool)
	if f.Name == "" || f.Type == "" {
		return Field{}, errors.New("set_field requires field name and type")
	}
	return f, nil
}
