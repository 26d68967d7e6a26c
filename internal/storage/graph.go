// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"fmt"

	"github.com/loomhq/loom/internal/tenant"
)

// ListRecordTypes returns the project's record types within the tenant.
func (s *Store) ListRecordTypes(ctx context.Context, tc tenant.Context, projectID string) ([]RecordType, error) {
	q, err := s.scoped(tc)
	if err != nil {
		return nil, err
	}
	var out []RecordType
	if err := q.WithContext(ctx).Where("project_id = ?", projectID).Order("key asc").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ListAllRecordTypes returns every record type of the tenant across
// projects; the graph snapshot builder composes from this.
func (s *Store) ListAllRecordTypes(ctx context.Context, tc tenant.Context) ([]RecordType, error) {
	q, err := s.scoped(tc)
	if err != nil {
		return nil, err
	}
	var out []RecordType
	if err := q.WithContext(ctx).Order("key asc").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// GetRecordTypeByKey fetches a record type by its compound (project, key)
// identity within the tenant.
func (s *Store) GetRecordTypeByKey(ctx context.Context, tc tenant.Context, projectID, key string) (*RecordType, error) {
	q, err := s.scoped(tc)
	if err != nil {
		return nil, err
	}
	var rt RecordType
	if err := q.WithContext(ctx).First(&rt, "project_id = ? AND key = ?", projectID, key).Error; err != nil {
		return nil, translate(err)
	}
	return &rt, nil
}

// CreateRecordType persists a record type node.
func (s *Store) CreateRecordType(ctx context.Context, tc tenant.Context, rt *RecordType) (*RecordType, error) {
	if _, err := s.GetProject(ctx, tc, rt.ProjectID); err != nil {
		return nil, fmt.Errorf("record type parent project: %w", err)
	}
	rt.ID = NewID()
	rt.TenantID = tc.TenantID
	if err := s.db.WithContext(ctx).Create(rt).Error; err != nil {
		return nil, fmt.Errorf("failed to create record type: %w", err)
	}
	return rt, nil
}

// UpdateRecordTypeSchema replaces a record type's schema document.
func (s *Store) UpdateRecordTypeSchema(ctx context.Context, tc tenant.Context, id string, schema JSONMap) error {
	return s.updateRecordTypeColumn(ctx, tc, id, "schema", schema)
}

// UpdateRecordTypeSlaConfig replaces the SLA binding of a record type.
func (s *Store) UpdateRecordTypeSlaConfig(ctx context.Context, tc tenant.Context, id string, cfg JSONMap) error {
	return s.updateRecordTypeColumn(ctx, tc, id, "sla_config", cfg)
}

// UpdateRecordTypeAssignmentConfig replaces the assignment binding of a
// record type.
func (s *Store) UpdateRecordTypeAssignmentConfig(ctx context.Context, tc tenant.Context, id string, cfg JSONMap) error {
	return s.updateRecordTypeColumn(ctx, tc, id, "assignment_config", cfg)
}

func (s *Store) updateRecordTypeColumn(ctx context.Context, tc tenant.Context, id, column string, value JSONMap) error {
	q, err := s.scoped(tc)
	if err != nil {
		return err
	}
	res := q.WithContext(ctx).Model(&RecordType{}).Where("id = ?", id).Update(column, value)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateRecordTypeSnapshot captures the pre-mutation schema for rollback.
// Exactly one snapshot exists per (change, record type key); a second
// capture for the same key is a no-op returning the original.
func (s *Store) CreateRecordTypeSnapshot(ctx context.Context, tc tenant.Context, snap *RecordTypeSnapshot) (*RecordTypeSnapshot, error) {
	if tc.TenantID == "" {
		return nil, ErrMissingTenant
	}
	var existing RecordTypeSnapshot
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND change_id = ? AND record_type_key = ?", tc.TenantID, snap.ChangeID, snap.RecordTypeKey).
		First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	snap.ID = NewID()
	snap.TenantID = tc.TenantID
	if err := s.db.WithContext(ctx).Create(snap).Error; err != nil {
		return nil, fmt.Errorf("failed to create record type snapshot: %w", err)
	}
	return snap, nil
}

// ListSnapshotsForChange returns the change's snapshots.
func (s *Store) ListSnapshotsForChange(ctx context.Context, tc tenant.Context, changeID string) ([]RecordTypeSnapshot, error) {
	q, err := s.scoped(tc)
	if err != nil {
		return nil, err
	}
	var out []RecordTypeSnapshot
	if err := q.WithContext(ctx).Where("change_id = ?", changeID).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// CreatePatchOp appends an ordered patch operation to a change.
func (s *Store) CreatePatchOp(ctx context.Context, tc tenant.Context, op *ChangePatchOp) (*ChangePatchOp, error) {
	if _, err := s.GetChangeRecord(ctx, tc, op.ChangeID); err != nil {
		return nil, fmt.Errorf("patch op parent change: %w", err)
	}
	op.ID = NewID()
	op.TenantID = tc.TenantID
	if err := s.db.WithContext(ctx).Create(op).Error; err != nil {
		return nil, fmt.Errorf("failed to create patch op: %w", err)
	}
	return op, nil
}

// ListPatchOpsForChange returns the change's patch ops in declared order.
func (s *Store) ListPatchOpsForChange(ctx context.Context, tc tenant.Context, changeID string) ([]ChangePatchOp, error) {
	q, err := s.scoped(tc)
	if err != nil {
		return nil, err
	}
	var out []ChangePatchOp
	if err := q.WithContext(ctx).Where("change_id = ?", changeID).Order("order_index asc").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// CreateGraphPackageInstall appends the install audit row. The unique index
// on (project, package, checksum) serializes concurrent installs of the same
// content; losing a race returns the winner's row.
func (s *Store) CreateGraphPackageInstall(ctx context.Context, tc tenant.Context, row *GraphPackageInstall) (*GraphPackageInstall, error) {
	if tc.TenantID == "" {
		return nil, ErrMissingTenant
	}
	row.ID = NewID()
	row.TenantID = tc.TenantID
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		var existing GraphPackageInstall
		if gerr := s.db.WithContext(ctx).
			Where("tenant_id = ? AND project_id = ? AND package_key = ? AND checksum = ?",
				tc.TenantID, row.ProjectID, row.PackageKey, row.Checksum).
			First(&existing).Error; gerr == nil {
			return &existing, nil
		}
		return nil, fmt.Errorf("failed to create graph package install: %w", err)
	}
	return row, nil
}

// GetLatestGraphPackageInstall returns the most recent install row for the
// (project, package) pair, or ErrNotFound when the package was never
// installed.
func (s *Store) GetLatestGraphPackageInstall(ctx context.Context, tc tenant.Context, projectID, packageKey string) (*GraphPackageInstall, error) {
	q, err := s.scoped(tc)
	if err != nil {
		return nil, err
	}
	var row GraphPackageInstall
	err = q.WithContext(ctx).
		Where("project_id = ? AND package_key = ?", projectID, packageKey).
		Order("installed_at desc").
		First(&row).Error
	if err != nil {
		return nil, translate(err)
	}
	return &row, nil
}

// GetGraphPackageInstallByVersion returns the install row for an exact
// version of a package.
func (s *Store) GetGraphPackageInstallByVersion(ctx context.Context, tc tenant.Context, projectID, packageKey, version string) (*GraphPackageInstall, error) {
	q, err := s.scoped(tc)
	if err != nil {
		return nil, err
	}
	var row GraphPackageInstall
	err = q.WithContext(ctx).
		Where("project_id = ? AND package_key = ? AND version = ?", projectID, packageKey, version).
		Order("installed_at desc").
		First(&row).Error
	if err != nil {
		return nil, translate(err)
	}
	return &row, nil
}

// ListGraphPackageInstalls returns all install rows of a project,
// oldest-first. The ownership scan walks these.
func (s *Store) ListGraphPackageInstalls(ctx context.Context, tc tenant.Context, projectID string) ([]GraphPackageInstall, error) {
	q, err := s.scoped(tc)
	if err != nil {
		return nil, err
	}
	var out []GraphPackageInstall
	if err := q.WithContext(ctx).Where("project_id = ?", projectID).Order("installed_at asc").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
