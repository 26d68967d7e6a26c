// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/loomhq/loom/internal/tenant"
)

// CreateProject persists a project under the context tenant.
func (s *Store) CreateProject(ctx context.Context, tc tenant.Context, name string) (*Project, error) {
	if tc.TenantID == "" {
		return nil, ErrMissingTenant
	}
	p := &Project{ID: NewID(), TenantID: tc.TenantID, Name: name}
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}
	return p, nil
}

// GetProject fetches a project by id within the tenant.
func (s *Store) GetProject(ctx context.Context, tc tenant.Context, id string) (*Project, error) {
	q, err := s.scoped(tc)
	if err != nil {
		return nil, err
	}
	var p Project
	if err := q.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

// ListProjects lists all projects of the tenant.
func (s *Store) ListProjects(ctx context.Context, tc tenant.Context) ([]Project, error) {
	q, err := s.scoped(tc)
	if err != nil {
		return nil, err
	}
	var out []Project
	if err := q.WithContext(ctx).Order("created_at asc").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// CreateModule persists a module after verifying its project belongs to the
// same tenant.
func (s *Store) CreateModule(ctx context.Context, tc tenant.Context, m *Module) (*Module, error) {
	if _, err := s.GetProject(ctx, tc, m.ProjectID); err != nil {
		return nil, fmt.Errorf("module parent project: %w", err)
	}
	m.ID = NewID()
	m.TenantID = tc.TenantID
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return nil, fmt.Errorf("failed to create module: %w", err)
	}
	return m, nil
}

// GetModule fetches a module by id within the tenant.
func (s *Store) GetModule(ctx context.Context, tc tenant.Context, id string) (*Module, error) {
	q, err := s.scoped(tc)
	if err != nil {
		return nil, err
	}
	var m Module
	if err := q.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &m, nil
}

// FindAnyModule returns the oldest module in any project of the tenant.
// The intent dispatcher uses this as its module-context fallback.
func (s *Store) FindAnyModule(ctx context.Context, tc tenant.Context) (*Module, error) {
	q, err := s.scoped(tc)
	if err != nil {
		return nil, err
	}
	var m Module
	if err := q.WithContext(ctx).Order("created_at asc").First(&m).Error; err != nil {
		return nil, translate(err)
	}
	return &m, nil
}

// GetChangeRecord fetches a change record by id within the tenant.
func (s *Store) GetChangeRecord(ctx context.Context, tc tenant.Context, id string) (*ChangeRecord, error) {
	q, err := s.scoped(tc)
	if err != nil {
		return nil, err
	}
	var c ChangeRecord
	if err := q.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

// ListChangeRecords returns the tenant's change records oldest-first.
func (s *Store) ListChangeRecords(ctx context.Context, tc tenant.Context) ([]ChangeRecord, error) {
	q, err := s.scoped(tc)
	if err != nil {
		return nil, err
	}
	var out []ChangeRecord
	if err := q.WithContext(ctx).Order("created_at asc").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// CreateChangeRecord persists a change record under the context tenant.
func (s *Store) CreateChangeRecord(ctx context.Context, tc tenant.Context, c *ChangeRecord) (*ChangeRecord, error) {
	if _, err := s.GetProject(ctx, tc, c.ProjectID); err != nil {
		return nil, fmt.Errorf("change parent project: %w", err)
	}
	c.ID = NewID()
	c.TenantID = tc.TenantID
	if err := s.db.WithContext(ctx).Create(c).Error; err != nil {
		return nil, fmt.Errorf("failed to create change record: %w", err)
	}
	return c, nil
}

// CreateWorkspace persists a workspace for a module of the same tenant.
func (s *Store) CreateWorkspace(ctx context.Context, tc tenant.Context, moduleID string) (*Workspace, error) {
	if _, err := s.GetModule(ctx, tc, moduleID); err != nil {
		return nil, fmt.Errorf("workspace parent module: %w", err)
	}
	w := &Workspace{ID: NewID(), TenantID: tc.TenantID, ModuleID: moduleID, Status: "stopped"}
	if err := s.db.WithContext(ctx).Create(w).Error; err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	return w, nil
}

// GetWorkspace fetches a workspace by id within the tenant.
func (s *Store) GetWorkspace(ctx context.Context, tc tenant.Context, id string) (*Workspace, error) {
	q, err := s.scoped(tc)
	if err != nil {
		return nil, err
	}
	var w Workspace
	if err := q.WithContext(ctx).First(&w, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &w, nil
}

// MarkWorkspaceStarted records the provisioned container id and preview URL.
func (s *Store) MarkWorkspaceStarted(ctx context.Context, tc tenant.Context, id, containerID, previewURL string) error {
	q, err := s.scoped(tc)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	res := q.WithContext(ctx).Model(&Workspace{}).Where("id = ?", id).Updates(map[string]any{
		"status":       "running",
		"container_id": containerID,
		"preview_url":  previewURL,
		"started_at":   &now,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkWorkspaceStopped records workspace shutdown.
func (s *Store) MarkWorkspaceStopped(ctx context.Context, tc tenant.Context, id string) error {
	q, err := s.scoped(tc)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	res := q.WithContext(ctx).Model(&Workspace{}).Where("id = ?", id).Updates(map[string]any{
		"status":     "stopped",
		"stopped_at": &now,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateAgentRun records an agent task or action dispatch.
func (s *Store) CreateAgentRun(ctx context.Context, tc tenant.Context, run *AgentRun) (*AgentRun, error) {
	if tc.TenantID == "" {
		return nil, ErrMissingTenant
	}
	run.ID = NewID()
	run.TenantID = tc.TenantID
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return nil, fmt.Errorf("failed to create agent run: %w", err)
	}
	return run, nil
}
