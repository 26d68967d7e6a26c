// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"fmt"

	"github.com/loomhq/loom/internal/tenant"
)

// CreateEnvironment persists a named promotion slot.
func (s *Store) CreateEnvironment(ctx context.Context, tc tenant.Context, env *Environment) (*Environment, error) {
	if tc.TenantID == "" {
		return nil, ErrMissingTenant
	}
	env.ID = NewID()
	env.TenantID = tc.TenantID
	if err := s.db.WithContext(ctx).Create(env).Error; err != nil {
		return nil, fmt.Errorf("failed to create environment: %w", err)
	}
	return env, nil
}

// GetEnvironment fetches an environment by id within the tenant.
func (s *Store) GetEnvironment(ctx context.Context, tc tenant.Context, id string) (*Environment, error) {
	q, err := s.scoped(tc)
	if err != nil {
		return nil, err
	}
	var env Environment
	if err := q.WithContext(ctx).First(&env, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &env, nil
}

// GetEnvironmentByName fetches an environment by its slot name.
func (s *Store) GetEnvironmentByName(ctx context.Context, tc tenant.Context, name string) (*Environment, error) {
	q, err := s.scoped(tc)
	if err != nil {
		return nil, err
	}
	var env Environment
	if err := q.WithContext(ctx).First(&env, "name = ?", name).Error; err != nil {
		return nil, translate(err)
	}
	return &env, nil
}

// ListEnvironments lists the tenant's environments.
func (s *Store) ListEnvironments(ctx context.Context, tc tenant.Context) ([]Environment, error) {
	q, err := s.scoped(tc)
	if err != nil {
		return nil, err
	}
	var out []Environment
	if err := q.WithContext(ctx).Order("created_at asc").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// CreateEnvironmentPackageInstall records a package landing in an
// environment, after verifying the environment belongs to the tenant.
func (s *Store) CreateEnvironmentPackageInstall(ctx context.Context, tc tenant.Context, row *EnvironmentPackageInstall) (*EnvironmentPackageInstall, error) {
	if _, err := s.GetEnvironment(ctx, tc, row.EnvironmentID); err != nil {
		return nil, fmt.Errorf("install parent environment: %w", err)
	}
	row.ID = NewID()
	row.TenantID = tc.TenantID
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, fmt.Errorf("failed to create environment package install: %w", err)
	}
	return row, nil
}

// GetLatestEnvironmentPackageInstall returns the environment's most recent
// install of a package, or ErrNotFound.
func (s *Store) GetLatestEnvironmentPackageInstall(ctx context.Context, tc tenant.Context, environmentID, packageKey string) (*EnvironmentPackageInstall, error) {
	q, err := s.scoped(tc)
	if err != nil {
		return nil, err
	}
	var row EnvironmentPackageInstall
	err = q.WithContext(ctx).
		Where("environment_id = ? AND package_key = ?", environmentID, packageKey).
		Order("installed_at desc").
		First(&row).Error
	if err != nil {
		return nil, translate(err)
	}
	return &row, nil
}

// ListCurrentEnvironmentInstalls returns the latest install row per package
// key in the environment.
func (s *Store) ListCurrentEnvironmentInstalls(ctx context.Context, tc tenant.Context, environmentID string) ([]EnvironmentPackageInstall, error) {
	q, err := s.scoped(tc)
	if err != nil {
		return nil, err
	}
	var rows []EnvironmentPackageInstall
	if err := q.WithContext(ctx).Where("environment_id = ?", environmentID).Order("installed_at asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	// Later rows supersede earlier ones per package key.
	latest := make(map[string]EnvironmentPackageInstall, len(rows))
	var order []string
	for _, r := range rows {
		if _, seen := latest[r.PackageKey]; !seen {
			order = append(order, r.PackageKey)
		}
		latest[r.PackageKey] = r
	}
	out := make([]EnvironmentPackageInstall, 0, len(latest))
	for _, key := range order {
		out = append(out, latest[key])
	}
	return out, nil
}

// CreatePromotionIntent persists a new intent in draft.
func (s *Store) CreatePromotionIntent(ctx context.Context, tc tenant.Context, intent *PromotionIntent) (*PromotionIntent, error) {
	if _, err := s.GetEnvironment(ctx, tc, intent.FromEnvironmentID); err != nil {
		return nil, fmt.Errorf("promotion source environment: %w", err)
	}
	if _, err := s.GetEnvironment(ctx, tc, intent.ToEnvironmentID); err != nil {
		return nil, fmt.Errorf("promotion target environment: %w", err)
	}
	intent.ID = NewID()
	intent.TenantID = tc.TenantID
	if intent.Status == "" {
		intent.Status = PromotionDraft
	}
	if err := s.db.WithContext(ctx).Create(intent).Error; err != nil {
		return nil, fmt.Errorf("failed to create promotion intent: %w", err)
	}
	return intent, nil
}

// GetPromotionIntent fetches a promotion intent within the tenant.
func (s *Store) GetPromotionIntent(ctx context.Context, tc tenant.Context, id string) (*PromotionIntent, error) {
	q, err := s.scoped(tc)
	if err != nil {
		return nil, err
	}
	var intent PromotionIntent
	if err := q.WithContext(ctx).First(&intent, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &intent, nil
}

// SavePromotionIntent persists updated intent fields. Transition legality
// is the promotion engine's concern.
func (s *Store) SavePromotionIntent(ctx context.Context, tc tenant.Context, intent *PromotionIntent) error {
	if intent.TenantID != tc.TenantID {
		return ErrTenantMismatch
	}
	return s.db.WithContext(ctx).Save(intent).Error
}
