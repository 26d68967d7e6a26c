// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package storage is the only read/write surface the engines consume.
// Every read takes the tenant context and applies the tenant predicate, so
// cross-tenant reads through this API are structurally impossible. Writes
// that take a child entity first verify the parent belongs to the same
// tenant.
package storage

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/loomhq/loom/internal/tenant"
)

// Common storage errors.
var (
	ErrNotFound       = errors.New("record not found")
	ErrTenantMismatch = errors.New("entity does not belong to tenant")
	ErrMissingTenant  = errors.New("tenant context has no tenant id")
)

// Store is the tenant-scoped storage facade.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open opens (or creates) the SQLite database at path and migrates the
// schema. Use ":memory:" for tests.
func Open(path string, log *slog.Logger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// SQLite has a single writer, and a pooled second connection to an
	// in-memory database would see an empty schema.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access sql pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&Project{},
		&ChangeRecord{},
		&Module{},
		&Environment{},
		&Workspace{},
		&AgentRun{},
		&WorkflowDefinition{},
		&WorkflowStep{},
		&WorkflowTrigger{},
		&WorkflowExecution{},
		&WorkflowStepExecution{},
		&WorkflowExecutionIntent{},
		&RecordType{},
		&RecordTypeSnapshot{},
		&ChangePatchOp{},
		&RecordLock{},
		&GraphPackageInstall{},
		&EnvironmentPackageInstall{},
		&PromotionIntent{},
		&ExecutionTelemetryEvent{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &Store{db: db, logger: log.With("module", "storage")}, nil
}

// NewID returns a fresh entity id. UUIDv7 is preferred for time-ordered
// keys; v4 is the fallback.
func NewID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.New().String()
}

// scoped returns a query builder filtered by the context's tenant id. Every
// tenant-owned read goes through this.
func (s *Store) scoped(tc tenant.Context) (*gorm.DB, error) {
	if tc.TenantID == "" {
		return nil, ErrMissingTenant
	}
	return s.db.Where("tenant_id = ?", tc.TenantID), nil
}

// system returns an unscoped query builder. Only reachable with an interned
// SystemContext, which records the platform-internal reason.
func (s *Store) system(sc *tenant.SystemContext) *gorm.DB {
	s.logger.Debug("system-scoped storage access", "reason", sc.Reason)
	return s.db
}

// translate maps gorm's not-found to the facade error.
func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
