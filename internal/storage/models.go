// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// JSONMap stores an open JSON object in a text column.
type JSONMap map[string]any

func (JSONMap) GormDataType() string {
	return "text"
}

func (JSONMap) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	return "text"
}

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *JSONMap) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for JSONMap", value)
	}
	if len(data) == 0 {
		*m = nil
		return nil
	}
	return json.Unmarshal(data, m)
}

// Project is a tenant's container for modules and record types.
type Project struct {
	ID        string    `gorm:"primaryKey"`
	TenantID  string    `gorm:"index;not null"`
	Name      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// ChangeRecord groups patch operations and module work under one change id.
type ChangeRecord struct {
	ID        string    `gorm:"primaryKey"`
	TenantID  string    `gorm:"index;not null"`
	ProjectID string    `gorm:"index;not null"`
	ModuleID  string    `gorm:"index"`
	Title     string
	Status    string    `gorm:"default:open"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// Module is a unit of code or workflow logic scoped under a project.
type Module struct {
	ID                string    `gorm:"primaryKey"`
	TenantID          string    `gorm:"index;not null"`
	ProjectID         string    `gorm:"index;not null"`
	Name              string    `gorm:"not null"`
	RootPath          string    `gorm:"not null"`
	CapabilityProfile string    `gorm:"not null"`
	CreatedAt         time.Time `gorm:"autoCreateTime"`
}

// Environment is a named promotion slot (dev, test, prod by default).
type Environment struct {
	ID                        string    `gorm:"primaryKey"`
	TenantID                  string    `gorm:"index:idx_env_tenant_name,unique;not null"`
	Name                      string    `gorm:"index:idx_env_tenant_name,unique;not null"`
	RequiresPromotionApproval bool
	PromotionWebhookURL       string
	CreatedAt                 time.Time `gorm:"autoCreateTime"`
}

// Workspace is a provisioned execution surface for a module.
type Workspace struct {
	ID          string    `gorm:"primaryKey"`
	TenantID    string    `gorm:"index;not null"`
	ModuleID    string    `gorm:"index;not null"`
	Status      string    `gorm:"default:stopped"`
	ContainerID string
	PreviewURL  string
	StartedAt   *time.Time
	StoppedAt   *time.Time
	CreatedAt   time.Time `gorm:"autoCreateTime"`
}

// AgentRun records a single agent task or action dispatch.
type AgentRun struct {
	ID          string    `gorm:"primaryKey"`
	TenantID    string    `gorm:"index;not null"`
	ModuleID    string    `gorm:"index"`
	Action      string    `gorm:"not null"`
	Status      string    `gorm:"not null"`
	ExecutionID string    `gorm:"index"`
	Error       string
	CreatedAt   time.Time `gorm:"autoCreateTime"`
}

// WorkflowDefinition statuses.
const (
	WorkflowStatusDraft   = "draft"
	WorkflowStatusActive  = "active"
	WorkflowStatusRetired = "retired"
)

// Workflow trigger types.
const (
	TriggerManual      = "manual"
	TriggerRecordEvent = "record_event"
	TriggerScheduled   = "scheduled"
	TriggerWebhook     = "webhook"
)

// WorkflowDefinition is the versioned step graph a workflow executes.
type WorkflowDefinition struct {
	ID            string    `gorm:"primaryKey"`
	TenantID      string    `gorm:"index;not null"`
	Name          string    `gorm:"index;not null"`
	TriggerType   string    `gorm:"not null;default:manual"`
	TriggerConfig JSONMap
	Version       int       `gorm:"default:1"`
	Status        string    `gorm:"not null;default:draft"`
	ChangeID      string    `gorm:"index"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
}

// Workflow step types.
const (
	StepAssignment     = "assignment"
	StepApproval       = "approval"
	StepNotification   = "notification"
	StepDecision       = "decision"
	StepRecordMutation = "record_mutation"
	StepRecordLock     = "record_lock"
)

// WorkflowStep is one node of a definition's step graph. OrderIndex is a
// dense integer per definition.
type WorkflowStep struct {
	ID                   string  `gorm:"primaryKey"`
	WorkflowDefinitionID string  `gorm:"index;not null"`
	OrderIndex           int     `gorm:"not null"`
	StepType             string  `gorm:"not null"`
	Config               JSONMap
}

// WorkflowTrigger binds an external event source to a definition.
type WorkflowTrigger struct {
	ID                   string    `gorm:"primaryKey"`
	TenantID             string    `gorm:"index;not null"`
	WorkflowDefinitionID string    `gorm:"index;not null"`
	TriggerType          string    `gorm:"not null"`
	Config               JSONMap
	CreatedAt            time.Time `gorm:"autoCreateTime"`
}

// Workflow execution statuses.
const (
	ExecutionRunning   = "running"
	ExecutionPaused    = "paused"
	ExecutionCompleted = "completed"
	ExecutionFailed    = "failed"
)

// WorkflowExecution is the persisted continuation of one workflow run.
type WorkflowExecution struct {
	ID                   string     `gorm:"primaryKey"`
	TenantID             string     `gorm:"index;not null"`
	WorkflowDefinitionID string     `gorm:"index;not null"`
	IntentID             string     `gorm:"index;not null"`
	Input                JSONMap
	Status               string     `gorm:"not null;default:running"`
	PausedAtStepID       string
	AccumulatedInput     JSONMap
	Error                string
	StartedAt            time.Time  `gorm:"autoCreateTime"`
	CompletedAt          *time.Time
}

// Step execution statuses.
const (
	StepPending          = "pending"
	StepCompleted        = "completed"
	StepFailed           = "failed"
	StepAwaitingApproval = "awaiting_approval"
)

// WorkflowStepExecution records the outcome of one interpreted step.
type WorkflowStepExecution struct {
	ID                  string     `gorm:"primaryKey"`
	WorkflowExecutionID string     `gorm:"index;not null"`
	WorkflowStepID      string     `gorm:"not null"`
	Status              string     `gorm:"not null;default:pending"`
	Output              JSONMap
	ExecutedAt          *time.Time
}

// Intent statuses.
const (
	IntentPending    = "pending"
	IntentDispatched = "dispatched"
	IntentFailed     = "failed"
)

// WorkflowExecutionIntent is the durable precondition for every execution.
// IdempotencyKey is unique when present.
type WorkflowExecutionIntent struct {
	ID                   string     `gorm:"primaryKey"`
	TenantID             string     `gorm:"index;not null"`
	WorkflowDefinitionID string     `gorm:"index;not null"`
	TriggerType          string     `gorm:"not null"`
	TriggerPayload       JSONMap
	IdempotencyKey       *string    `gorm:"uniqueIndex"`
	Status               string     `gorm:"not null;default:pending"`
	ExecutionID          string
	Error                string
	CreatedAt            time.Time  `gorm:"autoCreateTime;index"`
	DispatchedAt         *time.Time
}

// RecordType is a node of the tenant's schema graph. Identity at rest is
// (ProjectID, Key) so two projects may hold identically keyed types.
type RecordType struct {
	ID               string    `gorm:"primaryKey"`
	TenantID         string    `gorm:"index;not null"`
	ProjectID        string    `gorm:"index:idx_rt_project_key,unique;not null"`
	Key              string    `gorm:"index:idx_rt_project_key,unique;not null"`
	Name             string
	BaseType         string
	Schema           JSONMap
	SlaConfig        JSONMap
	AssignmentConfig JSONMap
	CreatedAt        time.Time `gorm:"autoCreateTime"`
}

// RecordTypeSnapshot captures the full prior schema of a record type before
// a change mutates it; exactly one snapshot per (ChangeID, RecordTypeKey).
type RecordTypeSnapshot struct {
	ID            string    `gorm:"primaryKey"`
	TenantID      string    `gorm:"index;not null"`
	ChangeID      string    `gorm:"index:idx_snap_change_key,unique;not null"`
	RecordTypeKey string    `gorm:"index:idx_snap_change_key,unique;not null"`
	Schema        JSONMap
	CreatedAt     time.Time `gorm:"autoCreateTime"`
}

// ChangePatchOp is one ordered schema patch operation within a change.
type ChangePatchOp struct {
	ID            string  `gorm:"primaryKey"`
	TenantID      string  `gorm:"index;not null"`
	ChangeID      string  `gorm:"index;not null"`
	OrderIndex    int     `gorm:"not null"`
	Op            string  `gorm:"not null"`
	RecordTypeKey string  `gorm:"not null"`
	Payload       JSONMap
}

// RecordLock is an advisory lock row taken by a record_lock workflow step.
type RecordLock struct {
	ID           string    `gorm:"primaryKey"`
	TenantID     string    `gorm:"index:idx_lock_key,unique;not null"`
	RecordTypeID string    `gorm:"index:idx_lock_key,unique;not null"`
	RecordID     string    `gorm:"index:idx_lock_key,unique;not null"`
	ExecutionID  string    `gorm:"index;not null"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
}

// GraphPackageInstall is the persisted audit row of one package install.
// The unique index guarantees at most one effective install per checksum.
type GraphPackageInstall struct {
	ID              string    `gorm:"primaryKey"`
	TenantID        string    `gorm:"index;not null"`
	ProjectID       string    `gorm:"index:idx_install_checksum,unique;not null"`
	PackageKey      string    `gorm:"index:idx_install_checksum,unique;not null"`
	Version         string    `gorm:"not null"`
	Checksum        string    `gorm:"index:idx_install_checksum,unique;not null"`
	Diff            JSONMap
	PackageContents JSONMap
	InstalledBy     string
	InstalledAt     time.Time `gorm:"autoCreateTime;index"`
}

// EnvironmentPackageInstall mirrors GraphPackageInstall per environment; the
// promotion pipeline reads and writes these.
type EnvironmentPackageInstall struct {
	ID              string    `gorm:"primaryKey"`
	TenantID        string    `gorm:"index;not null"`
	EnvironmentID   string    `gorm:"index;not null"`
	ProjectID       string    `gorm:"index;not null"`
	PackageKey      string    `gorm:"index;not null"`
	Version         string    `gorm:"not null"`
	Checksum        string    `gorm:"not null"`
	PackageContents JSONMap
	InstalledBy     string
	InstalledAt     time.Time `gorm:"autoCreateTime;index"`
}

// Promotion intent statuses.
const (
	PromotionDraft     = "draft"
	PromotionPreviewed = "previewed"
	PromotionApproved  = "approved"
	PromotionExecuted  = "executed"
	PromotionRejected  = "rejected"
)

// PromotionIntent is a durable, state-machine-governed request to move
// package state between environments.
type PromotionIntent struct {
	ID                 string     `gorm:"primaryKey"`
	TenantID           string     `gorm:"index;not null"`
	ProjectID          string     `gorm:"index;not null"`
	FromEnvironmentID  string     `gorm:"not null"`
	ToEnvironmentID    string     `gorm:"not null"`
	Status             string     `gorm:"not null;default:draft"`
	Diff               JSONMap
	Result             JSONMap
	CreatedBy          string
	ApprovedBy         string
	ApprovedAt         *time.Time
	NotificationStatus string
	CreatedAt          time.Time  `gorm:"autoCreateTime"`
	UpdatedAt          time.Time  `gorm:"autoUpdateTime"`
}

// ExecutionTelemetryEvent is the best-effort persisted event stream.
type ExecutionTelemetryEvent struct {
	ID              string    `gorm:"primaryKey"`
	TenantID        string    `gorm:"index"`
	Type            string    `gorm:"not null"`
	Status          string
	EntityID        string    `gorm:"index"`
	AffectedRecords int
	Error           string
	OccurredAt      time.Time `gorm:"index"`
}
