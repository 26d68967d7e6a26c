// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package graph owns the schema-as-package pipeline: snapshot, diff,
// validation, topological ordering, and transactional application of
// declarative packages onto a tenant's record-type graph.
package graph

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Field is one field of a packaged record type.
type Field struct {
	Name     string `json:"name" yaml:"name" validate:"required"`
	Type     string `json:"type" yaml:"type" validate:"required"`
	Required bool   `json:"required,omitempty" yaml:"required,omitempty"`
}

// PackageRecordType declares a record type within a package.
type PackageRecordType struct {
	Key      string  `json:"key" yaml:"key" validate:"required"`
	Name     string  `json:"name,omitempty" yaml:"name,omitempty"`
	BaseType string  `json:"baseType,omitempty" yaml:"baseType,omitempty"`
	Fields   []Field `json:"fields" yaml:"fields" validate:"dive"`
}

// SlaPolicy binds a resolution SLA to a record type.
type SlaPolicy struct {
	RecordTypeKey   string `json:"recordTypeKey" yaml:"recordTypeKey" validate:"required"`
	DurationMinutes int    `json:"durationMinutes" yaml:"durationMinutes" validate:"gt=0"`
}

// AssignmentRule binds an assignment strategy to a record type.
type AssignmentRule struct {
	RecordTypeKey string         `json:"recordTypeKey" yaml:"recordTypeKey" validate:"required"`
	StrategyType  string         `json:"strategyType" yaml:"strategyType" validate:"required"`
	Config        map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// PackageWorkflowStep is one declared step of a packaged workflow.
type PackageWorkflowStep struct {
	StepType   string         `json:"stepType" yaml:"stepType" validate:"required"`
	OrderIndex int            `json:"orderIndex" yaml:"orderIndex"`
	Config     map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// PackageWorkflow declares a workflow shipped with a package.
type PackageWorkflow struct {
	Name          string                `json:"name" yaml:"name" validate:"required"`
	TriggerType   string                `json:"triggerType" yaml:"triggerType" validate:"required"`
	TriggerConfig map[string]any        `json:"triggerConfig,omitempty" yaml:"triggerConfig,omitempty"`
	Steps         []PackageWorkflowStep `json:"steps" yaml:"steps" validate:"dive"`
}

// Dependency names another package this one depends on.
type Dependency struct {
	PackageKey string `json:"packageKey" yaml:"packageKey" validate:"required"`
}

// Package is the in-memory declarative bundle the install engine applies.
// It is never persisted as-is; install audit rows carry its JSON form.
type Package struct {
	PackageKey      string              `json:"packageKey" yaml:"packageKey" validate:"required"`
	Version         string              `json:"version" yaml:"version" validate:"required"`
	DependsOn       []Dependency        `json:"dependsOn,omitempty" yaml:"dependsOn,omitempty" validate:"dive"`
	RecordTypes     []PackageRecordType `json:"recordTypes" yaml:"recordTypes" validate:"dive"`
	SlaPolicies     []SlaPolicy         `json:"slaPolicies,omitempty" yaml:"slaPolicies,omitempty" validate:"dive"`
	AssignmentRules []AssignmentRule    `json:"assignmentRules,omitempty" yaml:"assignmentRules,omitempty" validate:"dive"`
	Workflows       []PackageWorkflow   `json:"workflows,omitempty" yaml:"workflows,omitempty" validate:"dive"`
}

var packageValidator = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the package's structural shape.
func (p *Package) Validate() error {
	if err := packageValidator.Struct(p); err != nil {
		return fmt.Errorf("invalid package %q: %w", p.PackageKey, err)
	}
	seen := map[string]bool{}
	for _, rt := range p.RecordTypes {
		if seen[rt.Key] {
			return fmt.Errorf("invalid package %q: duplicate record type key %q", p.PackageKey, rt.Key)
		}
		seen[rt.Key] = true
	}
	return nil
}

// LoadPackageYAML decodes and validates a package manifest document.
func LoadPackageYAML(data []byte) (*Package, error) {
	var pkg Package
	if err := yaml.Unmarshal(data, &pkg); err != nil {
		return nil, fmt.Errorf("failed to parse package manifest: %w", err)
	}
	if err := pkg.Validate(); err != nil {
		return nil, err
	}
	return &pkg, nil
}

// Validation error codes surfaced on install results.
const (
	CodePackageOwnershipConflict        = "PACKAGE_OWNERSHIP_CONFLICT"
	CodePackageBindingOwnershipConflict = "PACKAGE_BINDING_OWNERSHIP_CONFLICT"
	CodeOrphanBaseType                  = "ORPHAN_BASE_TYPE"
	CodeCrossProjectBaseType            = "CROSS_PROJECT_BASE_TYPE"
	CodeBaseTypeRequiredWeakened        = "BASE_TYPE_REQUIRED_WEAKENED"
	CodeUnknownBindingTarget            = "UNKNOWN_BINDING_TARGET"
	CodeDependencyCycle                 = "DEPENDENCY_CYCLE"
)

// ValidationError is a typed graph validation failure. Install results
// carry these instead of performing writes.
type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
