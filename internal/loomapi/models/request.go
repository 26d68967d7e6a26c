// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package models

import (
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/loomhq/loom/internal/graph"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// CreateProjectRequest creates a project.
type CreateProjectRequest struct {
	Name string `json:"name" validate:"required,min=1,max=120"`
}

func (r *CreateProjectRequest) Sanitize() {
	r.Name = strings.TrimSpace(r.Name)
}

func (r *CreateProjectRequest) Validate() error {
	r.Sanitize()
	return validate.Struct(r)
}

// CreateEnvironmentRequest creates a named promotion slot.
type CreateEnvironmentRequest struct {
	Name                      string `json:"name" validate:"required,min=1,max=60"`
	RequiresPromotionApproval bool   `json:"requiresPromotionApproval"`
	PromotionWebhookURL       string `json:"promotionWebhookUrl" validate:"omitempty,url"`
}

func (r *CreateEnvironmentRequest) Validate() error {
	r.Name = strings.TrimSpace(r.Name)
	return validate.Struct(r)
}

// InstallPackageRequest installs a graph package into a project.
type InstallPackageRequest struct {
	Package                  *graph.Package `json:"package" validate:"required"`
	PreviewOnly              bool           `json:"previewOnly"`
	AllowDowngrade           bool           `json:"allowDowngrade"`
	AllowForeignTypeMutation bool           `json:"allowForeignTypeMutation"`
}

func (r *InstallPackageRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return err
	}
	return r.Package.Validate()
}

// InstallPackagesRequest installs a dependency-ordered batch.
type InstallPackagesRequest struct {
	Packages                 []*graph.Package `json:"packages" validate:"required,min=1"`
	AllowDowngrade           bool             `json:"allowDowngrade"`
	AllowForeignTypeMutation bool             `json:"allowForeignTypeMutation"`
}

func (r *InstallPackagesRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return err
	}
	for _, pkg := range r.Packages {
		if err := pkg.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// CreateIntentRequest creates a workflow execution intent.
type CreateIntentRequest struct {
	TriggerType    string         `json:"triggerType" validate:"required,oneof=manual record_event scheduled webhook"`
	TriggerPayload map[string]any `json:"triggerPayload"`
	IdempotencyKey string         `json:"idempotencyKey"`
}

func (r *CreateIntentRequest) Validate() error {
	return validate.Struct(r)
}

// ResumeExecutionRequest resolves a paused approval step.
type ResumeExecutionRequest struct {
	StepExecutionID string `json:"stepExecutionId" validate:"required"`
	Approved        bool   `json:"approved"`
	ResolvedBy      string `json:"resolvedBy" validate:"required"`
}

func (r *ResumeExecutionRequest) Validate() error {
	return validate.Struct(r)
}

// CreatePromotionRequest opens a promotion intent between environments.
type CreatePromotionRequest struct {
	ProjectID       string `json:"projectId" validate:"required"`
	FromEnvironment string `json:"fromEnvironment" validate:"required"`
	ToEnvironment   string `json:"toEnvironment" validate:"required,nefield=FromEnvironment"`
}

func (r *CreatePromotionRequest) Validate() error {
	return validate.Struct(r)
}

// ApprovePromotionRequest approves a previewed promotion.
type ApprovePromotionRequest struct {
	ApprovedBy string `json:"approvedBy" validate:"required"`
}

func (r *ApprovePromotionRequest) Validate() error {
	return validate.Struct(r)
}

// RejectPromotionRequest rejects a promotion.
type RejectPromotionRequest struct {
	RejectedBy string `json:"rejectedBy" validate:"required"`
}

func (r *RejectPromotionRequest) Validate() error {
	return validate.Struct(r)
}
