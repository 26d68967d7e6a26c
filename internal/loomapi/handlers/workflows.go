// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"errors"
	"net/http"

	"github.com/loomhq/loom/internal/capability"
	"github.com/loomhq/loom/internal/loomapi/models"
	"github.com/loomhq/loom/internal/server/middleware/logger"
	"github.com/loomhq/loom/internal/storage"
	"github.com/loomhq/loom/internal/tenant"
	"github.com/loomhq/loom/internal/workflow"
)

// CreateExecutionIntent records the durable intent for a workflow start.
// Triggers never call the engine directly; the dispatcher worker picks the
// intent up.
func (h *Handler) CreateExecutionIntent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.GetLogger(ctx)

	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}
	definitionID := r.PathValue("definitionId")
	if definitionID == "" {
		writeErrorResponse(w, http.StatusBadRequest, "Definition id is required", codeInvalidParams)
		return
	}

	var req models.CreateIntentRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if _, err := h.services.Store.GetWorkflowDefinition(ctx, tc, definitionID); err != nil {
		writeStorageError(w, err)
		return
	}

	intent := &storage.WorkflowExecutionIntent{
		WorkflowDefinitionID: definitionID,
		TriggerType:          req.TriggerType,
		TriggerPayload:       storage.JSONMap(req.TriggerPayload),
	}
	if req.IdempotencyKey != "" {
		key := req.IdempotencyKey
		intent.IdempotencyKey = &key
	}

	created, err := h.services.Store.CreateWorkflowExecutionIntent(ctx, tc, intent)
	if err != nil {
		log.Error("Failed to create execution intent", "error", err)
		writeStorageError(w, err)
		return
	}

	log.Info("Execution intent created", "intent", created.ID, "definition", definitionID)
	writeSuccessResponse(w, http.StatusAccepted, created)
}

func (h *Handler) ActivateWorkflow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.GetLogger(ctx)

	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}
	definitionID := r.PathValue("definitionId")
	if definitionID == "" {
		writeErrorResponse(w, http.StatusBadRequest, "Definition id is required", codeInvalidParams)
		return
	}

	if err := h.services.Workflow.ActivateWorkflow(ctx, tc, definitionID); err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			writeErrorResponse(w, http.StatusNotFound, "Workflow definition not found", workflow.CodeWorkflowNotFound)
		case errors.Is(err, workflow.ErrWorkflowNotDraft):
			writeErrorResponse(w, http.StatusConflict, err.Error(), workflow.CodeWorkflowNotActive)
		default:
			log.Warn("Workflow activation failed validation", "definition", definitionID, "error", err)
			writeErrorResponse(w, http.StatusBadRequest, err.Error(), workflow.CodeActivationInvalid)
		}
		return
	}

	writeSuccessResponse(w, http.StatusOK, map[string]string{"status": storage.WorkflowStatusActive})
}

func (h *Handler) GetExecution(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}
	executionID := r.PathValue("executionId")

	exec, err := h.services.Store.GetWorkflowExecution(ctx, tc, executionID)
	if err != nil {
		writeStorageError(w, err)
		return
	}

	steps, err := h.services.Store.ListStepExecutions(ctx, tc, executionID)
	if err != nil {
		writeStorageError(w, err)
		return
	}

	writeSuccessResponse(w, http.StatusOK, map[string]any{
		"execution": exec,
		"steps":     steps,
	})
}

// ResumeExecution applies an approval decision to a paused execution under
// a workflow-default module context.
func (h *Handler) ResumeExecution(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.GetLogger(ctx)

	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}
	executionID := r.PathValue("executionId")

	var req models.ResumeExecutionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	mc, err := h.moduleContextForTenant(r, tc)
	if err != nil {
		writeErrorResponse(w, http.StatusConflict, err.Error(), "NO_MODULE_CONTEXT")
		return
	}

	exec, err := h.services.Workflow.ResumeWorkflowExecution(ctx, mc, executionID, req.StepExecutionID, workflow.ResumeDecision{
		Approved:   req.Approved,
		ResolvedBy: req.ResolvedBy,
	})
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			writeErrorResponse(w, http.StatusNotFound, "Execution not found", workflow.CodeExecutionNotFound)
		case errors.Is(err, workflow.ErrExecutionNotPaused),
			errors.Is(err, workflow.ErrStepNotPausedHere),
			errors.Is(err, workflow.ErrStepNotAwaitingApproval):
			writeErrorResponse(w, http.StatusConflict, err.Error(), workflow.CodeInvalidResume)
		default:
			log.Error("Resume failed", "execution", executionID, "error", err)
			writeErrorResponse(w, http.StatusInternalServerError, "Internal server error", codeInternal)
		}
		return
	}

	writeSuccessResponse(w, http.StatusOK, exec)
}

// moduleContextForTenant builds the module execution context a resume runs
// under, mirroring the dispatcher's fallback resolution.
func (h *Handler) moduleContextForTenant(r *http.Request, tc tenant.Context) (tenant.ModuleContext, error) {
	module, err := h.services.Store.FindAnyModule(r.Context(), tc)
	if err != nil {
		return tenant.ModuleContext{}, errors.New("no module available to host the execution context")
	}
	return tenant.NewModuleContext(tc, module.ID, module.RootPath, capability.Profile(module.CapabilityProfile)), nil
}
