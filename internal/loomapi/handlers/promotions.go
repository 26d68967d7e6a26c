// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"errors"
	"net/http"

	"github.com/loomhq/loom/internal/loomapi/models"
	"github.com/loomhq/loom/internal/promotion"
	"github.com/loomhq/loom/internal/server/middleware/logger"
	"github.com/loomhq/loom/internal/storage"
	"github.com/loomhq/loom/internal/tenant"
)

func (h *Handler) CreatePromotion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.GetLogger(ctx)

	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}

	var req models.CreatePromotionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	from, err := h.services.Store.GetEnvironmentByName(ctx, tc, req.FromEnvironment)
	if err != nil {
		writeErrorResponse(w, http.StatusNotFound, "Source environment not found", codeNotFound)
		return
	}
	to, err := h.services.Store.GetEnvironmentByName(ctx, tc, req.ToEnvironment)
	if err != nil {
		writeErrorResponse(w, http.StatusNotFound, "Target environment not found", codeNotFound)
		return
	}

	intent, err := h.services.Promotion.CreateIntent(ctx, tc, req.ProjectID, from.ID, to.ID, tc.UserID)
	if err != nil {
		log.Error("Failed to create promotion intent", "error", err)
		writeStorageError(w, err)
		return
	}

	log.Info("Promotion intent created", "intent", intent.ID,
		"from", req.FromEnvironment, "to", req.ToEnvironment)
	writeSuccessResponse(w, http.StatusCreated, intent)
}

func (h *Handler) GetPromotion(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}

	intent, err := h.services.Store.GetPromotionIntent(r.Context(), tc, r.PathValue("intentId"))
	if err != nil {
		writeStorageError(w, err)
		return
	}
	writeSuccessResponse(w, http.StatusOK, intent)
}

func (h *Handler) PreviewPromotion(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(tc tenant.Context, intentID string) (*storage.PromotionIntent, error) {
		return h.services.Promotion.Preview(r.Context(), tc, intentID)
	})
}

func (h *Handler) ApprovePromotion(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}
	var req models.ApprovePromotionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.writeTransitionResult(w, r, func() (*storage.PromotionIntent, error) {
		return h.services.Promotion.Approve(r.Context(), tc, r.PathValue("intentId"), req.ApprovedBy)
	})
}

func (h *Handler) RejectPromotion(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}
	var req models.RejectPromotionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.writeTransitionResult(w, r, func() (*storage.PromotionIntent, error) {
		return h.services.Promotion.Reject(r.Context(), tc, r.PathValue("intentId"), req.RejectedBy)
	})
}

func (h *Handler) ExecutePromotion(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(tc tenant.Context, intentID string) (*storage.PromotionIntent, error) {
		return h.services.Promotion.Execute(r.Context(), tc, intentID)
	})
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, op func(tenant.Context, string) (*storage.PromotionIntent, error)) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}
	h.writeTransitionResult(w, r, func() (*storage.PromotionIntent, error) {
		return op(tc, r.PathValue("intentId"))
	})
}

func (h *Handler) writeTransitionResult(w http.ResponseWriter, r *http.Request, op func() (*storage.PromotionIntent, error)) {
	intent, err := op()
	if err != nil {
		var terr *promotion.TransitionError
		switch {
		case errors.As(err, &terr):
			writeErrorResponse(w, http.StatusConflict, terr.Error(), "ILLEGAL_TRANSITION")
		case errors.Is(err, storage.ErrNotFound):
			writeErrorResponse(w, http.StatusNotFound, "Promotion intent not found", codeNotFound)
		default:
			logger.GetLogger(r.Context()).Error("Promotion transition failed", "error", err)
			writeErrorResponse(w, http.StatusInternalServerError, "Internal server error", codeInternal)
		}
		return
	}
	writeSuccessResponse(w, http.StatusOK, intent)
}
