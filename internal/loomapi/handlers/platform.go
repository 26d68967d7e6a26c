// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"

	"github.com/loomhq/loom/internal/loomapi/models"
	"github.com/loomhq/loom/internal/server/middleware/logger"
	"github.com/loomhq/loom/internal/storage"
)

func (h *Handler) CreateProject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.GetLogger(ctx)

	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}

	var req models.CreateProjectRequest
	if !decodeBody(w, r, &req) {
		return
	}

	project, err := h.services.Store.CreateProject(ctx, tc, req.Name)
	if err != nil {
		log.Error("Failed to create project", "error", err)
		writeStorageError(w, err)
		return
	}

	log.Info("Project created", "project", project.ID, "name", project.Name)
	writeSuccessResponse(w, http.StatusCreated, project)
}

func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}

	projects, err := h.services.Store.ListProjects(ctx, tc)
	if err != nil {
		logger.GetLogger(ctx).Error("Failed to list projects", "error", err)
		writeStorageError(w, err)
		return
	}

	writeSuccessResponse(w, http.StatusOK, models.ListResponse[storage.Project]{
		Items:      projects,
		TotalCount: len(projects),
	})
}

func (h *Handler) CreateEnvironment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.GetLogger(ctx)

	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}

	var req models.CreateEnvironmentRequest
	if !decodeBody(w, r, &req) {
		return
	}

	env, err := h.services.Store.CreateEnvironment(ctx, tc, &storage.Environment{
		Name:                      req.Name,
		RequiresPromotionApproval: req.RequiresPromotionApproval,
		PromotionWebhookURL:       req.PromotionWebhookURL,
	})
	if err != nil {
		log.Error("Failed to create environment", "error", err)
		writeStorageError(w, err)
		return
	}

	writeSuccessResponse(w, http.StatusCreated, env)
}

func (h *Handler) ListEnvironments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}

	envs, err := h.services.Store.ListEnvironments(ctx, tc)
	if err != nil {
		logger.GetLogger(ctx).Error("Failed to list environments", "error", err)
		writeStorageError(w, err)
		return
	}

	writeSuccessResponse(w, http.StatusOK, models.ListResponse[storage.Environment]{
		Items:      envs,
		TotalCount: len(envs),
	})
}
