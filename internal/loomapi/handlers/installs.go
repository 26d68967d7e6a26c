// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"

	"github.com/loomhq/loom/internal/graph"
	"github.com/loomhq/loom/internal/loomapi/models"
	"github.com/loomhq/loom/internal/server/middleware/logger"
)

func (h *Handler) InstallPackage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.GetLogger(ctx)

	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}
	projectID := r.PathValue("projectId")
	if projectID == "" {
		writeErrorResponse(w, http.StatusBadRequest, "Project id is required", codeInvalidParams)
		return
	}

	var req models.InstallPackageRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.services.Graph.InstallGraphPackage(ctx, tc, projectID, req.Package, graph.InstallOptions{
		PreviewOnly:              req.PreviewOnly,
		AllowDowngrade:           req.AllowDowngrade,
		AllowForeignTypeMutation: req.AllowForeignTypeMutation,
	})
	if err != nil {
		log.Error("Package install failed", "package", req.Package.PackageKey, "error", err)
		writeStorageError(w, err)
		return
	}

	status := http.StatusOK
	if !result.Success {
		// Conflicts and validation failures are structured results, not
		// transport errors; 422 signals an unprocessable package.
		status = http.StatusUnprocessableEntity
	}
	log.Info("Package install finished",
		"package", req.Package.PackageKey, "success", result.Success,
		"noop", result.Noop, "applied", result.AppliedCount)
	writeSuccessResponse(w, status, result)
}

func (h *Handler) InstallPackages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.GetLogger(ctx)

	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}
	projectID := r.PathValue("projectId")
	if projectID == "" {
		writeErrorResponse(w, http.StatusBadRequest, "Project id is required", codeInvalidParams)
		return
	}

	var req models.InstallPackagesRequest
	if !decodeBody(w, r, &req) {
		return
	}

	results, err := h.services.Graph.InstallGraphPackages(ctx, tc, projectID, req.Packages, graph.InstallOptions{
		AllowDowngrade:           req.AllowDowngrade,
		AllowForeignTypeMutation: req.AllowForeignTypeMutation,
	})
	if err != nil {
		log.Error("Batch install failed", "error", err)
		writeErrorResponse(w, http.StatusUnprocessableEntity, err.Error(), "BATCH_INSTALL_FAILED")
		return
	}

	writeSuccessResponse(w, http.StatusOK, results)
}

func (h *Handler) GetProjectGraph(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}
	projectID := r.PathValue("projectId")
	if projectID == "" {
		writeErrorResponse(w, http.StatusBadRequest, "Project id is required", codeInvalidParams)
		return
	}

	snapshot, err := h.services.Graph.GetProjectGraphSnapshot(ctx, tc, projectID)
	if err != nil {
		logger.GetLogger(ctx).Error("Failed to build snapshot", "error", err)
		writeStorageError(w, err)
		return
	}

	writeSuccessResponse(w, http.StatusOK, snapshot)
}

func (h *Handler) ExecuteChange(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.GetLogger(ctx)

	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}
	changeID := r.PathValue("changeId")
	if changeID == "" {
		writeErrorResponse(w, http.StatusBadRequest, "Change id is required", codeInvalidParams)
		return
	}

	result, err := h.services.Graph.ExecuteChange(ctx, tc, changeID)
	if err != nil {
		log.Error("Change execution failed", "change", changeID, "error", err)
		writeStorageError(w, err)
		return
	}

	status := http.StatusOK
	if !result.Success {
		status = http.StatusUnprocessableEntity
	}
	writeSuccessResponse(w, status, result)
}
