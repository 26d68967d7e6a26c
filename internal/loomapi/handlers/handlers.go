// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package handlers holds the control-plane HTTP handlers.
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/loomhq/loom/internal/loomapi/config"
	"github.com/loomhq/loom/internal/loomapi/services"
	"github.com/loomhq/loom/internal/server/middleware/auth"
	"github.com/loomhq/loom/internal/server/middleware/logger"
)

// Handler holds the services and provides HTTP handlers.
type Handler struct {
	services *services.Services
	config   *config.Config
	logger   *slog.Logger
}

// New creates a new Handler instance.
func New(services *services.Services, cfg *config.Config, logger *slog.Logger) *Handler {
	return &Handler{
		services: services,
		config:   cfg,
		logger:   logger,
	}
}

// Routes sets up all HTTP routes and returns the configured handler.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	v1 := "/api/v1"

	// Public surface.
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ready", h.Ready)
	mux.Handle("GET /metrics", h.services.Metrics.Handler())

	// Tenant-scoped API.
	mux.HandleFunc("POST "+v1+"/projects", h.CreateProject)
	mux.HandleFunc("GET "+v1+"/projects", h.ListProjects)
	mux.HandleFunc("POST "+v1+"/environments", h.CreateEnvironment)
	mux.HandleFunc("GET "+v1+"/environments", h.ListEnvironments)

	mux.HandleFunc("POST "+v1+"/projects/{projectId}/packages/install", h.InstallPackage)
	mux.HandleFunc("POST "+v1+"/projects/{projectId}/packages/install-batch", h.InstallPackages)
	mux.HandleFunc("GET "+v1+"/projects/{projectId}/graph", h.GetProjectGraph)
	mux.HandleFunc("POST "+v1+"/changes/{changeId}/execute", h.ExecuteChange)

	mux.HandleFunc("POST "+v1+"/workflows/{definitionId}/intents", h.CreateExecutionIntent)
	mux.HandleFunc("POST "+v1+"/workflows/{definitionId}/activate", h.ActivateWorkflow)
	mux.HandleFunc("GET "+v1+"/executions/{executionId}", h.GetExecution)
	mux.HandleFunc("POST "+v1+"/executions/{executionId}/resume", h.ResumeExecution)

	mux.HandleFunc("POST "+v1+"/promotions", h.CreatePromotion)
	mux.HandleFunc("GET "+v1+"/promotions/{intentId}", h.GetPromotion)
	mux.HandleFunc("POST "+v1+"/promotions/{intentId}/preview", h.PreviewPromotion)
	mux.HandleFunc("POST "+v1+"/promotions/{intentId}/approve", h.ApprovePromotion)
	mux.HandleFunc("POST "+v1+"/promotions/{intentId}/reject", h.RejectPromotion)
	mux.HandleFunc("POST "+v1+"/promotions/{intentId}/execute", h.ExecutePromotion)

	// Middleware chain: access logging outermost, then tenant resolution.
	var handler http.Handler = mux
	handler = auth.Middleware(h.config.Auth)(handler)
	handler = logger.Middleware(h.logger)(handler)
	return handler
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready reports readiness.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
