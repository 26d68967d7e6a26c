// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package handlers exposes the runner service's HTTP surface: POST /execute
// admits an ExecutionRequest and GET /health reports the adapter.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/loomhq/loom/internal/runner"
	"github.com/loomhq/loom/internal/server/middleware/logger"
)

// Handler serves the runner endpoints over a local adapter.
type Handler struct {
	adapter *runner.LocalAdapter
	logger  *slog.Logger
}

// New creates the runner handler.
func New(adapter *runner.LocalAdapter, logger *slog.Logger) *Handler {
	return &Handler{adapter: adapter, logger: logger}
}

// Routes sets up the runner's routes.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("POST /execute", h.Execute)
	return logger.Middleware(h.logger)(mux)
}

// Health reports the adapter variant.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok", "adapter": "local"})
}

// Execute admits one execution request. Invalid JSON and missing contexts
// are 400s; everything past that is a well-typed ExecutionResult, success
// or not.
func (h *Handler) Execute(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req runner.ExecutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Tenant.IsZero() {
		writeError(w, http.StatusBadRequest, "tenantContext is required")
		return
	}
	if req.Module.ModuleID == "" && req.Module.ModuleRootPath == "" {
		writeError(w, http.StatusBadRequest, "moduleExecutionContext is required")
		return
	}

	var result runner.ExecutionResult
	switch req.Action {
	case runner.ActionWorkflowStep:
		result = h.adapter.ExecuteWorkflowStep(r.Context(), req)
	case runner.ActionAgentAction:
		result = h.adapter.ExecuteAgentAction(r.Context(), req)
	default:
		result = h.adapter.ExecuteTask(r.Context(), req)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": message})
}
