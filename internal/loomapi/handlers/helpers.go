// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/loomhq/loom/internal/loomapi/models"
	"github.com/loomhq/loom/internal/server/middleware/auth"
	"github.com/loomhq/loom/internal/storage"
	"github.com/loomhq/loom/internal/tenant"
)

// Shared error codes.
const (
	codeMissingTenant = "MISSING_TENANT_CONTEXT"
	codeInvalidJSON   = "INVALID_JSON"
	codeInvalidParams = "INVALID_PARAMS"
	codeNotFound      = "NOT_FOUND"
	codeInternal      = "INTERNAL_ERROR"
)

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeSuccessResponse writes a successful API response.
func writeSuccessResponse[T any](w http.ResponseWriter, statusCode int, data T) {
	writeJSON(w, statusCode, models.SuccessResponse(data))
}

// writeErrorResponse writes an error API response.
func writeErrorResponse(w http.ResponseWriter, statusCode int, message, code string) {
	writeJSON(w, statusCode, models.ErrorResponse(message, code))
}

// requireTenant extracts the tenant context or writes a 400 and reports
// false.
func requireTenant(w http.ResponseWriter, r *http.Request) (tenant.Context, bool) {
	tc, ok := auth.FromContext(r.Context())
	if !ok {
		writeErrorResponse(w, http.StatusBadRequest, "Tenant context is required", codeMissingTenant)
		return tenant.Context{}, false
	}
	return tc, true
}

// decodeBody decodes and validates a JSON request body.
func decodeBody[T interface{ Validate() error }](w http.ResponseWriter, r *http.Request, out T) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body", codeInvalidJSON)
		return false
	}
	if err := out.Validate(); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error(), "INVALID_REQUEST")
		return false
	}
	return true
}

// writeStorageError maps storage errors to HTTP status codes.
func writeStorageError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeErrorResponse(w, http.StatusNotFound, "Not found", codeNotFound)
	case errors.Is(err, storage.ErrMissingTenant):
		writeErrorResponse(w, http.StatusBadRequest, "Tenant context is required", codeMissingTenant)
	default:
		writeErrorResponse(w, http.StatusInternalServerError, "Internal server error", codeInternal)
	}
}
