// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomhq/loom/internal/capability"
	"github.com/loomhq/loom/internal/events"
	"github.com/loomhq/loom/internal/metrics"
	"github.com/loomhq/loom/internal/runner"
	"github.com/loomhq/loom/internal/storage"
	"github.com/loomhq/loom/internal/tenant"
)

func newRunnerServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	store, err := storage.Open(":memory:", logger)
	require.NoError(t, err)
	emitter := events.NewEmitter(logger)
	t.Cleanup(emitter.Close)

	adapter := runner.NewLocal(store, emitter, metrics.New(), logger)
	srv := httptest.NewServer(New(adapter, logger).Routes())
	t.Cleanup(srv.Close)
	return srv
}

func TestHealth(t *testing.T) {
	srv := newRunnerServer(t)

	resp, err := srv.Client().Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "local", body["adapter"])
}

func TestExecuteRejectsBadRequests(t *testing.T) {
	srv := newRunnerServer(t)

	tests := []struct {
		name string
		body string
	}{
		{name: "invalid JSON", body: "{not json"},
		{name: "missing tenant context", body: `{"requestedAction":"agent_action"}`},
		{
			name: "missing module context",
			body: `{"tenantContext":{"tenantId":"tenant-a","source":"header"},"requestedAction":"agent_action"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := srv.Client().Post(srv.URL+"/execute", "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestExecuteReturnsResult(t *testing.T) {
	srv := newRunnerServer(t)

	tc := tenant.New("tenant-a", tenant.SourceHeader)
	req := runner.ExecutionRequest{
		Tenant: tc,
		Module: tenant.NewModuleContext(tc, "mod-1", "src/mod-1", capability.ProfileReadOnly),
		Action: runner.ActionAgentAction,
		Input:  map[string]any{"name": runner.AgentActionGetLogs},
	}
	body, err := json.Marshal(req)
	require.NoError(t, err)

	resp, err := srv.Client().Post(srv.URL+"/execute", "application/json", strings.NewReader(string(body)))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result runner.ExecutionResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.True(t, result.Success)
	assert.NotEmpty(t, result.ExecutionID)
}

func TestExecuteBoundaryFailureIsResultNotError(t *testing.T) {
	srv := newRunnerServer(t)

	tc := tenant.New("tenant-a", tenant.SourceHeader)
	mc := tenant.NewModuleContext(tc, "mod-1", "src/mod-1", capability.ProfileReadOnly)
	mc.Tenant = tenant.New("tenant-b", tenant.SourceHeader) // mutated nested context

	req := runner.ExecutionRequest{Tenant: tc, Module: mc, Action: runner.ActionAgentAction}
	body, err := json.Marshal(req)
	require.NoError(t, err)

	resp, err := srv.Client().Post(srv.URL+"/execute", "application/json", strings.NewReader(string(body)))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode, "boundary failures are results, not HTTP errors")

	var result runner.ExecutionResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.False(t, result.Success)
	assert.Equal(t, runner.CodeTenantContextMutation, result.ErrorCode)
}
