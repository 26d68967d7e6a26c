// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// DefaultRemoteTimeout bounds each outbound runner call.
const DefaultRemoteTimeout = 30 * time.Second

// RemoteAdapter forwards execution requests to a runner service over HTTP.
// Timeouts, network errors and malformed bodies all synthesize a failure
// result; the adapter never raises.
type RemoteAdapter struct {
	url     string
	client  *http.Client
	timeout time.Duration
	logger  *slog.Logger
}

// NewRemote builds the HTTP adapter for the runner at url.
func NewRemote(url string, timeout time.Duration, logger *slog.Logger) *RemoteAdapter {
	if timeout <= 0 {
		timeout = DefaultRemoteTimeout
	}
	return &RemoteAdapter{
		url:     url,
		client:  &http.Client{},
		timeout: timeout,
		logger:  logger.With("module", "runner", "adapter", "remote"),
	}
}

func (r *RemoteAdapter) ExecuteWorkflowStep(ctx context.Context, req ExecutionRequest) ExecutionResult {
	return r.post(ctx, req)
}

func (r *RemoteAdapter) ExecuteTask(ctx context.Context, req ExecutionRequest) ExecutionResult {
	return r.post(ctx, req)
}

func (r *RemoteAdapter) ExecuteAgentAction(ctx context.Context, req ExecutionRequest) ExecutionResult {
	return r.post(ctx, req)
}

func (r *RemoteAdapter) post(ctx context.Context, req ExecutionRequest) ExecutionResult {
	executionID := newExecutionID()

	body, err := json.Marshal(req)
	if err != nil {
		return failure(executionID, CodeExecutionError, fmt.Sprintf("failed to encode request: %v", err))
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url+"/execute", bytes.NewReader(body))
	if err != nil {
		return failure(executionID, CodeExecutionError, fmt.Sprintf("failed to build request: %v", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		code := CodeRemoteUnreachable
		if errors.Is(err, context.DeadlineExceeded) {
			code = CodeRemoteTimeout
		}
		r.logger.Warn("remote runner call failed", "execution_id", executionID, "error", err)
		return failure(executionID, code, fmt.Sprintf("remote runner at %s: %v", r.url, err))
	}
	defer resp.Body.Close()

	var result ExecutionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		r.logger.Warn("remote runner returned malformed body",
			"execution_id", executionID, "status", resp.StatusCode, "error", err)
		return failure(executionID, CodeRemoteBadResponse,
			fmt.Sprintf("remote runner returned status %d with a non-JSON body", resp.StatusCode))
	}
	if result.ExecutionID == "" {
		result.ExecutionID = executionID
	}
	return result
}

// Config selects and parameterizes the adapter, resolved once per process.
type Config struct {
	Adapter string        // "local" or "remote"
	URL     string        // remote runner base URL
	Timeout time.Duration // per-request timeout for the remote variant
}

// New resolves the configured adapter variant.
func New(cfg Config, local *LocalAdapter, logger *slog.Logger) (Adapter, error) {
	switch cfg.Adapter {
	case "", "local":
		return local, nil
	case "remote":
		return NewRemote(cfg.URL, cfg.Timeout, logger), nil
	default:
		return nil, fmt.Errorf("unknown runner adapter %q", cfg.Adapter)
	}
}
