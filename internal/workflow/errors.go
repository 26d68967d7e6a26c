// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package workflow interprets workflow step graphs against persistent
// state, with pause/resume for approvals, decision branching and record
// locking. Pause state is a persisted continuation: the execution row plus
// its accumulated input, not a held coroutine.
package workflow

import "errors"

// Engine errors.
var (
	ErrIntentRequired          = errors.New("workflow execution requires an intent")
	ErrWorkflowNotActive       = errors.New("workflow definition is not active")
	ErrWorkflowNotDraft        = errors.New("workflow definition is not in draft")
	ErrExecutionNotPaused      = errors.New("workflow execution is not paused")
	ErrStepNotPausedHere       = errors.New("step execution is not the paused step")
	ErrStepNotAwaitingApproval = errors.New("step execution is not awaiting approval")
)

// Error codes for API responses.
const (
	CodeIntentRequired    = "INTENT_REQUIRED"
	CodeWorkflowNotActive = "WORKFLOW_NOT_ACTIVE"
	CodeWorkflowNotFound  = "WORKFLOW_NOT_FOUND"
	CodeExecutionNotFound = "EXECUTION_NOT_FOUND"
	CodeInvalidResume     = "INVALID_RESUME"
	CodeActivationInvalid = "ACTIVATION_INVALID"
)
