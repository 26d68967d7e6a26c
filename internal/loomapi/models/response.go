// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package models holds the request and response shapes of the control-plane
// API. Dynamic payloads are decoded once at this boundary and flow as typed
// values inside the engines.
package models

// APIResponse is the standard response wrapper.
type APIResponse[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

// SuccessResponse wraps data in a successful response.
func SuccessResponse[T any](data T) APIResponse[T] {
	return APIResponse[T]{Success: true, Data: data}
}

// ErrorResponse builds an error response with a machine-readable code.
func ErrorResponse(message, code string) APIResponse[struct{}] {
	return APIResponse[struct{}]{Success: false, Error: message, Code: code}
}

// ListResponse is a simple list payload.
type ListResponse[T any] struct {
	Items      []T `json:"items"`
	TotalCount int `json:"totalCount"`
}
