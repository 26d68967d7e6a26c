// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"fmt"
	"slices"
	"strings"

	"github.com/loomhq/loom/internal/capability"
	"github.com/loomhq/loom/internal/tenant"
)

// ValidateExecutionRequest is the single admission point for every
// execution request. Checks run in a fixed order: tenant presence and
// provenance, module presence, tenant-context equality, capability subset.
func ValidateExecutionRequest(req ExecutionRequest) *BoundaryError {
	if strings.TrimSpace(req.Tenant.TenantID) == "" {
		return &BoundaryError{
			Code:    CodeMissingTenantContext,
			Message: "tenant context is missing or has a blank tenant id",
		}
	}
	if !slices.Contains(tenant.PermittedSources, req.Tenant.Source) {
		return &BoundaryError{
			Code:    CodeInvalidTenantSource,
			Message: fmt.Sprintf("tenant source %q is not permitted", req.Tenant.Source),
		}
	}

	if req.Module.ModuleID == "" || req.Module.ModuleRootPath == "" || req.Module.Profile == "" {
		return &BoundaryError{
			Code:    CodeMissingModuleContext,
			Message: "module execution context requires moduleId, moduleRootPath and capabilityProfile",
		}
	}

	// The nested tenant context must equal the outer one byte-for-byte on
	// tenant id and source. Any drift is a mutation attempt.
	if !req.Tenant.SameIdentity(req.Module.Tenant) {
		field := "tenantId"
		if req.Tenant.TenantID == req.Module.Tenant.TenantID {
			field = "source"
		}
		return &BoundaryError{
			Code:    CodeTenantContextMutation,
			Message: fmt.Sprintf("%s mismatch between request and module context", field),
		}
	}

	if err := capability.Subset(req.Module.Capabilities, req.Capabilities); err != nil {
		return &BoundaryError{
			Code:    CodeCapabilityNotGranted,
			Message: err.Error(),
		}
	}

	return nil
}

// ValidateModuleBoundaryPath rejects any candidate path that could resolve
// outside the module root: absolute paths, `..` segments, lexical traversal
// past the root, and sibling-directory lookalikes. Comparison is on
// normalized POSIX-style paths; the root is a directory boundary, so the
// candidate must equal the root or start with root + "/".
func ValidateModuleBoundaryPath(moduleID, rootPath, candidate string) *BoundaryError {
	escape := func(reason string) *BoundaryError {
		return &BoundaryError{
			Code:    CodeModuleBoundaryEscape,
			Message: fmt.Sprintf("path %q escapes module %s boundary %q: %s", candidate, moduleID, rootPath, reason),
		}
	}

	normalized := normalizePath(candidate)
	if strings.HasPrefix(normalized, "/") {
		return escape("absolute path")
	}
	for _, segment := range strings.Split(normalized, "/") {
		if segment == ".." {
			return escape("parent traversal segment")
		}
	}

	root := normalizePath(rootPath)
	if normalized != root && !strings.HasPrefix(normalized, root+"/") {
		return escape("outside module root")
	}

	return nil
}

// normalizePath collapses the candidate to POSIX form without resolving
// `..` away; traversal segments must stay visible to the check above.
func normalizePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	segments := strings.Split(p, "/")
	out := make([]string, 0, len(segments))
	for i, seg := range segments {
		if seg == "." {
			continue
		}
		if seg == "" && i != 0 {
			continue
		}
		out = append(out, seg)
	}
	joined := strings.Join(out, "/")
	return strings.TrimSuffix(joined, "/")
}
