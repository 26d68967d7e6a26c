// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package tenant carries the immutable request-scoped identity and module
// scope that every engine operation is keyed by. Contexts are plain value
// objects constructed at request ingress and passed by value; construction
// is the only mutation point.
package tenant

import (
	"strings"
	"sync"

	"github.com/loomhq/loom/internal/capability"
)

// Source records where a tenant identity entered the system. It is kept on
// every context for audit provenance.
type Source string

const (
	SourceHeader   Source = "header"
	SourceSystem   Source = "system"
	SourceInternal Source = "internal"
)

// PermittedSources is the set of provenance tags the boundary admits.
var PermittedSources = []Source{SourceHeader, SourceSystem, SourceInternal}

// Context is the tenant identity for a single request. The zero value is
// not a valid context; use New.
type Context struct {
	TenantID string `json:"tenantId"`
	UserID   string `json:"userId,omitempty"`
	AgentID  string `json:"agentId,omitempty"`
	Source   Source `json:"source"`
}

// New constructs a tenant context, trimming surrounding whitespace from the
// tenant id so a blank-but-padded id cannot slip past presence checks.
func New(tenantID string, source Source) Context {
	return Context{TenantID: strings.TrimSpace(tenantID), Source: source}
}

// WithUser returns a copy carrying the acting user id.
func (c Context) WithUser(userID string) Context {
	c.UserID = userID
	return c
}

// WithAgent returns a copy carrying the acting agent id.
func (c Context) WithAgent(agentID string) Context {
	c.AgentID = agentID
	return c
}

// IsZero reports whether the context carries no tenant identity.
func (c Context) IsZero() bool {
	return c.TenantID == "" && c.Source == ""
}

// SameIdentity reports whether two contexts agree byte-for-byte on tenant id
// and source. The boundary uses this to detect context mutation between the
// outer request and the nested module context.
func (c Context) SameIdentity(other Context) bool {
	return c.TenantID == other.TenantID && c.Source == other.Source
}

// SystemContext is a branded variant of Context that carries no tenant but
// does carry a human-readable reason. It is only constructible through
// ForSystem and implies the SYSTEM_PRIVILEGED capability set. Used for
// platform-internal sweeps only.
type SystemContext struct {
	Context
	Reason string
}

// Capabilities returns the implicit privileged grant of a system context.
func (s *SystemContext) Capabilities() []capability.Capability {
	return capability.ResolveProfile(capability.ProfileSystemPrivileged)
}

var (
	systemMu    sync.Mutex
	systemCache = map[string]*SystemContext{}
)

// ForSystem returns the system context for the given reason, interning the
// result per reason process-wide.
func ForSystem(reason string) *SystemContext {
	systemMu.Lock()
	defer systemMu.Unlock()

	if sc, ok := systemCache[reason]; ok {
		return sc
	}
	sc := &SystemContext{
		Context: Context{Source: SourceSystem},
		Reason:  reason,
	}
	systemCache[reason] = sc
	return sc
}

// ModuleContext is the tenant+module+capabilities triple under which a
// runner request executes. The nested Tenant must equal the outer request's
// tenant context; the boundary rejects any drift.
type ModuleContext struct {
	Tenant         Context                 `json:"tenantContext"`
	ModuleID       string                  `json:"moduleId"`
	ModuleRootPath string                  `json:"moduleRootPath"`
	Profile        capability.Profile      `json:"capabilityProfile"`
	Capabilities   []capability.Capability `json:"capabilities"`
}

// NewModuleContext builds a module execution context, resolving the named
// profile to a concrete capability list in one shot.
func NewModuleContext(tc Context, moduleID, rootPath string, profile capability.Profile) ModuleContext {
	return ModuleContext{
		Tenant:         tc,
		ModuleID:       moduleID,
		ModuleRootPath: rootPath,
		Profile:        profile,
		Capabilities:   capability.ResolveProfile(profile),
	}
}

// Grants reports whether the module grant includes the capability.
func (m ModuleContext) Grants(c capability.Capability) bool {
	return capability.Assert(m.Capabilities, c) == nil
}
