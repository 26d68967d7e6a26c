// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package capability defines the permission tokens that gate runner
// execution and the static profiles that bundle them.
package capability

import (
	"fmt"
	"slices"
)

// Capability is a named permission token gating an execution action.
type Capability string

// Wire-visible capability tokens.
const (
	FSRead  Capability = "fs:read"
	FSWrite Capability = "fs:write"
	CmdRun  Capability = "cmd:run"
	GitDiff Capability = "git:diff"
	NetHTTP Capability = "net:http"
)

// Profile is a named, static bundle of capabilities.
type Profile string

const (
	ProfileCodeModuleDefault     Profile = "CODE_MODULE_DEFAULT"
	ProfileWorkflowModuleDefault Profile = "WORKFLOW_MODULE_DEFAULT"
	ProfileReadOnly              Profile = "READ_ONLY"
	ProfileSystemPrivileged      Profile = "SYSTEM_PRIVILEGED"
)

// profiles maps each profile name to its capability bundle. Profiles are
// compile-time constants; ResolveProfile hands out fresh copies so callers
// cannot mutate the shared table.
var profiles = map[Profile][]Capability{
	ProfileCodeModuleDefault:     {FSRead, FSWrite, CmdRun, GitDiff},
	ProfileWorkflowModuleDefault: {FSRead, NetHTTP},
	ProfileReadOnly:              {FSRead},
	ProfileSystemPrivileged:      {FSRead, FSWrite, CmdRun, GitDiff, NetHTTP},
}

// DeniedError reports a capability assertion failure. It carries the missing
// capability and the full granted set for the audit trail.
type DeniedError struct {
	Capability Capability
	Granted    []Capability
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("capability %q not granted (granted: %v)", e.Capability, e.Granted)
}

// ResolveProfile returns a fresh copy of the capability list for the named
// profile. Unknown profiles resolve to an empty grant.
func ResolveProfile(name Profile) []Capability {
	caps, ok := profiles[name]
	if !ok {
		return nil
	}
	return slices.Clone(caps)
}

// KnownProfile reports whether name resolves to a defined profile.
func KnownProfile(name Profile) bool {
	_, ok := profiles[name]
	return ok
}

// Assert verifies that want is a member of the granted set. It fails with a
// typed *DeniedError carrying the missing capability and the granted set.
func Assert(granted []Capability, want Capability) error {
	if slices.Contains(granted, want) {
		return nil
	}
	return &DeniedError{Capability: want, Granted: slices.Clone(granted)}
}

// Subset verifies that every requested capability is a member of granted,
// returning a *DeniedError for the first missing one.
func Subset(granted, requested []Capability) error {
	for _, c := range requested {
		if err := Assert(granted, c); err != nil {
			return err
		}
	}
	return nil
}
