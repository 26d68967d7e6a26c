// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Checksum computes the content-addressed SHA-256 digest of a package over
// its canonical serialization. Object keys are sorted at every level, so two
// packages differing only in key or field declaration order share a digest.
func Checksum(pkg *Package) (string, error) {
	canonical, err := canonicalJSON(pkg)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize package %q: %w", pkg.PackageKey, err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// canonicalJSON round-trips the value through a generic document so that
// encoding/json's sorted map-key emission yields a deterministic byte form.
// Record-type and field arrays are sorted by key/name first (see sortedDoc),
// so their declared order does not affect the digest; every other array
// keeps its declared order.
func canonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return json.Marshal(sortedDoc(doc))
}

// sortedDoc normalizes nested array-of-object documents whose identity is
// order-independent. Record types and fields are keyed collections in
// package semantics, so they are sorted by key/name before hashing.
func sortedDoc(doc any) any {
	m, ok := doc.(map[string]any)
	if !ok {
		return doc
	}
	if rts, ok := m["recordTypes"].([]any); ok {
		m["recordTypes"] = sortObjects(rts, "key")
		for _, rt := range rts {
			if rtm, ok := rt.(map[string]any); ok {
				if fields, ok := rtm["fields"].([]any); ok {
					rtm["fields"] = sortObjects(fields, "name")
				}
			}
		}
	}
	return m
}

func sortObjects(items []any, keyField string) []any {
	out := append([]any(nil), items...)
	keyOf := func(v any) string {
		if m, ok := v.(map[string]any); ok {
			if s, ok := m[keyField].(string); ok {
				return s
			}
		}
		return ""
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && keyOf(out[j]) < keyOf(out[j-1]); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
