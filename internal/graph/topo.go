// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"
	"sort"
)

// orderRecordTypes sorts the package's record types so every type's
// baseType precedes it (Kahn's algorithm). Base types that resolve outside
// the package — already-installed external types — impose no ordering.
// Ties break alphabetically for determinism.
func orderRecordTypes(types []PackageRecordType) ([]PackageRecordType, error) {
	byKey := make(map[string]PackageRecordType, len(types))
	for _, rt := range types {
		byKey[rt.Key] = rt
	}

	indegree := make(map[string]int, len(types))
	dependents := make(map[string][]string, len(types))
	for _, rt := range types {
		indegree[rt.Key] += 0
		if rt.BaseType == "" {
			continue
		}
		if _, internal := byKey[rt.BaseType]; !internal {
			continue
		}
		indegree[rt.Key]++
		dependents[rt.BaseType] = append(dependents[rt.BaseType], rt.Key)
	}

	var queue []string
	for key, deg := range indegree {
		if deg == 0 {
			queue = append(queue, key)
		}
	}
	sort.Strings(queue)

	out := make([]PackageRecordType, 0, len(types))
	for len(queue) > 0 {
		key := queue[0]
		queue = queue[1:]
		out = append(out, byKey[key])

		next := dependents[key]
		sort.Strings(next)
		for _, dep := range next {
			indegree[dep]--
			if indegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
		sort.Strings(queue)
	}

	if len(out) != len(types) {
		return nil, fmt.Errorf("record type inheritance contains a cycle")
	}
	return out, nil
}

// orderPackages sorts a batch so every package's dependencies precede it.
// Dependencies naming packages outside the batch impose no ordering.
func orderPackages(pkgs []*Package) ([]*Package, error) {
	byKey := make(map[string]*Package, len(pkgs))
	for _, p := range pkgs {
		byKey[p.PackageKey] = p
	}

	indegree := make(map[string]int, len(pkgs))
	dependents := make(map[string][]string, len(pkgs))
	for _, p := range pkgs {
		indegree[p.PackageKey] += 0
		for _, dep := range p.DependsOn {
			if _, inBatch := byKey[dep.PackageKey]; !inBatch {
				continue
			}
			indegree[p.PackageKey]++
			dependents[dep.PackageKey] = append(dependents[dep.PackageKey], p.PackageKey)
		}
	}

	var queue []string
	for key, deg := range indegree {
		if deg == 0 {
			queue = append(queue, key)
		}
	}
	sort.Strings(queue)

	out := make([]*Package, 0, len(pkgs))
	for len(queue) > 0 {
		key := queue[0]
		queue = queue[1:]
		out = append(out, byKey[key])

		next := dependents[key]
		sort.Strings(next)
		for _, dep := range next {
			indegree[dep]--
			if indegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
		sort.Strings(queue)
	}

	if len(out) != len(pkgs) {
		return nil, fmt.Errorf("package dependencies contain a cycle")
	}
	return out, nil
}
