// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func indexOf(types []PackageRecordType, key string) int {
	for i, rt := range types {
		if rt.Key == key {
			return i
		}
	}
	return -1
}

func TestOrderRecordTypesRespectsBaseTypes(t *testing.T) {
	types := []PackageRecordType{
		{Key: "contractor", BaseType: "person"},
		{Key: "employee", BaseType: "person"},
		{Key: "manager", BaseType: "employee"},
		{Key: "person"},
	}

	ordered, err := orderRecordTypes(types)
	require.NoError(t, err)
	require.Len(t, ordered, 4)

	assert.Less(t, indexOf(ordered, "person"), indexOf(ordered, "employee"))
	assert.Less(t, indexOf(ordered, "person"), indexOf(ordered, "contractor"))
	assert.Less(t, indexOf(ordered, "employee"), indexOf(ordered, "manager"))
}

func TestOrderRecordTypesExternalBaseIgnored(t *testing.T) {
	// "ticket" inherits from an already-installed external type; it imposes
	// no ordering inside the package.
	types := []PackageRecordType{
		{Key: "ticket", BaseType: "case"},
		{Key: "note"},
	}
	ordered, err := orderRecordTypes(types)
	require.NoError(t, err)
	assert.Len(t, ordered, 2)
}

func TestOrderRecordTypesCycle(t *testing.T) {
	types := []PackageRecordType{
		{Key: "a", BaseType: "b"},
		{Key: "b", BaseType: "a"},
	}
	_, err := orderRecordTypes(types)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestOrderPackagesByDependency(t *testing.T) {
	pkgs := []*Package{
		{PackageKey: "payroll", Version: "1.0.0", DependsOn: []Dependency{{PackageKey: "hr.lite"}}},
		{PackageKey: "hr.lite", Version: "0.2.0"},
		{PackageKey: "reporting", Version: "0.1.0", DependsOn: []Dependency{{PackageKey: "payroll"}, {PackageKey: "hr.lite"}}},
	}

	ordered, err := orderPackages(pkgs)
	require.NoError(t, err)
	require.Len(t, ordered, 3)
	assert.Equal(t, "hr.lite", ordered[0].PackageKey)
	assert.Equal(t, "payroll", ordered[1].PackageKey)
	assert.Equal(t, "reporting", ordered[2].PackageKey)
}

func TestOrderPackagesCycle(t *testing.T) {
	pkgs := []*Package{
		{PackageKey: "a", Version: "1.0.0", DependsOn: []Dependency{{PackageKey: "b"}}},
		{PackageKey: "b", Version: "1.0.0", DependsOn: []Dependency{{PackageKey: "a"}}},
	}
	_, err := orderPackages(pkgs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}
