// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecksumDeterministic(t *testing.T) {
	pkg := &Package{
		PackageKey: "hr.lite",
		Version:    "0.2.0",
		RecordTypes: []PackageRecordType{
			{Key: "person", Fields: []Field{
				{Name: "email", Type: "string", Required: true},
				{Name: "name", Type: "string"},
			}},
			{Key: "employee", BaseType: "person", Fields: []Field{
				{Name: "startDate", Type: "date"},
			}},
		},
	}

	a, err := Checksum(pkg)
	require.NoError(t, err)
	b, err := Checksum(pkg)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64, "hex-encoded sha-256")
}

func TestChecksumIgnoresDeclarationOrder(t *testing.T) {
	ordered := &Package{
		PackageKey: "hr.lite",
		Version:    "0.2.0",
		RecordTypes: []PackageRecordType{
			{Key: "employee", BaseType: "person", Fields: []Field{{Name: "startDate", Type: "date"}}},
			{Key: "person", Fields: []Field{
				{Name: "email", Type: "string", Required: true},
				{Name: "name", Type: "string"},
			}},
		},
	}
	reordered := &Package{
		PackageKey: "hr.lite",
		Version:    "0.2.0",
		RecordTypes: []PackageRecordType{
			{Key: "person", Fields: []Field{
				{Name: "name", Type: "string"},
				{Name: "email", Type: "string", Required: true},
			}},
			{Key: "employee", BaseType: "person", Fields: []Field{{Name: "startDate", Type: "date"}}},
		},
	}

	a, err := Checksum(ordered)
	require.NoError(t, err)
	b, err := Checksum(reordered)
	require.NoError(t, err)
	assert.Equal(t, a, b, "record type and field order must not affect the digest")
}

func TestChecksumChangesWithContent(t *testing.T) {
	base := &Package{
		PackageKey:  "hr.lite",
		Version:     "0.2.0",
		RecordTypes: []PackageRecordType{{Key: "person", Fields: []Field{{Name: "name", Type: "string"}}}},
	}
	changed := &Package{
		PackageKey:  "hr.lite",
		Version:     "0.2.0",
		RecordTypes: []PackageRecordType{{Key: "person", Fields: []Field{{Name: "name", Type: "text"}}}},
	}

	a, err := Checksum(base)
	require.NoError(t, err)
	b, err := Checksum(changed)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
