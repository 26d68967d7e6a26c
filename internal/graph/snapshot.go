// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package graph

import (
	"context"
	"strings"
	"time"

	"github.com/loomhq/loom/internal/storage"
	"github.com/loomhq/loom/internal/tenant"
)

// Edge kinds in a graph snapshot.
const (
	EdgeInheritance = "inheritance"
	EdgeReference   = "reference"
)

// refTypePrefix marks a field type as a reference to another record type,
// e.g. "ref:person".
const refTypePrefix = "ref:"

// Node is one record type in a snapshot.
type Node struct {
	ID        string  `json:"id,omitempty"`
	ProjectID string  `json:"projectId"`
	Key       string  `json:"key"`
	Name      string  `json:"name,omitempty"`
	BaseType  string  `json:"baseType,omitempty"`
	Fields    []Field `json:"fields"`
}

// Edge connects two nodes by key.
type Edge struct {
	Kind    string `json:"kind"`
	FromKey string `json:"fromKey"`
	ToKey   string `json:"toKey"`
}

// SlaBinding is a record type's SLA attachment.
type SlaBinding struct {
	RecordTypeKey   string `json:"recordTypeKey"`
	DurationMinutes int    `json:"durationMinutes"`
}

// AssignmentBinding is a record type's assignment strategy attachment.
type AssignmentBinding struct {
	RecordTypeKey string `json:"recordTypeKey"`
	StrategyType  string `json:"strategyType"`
}

// Bindings holds the non-node attachments of a snapshot.
type Bindings struct {
	Workflows      []string            `json:"workflows"`
	Slas           []SlaBinding        `json:"slas"`
	Assignments    []AssignmentBinding `json:"assignments"`
	ChangePolicies []string            `json:"changePolicies"`
}

// Snapshot is an in-memory projection of a tenant's (or project's) schema
// graph and its bindings at a point in time.
type Snapshot struct {
	TenantID string    `json:"tenantId"`
	BuiltAt  time.Time `json:"builtAt"`
	Nodes    []Node    `json:"nodes"`
	Edges    []Edge    `json:"edges"`
	Bindings Bindings  `json:"bindings"`
}

// node returns the snapshot node with the given key, or nil.
func (s *Snapshot) node(key string) *Node {
	for i := range s.Nodes {
		if s.Nodes[i].Key == key {
			return &s.Nodes[i]
		}
	}
	return nil
}

// BuildGraphSnapshot composes the tenant's full graph view from storage.
func (e *Engine) BuildGraphSnapshot(ctx context.Context, tc tenant.Context) (*Snapshot, error) {
	recordTypes, err := e.store.ListAllRecordTypes(ctx, tc)
	if err != nil {
		return nil, err
	}
	definitions, err := e.store.ListWorkflowDefinitions(ctx, tc)
	if err != nil {
		return nil, err
	}
	changes, err := e.store.ListChangeRecords(ctx, tc)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{TenantID: tc.TenantID, BuiltAt: time.Now().UTC()}
	for _, rt := range recordTypes {
		node := Node{
			ID:        rt.ID,
			ProjectID: rt.ProjectID,
			Key:       rt.Key,
			Name:      rt.Name,
			BaseType:  rt.BaseType,
			Fields:    fieldsFromSchema(rt.Schema),
		}
		snap.Nodes = append(snap.Nodes, node)

		if rt.BaseType != "" {
			snap.Edges = append(snap.Edges, Edge{Kind: EdgeInheritance, FromKey: rt.Key, ToKey: rt.BaseType})
		}
		for _, f := range node.Fields {
			if target, ok := strings.CutPrefix(f.Type, refTypePrefix); ok {
				snap.Edges = append(snap.Edges, Edge{Kind: EdgeReference, FromKey: rt.Key, ToKey: target})
			}
		}

		if rt.SlaConfig != nil {
			snap.Bindings.Slas = append(snap.Bindings.Slas, SlaBinding{
				RecordTypeKey:   rt.Key,
				DurationMinutes: intFromMap(rt.SlaConfig, "durationMinutes"),
			})
		}
		if rt.AssignmentConfig != nil {
			strategy, _ := rt.AssignmentConfig["strategyType"].(string)
			snap.Bindings.Assignments = append(snap.Bindings.Assignments, AssignmentBinding{
				RecordTypeKey: rt.Key,
				StrategyType:  strategy,
			})
		}
	}

	for _, def := range definitions {
		snap.Bindings.Workflows = append(snap.Bindings.Workflows, def.Name)
	}
	for _, ch := range changes {
		if ch.Status == "open" {
			snap.Bindings.ChangePolicies = append(snap.Bindings.ChangePolicies, ch.ID)
		}
	}

	return snap, nil
}

// GetProjectGraphSnapshot filters the tenant snapshot to one project,
// retaining edges that touch at least one in-project node and bindings for
// in-project types only.
func (e *Engine) GetProjectGraphSnapshot(ctx context.Context, tc tenant.Context, projectID string) (*Snapshot, error) {
	full, err := e.BuildGraphSnapshot(ctx, tc)
	if err != nil {
		return nil, err
	}
	return filterProjectSnapshot(full, projectID), nil
}

// filterProjectSnapshot narrows a tenant snapshot to one project.
func filterProjectSnapshot(full *Snapshot, projectID string) *Snapshot {
	inProject := map[string]bool{}
	filtered := &Snapshot{TenantID: full.TenantID, BuiltAt: full.BuiltAt}
	for _, n := range full.Nodes {
		if n.ProjectID == projectID {
			filtered.Nodes = append(filtered.Nodes, n)
			inProject[n.Key] = true
		}
	}
	for _, edge := range full.Edges {
		if inProject[edge.FromKey] || inProject[edge.ToKey] {
			filtered.Edges = append(filtered.Edges, edge)
		}
	}
	for _, sla := range full.Bindings.Slas {
		if inProject[sla.RecordTypeKey] {
			filtered.Bindings.Slas = append(filtered.Bindings.Slas, sla)
		}
	}
	for _, asg := range full.Bindings.Assignments {
		if inProject[asg.RecordTypeKey] {
			filtered.Bindings.Assignments = append(filtered.Bindings.Assignments, asg)
		}
	}
	filtered.Bindings.Workflows = full.Bindings.Workflows
	filtered.Bindings.ChangePolicies = full.Bindings.ChangePolicies

	return filtered
}

// fieldsFromSchema decodes the stored schema document's field list.
func fieldsFromSchema(schema storage.JSONMap) []Field {
	raw, ok := schema["fields"].([]any)
	if !ok {
		return nil
	}
	fields := make([]Field, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		f := Field{}
		f.Name, _ = m["name"].(string)
		f.Type, _ = m["type"].(string)
		f.Required, _ = m["required"].(bool)
		fields = append(fields, f)
	}
	return fields
}

// schemaFromFields encodes a field list as the stored schema document.
func schemaFromFields(fields []Field) storage.JSONMap {
	raw := make([]any, 0, len(fields))
	for _, f := range fields {
		raw = append(raw, map[string]any{
			"name":     f.Name,
			"type":     f.Type,
			"required": f.Required,
		})
	}
	return storage.JSONMap{"fields": raw}
}

func intFromMap(m storage.JSONMap, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
