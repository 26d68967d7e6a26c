// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"
	"strings"
)

// ProjectPackageOntoSnapshot applies a package to a snapshot copy, yielding
// the would-be graph after install. The projection is pure and idempotent:
// applying the same package twice to the same snapshot yields the same
// result. No storage writes happen here.
func ProjectPackageOntoSnapshot(current *Snapshot, pkg *Package, projectID, tenantID string) *Snapshot {
	projected := cloneSnapshot(current)
	projected.TenantID = tenantID

	for _, rt := range pkg.RecordTypes {
		node := projected.node(rt.Key)
		if node == nil {
			projected.Nodes = append(projected.Nodes, Node{
				ProjectID: projectID,
				Key:       rt.Key,
				Name:      rt.Name,
				BaseType:  rt.BaseType,
				Fields:    append([]Field(nil), rt.Fields...),
			})
			continue
		}
		if rt.Name != "" {
			node.Name = rt.Name
		}
		if rt.BaseType != "" {
			node.BaseType = rt.BaseType
		}
		node.Fields = mergeFields(node.Fields, rt.Fields)
	}

	projected.Edges = rebuildEdges(projected.Nodes)
	projectBindings(projected, pkg)
	return projected
}

// mergeFields overlays package fields onto existing ones: same-name fields
// take the package's declaration, new fields append in declared order.
func mergeFields(existing, incoming []Field) []Field {
	out := append([]Field(nil), existing...)
	index := map[string]int{}
	for i, f := range out {
		index[f.Name] = i
	}
	for _, f := range incoming {
		if i, ok := index[f.Name]; ok {
			out[i] = f
			continue
		}
		index[f.Name] = len(out)
		out = append(out, f)
	}
	return out
}

func rebuildEdges(nodes []Node) []Edge {
	var edges []Edge
	for _, n := range nodes {
		if n.BaseType != "" {
			edges = append(edges, Edge{Kind: EdgeInheritance, FromKey: n.Key, ToKey: n.BaseType})
		}
		for _, f := range n.Fields {
			if target, ok := strings.CutPrefix(f.Type, refTypePrefix); ok {
				edges = append(edges, Edge{Kind: EdgeReference, FromKey: n.Key, ToKey: target})
			}
		}
	}
	return edges
}

func projectBindings(snap *Snapshot, pkg *Package) {
	slaSeen := map[string]bool{}
	for _, s := range snap.Bindings.Slas {
		slaSeen[s.RecordTypeKey] = true
	}
	for _, policy := range pkg.SlaPolicies {
		if slaSeen[policy.RecordTypeKey] {
			for i := range snap.Bindings.Slas {
				if snap.Bindings.Slas[i].RecordTypeKey == policy.RecordTypeKey {
					snap.Bindings.Slas[i].DurationMinutes = policy.DurationMinutes
				}
			}
			continue
		}
		slaSeen[policy.RecordTypeKey] = true
		snap.Bindings.Slas = append(snap.Bindings.Slas, SlaBinding{
			RecordTypeKey:   policy.RecordTypeKey,
			DurationMinutes: policy.DurationMinutes,
		})
	}

	asgSeen := map[string]bool{}
	for _, a := range snap.Bindings.Assignments {
		asgSeen[a.RecordTypeKey] = true
	}
	for _, rule := range pkg.AssignmentRules {
		if asgSeen[rule.RecordTypeKey] {
			for i := range snap.Bindings.Assignments {
				if snap.Bindings.Assignments[i].RecordTypeKey == rule.RecordTypeKey {
					snap.Bindings.Assignments[i].StrategyType = rule.StrategyType
				}
			}
			continue
		}
		asgSeen[rule.RecordTypeKey] = true
		snap.Bindings.Assignments = append(snap.Bindings.Assignments, AssignmentBinding{
			RecordTypeKey: rule.RecordTypeKey,
			StrategyType:  rule.StrategyType,
		})
	}

	wfSeen := map[string]bool{}
	for _, w := range snap.Bindings.Workflows {
		wfSeen[w] = true
	}
	for _, wf := range pkg.Workflows {
		if !wfSeen[wf.Name] {
			wfSeen[wf.Name] = true
			snap.Bindings.Workflows = append(snap.Bindings.Workflows, wf.Name)
		}
	}
}

func cloneSnapshot(s *Snapshot) *Snapshot {
	out := &Snapshot{TenantID: s.TenantID, BuiltAt: s.BuiltAt}
	for _, n := range s.Nodes {
		cn := n
		cn.Fields = append([]Field(nil), n.Fields...)
		out.Nodes = append(out.Nodes, cn)
	}
	out.Edges = append([]Edge(nil), s.Edges...)
	out.Bindings.Workflows = append([]string(nil), s.Bindings.Workflows...)
	out.Bindings.Slas = append([]SlaBinding(nil), s.Bindings.Slas...)
	out.Bindings.Assignments = append([]AssignmentBinding(nil), s.Bindings.Assignments...)
	out.Bindings.ChangePolicies = append([]string(nil), s.Bindings.ChangePolicies...)
	return out
}

// ValidateProjection runs graph validation over a projected snapshot,
// collecting every violation instead of stopping at the first. The
// tenant-wide snapshot distinguishes a truly orphaned baseType from one
// that exists but lives in another project.
func ValidateProjection(projected, tenantWide *Snapshot, pkg *Package, projectID string) []ValidationError {
	var errs []ValidationError

	nodeByKey := map[string]*Node{}
	for i := range projected.Nodes {
		nodeByKey[projected.Nodes[i].Key] = &projected.Nodes[i]
	}
	tenantNodeByKey := map[string]*Node{}
	if tenantWide != nil {
		for i := range tenantWide.Nodes {
			tenantNodeByKey[tenantWide.Nodes[i].Key] = &tenantWide.Nodes[i]
		}
	}

	for _, rt := range pkg.RecordTypes {
		node := nodeByKey[rt.Key]
		if node == nil {
			continue
		}
		if node.BaseType == "" {
			continue
		}
		base, exists := nodeByKey[node.BaseType]
		if !exists {
			if foreign, elsewhere := tenantNodeByKey[node.BaseType]; elsewhere && foreign.ProjectID != projectID {
				errs = append(errs, ValidationError{
					Code: CodeCrossProjectBaseType,
					Message: fmt.Sprintf(
						"record type %q declares baseType %q from another project", rt.Key, node.BaseType),
				})
			} else {
				errs = append(errs, ValidationError{
					Code:    CodeOrphanBaseType,
					Message: fmt.Sprintf("record type %q declares baseType %q which does not exist", rt.Key, node.BaseType),
				})
			}
			continue
		}
		errs = append(errs, validateBaseFieldStrength(rt, base)...)
	}

	for _, policy := range pkg.SlaPolicies {
		if nodeByKey[policy.RecordTypeKey] == nil {
			errs = append(errs, ValidationError{
				Code:    CodeUnknownBindingTarget,
				Message: fmt.Sprintf("sla policy targets unknown record type %q", policy.RecordTypeKey),
			})
		}
	}
	for _, rule := range pkg.AssignmentRules {
		if nodeByKey[rule.RecordTypeKey] == nil {
			errs = append(errs, ValidationError{
				Code:    CodeUnknownBindingTarget,
				Message: fmt.Sprintf("assignment rule targets unknown record type %q", rule.RecordTypeKey),
			})
		}
	}

	return errs
}

// validateBaseFieldStrength forbids a derived type redefining a field the
// base marks required with required=false.
func validateBaseFieldStrength(rt PackageRecordType, base *Node) []ValidationError {
	var errs []ValidationError
	baseRequired := map[string]bool{}
	for _, f := range base.Fields {
		if f.Required {
			baseRequired[f.Name] = true
		}
	}
	for _, f := range rt.Fields {
		if baseRequired[f.Name] && !f.Required {
			errs = append(errs, ValidationError{
				Code:    CodeBaseTypeRequiredWeakened,
				Message: fmt.Sprintf("Cannot weaken required baseType field %q on record type %q", f.Name, rt.Key),
			})
		}
	}
	return errs
}
