// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"
	"sort"
)

// ModifiedRecordType describes field-level drift of one record type
// between two snapshots.
type ModifiedRecordType struct {
	RecordTypeKey      string   `json:"recordTypeKey"`
	FieldAdds          []string `json:"fieldAdds,omitempty"`
	FieldRemovals      []string `json:"fieldRemovals,omitempty"`
	FieldModifications []string `json:"fieldModifications,omitempty"`
}

// BindingChanges describes binding drift between two snapshots. Assignment
// entries are encoded as "recordTypeKey:strategyType".
type BindingChanges struct {
	SlasAdded        []string `json:"slasAdded,omitempty"`
	SlasRemoved      []string `json:"slasRemoved,omitempty"`
	AssignmentsAdded []string `json:"assignmentsAdded,omitempty"`
	WorkflowsAdded   []string `json:"workflowsAdded,omitempty"`
	WorkflowsRemoved []string `json:"workflowsRemoved,omitempty"`
}

// Diff is the structural difference between two snapshots.
type Diff struct {
	AddedRecordTypes    []string             `json:"addedRecordTypes,omitempty"`
	RemovedRecordTypes  []string             `json:"removedRecordTypes,omitempty"`
	ModifiedRecordTypes []ModifiedRecordType `json:"modifiedRecordTypes,omitempty"`
	BindingChanges      BindingChanges       `json:"bindingChanges"`
}

// Empty reports whether the diff carries no changes.
func (d *Diff) Empty() bool {
	return len(d.AddedRecordTypes) == 0 &&
		len(d.RemovedRecordTypes) == 0 &&
		len(d.ModifiedRecordTypes) == 0 &&
		len(d.BindingChanges.SlasAdded) == 0 &&
		len(d.BindingChanges.SlasRemoved) == 0 &&
		len(d.BindingChanges.AssignmentsAdded) == 0 &&
		len(d.BindingChanges.WorkflowsAdded) == 0 &&
		len(d.BindingChanges.WorkflowsRemoved) == 0
}

// DiffSnapshots computes the structural difference from a to b.
func DiffSnapshots(a, b *Snapshot) *Diff {
	diff := &Diff{}

	aNodes := map[string]*Node{}
	for i := range a.Nodes {
		aNodes[a.Nodes[i].Key] = &a.Nodes[i]
	}
	bNodes := map[string]*Node{}
	for i := range b.Nodes {
		bNodes[b.Nodes[i].Key] = &b.Nodes[i]
	}

	for key, bn := range bNodes {
		an, exists := aNodes[key]
		if !exists {
			diff.AddedRecordTypes = append(diff.AddedRecordTypes, key)
			continue
		}
		if mod := diffFields(key, an.Fields, bn.Fields); mod != nil {
			diff.ModifiedRecordTypes = append(diff.ModifiedRecordTypes, *mod)
		}
	}
	for key := range aNodes {
		if _, exists := bNodes[key]; !exists {
			diff.RemovedRecordTypes = append(diff.RemovedRecordTypes, key)
		}
	}

	sort.Strings(diff.AddedRecordTypes)
	sort.Strings(diff.RemovedRecordTypes)
	sort.Slice(diff.ModifiedRecordTypes, func(i, j int) bool {
		return diff.ModifiedRecordTypes[i].RecordTypeKey < diff.ModifiedRecordTypes[j].RecordTypeKey
	})

	diff.BindingChanges = diffBindings(a.Bindings, b.Bindings)
	return diff
}

func diffFields(key string, before, after []Field) *ModifiedRecordType {
	beforeByName := map[string]Field{}
	for _, f := range before {
		beforeByName[f.Name] = f
	}
	afterByName := map[string]Field{}
	for _, f := range after {
		afterByName[f.Name] = f
	}

	mod := ModifiedRecordType{RecordTypeKey: key}
	for name, af := range afterByName {
		bf, exists := beforeByName[name]
		if !exists {
			mod.FieldAdds = append(mod.FieldAdds, name)
			continue
		}
		if bf.Type != af.Type || bf.Required != af.Required {
			mod.FieldModifications = append(mod.FieldModifications, name)
		}
	}
	for name := range beforeByName {
		if _, exists := afterByName[name]; !exists {
			mod.FieldRemovals = append(mod.FieldRemovals, name)
		}
	}

	if len(mod.FieldAdds) == 0 && len(mod.FieldRemovals) == 0 && len(mod.FieldModifications) == 0 {
		return nil
	}
	sort.Strings(mod.FieldAdds)
	sort.Strings(mod.FieldRemovals)
	sort.Strings(mod.FieldModifications)
	return &mod
}

func diffBindings(a, b Bindings) BindingChanges {
	changes := BindingChanges{}

	aSlas := map[string]bool{}
	for _, s := range a.Slas {
		aSlas[s.RecordTypeKey] = true
	}
	bSlas := map[string]bool{}
	for _, s := range b.Slas {
		bSlas[s.RecordTypeKey] = true
	}
	for key := range bSlas {
		if !aSlas[key] {
			changes.SlasAdded = append(changes.SlasAdded, key)
		}
	}
	for key := range aSlas {
		if !bSlas[key] {
			changes.SlasRemoved = append(changes.SlasRemoved, key)
		}
	}

	aAsg := map[string]bool{}
	for _, asg := range a.Assignments {
		aAsg[fmt.Sprintf("%s:%s", asg.RecordTypeKey, asg.StrategyType)] = true
	}
	for _, asg := range b.Assignments {
		encoded := fmt.Sprintf("%s:%s", asg.RecordTypeKey, asg.StrategyType)
		if !aAsg[encoded] {
			changes.AssignmentsAdded = append(changes.AssignmentsAdded, encoded)
		}
	}

	aWf := map[string]bool{}
	for _, w := range a.Workflows {
		aWf[w] = true
	}
	bWf := map[string]bool{}
	for _, w := range b.Workflows {
		bWf[w] = true
	}
	for w := range bWf {
		if !aWf[w] {
			changes.WorkflowsAdded = append(changes.WorkflowsAdded, w)
		}
	}
	for w := range aWf {
		if !bWf[w] {
			changes.WorkflowsRemoved = append(changes.WorkflowsRemoved, w)
		}
	}

	sort.Strings(changes.SlasAdded)
	sort.Strings(changes.SlasRemoved)
	sort.Strings(changes.AssignmentsAdded)
	sort.Strings(changes.WorkflowsAdded)
	sort.Strings(changes.WorkflowsRemoved)
	return changes
}
