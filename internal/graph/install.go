// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Masterminds/semver/v3"
	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/loomhq/loom/internal/events"
	"github.com/loomhq/loom/internal/metrics"
	"github.com/loomhq/loom/internal/storage"
	"github.com/loomhq/loom/internal/tenant"
	"github.com/loomhq/loom/internal/workflow"
)

// Engine validates, orders, applies, idempotent-checks and ownership-guards
// graph packages against a tenant's schema graph.
type Engine struct {
	store   *storage.Store
	emitter *events.Emitter
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewEngine builds the install engine.
func NewEngine(store *storage.Store, emitter *events.Emitter, m *metrics.Metrics, logger *slog.Logger) *Engine {
	return &Engine{
		store:   store,
		emitter: emitter,
		metrics: m,
		logger:  logger.With("module", "graph"),
	}
}

// InstallOptions tune a single install call.
type InstallOptions struct {
	PreviewOnly              bool
	AllowDowngrade           bool
	AllowForeignTypeMutation bool
}

// InstallResult is the uniform outcome of an install attempt.
type InstallResult struct {
	PackageKey       string            `json:"packageKey"`
	Success          bool              `json:"success"`
	Noop             bool              `json:"noop,omitempty"`
	Rejected         bool              `json:"rejected,omitempty"`
	Reason           string            `json:"reason,omitempty"`
	ValidationErrors []ValidationError `json:"validationErrors,omitempty"`
	AppliedCount     int               `json:"appliedCount"`
	Checksum         string            `json:"checksum,omitempty"`
	Diff             *Diff             `json:"diff,omitempty"`
}

// InstallGraphPackage runs the install pipeline: checksum, idempotency,
// version guard, ownership check, projection + validation, optional preview
// exit, topologically ordered apply, binding apply, audit.
func (e *Engine) InstallGraphPackage(ctx context.Context, tc tenant.Context, projectID string, pkg *Package, opts InstallOptions) (*InstallResult, error) {
	if err := pkg.Validate(); err != nil {
		return nil, err
	}

	checksum, err := Checksum(pkg)
	if err != nil {
		return nil, err
	}

	prior, err := e.store.GetLatestGraphPackageInstall(ctx, tc, projectID, pkg.PackageKey)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	if prior != nil && prior.Checksum == checksum {
		e.logger.Info("package install is a noop",
			"project", projectID, "package", pkg.PackageKey, "checksum", checksum)
		e.metrics.PackageInstallsTotal.WithLabelValues("noop").Inc()
		e.emitter.Emit(tc, events.Event{
			Type:     events.TypePackageInstallNoop,
			Status:   events.StatusNoop,
			EntityID: pkg.PackageKey,
		})
		return &InstallResult{
			PackageKey: pkg.PackageKey,
			Success:    true,
			Noop:       true,
			Checksum:   checksum,
			Reason:     fmt.Sprintf("package %s@%s already installed with identical contents", pkg.PackageKey, pkg.Version),
		}, nil
	}

	if prior != nil && !opts.AllowDowngrade {
		if rejected, reason := versionRegresses(pkg.Version, prior.Version); rejected {
			e.logger.Warn("package install rejected",
				"project", projectID, "package", pkg.PackageKey, "reason", reason)
			e.metrics.PackageInstallsTotal.WithLabelValues("rejected").Inc()
			e.emitter.Emit(tc, events.Event{
				Type:     events.TypePackageInstallRejected,
				Status:   events.StatusFailure,
				EntityID: pkg.PackageKey,
				Error:    reason,
			})
			return &InstallResult{
				PackageKey: pkg.PackageKey,
				Rejected:   true,
				Reason:     reason,
				Checksum:   checksum,
			}, nil
		}
	}

	if !opts.AllowForeignTypeMutation {
		conflicts, err := e.ownershipConflicts(ctx, tc, projectID, pkg)
		if err != nil {
			return nil, err
		}
		if len(conflicts) > 0 {
			e.metrics.PackageInstallsTotal.WithLabelValues("conflict").Inc()
			return &InstallResult{
				PackageKey:       pkg.PackageKey,
				ValidationErrors: conflicts,
				Checksum:         checksum,
			}, nil
		}
	}

	tenantWide, err := e.BuildGraphSnapshot(ctx, tc)
	if err != nil {
		return nil, err
	}
	current := filterProjectSnapshot(tenantWide, projectID)
	projected := ProjectPackageOntoSnapshot(current, pkg, projectID, tc.TenantID)
	if verrs := ValidateProjection(projected, tenantWide, pkg, projectID); len(verrs) > 0 {
		e.metrics.PackageInstallsTotal.WithLabelValues("invalid").Inc()
		return &InstallResult{
			PackageKey:       pkg.PackageKey,
			ValidationErrors: verrs,
			Checksum:         checksum,
		}, nil
	}

	diff := DiffSnapshots(current, projected)

	if opts.PreviewOnly {
		return &InstallResult{
			PackageKey: pkg.PackageKey,
			Success:    true,
			Checksum:   checksum,
			Diff:       diff,
		}, nil
	}

	applied, err := e.apply(ctx, tc, projectID, pkg)
	if err != nil {
		e.metrics.PackageInstallsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	if err := e.audit(ctx, tc, projectID, pkg, checksum, diff); err != nil {
		return nil, err
	}

	e.metrics.PackageInstallsTotal.WithLabelValues("installed").Inc()
	e.emitter.Emit(tc, events.Event{
		Type:            events.TypePackageInstalled,
		Status:          events.StatusSuccess,
		EntityID:        pkg.PackageKey,
		AffectedRecords: applied,
	})

	return &InstallResult{
		PackageKey:   pkg.PackageKey,
		Success:      true,
		AppliedCount: applied,
		Checksum:     checksum,
		Diff:         diff,
	}, nil
}

// InstallGraphPackages installs a batch in dependency order, aborting on the
// first failure and returning the partial result list.
func (e *Engine) InstallGraphPackages(ctx context.Context, tc tenant.Context, projectID string, pkgs []*Package, opts InstallOptions) ([]*InstallResult, error) {
	ordered, err := orderPackages(pkgs)
	if err != nil {
		return nil, err
	}

	results := make([]*InstallResult, 0, len(ordered))
	for _, pkg := range ordered {
		result, err := e.InstallGraphPackage(ctx, tc, projectID, pkg, opts)
		if err != nil {
			return results, err
		}
		results = append(results, result)
		if !result.Success {
			return results, nil
		}
	}
	return results, nil
}

// versionRegresses reports whether next is strictly lower than installed.
func versionRegresses(next, installed string) (bool, string) {
	nv, err := semver.NewVersion(next)
	if err != nil {
		return false, ""
	}
	iv, err := semver.NewVersion(installed)
	if err != nil {
		return false, ""
	}
	if nv.LessThan(iv) {
		return true, fmt.Sprintf(
			"version %s is lower than installed %s; pass allowDowngrade to override", next, installed)
	}
	return false, ""
}

// ownershipConflicts scans prior install rows' package contents to find the
// owning package of every record type and binding target the new package
// touches. The first package to declare a key owns it.
func (e *Engine) ownershipConflicts(ctx context.Context, tc tenant.Context, projectID string, pkg *Package) ([]ValidationError, error) {
	installs, err := e.store.ListGraphPackageInstalls(ctx, tc, projectID)
	if err != nil {
		return nil, err
	}

	owners := map[string]string{}
	for _, row := range installs {
		if row.PackageKey == pkg.PackageKey {
			continue
		}
		for _, key := range recordTypeKeysOf(row.PackageContents) {
			if _, claimed := owners[key]; !claimed {
				owners[key] = row.PackageKey
			}
		}
	}

	var conflicts []ValidationError
	for _, rt := range pkg.RecordTypes {
		if owner, foreign := owners[rt.Key]; foreign {
			conflicts = append(conflicts, ValidationError{
				Code: CodePackageOwnershipConflict,
				Message: fmt.Sprintf(
					"record type %q is owned by package %q; pass allowForeignTypeMutation to override",
					rt.Key, owner),
			})
		}
	}

	bindingTargets := map[string]string{}
	for _, policy := range pkg.SlaPolicies {
		bindingTargets[policy.RecordTypeKey] = "sla policy"
	}
	for _, rule := range pkg.AssignmentRules {
		bindingTargets[rule.RecordTypeKey] = "assignment rule"
	}
	for target, kind := range bindingTargets {
		if owner, foreign := owners[target]; foreign {
			conflicts = append(conflicts, ValidationError{
				Code: CodePackageBindingOwnershipConflict,
				Message: fmt.Sprintf(
					"%s targets record type %q owned by package %q; pass allowForeignTypeMutation to override",
					kind, target, owner),
			})
		}
	}

	return conflicts, nil
}

func recordTypeKeysOf(contents storage.JSONMap) []string {
	raw, ok := contents["recordTypes"].([]any)
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			if key, ok := m["key"].(string); ok {
				keys = append(keys, key)
			}
		}
	}
	return keys
}

// apply writes the package's record types in topological order, then its
// bindings, returning the applied count.
func (e *Engine) apply(ctx context.Context, tc tenant.Context, projectID string, pkg *Package) (int, error) {
	ordered, err := orderRecordTypes(pkg.RecordTypes)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, rt := range ordered {
		existing, err := e.store.GetRecordTypeByKey(ctx, tc, projectID, rt.Key)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return applied, err
		}

		if existing == nil {
			_, err := e.store.CreateRecordType(ctx, tc, &storage.RecordType{
				ProjectID: projectID,
				Key:       rt.Key,
				Name:      rt.Name,
				BaseType:  rt.BaseType,
				Schema:    schemaFromFields(rt.Fields),
			})
			if err != nil {
				return applied, fmt.Errorf("failed to create record type %q: %w", rt.Key, err)
			}
			applied++
			continue
		}

		merged, changed, err := mergeSchema(existing.Schema, rt.Fields)
		if err != nil {
			return applied, fmt.Errorf("failed to merge schema of %q: %w", rt.Key, err)
		}
		if !changed {
			continue
		}
		if err := e.store.UpdateRecordTypeSchema(ctx, tc, existing.ID, merged); err != nil {
			return applied, fmt.Errorf("failed to update record type %q: %w", rt.Key, err)
		}
		applied++
	}

	bindingApplied, err := e.applyBindings(ctx, tc, projectID, pkg)
	if err != nil {
		return applied, err
	}
	return applied + bindingApplied, nil
}

// mergeSchema overlays package fields onto the stored schema via a JSON
// merge patch, reporting whether anything changed.
func mergeSchema(schema storage.JSONMap, incoming []Field) (storage.JSONMap, bool, error) {
	existingFields := fieldsFromSchema(schema)
	mergedFields := mergeFields(existingFields, incoming)

	if len(mergedFields) == len(existingFields) {
		same := true
		for i := range mergedFields {
			if mergedFields[i] != existingFields[i] {
				same = false
				break
			}
		}
		if same {
			return schema, false, nil
		}
	}

	original, err := json.Marshal(map[string]any(schema))
	if err != nil {
		return nil, false, err
	}
	patch, err := json.Marshal(map[string]any(schemaFromFields(mergedFields)))
	if err != nil {
		return nil, false, err
	}
	mergedRaw, err := jsonpatch.MergePatch(original, patch)
	if err != nil {
		return nil, false, err
	}

	var merged storage.JSONMap
	if err := json.Unmarshal(mergedRaw, &merged); err != nil {
		return nil, false, err
	}
	return merged, true, nil
}

// applyBindings attaches SLA policies, assignment rules and workflows.
func (e *Engine) applyBindings(ctx context.Context, tc tenant.Context, projectID string, pkg *Package) (int, error) {
	applied := 0

	for _, policy := range pkg.SlaPolicies {
		rt, err := e.store.GetRecordTypeByKey(ctx, tc, projectID, policy.RecordTypeKey)
		if err != nil {
			return applied, fmt.Errorf("sla target %q: %w", policy.RecordTypeKey, err)
		}
		cfg := storage.JSONMap{"durationMinutes": policy.DurationMinutes}
		if err := e.store.UpdateRecordTypeSlaConfig(ctx, tc, rt.ID, cfg); err != nil {
			return applied, err
		}
		applied++
	}

	for _, rule := range pkg.AssignmentRules {
		rt, err := e.store.GetRecordTypeByKey(ctx, tc, projectID, rule.RecordTypeKey)
		if err != nil {
			return applied, fmt.Errorf("assignment target %q: %w", rule.RecordTypeKey, err)
		}
		cfg := storage.JSONMap{"strategyType": rule.StrategyType}
		if rule.Config != nil {
			cfg["config"] = map[string]any(rule.Config)
		}
		if err := e.store.UpdateRecordTypeAssignmentConfig(ctx, tc, rt.ID, cfg); err != nil {
			return applied, err
		}
		applied++
	}

	for _, wf := range pkg.Workflows {
		created, err := e.installWorkflow(ctx, tc, wf)
		if err != nil {
			return applied, err
		}
		if created {
			applied++
		}
	}

	return applied, nil
}

// installWorkflow creates and activates a packaged workflow unless one with
// the same name already exists in the tenant.
func (e *Engine) installWorkflow(ctx context.Context, tc tenant.Context, wf PackageWorkflow) (bool, error) {
	if _, err := e.store.GetWorkflowDefinitionByName(ctx, tc, wf.Name); err == nil {
		e.logger.Debug("workflow already exists, skipping", "workflow", wf.Name)
		return false, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return false, err
	}

	def, err := e.store.CreateWorkflowDefinition(ctx, tc, &storage.WorkflowDefinition{
		Name:          wf.Name,
		TriggerType:   wf.TriggerType,
		TriggerConfig: storage.JSONMap(wf.TriggerConfig),
	})
	if err != nil {
		return false, err
	}

	if _, err := e.store.CreateWorkflowTrigger(ctx, tc, &storage.WorkflowTrigger{
		WorkflowDefinitionID: def.ID,
		TriggerType:          wf.TriggerType,
		Config:               storage.JSONMap(wf.TriggerConfig),
	}); err != nil {
		return false, err
	}

	steps := make([]storage.WorkflowStep, 0, len(wf.Steps))
	for i, declared := range wf.Steps {
		orderIndex := declared.OrderIndex
		if orderIndex == 0 && i > 0 {
			orderIndex = i
		}
		step, err := e.store.CreateWorkflowStep(ctx, tc, &storage.WorkflowStep{
			WorkflowDefinitionID: def.ID,
			OrderIndex:           orderIndex,
			StepType:             declared.StepType,
			Config:               storage.JSONMap(declared.Config),
		})
		if err != nil {
			return false, err
		}
		steps = append(steps, *step)
	}

	if err := workflow.ValidateStepsForActivation(steps); err != nil {
		return false, fmt.Errorf("packaged workflow %q failed activation validation: %w", wf.Name, err)
	}
	if err := e.store.UpdateWorkflowDefinitionStatus(ctx, tc, def.ID, storage.WorkflowStatusActive); err != nil {
		return false, err
	}
	return true, nil
}

// audit appends the install audit row carrying checksum, diff and the full
// package contents.
func (e *Engine) audit(ctx context.Context, tc tenant.Context, projectID string, pkg *Package, checksum string, diff *Diff) error {
	contents, err := packageContents(pkg)
	if err != nil {
		return err
	}
	diffDoc, err := toJSONMap(diff)
	if err != nil {
		return err
	}

	installedBy := tc.UserID
	if installedBy == "" {
		installedBy = tc.AgentID
	}

	_, err = e.store.CreateGraphPackageInstall(ctx, tc, &storage.GraphPackageInstall{
		ProjectID:       projectID,
		PackageKey:      pkg.PackageKey,
		Version:         pkg.Version,
		Checksum:        checksum,
		Diff:            diffDoc,
		PackageContents: contents,
		InstalledBy:     installedBy,
	})
	return err
}

func packageContents(pkg *Package) (storage.JSONMap, error) {
	return toJSONMap(pkg)
}

func toJSONMap(v any) (storage.JSONMap, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out storage.JSONMap
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
