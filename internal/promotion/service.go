// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package promotion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/loomhq/loom/internal/events"
	"github.com/loomhq/loom/internal/metrics"
	"github.com/loomhq/loom/internal/storage"
	"github.com/loomhq/loom/internal/tenant"
)

// Default environment slot names.
var DefaultEnvironments = []string{"dev", "test", "prod"}

// Service drives promotion intents through the state machine.
type Service struct {
	store    *storage.Store
	emitter  *events.Emitter
	metrics  *metrics.Metrics
	notifier *Notifier
	logger   *slog.Logger
}

// NewService builds the promotion service.
func NewService(store *storage.Store, emitter *events.Emitter, m *metrics.Metrics, notifier *Notifier, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		emitter:  emitter,
		metrics:  m,
		notifier: notifier,
		logger:   logger.With("module", "promotion"),
	}
}

// PackageDelta describes one package's fate in a promotion.
type PackageDelta struct {
	PackageKey  string `json:"packageKey"`
	Action      string `json:"action"` // "promote" or "skip"
	FromVersion string `json:"fromVersion,omitempty"`
	ToVersion   string `json:"toVersion,omitempty"`
}

// CreateIntent opens a draft promotion between two environments.
func (s *Service) CreateIntent(ctx context.Context, tc tenant.Context, projectID, fromEnvID, toEnvID, createdBy string) (*storage.PromotionIntent, error) {
	intent, err := s.store.CreatePromotionIntent(ctx, tc, &storage.PromotionIntent{
		ProjectID:         projectID,
		FromEnvironmentID: fromEnvID,
		ToEnvironmentID:   toEnvID,
		Status:            storage.PromotionDraft,
		CreatedBy:         createdBy,
	})
	if err != nil {
		return nil, err
	}

	s.metrics.PromotionsTotal.WithLabelValues(storage.PromotionDraft).Inc()
	s.emitter.Emit(tc, events.Event{
		Type:     events.TypePromotionIntentCreated,
		Status:   events.StatusSuccess,
		EntityID: intent.ID,
	})
	return intent, nil
}

// Preview computes the environment diff and attaches it to the intent. When
// the target requires approval and carries a webhook URL, the reviewer is
// notified best-effort; notification failure never blocks the transition.
func (s *Service) Preview(ctx context.Context, tc tenant.Context, intentID string) (*storage.PromotionIntent, error) {
	intent, err := s.store.GetPromotionIntent(ctx, tc, intentID)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(intent.Status, storage.PromotionPreviewed); err != nil {
		return nil, err
	}

	deltas, err := s.diffEnvironments(ctx, tc, intent.FromEnvironmentID, intent.ToEnvironmentID)
	if err != nil {
		return nil, err
	}

	intent.Status = storage.PromotionPreviewed
	intent.Diff = deltasToDoc(deltas)

	target, err := s.store.GetEnvironment(ctx, tc, intent.ToEnvironmentID)
	if err != nil {
		return nil, err
	}
	if target.RequiresPromotionApproval && target.PromotionWebhookURL != "" {
		source, err := s.store.GetEnvironment(ctx, tc, intent.FromEnvironmentID)
		if err != nil {
			return nil, err
		}
		payload := map[string]any{
			"event":           "promotion.approval_required",
			"intentId":        intent.ID,
			"projectId":       intent.ProjectID,
			"fromEnvironment": source.Name,
			"toEnvironment":   target.Name,
			"createdBy":       intent.CreatedBy,
			"diff":            map[string]any(intent.Diff),
			"timestamp":       time.Now().UTC().Format(time.RFC3339),
		}
		if err := s.notifier.Post(ctx, target.PromotionWebhookURL, payload); err != nil {
			s.logger.Warn("promotion approval notification failed",
				"intent", intent.ID, "error", err)
			intent.NotificationStatus = "failed"
			s.emitter.Emit(tc, events.Event{
				Type:     events.TypePromotionNotifyFailed,
				Status:   events.StatusFailure,
				EntityID: intent.ID,
				Error:    err.Error(),
			})
		} else {
			intent.NotificationStatus = "sent"
			s.emitter.Emit(tc, events.Event{
				Type:     events.TypePromotionNotifySent,
				Status:   events.StatusSuccess,
				EntityID: intent.ID,
			})
		}
	}

	if err := s.store.SavePromotionIntent(ctx, tc, intent); err != nil {
		return nil, err
	}

	s.metrics.PromotionsTotal.WithLabelValues(storage.PromotionPreviewed).Inc()
	s.emitter.Emit(tc, events.Event{
		Type:     events.TypePromotionPreviewed,
		Status:   events.StatusSuccess,
		EntityID: intent.ID,
	})
	return intent, nil
}

// Approve moves a previewed intent to approved.
func (s *Service) Approve(ctx context.Context, tc tenant.Context, intentID, approvedBy string) (*storage.PromotionIntent, error) {
	intent, err := s.store.GetPromotionIntent(ctx, tc, intentID)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(intent.Status, storage.PromotionApproved); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	intent.Status = storage.PromotionApproved
	intent.ApprovedBy = approvedBy
	intent.ApprovedAt = &now

	if err := s.store.SavePromotionIntent(ctx, tc, intent); err != nil {
		return nil, err
	}

	s.metrics.PromotionsTotal.WithLabelValues(storage.PromotionApproved).Inc()
	s.emitter.Emit(tc, events.Event{
		Type:     events.TypePromotionApproved,
		Status:   events.StatusSuccess,
		EntityID: intent.ID,
	})
	return intent, nil
}

// Reject terminally rejects an intent from any non-terminal state.
func (s *Service) Reject(ctx context.Context, tc tenant.Context, intentID, rejectedBy string) (*storage.PromotionIntent, error) {
	intent, err := s.store.GetPromotionIntent(ctx, tc, intentID)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(intent.Status, storage.PromotionRejected); err != nil {
		return nil, err
	}

	intent.Status = storage.PromotionRejected
	intent.Result = storage.JSONMap{"rejectedBy": rejectedBy}

	if err := s.store.SavePromotionIntent(ctx, tc, intent); err != nil {
		return nil, err
	}

	s.metrics.PromotionsTotal.WithLabelValues(storage.PromotionRejected).Inc()
	s.emitter.Emit(tc, events.Event{
		Type:     events.TypePromotionRejected,
		Status:   events.StatusSuccess,
		EntityID: intent.ID,
	})
	return intent, nil
}

// Execute promotes the package set from source to target, recording the
// promoted and skipped package keys on the intent.
func (s *Service) Execute(ctx context.Context, tc tenant.Context, intentID string) (*storage.PromotionIntent, error) {
	intent, err := s.store.GetPromotionIntent(ctx, tc, intentID)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(intent.Status, storage.PromotionExecuted); err != nil {
		return nil, err
	}

	sourceInstalls, err := s.store.ListCurrentEnvironmentInstalls(ctx, tc, intent.FromEnvironmentID)
	if err != nil {
		return nil, err
	}
	deltas, err := s.diffEnvironments(ctx, tc, intent.FromEnvironmentID, intent.ToEnvironmentID)
	if err != nil {
		return nil, err
	}

	byKey := map[string]storage.EnvironmentPackageInstall{}
	for _, row := range sourceInstalls {
		byKey[row.PackageKey] = row
	}

	var promoted, skipped []string
	for _, delta := range deltas {
		if delta.Action != "promote" {
			skipped = append(skipped, delta.PackageKey)
			continue
		}
		source := byKey[delta.PackageKey]
		_, err := s.store.CreateEnvironmentPackageInstall(ctx, tc, &storage.EnvironmentPackageInstall{
			EnvironmentID:   intent.ToEnvironmentID,
			ProjectID:       source.ProjectID,
			PackageKey:      source.PackageKey,
			Version:         source.Version,
			Checksum:        source.Checksum,
			PackageContents: source.PackageContents,
			InstalledBy:     intent.ApprovedBy,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to promote package %q: %w", delta.PackageKey, err)
		}
		promoted = append(promoted, delta.PackageKey)
	}

	intent.Status = storage.PromotionExecuted
	intent.Result = storage.JSONMap{
		"promoted": toAny(promoted),
		"skipped":  toAny(skipped),
	}
	if err := s.store.SavePromotionIntent(ctx, tc, intent); err != nil {
		return nil, err
	}

	target, err := s.store.GetEnvironment(ctx, tc, intent.ToEnvironmentID)
	if err == nil && target.PromotionWebhookURL != "" {
		source, serr := s.store.GetEnvironment(ctx, tc, intent.FromEnvironmentID)
		if serr == nil {
			payload := map[string]any{
				"event":           "promotion.executed",
				"intentId":        intent.ID,
				"projectId":       intent.ProjectID,
				"fromEnvironment": source.Name,
				"toEnvironment":   target.Name,
				"promoted":        len(promoted),
				"skipped":         len(skipped),
				"timestamp":       time.Now().UTC().Format(time.RFC3339),
			}
			if err := s.notifier.Post(ctx, target.PromotionWebhookURL, payload); err != nil {
				s.logger.Warn("promotion executed notification failed",
					"intent", intent.ID, "error", err)
			}
		}
	}

	s.metrics.PromotionsTotal.WithLabelValues(storage.PromotionExecuted).Inc()
	s.emitter.Emit(tc, events.Event{
		Type:            events.TypePromotionExecuted,
		Status:          events.StatusSuccess,
		EntityID:        intent.ID,
		AffectedRecords: len(promoted),
	})
	s.logger.Info("promotion executed",
		"intent", intent.ID, "promoted", len(promoted), "skipped", len(skipped))
	return intent, nil
}

// diffEnvironments computes per-package deltas between the current install
// sets of two environments.
func (s *Service) diffEnvironments(ctx context.Context, tc tenant.Context, fromEnvID, toEnvID string) ([]PackageDelta, error) {
	sourceRows, err := s.store.ListCurrentEnvironmentInstalls(ctx, tc, fromEnvID)
	if err != nil {
		return nil, err
	}
	targetRows, err := s.store.ListCurrentEnvironmentInstalls(ctx, tc, toEnvID)
	if err != nil {
		return nil, err
	}

	targetByKey := map[string]storage.EnvironmentPackageInstall{}
	for _, row := range targetRows {
		targetByKey[row.PackageKey] = row
	}

	deltas := make([]PackageDelta, 0, len(sourceRows))
	for _, source := range sourceRows {
		target, present := targetByKey[source.PackageKey]
		if present && target.Checksum == source.Checksum {
			deltas = append(deltas, PackageDelta{
				PackageKey:  source.PackageKey,
				Action:      "skip",
				FromVersion: source.Version,
				ToVersion:   target.Version,
			})
			continue
		}
		delta := PackageDelta{
			PackageKey:  source.PackageKey,
			Action:      "promote",
			FromVersion: source.Version,
		}
		if present {
			delta.ToVersion = target.Version
		}
		deltas = append(deltas, delta)
	}
	return deltas, nil
}

func deltasToDoc(deltas []PackageDelta) storage.JSONMap {
	items := make([]any, 0, len(deltas))
	for _, d := range deltas {
		items = append(items, map[string]any{
			"packageKey":  d.PackageKey,
			"action":      d.Action,
			"fromVersion": d.FromVersion,
			"toVersion":   d.ToVersion,
		})
	}
	return storage.JSONMap{"packages": items}
}

func toAny(in []string) []any {
	out := make([]any, 0, len(in))
	for _, s := range in {
		out = append(out, s)
	}
	return out
}
