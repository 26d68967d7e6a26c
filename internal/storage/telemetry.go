// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"

	"github.com/loomhq/loom/internal/events"
	"github.com/loomhq/loom/internal/tenant"
)

// TelemetrySink persists domain events into the executionTelemetryEvents
// table. It implements events.Sink.
type TelemetrySink struct {
	store *Store
}

// NewTelemetrySink returns the storage-backed event sink.
func NewTelemetrySink(store *Store) *TelemetrySink {
	return &TelemetrySink{store: store}
}

func (t *TelemetrySink) Write(ctx context.Context, tc tenant.Context, ev events.Event) error {
	row := &ExecutionTelemetryEvent{
		ID:              NewID(),
		TenantID:        tc.TenantID,
		Type:            ev.Type,
		Status:          ev.Status,
		EntityID:        ev.EntityID,
		AffectedRecords: ev.AffectedRecords,
		Error:           ev.Error,
		OccurredAt:      ev.OccurredAt,
	}
	return t.store.db.WithContext(ctx).Create(row).Error
}

// ListTelemetryEvents returns the tenant's event rows oldest-first.
func (s *Store) ListTelemetryEvents(ctx context.Context, tc tenant.Context, limit int) ([]ExecutionTelemetryEvent, error) {
	q, err := s.scoped(tc)
	if err != nil {
		return nil, err
	}
	query := q.WithContext(ctx).Order("occurred_at asc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var out []ExecutionTelemetryEvent
	if err := query.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
