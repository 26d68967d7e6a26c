// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
	"log/slog"

	"github.com/loomhq/loom/internal/metrics"
	"github.com/loomhq/loom/internal/tenant"
)

// LogSink writes events as structured log lines.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink returns a sink logging at info level.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With("module", "events")}
}

func (s *LogSink) Write(_ context.Context, tc tenant.Context, ev Event) error {
	s.logger.Info("domain event",
		"type", ev.Type,
		"status", ev.Status,
		"entity", ev.EntityID,
		"tenant", tc.TenantID,
		"source", tc.Source,
		"affected", ev.AffectedRecords,
		"error", ev.Error,
	)
	return nil
}

// MetricsSink counts events by type and status.
type MetricsSink struct {
	metrics *metrics.Metrics
}

func NewMetricsSink(m *metrics.Metrics) *MetricsSink {
	return &MetricsSink{metrics: m}
}

func (s *MetricsSink) Write(_ context.Context, _ tenant.Context, ev Event) error {
	s.metrics.DomainEventsTotal.WithLabelValues(ev.Type, ev.Status).Inc()
	return nil
}
