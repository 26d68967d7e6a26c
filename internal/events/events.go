// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package events is the append-only domain event stream for installs,
// promotions, and executions. Emission is fire-and-forget: failures are
// logged and swallowed, and no sink may block the caller beyond a single
// queued write.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/loomhq/loom/internal/tenant"
)

// Domain event types.
const (
	TypePackageInstalled       = "graph.package_installed"
	TypePackageInstallNoop     = "graph.package_install_noop"
	TypePackageInstallRejected = "graph.package_install_rejected"
	TypePromotionIntentCreated = "graph.promotion_intent_created"
	TypePromotionPreviewed     = "graph.promotion_intent_previewed"
	TypePromotionApproved      = "graph.promotion_intent_approved"
	TypePromotionExecuted      = "graph.promotion_intent_executed"
	TypePromotionRejected      = "graph.promotion_intent_rejected"
	TypePromotionNotifySent    = "graph.promotion_notification_sent"
	TypePromotionNotifyFailed  = "graph.promotion_notification_failed"
	TypePackageGenerated       = "vibe.package_generated"
	TypeVibePackageInstalled   = "vibe.package_installed"
	TypeExecutionStarted       = "execution_started"
	TypeExecutionCompleted     = "execution_completed"
	TypeExecutionFailed        = "execution_failed"
)

// Event statuses.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusNoop    = "noop"
)

// Event is a single domain event.
type Event struct {
	Type            string    `json:"type"`
	Status          string    `json:"status"`
	EntityID        string    `json:"entityId"`
	AffectedRecords int       `json:"affectedRecords,omitempty"`
	Error           string    `json:"error,omitempty"`
	OccurredAt      time.Time `json:"occurredAt"`
}

// Sink receives events. Implementations must tolerate concurrent writes.
type Sink interface {
	Write(ctx context.Context, tc tenant.Context, ev Event) error
}

// Emitter fans events out to its sinks through a bounded queue. A full
// queue drops the event with a warning rather than blocking the caller.
type Emitter struct {
	sinks  []Sink
	queue  chan envelope
	logger *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

type envelope struct {
	tc tenant.Context
	ev Event
}

const queueDepth = 256

// NewEmitter starts the delivery worker. Close must be called to drain it.
func NewEmitter(logger *slog.Logger, sinks ...Sink) *Emitter {
	e := &Emitter{
		sinks:  sinks,
		queue:  make(chan envelope, queueDepth),
		logger: logger.With("module", "events"),
		done:   make(chan struct{}),
	}
	go e.run()
	return e
}

// Emit enqueues the event. It never blocks and never returns an error;
// silent failure is disallowed, so drops are logged.
func (e *Emitter) Emit(tc tenant.Context, ev Event) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	select {
	case e.queue <- envelope{tc: tc, ev: ev}:
	default:
		e.logger.Warn("event queue full, dropping event", "type", ev.Type, "entity", ev.EntityID)
	}
}

// Close stops the worker after draining queued events.
func (e *Emitter) Close() {
	e.closeOnce.Do(func() {
		close(e.queue)
		<-e.done
	})
}

func (e *Emitter) run() {
	defer close(e.done)
	for env := range e.queue {
		for _, sink := range e.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := sink.Write(ctx, env.tc, env.ev); err != nil {
				e.logger.Warn("event sink write failed",
					"type", env.ev.Type, "entity", env.ev.EntityID, "error", err)
			}
			cancel()
		}
	}
}
