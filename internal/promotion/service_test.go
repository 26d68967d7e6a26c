// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package promotion

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomhq/loom/internal/events"
	"github.com/loomhq/loom/internal/metrics"
	"github.com/loomhq/loom/internal/storage"
	"github.com/loomhq/loom/internal/tenant"
)

type promoEnv struct {
	store   *storage.Store
	service *Service
	tc      tenant.Context
	project *storage.Project
	dev     *storage.Environment
	prod    *storage.Environment
}

func newPromoEnv(t *testing.T, prodMutator func(*storage.Environment)) *promoEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	store, err := storage.Open(":memory:", logger)
	require.NoError(t, err)

	emitter := events.NewEmitter(logger)
	t.Cleanup(emitter.Close)

	service := NewService(store, emitter, metrics.New(), NewNotifier(logger), logger)
	tc := tenant.New("tenant-a", tenant.SourceHeader).WithUser("promoter")
	ctx := context.Background()

	project, err := store.CreateProject(ctx, tc, "hr")
	require.NoError(t, err)

	dev, err := store.CreateEnvironment(ctx, tc, &storage.Environment{Name: "dev"})
	require.NoError(t, err)
	prodEnv := &storage.Environment{Name: "prod"}
	if prodMutator != nil {
		prodMutator(prodEnv)
	}
	prod, err := store.CreateEnvironment(ctx, tc, prodEnv)
	require.NoError(t, err)

	return &promoEnv{store: store, service: service, tc: tc, project: project, dev: dev, prod: prod}
}

func (env *promoEnv) seedDevInstall(t *testing.T, key, version, checksum string) {
	t.Helper()
	_, err := env.store.CreateEnvironmentPackageInstall(context.Background(), env.tc, &storage.EnvironmentPackageInstall{
		EnvironmentID: env.dev.ID,
		ProjectID:     env.project.ID,
		PackageKey:    key,
		Version:       version,
		Checksum:      checksum,
	})
	require.NoError(t, err)
}

func TestPromotionHappyPath(t *testing.T) {
	env := newPromoEnv(t, nil)
	ctx := context.Background()

	env.seedDevInstall(t, "hr.lite", "0.2.0", "aaa")
	env.seedDevInstall(t, "payroll", "1.0.0", "bbb")

	// payroll already matches in prod; only hr.lite should promote.
	_, err := env.store.CreateEnvironmentPackageInstall(ctx, env.tc, &storage.EnvironmentPackageInstall{
		EnvironmentID: env.prod.ID,
		ProjectID:     env.project.ID,
		PackageKey:    "payroll",
		Version:       "1.0.0",
		Checksum:      "bbb",
	})
	require.NoError(t, err)

	intent, err := env.service.CreateIntent(ctx, env.tc, env.project.ID, env.dev.ID, env.prod.ID, "promoter")
	require.NoError(t, err)
	assert.Equal(t, storage.PromotionDraft, intent.Status)

	intent, err = env.service.Preview(ctx, env.tc, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.PromotionPreviewed, intent.Status)
	require.NotNil(t, intent.Diff)

	// Re-preview is legal.
	intent, err = env.service.Preview(ctx, env.tc, intent.ID)
	require.NoError(t, err)

	intent, err = env.service.Approve(ctx, env.tc, intent.ID, "release-manager")
	require.NoError(t, err)
	assert.Equal(t, "release-manager", intent.ApprovedBy)
	assert.NotNil(t, intent.ApprovedAt)

	intent, err = env.service.Execute(ctx, env.tc, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.PromotionExecuted, intent.Status)
	assert.Equal(t, []any{"hr.lite"}, []any(intent.Result["promoted"].([]any)))
	assert.Equal(t, []any{"payroll"}, []any(intent.Result["skipped"].([]any)))

	promoted, err := env.store.GetLatestEnvironmentPackageInstall(ctx, env.tc, env.prod.ID, "hr.lite")
	require.NoError(t, err)
	assert.Equal(t, "aaa", promoted.Checksum)
}

func TestPromotionIllegalTransitions(t *testing.T) {
	env := newPromoEnv(t, nil)
	ctx := context.Background()

	intent, err := env.service.CreateIntent(ctx, env.tc, env.project.ID, env.dev.ID, env.prod.ID, "promoter")
	require.NoError(t, err)

	// draft cannot be approved or executed.
	_, err = env.service.Approve(ctx, env.tc, intent.ID, "rm")
	var terr *TransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, storage.PromotionDraft, terr.From)

	_, err = env.service.Execute(ctx, env.tc, intent.ID)
	require.ErrorAs(t, err, &terr)

	// Terminal states accept no further transitions.
	_, err = env.service.Reject(ctx, env.tc, intent.ID, "rm")
	require.NoError(t, err)
	_, err = env.service.Preview(ctx, env.tc, intent.ID)
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, storage.PromotionRejected, terr.From)
}

func TestPreviewNotifiesApprovalWebhook(t *testing.T) {
	var received atomic.Int32
	var lastPayload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		_ = json.NewDecoder(r.Body).Decode(&lastPayload)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	env := newPromoEnv(t, func(e *storage.Environment) {
		e.RequiresPromotionApproval = true
		e.PromotionWebhookURL = srv.URL
	})
	ctx := context.Background()
	env.seedDevInstall(t, "hr.lite", "0.2.0", "aaa")

	intent, err := env.service.CreateIntent(ctx, env.tc, env.project.ID, env.dev.ID, env.prod.ID, "promoter")
	require.NoError(t, err)

	intent, err = env.service.Preview(ctx, env.tc, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, "sent", intent.NotificationStatus)
	assert.EqualValues(t, 1, received.Load())
	assert.Equal(t, "promotion.approval_required", lastPayload["event"])
	assert.Equal(t, "dev", lastPayload["fromEnvironment"])
	assert.Equal(t, "prod", lastPayload["toEnvironment"])
}

func TestWebhookFailureDoesNotBlockPreview(t *testing.T) {
	env := newPromoEnv(t, func(e *storage.Environment) {
		e.RequiresPromotionApproval = true
		e.PromotionWebhookURL = "http://127.0.0.1:1/hooks"
	})
	ctx := context.Background()
	env.seedDevInstall(t, "hr.lite", "0.2.0", "aaa")

	intent, err := env.service.CreateIntent(ctx, env.tc, env.project.ID, env.dev.ID, env.prod.ID, "promoter")
	require.NoError(t, err)

	intent, err = env.service.Preview(ctx, env.tc, intent.ID)
	require.NoError(t, err, "webhook failure must not block the transition")
	assert.Equal(t, storage.PromotionPreviewed, intent.Status)
	assert.Equal(t, "failed", intent.NotificationStatus)
}

func TestCheckTransitionTable(t *testing.T) {
	legal := [][2]string{
		{storage.PromotionDraft, storage.PromotionPreviewed},
		{storage.PromotionDraft, storage.PromotionRejected},
		{storage.PromotionPreviewed, storage.PromotionPreviewed},
		{storage.PromotionPreviewed, storage.PromotionApproved},
		{storage.PromotionPreviewed, storage.PromotionRejected},
		{storage.PromotionApproved, storage.PromotionExecuted},
		{storage.PromotionApproved, storage.PromotionRejected},
	}
	for _, pair := range legal {
		assert.NoError(t, checkTransition(pair[0], pair[1]), "%s -> %s", pair[0], pair[1])
	}

	illegal := [][2]string{
		{storage.PromotionDraft, storage.PromotionApproved},
		{storage.PromotionDraft, storage.PromotionExecuted},
		{storage.PromotionPreviewed, storage.PromotionExecuted},
		{storage.PromotionApproved, storage.PromotionDraft},
		{storage.PromotionApproved, storage.PromotionPreviewed},
		{storage.PromotionExecuted, storage.PromotionRejected},
		{storage.PromotionExecuted, storage.PromotionDraft},
		{storage.PromotionRejected, storage.PromotionPreviewed},
	}
	for _, pair := range illegal {
		assert.Error(t, checkTransition(pair[0], pair[1]), "%s -> %s", pair[0], pair[1])
	}
}
