// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomhq/loom/internal/tenant"
)

func resolveThrough(t *testing.T, cfg Config, decorate func(*http.Request)) (tenant.Context, bool) {
	t.Helper()
	var got tenant.Context
	var ok bool
	handler := Middleware(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok = FromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/projects", nil)
	decorate(req)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	return got, ok
}

func TestHeaderFallback(t *testing.T) {
	cfg := Config{AllowHeaderFallback: true}

	tc, ok := resolveThrough(t, cfg, func(r *http.Request) {
		r.Header.Set(HeaderTenantID, "tenant-a")
		r.Header.Set(HeaderUserID, "user-1")
	})
	require.True(t, ok)
	assert.Equal(t, "tenant-a", tc.TenantID)
	assert.Equal(t, "user-1", tc.UserID)
	assert.Equal(t, tenant.SourceHeader, tc.Source)
}

func TestHeaderFallbackDisabled(t *testing.T) {
	_, ok := resolveThrough(t, Config{}, func(r *http.Request) {
		r.Header.Set(HeaderTenantID, "tenant-a")
	})
	assert.False(t, ok)
}

func TestJWTResolution(t *testing.T) {
	secret := "test-secret"
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		TenantID: "tenant-a",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-7",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)

	tc, ok := resolveThrough(t, Config{JWTSecret: secret}, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+signed)
	})
	require.True(t, ok)
	assert.Equal(t, "tenant-a", tc.TenantID)
	assert.Equal(t, "user-7", tc.UserID)
}

func TestJWTBadSignatureRejected(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		TenantID:         "tenant-a",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	})
	signed, err := token.SignedString([]byte("wrong-secret"))
	require.NoError(t, err)

	_, ok := resolveThrough(t, Config{JWTSecret: "right-secret"}, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+signed)
	})
	assert.False(t, ok)
}
