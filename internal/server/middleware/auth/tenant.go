// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package auth resolves the tenant identity at request ingress: a signed
// JWT bearer token when configured, with an X-Tenant-ID header fallback for
// internal deployments running without an identity provider.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/loomhq/loom/internal/tenant"
)

// Header names.
const (
	HeaderTenantID = "X-Tenant-ID"
	HeaderUserID   = "X-User-ID"
)

// Config controls tenant resolution.
type Config struct {
	// JWTSecret enables bearer-token resolution when non-empty (HS256).
	JWTSecret string `koanf:"jwt_secret"`
	// AllowHeaderFallback admits the X-Tenant-ID header when no bearer
	// token is presented.
	AllowHeaderFallback bool `koanf:"allow_header_fallback"`
}

type contextKey struct{}

var tenantKey = contextKey{}

// FromContext retrieves the resolved tenant context. ok is false when the
// request carried no tenant identity.
func FromContext(ctx context.Context) (tenant.Context, bool) {
	tc, ok := ctx.Value(tenantKey).(tenant.Context)
	return tc, ok && tc.TenantID != ""
}

// WithTenant attaches a tenant context; exported for handler tests.
func WithTenant(ctx context.Context, tc tenant.Context) context.Context {
	return context.WithValue(ctx, tenantKey, tc)
}

// Middleware resolves the tenant identity and stores it on the request
// context. Requests without a resolvable tenant pass through; handlers that
// require one reject them.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tc, ok := resolve(cfg, r); ok {
				r = r.WithContext(WithTenant(r.Context(), tc))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func resolve(cfg Config, r *http.Request) (tenant.Context, bool) {
	if cfg.JWTSecret != "" {
		if raw, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); found {
			if tc, ok := fromToken(cfg.JWTSecret, raw); ok {
				return tc, true
			}
		}
	}

	if cfg.AllowHeaderFallback {
		if id := strings.TrimSpace(r.Header.Get(HeaderTenantID)); id != "" {
			tc := tenant.New(id, tenant.SourceHeader)
			if user := r.Header.Get(HeaderUserID); user != "" {
				tc = tc.WithUser(user)
			}
			return tc, true
		}
	}

	return tenant.Context{}, false
}

// claims is the expected token shape.
type claims struct {
	TenantID string `json:"tenant_id"`
	AgentID  string `json:"agent_id,omitempty"`
	jwt.RegisteredClaims
}

func fromToken(secret, raw string) (tenant.Context, bool) {
	var c claims
	token, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid || c.TenantID == "" {
		return tenant.Context{}, false
	}

	tc := tenant.New(c.TenantID, tenant.SourceHeader).WithUser(c.Subject)
	if c.AgentID != "" {
		tc = tc.WithAgent(c.AgentID)
	}
	return tc, true
}
