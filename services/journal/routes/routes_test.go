// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sergii-nosachenko/retrospecta/pkg/extensions"
	"github.com/sergii-nosachenko/retrospecta/services/journal/middleware"
	"github.com/sergii-nosachenko/retrospecta/services/journal/observability"
	"github.com/sergii-nosachenko/retrospecta/services/journal/publisher"
	"github.com/sergii-nosachenko/retrospecta/services/journal/store/memory"
)

// ============================================================================
// Test Setup
// ============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(t *testing.T, opts extensions.ServiceOptions, limiter *middleware.IdentityLimiter) *gin.Engine {
	t.Helper()
	reg := prometheus.NewRegistry()
	st := memory.New(nil)
	router := gin.New()
	SetupRoutes(router, Dependencies{
		Store:     st,
		Publisher: publisher.New(st, publisher.Config{}),
		Options:   opts,
		Limiter:   limiter,
		Metrics:   observability.NewMetrics(reg),
		Gatherer:  reg,
		Version:   "test",
	})
	return router
}

// ============================================================================
// SetupRoutes Tests
// ============================================================================

func TestSetupRoutes_RegistersSurface(t *testing.T) {
	router := newRouter(t, extensions.DefaultOptions(), nil)

	expected := []struct {
		method string
		path   string
	}{
		{"GET", "/health"},
		{"GET", "/metrics"},
		{"GET", "/v1/decisions/stream"},
		{"GET", "/v1/decisions"},
		{"POST", "/v1/decisions"},
		{"POST", "/v1/decisions/:id/reanalyze"},
		{"POST", "/v1/decisions/:id/read"},
		{"DELETE", "/v1/decisions/:id"},
	}

	routes := router.Routes()
	for _, want := range expected {
		found := false
		for _, r := range routes {
			if r.Method == want.method && r.Path == want.path {
				found = true
				break
			}
		}
		assert.True(t, found, "route %s %s not registered", want.method, want.path)
	}
}

func TestSetupRoutes_MetricsExposed(t *testing.T) {
	router := newRouter(t, extensions.DefaultOptions(), nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "retrospecta_stream_subscriptions_active")
}

func TestSetupRoutes_V1RequiresAuth(t *testing.T) {
	provider, err := extensions.NewStaticTokenProvider(map[string]string{"secret": "alice"})
	require.NoError(t, err)
	router := newRouter(t, extensions.DefaultOptions().WithAuth(provider), nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/decisions", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/decisions", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	// Health stays public.
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSetupRoutes_StreamRateLimited(t *testing.T) {
	limiter := middleware.NewIdentityLimiter(middleware.RateLimitConfig{PerSecond: 0.001, Burst: 1})
	require.True(t, limiter.Allow(extensions.LocalUserID))
	router := newRouter(t, extensions.DefaultOptions(), limiter)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/decisions/stream", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}
