// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sergii-nosachenko/retrospecta/pkg/extensions"
	"github.com/sergii-nosachenko/retrospecta/services/journal/handlers"
	"github.com/sergii-nosachenko/retrospecta/services/journal/middleware"
	"github.com/sergii-nosachenko/retrospecta/services/journal/observability"
	"github.com/sergii-nosachenko/retrospecta/services/journal/publisher"
	"github.com/sergii-nosachenko/retrospecta/services/journal/store"
)

// Dependencies are the collaborators the routes are bound to.
type Dependencies struct {
	Store     store.Store
	Publisher *publisher.Publisher
	Options   extensions.ServiceOptions

	// Limiter guards stream subscriptions. Nil disables rate limiting.
	Limiter *middleware.IdentityLimiter

	// Metrics may be nil.
	Metrics *observability.Metrics

	// Gatherer backs /metrics. Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer

	Clock   clock.Clock
	Version string
}

// SetupRoutes registers the journal HTTP surface on router.
//
//	GET    /health
//	GET    /metrics
//	GET    /v1/decisions/stream
//	GET    /v1/decisions
//	POST   /v1/decisions
//	POST   /v1/decisions/:id/reanalyze
//	POST   /v1/decisions/:id/read
//	DELETE /v1/decisions/:id
func SetupRoutes(router *gin.Engine, deps Dependencies) {
	opts := deps.Options.WithDefaults()
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	router.GET("/health", handlers.HandleHealth(deps.Version))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	decisions := handlers.NewDecisionHandler(deps.Store, opts.AuditLogger, deps.Clock)

	// API version 1 group
	v1 := router.Group("/v1", middleware.AuthMiddleware(opts.AuthProvider))
	{
		stream := []gin.HandlerFunc{handlers.StreamDecisions(deps.Publisher)}
		if deps.Limiter != nil {
			stream = append([]gin.HandlerFunc{middleware.RateLimitMiddleware(deps.Limiter, deps.Metrics)}, stream...)
		}
		v1.GET("/decisions/stream", stream...)

		v1.GET("/decisions", decisions.List)
		v1.POST("/decisions", decisions.Create)
		v1.POST("/decisions/:id/reanalyze", decisions.Reanalyze)
		v1.POST("/decisions/:id/read", decisions.MarkRead)
		v1.DELETE("/decisions/:id", decisions.Delete)
	}
}
