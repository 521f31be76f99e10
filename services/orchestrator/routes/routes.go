// Copyright (C) 2025 Parity QA (maintainers@parityqa.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package routes wires the validation API onto a gin engine.
package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"

	"github.com/parityqa/parity/services/orchestrator/handlers"
	"github.com/parityqa/parity/services/orchestrator/middleware"
	"github.com/parityqa/parity/services/orchestrator/observability"
)

// Options configures route-level middleware.
type Options struct {
	// JWTSecret enables bearer auth on /api and /ws. Empty runs open.
	JWTSecret []byte

	// RateRPS/RateBurst bound per-tenant request rates. Zero disables
	// the limiter.
	RateRPS   rate.Limit
	RateBurst int

	// Metrics, when set, records per-route request counters.
	Metrics *observability.ValidationMetrics
}

// SetupRoutes registers every endpoint of the validation API.
func SetupRoutes(router *gin.Engine, deps handlers.Deps, opts Options) {
	router.Use(otelgin.Middleware("parity-orchestrator"))
	if opts.Metrics != nil {
		router.Use(requestMetrics(opts.Metrics))
	}

	router.GET("/health", handlers.HealthCheckHandler(deps))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authed := []gin.HandlerFunc{middleware.Auth(opts.JWTSecret)}
	if opts.RateRPS > 0 {
		authed = append(authed, middleware.RateLimit(opts.RateRPS, opts.RateBurst))
	}

	api := router.Group("/api", authed...)
	{
		api.POST("/validate", handlers.SubmitValidation(deps))
		api.GET("/validate", handlers.ListValidations(deps))
		api.POST("/validate/hybrid", handlers.SubmitHybrid(deps))
		api.GET("/validate/:id/status", handlers.GetStatus(deps))
		api.GET("/validate/:id/result", handlers.GetResult(deps))
		api.GET("/validate/:id/report", handlers.GetReport(deps))
		api.GET("/validate/:id/logs", handlers.GetLogs(deps))
		api.DELETE("/validate/:id", handlers.CancelOrDelete(deps))

		api.POST("/behavioral/validate", handlers.SubmitBehavioral(deps))

		api.GET("/technologies", handlers.ListTechnologies(deps))
		api.GET("/capabilities", handlers.GetCapabilities(deps))
		api.POST("/compatibility/check", handlers.CheckCompatibility(deps))
	}

	ws := router.Group("/ws", middleware.Auth(opts.JWTSecret))
	{
		ws.GET("/validate/:id/progress", handlers.ProgressWebSocket(deps))
	}
}

// requestMetrics counts requests per registered route and status class.
func requestMetrics(metrics *observability.ValidationMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.RecordRequest(route, c.Writer.Status())
	}
}
