// Copyright (C) 2026 Health Intersections Pty Ltd
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package routes wires the HTTP surface: routing, request-ID and access
// log middleware, and the /metrics endpoint.
package routes

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/HealthIntersections/xig-server/pkg/logging"
	"github.com/HealthIntersections/xig-server/services/xig/handlers"
	"github.com/HealthIntersections/xig-server/services/xig/observability"
)

// SetupRoutes registers all routes and middleware on the router.
// Metrics may be nil, in which case only the access log middleware runs.
func SetupRoutes(router *gin.Engine, h *handlers.Handlers, metrics *observability.ServerMetrics, logger *logging.Logger) {
	if logger == nil {
		logger = logging.Default()
	}

	router.Use(RequestIDMiddleware())
	router.Use(AccessLogMiddleware(logger, metrics))

	router.GET("/health", h.HandleHealth)
	router.GET("/status", h.HandleStatus)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		api.GET("/resources", h.HandleResources)
		api.GET("/resources/:key/dependencies", h.HandleDependencies)
		api.GET("/aggregates", h.HandleAggregates)
		api.GET("/packages/:pid", h.HandlePackage)
	}

	admin := router.Group("/admin")
	{
		admin.POST("/refresh", h.HandleRefresh)
	}
}

// RequestIDMiddleware assigns each request a correlation ID, honoring a
// client-supplied X-Request-ID header.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		c.Set("request_id", id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// AccessLogMiddleware logs one line per request and records request
// metrics keyed by route template.
func AccessLogMiddleware(logger *logging.Logger, metrics *observability.ServerMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		status := c.Writer.Status()
		logger.Info("request",
			"request_id", c.GetString("request_id"),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"elapsed", elapsed,
		)

		if metrics != nil {
			endpoint := c.FullPath()
			if endpoint == "" {
				endpoint = "unmatched"
			}
			metrics.RecordRequest(endpoint, statusClass(status), elapsed.Seconds())
		}
	}
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "error"
	case status >= 400:
		return "client_error"
	default:
		return "ok"
	}
}
