// Copyright (C) 2026 Health Intersections Pty Ltd
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers contains the HTTP handlers of the xig server.
//
// Query handlers degrade rather than fail: if the dataset is missing or
// a query errors, the response is a well-formed empty result with an
// error description, never a 5xx. Only malformed requests earn a 4xx.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/HealthIntersections/xig-server/pkg/logging"
	"github.com/HealthIntersections/xig-server/services/xig/datatypes"
	"github.com/HealthIntersections/xig-server/services/xig/facet"
	"github.com/HealthIntersections/xig-server/services/xig/graph"
	"github.com/HealthIntersections/xig-server/services/xig/lifecycle"
	"github.com/HealthIntersections/xig-server/services/xig/observability"
	"github.com/HealthIntersections/xig-server/services/xig/query"
)

// ServiceVersion is the xig server version.
const ServiceVersion = "1.0.0"

// ErrorResponse is the JSON body for request-level failures.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// ResourcePage is the response body of GET /api/resources. Error is set
// when the query degraded; the rest of the body stays well formed.
type ResourcePage struct {
	Count     int64                `json:"count"`
	Offset    int                  `json:"offset"`
	PageSize  int                  `json:"pageSize"`
	Applied   facet.Applied        `json:"applied"`
	Resources []datatypes.Resource `json:"resources"`
	Error     string               `json:"error,omitempty"`
}

// AggregateResponse is the response body of GET /api/aggregates.
type AggregateResponse struct {
	Dimension string         `json:"dimension"`
	Applied   facet.Applied  `json:"applied"`
	Buckets   []query.Bucket `json:"buckets"`
	Error     string         `json:"error,omitempty"`
}

// Handlers holds the HTTP handlers and their collaborators.
type Handlers struct {
	manager  *lifecycle.Manager
	engine   *query.Engine
	resolver *graph.Resolver
	metrics  *observability.ServerMetrics
	logger   *logging.Logger
}

// NewHandlers creates the handler set. Metrics may be nil in tests.
func NewHandlers(manager *lifecycle.Manager, engine *query.Engine, metrics *observability.ServerMetrics, logger *logging.Logger) *Handlers {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handlers{
		manager:  manager,
		engine:   engine,
		resolver: graph.NewResolver(),
		metrics:  metrics,
		logger:   logger,
	}
}

func criteriaFromQuery(c *gin.Context) facet.Criteria {
	return facet.Criteria{
		Version:    c.Query("version"),
		Authority:  c.Query("authority"),
		Realm:      c.Query("realm"),
		View:       c.Query("view"),
		Refinement: c.Query("rt"),
		Text:       c.Query("text"),
	}
}

// HandleResources handles GET /api/resources.
//
// Facet parameters: version, authority, realm, view, rt, text; paging
// via offset. A failed query yields a degraded 200 body, not an error
// status.
func (h *Handlers) HandleResources(c *gin.Context) {
	logger := h.requestLogger(c, "HandleResources")

	offset, err := parseOffset(c.Query("offset"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid offset", Code: "INVALID_OFFSET"})
		return
	}

	snap := h.manager.Store().Current()
	db := h.manager.Database()
	p := facet.Compile(criteriaFromQuery(c), snap)

	page := ResourcePage{
		Offset:    offset,
		PageSize:  h.engine.PageSize(),
		Applied:   p.Applied,
		Resources: []datatypes.Resource{},
	}

	ctx := c.Request.Context()
	count, err := h.engine.Count(ctx, db, p)
	if err != nil {
		logger.Warn("count query degraded", "error", err)
		h.recordQueryFailure("count")
		page.Error = err.Error()
		c.JSON(http.StatusOK, page)
		return
	}

	resources, err := h.engine.List(ctx, db, p, offset)
	if err != nil {
		logger.Warn("list query degraded", "error", err)
		h.recordQueryFailure("list")
		page.Error = err.Error()
		c.JSON(http.StatusOK, page)
		return
	}

	// Package identity comes from the snapshot index, not a join.
	for i := range resources {
		if pkg, ok := snap.Package(resources[i].PackageKey); ok {
			resources[i].PackageID = pkg.PID
		}
	}

	page.Count = count
	page.Resources = resources
	c.JSON(http.StatusOK, page)
}

// HandleDependencies handles GET /api/resources/:key/dependencies.
func (h *Handlers) HandleDependencies(c *gin.Context) {
	logger := h.requestLogger(c, "HandleDependencies")

	key, err := strconv.ParseInt(c.Param("key"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid resource key", Code: "INVALID_KEY"})
		return
	}

	snap := h.manager.Store().Current()
	neighbors, err := h.resolver.Resolve(c.Request.Context(), h.manager.Database(), snap, key)
	if err != nil {
		switch {
		case errors.Is(err, graph.ErrNotFound):
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "resource not found", Code: "NOT_FOUND"})
		case errors.Is(err, graph.ErrNoDataset):
			c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "no dataset loaded", Code: "NO_DATASET"})
		default:
			logger.Error("dependency resolution failed", "key", key, "error", err)
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "QUERY_FAILED"})
		}
		return
	}

	c.JSON(http.StatusOK, neighbors)
}

// HandleAggregates handles GET /api/aggregates?dimension=...
//
// The named dimension's own facet is excluded from the predicate so the
// breakdown shows its full distribution.
func (h *Handlers) HandleAggregates(c *gin.Context) {
	logger := h.requestLogger(c, "HandleAggregates")

	dim := query.Dimension(c.Query("dimension"))
	switch dim {
	case query.DimensionVersion, query.DimensionAuthority, query.DimensionRealm:
	default:
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "unknown dimension", Code: "INVALID_DIMENSION"})
		return
	}

	snap := h.manager.Store().Current()
	p := facet.Compile(criteriaFromQuery(c), snap)

	resp := AggregateResponse{
		Dimension: string(dim),
		Applied:   p.Applied,
		Buckets:   []query.Bucket{},
	}

	buckets, err := h.engine.Aggregate(c.Request.Context(), h.manager.Database(), p, dim)
	if err != nil {
		logger.Warn("aggregate query degraded", "dimension", dim, "error", err)
		h.recordQueryFailure("aggregate")
		resp.Error = err.Error()
		c.JSON(http.StatusOK, resp)
		return
	}

	resp.Buckets = buckets
	c.JSON(http.StatusOK, resp)
}

// HandlePackage handles GET /api/packages/:pid where pid is in the
// URL-safe "id|version" form.
func (h *Handlers) HandlePackage(c *gin.Context) {
	snap := h.manager.Store().Current()

	pkg, ok := snap.PackageByWebID(c.Param("pid"))
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "package not found", Code: "NOT_FOUND"})
		return
	}
	c.JSON(http.StatusOK, pkg)
}

// HandleStatus handles GET /status.
func (h *Handlers) HandleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.manager.Status())
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "xig-server", "version": ServiceVersion})
}

// HandleRefresh handles POST /admin/refresh: triggers a dataset refresh
// in the background. A refresh already in flight is reported as a
// conflict, not queued.
func (h *Handlers) HandleRefresh(c *gin.Context) {
	logger := h.requestLogger(c, "HandleRefresh")

	if h.manager.Status().RefreshInProgress {
		c.JSON(http.StatusConflict, ErrorResponse{Error: "refresh already in progress", Code: "REFRESH_IN_PROGRESS"})
		return
	}

	// Detached from the request context: the refresh outlives the
	// request that triggered it.
	go func() {
		if err := h.manager.Refresh(context.Background()); err != nil &&
			!errors.Is(err, lifecycle.ErrRefreshInProgress) {
			logger.Error("on-demand refresh failed", "error", err)
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"status": "refresh started"})
}

func (h *Handlers) requestLogger(c *gin.Context, handler string) *logging.Logger {
	return h.logger.With("request_id", RequestID(c), "handler", handler)
}

// RequestID returns the request's correlation ID, set by the request-ID
// middleware, minting one if the middleware is absent.
func RequestID(c *gin.Context) string {
	if id := c.GetString("request_id"); id != "" {
		return id
	}
	id := uuid.New().String()
	c.Set("request_id", id)
	return id
}

func (h *Handlers) recordQueryFailure(operation string) {
	if h.metrics != nil {
		h.metrics.RecordQueryFailure(operation)
	}
}

func parseOffset(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	offset, err := strconv.Atoi(raw)
	if err != nil || offset < 0 {
		return 0, errors.New("offset must be a non-negative integer")
	}
	return offset, nil
}
