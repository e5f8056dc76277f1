// Copyright (C) 2026 Health Intersections Pty Ltd
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the xig server.
//
// Request metrics (counters, latency histograms) are registered here.
// The cache package records its rebuild metrics through OTel; Bridge
// wires the OTel pipeline into the Prometheus registry so everything
// surfaces on the one /metrics endpoint.
//
// All metric operations are thread-safe via Prometheus's internal
// locking.
package observability

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const (
	metricsNamespace = "xig"
	serverSubsystem  = "server"
	datasetSubsystem = "dataset"
)

// ServerMetrics holds the Prometheus metrics for query serving and
// dataset refresh. Initialize once at startup via InitMetrics().
type ServerMetrics struct {
	// RequestsTotal counts API requests.
	// Labels: endpoint (resources, dependencies, aggregates, packages,
	// status), status (ok, degraded, client_error, error)
	RequestsTotal *prometheus.CounterVec

	// RequestDurationSeconds measures request latency by endpoint.
	RequestDurationSeconds *prometheus.HistogramVec

	// RefreshesTotal counts dataset refresh outcomes.
	// Labels: outcome (success, failure, dropped)
	RefreshesTotal *prometheus.CounterVec

	// QueryFailuresTotal counts queries that degraded to an empty
	// result. Labels: operation (count, list, aggregate)
	QueryFailuresTotal *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance, set by InitMetrics().
var DefaultMetrics *ServerMetrics

// InitMetrics creates and registers all server metrics on the default
// registry. Call once at startup; a second call panics on duplicate
// registration.
func InitMetrics() *ServerMetrics {
	DefaultMetrics = &ServerMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: serverSubsystem,
				Name:      "requests_total",
				Help:      "Total API requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),

		RequestDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: serverSubsystem,
				Name:      "request_duration_seconds",
				Help:      "API request latency in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"endpoint"},
		),

		RefreshesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: datasetSubsystem,
				Name:      "refreshes_total",
				Help:      "Dataset refresh attempts by outcome",
			},
			[]string{"outcome"},
		),

		QueryFailuresTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: serverSubsystem,
				Name:      "query_failures_total",
				Help:      "Queries that degraded to an empty result",
			},
			[]string{"operation"},
		),
	}

	return DefaultMetrics
}

// RefreshOutcome labels one dataset refresh attempt.
type RefreshOutcome string

const (
	RefreshSuccess RefreshOutcome = "success"
	RefreshFailure RefreshOutcome = "failure"
	RefreshDropped RefreshOutcome = "dropped"
)

// RecordRequest records one completed API request.
func (m *ServerMetrics) RecordRequest(endpoint, status string, seconds float64) {
	m.RequestsTotal.WithLabelValues(endpoint, status).Inc()
	m.RequestDurationSeconds.WithLabelValues(endpoint).Observe(seconds)
}

// RecordRefresh records one dataset refresh outcome.
func (m *ServerMetrics) RecordRefresh(outcome RefreshOutcome) {
	m.RefreshesTotal.WithLabelValues(string(outcome)).Inc()
}

// RecordQueryFailure records a query that degraded instead of failing
// the request.
func (m *ServerMetrics) RecordQueryFailure(operation string) {
	m.QueryFailuresTotal.WithLabelValues(operation).Inc()
}

// Bridge installs an OTel meter provider backed by the given Prometheus
// registerer, so OTel instruments (the cache rebuild metrics) export
// through the same /metrics endpoint as the native counters. Pass nil
// to use the default registry.
func Bridge(reg prometheus.Registerer) error {
	var opts []otelprom.Option
	if reg != nil {
		opts = append(opts, otelprom.WithRegisterer(reg))
	}
	exporter, err := otelprom.New(opts...)
	if err != nil {
		return fmt.Errorf("creating otel prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)
	return nil
}
