// Copyright (C) 2026 Health Intersections Pty Ltd
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// newTestMetrics builds a ServerMetrics on a private registry so tests
// never collide with the global one.
func newTestMetrics(t *testing.T) *ServerMetrics {
	t.Helper()

	reg := prometheus.NewRegistry()
	m := &ServerMetrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: serverSubsystem,
				Name:      "requests_total",
				Help:      "Total API requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),
		RequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: serverSubsystem,
				Name:      "request_duration_seconds",
				Help:      "API request latency in seconds",
				Buckets:   []float64{0.001, 0.01, 0.1, 1},
			},
			[]string{"endpoint"},
		),
		RefreshesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: datasetSubsystem,
				Name:      "refreshes_total",
				Help:      "Dataset refresh attempts by outcome",
			},
			[]string{"outcome"},
		),
		QueryFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: serverSubsystem,
				Name:      "query_failures_total",
				Help:      "Queries that degraded to an empty result",
			},
			[]string{"operation"},
		),
	}
	reg.MustRegister(m.RequestsTotal, m.RequestDurationSeconds, m.RefreshesTotal, m.QueryFailuresTotal)
	return m
}

func TestRecordRequest(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordRequest("resources", "ok", 0.02)
	m.RecordRequest("resources", "ok", 0.05)
	m.RecordRequest("resources", "degraded", 0.01)

	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("resources", "ok")); got != 2 {
		t.Errorf("ok requests = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("resources", "degraded")); got != 1 {
		t.Errorf("degraded requests = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.RequestDurationSeconds); got != 1 {
		t.Errorf("duration series = %d, want 1", got)
	}
}

func TestRecordRefresh(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordRefresh(RefreshSuccess)
	m.RecordRefresh(RefreshDropped)
	m.RecordRefresh(RefreshDropped)

	if got := testutil.ToFloat64(m.RefreshesTotal.WithLabelValues("success")); got != 1 {
		t.Errorf("success refreshes = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RefreshesTotal.WithLabelValues("dropped")); got != 2 {
		t.Errorf("dropped refreshes = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.RefreshesTotal.WithLabelValues("failure")); got != 0 {
		t.Errorf("failure refreshes = %v, want 0", got)
	}
}

func TestRecordQueryFailure(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordQueryFailure("list")
	if got := testutil.ToFloat64(m.QueryFailuresTotal.WithLabelValues("list")); got != 1 {
		t.Errorf("list failures = %v, want 1", got)
	}
}

func TestBridge_PrivateRegistry(t *testing.T) {
	if err := Bridge(prometheus.NewRegistry()); err != nil {
		t.Fatalf("Bridge() error: %v", err)
	}
}
