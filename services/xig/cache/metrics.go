// Copyright (C) 2026 Health Intersections Pty Ltd
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cache

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level meter for snapshot operations.
var meter = otel.Meter("xig.cache")

var (
	rebuildTotal    metric.Int64Counter
	rebuildFailures metric.Int64Counter
	rebuildDropped  metric.Int64Counter
	rebuildDuration metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		rebuildTotal, err = meter.Int64Counter(
			"snapshot_rebuilds_total",
			metric.WithDescription("Total number of snapshot rebuilds attempted"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		rebuildFailures, err = meter.Int64Counter(
			"snapshot_rebuild_failures_total",
			metric.WithDescription("Total number of snapshot rebuilds that failed"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		rebuildDropped, err = meter.Int64Counter(
			"snapshot_rebuilds_dropped_total",
			metric.WithDescription("Rebuild triggers dropped because one was already running"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		rebuildDuration, err = meter.Float64Histogram(
			"snapshot_rebuild_duration_seconds",
			metric.WithDescription("Duration of snapshot rebuilds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordRebuild(ctx context.Context, duration time.Duration, buildErr error) {
	if err := initMetrics(); err != nil {
		return
	}
	rebuildTotal.Add(ctx, 1)
	if buildErr != nil {
		rebuildFailures.Add(ctx, 1)
	}
	rebuildDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(attribute.Bool("success", buildErr == nil)),
	)
}

func recordRebuildDropped(ctx context.Context) {
	if err := initMetrics(); err != nil {
		return
	}
	rebuildDropped.Add(ctx, 1)
}
