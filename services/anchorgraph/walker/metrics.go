// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package walker

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level tracer and meter for walker operations.
var (
	tracer = otel.Tracer("anchorgraph.walker")
	meter  = otel.Meter("anchorgraph.walker")
)

// OpenTelemetry instruments.
var (
	spawnLatency metric.Float64Histogram
	spawnTotal   metric.Int64Counter
	abilityTotal metric.Int64Counter
	abilityTime  metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// Prometheus collectors served on the admin /metrics endpoint.
var (
	spawns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anchorgraph_walker_spawns_total",
		Help: "Completed spawns by status and termination",
	}, []string{"status", "termination"})

	spawnsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "anchorgraph_walker_spawns_rejected_total",
		Help: "Spawns refused because walker fields failed validation",
	})

	spawnSteps = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "anchorgraph_walker_steps",
		Help:    "Locations entered per spawn",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	})
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		spawnLatency, err = meter.Float64Histogram(
			"walker_spawn_duration_seconds",
			metric.WithDescription("Duration of walker spawns"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		spawnTotal, err = meter.Int64Counter(
			"walker_spawn_total",
			metric.WithDescription("Total number of walker spawns"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		abilityTotal, err = meter.Int64Counter(
			"walker_ability_total",
			metric.WithDescription("Total number of ability invocations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		abilityTime, err = meter.Float64Histogram(
			"walker_ability_duration_seconds",
			metric.WithDescription("Duration of ability invocations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordSpawn records metrics for a finished spawn.
func recordSpawn(ctx context.Context, walkerType string, res Result, duration time.Duration) {
	spawns.WithLabelValues(res.Status.String(), res.Termination.String()).Inc()
	spawnSteps.Observe(float64(res.Steps))

	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("walker", walkerType),
		attribute.String("status", res.Status.String()),
	)
	spawnLatency.Record(ctx, duration.Seconds(), attrs)
	spawnTotal.Add(ctx, 1, attrs)
}

// recordAbility records metrics for one ability invocation.
func recordAbility(ctx context.Context, ab Ability, outcome string, duration time.Duration) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("ability", ab.Name),
		attribute.String("phase", ab.Phase.String()),
		attribute.String("outcome", outcome),
	)
	abilityTotal.Add(ctx, 1, attrs)
	abilityTime.Record(ctx, duration.Seconds(), attrs)
}
