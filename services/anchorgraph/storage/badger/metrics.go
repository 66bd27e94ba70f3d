// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("anchorgraph.storage")

var (
	commitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anchorgraph_store_commits_total",
		Help: "Persistent tier commits by result",
	}, []string{"result"})

	commitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "anchorgraph_store_commit_duration_seconds",
		Help:    "Time to commit one session batch",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	})

	commitAnchors = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "anchorgraph_store_commit_anchors",
		Help:    "Anchors written or deleted per commit",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	})

	readsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anchorgraph_store_reads_total",
		Help: "Persistent tier reads by result",
	}, []string{"result"})

	sweptTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "anchorgraph_store_anchors_swept_total",
		Help: "Unreachable anchors reclaimed by the collector",
	})

	collectDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "anchorgraph_store_collect_duration_seconds",
		Help:    "Time to run one reachability collection",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
	})
)

func startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Store."+op, trace.WithAttributes(attrs...))
}
