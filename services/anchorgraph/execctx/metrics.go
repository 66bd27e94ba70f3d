// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package execctx

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	resolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anchorgraph_execctx_resolutions_total",
		Help: "Contexts created by root kind",
	}, []string{"kind"})

	rootsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "anchorgraph_execctx_roots_created_total",
		Help: "Roots bound on first access",
	})

	contextDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "anchorgraph_execctx_context_duration_seconds",
		Help:    "Lifetime of execution contexts",
		Buckets: prometheus.DefBuckets,
	})
)
