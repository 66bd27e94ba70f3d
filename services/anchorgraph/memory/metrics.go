// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package memory

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/anchorgraph/services/anchorgraph/anchor"
)

var tracer = otel.Tracer("anchorgraph.memory")

var (
	lookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anchorgraph_memory_lookups_total",
		Help: "Anchor lookups by tier and result",
	}, []string{"tier", "result"})

	cacheErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anchorgraph_memory_cache_errors_total",
		Help: "Shared tier failures by backend and operation",
	}, []string{"backend", "op"})

	cacheRemovals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anchorgraph_memory_cache_removals_total",
		Help: "In-process cache entries removed by reason",
	}, []string{"reason"})

	sessionCommits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anchorgraph_memory_session_commits_total",
		Help: "Session commits by result",
	}, []string{"result"})
)

func anchorMissing(err error) bool {
	return errors.Is(err, anchor.ErrNotFound)
}
