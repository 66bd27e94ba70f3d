// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package index

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	traversals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anchorgraph_index_traversals_total",
		Help: "Adjacency queries by direction",
	}, []string{"direction"})

	mutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anchorgraph_index_mutations_total",
		Help: "Graph mutations by operation",
	}, []string{"op"})

	permissionDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anchorgraph_index_permission_denials_total",
		Help: "Cross-root access attempts by operation",
	}, []string{"op"})
)
