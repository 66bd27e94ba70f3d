// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package admin

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/anchorgraph/services/anchorgraph/memory"
	badgerstore "github.com/AleutianAI/anchorgraph/services/anchorgraph/storage/badger"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string `json:"status"`
	Cache  string `json:"cache"`
	Error  string `json:"error,omitempty"`
}

// RedisPoolStats summarizes the Redis connection pool.
type RedisPoolStats struct {
	Active int `json:"active"`
	Idle   int `json:"idle"`
}

// CacheReport describes the shared tier.
type CacheReport struct {
	Backend string             `json:"backend"`
	TTL     string             `json:"ttl,omitempty"`
	Memory  *memory.CacheStats `json:"memory,omitempty"`
	Redis   *RedisPoolStats    `json:"redis,omitempty"`
}

// StatsResponse is the body of GET /v1/stats.
type StatsResponse struct {
	Store badgerstore.Stats          `json:"store"`
	Cache CacheReport                `json:"cache"`
	GC    *badgerstore.CollectResult `json:"gc,omitempty"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

type pinger interface {
	Ping(ctx context.Context) error
}

// handleHealth handles GET /health.
//
// Response:
//
//	200 OK: HealthResponse. Status is "degraded" when the cache cannot be
//	reached; the service keeps working from the persistent tier.
func (s *Server) handleHealth(c *gin.Context) {
	resp := HealthResponse{Status: "healthy", Cache: s.config.Cache.Name()}
	if p, ok := s.config.Cache.(pinger); ok {
		if err := p.Ping(c.Request.Context()); err != nil {
			resp.Status = "degraded"
			resp.Error = err.Error()
		}
	}
	c.JSON(http.StatusOK, resp)
}

// handleStats handles GET /v1/stats.
func (s *Server) handleStats(c *gin.Context) {
	st, err := s.config.Store.Stats(c.Request.Context())
	if err != nil {
		s.logger.Error("stats failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	resp := StatsResponse{Store: st, Cache: s.cacheReport()}
	if s.config.Collector != nil {
		last := s.config.Collector.Last()
		resp.GC = &last
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) cacheReport() CacheReport {
	report := CacheReport{Backend: s.config.Cache.Name()}
	switch cache := s.config.Cache.(type) {
	case *memory.TTLCache:
		st := cache.Stats()
		report.TTL = cache.TTL().String()
		report.Memory = &st
	case *memory.RedisCache:
		ps := cache.Stats()
		report.TTL = cache.TTL().String()
		report.Redis = &RedisPoolStats{Active: ps.ActiveCount, Idle: ps.IdleCount}
	}
	return report
}

// handleGC handles POST /v1/gc.
//
// Response:
//
//	200 OK: badgerstore.CollectResult
//	404 Not Found: collection is not configured
//	429 Too Many Requests: a collection ran within the configured interval
//	500 Internal Server Error: ErrorResponse
func (s *Server) handleGC(c *gin.Context) {
	if s.config.Collector == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "collector is disabled"})
		return
	}
	if !s.limiter.Allow() {
		c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: "collection ran recently"})
		return
	}
	res, err := s.config.Collector.RunNow(c.Request.Context())
	if err != nil {
		s.logger.Error("collection failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	s.logger.Info("collection finished",
		slog.Int("swept", res.Swept),
		slog.Int("marked", res.Marked))
	c.JSON(http.StatusOK, res)
}
