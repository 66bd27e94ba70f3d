// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package admin serves the operational HTTP endpoints: health, Prometheus
// metrics, tier statistics and on-demand collection. It exposes no graph
// data.
//
// Endpoints:
//
//	GET  /health    - Liveness and cache reachability
//	GET  /metrics   - Prometheus exposition
//	GET  /v1/stats  - Store, cache and last collection statistics
//	POST /v1/gc     - Run one reachability collection (rate limited)
package admin

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/anchorgraph/services/anchorgraph/memory"
	badgerstore "github.com/AleutianAI/anchorgraph/services/anchorgraph/storage/badger"
)

// StoreStats reports persistent tier statistics.
type StoreStats interface {
	Stats(ctx context.Context) (badgerstore.Stats, error)
}

// Collection runs and reports reachability collection.
type Collection interface {
	RunNow(ctx context.Context) (badgerstore.CollectResult, error)
	Last() badgerstore.CollectResult
}

// Config configures the admin server.
type Config struct {
	// Listen is the host:port to bind.
	Listen string

	// Store is required.
	Store StoreStats

	// Cache is the shared tier. Optional.
	Cache memory.Cache

	// Collector enables POST /v1/gc. Optional.
	Collector Collection

	// GCInterval is the minimum spacing between on-demand collections.
	// Zero allows one per minute.
	GCInterval time.Duration

	// Metrics serves /metrics. Defaults to promhttp.Handler().
	Metrics http.Handler

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Debug enables gin's request log.
	Debug bool
}

// Server is the admin HTTP server.
type Server struct {
	config  Config
	router  *gin.Engine
	logger  *slog.Logger
	limiter *rate.Limiter
}

// New builds the router.
func New(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("admin server requires a store")
	}
	if cfg.Cache == nil {
		cfg.Cache = memory.NopCache{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = promhttp.Handler()
	}
	if cfg.GCInterval <= 0 {
		cfg.GCInterval = time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("anchorgraph-admin"))
	if cfg.Debug {
		router.Use(gin.Logger())
	}

	s := &Server{
		config:  cfg,
		router:  router,
		logger:  logger.With(slog.String("component", "admin")),
		limiter: rate.NewLimiter(rate.Every(cfg.GCInterval), 1),
	}
	router.GET("/health", s.handleHealth)
	router.GET("/metrics", gin.WrapH(cfg.Metrics))
	v1 := router.Group("/v1")
	v1.GET("/stats", s.handleStats)
	v1.POST("/gc", s.handleGC)
	return s, nil
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve listens until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("admin server listening", slog.String("address", s.config.Listen))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("admin server stopped")
	return nil
}
