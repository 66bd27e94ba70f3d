// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/anchorgraph/services/anchorgraph/admin"
	"github.com/AleutianAI/anchorgraph/services/anchorgraph/config"
	"github.com/AleutianAI/anchorgraph/services/anchorgraph/memory"
	badgerstore "github.com/AleutianAI/anchorgraph/services/anchorgraph/storage/badger"
	"github.com/AleutianAI/anchorgraph/services/anchorgraph/telemetry"
)

func newServeCmd(c *cli) *cobra.Command {
	var listen string
	var debug bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the admin server alongside background maintenance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := c.open()
			if err != nil {
				return err
			}
			defer rt.Close()
			cfg, logger := c.cfg, rt.logger

			tel, err := telemetry.Init(ctx, cfg.Telemetry.Exporters("anchorgraph", version))
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := tel.Shutdown(shutdownCtx); err != nil {
					logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
				}
			}()

			if ttl, ok := rt.cache.(*memory.TTLCache); ok && cfg.Cache.SweepInterval > 0 {
				sweeper, err := memory.NewSweeper(ttl, cfg.Cache.SweepInterval, logger)
				if err != nil {
					return err
				}
				if err := sweeper.Start(ctx); err != nil {
					return err
				}
				defer sweeper.Stop()
			}

			var collection admin.Collection
			if cfg.Storage.CollectInterval > 0 {
				collector, err := badgerstore.NewCollector(rt.store, cfg.Storage.CollectInterval, logger)
				if err != nil {
					return err
				}
				if err := collector.Start(ctx); err != nil {
					return err
				}
				defer collector.Stop()
				collection = collector
			}

			if path := config.ResolvePath(c.configPath); path != "" {
				if setter, ok := rt.cache.(config.TTLSetter); ok {
					watcher, err := config.Watch(ctx, path, cfg, config.ApplyCacheTTL(setter, logger), logger)
					if err != nil {
						logger.Warn("config reload disabled", slog.String("error", err.Error()))
					} else {
						defer watcher.Stop()
					}
				}
			}

			if listen == "" {
				listen = cfg.Admin.Listen
			}
			srv, err := admin.New(admin.Config{
				Listen:     listen,
				Store:      rt.store,
				Cache:      rt.cache,
				Collector:  collection,
				GCInterval: cfg.Admin.GCInterval,
				Metrics:    tel.MetricsHandler(),
				Logger:     logger,
				Debug:      debug,
			})
			if err != nil {
				return err
			}
			return srv.Serve(ctx)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "override admin.listen")
	cmd.Flags().BoolVar(&debug, "debug", false, "log every admin request")
	return cmd
}
