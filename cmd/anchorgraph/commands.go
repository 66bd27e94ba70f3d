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
	"errors"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/anchorgraph/pkg/logging"
	"github.com/AleutianAI/anchorgraph/services/anchorgraph/anchor"
	"github.com/AleutianAI/anchorgraph/services/anchorgraph/config"
	"github.com/AleutianAI/anchorgraph/services/anchorgraph/execctx"
	"github.com/AleutianAI/anchorgraph/services/anchorgraph/memory"
	badgerstore "github.com/AleutianAI/anchorgraph/services/anchorgraph/storage/badger"
	"github.com/AleutianAI/anchorgraph/services/anchorgraph/walker"
)

// cli holds flag values and the state loaded before each command runs.
type cli struct {
	configPath string
	logLevel   string
	dataDir    string
	inMemory   bool

	cfg    *config.Config
	logger *logging.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "anchorgraph",
		Short:         "Graph persistence and traversal engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.load(cmd.ErrOrStderr())
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if c.logger != nil {
				return c.logger.Close()
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "config file (default $"+config.EnvPath+")")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "override log.level")
	root.PersistentFlags().StringVar(&c.dataDir, "data", "", "override storage.path")
	root.PersistentFlags().BoolVar(&c.inMemory, "in-memory", false, "use a throwaway in-memory store")

	root.AddCommand(
		newServeCmd(c),
		newInspectCmd(c),
		newGCCmd(c),
		newDemoCmd(c),
	)
	return root
}

// load reads the configuration, applies flag overrides and builds the
// logger.
func (c *cli) load(stderr io.Writer) error {
	cfg, err := config.Load(config.ResolvePath(c.configPath))
	if err != nil {
		return err
	}
	if c.logLevel != "" {
		cfg.Log.Level = c.logLevel
	}
	if c.dataDir != "" {
		cfg.Storage.Path = c.dataDir
		cfg.Storage.InMemory = false
	}
	if c.inMemory {
		cfg.Storage.InMemory = true
	}
	lc, err := cfg.Log.Logging("anchorgraph")
	if err != nil {
		return err
	}
	lc.Output = stderr
	c.cfg = cfg
	c.logger = logging.New(lc)
	return nil
}

// engineRuntime is the wired stack a command works with.
type engineRuntime struct {
	store    *badgerstore.Store
	cache    memory.Cache
	tiers    *memory.Tiers
	resolver *execctx.Resolver
	engine   *walker.Engine
	logger   *slog.Logger
}

// open wires the persistent tier, the cache, the memory tiers, the
// resolver and the engine from the configuration.
func (c *cli) open() (*engineRuntime, error) {
	logger := c.logger.Slog()
	store, err := badgerstore.Open(c.cfg.Storage.Badger(logger))
	if err != nil {
		return nil, err
	}
	cache, err := c.cfg.Cache.Build(logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	policy, err := c.cfg.Storage.Policy()
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	types, err := demoTypes()
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	tiers := memory.NewTiers(store,
		memory.WithCache(cache),
		memory.WithTypes(types),
		memory.WithConflictPolicy(policy),
		memory.WithLogger(logger))
	engine := walker.NewEngine(demoRegistry(),
		walker.WithMaxSteps(c.cfg.Walker.MaxSteps),
		walker.WithSpawnTimeout(c.cfg.Walker.SpawnTimeout),
		walker.WithLogger(logger))

	return &engineRuntime{
		store:    store,
		cache:    cache,
		tiers:    tiers,
		resolver: execctx.NewResolver(tiers, store, execctx.WithResolverLogger(logger)),
		engine:   engine,
		logger:   logger,
	}, nil
}

// Close releases the cache and the store.
func (r *engineRuntime) Close() error {
	var errs []error
	if closer, ok := r.cache.(io.Closer); ok {
		errs = append(errs, closer.Close())
	}
	errs = append(errs, r.store.Close())
	return errors.Join(errs...)
}

// demoTypes declares the types the demo walker uses.
func demoTypes() (*anchor.TypeRegistry, error) {
	types := anchor.NewTypeRegistry()
	err := types.Define(anchor.TypeDef{
		Kind:     anchor.KindNode,
		Name:     "place",
		Schema:   anchor.Schema{"name": "required", "visits": "gte=0"},
		Defaults: map[string]any{"visits": 0},
	})
	if err != nil {
		return nil, err
	}
	return types, nil
}
