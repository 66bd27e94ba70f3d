// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger is the persistent tier (L3) of the anchor graph.
//
// Anchors are stored as checksummed msgpack records keyed by their ID. Two
// secondary indexes are kept in the same keyspace: the owner index maps a
// root to every anchor it owns, and the identity index maps an identity
// string to its root. IDs come from a leased badger sequence, so ID order is
// creation order.
//
// Keyspace:
//
//	a/<id:8>            record of anchor id
//	o/<root:8>/<id:8>   empty, anchor id is owned by root
//	u/<identity>        root id (8 bytes)
//	seq/anchor          sequence state
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package badger

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Config holds configuration for the persistent tier.
type Config struct {
	// Path is the directory for database files. Ignored when InMemory is true.
	Path string

	// InMemory keeps everything in RAM. Used by tests and the demo command.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// Logger receives badger's internal log lines and store events. If nil,
	// badger's own logging is disabled and store events go to slog.Default().
	Logger *slog.Logger

	// IDBandwidth is how many IDs are leased from the sequence at a time.
	// Unused leased IDs are lost on crash, never reused.
	IDBandwidth uint64

	// GCInterval is how often value log GC runs. Zero disables it.
	GCInterval time.Duration

	// GCDiscardRatio is the garbage ratio a value log file needs before it
	// is rewritten.
	GCDiscardRatio float64
}

// DefaultConfig returns the production configuration.
//
// Description:
//
//	Synchronous writes, 1000-ID sequence leases and a 5 minute value log GC
//	at a 0.5 discard ratio. Path must still be set.
//
// Outputs:
//
//	Config - Production configuration without a path.
func DefaultConfig() Config {
	return Config{
		SyncWrites:     true,
		IDBandwidth:    1000,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns configuration for tests: no disk, no fsync, no GC.
func InMemoryConfig() Config {
	return Config{
		InMemory:    true,
		IDBandwidth: 100,
	}
}

// badgerLogger adapts slog.Logger to badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// openDB opens the underlying badger database.
func openDB(cfg Config) (*badger.DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	// Anchors are overwritten in place; older versions are never read.
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return db, nil
}

// GCRunner runs periodic value log garbage collection.
//
// Value log GC reclaims disk space from overwritten and deleted records. It
// is unrelated to Store.Collect, which reclaims unreachable anchors.
type GCRunner struct {
	db       *badger.DB
	interval time.Duration
	ratio    float64
	logger   *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewGCRunner creates a value log GC runner. Call Start to begin.
//
// Inputs:
//
//	db - The database. Must not be nil.
//	interval - Time between GC attempts. Must be positive.
//	ratio - Discard ratio in [0, 1].
//	logger - Logger for GC events. Must not be nil.
//
// Outputs:
//
//	*GCRunner - The runner.
//	error - Non-nil if inputs are invalid.
func NewGCRunner(db *badger.DB, interval time.Duration, ratio float64, logger *slog.Logger) (*GCRunner, error) {
	if db == nil {
		return nil, errors.New("db must not be nil")
	}
	if interval <= 0 {
		return nil, errors.New("interval must be positive")
	}
	if ratio < 0 || ratio > 1 {
		return nil, errors.New("ratio must be between 0 and 1")
	}

	return &GCRunner{
		db:       db,
		interval: interval,
		ratio:    ratio,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins periodic GC on a background goroutine.
func (r *GCRunner) Start() {
	go r.run()
}

// Stop halts GC and waits for the goroutine to exit. Safe to call more than
// once.
func (r *GCRunner) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		<-r.doneCh
	})
}

func (r *GCRunner) run() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.RunOnce()
		}
	}
}

// RunOnce rewrites value log files until badger reports nothing left to
// reclaim.
//
// Outputs:
//
//	int - Number of files rewritten.
func (r *GCRunner) RunOnce() int {
	rewritten := 0
	for {
		err := r.db.RunValueLogGC(r.ratio)
		if err == nil {
			rewritten++
			continue
		}
		// ErrNoRewrite means nothing to collect; ErrRejected means a GC is
		// already in progress or the DB is closing.
		if !errors.Is(err, badger.ErrNoRewrite) && !errors.Is(err, badger.ErrRejected) {
			r.logger.Warn("value log GC failed", slog.String("error", err.Error()))
		}
		break
	}
	if rewritten > 0 {
		r.logger.Debug("value log GC rewrote files", slog.Int("files", rewritten))
	}
	return rewritten
}
