// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeHandler receives the previous and the newly loaded configuration.
type ChangeHandler func(old, cur *Config)

// TTLSetter is a cache whose entry lifetime can change at runtime.
type TTLSetter interface {
	SetTTL(ttl time.Duration)
	TTL() time.Duration
}

// Watcher reloads a config file when it changes on disk.
//
// Description:
//
//	The parent directory is watched so editors that replace the file by
//	rename are seen. Events are debounced; a file that fails to parse or
//	validate is logged and ignored, keeping the last good configuration.
//
// Thread Safety: Current is safe for concurrent use. The handler runs on
// the watcher's goroutine.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	handler  ChangeHandler
	logger   *slog.Logger
	debounce time.Duration

	mu      sync.RWMutex
	current *Config

	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// Watch starts watching path. initial is the configuration already in use.
//
// Inputs:
//
//	ctx - Stops the watcher when done.
//	path - The config file. Must not be empty.
//	initial - The configuration loaded at startup.
//	handler - Called after each successful reload.
//	logger - Receives reload events. If nil, slog.Default() is used.
//
// Outputs:
//
//	*Watcher - Call Stop when done.
//	error - Non-nil if the directory cannot be watched.
func Watch(ctx context.Context, path string, initial *Config, handler ChangeHandler, logger *slog.Logger) (*Watcher, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, err
	}
	w := &Watcher{
		path:     abs,
		watcher:  fw,
		handler:  handler,
		logger:   logger.With(slog.String("component", "config"), slog.String("path", abs)),
		debounce: 100 * time.Millisecond,
		current:  initial,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go w.run(ctx)
	return w, nil
}

// Current returns the last successfully loaded configuration.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Stop stops watching and waits for the watcher goroutine. Safe to call
// more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.watcher.Close()
	})
	<-w.stopped
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.stopped)

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watch error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("config reload rejected", slog.String("error", err.Error()))
		return
	}
	w.mu.Lock()
	old := w.current
	w.current = cfg
	w.mu.Unlock()

	w.logger.Info("config reloaded")
	if w.handler != nil {
		w.handler(old, cfg)
	}
}

// ApplyCacheTTL returns a ChangeHandler that pushes cache TTL changes to
// cache. Other settings need a restart.
func ApplyCacheTTL(cache TTLSetter, logger *slog.Logger) ChangeHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(_, cur *Config) {
		if cur.Cache.TTL == cache.TTL() {
			return
		}
		logger.Info("cache ttl changed",
			slog.Duration("from", cache.TTL()),
			slog.Duration("to", cur.Cache.TTL))
		cache.SetTTL(cur.Cache.TTL)
	}
}
