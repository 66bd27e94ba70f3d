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
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Sweepable is a cache that can drop its expired entries in bulk.
type Sweepable interface {
	Sweep() int
}

// Sweeper periodically removes expired entries from an in-process cache.
//
// Description:
//
//	Expiry is enforced lazily on Get. Without a sweeper, entries that are
//	never read again stay resident until evicted. The sweeper bounds that
//	residency to roughly TTL plus the sweep interval.
//
// Thread Safety: All methods are safe for concurrent use.
type Sweeper struct {
	cache    Sweepable
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	done    chan struct{}
	stopped chan struct{}
}

// NewSweeper creates a sweeper. Call Start to begin.
//
// Inputs:
//
//	cache - The cache to sweep. Must not be nil.
//	interval - Time between sweeps. Must be positive.
//	logger - May be nil.
func NewSweeper(cache Sweepable, interval time.Duration, logger *slog.Logger) (*Sweeper, error) {
	if cache == nil {
		return nil, errors.New("cache must not be nil")
	}
	if interval <= 0 {
		return nil, errors.New("interval must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{cache: cache, interval: interval, logger: logger}, nil
}

// Start begins periodic sweeping until ctx is cancelled or Stop is called.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("sweeper is already running")
	}
	s.running = true
	s.done = make(chan struct{})
	s.stopped = make(chan struct{})

	go s.runLoop(ctx, s.done, s.stopped)
	return nil
}

// Stop halts sweeping and waits for the loop to exit. Safe to call more
// than once.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.done)
	s.running = false
	stopped := s.stopped
	s.mu.Unlock()
	<-stopped
}

// RunNow sweeps once and returns the number of entries removed.
func (s *Sweeper) RunNow() int {
	return s.cache.Sweep()
}

func (s *Sweeper) runLoop(ctx context.Context, done <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			if n := s.RunNow(); n > 0 {
				s.logger.Debug("cache sweep", slog.Int("expired", n))
			}
		}
	}
}
