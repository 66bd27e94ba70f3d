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
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gomodule/redigo/redis"

	"github.com/AleutianAI/anchorgraph/services/anchorgraph/anchor"
)

// RedisConfig configures the Redis-backed shared tier.
type RedisConfig struct {
	// Address is host:port of the Redis server.
	Address string

	// Prefix namespaces keys. Default: "anchorgraph:".
	Prefix string

	// TTL is the lifetime of each entry. Zero disables expiry.
	TTL time.Duration

	MaxIdle     int
	MaxActive   int
	IdleTimeout time.Duration
	DialTimeout time.Duration

	Logger *slog.Logger
}

// RedisCache is a Cache shared by every process pointed at the same Redis.
//
// Description:
//
//	Entries are stored as encoded anchor records under Prefix+ID with a
//	PX expiry. Expiry is enforced by Redis, so there is nothing to sweep.
//	A record that fails to decode is deleted and reported as a miss.
//
// Thread Safety: All methods are safe for concurrent use.
type RedisCache struct {
	pool   *redis.Pool
	prefix string
	ttl    atomic.Int64
	logger *slog.Logger
}

// NewRedisCache dials lazily through a connection pool.
//
// Outputs:
//
//	*RedisCache - The cache. Call Close when done.
//	error - Non-nil if Address is empty.
func NewRedisCache(cfg RedisConfig) (*RedisCache, error) {
	if cfg.Address == "" {
		return nil, errors.New("redis address is required")
	}
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	addr := cfg.Address
	pool := &redis.Pool{
		MaxIdle:     cfg.MaxIdle,
		MaxActive:   cfg.MaxActive,
		IdleTimeout: cfg.IdleTimeout,
		Dial: func() (redis.Conn, error) {
			return redis.Dial("tcp", addr, redis.DialConnectTimeout(dialTimeout))
		},
	}
	return NewRedisCacheWithPool(pool, cfg), nil
}

// NewRedisCacheWithPool wraps an existing pool. Address and pool sizing in
// cfg are ignored.
func NewRedisCacheWithPool(pool *redis.Pool, cfg RedisConfig) *RedisCache {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "anchorgraph:"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &RedisCache{pool: pool, prefix: prefix, logger: logger}
	c.ttl.Store(int64(cfg.TTL))
	return c
}

// Name returns "redis".
func (c *RedisCache) Name() string { return "redis" }

func (c *RedisCache) key(id anchor.ID) string {
	return c.prefix + id.String()
}

// Get fetches and decodes one entry.
func (c *RedisCache) Get(ctx context.Context, id anchor.ID) (*anchor.Anchor, bool, error) {
	conn, err := c.pool.GetContext(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("redis connect: %w", err)
	}
	defer conn.Close()

	record, err := redis.Bytes(redis.DoContext(conn, ctx, "GET", c.key(id)))
	switch {
	case errors.Is(err, redis.ErrNil):
		return nil, false, nil
	case err != nil:
		return nil, false, fmt.Errorf("redis get: %w", err)
	}

	a, err := anchor.Decode(record)
	if err != nil {
		cacheErrors.WithLabelValues(c.Name(), "decode").Inc()
		c.logger.Warn("dropping corrupted cache entry",
			slog.Uint64("anchor", uint64(id)), slog.String("error", err.Error()))
		if _, derr := redis.DoContext(conn, ctx, "DEL", c.key(id)); derr != nil {
			return nil, false, fmt.Errorf("redis del: %w", derr)
		}
		return nil, false, nil
	}
	return a, true, nil
}

// Set encodes a and stores it with the current TTL.
func (c *RedisCache) Set(ctx context.Context, a *anchor.Anchor) error {
	record, err := anchor.Encode(a)
	if err != nil {
		return err
	}
	conn, err := c.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("redis connect: %w", err)
	}
	defer conn.Close()

	args := []interface{}{c.key(a.ID), record}
	if ttl := time.Duration(c.ttl.Load()); ttl > 0 {
		args = append(args, "PX", ttl.Milliseconds())
	}
	if _, err := redis.DoContext(conn, ctx, "SET", args...); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Fill stores a unless Redis already holds the same or a newer Version.
// The version check and the write run under WATCH, so a Set landing in
// between aborts the fill.
func (c *RedisCache) Fill(ctx context.Context, a *anchor.Anchor) error {
	record, err := anchor.Encode(a)
	if err != nil {
		return err
	}
	conn, err := c.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("redis connect: %w", err)
	}
	// Closing a pooled conn discards any open WATCH.
	defer conn.Close()

	key := c.key(a.ID)
	if _, err := redis.DoContext(conn, ctx, "WATCH", key); err != nil {
		return fmt.Errorf("redis watch: %w", err)
	}
	held, err := redis.Bytes(redis.DoContext(conn, ctx, "GET", key))
	switch {
	case errors.Is(err, redis.ErrNil):
	case err != nil:
		return fmt.Errorf("redis get: %w", err)
	default:
		if cur, derr := anchor.Decode(held); derr == nil && cur.Version >= a.Version {
			return nil
		}
	}

	args := []interface{}{key, record}
	if ttl := time.Duration(c.ttl.Load()); ttl > 0 {
		args = append(args, "PX", ttl.Milliseconds())
	}
	if err := conn.Send("MULTI"); err != nil {
		return fmt.Errorf("redis multi: %w", err)
	}
	if err := conn.Send("SET", args...); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	_, err = redis.Values(redis.DoContext(conn, ctx, "EXEC"))
	if errors.Is(err, redis.ErrNil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("redis exec: %w", err)
	}
	return nil
}

// Delete removes entries in one round trip.
func (c *RedisCache) Delete(ctx context.Context, ids ...anchor.ID) error {
	if len(ids) == 0 {
		return nil
	}
	conn, err := c.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("redis connect: %w", err)
	}
	defer conn.Close()

	keys := make([]interface{}, len(ids))
	for i, id := range ids {
		keys[i] = c.key(id)
	}
	if _, err := redis.DoContext(conn, ctx, "DEL", keys...); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// SetTTL changes the lifetime of entries set from now on.
func (c *RedisCache) SetTTL(ttl time.Duration) {
	c.ttl.Store(int64(ttl))
}

// TTL returns the current entry lifetime.
func (c *RedisCache) TTL() time.Duration {
	return time.Duration(c.ttl.Load())
}

// Ping checks connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	conn, err := c.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("redis connect: %w", err)
	}
	defer conn.Close()
	if _, err := redis.DoContext(conn, ctx, "PING"); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Stats returns pool statistics.
func (c *RedisCache) Stats() redis.PoolStats {
	return c.pool.Stats()
}

// Close releases pooled connections.
func (c *RedisCache) Close() error {
	return c.pool.Close()
}
