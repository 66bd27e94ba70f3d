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
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/anchorgraph/services/anchorgraph/anchor"
	"github.com/AleutianAI/anchorgraph/services/anchorgraph/memory"
	badgerstore "github.com/AleutianAI/anchorgraph/services/anchorgraph/storage/badger"
)

type failingStore struct{}

func (failingStore) Stats(context.Context) (badgerstore.Stats, error) {
	return badgerstore.Stats{}, errors.New("disk on fire")
}

func newTestStore(t *testing.T) *badgerstore.Store {
	t.Helper()
	store, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func serve(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

// TestNew_RequiresStore verifies the store is mandatory.
func TestNew_RequiresStore(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

// TestHealth verifies the health endpoint with and without a reachable
// cache.
func TestHealth(t *testing.T) {
	store := newTestStore(t)

	s, err := New(Config{Store: store, Cache: memory.NewTTLCache(time.Minute)})
	require.NoError(t, err)
	rec := serve(t, s, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	var body HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, HealthResponse{Status: "healthy", Cache: "memory"}, body)

	mr := miniredis.RunT(t)
	rc, err := memory.NewRedisCache(memory.RedisConfig{Address: mr.Addr(), DialTimeout: 200 * time.Millisecond})
	require.NoError(t, err)
	defer rc.Close()
	s, err = New(Config{Store: store, Cache: rc})
	require.NoError(t, err)

	rec = serve(t, s, http.MethodGet, "/health")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)

	mr.Close()
	rec = serve(t, s, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "redis", body.Cache)
	assert.NotEmpty(t, body.Error)
}

// TestStats verifies store, cache and collection statistics.
func TestStats(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	id, err := store.NextID(ctx)
	require.NoError(t, err)
	root := &anchor.Anchor{ID: id, Kind: anchor.KindNode, Type: anchor.TypeRoot, Root: id}
	_, _, err = store.BindRoot(ctx, "alice", root)
	require.NoError(t, err)

	cache := memory.NewTTLCache(time.Minute)
	require.NoError(t, cache.Set(ctx, root))
	_, _, _ = cache.Get(ctx, root.ID)

	collector, err := badgerstore.NewCollector(store, time.Hour, nil)
	require.NoError(t, err)

	s, err := New(Config{Store: store, Cache: cache, Collector: collector})
	require.NoError(t, err)

	rec := serve(t, s, http.MethodGet, "/v1/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	var body StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Store.Anchors)
	assert.Equal(t, 1, body.Store.Roots)
	assert.Equal(t, "memory", body.Cache.Backend)
	assert.Equal(t, "1m0s", body.Cache.TTL)
	require.NotNil(t, body.Cache.Memory)
	assert.Equal(t, int64(1), body.Cache.Memory.Hits)
	assert.Nil(t, body.Cache.Redis)
	require.NotNil(t, body.GC)
}

// TestStats_StoreFailure verifies store errors surface as 500.
func TestStats_StoreFailure(t *testing.T) {
	s, err := New(Config{Store: failingStore{}})
	require.NoError(t, err)
	rec := serve(t, s, http.MethodGet, "/v1/stats")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "disk on fire")
}

// TestGC verifies on-demand collection.
func TestGC(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	orphanID, err := store.NextID(ctx)
	require.NoError(t, err)
	orphan := &anchor.Anchor{ID: orphanID, Kind: anchor.KindNode, Type: "note", Root: 999}
	require.NoError(t, store.Commit(ctx, &anchor.Batch{Puts: []*anchor.Anchor{orphan}}))

	s, err := New(Config{Store: store})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, serve(t, s, http.MethodPost, "/v1/gc").Code)

	collector, err := badgerstore.NewCollector(store, time.Hour, nil)
	require.NoError(t, err)
	s, err = New(Config{Store: store, Collector: collector})
	require.NoError(t, err)

	rec := serve(t, s, http.MethodPost, "/v1/gc")
	require.Equal(t, http.StatusOK, rec.Code)
	var res badgerstore.CollectResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 1, res.Swept)

	_, err = store.Get(ctx, orphanID)
	assert.ErrorIs(t, err, anchor.ErrNotFound)
	assert.Equal(t, 1, collector.Last().Swept)

	rec = serve(t, s, http.MethodPost, "/v1/gc")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

// TestMetrics verifies the Prometheus endpoint is mounted.
func TestMetrics(t *testing.T) {
	s, err := New(Config{Store: newTestStore(t)})
	require.NoError(t, err)
	rec := serve(t, s, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "go_goroutines"))

	custom := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("anchorgraph_custom 1\n"))
	})
	s, err = New(Config{Store: newTestStore(t), Metrics: custom})
	require.NoError(t, err)
	rec = serve(t, s, http.MethodGet, "/metrics")
	assert.Contains(t, rec.Body.String(), "anchorgraph_custom")
}

// TestServe verifies the server stops when its context ends.
func TestServe(t *testing.T) {
	s, err := New(Config{Store: newTestStore(t), Listen: "127.0.0.1:0"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
}
