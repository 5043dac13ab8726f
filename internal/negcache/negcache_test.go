// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package negcache_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/mangatrack/internal/kvs"
	"github.com/taibuivan/mangatrack/internal/negcache"
)

func newTestCache(t *testing.T) *negcache.Cache {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return negcache.New(kvs.NewRedisStore(client))
}

func TestCache_SkipsAfterThresholdEmptyResults(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	for i := 0; i < negcache.DefaultThreshold-1; i++ {
		require.NoError(t, cache.RecordResult(ctx, "src-1", true))
		skip, err := cache.ShouldSkip(ctx, "src-1")
		require.NoError(t, err)
		assert.False(t, skip, "streak of %d must not skip yet", i+1)
	}

	require.NoError(t, cache.RecordResult(ctx, "src-1", true))
	skip, err := cache.ShouldSkip(ctx, "src-1")
	require.NoError(t, err)
	assert.True(t, skip)
}

func TestCache_NonEmptyResultClearsStreak(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	for i := 0; i < negcache.DefaultThreshold; i++ {
		require.NoError(t, cache.RecordResult(ctx, "src-2", true))
	}
	require.NoError(t, cache.RecordResult(ctx, "src-2", false))

	skip, err := cache.ShouldSkip(ctx, "src-2")
	require.NoError(t, err)
	assert.False(t, skip)
}

func TestCache_UnknownSourceIsNotSkipped(t *testing.T) {
	cache := newTestCache(t)

	skip, err := cache.ShouldSkip(context.Background(), "never-seen")
	require.NoError(t, err)
	assert.False(t, skip)
}
