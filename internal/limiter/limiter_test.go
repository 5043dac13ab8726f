// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package limiter_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/mangatrack/internal/kvs"
	"github.com/taibuivan/mangatrack/internal/limiter"
)

func newTestLimiter(t *testing.T, limits map[string]limiter.Limit) (*limiter.SourceLimiter, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return limiter.New(kvs.NewRedisStore(client), limits, slog.Default()), server
}

func TestAcquire_WithinBudget(t *testing.T) {
	source := limiter.Limit{Requests: 3, Window: time.Second}
	lim, _ := newTestLimiter(t, map[string]limiter.Limit{"mangadex": source})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		acquired, err := lim.Acquire(ctx, "mangadex", 10*time.Millisecond)
		require.NoError(t, err)
		assert.True(t, acquired, "token %d should be granted", i+1)
	}

	// Budget exhausted within the window.
	acquired, err := lim.Acquire(ctx, "mangadex", 10*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, acquired)
}

func TestAcquire_UnknownSourceUsesDefault(t *testing.T) {
	lim, _ := newTestLimiter(t, nil)
	ctx := context.Background()

	acquired, err := lim.Acquire(ctx, "some-new-source", 10*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestAcquire_FailsOpenWhenBackplaneDown(t *testing.T) {
	source := limiter.Limit{Requests: 2, Window: time.Second}
	lim, server := newTestLimiter(t, map[string]limiter.Limit{"mangadex": source})
	ctx := context.Background()

	server.Close()

	// KVS unreachable: the local bucket still hands out tokens.
	acquired, err := lim.Acquire(ctx, "mangadex", 100*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, acquired)
}
