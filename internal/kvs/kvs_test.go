// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package kvs_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/mangatrack/internal/kvs"
)

// newTestStore spins up an in-process Redis and returns a wrapped store.
func newTestStore(t *testing.T) *kvs.RedisStore {
	t.Helper()

	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return kvs.NewRedisStore(client)
}

func TestStore_GetSet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, kvs.ErrNotFound)

	require.NoError(t, store.Set(ctx, "feed:v:u1", "3", time.Minute))

	value, err := store.Get(ctx, "feed:v:u1")
	require.NoError(t, err)
	assert.Equal(t, "3", value)
}

func TestStore_IncrWithTTL(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.IncrWithTTL(ctx, "neg:src1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), first)

	second, err := store.IncrWithTTL(ctx, "neg:src1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), second)

	ttl, err := store.TTL(ctx, "neg:src1")
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestStore_ZPopByScore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.ZAdd(ctx, "deferred", 100, "one piece"))
	require.NoError(t, store.ZAdd(ctx, "deferred", 200, "berserk"))
	require.NoError(t, store.ZAdd(ctx, "deferred", 900, "future"))

	due, err := store.ZPopByScore(ctx, "deferred", 500, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"one piece", "berserk"}, due)

	// Popped members must be gone.
	remaining, err := store.ZCard(ctx, "deferred")
	require.NoError(t, err)
	assert.Equal(t, int64(1), remaining)
}

func TestLock_SingleHolder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	lock, err := kvs.AcquireLock(ctx, store, "workers:global", time.Minute)
	require.NoError(t, err)

	_, err = kvs.AcquireLock(ctx, store, "workers:global", time.Minute)
	assert.ErrorIs(t, err, kvs.ErrLockHeld)

	require.NoError(t, lock.Renew(ctx))
	require.NoError(t, lock.Release(ctx))

	// Released lock can be re-acquired by a new holder.
	second, err := kvs.AcquireLock(ctx, store, "workers:global", time.Minute)
	require.NoError(t, err)
	require.NoError(t, second.Release(ctx))
}

func TestLock_ReleaseLostLockIsNoop(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	lock, err := kvs.AcquireLock(ctx, store, "ingest:s1:12", time.Minute)
	require.NoError(t, err)

	// Simulate expiry + takeover by another holder.
	require.NoError(t, store.Del(ctx, "ingest:s1:12"))
	other, err := kvs.AcquireLock(ctx, store, "ingest:s1:12", time.Minute)
	require.NoError(t, err)

	require.NoError(t, lock.Release(ctx))

	// The takeover holder's lock must still be there.
	_, err = store.Get(ctx, "ingest:s1:12")
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))
}
