// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package kvs defines the key-value capability boundary for the platform.

Every component that needs short-lived shared state — rate-limit windows,
negative-result counters, feed cache versions, queue backplane, distributed
locks — talks to the [Store] interface instead of a concrete Redis client.

Architecture:

  - Store: the minimal command surface the application actually uses.
  - RedisStore: the production implementation backed by go-redis.
  - Lock: SET NX PX acquisition with a Lua compare-and-delete release.

Keeping the surface narrow lets tests swap in miniredis and keeps the rest
of the codebase decoupled from the driver.
*/
package kvs

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("kvs: key not found")

// Store is the key-value command surface used across the platform.
//
// # Concurrency
//
// All methods are safe for concurrent use. Counters and windows are
// best-effort shared state; callers must tolerate contention.
type Store interface {
	// Get returns the string value at key, or [ErrNotFound].
	Get(context context.Context, key string) (string, error)

	// Set stores value at key with a TTL. A zero TTL means no expiry.
	Set(context context.Context, key, value string, ttl time.Duration) error

	// SetNX stores value only if the key does not exist. Returns true when
	// the value was written.
	SetNX(context context.Context, key, value string, ttl time.Duration) (bool, error)

	// Incr atomically increments the integer at key and returns the new value.
	Incr(context context.Context, key string) (int64, error)

	// IncrWithTTL increments the integer at key and applies ttl when the
	// increment created the key. Used for rolling counters and windows.
	IncrWithTTL(context context.Context, key string, ttl time.Duration) (int64, error)

	// Expire resets the TTL on an existing key.
	Expire(context context.Context, key string, ttl time.Duration) error

	// TTL reports the remaining lifetime of a key. Negative when absent.
	TTL(context context.Context, key string) (time.Duration, error)

	// Del removes one or more keys.
	Del(context context.Context, keys ...string) error

	// Eval runs a Lua script with the given keys and arguments.
	Eval(context context.Context, script string, keys []string, args ...any) (any, error)

	// ZAdd adds a member with a score to a sorted set.
	ZAdd(context context.Context, key string, score float64, member string) error

	// ZPopByScore atomically removes and returns up to count members with
	// score <= max, lowest scores first.
	ZPopByScore(context context.Context, key string, max float64, count int) ([]string, error)

	// ZCard returns the cardinality of a sorted set.
	ZCard(context context.Context, key string) (int64, error)
}
