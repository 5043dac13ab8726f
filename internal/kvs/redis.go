// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package kvs

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements [Store] on a go-redis client.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an established Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Client exposes the underlying go-redis client for components (queue
// backplane) that need commands outside the [Store] surface.
func (store *RedisStore) Client() *redis.Client {
	return store.client
}

// Get returns the string value at key, or [ErrNotFound].
func (store *RedisStore) Get(context context.Context, key string) (string, error) {
	value, err := store.client.Get(context, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		return "", err
	}
	return value, nil
}

// Set stores value at key with a TTL.
func (store *RedisStore) Set(context context.Context, key, value string, ttl time.Duration) error {
	return store.client.Set(context, key, value, ttl).Err()
}

// SetNX stores value only if the key does not already exist.
func (store *RedisStore) SetNX(context context.Context, key, value string, ttl time.Duration) (bool, error) {
	return store.client.SetNX(context, key, value, ttl).Result()
}

// Incr atomically increments the integer at key.
func (store *RedisStore) Incr(context context.Context, key string) (int64, error) {
	return store.client.Incr(context, key).Result()
}

// IncrWithTTL increments the integer at key, applying ttl on creation.
func (store *RedisStore) IncrWithTTL(context context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := store.client.TxPipeline()
	incr := pipe.Incr(context, key)
	// NX keeps an existing window's deadline; only a fresh key gets the TTL.
	pipe.ExpireNX(context, key, ttl)
	if _, err := pipe.Exec(context); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// Expire resets the TTL on an existing key.
func (store *RedisStore) Expire(context context.Context, key string, ttl time.Duration) error {
	return store.client.PExpire(context, key, ttl).Err()
}

// TTL reports the remaining lifetime of a key.
func (store *RedisStore) TTL(context context.Context, key string) (time.Duration, error) {
	return store.client.PTTL(context, key).Result()
}

// Del removes one or more keys.
func (store *RedisStore) Del(context context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return store.client.Del(context, keys...).Err()
}

// Eval runs a Lua script.
func (store *RedisStore) Eval(context context.Context, script string, keys []string, args ...any) (any, error) {
	return store.client.Eval(context, script, keys, args...).Result()
}

// ZAdd adds a member with a score to a sorted set.
func (store *RedisStore) ZAdd(context context.Context, key string, score float64, member string) error {
	return store.client.ZAdd(context, key, redis.Z{Score: score, Member: member}).Err()
}

// zpopByScoreScript pops up to ARGV[2] members with score <= ARGV[1].
// Range + removal run inside one script so concurrent consumers never
// observe the same member.
const zpopByScoreScript = `
local members = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, member in ipairs(members) do
    redis.call('ZREM', KEYS[1], member)
end
return members
`

// ZPopByScore atomically removes and returns due members of a sorted set.
func (store *RedisStore) ZPopByScore(context context.Context, key string, max float64, count int) ([]string, error) {
	result, err := store.client.Eval(context, zpopByScoreScript, []string{key}, max, count).Result()
	if err != nil {
		return nil, err
	}

	raw, ok := result.([]any)
	if !ok {
		return nil, nil
	}

	members := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			members = append(members, s)
		}
	}
	return members, nil
}

// ZCard returns the cardinality of a sorted set.
func (store *RedisStore) ZCard(context context.Context, key string) (int64, error) {
	return store.client.ZCard(context, key).Result()
}
