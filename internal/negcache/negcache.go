// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package negcache tracks sources that keep coming back empty.

A source that repeatedly returns zero chapters is very likely dormant;
polling it at full cadence wastes crawl budget and invites bans. The
scheduler consults this cache and skips sources whose empty-streak crossed
the threshold within the rolling window.
*/
package negcache

import (
	stdctx "context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/taibuivan/mangatrack/internal/kvs"
)

const (
	// DefaultThreshold is the empty-result streak that triggers skipping.
	DefaultThreshold = 3
	// DefaultWindow is the rolling TTL of the streak counter.
	DefaultWindow = 6 * time.Hour
)

// Cache is the negative-result cache keyed by series-source id.
type Cache struct {
	store     kvs.Store
	threshold int64
	window    time.Duration
}

// New constructs a [Cache] with the default threshold and window.
func New(store kvs.Store) *Cache {
	return &Cache{store: store, threshold: DefaultThreshold, window: DefaultWindow}
}

/*
RecordResult updates the streak for a series-source after a poll.

Description: An empty poll increments the counter and refreshes the rolling
TTL; a non-empty poll clears it entirely.

Parameters:
  - context: context.Context
  - seriesSourceID: string
  - empty: bool (whether the poll returned zero chapters)

Returns:
  - error: KVS failures
*/
func (cache *Cache) RecordResult(context stdctx.Context, seriesSourceID string, empty bool) error {
	key := cache.key(seriesSourceID)

	if !empty {
		if err := cache.store.Del(context, key); err != nil {
			return fmt.Errorf("negcache: clear: %w", err)
		}
		return nil
	}

	if _, err := cache.store.IncrWithTTL(context, key, cache.window); err != nil {
		return fmt.Errorf("negcache: increment: %w", err)
	}
	// Rolling window: every empty result pushes the expiry out again.
	if err := cache.store.Expire(context, key, cache.window); err != nil {
		return fmt.Errorf("negcache: refresh ttl: %w", err)
	}
	return nil
}

// ShouldSkip reports whether the source's empty-streak crossed the
// threshold inside the window.
func (cache *Cache) ShouldSkip(context stdctx.Context, seriesSourceID string) (bool, error) {
	value, err := cache.store.Get(context, cache.key(seriesSourceID))
	if err != nil {
		if errors.Is(err, kvs.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("negcache: lookup: %w", err)
	}

	count, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return false, nil
	}
	return count >= cache.threshold, nil
}

func (cache *Cache) key(seriesSourceID string) string {
	return "negcache:" + seriesSourceID
}
