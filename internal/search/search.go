// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package search implements storm control for external discovery searches.

A trending query can arrive from thousands of users within seconds; without
collapse every one of them would fan out to the external catalogs. The
controller guarantees at most one external search per normalized query
within the cooldown window, defers overflow onto a weighted queue, and
replays deferred queries with a fair-share split so free users are never
starved behind premium traffic.

Architecture:

  - Controller: the admission gates (threshold, cooldown, active job,
    queue health) backed by QueryStats rows and the queue manager.
  - Deferred queue: two KVS sorted sets (priority / standard) scored by
    the earliest allowed replay time.
  - Promoter: scheduler sub-task popping ready deferred queries 70/30.
  - Worker: consumes external-search jobs, runs the discovery provider,
    attaches hits to the catalog and requests their first sync.
*/
package search

import (
	"strings"
	"time"
)

// # Admission Gates
const (
	// StormThreshold is the minimum lifetime search count before a query
	// earns an external lookup. One-off typos never leave the building.
	StormThreshold = 3

	// EnqueueCooldown is the per-query minimum spacing between external
	// searches.
	EnqueueCooldown = 30 * time.Second

	// UnhealthyWaiting marks the search queue as overloaded; above it new
	// queries are deferred instead of enqueued.
	UnhealthyWaiting = 100
)

// Denial reasons returned by the controller.
const (
	ReasonBelowThreshold = "below_threshold"
	ReasonCooldown       = "cooldown"
	ReasonActiveJob      = "active_job"
	ReasonQueueUnhealthy = "queue_unhealthy"
	ReasonEnqueued       = "enqueued"
)

// # Deferred Queue

// Class buckets the requesting user for deferral weighting.
type Class int

const (
	ClassFree Class = iota
	ClassLoggedIn
	ClassPremium
)

// Defer weights: how long a deferred query of each class waits before it
// becomes eligible for replay.
const (
	DeferPremium  = 0
	DeferLoggedIn = 2 * time.Minute
	DeferFree     = 10 * time.Minute
)

// Deferred queue keys in the KVS.
const (
	deferredPriorityKey = "search:deferred:priority"
	deferredStandardKey = "search:deferred:standard"
)

// Fair-share split when promoting deferred queries: 7 of 10 slots from
// the priority set, 3 from standard, each side absorbing the other's
// unused slots.
const (
	promoteBatch  = 10
	prioritySlots = 7
	standardSlots = 3
)

// Payload is the body of an external-search job.
type Payload struct {
	Query string `json:"query"`
}

// Decision is the controller's verdict for one search request.
type Decision struct {
	ShouldEnqueue bool   `json:"should_enqueue"`
	Reason        string `json:"reason"`
}

// NormalizeKey canonicalizes a query: lowercase, trimmed, inner
// whitespace collapsed to single spaces. The key is also the search job's
// dedup id.
func NormalizeKey(query string) string {
	return strings.ToLower(strings.Join(strings.Fields(query), " "))
}

// JobID builds the dedup id for a query's search job.
func JobID(normalizedKey string) string {
	return "search-" + normalizedKey
}
