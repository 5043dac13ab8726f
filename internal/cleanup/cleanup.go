// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package cleanup holds the retention and consistency jobs the scheduler
runs off the hot path.

It fails import jobs stuck in flight, hard-deletes soft-deleted library
entries past their grace period, prunes aged feed, notification, audit
and dead-letter rows, drops expired sessions, and reconciles the
denormalized chapters-read counter against the read ledger.

# Architecture

	scheduler sub-task → Runner.Run → Store (raw SQL, one statement per task)

Every task is independent: a failing statement is logged and the run
moves on, so one bad table cannot starve the others.
*/
package cleanup

import "time"

// Retention windows.
const (
	// Import jobs still pending or processing after this are failed.
	ImportJobTimeout = time.Hour

	// Soft-deleted library entries are hard-deleted after this.
	EntryRetention = 90 * 24 * time.Hour

	// Feed entries, notifications, audit logs and activity events.
	FeedRetention = 90 * 24 * time.Hour

	// Dead-letter rows from the worker queues.
	FailureRetention = 30 * 24 * time.Hour
)
