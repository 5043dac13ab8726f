// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package queue provides named durable work queues on the Redis backplane.

It is the delivery backbone for the ingestion pipeline: source polls, chapter
ingestion, feed fan-out, notifications, imports, and discovery searches all
flow through these queues.

Architecture:

  - Manager: enqueue API with aggressive jobId deduplication.
  - Worker: per-queue handler loop with bounded concurrency.
  - Backoff: exponential retry schedule with jitter for transient failures.
  - FailureStore: dead-letter persistence for jobs that exhaust retries.

Delivery is at-least-once; handlers must be idempotent. A job whose jobId is
already waiting, delayed, or active is never enqueued twice.
*/
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// # Queue Names

const (
	QueueSyncSource    = "sync-source"
	QueueChapterIngest = "chapter-ingest"
	QueueCheckSource   = "check-source"
	QueueGapRecovery   = "gap-recovery"
	QueueFeedFanout    = "feed-fanout"
	QueueNotification  = "notification-delivery"
	QueueLibraryImport = "library-import"
	QueueMetadata      = "metadata-resolve"
	QueueSearch        = "external-search"
)

// # Priorities

// Job priority classes. Lower values are served first.
const (
	PriorityCritical = 1
	PriorityHigh     = 5
	PriorityStandard = 10
	PriorityLow      = 20
)

// # Job Model

// Job is one unit of queued work.
type Job struct {
	// ID is the dedup key. Jobs with an ID already present in the queue
	// (waiting, delayed, or active) are silently dropped on add.
	ID string `json:"id"`
	// Name labels the operation for handlers and failure records.
	Name string `json:"name"`
	// Queue is the owning queue name.
	Queue string `json:"queue"`
	// Payload is the handler-defined JSON body.
	Payload json.RawMessage `json:"payload"`
	// Priority is one of the Priority* classes.
	Priority int `json:"priority"`
	// Attempts counts delivery attempts so far.
	Attempts int `json:"attempts"`
	// MaxAttempts bounds retries; the final failure goes to the DLQ.
	MaxAttempts int `json:"max_attempts"`
	// BackoffBase seeds the exponential retry schedule.
	BackoffBase time.Duration `json:"backoff_base"`
	// RunAt defers execution into the future (delayed jobs).
	RunAt time.Time `json:"run_at"`
	// CreatedAt is the first-enqueue timestamp.
	CreatedAt time.Time `json:"created_at"`
	// LastError carries the previous attempt's failure message.
	LastError string `json:"last_error,omitempty"`
}

// Options tunes a single enqueue call.
type Options struct {
	// JobID overrides the generated id to enable deduplication.
	JobID string
	// Priority defaults to [PriorityStandard] when zero.
	Priority int
	// Attempts defaults to the queue's configured attempt count.
	Attempts int
	// Backoff defaults to the queue's configured base delay.
	Backoff time.Duration
	// Delay schedules the job for now+Delay instead of immediately.
	Delay time.Duration
}

// Config holds per-queue behavior. Registered once at process start.
type Config struct {
	// Name is the queue identifier.
	Name string
	// Concurrency is the number of parallel handler slots.
	Concurrency int
	// DefaultAttempts bounds retries for jobs that do not override it.
	DefaultAttempts int
	// DefaultBackoff seeds the exponential retry schedule.
	DefaultBackoff time.Duration
	// JobTimeout aborts a single handler invocation.
	JobTimeout time.Duration
	// RateMax and RatePer cap throughput globally across workers
	// (RateMax jobs per RatePer). Zero RateMax disables the cap.
	RateMax int
	RatePer time.Duration
}

// # Failure Classification

// permanentError marks failures that must not be retried.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the worker sends the job straight to the DLQ
// instead of retrying. Unwrapped errors are treated as transient.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err (or its chain) is a permanent failure.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// # Payload Helpers

// Unmarshal decodes a job payload into target, flagging malformed payloads
// as permanent so they dead-letter immediately.
func Unmarshal(job *Job, target any) error {
	if err := json.Unmarshal(job.Payload, target); err != nil {
		return Permanent(fmt.Errorf("queue: malformed payload on %s/%s: %w", job.Queue, job.ID, err))
	}
	return nil
}

// MustPayload encodes a payload value, panicking on marshal failure.
// Payload types are plain structs; a marshal failure is a programming error.
func MustPayload(value any) json.RawMessage {
	raw, err := json.Marshal(value)
	if err != nil {
		panic("queue: unmarshalable payload: " + err.Error())
	}
	return raw
}
