// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taibuivan/mangatrack/pkg/uuid"
)

// # Key Layout
//
// q:<name>:jobs     HASH  jobId -> job JSON (present while waiting/delayed/active)
// q:<name>:ready    ZSET  jobId scored by priority then enqueue time
// q:<name>:delayed  ZSET  jobId scored by runAt (unix millis)
// q:<name>:active   SET   jobIds currently held by a worker
// q:<name>:activets ZSET  jobId scored by claim time (unix millis); drives
//                         stalled-job recovery when a worker dies mid-job
//
// The jobs hash doubles as the dedup index: an add() for an id that is
// already present anywhere in the lifecycle is dropped.

// addScript enqueues a job unless its id is already known.
// The ready score is memoized in the prio hash so delayed jobs keep their
// priority when promoted. Returns 1 when enqueued, 0 when deduplicated.
const addScript = `
if redis.call('HEXISTS', KEYS[1], ARGV[1]) == 1 then
    return 0
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
redis.call('HSET', KEYS[4], ARGV[1], ARGV[3])
if ARGV[5] == '1' then
    redis.call('ZADD', KEYS[3], ARGV[4], ARGV[1])
else
    redis.call('ZADD', KEYS[2], ARGV[3], ARGV[1])
end
return 1
`

// Manager is the enqueue and inspection API for all queues.
type Manager struct {
	client *redis.Client
	log    *slog.Logger
}

// NewManager constructs a queue [Manager] on the shared Redis backplane.
func NewManager(client *redis.Client, log *slog.Logger) *Manager {
	return &Manager{client: client, log: log}
}

// # Enqueueing

/*
Add enqueues a single job.

Description: When opts.JobID is set and a job with that id is already
waiting, delayed, or active, the call is a no-op and returns (false, nil).
This is the dedup contract the gatekeeper and ingest pipeline rely on.

Parameters:
  - context: context.Context
  - queueName: string (one of the Queue* constants)
  - name: string (operation label)
  - payload: any (JSON-encoded into the job)
  - opts: Options

Returns:
  - bool: true when the job was enqueued, false when deduplicated
  - error: Backplane failures
*/
func (manager *Manager) Add(context context.Context, queueName, name string, payload any, opts Options) (bool, error) {
	job, err := buildJob(queueName, name, payload, opts)
	if err != nil {
		return false, err
	}
	return manager.push(context, job)
}

/*
AddBulk enqueues a batch of jobs atomically.

Description: All adds run inside one pipeline; individual jobs may still be
deduplicated by jobId.

Returns:
  - int: number of jobs actually enqueued (not deduplicated)
  - error: Backplane failures
*/
func (manager *Manager) AddBulk(context context.Context, queueName string, jobs []BulkJob) (int, error) {
	enqueued := 0
	for _, bulk := range jobs {
		job, err := buildJob(queueName, bulk.Name, bulk.Payload, bulk.Options)
		if err != nil {
			return enqueued, err
		}
		added, err := manager.push(context, job)
		if err != nil {
			return enqueued, err
		}
		if added {
			enqueued++
		}
	}
	return enqueued, nil
}

// BulkJob is one element of an [Manager.AddBulk] batch.
type BulkJob struct {
	Name    string
	Payload any
	Options Options
}

// push writes the job into the backplane with dedup.
func (manager *Manager) push(context context.Context, job *Job) (bool, error) {
	encoded, err := json.Marshal(job)
	if err != nil {
		return false, fmt.Errorf("queue: marshal job: %w", err)
	}

	delayed := "0"
	if job.RunAt.After(time.Now()) {
		delayed = "1"
	}

	result, err := manager.client.Eval(context, addScript,
		[]string{jobsKey(job.Queue), readyKey(job.Queue), delayedKey(job.Queue), prioKey(job.Queue)},
		job.ID, string(encoded), readyScore(job), float64(job.RunAt.UnixMilli()), delayed,
	).Result()
	if err != nil {
		return false, fmt.Errorf("queue: add %s/%s: %w", job.Queue, job.ID, err)
	}

	added := result == int64(1)
	if added {
		manager.log.Debug("job_enqueued",
			slog.String("queue", job.Queue),
			slog.String("job_id", job.ID),
			slog.Int("priority", job.Priority),
		)
	}
	return added, nil
}

// # Inspection

// GetJob loads a job by id, or nil when it is no longer in the lifecycle.
func (manager *Manager) GetJob(context context.Context, queueName, jobID string) (*Job, error) {
	raw, err := manager.client.HGet(context, jobsKey(queueName), jobID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("queue: get job: %w", err)
	}

	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("queue: corrupt job %s/%s: %w", queueName, jobID, err)
	}
	return &job, nil
}

// IsPending reports whether a jobId is anywhere in the lifecycle
// (waiting, delayed, or active). The gatekeeper dedup check.
func (manager *Manager) IsPending(context context.Context, queueName, jobID string) (bool, error) {
	exists, err := manager.client.HExists(context, jobsKey(queueName), jobID).Result()
	if err != nil {
		return false, fmt.Errorf("queue: pending check: %w", err)
	}
	return exists, nil
}

// Counts summarizes a queue's depth per state.
type Counts struct {
	Waiting int64 `json:"waiting"`
	Delayed int64 `json:"delayed"`
	Active  int64 `json:"active"`
}

// GetJobCounts returns waiting/delayed/active depths for a queue.
func (manager *Manager) GetJobCounts(context context.Context, queueName string) (Counts, error) {
	pipe := manager.client.Pipeline()
	waiting := pipe.ZCard(context, readyKey(queueName))
	delayed := pipe.ZCard(context, delayedKey(queueName))
	active := pipe.SCard(context, activeKey(queueName))
	if _, err := pipe.Exec(context); err != nil {
		return Counts{}, fmt.Errorf("queue: counts: %w", err)
	}

	return Counts{
		Waiting: waiting.Val(),
		Delayed: delayed.Val(),
		Active:  active.Val(),
	}, nil
}

// # Internals

func buildJob(queueName, name string, payload any, opts Options) (*Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("queue: marshal payload: %w", err)
	}

	jobID := opts.JobID
	if jobID == "" {
		jobID = uuid.New()
	}

	priority := opts.Priority
	if priority == 0 {
		priority = PriorityStandard
	}

	now := time.Now()
	runAt := now
	if opts.Delay > 0 {
		runAt = now.Add(opts.Delay)
	}

	return &Job{
		ID:          jobID,
		Name:        name,
		Queue:       queueName,
		Payload:     raw,
		Priority:    priority,
		Attempts:    0,
		MaxAttempts: opts.Attempts,
		BackoffBase: opts.Backoff,
		RunAt:       runAt,
		CreatedAt:   now,
	}, nil
}

// readyScore orders the ready set by priority class first, FIFO within
// a class. Priorities are small integers, so a millisecond clock in the
// low digits never crosses class boundaries.
func readyScore(job *Job) float64 {
	return float64(job.Priority)*1e13 + float64(job.CreatedAt.UnixMilli())
}

func jobsKey(queue string) string     { return "q:" + queue + ":jobs" }
func prioKey(queue string) string     { return "q:" + queue + ":prio" }
func readyKey(queue string) string    { return "q:" + queue + ":ready" }
func delayedKey(queue string) string  { return "q:" + queue + ":delayed" }
func activeKey(queue string) string   { return "q:" + queue + ":active" }
func activeTsKey(queue string) string { return "q:" + queue + ":activets" }
