// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Handler processes one job. Returning an error wrapped with [Permanent]
// dead-letters the job immediately; any other error retries with backoff
// until MaxAttempts, after which the job is dead-lettered.
type Handler func(context context.Context, job *Job) error

// FailureStore persists dead-lettered jobs. Implemented on Postgres.
type FailureStore interface {
	RecordFailure(context context.Context, job *Job, failure error) error
}

// promoteScript moves due delayed jobs into the ready set, restoring each
// job's memoized priority score.
const promoteScript = `
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 100)
for _, id in ipairs(due) do
    redis.call('ZREM', KEYS[1], id)
    local score = redis.call('HGET', KEYS[3], id)
    if not score then
        score = ARGV[2]
    end
    redis.call('ZADD', KEYS[2], tonumber(score), id)
end
return #due
`

// claimScript pops the highest-priority ready job and marks it active,
// recording the claim time for stalled-job recovery.
// Returns the job JSON or false when the queue is empty.
const claimScript = `
local popped = redis.call('ZPOPMIN', KEYS[1], 1)
if #popped == 0 then
    return false
end
local id = popped[1]
redis.call('SADD', KEYS[2], id)
redis.call('ZADD', KEYS[4], tonumber(ARGV[1]), id)
return redis.call('HGET', KEYS[3], id)
`

// reapScript requeues active jobs whose claim timestamp is older than the
// stall cutoff. A job only re-enters the ready set while its JSON is still
// in the jobs hash, so completed work is never resurrected.
const reapScript = `
local stalled = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 100)
for _, id in ipairs(stalled) do
    redis.call('ZREM', KEYS[1], id)
    redis.call('SREM', KEYS[2], id)
    if redis.call('HEXISTS', KEYS[4], id) == 1 then
        local score = redis.call('HGET', KEYS[5], id)
        if not score then
            score = ARGV[2]
        end
        redis.call('ZADD', KEYS[3], tonumber(score), id)
    end
end
return #stalled
`

// stallGrace pads the stall cutoff past JobTimeout so a handler that is
// merely slow to settle is not requeued out from under its worker.
const stallGrace = 30 * time.Second

// Worker runs a handler against one queue with bounded concurrency.
//
// # Lifecycle
//
// Start spawns Concurrency polling goroutines. Each claims one job at a
// time, so in-flight work never exceeds the concurrency limit. Stop is
// cooperative: cancelling the context stops claiming; Wait blocks until
// in-flight handlers finish.
//
// A job claimed by a worker that never settles it (process killed mid-job)
// is requeued by any live worker once its claim age exceeds JobTimeout
// plus a grace period.
type Worker struct {
	config   Config
	handler  Handler
	client   *redis.Client
	failures FailureStore
	log      *slog.Logger
	wg       sync.WaitGroup
}

// NewWorker wires a handler to a queue.
func NewWorker(config Config, handler Handler, client *redis.Client, failures FailureStore, log *slog.Logger) *Worker {
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.DefaultAttempts <= 0 {
		config.DefaultAttempts = 3
	}
	if config.DefaultBackoff <= 0 {
		config.DefaultBackoff = 5 * time.Second
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = 30 * time.Second
	}

	return &Worker{
		config:   config,
		handler:  handler,
		client:   client,
		failures: failures,
		log:      log.With(slog.String("queue", config.Name)),
	}
}

// Start launches the polling goroutines. Non-blocking.
func (worker *Worker) Start(context context.Context) {
	for slot := 0; slot < worker.config.Concurrency; slot++ {
		worker.wg.Add(1)
		go worker.run(context, slot)
	}
}

// Wait blocks until all polling goroutines have drained.
func (worker *Worker) Wait() {
	worker.wg.Wait()
}

// run is one concurrency slot's claim-process loop.
func (worker *Worker) run(runCtx context.Context, slot int) {
	defer worker.wg.Done()

	idleDelay := 250 * time.Millisecond

	for {
		select {
		case <-runCtx.Done():
			return
		default:
		}

		job, err := worker.claim(runCtx)
		if err != nil {
			if runCtx.Err() != nil {
				return
			}
			worker.log.Error("queue_claim_failed", slog.Any("error", err), slog.Int("slot", slot))
			sleep(runCtx, time.Second)
			continue
		}

		if job == nil {
			sleep(runCtx, idleDelay)
			continue
		}

		worker.process(runCtx, job)
	}
}

// claim promotes due delayed jobs, requeues stalled active jobs, honors
// the global rate cap, and pops one ready job into the active set.
func (worker *Worker) claim(claimCtx context.Context) (*Job, error) {
	now := time.Now().UnixMilli()
	defaultScore := float64(PriorityStandard)*1e13 + float64(now)

	_, err := worker.client.Eval(claimCtx, promoteScript,
		[]string{delayedKey(worker.config.Name), readyKey(worker.config.Name), prioKey(worker.config.Name)},
		now, defaultScore,
	).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: promote: %w", err)
	}

	worker.reapStalled(claimCtx, now, defaultScore)

	if !worker.rateAllows(claimCtx) {
		return nil, nil
	}

	raw, err := worker.client.Eval(claimCtx, claimScript,
		[]string{readyKey(worker.config.Name), activeKey(worker.config.Name), jobsKey(worker.config.Name), activeTsKey(worker.config.Name)},
		now,
	).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("queue: claim: %w", err)
	}

	encoded, ok := raw.(string)
	if !ok || encoded == "" {
		return nil, nil
	}

	var job Job
	if err := json.Unmarshal([]byte(encoded), &job); err != nil {
		return nil, fmt.Errorf("queue: corrupt job: %w", err)
	}
	return &job, nil
}

// reapStalled requeues jobs whose claiming worker died (SIGKILL, crash,
// or a missed drain deadline). The cutoff is JobTimeout plus a grace
// period, so only claims that can no longer be in flight are recovered.
// Best effort: a reap failure just leaves the job for the next pass.
func (worker *Worker) reapStalled(reapCtx context.Context, now int64, defaultScore float64) {
	cutoff := now - (worker.config.JobTimeout + stallGrace).Milliseconds()

	reaped, err := worker.client.Eval(reapCtx, reapScript,
		[]string{activeTsKey(worker.config.Name), activeKey(worker.config.Name), readyKey(worker.config.Name), jobsKey(worker.config.Name), prioKey(worker.config.Name)},
		cutoff, defaultScore,
	).Result()
	if err != nil {
		worker.log.Error("queue_reap_failed", slog.Any("error", err))
		return
	}
	if count, ok := reaped.(int64); ok && count > 0 {
		worker.log.Warn("stalled_jobs_requeued", slog.Int64("count", count))
	}
}

// rateAllows enforces the queue's global RateMax/RatePer window across all
// worker processes via a shared rolling counter.
func (worker *Worker) rateAllows(rateCtx context.Context) bool {
	if worker.config.RateMax <= 0 {
		return true
	}

	window := time.Now().UnixMilli() / worker.config.RatePer.Milliseconds()
	key := fmt.Sprintf("q:%s:rate:%d", worker.config.Name, window)

	pipe := worker.client.TxPipeline()
	count := pipe.Incr(rateCtx, key)
	pipe.PExpire(rateCtx, key, worker.config.RatePer)
	if _, err := pipe.Exec(rateCtx); err != nil {
		// Best-effort limiting: a backplane hiccup must not stall the queue.
		return true
	}
	return count.Val() <= int64(worker.config.RateMax)
}

// process runs the handler and settles the job.
func (worker *Worker) process(processCtx context.Context, job *Job) {
	job.Attempts++

	jobCtx, cancel := context.WithTimeout(processCtx, worker.config.JobTimeout)
	handlerErr := worker.safeHandle(jobCtx, job)
	cancel()

	if handlerErr == nil {
		worker.complete(processCtx, job)
		return
	}

	maxAttempts := job.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = worker.config.DefaultAttempts
	}

	job.LastError = handlerErr.Error()

	// Permanent failures dead-letter on first occurrence; transient
	// failures retry until the attempt budget is spent.
	if IsPermanent(handlerErr) || job.Attempts >= maxAttempts {
		worker.deadLetter(processCtx, job, handlerErr)
		return
	}

	worker.retry(processCtx, job)
}

// safeHandle shields the loop from handler panics.
func (worker *Worker) safeHandle(jobCtx context.Context, job *Job) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("queue: handler panic: %v", recovered)
		}
	}()
	return worker.handler(jobCtx, job)
}

// complete removes a finished job from the lifecycle.
func (worker *Worker) complete(completeCtx context.Context, job *Job) {
	pipe := worker.client.TxPipeline()
	pipe.SRem(completeCtx, activeKey(job.Queue), job.ID)
	pipe.ZRem(completeCtx, activeTsKey(job.Queue), job.ID)
	pipe.HDel(completeCtx, jobsKey(job.Queue), job.ID)
	pipe.HDel(completeCtx, prioKey(job.Queue), job.ID)
	if _, err := pipe.Exec(completeCtx); err != nil {
		worker.log.Error("queue_complete_failed", slog.String("job_id", job.ID), slog.Any("error", err))
	}
}

// retry reschedules a transiently-failed job with exponential backoff.
func (worker *Worker) retry(retryCtx context.Context, job *Job) {
	base := job.BackoffBase
	if base <= 0 {
		base = worker.config.DefaultBackoff
	}

	delay := NextDelay(base, job.Attempts)
	job.RunAt = time.Now().Add(delay)

	encoded, err := json.Marshal(job)
	if err != nil {
		worker.log.Error("queue_retry_marshal_failed", slog.String("job_id", job.ID), slog.Any("error", err))
		return
	}

	pipe := worker.client.TxPipeline()
	pipe.SRem(retryCtx, activeKey(job.Queue), job.ID)
	pipe.ZRem(retryCtx, activeTsKey(job.Queue), job.ID)
	pipe.HSet(retryCtx, jobsKey(job.Queue), job.ID, string(encoded))
	pipe.ZAdd(retryCtx, delayedKey(job.Queue), redis.Z{Score: float64(job.RunAt.UnixMilli()), Member: job.ID})
	if _, err := pipe.Exec(retryCtx); err != nil {
		worker.log.Error("queue_retry_failed", slog.String("job_id", job.ID), slog.Any("error", err))
		return
	}

	worker.log.Warn("job_retry_scheduled",
		slog.String("job_id", job.ID),
		slog.Int("attempt", job.Attempts),
		slog.Duration("delay", delay),
		slog.String("error", job.LastError),
	)
}

// deadLetter persists the failure and drops the job from the backplane.
func (worker *Worker) deadLetter(dlqCtx context.Context, job *Job, failure error) {
	if worker.failures != nil {
		if err := worker.failures.RecordFailure(dlqCtx, job, failure); err != nil {
			worker.log.Error("dlq_persist_failed", slog.String("job_id", job.ID), slog.Any("error", err))
		}
	}

	worker.complete(dlqCtx, job)

	worker.log.Error("job_dead_lettered",
		slog.String("job_id", job.ID),
		slog.String("name", job.Name),
		slog.Int("attempts", job.Attempts),
		slog.Any("error", failure),
	)
}

// sleep waits for d or until the context is cancelled.
func sleep(sleepCtx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-sleepCtx.Done():
	case <-timer.C:
	}
}
