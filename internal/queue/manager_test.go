// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package queue_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/mangatrack/internal/queue"
)

func newTestBackplane(t *testing.T) *redis.Client {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

type syncPayload struct {
	SourceID string `json:"source_id"`
}

func TestManager_AddDeduplicatesByJobID(t *testing.T) {
	client := newTestBackplane(t)
	manager := queue.NewManager(client, slog.Default())
	ctx := context.Background()

	added, err := manager.Add(ctx, queue.QueueSyncSource, "sync", syncPayload{SourceID: "s1"},
		queue.Options{JobID: "sync-s1", Priority: queue.PriorityStandard})
	require.NoError(t, err)
	assert.True(t, added)

	// Same jobId while waiting: dropped.
	added, err = manager.Add(ctx, queue.QueueSyncSource, "sync", syncPayload{SourceID: "s1"},
		queue.Options{JobID: "sync-s1", Priority: queue.PriorityCritical})
	require.NoError(t, err)
	assert.False(t, added)

	counts, err := manager.GetJobCounts(ctx, queue.QueueSyncSource)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Waiting)

	pending, err := manager.IsPending(ctx, queue.QueueSyncSource, "sync-s1")
	require.NoError(t, err)
	assert.True(t, pending)
}

func TestManager_DelayedJobsLandInDelayedSet(t *testing.T) {
	client := newTestBackplane(t)
	manager := queue.NewManager(client, slog.Default())
	ctx := context.Background()

	added, err := manager.Add(ctx, queue.QueueGapRecovery, "gap", syncPayload{SourceID: "s1"},
		queue.Options{JobID: "gap-recovery-s1", Delay: time.Minute})
	require.NoError(t, err)
	assert.True(t, added)

	counts, err := manager.GetJobCounts(ctx, queue.QueueGapRecovery)
	require.NoError(t, err)
	assert.Equal(t, int64(0), counts.Waiting)
	assert.Equal(t, int64(1), counts.Delayed)

	// Delayed jobs still count as pending for dedup purposes.
	pending, err := manager.IsPending(ctx, queue.QueueGapRecovery, "gap-recovery-s1")
	require.NoError(t, err)
	assert.True(t, pending)
}

func TestManager_AddBulk(t *testing.T) {
	client := newTestBackplane(t)
	manager := queue.NewManager(client, slog.Default())
	ctx := context.Background()

	jobs := []queue.BulkJob{
		{Name: "ingest", Payload: syncPayload{SourceID: "a"}, Options: queue.Options{JobID: "ingest-a-1"}},
		{Name: "ingest", Payload: syncPayload{SourceID: "a"}, Options: queue.Options{JobID: "ingest-a-2"}},
		{Name: "ingest", Payload: syncPayload{SourceID: "a"}, Options: queue.Options{JobID: "ingest-a-1"}},
	}

	enqueued, err := manager.AddBulk(ctx, queue.QueueChapterIngest, jobs)
	require.NoError(t, err)
	assert.Equal(t, 2, enqueued)
}

func TestWorker_ProcessesByPriority(t *testing.T) {
	client := newTestBackplane(t)
	manager := queue.NewManager(client, slog.Default())
	ctx := context.Background()

	_, err := manager.Add(ctx, queue.QueueSyncSource, "sync", syncPayload{SourceID: "low"},
		queue.Options{JobID: "sync-low", Priority: queue.PriorityLow})
	require.NoError(t, err)
	_, err = manager.Add(ctx, queue.QueueSyncSource, "sync", syncPayload{SourceID: "crit"},
		queue.Options{JobID: "sync-crit", Priority: queue.PriorityCritical})
	require.NoError(t, err)

	var mu sync.Mutex
	var order []string
	done := make(chan struct{})

	handler := func(jobCtx context.Context, job *queue.Job) error {
		var payload syncPayload
		if err := queue.Unmarshal(job, &payload); err != nil {
			return err
		}
		mu.Lock()
		order = append(order, payload.SourceID)
		finished := len(order) == 2
		mu.Unlock()
		if finished {
			close(done)
		}
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	worker := queue.NewWorker(queue.Config{Name: queue.QueueSyncSource, Concurrency: 1}, handler, client, nil, slog.Default())
	worker.Start(runCtx)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not drain the queue")
	}
	cancel()
	worker.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"crit", "low"}, order)

	counts, err := manager.GetJobCounts(ctx, queue.QueueSyncSource)
	require.NoError(t, err)
	assert.Equal(t, queue.Counts{}, counts)
}

func TestWorker_TransientErrorRetriesThenDeadLetters(t *testing.T) {
	client := newTestBackplane(t)
	manager := queue.NewManager(client, slog.Default())
	ctx := context.Background()

	_, err := manager.Add(ctx, queue.QueueCheckSource, "check", syncPayload{SourceID: "s1"},
		queue.Options{JobID: "check-s1", Attempts: 2, Backoff: time.Millisecond})
	require.NoError(t, err)

	failures := &recordingFailureStore{}
	var attempts int
	dead := make(chan struct{})

	handler := func(jobCtx context.Context, job *queue.Job) error {
		attempts++
		return errors.New("upstream flaked")
	}
	failures.onRecord = func() { close(dead) }

	runCtx, cancel := context.WithCancel(ctx)
	worker := queue.NewWorker(queue.Config{Name: queue.QueueCheckSource, Concurrency: 1}, handler, client, failures, slog.Default())
	worker.Start(runCtx)

	select {
	case <-dead:
	case <-time.After(10 * time.Second):
		t.Fatal("job never dead-lettered")
	}
	cancel()
	worker.Wait()

	assert.Equal(t, 2, attempts)
	require.Len(t, failures.jobs, 1)
	assert.Equal(t, "check-s1", failures.jobs[0].ID)
	assert.Equal(t, 2, failures.jobs[0].Attempts)
}

func TestWorker_PermanentErrorDeadLettersImmediately(t *testing.T) {
	client := newTestBackplane(t)
	manager := queue.NewManager(client, slog.Default())
	ctx := context.Background()

	_, err := manager.Add(ctx, queue.QueueChapterIngest, "ingest", syncPayload{SourceID: "s1"},
		queue.Options{JobID: "ingest-s1-1", Attempts: 5})
	require.NoError(t, err)

	failures := &recordingFailureStore{}
	dead := make(chan struct{})
	failures.onRecord = func() { close(dead) }

	var attempts int
	handler := func(jobCtx context.Context, job *queue.Job) error {
		attempts++
		return queue.Permanent(errors.New("series was deleted"))
	}

	runCtx, cancel := context.WithCancel(ctx)
	worker := queue.NewWorker(queue.Config{Name: queue.QueueChapterIngest, Concurrency: 1}, handler, client, failures, slog.Default())
	worker.Start(runCtx)

	select {
	case <-dead:
	case <-time.After(5 * time.Second):
		t.Fatal("job never dead-lettered")
	}
	cancel()
	worker.Wait()

	assert.Equal(t, 1, attempts)
	require.Len(t, failures.jobs, 1)
}

func TestWorker_RequeuesJobsFromDeadWorkers(t *testing.T) {
	client := newTestBackplane(t)
	manager := queue.NewManager(client, slog.Default())
	ctx := context.Background()

	_, err := manager.Add(ctx, queue.QueueSyncSource, "sync", syncPayload{SourceID: "s1"},
		queue.Options{JobID: "sync-s1"})
	require.NoError(t, err)

	// Simulate a worker that claimed the job and then died: the job sits
	// in the active state with a claim timestamp far in the past.
	staleClaim := float64(time.Now().Add(-time.Hour).UnixMilli())
	require.NoError(t, client.ZRem(ctx, "q:sync-source:ready", "sync-s1").Err())
	require.NoError(t, client.SAdd(ctx, "q:sync-source:active", "sync-s1").Err())
	require.NoError(t, client.ZAdd(ctx, "q:sync-source:activets", redis.Z{Score: staleClaim, Member: "sync-s1"}).Err())

	// The orphaned claim still holds the dedup slot.
	added, err := manager.Add(ctx, queue.QueueSyncSource, "sync", syncPayload{SourceID: "s1"},
		queue.Options{JobID: "sync-s1"})
	require.NoError(t, err)
	assert.False(t, added)

	done := make(chan struct{})
	handler := func(jobCtx context.Context, job *queue.Job) error {
		if job.ID == "sync-s1" {
			close(done)
		}
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	worker := queue.NewWorker(queue.Config{Name: queue.QueueSyncSource, Concurrency: 1, JobTimeout: time.Second},
		handler, client, nil, slog.Default())
	worker.Start(runCtx)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stalled job was never requeued")
	}
	cancel()
	worker.Wait()

	// The lifecycle is fully released: no leftover active entry, and the
	// jobId is free for a fresh enqueue.
	counts, err := manager.GetJobCounts(ctx, queue.QueueSyncSource)
	require.NoError(t, err)
	assert.Equal(t, queue.Counts{}, counts)

	added, err = manager.Add(ctx, queue.QueueSyncSource, "sync", syncPayload{SourceID: "s1"},
		queue.Options{JobID: "sync-s1"})
	require.NoError(t, err)
	assert.True(t, added)
}

func TestNextDelay_GrowsAndStaysBounded(t *testing.T) {
	base := 5 * time.Second

	first := queue.NextDelay(base, 1)
	assert.InDelta(t, float64(base), float64(first), float64(base)*0.3)

	tenth := queue.NextDelay(base, 10)
	assert.LessOrEqual(t, tenth, time.Duration(float64(15*time.Minute)*1.2))
	assert.Greater(t, tenth, time.Minute)
}

// recordingFailureStore captures dead-lettered jobs for assertions.
type recordingFailureStore struct {
	mu       sync.Mutex
	jobs     []*queue.Job
	onRecord func()
}

func (store *recordingFailureStore) RecordFailure(_ context.Context, job *queue.Job, _ error) error {
	store.mu.Lock()
	copied := *job
	store.jobs = append(store.jobs, &copied)
	callback := store.onRecord
	store.onRecord = nil
	store.mu.Unlock()
	if callback != nil {
		callback()
	}
	return nil
}
