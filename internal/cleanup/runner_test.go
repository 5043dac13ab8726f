// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package cleanup_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/mangatrack/internal/cleanup"
)

// recordingStore tracks which tasks ran and the cutoffs they received.
type recordingStore struct {
	calls   []string
	cutoffs map[string]time.Time
	failOn  string
}

func newRecordingStore() *recordingStore {
	return &recordingStore{cutoffs: map[string]time.Time{}}
}

func (store *recordingStore) record(task string, cutoff time.Time) (int64, error) {
	store.calls = append(store.calls, task)
	store.cutoffs[task] = cutoff
	if task == store.failOn {
		return 0, errors.New("boom")
	}
	return 1, nil
}

func (store *recordingStore) FailStuckImportJobs(_ context.Context, cutoff time.Time) (int64, error) {
	return store.record("imports", cutoff)
}

func (store *recordingStore) PurgeDeletedEntries(_ context.Context, cutoff time.Time) (int64, error) {
	return store.record("entries", cutoff)
}

func (store *recordingStore) PruneFeedEntries(_ context.Context, cutoff time.Time) (int64, error) {
	return store.record("feed", cutoff)
}

func (store *recordingStore) PruneNotifications(_ context.Context, cutoff time.Time) (int64, error) {
	return store.record("notifications", cutoff)
}

func (store *recordingStore) PruneAuditLogs(_ context.Context, cutoff time.Time) (int64, error) {
	return store.record("audit", cutoff)
}

func (store *recordingStore) PruneActivityEvents(_ context.Context, cutoff time.Time) (int64, error) {
	return store.record("activity", cutoff)
}

func (store *recordingStore) PruneWorkerFailures(_ context.Context, cutoff time.Time) (int64, error) {
	return store.record("failures", cutoff)
}

func (store *recordingStore) PruneExpiredSessions(_ context.Context, now time.Time) (int64, error) {
	return store.record("sessions", now)
}

func (store *recordingStore) ReconcileChaptersRead(_ context.Context) (int64, error) {
	return store.record("reconcile", time.Time{})
}

func TestRunner_RunsEveryTask(t *testing.T) {
	store := newRecordingStore()
	runner := cleanup.NewRunner(store, slog.Default())

	require.NoError(t, runner.Run(context.Background()))
	assert.Equal(t,
		[]string{"imports", "entries", "feed", "notifications", "audit",
			"activity", "failures", "sessions", "reconcile"},
		store.calls)
}

func TestRunner_CutoffsMatchRetentionWindows(t *testing.T) {
	store := newRecordingStore()
	runner := cleanup.NewRunner(store, slog.Default())
	before := time.Now()

	require.NoError(t, runner.Run(context.Background()))

	importAge := before.Sub(store.cutoffs["imports"])
	assert.InDelta(t, cleanup.ImportJobTimeout.Seconds(), importAge.Seconds(), 2)

	entryAge := before.Sub(store.cutoffs["entries"])
	assert.InDelta(t, cleanup.EntryRetention.Seconds(), entryAge.Seconds(), 2)

	failureAge := before.Sub(store.cutoffs["failures"])
	assert.InDelta(t, cleanup.FailureRetention.Seconds(), failureAge.Seconds(), 2)
}

func TestRunner_FailingTaskDoesNotAbortRun(t *testing.T) {
	store := newRecordingStore()
	store.failOn = "feed"
	runner := cleanup.NewRunner(store, slog.Default())

	require.NoError(t, runner.Run(context.Background()))
	assert.Contains(t, store.calls, "reconcile", "tasks after the failure still run")
}

func TestRunner_StopsOnCancelledContext(t *testing.T) {
	store := newRecordingStore()
	runner := cleanup.NewRunner(store, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.Error(t, runner.Run(ctx))
	assert.Empty(t, store.calls)
}
