// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package trust_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/mangatrack/internal/kvs"
	"github.com/taibuivan/mangatrack/internal/platform/apperr"
	"github.com/taibuivan/mangatrack/internal/trust"
)

// memoryStore is an in-memory [trust.Store] recording score adjustments.
type memoryStore struct {
	mu     sync.Mutex
	scores map[string]float64
	fail   bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{scores: map[string]float64{}}
}

func (store *memoryStore) AdjustTrustScore(_ context.Context, userID string, delta float64) (float64, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.fail {
		return 0, errors.New("store down")
	}
	score, found := store.scores[userID]
	if !found {
		score = 1.0
	}
	score += delta
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	store.scores[userID] = score
	return score, nil
}

func (store *memoryStore) RestoreTrustScores(_ context.Context, step, floor float64) (int64, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	var restored int64
	for userID, score := range store.scores {
		if score <= floor || score >= 1.0 {
			continue
		}
		score += step
		if score > 1 {
			score = 1
		}
		store.scores[userID] = score
		restored++
	}
	return restored, nil
}

func (store *memoryStore) score(userID string) float64 {
	store.mu.Lock()
	defer store.mu.Unlock()
	score, found := store.scores[userID]
	if !found {
		return 1.0
	}
	return score
}

func newTestGuard(t *testing.T) (*trust.Guard, *memoryStore, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := newMemoryStore()
	guard := trust.NewGuard(kvs.NewRedisStore(client), store, slog.Default())
	return guard, store, server
}

func TestGuard_ProgressBurstWindow(t *testing.T) {
	guard, store, _ := newTestGuard(t)
	ctx := context.Background()

	for i := 0; i < trust.ProgressBurst; i++ {
		require.NoError(t, guard.CheckProgress(ctx, "user-1"), "request %d within burst", i+1)
	}

	err := guard.CheckProgress(ctx, "user-1")
	require.Error(t, err)

	appError := apperr.As(err)
	require.NotNil(t, appError)
	assert.Equal(t, "RATE_LIMITED", appError.Code)
	assert.Positive(t, appError.RetryAfterSeconds)

	// Tripping the burst window is an api_spam violation.
	assert.Less(t, store.score("user-1"), 1.0)
}

func TestGuard_StatusWindow(t *testing.T) {
	guard, _, _ := newTestGuard(t)
	ctx := context.Background()

	for i := 0; i < trust.StatusPerMinute; i++ {
		require.NoError(t, guard.CheckStatus(ctx, "user-2"))
	}
	err := guard.CheckStatus(ctx, "user-2")
	require.Error(t, err)
	assert.Equal(t, "RATE_LIMITED", apperr.As(err).Code)
}

func TestGuard_XPWindowIsSoftBlock(t *testing.T) {
	guard, _, _ := newTestGuard(t)
	ctx := context.Background()

	for i := 0; i < trust.XPGrantsPerMinute; i++ {
		permitted, err := guard.PermitXP(ctx, "user-3")
		require.NoError(t, err)
		assert.True(t, permitted, "grant %d within budget", i+1)
	}

	permitted, err := guard.PermitXP(ctx, "user-3")
	require.NoError(t, err, "soft block must not surface an error")
	assert.False(t, permitted)
}

func TestGuard_RateChecksFailOpenWhenKVSDown(t *testing.T) {
	guard, _, server := newTestGuard(t)
	server.Close()

	ctx := context.Background()
	assert.NoError(t, guard.CheckProgress(ctx, "user-4"))
	assert.NoError(t, guard.CheckStatus(ctx, "user-4"))

	permitted, err := guard.PermitXP(ctx, "user-4")
	require.NoError(t, err)
	assert.True(t, permitted)
}

func TestGuard_StatusToggleHeuristic(t *testing.T) {
	guard, store, _ := newTestGuard(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, guard.StatusToggled(ctx, "user-5", "entry-1"))
	}
	assert.Equal(t, 1.0, store.score("user-5"), "three toggles are still fine")

	require.NoError(t, guard.StatusToggled(ctx, "user-5", "entry-1"))
	assert.Less(t, store.score("user-5"), 1.0, "fourth toggle in window is a violation")

	before := store.score("user-5")
	require.NoError(t, guard.StatusToggled(ctx, "user-5", "entry-1"))
	assert.Equal(t, before, store.score("user-5"), "violation recorded once per window")
}

func TestGuard_RepeatedChapterHeuristic(t *testing.T) {
	guard, store, _ := newTestGuard(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		guard.RepeatedChapter(ctx, "user-6", "entry-2", "12")
	}
	assert.Equal(t, 1.0, store.score("user-6"))

	guard.RepeatedChapter(ctx, "user-6", "entry-2", "12")
	assert.Less(t, store.score("user-6"), 1.0)

	// A different chapter starts a fresh streak.
	guard.RepeatedChapter(ctx, "user-6", "entry-2", "13")
	score := store.score("user-6")
	guard.RepeatedChapter(ctx, "user-6", "entry-2", "13")
	assert.Equal(t, score, store.score("user-6"))
}

func TestGuard_ReadTimeValidation(t *testing.T) {
	guard, store, _ := newTestGuard(t)
	ctx := context.Background()

	// First progress carries no timing signal.
	guard.ValidateReadTime(ctx, "user-7", 0, 1, 2)
	assert.Equal(t, 1.0, store.score("user-7"))

	// Bulk jumps are trusted.
	guard.ValidateReadTime(ctx, "user-7", 5, 100, 2)
	assert.Equal(t, 1.0, store.score("user-7"))

	// A plausible single-chapter read passes.
	guard.ValidateReadTime(ctx, "user-7", 5, 6, 300)
	assert.Equal(t, 1.0, store.score("user-7"))

	// A two-second "read" of the next chapter does not.
	guard.ValidateReadTime(ctx, "user-7", 6, 7, 2)
	assert.Less(t, store.score("user-7"), 1.0)
}

func TestGuard_SuspectedAfterRepeatedViolations(t *testing.T) {
	guard, _, _ := newTestGuard(t)
	ctx := context.Background()

	assert.False(t, guard.Suspected(ctx, "user-8"))

	for i := 0; i < 3; i++ {
		guard.RecordViolation(ctx, "user-8", trust.ViolationRapidReads, nil)
	}
	assert.True(t, guard.Suspected(ctx, "user-8"))
}

func TestGuard_ViolationClampsAtZero(t *testing.T) {
	guard, store, _ := newTestGuard(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		guard.RecordViolation(ctx, "user-9", trust.ViolationAPISpam, nil)
	}
	assert.Equal(t, 0.0, store.score("user-9"))
}

func TestGuard_RestoreTrustSkipsFloor(t *testing.T) {
	guard, store, _ := newTestGuard(t)
	ctx := context.Background()

	store.scores["clean"] = 0.8
	store.scores["flagged"] = 0.05

	require.NoError(t, guard.RestoreTrust(ctx))
	assert.Greater(t, store.score("clean"), 0.8)
	assert.Equal(t, 0.05, store.score("flagged"), "accounts at the floor need review, not decay")
}
