// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package progress_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/mangatrack/internal/activity"
	"github.com/taibuivan/mangatrack/internal/kvs"
	"github.com/taibuivan/mangatrack/internal/platform/apperr"
	"github.com/taibuivan/mangatrack/internal/progress"
)

// fakeStore is an in-memory [progress.Store].
type fakeStore struct {
	entry        *progress.Entry
	slugNumbers  map[string]float64
	chapters     map[string]string // canonical number -> chapter id
	readChapters map[string]bool   // chapter id -> read

	markedTarget float64
	markCalls    int
	awards       []int
	flatAwards   []int
	flagGranted  bool
}

func newFakeStore(entry *progress.Entry) *fakeStore {
	return &fakeStore{
		entry:        entry,
		slugNumbers:  map[string]float64{},
		chapters:     map[string]string{},
		readChapters: map[string]bool{},
	}
}

func (store *fakeStore) Entry(_ context.Context, userID, entryID string) (*progress.Entry, error) {
	if store.entry == nil || store.entry.ID != entryID || store.entry.UserID != userID {
		return nil, apperr.NotFound("Library entry")
	}
	snapshot := *store.entry
	return &snapshot, nil
}

func (store *fakeStore) ChapterNumberBySlug(_ context.Context, _, slug string) (float64, bool, error) {
	number, found := store.slugNumbers[slug]
	return number, found, nil
}

func (store *fakeStore) ChapterID(_ context.Context, _, numberKey string) (string, bool, error) {
	id, found := store.chapters[numberKey]
	return id, found, nil
}

func (store *fakeStore) IsRead(_ context.Context, _, chapterID string) (bool, error) {
	return store.readChapters[chapterID], nil
}

func (store *fakeStore) BulkMarkRead(_ context.Context, _, _ string, target float64, _ progress.ReadStamp) (int64, error) {
	store.markCalls++
	store.markedTarget = target
	return int64(target), nil
}

func (store *fakeStore) AdvanceEntry(_ context.Context, _, _ string, target float64, readAt time.Time) (bool, error) {
	if target <= store.entry.LastReadChapter {
		return false, nil
	}
	store.entry.LastReadChapter = target
	store.entry.LastReadAt = &readAt
	return true, nil
}

func (store *fakeStore) AwardReadXP(_ context.Context, _ string, base int, _ time.Time) (*progress.Award, error) {
	store.awards = append(store.awards, base)
	return &progress.Award{Amount: base, TotalXP: base, Level: 1, StreakDays: 1}, nil
}

func (store *fakeStore) GrantCompletionFlag(_ context.Context, _, _ string) (bool, string, error) {
	if store.flagGranted {
		return false, "", nil
	}
	store.flagGranted = true
	return true, store.entry.SeriesID, nil
}

func (store *fakeStore) AddXP(_ context.Context, _ string, amount int, _ time.Time) (*progress.Award, error) {
	store.flatAwards = append(store.flatAwards, amount)
	return &progress.Award{Amount: amount, TotalXP: amount, Level: 1}, nil
}

// fakeGuard is a permissive [progress.AbuseGuard] recording signals.
type fakeGuard struct {
	rateLimited bool
	xpDenied    bool
	suspected   bool

	repeated  []string
	validated int
}

func (guard *fakeGuard) CheckProgress(_ context.Context, _ string) error {
	if guard.rateLimited {
		return apperr.RateLimited(30)
	}
	return nil
}

func (guard *fakeGuard) PermitXP(_ context.Context, _ string) (bool, error) {
	return !guard.xpDenied, nil
}

func (guard *fakeGuard) Suspected(_ context.Context, _ string) bool { return guard.suspected }

func (guard *fakeGuard) RepeatedChapter(_ context.Context, _, _, identity string) {
	guard.repeated = append(guard.repeated, identity)
}

func (guard *fakeGuard) ValidateReadTime(_ context.Context, _ string, _, _ float64, _ int) {
	guard.validated++
}

// nullActivityStore satisfies activity.Store for tests that only need a
// recorder wired through.
type nullActivityStore struct{ events []string }

func (store *nullActivityStore) AppendEvent(_ context.Context, event *activity.Event) error {
	store.events = append(store.events, event.EventType)
	return nil
}

func (store *nullActivityStore) RefreshScore(_ context.Context, _ string, _ time.Time) (float64, error) {
	return 0, nil
}

func (store *nullActivityStore) ApplyTierRules(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

type fixture struct {
	engine   *progress.Engine
	store    *fakeStore
	guard    *fakeGuard
	activity *nullActivityStore
	kv       kvs.Store
}

func newFixture(t *testing.T, entry *progress.Entry) *fixture {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := newFakeStore(entry)
	guard := &fakeGuard{}
	events := &nullActivityStore{}
	kv := kvs.NewRedisStore(client)
	engine := progress.NewEngine(store, guard, kv, activity.NewRecorder(events, slog.Default()), slog.Default())
	return &fixture{engine: engine, store: store, guard: guard, activity: events, kv: kv}
}

func number(value float64) *float64 { return &value }

func testEntry() *progress.Entry {
	return &progress.Entry{
		ID:              "entry-1",
		UserID:          "user-1",
		SeriesID:        "series-1",
		Status:          "reading",
		LastReadChapter: 5,
	}
}

func TestUpdateProgress_BulkJumpAwardsOnce(t *testing.T) {
	fx := newFixture(t, testEntry())
	ctx := context.Background()

	result, err := fx.engine.UpdateProgress(ctx, "user-1", "entry-1", progress.UpdateInput{
		ChapterNumber: number(500),
		IsRead:        true,
	})
	require.NoError(t, err)

	assert.Equal(t, 500.0, result.LastReadChapter)
	assert.True(t, result.NewProgress)
	assert.Equal(t, 500.0, fx.store.markedTarget, "chapters 1..500 bulk-marked")
	assert.Equal(t, []int{progress.XPPerChapter}, fx.store.awards, "one award, no bulk multiplier")
	assert.Equal(t, []string{activity.EventChapterRead}, fx.activity.events)

	// The identical replay makes no new progress: no XP, no state change.
	replay, err := fx.engine.UpdateProgress(ctx, "user-1", "entry-1", progress.UpdateInput{
		ChapterNumber: number(500),
		IsRead:        true,
	})
	require.NoError(t, err)
	assert.Equal(t, 500.0, replay.LastReadChapter)
	assert.False(t, replay.NewProgress)
	assert.Zero(t, replay.XPAwarded)
	assert.Len(t, fx.store.awards, 1)
	assert.Equal(t, []string{"500"}, fx.guard.repeated, "resubmission feeds the heuristic")
}

func TestUpdateProgress_BackwardTargetIsNoOp(t *testing.T) {
	fx := newFixture(t, testEntry())

	result, err := fx.engine.UpdateProgress(context.Background(), "user-1", "entry-1", progress.UpdateInput{
		ChapterNumber: number(3),
		IsRead:        true,
	})
	require.NoError(t, err)

	assert.Equal(t, 5.0, result.LastReadChapter, "last_read_chapter never decreases")
	assert.False(t, result.NewProgress)
	assert.Empty(t, fx.store.awards)
}

func TestUpdateProgress_SlugResolution(t *testing.T) {
	fx := newFixture(t, testEntry())
	fx.store.slugNumbers["normal-6"] = 6

	result, err := fx.engine.UpdateProgress(context.Background(), "user-1", "entry-1", progress.UpdateInput{
		ChapterSlug: "normal-6",
		IsRead:      true,
	})
	require.NoError(t, err)
	assert.Equal(t, 6.0, result.LastReadChapter)
	assert.Equal(t, progress.XPPerChapter, result.XPAwarded)
}

func TestUpdateProgress_UnknownSlugFallsBackToCurrent(t *testing.T) {
	fx := newFixture(t, testEntry())

	result, err := fx.engine.UpdateProgress(context.Background(), "user-1", "entry-1", progress.UpdateInput{
		ChapterSlug: "never-seen",
		IsRead:      true,
	})
	require.NoError(t, err)
	assert.Equal(t, 5.0, result.LastReadChapter)
	assert.False(t, result.NewProgress)
	assert.Empty(t, fx.store.awards)
}

func TestUpdateProgress_AlreadyReadTargetSkipsXP(t *testing.T) {
	fx := newFixture(t, testEntry())
	fx.store.chapters["6"] = "chapter-6"
	fx.store.readChapters["chapter-6"] = true

	result, err := fx.engine.UpdateProgress(context.Background(), "user-1", "entry-1", progress.UpdateInput{
		ChapterNumber: number(6),
		IsRead:        true,
	})
	require.NoError(t, err)

	assert.Equal(t, 6.0, result.LastReadChapter, "progress still advances")
	assert.Empty(t, fx.store.awards, "a target read elsewhere earns nothing")
}

func TestUpdateProgress_XPWindowSoftBlock(t *testing.T) {
	fx := newFixture(t, testEntry())
	fx.guard.xpDenied = true

	result, err := fx.engine.UpdateProgress(context.Background(), "user-1", "entry-1", progress.UpdateInput{
		ChapterNumber: number(6),
		IsRead:        true,
	})
	require.NoError(t, err)

	assert.Equal(t, 6.0, result.LastReadChapter, "soft block saves progress")
	assert.Zero(t, result.XPAwarded)
	assert.Empty(t, fx.store.awards)
}

func TestUpdateProgress_SuspectedBotEarnsNothing(t *testing.T) {
	fx := newFixture(t, testEntry())
	fx.guard.suspected = true

	result, err := fx.engine.UpdateProgress(context.Background(), "user-1", "entry-1", progress.UpdateInput{
		ChapterNumber: number(6),
		IsRead:        true,
	})
	require.NoError(t, err)
	assert.Equal(t, 6.0, result.LastReadChapter)
	assert.Empty(t, fx.store.awards)
	assert.Empty(t, fx.activity.events, "no chapter_read without an award")
}

func TestUpdateProgress_RateLimited(t *testing.T) {
	fx := newFixture(t, testEntry())
	fx.guard.rateLimited = true

	_, err := fx.engine.UpdateProgress(context.Background(), "user-1", "entry-1", progress.UpdateInput{
		ChapterNumber: number(6),
		IsRead:        true,
	})
	require.Error(t, err)
	assert.Equal(t, "RATE_LIMITED", apperr.As(err).Code)
	assert.Zero(t, fx.store.markCalls, "nothing runs past the window")
}

func TestUpdateProgress_UnreadMutationNeverMarksOrAwards(t *testing.T) {
	fx := newFixture(t, testEntry())

	result, err := fx.engine.UpdateProgress(context.Background(), "user-1", "entry-1", progress.UpdateInput{
		ChapterNumber: number(10),
		IsRead:        false,
	})
	require.NoError(t, err)

	assert.Equal(t, 5.0, result.LastReadChapter, "is_read=false never moves progress")
	assert.Zero(t, fx.store.markCalls)
	assert.Empty(t, fx.store.awards)
}

func TestUpdateProgress_BumpsFeedVersion(t *testing.T) {
	fx := newFixture(t, testEntry())
	ctx := context.Background()

	_, err := fx.engine.UpdateProgress(ctx, "user-1", "entry-1", progress.UpdateInput{
		ChapterNumber: number(6),
		IsRead:        true,
	})
	require.NoError(t, err)

	version, err := fx.kv.Get(ctx, "feed:v:user-1")
	require.NoError(t, err)
	assert.Equal(t, "1", version)
}

func TestAwardSeriesCompletion_OneWay(t *testing.T) {
	fx := newFixture(t, testEntry())
	ctx := context.Background()

	granted, err := fx.engine.AwardSeriesCompletion(ctx, "user-1", "entry-1")
	require.NoError(t, err)
	assert.True(t, granted)
	assert.Equal(t, []int{progress.XPSeriesCompleted}, fx.store.flatAwards)

	granted, err = fx.engine.AwardSeriesCompletion(ctx, "user-1", "entry-1")
	require.NoError(t, err)
	assert.False(t, granted, "the flag never flips back")
	assert.Len(t, fx.store.flatAwards, 1)
}
