// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package activity_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/mangatrack/internal/activity"
)

type fakeActivityStore struct {
	events     []*activity.Event
	refreshed  []string
	tierRounds int
	tierErr    error
}

func (store *fakeActivityStore) AppendEvent(_ context.Context, event *activity.Event) error {
	store.events = append(store.events, event)
	return nil
}

func (store *fakeActivityStore) RefreshScore(_ context.Context, seriesID string, _ time.Time) (float64, error) {
	store.refreshed = append(store.refreshed, seriesID)
	return 42, nil
}

func (store *fakeActivityStore) ApplyTierRules(context.Context, time.Time) (int64, error) {
	store.tierRounds++
	return 3, store.tierErr
}

func TestWeight(t *testing.T) {
	assert.Equal(t, 1, activity.Weight(activity.EventChapterDetected))
	assert.Equal(t, 2, activity.Weight(activity.EventChapterSourceAdded))
	assert.Equal(t, 5, activity.Weight(activity.EventSearchImpression))
	assert.Equal(t, 50, activity.Weight(activity.EventChapterRead))
	assert.Equal(t, 100, activity.Weight(activity.EventSeriesFollowed))
	assert.Zero(t, activity.Weight("unknown"))
}

func TestRecorder_AppendsWeightedEventAndRefreshes(t *testing.T) {
	store := &fakeActivityStore{}
	recorder := activity.NewRecorder(store, slog.Default())

	err := recorder.Record(context.Background(), "series-1", "ch-1", "mangadex", activity.EventChapterDetected)
	require.NoError(t, err)

	require.Len(t, store.events, 1)
	assert.Equal(t, 1, store.events[0].Weight)
	assert.Equal(t, "mangadex", store.events[0].SourceName)
	assert.Equal(t, []string{"series-1"}, store.refreshed)
}

func TestRecorder_UserEventsCarryAttribution(t *testing.T) {
	store := &fakeActivityStore{}
	recorder := activity.NewRecorder(store, slog.Default())

	err := recorder.RecordUser(context.Background(), "series-1", "user-1", activity.EventChapterRead)
	require.NoError(t, err)

	require.Len(t, store.events, 1)
	assert.Equal(t, 50, store.events[0].Weight)
	assert.Equal(t, "user-1", store.events[0].UserID)
}

func TestRecorder_RejectsUnknownEventType(t *testing.T) {
	store := &fakeActivityStore{}
	recorder := activity.NewRecorder(store, slog.Default())

	err := recorder.Record(context.Background(), "series-1", "", "", "who_knows")
	require.Error(t, err)
	assert.Empty(t, store.events, "nothing persisted for unknown types")
}

func TestTierMaintainer_RunsRules(t *testing.T) {
	store := &fakeActivityStore{}
	maintainer := activity.NewTierMaintainer(store, slog.Default())

	require.NoError(t, maintainer.Run(context.Background()))
	assert.Equal(t, 1, store.tierRounds)
}
