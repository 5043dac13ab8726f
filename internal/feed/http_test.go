// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package feed_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/mangatrack/internal/feed"
	"github.com/taibuivan/mangatrack/internal/kvs"
	"github.com/taibuivan/mangatrack/internal/platform/ctxutil"
	"github.com/taibuivan/mangatrack/internal/platform/sec"
	"github.com/taibuivan/mangatrack/pkg/uuid"
)

type httpHarness struct {
	handler *feed.Handler
	store   *fakeFeedStore
	kv      kvs.Store
	userID  string
}

func newHTTPHarness(t *testing.T) *httpHarness {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := newFakeFeedStore()
	kv := kvs.NewRedisStore(client)
	return &httpHarness{
		handler: feed.NewHandler(store, kv),
		store:   store,
		kv:      kv,
		userID:  uuid.New(),
	}
}

func (harness *httpHarness) request(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var request *http.Request
	if body == "" {
		request = httptest.NewRequest(method, target, nil)
	} else {
		request = httptest.NewRequest(method, target, strings.NewReader(body))
		request.Header.Set("Content-Type", "application/json")
	}

	claims := &sec.AuthClaims{UserID: harness.userID}
	request = request.WithContext(ctxutil.WithAuthUser(request.Context(), claims))

	recorder := httptest.NewRecorder()
	harness.handler.Routes().ServeHTTP(recorder, request)
	return recorder
}

func TestGetActivity_ReturnsEntries(t *testing.T) {
	harness := newHTTPHarness(t)
	harness.store.entries = []feed.Entry{{
		ID:                uuid.New(),
		SeriesID:          "series-1",
		SeriesTitle:       "Solo Camping",
		ChapterNumber:     "10",
		FirstDiscoveredAt: time.Now().UTC(),
	}}

	response := harness.request(t, http.MethodGet, "/activity", "")
	require.Equal(t, http.StatusOK, response.Code)
	assert.Contains(t, response.Body.String(), "Solo Camping")
	assert.Equal(t, 1, harness.store.listCalls)
}

func TestGetActivity_SecondReadServedFromCache(t *testing.T) {
	harness := newHTTPHarness(t)
	harness.store.entries = []feed.Entry{{
		ID:                uuid.New(),
		SeriesID:          "series-1",
		SeriesTitle:       "Solo Camping",
		ChapterNumber:     "10",
		FirstDiscoveredAt: time.Now().UTC(),
	}}

	first := harness.request(t, http.MethodGet, "/activity", "")
	require.Equal(t, http.StatusOK, first.Code)
	second := harness.request(t, http.MethodGet, "/activity", "")
	require.Equal(t, http.StatusOK, second.Code)

	assert.Equal(t, 1, harness.store.listCalls, "second page came from cache")
}

func TestGetActivity_VersionBumpInvalidatesCache(t *testing.T) {
	harness := newHTTPHarness(t)
	ctx := context.Background()

	first := harness.request(t, http.MethodGet, "/activity", "")
	require.Equal(t, http.StatusOK, first.Code)

	// An ingest bump moves the version; the next read misses the cache.
	_, err := harness.kv.Incr(ctx, "feed:v:"+harness.userID)
	require.NoError(t, err)

	second := harness.request(t, http.MethodGet, "/activity", "")
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, 2, harness.store.listCalls)
}

func TestGetActivity_RejectsBadInput(t *testing.T) {
	harness := newHTTPHarness(t)

	assert.Equal(t, http.StatusBadRequest, harness.request(t, http.MethodGet, "/activity?limit=0", "").Code)
	assert.Equal(t, http.StatusBadRequest, harness.request(t, http.MethodGet, "/activity?limit=101", "").Code)
	assert.Equal(t, http.StatusBadRequest, harness.request(t, http.MethodGet, "/activity?limit=abc", "").Code)
	assert.Equal(t, http.StatusBadRequest, harness.request(t, http.MethodGet, "/activity?filter=starred", "").Code)
	assert.Equal(t, http.StatusBadRequest, harness.request(t, http.MethodGet, "/activity?cursor=!!!", "").Code)
}

func TestPostSeen_AdvancesWatermark(t *testing.T) {
	harness := newHTTPHarness(t)

	response := harness.request(t, http.MethodPost, "/seen", `{"last_seen_at":"2025-01-01T10:00:00Z"}`)
	require.Equal(t, http.StatusOK, response.Code)
	assert.Equal(t, time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC), harness.store.watermark)

	// Earlier timestamp is a no-op.
	response = harness.request(t, http.MethodPost, "/seen", `{"last_seen_at":"2024-12-31T10:00:00Z"}`)
	require.Equal(t, http.StatusOK, response.Code)
	assert.Equal(t, time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC), harness.store.watermark)
}

func TestPostSeen_RequiresTimestamp(t *testing.T) {
	harness := newHTTPHarness(t)
	assert.Equal(t, http.StatusBadRequest, harness.request(t, http.MethodPost, "/seen", `{}`).Code)
}
