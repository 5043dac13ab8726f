// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package feed

import (
	stdctx "context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/taibuivan/mangatrack/internal/kvs"
	"github.com/taibuivan/mangatrack/internal/platform/apperr"
	requestutil "github.com/taibuivan/mangatrack/internal/platform/request"
	"github.com/taibuivan/mangatrack/internal/platform/respond"
	"github.com/taibuivan/mangatrack/internal/platform/validate"
	"github.com/taibuivan/mangatrack/pkg/cursor"
)

const (
	defaultPageLimit = 30
	maxPageLimit     = 100
)

// Handler implements the HTTP layer for the activity feed.
type Handler struct {
	store Store
	kv    kvs.Store
}

// NewHandler constructs the feed [Handler].
func NewHandler(store Store, kv kvs.Store) *Handler {
	return &Handler{store: store, kv: kv}
}

// Routes returns a [chi.Router] with the feed endpoints.
func (handler *Handler) Routes() chi.Router {
	router := chi.NewRouter()
	router.Get("/activity", handler.getActivity)
	router.Post("/seen", handler.postSeen)
	return router
}

// activityResponse is the GET /api/feed/activity payload.
type activityResponse struct {
	Entries    []Entry `json:"entries"`
	NextCursor string  `json:"next_cursor,omitempty"`
}

/*
GET /api/feed/activity.

Description: The user's chapter-discovery feed, newest first. Supports the
opaque keyset cursor, a 1..100 limit and an all/unread filter. Pages are
served from a short KVS cache keyed under the user's feed version, so a
fresh chapter invalidates every cached page at once.

Response:
  - 200: activityResponse
  - 400: invalid cursor, limit or filter
  - 401: authentication required
*/
func (handler *Handler) getActivity(writer http.ResponseWriter, request *http.Request) {
	userID, err := requestutil.RequiredUserID(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	filter := request.URL.Query().Get("filter")
	if filter == "" {
		filter = FilterAll
	}
	limit := defaultPageLimit
	if rawLimit := request.URL.Query().Get("limit"); rawLimit != "" {
		limit, err = strconv.Atoi(rawLimit)
		if err != nil {
			respond.Error(writer, request, apperr.ValidationError("limit must be an integer"))
			return
		}
	}
	if err := validate.New().
		OneOf("filter", filter, FilterAll, FilterUnread).
		Range("limit", limit, 1, maxPageLimit).
		Err(); err != nil {
		respond.Error(writer, request, err)
		return
	}

	rawCursor := request.URL.Query().Get("cursor")
	after, err := cursor.Decode(rawCursor)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	cacheKey, err := handler.cacheKey(request.Context(), userID, filter, rawCursor, limit)
	if err == nil {
		if cached, found := handler.readCache(request.Context(), cacheKey); found {
			respond.OK(writer, cached)
			return
		}
	}

	entries, next, err := handler.store.ListActivity(request.Context(), ListQuery{
		UserID: userID,
		Filter: filter,
		Limit:  limit,
		After:  after,
	})
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	response := activityResponse{Entries: entries}
	if entries == nil {
		response.Entries = []Entry{}
	}
	if next != nil {
		response.NextCursor = cursor.Encode(*next)
	}

	if cacheKey != "" {
		handler.writeCache(request.Context(), cacheKey, response)
	}
	respond.OK(writer, response)
}

// seenRequest is the POST /api/feed/seen payload.
type seenRequest struct {
	LastSeenAt time.Time `json:"last_seen_at"`
}

/*
POST /api/feed/seen.

Description: Advances the user's feed watermark. Strict-greater: a replay
or an older timestamp is a no-op and still returns the stored watermark.

Response:
  - 200: {last_seen_at}
  - 400: missing or malformed timestamp
  - 401: authentication required
*/
func (handler *Handler) postSeen(writer http.ResponseWriter, request *http.Request) {
	userID, err := requestutil.RequiredUserID(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	var input seenRequest
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}
	if input.LastSeenAt.IsZero() {
		respond.Error(writer, request, apperr.ValidationError("last_seen_at is required"))
		return
	}

	stored, err := handler.store.AdvanceSeenWatermark(request.Context(), userID, input.LastSeenAt)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, map[string]any{"last_seen_at": stored})
}

// cacheKey builds the versioned cache key for one feed page.
func (handler *Handler) cacheKey(context stdctx.Context, userID, filter, rawCursor string, limit int) (string, error) {
	version, err := handler.kv.Get(context, "feed:v:"+userID)
	if err != nil {
		if !errors.Is(err, kvs.ErrNotFound) {
			return "", err
		}
		version = "0"
	}
	return fmt.Sprintf("feed:act:%s:v%s:%s:%s:%d", userID, version, filter, rawCursor, limit), nil
}

func (handler *Handler) readCache(context stdctx.Context, key string) (*activityResponse, bool) {
	raw, err := handler.kv.Get(context, key)
	if err != nil {
		return nil, false
	}
	var cached activityResponse
	if err := json.Unmarshal([]byte(raw), &cached); err != nil {
		return nil, false
	}
	return &cached, true
}

func (handler *Handler) writeCache(context stdctx.Context, key string, response activityResponse) {
	raw, err := json.Marshal(response)
	if err != nil {
		return
	}
	_ = handler.kv.Set(context, key, string(raw), cacheTTL)
}
