// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package series

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/taibuivan/mangatrack/internal/platform/apperr"
	"github.com/taibuivan/mangatrack/internal/platform/constants"
	"github.com/taibuivan/mangatrack/internal/platform/middleware"
	requestutil "github.com/taibuivan/mangatrack/internal/platform/request"
	"github.com/taibuivan/mangatrack/internal/platform/respond"
	"github.com/taibuivan/mangatrack/internal/platform/sec"
	"github.com/taibuivan/mangatrack/internal/platform/validate"
	"github.com/taibuivan/mangatrack/internal/search"
	"github.com/taibuivan/mangatrack/pkg/pagination"
)

const (
	defaultChaptersLimit = 100
	defaultSearchLimit   = 20
	defaultBrowseLimit   = 20
	maxBrowseLimit       = 50
)

// Handler implements the HTTP layer for the public catalog.
type Handler struct {
	service *Service
}

// NewHandler constructs the catalog [Handler].
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes returns a [chi.Router] with the catalog endpoints, mounted by
// the API server under /api/series. Search and browse carry their own
// per-minute budgets.
func (handler *Handler) Routes() chi.Router {
	router := chi.NewRouter()
	window := constants.RateLimitWindow
	browse := middleware.Throttle(constants.RateLimitBrowsePerMin, window)

	router.With(middleware.Throttle(constants.RateLimitSearchPerMin, window)).
		Get("/search", handler.SearchHTTP)
	router.With(browse).Get("/discover", handler.DiscoverHTTP)
	router.With(browse).Get("/trending", handler.TrendingHTTP)

	router.Get("/{id}/chapters", handler.chapters)
	router.Post("/{id}/sources", handler.attachSource)

	return router
}

// chaptersResponse is the GET /api/series/{id}/chapters payload.
type chaptersResponse struct {
	Chapters   []ChapterGroup  `json:"chapters"`
	Pagination pagination.Meta `json:"pagination"`
}

/*
GET /api/series/{id}/chapters.

Description: Lists the series' logical chapters newest first. Each item
carries every source listing for that chapter, ordered by detection
time, so a client can pick the earliest or its preferred source.

Response:
  - 200: chaptersResponse
  - 400: invalid paging values
  - 404: unknown series
*/
func (handler *Handler) chapters(writer http.ResponseWriter, request *http.Request) {
	seriesID := requestutil.ID(request, "id")
	if seriesID == "" {
		respond.Error(writer, request, apperr.ValidationError("id must be a valid UUID"))
		return
	}

	limit, offset, err := pagingParams(request, defaultChaptersLimit, MaxChaptersLimit)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	exists, err := handler.service.store.Exists(request.Context(), seriesID)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	if !exists {
		respond.Error(writer, request, apperr.NotFound("Series"))
		return
	}

	chapters, total, err := handler.service.Chapters(request.Context(), seriesID, limit, offset)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	page := offset/limit + 1
	respond.OK(writer, chaptersResponse{
		Chapters:   chapters,
		Pagination: pagination.NewMeta(page, limit, total),
	})
}

/*
POST /api/series/{id}/sources.

Description: Attaches an external listing to a series. The URL host must
be a registered source; a successful attach requests the source's first
sync at user-request priority.

Response:
  - 201: {series_source_id}
  - 400: invalid payload
  - 403: host not on the allow-list
  - 404: unknown series
  - 409: source already attached
*/
func (handler *Handler) attachSource(writer http.ResponseWriter, request *http.Request) {
	if _, err := requestutil.RequiredUserID(request); err != nil {
		respond.Error(writer, request, err)
		return
	}
	seriesID := requestutil.ID(request, "id")
	if seriesID == "" {
		respond.Error(writer, request, apperr.ValidationError("id must be a valid UUID"))
		return
	}

	var input AttachInput
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}
	if err := validate.New().
		Required("source_name", input.SourceName).
		MaxLen("source_name", input.SourceName, 100).
		Required("source_id", input.SourceID).
		MaxLen("source_id", input.SourceID, 255).
		Required("source_url", input.SourceURL).
		MaxLen("source_url", input.SourceURL, MaxSourceURLLen).
		Err(); err != nil {
		respond.Error(writer, request, err)
		return
	}

	sourceID, err := handler.service.AttachSource(request.Context(), seriesID, input)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.Created(writer, map[string]string{"series_source_id": sourceID})
}

/*
GET /api/series/search.

Description: Answers from the local catalog and reports whether an
external discovery job was triggered. Anonymous, logged-in, and premium
callers carry different deferral weights when the external queue is
saturated.

Query:
  - q: the search text (required)
  - limit: 1..50 (default 20), offset: >= 0

Response:
  - 200: SearchResult
  - 400: missing or oversized query
*/
func (handler *Handler) SearchHTTP(writer http.ResponseWriter, request *http.Request) {
	query := request.URL.Query().Get("q")
	if err := validate.New().
		Required("q", query).
		MaxLen("q", query, 200).
		Err(); err != nil {
		respond.Error(writer, request, err)
		return
	}

	limit, offset, err := pagingParams(request, defaultSearchLimit, MaxSearchLimit)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	result, err := handler.service.Search(request.Context(), query, classFor(request), limit, offset)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, result)
}

/*
GET /api/series/discover.

Description: Series with the most recent chapter activity.
*/
func (handler *Handler) DiscoverHTTP(writer http.ResponseWriter, request *http.Request) {
	limit, _, err := pagingParams(request, defaultBrowseLimit, maxBrowseLimit)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	matches, err := handler.service.Discover(request.Context(), limit)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, map[string]any{"series": matches})
}

/*
GET /api/series/trending.

Description: Series ranked by demand-weighted activity score.
*/
func (handler *Handler) TrendingHTTP(writer http.ResponseWriter, request *http.Request) {
	limit, _, err := pagingParams(request, defaultBrowseLimit, maxBrowseLimit)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	matches, err := handler.service.Trending(request.Context(), limit)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, map[string]any{"series": matches})
}

// classFor maps the caller's authentication state to a deferral class.
func classFor(request *http.Request) search.Class {
	claims := requestutil.Claims(request)
	switch {
	case claims == nil:
		return search.ClassFree
	case sec.UserRole(claims.Role).AtLeast(sec.RolePremium):
		return search.ClassPremium
	default:
		return search.ClassLoggedIn
	}
}

// pagingParams parses limit/offset with a per-endpoint cap.
func pagingParams(request *http.Request, fallback, max int) (int, int, error) {
	params := request.URL.Query()
	limit, offset := fallback, 0

	var err error
	if raw := params.Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil {
			return 0, 0, apperr.ValidationError("limit must be an integer")
		}
	}
	if raw := params.Get("offset"); raw != "" {
		if offset, err = strconv.Atoi(raw); err != nil {
			return 0, 0, apperr.ValidationError("offset must be an integer")
		}
	}
	if err := validate.New().
		Range("limit", limit, 1, max).
		Custom("offset", offset < 0, "must not be negative").
		Err(); err != nil {
		return 0, 0, err
	}
	return limit, offset, nil
}
