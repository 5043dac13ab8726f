// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package library

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/taibuivan/mangatrack/internal/platform/apperr"
	"github.com/taibuivan/mangatrack/internal/platform/constants"
	"github.com/taibuivan/mangatrack/internal/platform/middleware"
	requestutil "github.com/taibuivan/mangatrack/internal/platform/request"
	"github.com/taibuivan/mangatrack/internal/platform/respond"
	"github.com/taibuivan/mangatrack/internal/platform/validate"
	"github.com/taibuivan/mangatrack/pkg/pagination"
)

const defaultListLimit = 50

// Handler implements the HTTP layer for the user library.
type Handler struct {
	service *Service
}

// NewHandler constructs the library [Handler].
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes returns a [chi.Router] with the library endpoints. The progress
// route is attached by the API server so the progress engine stays its
// own package. Write endpoints carry per-user per-minute budgets.
func (handler *Handler) Routes() chi.Router {
	router := chi.NewRouter()
	window := constants.RateLimitWindow

	router.Get("/", handler.list)
	router.With(middleware.Throttle(constants.RateLimitLibraryAddPerMin, window)).
		Post("/", handler.add)
	router.With(middleware.Throttle(constants.RateLimitLibraryBulkPerMin, window)).
		Patch("/bulk", handler.bulkUpdate)
	router.With(middleware.Throttle(constants.RateLimitImportPerMin, window)).
		Post("/import", handler.importEntries)
	router.Patch("/{id}", handler.update)
	router.With(middleware.Throttle(constants.RateLimitLibraryDeletePerMin, window)).
		Delete("/{id}", handler.remove)
	router.Post("/{id}/retry-metadata", handler.retryMetadata)

	return router
}

// listResponse is the GET /api/library payload.
type listResponse struct {
	Entries    []Entry         `json:"entries"`
	Stats      Stats           `json:"stats"`
	Pagination pagination.Meta `json:"pagination"`
}

/*
GET /api/library.

Description: Lists the user's library with free-text and status filters,
the five sort orders, and offset pagination.

Query:
  - q: free-text match on series title or source URL
  - status: one of the entry statuses
  - sort: updated | latest_chapter | title | rating | added
  - limit: 1..200 (default 50), offset: >= 0

Response:
  - 200: listResponse
  - 400: invalid filter, sort, or paging values
  - 401: authentication required
*/
func (handler *Handler) list(writer http.ResponseWriter, request *http.Request) {
	userID, err := requestutil.RequiredUserID(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	params := request.URL.Query()
	opts := ListOptions{
		Query:  params.Get("q"),
		Status: params.Get("status"),
		Sort:   params.Get("sort"),
		Limit:  defaultListLimit,
	}
	if opts.Sort == "" {
		opts.Sort = SortUpdated
	}
	if raw := params.Get("limit"); raw != "" {
		opts.Limit, err = strconv.Atoi(raw)
		if err != nil {
			respond.Error(writer, request, apperr.ValidationError("limit must be an integer"))
			return
		}
	}
	if raw := params.Get("offset"); raw != "" {
		opts.Offset, err = strconv.Atoi(raw)
		if err != nil {
			respond.Error(writer, request, apperr.ValidationError("offset must be an integer"))
			return
		}
	}

	validator := validate.New().
		OneOf("sort", opts.Sort, SortKeys...).
		Range("limit", opts.Limit, 1, MaxListLimit).
		Custom("offset", opts.Offset < 0, "must not be negative")
	if opts.Status != "" {
		validator.OneOf("status", opts.Status, Statuses...)
	}
	if err := validator.Err(); err != nil {
		respond.Error(writer, request, err)
		return
	}

	entries, stats, total, err := handler.service.ListEntries(request.Context(), userID, opts)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	if entries == nil {
		entries = []Entry{}
	}

	page := opts.Offset/opts.Limit + 1
	respond.OK(writer, listResponse{
		Entries:    entries,
		Stats:      stats,
		Pagination: pagination.NewMeta(page, opts.Limit, total),
	})
}

// addRequest is the POST /api/library payload.
type addRequest struct {
	SeriesID string `json:"series_id"`
	Status   string `json:"status"`
}

/*
POST /api/library.

Description: Adds a series to the library. Re-adding a soft-deleted entry
restores it with its read progress intact; a live duplicate is a conflict.

Response:
  - 201: Entry
  - 400: invalid series id or status
  - 404: unknown series
  - 409: already in library
*/
func (handler *Handler) add(writer http.ResponseWriter, request *http.Request) {
	userID, err := requestutil.RequiredUserID(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	var input addRequest
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}
	if input.Status == "" {
		input.Status = StatusReading
	}
	if err := validate.New().
		Required("series_id", input.SeriesID).
		UUID("series_id", input.SeriesID).
		OneOf("status", input.Status, Statuses...).
		Err(); err != nil {
		respond.Error(writer, request, err)
		return
	}

	entry, err := handler.service.Add(request.Context(), userID, input.SeriesID, input.Status)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.Created(writer, entry)
}

// updateRequest is the PATCH /api/library/{id} payload.
type updateRequest struct {
	Status          *string `json:"status"`
	Rating          *int    `json:"rating"`
	PreferredSource *string `json:"preferred_source"`
}

func validateUpdate(input updateRequest) error {
	validator := validate.New()
	if input.Status != nil {
		validator.OneOf("status", *input.Status, Statuses...)
	}
	if input.Rating != nil {
		validator.Range("rating", *input.Rating, 1, 10)
	}
	if input.PreferredSource != nil {
		validator.MaxLen("preferred_source", *input.PreferredSource, MaxPreferredSourceLen)
	}
	return validator.Err()
}

/*
PATCH /api/library/{id}.

Description: Partial update of status, rating (1..10), or preferred
source. A status change to completed grants the one-time completion
reward.

Response:
  - 200: Entry
  - 400: invalid field value
  - 404: entry not found
*/
func (handler *Handler) update(writer http.ResponseWriter, request *http.Request) {
	userID, err := requestutil.RequiredUserID(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	entryID := requestutil.ID(request, "id")
	if entryID == "" {
		respond.Error(writer, request, apperr.ValidationError("id must be a valid UUID"))
		return
	}

	var input updateRequest
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}
	if err := validateUpdate(input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	entry, err := handler.service.Update(request.Context(), userID, entryID, Patch{
		Status:          input.Status,
		Rating:          input.Rating,
		PreferredSource: input.PreferredSource,
	})
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, entry)
}

/*
DELETE /api/library/{id}.

Description: Soft delete. The series follower count is decremented,
clamped at zero.

Response:
  - 204: removed
  - 404: entry not found
*/
func (handler *Handler) remove(writer http.ResponseWriter, request *http.Request) {
	userID, err := requestutil.RequiredUserID(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	entryID := requestutil.ID(request, "id")
	if entryID == "" {
		respond.Error(writer, request, apperr.ValidationError("id must be a valid UUID"))
		return
	}

	if err := handler.service.Remove(request.Context(), userID, entryID); err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.NoContent(writer)
}

// bulkRequest is the PATCH /api/library/bulk payload.
type bulkRequest struct {
	Updates []BulkUpdate `json:"updates"`
}

/*
PATCH /api/library/bulk.

Description: Applies up to 50 independent updates. Items fail
individually; the response reports per-item outcomes.

Response:
  - 200: {results: []BulkResult}
  - 400: empty batch, batch too large, or invalid item
*/
func (handler *Handler) bulkUpdate(writer http.ResponseWriter, request *http.Request) {
	userID, err := requestutil.RequiredUserID(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	var input bulkRequest
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}
	if len(input.Updates) == 0 {
		respond.Error(writer, request, apperr.ValidationError("updates must not be empty"))
		return
	}
	if len(input.Updates) > MaxBulkUpdates {
		respond.Error(writer, request, apperr.ValidationError("updates must contain at most 50 items"))
		return
	}
	for _, update := range input.Updates {
		if err := validate.New().
			Required("id", update.ID).
			UUID("id", update.ID).
			Err(); err != nil {
			respond.Error(writer, request, err)
			return
		}
		if err := validateUpdate(updateRequest{
			Status:          update.Status,
			Rating:          update.Rating,
			PreferredSource: update.PreferredSource,
		}); err != nil {
			respond.Error(writer, request, err)
			return
		}
	}

	results := handler.service.ApplyBulk(request.Context(), userID, input.Updates)
	respond.OK(writer, map[string]any{"results": results})
}

// importRequest is the POST /api/library/import payload.
type importRequest struct {
	Source  string        `json:"source"`
	Entries []ImportEntry `json:"entries"`
}

/*
POST /api/library/import.

Description: Queues a bulk import of up to 500 entries. Duplicates within
the request and entries already in the library are dropped before the job
is queued; the import worker does the rest asynchronously.

Response:
  - 202: ImportJob
  - 400: missing source, empty or oversized batch
*/
func (handler *Handler) importEntries(writer http.ResponseWriter, request *http.Request) {
	userID, err := requestutil.RequiredUserID(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	var input importRequest
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}
	if err := validate.New().
		Required("source", input.Source).
		Custom("entries", len(input.Entries) == 0, "must not be empty").
		Custom("entries", len(input.Entries) > MaxImportEntries, "must contain at most 500 items").
		Err(); err != nil {
		respond.Error(writer, request, err)
		return
	}
	for _, item := range input.Entries {
		if item.URL == "" && item.Title == "" {
			respond.Error(writer, request, apperr.ValidationError("each entry needs a url or a title"))
			return
		}
	}

	job, err := handler.service.Import(request.Context(), userID, input.Source, input.Entries)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.JSON(writer, http.StatusAccepted, respond.SuccessEnvelope{Data: job})
}

/*
POST /api/library/{id}/retry-metadata.

Description: Resets a failed or unavailable entry to pending and queues a
metadata resolution job at the highest priority.

Response:
  - 202: {entry_id, metadata_status}
  - 404: entry not found
*/
func (handler *Handler) retryMetadata(writer http.ResponseWriter, request *http.Request) {
	userID, err := requestutil.RequiredUserID(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	entryID := requestutil.ID(request, "id")
	if entryID == "" {
		respond.Error(writer, request, apperr.ValidationError("id must be a valid UUID"))
		return
	}

	if err := handler.service.RetryMetadata(request.Context(), userID, entryID); err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.JSON(writer, http.StatusAccepted, respond.SuccessEnvelope{
		Data: map[string]string{"entry_id": entryID, "metadata_status": MetadataPending},
	})
}
