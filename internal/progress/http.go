// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package progress

import (
	"net/http"

	"github.com/taibuivan/mangatrack/internal/platform/apperr"
	requestutil "github.com/taibuivan/mangatrack/internal/platform/request"
	"github.com/taibuivan/mangatrack/internal/platform/respond"
	"github.com/taibuivan/mangatrack/internal/platform/validate"
)

// maxReadingTimeSeconds caps the self-reported reading time; anything
// longer carries no heuristic signal.
const maxReadingTimeSeconds = 24 * 60 * 60

// Handler implements the HTTP layer for read progress.
type Handler struct {
	engine *Engine
}

// NewHandler constructs the progress [Handler].
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

/*
PATCH /api/library/{id}/progress.

Description: Applies one progress mutation. The target is the explicit
chapter number, or the slug resolved within the entry's series, or the
current position. Progress is monotone; marking read bulk-marks chapters
1..target; XP lands at most once per call under the engine's gates.

Response:
  - 200: Result
  - 400: invalid chapter number or reading time
  - 404: entry not found
  - 429: progress rate window exceeded (Retry-After set)
*/
func (handler *Handler) Update(writer http.ResponseWriter, request *http.Request) {
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

	var input UpdateInput
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	validator := validate.New().
		Range("reading_time_seconds", input.ReadingTimeSeconds, 0, maxReadingTimeSeconds)
	if input.ChapterNumber != nil {
		validator.Custom("chapter_number", *input.ChapterNumber < 0, "must not be negative")
		validator.Custom("chapter_number", *input.ChapterNumber > 100000, "is out of range")
	}
	if err := validator.Err(); err != nil {
		respond.Error(writer, request, err)
		return
	}

	result, err := handler.engine.UpdateProgress(request.Context(), userID, entryID, input)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, result)
}
