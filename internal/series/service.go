// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package series

import (
	stdctx "context"
	"log/slog"
	"net/url"

	"github.com/taibuivan/mangatrack/internal/activity"
	"github.com/taibuivan/mangatrack/internal/crawl"
	"github.com/taibuivan/mangatrack/internal/platform/apperr"
	"github.com/taibuivan/mangatrack/internal/search"
)

// # Service Layer

// Service orchestrates catalog reads, source attachment, and the
// discovery search path.
type Service struct {
	store        Store
	crawlStore   crawl.Store
	gatekeeper   *crawl.Gatekeeper
	storm        *search.Controller
	activity     *activity.Recorder
	allowedHosts map[string]bool
	log          *slog.Logger
}

// NewService constructs the catalog [Service].
func NewService(
	store Store,
	crawlStore crawl.Store,
	gatekeeper *crawl.Gatekeeper,
	storm *search.Controller,
	recorder *activity.Recorder,
	allowedHosts []string,
	log *slog.Logger,
) *Service {
	allowed := make(map[string]bool, len(allowedHosts))
	for _, host := range allowedHosts {
		allowed[host] = true
	}
	return &Service{
		store:        store,
		crawlStore:   crawlStore,
		gatekeeper:   gatekeeper,
		storm:        storm,
		activity:     recorder,
		allowedHosts: allowed,
		log:          log,
	}
}

// Chapters returns one page of the series' chapter groups.
func (service *Service) Chapters(context stdctx.Context, seriesID string, limit, offset int) ([]ChapterGroup, int, error) {
	return service.store.Chapters(context, seriesID, limit, offset)
}

/*
AttachSource binds a new external listing to a series.

Description: The URL's hostname must be on the crawl allow-list; anything
else is rejected before it can reach the poll pipeline. The listing is
stored and its first sync requested through the gatekeeper at
user-request priority, so a freshly attached source is usually polled
within seconds. A denied gate (duplicate, open breaker, negative cache)
leaves the listing attached; the scheduler picks it up on cadence.

Returns:
  - string: the new series-source id
  - error: apperr.Forbidden for a disallowed host, apperr.NotFound for an
    unknown series, apperr.Conflict for a duplicate listing
*/
func (service *Service) AttachSource(context stdctx.Context, seriesID string, input AttachInput) (string, error) {
	parsed, err := url.Parse(input.SourceURL)
	if err != nil || !service.allowedHosts[parsed.Hostname()] {
		return "", apperr.Forbidden("Source host is not allowed")
	}

	sourceID, err := service.store.AttachSource(context, seriesID, input)
	if err != nil {
		return "", err
	}

	src, err := service.crawlStore.FindSeriesSource(context, sourceID)
	if err == nil && src != nil {
		decision, err := service.gatekeeper.ShouldEnqueue(context, src, crawl.ReasonUserRequest)
		if err == nil && decision.Allowed {
			if _, err := service.gatekeeper.Enqueue(context, src, crawl.ReasonUserRequest, decision, nil); err != nil {
				service.log.Warn("series_first_sync_failed",
					slog.String("series_source_id", sourceID), slog.String("error", err.Error()))
			}
		}
	}

	service.log.Info("series_source_attached",
		slog.String("series_id", seriesID),
		slog.String("source", input.SourceName),
		slog.String("series_source_id", sourceID),
	)
	return sourceID, nil
}

// SearchResult is the catalog answer plus the storm controller's verdict
// on triggering an external lookup.
type SearchResult struct {
	Series   []Summary       `json:"series"`
	Total    int             `json:"total"`
	External search.Decision `json:"external_search"`
}

/*
Search answers a catalog search and feeds the storm controller.

Description: The local catalog always answers. In parallel semantics, the
query counts toward the external-search threshold, and when the gates
open an external discovery job is enqueued; its results land in the
catalog asynchronously. Each returned series records a search_impression
activity event (weight 5), the demand signal that can promote a series'
tier.
*/
func (service *Service) Search(context stdctx.Context, query string, class search.Class, limit, offset int) (*SearchResult, error) {
	decision, err := service.storm.Evaluate(context, query, class)
	if err != nil {
		return nil, err
	}

	matches, total, err := service.store.Search(context, query, limit, offset)
	if err != nil {
		return nil, err
	}

	for _, match := range matches {
		if err := service.activity.Record(context, match.ID, "", "", activity.EventSearchImpression); err != nil {
			service.log.Warn("series_impression_failed",
				slog.String("series_id", match.ID), slog.String("error", err.Error()))
		}
	}

	return &SearchResult{Series: matches, Total: total, External: decision}, nil
}

// Discover lists recently active series.
func (service *Service) Discover(context stdctx.Context, limit int) ([]Summary, error) {
	return service.store.Discover(context, limit)
}

// Trending ranks the catalog by activity score.
func (service *Service) Trending(context stdctx.Context, limit int) ([]Summary, error) {
	return service.store.Trending(context, limit)
}
