// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package source holds the protocol adapters for external manga sources.

Architecture:

  - Client: the per-source scraping contract consumed by the poll worker.
  - Registry: name -> Client lookup plus the host allow-list.
  - httpFetcher: shared JSON transport with retry and typed error
    classification.

Adapters translate each source's wire format into [ScrapedChapter] values;
normalization into logical chapters happens downstream in the ingest worker,
never here.
*/
package source

import (
	stdctx "context"
	"errors"
	"fmt"
	"time"
)

// # Typed Errors
//
// The poll worker classifies these to drive backoff and circuit-breaker
// decisions; adapters must wrap upstream failures into one of them.

var (
	// ErrRateLimited means the upstream returned 429 and survived retries.
	ErrRateLimited = errors.New("source: rate limited")

	// ErrProxyBlocked means the upstream rejected our egress (Cloudflare
	// challenge, datacenter-IP ban, 403 family).
	ErrProxyBlocked = errors.New("source: proxy blocked")

	// ErrNotFound means the series does not exist on the source.
	ErrNotFound = errors.New("source: series not found")

	// ErrNotImplemented means no adapter exists for the source protocol.
	// The poll worker parks such sources instead of retrying.
	ErrNotImplemented = errors.New("source: provider not implemented")
)

// # Scrape Contract

// ScrapedChapter is one chapter row as published by a source, prior to
// normalization.
type ScrapedChapter struct {
	// Label is the raw chapter designation ("Chapter 10.5", "ch. 3").
	Label string
	// Title is the chapter's display title, when the source provides one.
	Title string
	// URL points at the readable chapter on the source.
	URL string
	// SourceChapterID is the source's own chapter identifier.
	SourceChapterID string
	// PublishedAt is the source-reported publication time, when known.
	PublishedAt *time.Time
}

// ScrapeResult is the full chapter list for one series on one source.
type ScrapeResult struct {
	SourceID string
	Title    string
	Chapters []ScrapedChapter
}

// SeriesHit is one catalog match from a source's title search. Only
// clients with a search protocol produce these; the Client interface
// does not require it.
type SeriesHit struct {
	SourceName     string
	SourceSeriesID string
	SourceURL      string
	Title          string
	ContentRating  string
}

// LatestUpdate is one entry of a source's cross-series recent-updates feed.
type LatestUpdate struct {
	SourceSeriesID string
	SeriesTitle    string
	Chapter        ScrapedChapter
	UpdatedAt      time.Time
}

// LatestIterator is a finite pull iterator over a source's recent updates.
// It is not restartable; callers materialize what they need.
type LatestIterator interface {
	// Next returns the next update, or ok=false when exhausted.
	Next(context stdctx.Context) (update *LatestUpdate, ok bool, err error)
}

// Client is the adapter contract for one external source.
type Client interface {
	// Name returns the source's canonical name ("mangadex").
	Name() string

	/*
		ScrapeSeries fetches the chapter list for a series.

		Parameters:
		  - context: context.Context
		  - sourceID: string (the source's own series id or slug)
		  - targetChapters: []string (optional; gap recovery restricts the
		    fetch to specific chapter labels when the protocol supports it)

		Returns:
		  - *ScrapeResult: the chapter list (possibly empty)
		  - error: one of the typed errors above, or a transient failure
	*/
	ScrapeSeries(context stdctx.Context, sourceID string, targetChapters []string) (*ScrapeResult, error)

	// ScrapeLatestUpdates streams the source's recent cross-series updates.
	ScrapeLatestUpdates(context stdctx.Context) LatestIterator
}

// Classify maps an error chain onto the crawl backoff category used by the
// poll worker when persisting next_check_at.
type FailureClass int

const (
	FailureTransient FailureClass = iota
	FailureRateLimited
	FailureProxyBlocked
	FailureNotFound
	FailureNotImplemented
)

// Classify buckets a scrape error for backoff selection.
func Classify(err error) FailureClass {
	switch {
	case errors.Is(err, ErrRateLimited):
		return FailureRateLimited
	case errors.Is(err, ErrProxyBlocked):
		return FailureProxyBlocked
	case errors.Is(err, ErrNotFound):
		return FailureNotFound
	case errors.Is(err, ErrNotImplemented):
		return FailureNotImplemented
	default:
		return FailureTransient
	}
}

// wrap attaches adapter context to a typed error.
func wrap(sentinel error, format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, sentinel)...)
}
