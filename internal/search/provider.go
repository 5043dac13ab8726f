// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package search

import (
	stdctx "context"

	"github.com/taibuivan/mangatrack/internal/source"
)

// Searcher is the slice of a source client the discovery provider needs.
// [source.MangadexClient] satisfies it; sources without a search protocol
// simply never become providers.
type Searcher interface {
	Name() string
	SearchSeries(context stdctx.Context, query string) ([]source.SeriesHit, error)
}

// SourceProvider adapts a searchable source client to the [Provider]
// contract.
type SourceProvider struct {
	searcher Searcher
}

// NewSourceProvider wraps a searchable source client.
func NewSourceProvider(searcher Searcher) *SourceProvider {
	return &SourceProvider{searcher: searcher}
}

// Search runs one external title search and maps the hits onto discovery
// rows. Typed source errors pass through untouched so the worker's retry
// classification sees them.
func (provider *SourceProvider) Search(context stdctx.Context, query string) ([]DiscoveredSeries, error) {
	hits, err := provider.searcher.SearchSeries(context, query)
	if err != nil {
		return nil, err
	}

	discovered := make([]DiscoveredSeries, 0, len(hits))
	for _, hit := range hits {
		discovered = append(discovered, DiscoveredSeries{
			SourceName:     hit.SourceName,
			SourceSeriesID: hit.SourceSeriesID,
			SourceURL:      hit.SourceURL,
			Title:          hit.Title,
			ContentRating:  hit.ContentRating,
		})
	}
	return discovered, nil
}
