// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package source

import (
	stdctx "context"
	"fmt"
	"net/url"
	"time"
)

const (
	mangadexPageSize = 100
	// mangadexMaxPages caps pagination so a pathological series cannot pin
	// a poll worker.
	mangadexMaxPages = 50

	// mangadexSearchLimit caps one discovery search; storm control already
	// collapsed the demand upstream.
	mangadexSearchLimit = 10
)

// MangadexClient scrapes the MangaDex JSON API.
type MangadexClient struct {
	baseURL string
	fetcher *httpFetcher
}

// NewMangadexClient constructs the MangaDex adapter.
func NewMangadexClient(baseURL string, allowedHosts []string) *MangadexClient {
	return &MangadexClient{
		baseURL: baseURL,
		fetcher: newHTTPFetcher(allowedHosts),
	}
}

func (client *MangadexClient) Name() string { return "mangadex" }

type mangadexChapterAttributes struct {
	Chapter   string `json:"chapter"`
	Title     string `json:"title"`
	PublishAt string `json:"publishAt"`
}

type mangadexChapter struct {
	ID         string                    `json:"id"`
	Attributes mangadexChapterAttributes `json:"attributes"`
}

type mangadexFeedResponse struct {
	Data  []mangadexChapter `json:"data"`
	Total int               `json:"total"`
}

// ScrapeSeries walks the manga's chapter feed page by page. targetChapters
// is ignored: the feed endpoint has no per-chapter filter, so gap recovery
// gets the full list and filters downstream.
func (client *MangadexClient) ScrapeSeries(context stdctx.Context, sourceID string, targetChapters []string) (*ScrapeResult, error) {
	result := &ScrapeResult{SourceID: sourceID}

	for page := 0; page < mangadexMaxPages; page++ {
		feedURL := fmt.Sprintf(
			"%s/manga/%s/feed?limit=%d&offset=%d&translatedLanguage[]=en&order[chapter]=asc",
			client.baseURL, url.PathEscape(sourceID), mangadexPageSize, page*mangadexPageSize,
		)

		var response mangadexFeedResponse
		if err := client.fetcher.getJSON(context, feedURL, &response); err != nil {
			return nil, err
		}

		for _, row := range response.Data {
			result.Chapters = append(result.Chapters, client.toScraped(row))
		}

		if len(result.Chapters) >= response.Total || len(response.Data) == 0 {
			break
		}
	}
	return result, nil
}

// ScrapeLatestUpdates pulls the global recent-chapters feed lazily, newest
// first, one page per Next exhaustion.
func (client *MangadexClient) ScrapeLatestUpdates(stdctx.Context) LatestIterator {
	return &mangadexLatestIterator{client: client}
}

type mangadexLatestEntry struct {
	mangadexChapter
	Relationships []struct {
		Type       string `json:"type"`
		ID         string `json:"id"`
		Attributes struct {
			Title map[string]string `json:"title"`
		} `json:"attributes"`
	} `json:"relationships"`
}

type mangadexLatestResponse struct {
	Data  []mangadexLatestEntry `json:"data"`
	Total int                   `json:"total"`
}

type mangadexLatestIterator struct {
	client    *MangadexClient
	buffer    []*LatestUpdate
	offset    int
	fetched   int
	total     int
	exhausted bool
}

func (iterator *mangadexLatestIterator) Next(context stdctx.Context) (*LatestUpdate, bool, error) {
	if len(iterator.buffer) == 0 && !iterator.exhausted {
		if err := iterator.fill(context); err != nil {
			return nil, false, err
		}
	}
	if len(iterator.buffer) == 0 {
		return nil, false, nil
	}

	update := iterator.buffer[0]
	iterator.buffer = iterator.buffer[1:]
	return update, true, nil
}

func (iterator *mangadexLatestIterator) fill(context stdctx.Context) error {
	feedURL := fmt.Sprintf(
		"%s/chapter?limit=%d&offset=%d&translatedLanguage[]=en&order[publishAt]=desc&includes[]=manga",
		iterator.client.baseURL, mangadexPageSize, iterator.offset,
	)

	var response mangadexLatestResponse
	if err := iterator.client.fetcher.getJSON(context, feedURL, &response); err != nil {
		return err
	}

	for _, entry := range response.Data {
		update := &LatestUpdate{Chapter: iterator.client.toScraped(entry.mangadexChapter)}
		for _, relation := range entry.Relationships {
			if relation.Type == "manga" {
				update.SourceSeriesID = relation.ID
				update.SeriesTitle = firstTitle(relation.Attributes.Title)
			}
		}
		if update.Chapter.PublishedAt != nil {
			update.UpdatedAt = *update.Chapter.PublishedAt
		}
		iterator.buffer = append(iterator.buffer, update)
	}

	iterator.offset += mangadexPageSize
	iterator.fetched += len(response.Data)
	iterator.total = response.Total
	if len(response.Data) == 0 || iterator.fetched >= iterator.total || iterator.offset >= mangadexPageSize*mangadexMaxPages {
		iterator.exhausted = true
	}
	return nil
}

type mangadexMangaAttributes struct {
	Title         map[string]string `json:"title"`
	ContentRating string            `json:"contentRating"`
}

type mangadexManga struct {
	ID         string                  `json:"id"`
	Attributes mangadexMangaAttributes `json:"attributes"`
}

type mangadexSearchResponse struct {
	Data []mangadexManga `json:"data"`
}

// SearchSeries queries the manga catalog by title, best matches first.
// Discovery only needs a shallow result set, not the full catalog walk.
func (client *MangadexClient) SearchSeries(context stdctx.Context, query string) ([]SeriesHit, error) {
	searchURL := fmt.Sprintf(
		"%s/manga?title=%s&limit=%d&order[relevance]=desc",
		client.baseURL, url.QueryEscape(query), mangadexSearchLimit,
	)

	var response mangadexSearchResponse
	if err := client.fetcher.getJSON(context, searchURL, &response); err != nil {
		return nil, err
	}

	hits := make([]SeriesHit, 0, len(response.Data))
	for _, row := range response.Data {
		hits = append(hits, SeriesHit{
			SourceName:     client.Name(),
			SourceSeriesID: row.ID,
			SourceURL:      client.baseURL + "/title/" + row.ID,
			Title:          firstTitle(row.Attributes.Title),
			ContentRating:  row.Attributes.ContentRating,
		})
	}
	return hits, nil
}

func (client *MangadexClient) toScraped(row mangadexChapter) ScrapedChapter {
	scraped := ScrapedChapter{
		Label:           row.Attributes.Chapter,
		Title:           row.Attributes.Title,
		SourceChapterID: row.ID,
		URL:             client.baseURL + "/chapter/" + row.ID,
	}
	if publishedAt, err := time.Parse(time.RFC3339, row.Attributes.PublishAt); err == nil {
		scraped.PublishedAt = &publishedAt
	}
	return scraped
}

func firstTitle(titles map[string]string) string {
	if title, found := titles["en"]; found {
		return title
	}
	for _, title := range titles {
		return title
	}
	return ""
}
