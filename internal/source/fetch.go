// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package source

import (
	stdctx "context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/avast/retry-go/v4"
)

const (
	fetchAttempts   = 3
	fetchRetryDelay = 500 * time.Millisecond
	maxBodyBytes    = 4 << 20
	userAgent       = "MangaTrackBot/1.0 (+https://mangatrack.app/bot)"
)

// httpFetcher is the shared JSON transport for all adapters. It retries
// transient upstream failures and converts terminal statuses into the
// package's typed errors.
type httpFetcher struct {
	client    *http.Client
	allowlist map[string]bool
}

func newHTTPFetcher(allowedHosts []string) *httpFetcher {
	allowlist := make(map[string]bool, len(allowedHosts))
	for _, host := range allowedHosts {
		allowlist[host] = true
	}
	return &httpFetcher{
		client:    &http.Client{Timeout: 30 * time.Second},
		allowlist: allowlist,
	}
}

/*
getJSON fetches rawURL and decodes the response body into out.

Description: 429 and 5xx responses are retried up to fetchAttempts times
with a fixed delay; whatever status survives the retries is classified into
the package's typed errors. Hosts outside the allow-list are refused before
any network I/O.

Parameters:
  - context: context.Context
  - rawURL: string
  - out: any (JSON decode target)

Returns:
  - error: typed source error, or transport failure
*/
func (fetcher *httpFetcher) getJSON(context stdctx.Context, rawURL string, out any) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return retry.Unrecoverable(fmt.Errorf("source: bad url %q: %w", rawURL, err))
	}
	if !fetcher.allowlist[parsed.Hostname()] {
		return retry.Unrecoverable(fmt.Errorf("source: host %q not allow-listed", parsed.Hostname()))
	}

	var body []byte
	err = retry.Do(
		func() error {
			request, err := http.NewRequestWithContext(context, http.MethodGet, rawURL, nil)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			request.Header.Set("User-Agent", userAgent)
			request.Header.Set("Accept", "application/json")

			response, err := fetcher.client.Do(request)
			if err != nil {
				return err
			}
			defer response.Body.Close()

			switch {
			case response.StatusCode == http.StatusOK:
				body, err = io.ReadAll(io.LimitReader(response.Body, maxBodyBytes))
				return err
			case response.StatusCode == http.StatusNotFound:
				return retry.Unrecoverable(wrap(ErrNotFound, "source: %s", rawURL))
			case response.StatusCode == http.StatusForbidden:
				return retry.Unrecoverable(wrap(ErrProxyBlocked, "source: status %d", response.StatusCode))
			case response.StatusCode == http.StatusTooManyRequests:
				return wrap(ErrRateLimited, "source: status %d", response.StatusCode)
			case response.StatusCode >= 500:
				return fmt.Errorf("source: upstream status %d", response.StatusCode)
			default:
				return retry.Unrecoverable(fmt.Errorf("source: unexpected status %d", response.StatusCode))
			}
		},
		retry.Context(context),
		retry.Attempts(fetchAttempts),
		retry.Delay(fetchRetryDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("source: decode %s: %w", rawURL, err)
	}
	return nil
}
