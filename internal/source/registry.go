// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package source

import (
	stdctx "context"
	"sort"
)

// Registry maps canonical source names to their adapters.
type Registry struct {
	clients map[string]Client
}

// NewRegistry builds a [Registry] from the given adapters.
func NewRegistry(clients ...Client) *Registry {
	registry := &Registry{clients: make(map[string]Client, len(clients))}
	for _, client := range clients {
		registry.clients[client.Name()] = client
	}
	return registry
}

// Client resolves an adapter by source name. Unknown names yield the
// notImplementedClient so callers get [ErrNotImplemented] on use instead
// of a nil dereference.
func (registry *Registry) Client(name string) Client {
	if client, found := registry.clients[name]; found {
		return client
	}
	return notImplementedClient{name: name}
}

// Names returns the registered source names, sorted.
func (registry *Registry) Names() []string {
	names := make([]string, 0, len(registry.clients))
	for name := range registry.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type notImplementedClient struct {
	name string
}

func (client notImplementedClient) Name() string { return client.name }

func (client notImplementedClient) ScrapeSeries(stdctx.Context, string, []string) (*ScrapeResult, error) {
	return nil, wrap(ErrNotImplemented, "source: %s", client.name)
}

func (client notImplementedClient) ScrapeLatestUpdates(stdctx.Context) LatestIterator {
	return errIterator{err: wrap(ErrNotImplemented, "source: %s", client.name)}
}

type errIterator struct {
	err error
}

func (iterator errIterator) Next(stdctx.Context) (*LatestUpdate, bool, error) {
	return nil, false, iterator.err
}
