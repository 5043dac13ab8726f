// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package breaker_test

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/mangatrack/internal/breaker"
)

func TestRegistry_OpensAfterFiveConsecutiveFailures(t *testing.T) {
	registry := breaker.NewRegistry(slog.Default())
	upstreamErr := errors.New("http 503")

	for i := 0; i < 5; i++ {
		err := registry.Execute("mangadex", func() error { return upstreamErr })
		require.ErrorIs(t, err, upstreamErr)
	}

	assert.True(t, registry.IsOpen("mangadex"))

	// Open circuit short-circuits without calling the operation.
	called := false
	err := registry.Execute("mangadex", func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, breaker.ErrCircuitOpen)
	assert.False(t, called)
}

func TestRegistry_SuccessResetsFailureStreak(t *testing.T) {
	registry := breaker.NewRegistry(slog.Default())
	upstreamErr := errors.New("http 500")

	for i := 0; i < 4; i++ {
		_ = registry.Execute("weebcentral", func() error { return upstreamErr })
	}
	require.NoError(t, registry.Execute("weebcentral", func() error { return nil }))

	// Streak was broken; four more failures still do not open it.
	for i := 0; i < 4; i++ {
		_ = registry.Execute("weebcentral", func() error { return upstreamErr })
	}
	assert.False(t, registry.IsOpen("weebcentral"))
}

func TestRegistry_BreakersAreIsolatedPerSource(t *testing.T) {
	registry := breaker.NewRegistry(slog.Default())
	upstreamErr := errors.New("blocked")

	for i := 0; i < 5; i++ {
		_ = registry.Execute("mangadex", func() error { return upstreamErr })
	}

	assert.True(t, registry.IsOpen("mangadex"))
	assert.False(t, registry.IsOpen("weebcentral"))
	require.NoError(t, registry.Execute("weebcentral", func() error { return nil }))
}
