// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package ingest_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/mangatrack/internal/ingest"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		name       string
		label      string
		title      string
		wantKey    string
		wantType   string
		wantSlug   string
		wantNumber bool
	}{
		{
			name:       "plain chapter prefix",
			label:      "Chapter 10",
			wantKey:    "10",
			wantType:   ingest.TypeNormal,
			wantSlug:   "normal-10",
			wantNumber: true,
		},
		{
			name:       "abbreviated with dot",
			label:      "ch. 3",
			wantKey:    "3",
			wantType:   ingest.TypeNormal,
			wantSlug:   "normal-3",
			wantNumber: true,
		},
		{
			name:       "hash prefix",
			label:      "#12",
			wantKey:    "12",
			wantType:   ingest.TypeNormal,
			wantSlug:   "normal-12",
			wantNumber: true,
		},
		{
			name:       "decimal survives",
			label:      "Chapter 10.5",
			wantKey:    "10.5",
			wantType:   ingest.TypeNormal,
			wantSlug:   "normal-10.5",
			wantNumber: true,
		},
		{
			name:       "trailing zeros collapse",
			label:      "chapter 1.00",
			wantKey:    "1",
			wantType:   ingest.TypeNormal,
			wantSlug:   "normal-1",
			wantNumber: true,
		},
		{
			name:       "one point fifty",
			label:      "Ch 1.50",
			wantKey:    "1.5",
			wantType:   ingest.TypeNormal,
			wantSlug:   "normal-1.5",
			wantNumber: true,
		},
		{
			name:       "extra with number",
			label:      "Extra 2",
			wantKey:    "2",
			wantType:   ingest.TypeExtra,
			wantSlug:   "extra-2",
			wantNumber: true,
		},
		{
			name:       "omake folds into extra",
			label:      "Omake 1",
			wantKey:    "1",
			wantType:   ingest.TypeExtra,
			wantSlug:   "extra-1",
			wantNumber: true,
		},
		{
			name:       "special without number",
			label:      "Special",
			title:      "Beach Episode",
			wantKey:    ingest.NoNumberKey,
			wantType:   ingest.TypeSpecial,
			wantNumber: false,
		},
		{
			name:       "oneshot is special",
			label:      "Oneshot",
			title:      "Pilot",
			wantKey:    ingest.NoNumberKey,
			wantType:   ingest.TypeSpecial,
			wantNumber: false,
		},
		{
			name:       "empty label",
			label:      "",
			title:      "Untitled",
			wantKey:    ingest.NoNumberKey,
			wantType:   ingest.TypeNormal,
			wantNumber: false,
		},
	}

	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			normalized := ingest.Normalize(testCase.label, testCase.title)

			assert.Equal(t, testCase.wantKey, normalized.Key)
			assert.Equal(t, testCase.wantType, normalized.Type)
			if testCase.wantNumber {
				require.NotNil(t, normalized.Number)
				assert.Equal(t, testCase.wantSlug, normalized.Slug)
			} else {
				assert.Nil(t, normalized.Number)
				// Numberless chapters slug by hashed title.
				assert.Regexp(t, "^"+testCase.wantType+"-[0-9a-f]{20}$", normalized.Slug)
			}
		})
	}
}

func TestNormalize_SameNumberDifferentRenderingsCollide(t *testing.T) {
	first := ingest.Normalize("Chapter 1.00", "")
	second := ingest.Normalize("#1", "")
	assert.Equal(t, first.Key, second.Key)
	assert.Equal(t, first.Slug, second.Slug)
}

func TestNormalize_DistinctSpecialsStayDistinct(t *testing.T) {
	first := ingest.Normalize("Special", "Beach Episode")
	second := ingest.Normalize("Special", "Hot Springs")
	assert.Equal(t, first.Key, second.Key)
	assert.NotEqual(t, first.Slug, second.Slug)
}

func TestCanonicalNumber(t *testing.T) {
	assert.Equal(t, "1", ingest.CanonicalNumber(1.00))
	assert.Equal(t, "1.5", ingest.CanonicalNumber(1.50))
	assert.Equal(t, "10.25", ingest.CanonicalNumber(10.25))
	assert.Equal(t, "0", ingest.CanonicalNumber(0))
}
