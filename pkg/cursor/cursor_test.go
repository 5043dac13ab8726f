// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package cursor_test

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/mangatrack/pkg/cursor"
	"github.com/taibuivan/mangatrack/pkg/uuid"
)

func TestCursor_RoundTrip(t *testing.T) {
	position := cursor.Cursor{
		Time: time.Date(2026, 8, 20, 10, 30, 0, 123456000, time.UTC),
		ID:   uuid.New(),
	}

	decoded, err := cursor.Decode(cursor.Encode(position))
	require.NoError(t, err)
	require.NotNil(t, decoded)
	assert.True(t, decoded.Time.Equal(position.Time))
	assert.Equal(t, position.ID, decoded.ID)
}

func TestCursor_EmptyMeansFromTop(t *testing.T) {
	decoded, err := cursor.Decode("")
	require.NoError(t, err)
	assert.Nil(t, decoded)
}

func TestCursor_RejectsMalformedInput(t *testing.T) {
	cases := []struct {
		name    string
		encoded string
	}{
		{"not base64", "%%%%"},
		{"not json", base64.URLEncoding.EncodeToString([]byte("hello"))},
		{"extra keys", base64.URLEncoding.EncodeToString([]byte(`{"d":"2026-01-01T00:00:00Z","i":"` + uuid.New() + `","x":1}`))},
		{"bad timestamp", base64.URLEncoding.EncodeToString([]byte(`{"d":"yesterday","i":"` + uuid.New() + `"}`))},
		{"bad uuid", base64.URLEncoding.EncodeToString([]byte(`{"d":"2026-01-01T00:00:00Z","i":"not-a-uuid"}`))},
		{"nil uuid", base64.URLEncoding.EncodeToString([]byte(`{"d":"2026-01-01T00:00:00Z","i":"00000000-0000-0000-0000-000000000000"}`))},
	}

	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			decoded, err := cursor.Decode(testCase.encoded)
			require.Error(t, err)
			assert.Nil(t, decoded)
		})
	}
}
