// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package cursor implements the opaque pagination cursor used by feed and
listing endpoints.

Wire format: base64(JSON({"d": ISO timestamp, "i": UUID})). Anything that
is not exactly that shape is rejected, so cursors cannot smuggle query
structure.
*/
package cursor

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/taibuivan/mangatrack/internal/platform/apperr"
)

// Cursor is a (timestamp, id) position in a keyset-paginated listing.
type Cursor struct {
	Time time.Time
	ID   string
}

type wireCursor struct {
	D string `json:"d"`
	I string `json:"i"`
}

// Encode renders the cursor in its opaque wire form.
func Encode(position Cursor) string {
	raw, _ := json.Marshal(wireCursor{
		D: position.Time.UTC().Format(time.RFC3339Nano),
		I: position.ID,
	})
	return base64.URLEncoding.EncodeToString(raw)
}

/*
Decode parses and validates an opaque cursor.

Description: The empty string decodes to (nil, nil), meaning "from the
top". Any other input must be valid base64 wrapping exactly a {d, i} JSON
object with an RFC 3339 timestamp and a well-formed UUID.

Parameters:
  - encoded: string

Returns:
  - *Cursor: the decoded position, nil for the empty cursor
  - error: apperr validation error for malformed input
*/
func Decode(encoded string) (*Cursor, error) {
	if encoded == "" {
		return nil, nil
	}

	raw, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, apperr.ValidationError("invalid cursor encoding")
	}

	var wire wireCursor
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&wire); err != nil {
		return nil, apperr.ValidationError("invalid cursor payload")
	}

	parsedTime, err := time.Parse(time.RFC3339Nano, wire.D)
	if err != nil {
		return nil, apperr.ValidationError("invalid cursor timestamp")
	}

	parsedID, err := uuid.Parse(wire.I)
	if err != nil || parsedID.Version() < 1 || parsedID.Version() > 7 {
		return nil, apperr.ValidationError("invalid cursor id")
	}

	return &Cursor{Time: parsedTime, ID: wire.I}, nil
}
