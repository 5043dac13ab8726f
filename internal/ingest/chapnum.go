// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"
)

// Chapter type classes derived from the raw label.
const (
	TypeNormal  = "normal"
	TypeSpecial = "special"
	TypeExtra   = "extra"
)

// NoNumberKey is the identity sentinel for chapters without a parsable
// number. Such chapters dedupe by slug instead.
const NoNumberKey = "-1"

// Normalized is the canonical identity of one scraped chapter label.
type Normalized struct {
	// Number is the parsed chapter number; nil when the label has none.
	Number *float64
	// Key is the canonical number string ("1", "10.5") or [NoNumberKey].
	Key string
	// Type is one of TypeNormal, TypeSpecial, TypeExtra.
	Type string
	// Slug is "<type>-<key>", or "<type>-<titleHash>" for numberless
	// chapters so distinct specials stay distinct.
	Slug string
}

var numberPattern = regexp.MustCompile(`\d+(?:\.\d+)?`)

// typeTokens maps label tokens to chapter type classes, checked in order.
// omake is the Japanese bonus-chapter convention, folded into extra.
var typeTokens = []struct {
	token string
	class string
}{
	{"extra", TypeExtra},
	{"omake", TypeExtra},
	{"special", TypeSpecial},
	{"oneshot", TypeSpecial},
}

/*
Normalize derives the canonical identity of a chapter from its raw label.

Description: The label is lowercased, the ch/chapter/# prefixes are stripped,
the type is detected from well-known tokens, and the first decimal number in
what remains becomes the chapter number. The canonical number string drops
trailing zeros so "1.00" and "1" collide as the same logical chapter.

Parameters:
  - label: string (raw source designation, e.g. "Chapter 10.5")
  - title: string (chapter title, used to slug numberless chapters)

Returns:
  - Normalized: the identity triple {number, type, slug}
*/
func Normalize(label, title string) Normalized {
	cleaned := strings.ToLower(strings.TrimSpace(label))

	chapterType := TypeNormal
	for _, entry := range typeTokens {
		if strings.Contains(cleaned, entry.token) {
			chapterType = entry.class
			break
		}
	}

	cleaned = stripPrefixes(cleaned)

	normalized := Normalized{Type: chapterType, Key: NoNumberKey}
	if match := numberPattern.FindString(cleaned); match != "" {
		if value, err := strconv.ParseFloat(match, 64); err == nil {
			normalized.Number = &value
			normalized.Key = CanonicalNumber(value)
		}
	}

	if normalized.Number != nil {
		normalized.Slug = chapterType + "-" + normalized.Key
	} else {
		normalized.Slug = chapterType + "-" + titleHash(title)
	}
	return normalized
}

// CanonicalNumber renders a chapter number without trailing zeros, so the
// same logical chapter maps to one string key across sources.
func CanonicalNumber(number float64) string {
	return strconv.FormatFloat(number, 'f', -1, 64)
}

// stripPrefixes removes leading chapter designators so "ch. 3", "chapter 3"
// and "#3" all reduce to "3".
func stripPrefixes(label string) string {
	for _, prefix := range []string{"chapter", "ch", "#"} {
		if strings.HasPrefix(label, prefix) {
			label = strings.TrimSpace(strings.TrimPrefix(label, prefix))
			label = strings.TrimSpace(strings.TrimLeft(label, ".:"))
		}
	}
	return label
}

// titleHash is a stable 20-hex-char digest of the chapter title.
func titleHash(title string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(title))))
	return hex.EncodeToString(sum[:])[:20]
}
