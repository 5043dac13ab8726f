// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package trust

import stdctx "context"

// Store is the durable side of the trust layer.
type Store interface {
	// AdjustTrustScore adds delta to the user's trust score, clamped to
	// [0,1], and returns the new value.
	AdjustTrustScore(context stdctx.Context, userID string, delta float64) (float64, error)

	// RestoreTrustScores raises every active account's trust score by
	// step, capped at 1.0. Accounts at or below floor are skipped.
	// Returns the number of accounts changed.
	RestoreTrustScores(context stdctx.Context, step, floor float64) (int64, error)
}
