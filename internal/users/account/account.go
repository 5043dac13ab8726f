// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package account handles user profile visibility and security settings.

It provides functionalities for users to view their private identity and
gamification data, rename their public handle, and manage their active
device sessions.

# Architecture

  - Entities: PublicProfile, SessionInfo (DTOs).
  - Domain: This package depends on the auth package for the User entity.
  - Security: Provides session transparency and revocation mechanisms.
*/
package account

import (
	"context"
	"time"

	"github.com/taibuivan/mangatrack/internal/users/auth"
)

// # Domain Entities

// PublicProfile is the field-filtered view of an account exposed to
// other users. Email, trust data, and moderation state stay private.
type PublicProfile struct {
	ID            string    `json:"id"`
	Username      string    `json:"username"`
	Level         int       `json:"level"`
	XP            int64     `json:"xp"`
	StreakDays    int       `json:"streak_days"`
	LongestStreak int       `json:"longest_streak"`
	ChaptersRead  int64     `json:"chapters_read"`
	SeasonXP      int64     `json:"season_xp"`
	CurrentSeason string    `json:"current_season"`
	CreatedAt     time.Time `json:"created_at"`
}

// SessionInfo provides a safety-mapped view of an active user session.
// It omits the token hash for transport.
type SessionInfo struct {
	ID         string    `json:"id"`
	DeviceName string    `json:"device_name"` // e.g. "Chrome on Windows"
	IPAddress  string    `json:"ip_address"`
	UserAgent  string    `json:"user_agent"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	IsCurrent  bool      `json:"is_current"` // True if this session issued the current request
}

// # Repository Contracts

// AccountRepository defines the persistence contract for account lookups
// and mutations. The auth package's Postgres user repository satisfies it.
type AccountRepository interface {
	/*
		FindByID retrieves a user record by their unique ID.

		Parameters:
		  - context: context.Context
		  - id: string (UUID)

		Returns:
		  - *auth.User: Loaded account entity
		  - error: apperr.NotFound or storage failures
	*/
	FindByID(context context.Context, id string) (*auth.User, error)

	/*
		UpdateUsername changes the account's public handle.

		Parameters:
		  - context: context.Context
		  - userID: string
		  - username: string

		Returns:
		  - error: Uniqueness conflicts or persistence failures
	*/
	UpdateUsername(context context.Context, userID, username string) error

	/*
		SoftDelete flags an account as logically deleted.

		Parameters:
		  - context: context.Context
		  - id: string

		Returns:
		  - error: Execution failures
	*/
	SoftDelete(context context.Context, id string) error
}

// SessionRepository defines the visibility and revocation contract for
// user sessions. Every method is owner-scoped: a session can only be
// seen or revoked by the user it belongs to.
type SessionRepository interface {
	/*
		FindActiveByUserID lists all valid, non-expired sessions for a user.

		Parameters:
		  - context: context.Context
		  - userID: string
		  - currentTokenHash: string (marks the matching session as current)

		Returns:
		  - []SessionInfo: List of active devices, newest first
		  - error: Retrieval errors
	*/
	FindActiveByUserID(context context.Context, userID, currentTokenHash string) ([]SessionInfo, error)

	/*
		Revoke marks a specific session as revoked.

		Parameters:
		  - context: context.Context
		  - userID: string (Security constraint: owner validation)
		  - sessionID: string

		Returns:
		  - error: apperr.NotFound if the session does not belong to the user
	*/
	Revoke(context context.Context, userID, sessionID string) error

	/*
		RevokeOthers revokes all active sessions except the one matching
		the given token hash.

		Parameters:
		  - context: context.Context
		  - userID: string
		  - currentTokenHash: string (The whitelist target)

		Returns:
		  - error: Revocation failures
	*/
	RevokeOthers(context context.Context, userID, currentTokenHash string) error

	/*
		RevokeAll terminates every session for a user.

		Parameters:
		  - context: context.Context
		  - userID: string

		Returns:
		  - error: Revocation failures
	*/
	RevokeAll(context context.Context, userID string) error
}
