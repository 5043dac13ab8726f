package schema

// UserAccountTable represents the 'users.account' table
type UserAccountTable struct {
	Table          string
	ID             string
	Username       string
	Email          string
	Password       string
	Role           string
	IsActive       string
	LastLoginAt    string
	XP             string
	Level          string
	StreakDays     string
	LongestStreak  string
	LastReadAt     string
	ChaptersRead   string
	TrustScore     string
	SeasonXP       string
	CurrentSeason  string
	FeedLastSeenAt string
	CreatedAt      string
	UpdatedAt      string
	DeletedAt      string
}

// UserAccount is the schema definition for users.account.
// Gamification counters live on the account row; chaptersread is a
// denormalized mirror of library.chapterread and is reconciled nightly.
var UserAccount = UserAccountTable{
	Table:          "users.account",
	ID:             "id",
	Username:       "username",
	Email:          "email",
	Password:       "passwordhash",
	Role:           "role",
	IsActive:       "isactive",
	LastLoginAt:    "lastloginat",
	XP:             "xp",
	Level:          "level",
	StreakDays:     "streakdays",
	LongestStreak:  "longeststreak",
	LastReadAt:     "lastreadat",
	ChaptersRead:   "chaptersread",
	TrustScore:     "trustscore",
	SeasonXP:       "seasonxp",
	CurrentSeason:  "currentseason",
	FeedLastSeenAt: "feedlastseenat",
	CreatedAt:      "createdat",
	UpdatedAt:      "updatedat",
	DeletedAt:      "deletedat",
}

// Columns returns all standard column names
func (t UserAccountTable) Columns() []string {
	return []string{
		t.ID, t.Username, t.Email, t.Password, t.Role, t.IsActive,
		t.LastLoginAt, t.XP, t.Level, t.StreakDays, t.LongestStreak,
		t.LastReadAt, t.ChaptersRead, t.TrustScore, t.SeasonXP,
		t.CurrentSeason, t.FeedLastSeenAt, t.CreatedAt, t.UpdatedAt, t.DeletedAt,
	}
}
