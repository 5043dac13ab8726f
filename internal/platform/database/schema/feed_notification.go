package schema

// FeedNotificationTable represents the 'feed.notification' table
type FeedNotificationTable struct {
	Table         string
	ID            string
	UserID        string
	SeriesID      string
	ChapterID     string
	ChapterNumber string
	SeriesTitle   string
	ReadAt        string
	CreatedAt     string
}

// FeedNotification is the schema definition for feed.notification.
// Uniqueness: (userid, chapterid) — fan-out replays cannot duplicate.
var FeedNotification = FeedNotificationTable{
	Table:         "feed.notification",
	ID:            "id",
	UserID:        "userid",
	SeriesID:      "seriesid",
	ChapterID:     "chapterid",
	ChapterNumber: "chapternumber",
	SeriesTitle:   "seriestitle",
	ReadAt:        "readat",
	CreatedAt:     "createdat",
}

func (t FeedNotificationTable) Columns() []string {
	return []string{
		t.ID, t.UserID, t.SeriesID, t.ChapterID, t.ChapterNumber,
		t.SeriesTitle, t.ReadAt, t.CreatedAt,
	}
}
