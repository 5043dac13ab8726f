package schema

// SystemActivityEventTable represents the 'system.activityevent' table
type SystemActivityEventTable struct {
	Table      string
	ID         string
	SeriesID   string
	ChapterID  string
	UserID     string
	SourceName string
	EventType  string
	Weight     string
	CreatedAt  string
}

// SystemActivityEvent is the schema definition for system.activityevent.
// Append-only; feeds the time-decayed activity score per series.
var SystemActivityEvent = SystemActivityEventTable{
	Table:      "system.activityevent",
	ID:         "id",
	SeriesID:   "seriesid",
	ChapterID:  "chapterid",
	UserID:     "userid",
	SourceName: "sourcename",
	EventType:  "eventtype",
	Weight:     "weight",
	CreatedAt:  "createdat",
}
