package schema

// FeedEntryTable represents the 'feed.entry' table
type FeedEntryTable struct {
	Table             string
	ID                string
	SeriesID          string
	ChapterNumber     string
	LogicalChapterID  string
	Sources           string
	FirstDiscoveredAt string
	LastUpdatedAt     string
	CreatedAt         string
}

// FeedEntry is the schema definition for feed.entry.
// Uniqueness: (seriesid, chapternumber). Sources is a JSONB array in
// insertion order; firstdiscoveredat is immutable after creation.
var FeedEntry = FeedEntryTable{
	Table:             "feed.entry",
	ID:                "id",
	SeriesID:          "seriesid",
	ChapterNumber:     "chapternumber",
	LogicalChapterID:  "logicalchapterid",
	Sources:           "sources",
	FirstDiscoveredAt: "firstdiscoveredat",
	LastUpdatedAt:     "lastupdatedat",
	CreatedAt:         "createdat",
}

func (t FeedEntryTable) Columns() []string {
	return []string{
		t.ID, t.SeriesID, t.ChapterNumber, t.LogicalChapterID, t.Sources,
		t.FirstDiscoveredAt, t.LastUpdatedAt, t.CreatedAt,
	}
}
