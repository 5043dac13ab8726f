package schema

// CrawlerChapterSourceTable represents the 'crawler.chaptersource' table
type CrawlerChapterSourceTable struct {
	Table             string
	ID                string
	ChapterID         string
	SeriesSourceID    string
	SourceName        string
	SourceChapterURL  string
	SourceChapterID   string
	SourcePublishedAt string
	DetectedAt        string
	IsAvailable       string
	CreatedAt         string
	UpdatedAt         string
}

// CrawlerChapterSource is the schema definition for crawler.chaptersource
// (one source's view of a logical chapter).
// Uniqueness: (seriessourceid, chapterid).
var CrawlerChapterSource = CrawlerChapterSourceTable{
	Table:             "crawler.chaptersource",
	ID:                "id",
	ChapterID:         "chapterid",
	SeriesSourceID:    "seriessourceid",
	SourceName:        "sourcename",
	SourceChapterURL:  "sourcechapterurl",
	SourceChapterID:   "sourcechapterid",
	SourcePublishedAt: "sourcepublishedat",
	DetectedAt:        "detectedat",
	IsAvailable:       "isavailable",
	CreatedAt:         "createdat",
	UpdatedAt:         "updatedat",
}

func (t CrawlerChapterSourceTable) Columns() []string {
	return []string{
		t.ID, t.ChapterID, t.SeriesSourceID, t.SourceName,
		t.SourceChapterURL, t.SourceChapterID, t.SourcePublishedAt,
		t.DetectedAt, t.IsAvailable, t.CreatedAt, t.UpdatedAt,
	}
}
