package schema

// CrawlerSeriesSourceTable represents the 'crawler.seriessource' table
type CrawlerSeriesSourceTable struct {
	Table              string
	ID                 string
	SeriesID           string
	SourceName         string
	SourceID           string
	SourceURL          string
	SyncPriority       string
	SourceStatus       string
	FailureCount       string
	LastCheckedAt      string
	LastSuccessAt      string
	NextCheckAt        string
	SourceChapterCount string
	CreatedAt          string
	UpdatedAt          string
}

// CrawlerSeriesSource is the schema definition for crawler.seriessource.
// Uniqueness: (sourcename, sourceid).
var CrawlerSeriesSource = CrawlerSeriesSourceTable{
	Table:              "crawler.seriessource",
	ID:                 "id",
	SeriesID:           "seriesid",
	SourceName:         "sourcename",
	SourceID:           "sourceid",
	SourceURL:          "sourceurl",
	SyncPriority:       "syncpriority",
	SourceStatus:       "sourcestatus",
	FailureCount:       "failurecount",
	LastCheckedAt:      "lastcheckedat",
	LastSuccessAt:      "lastsuccessat",
	NextCheckAt:        "nextcheckat",
	SourceChapterCount: "sourcechaptercount",
	CreatedAt:          "createdat",
	UpdatedAt:          "updatedat",
}

func (t CrawlerSeriesSourceTable) Columns() []string {
	return []string{
		t.ID, t.SeriesID, t.SourceName, t.SourceID, t.SourceURL,
		t.SyncPriority, t.SourceStatus, t.FailureCount, t.LastCheckedAt,
		t.LastSuccessAt, t.NextCheckAt, t.SourceChapterCount,
		t.CreatedAt, t.UpdatedAt,
	}
}
