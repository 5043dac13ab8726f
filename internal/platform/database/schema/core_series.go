package schema

// CoreSeriesTable represents the 'core.series' table
type CoreSeriesTable struct {
	Table          string
	ID             string
	Title          string
	Slug           string
	ExternalID     string
	CatalogTier    string
	TierReason     string
	ActivityScore  string
	LastActivityAt string
	LastChapterAt  string
	TotalFollows   string
	ContentRating  string
	CreatedAt      string
	UpdatedAt      string
	DeletedAt      string
}

// CoreSeries is the schema definition for core.series
var CoreSeries = CoreSeriesTable{
	Table:          "core.series",
	ID:             "id",
	Title:          "title",
	Slug:           "slug",
	ExternalID:     "externalid",
	CatalogTier:    "catalogtier",
	TierReason:     "tierreason",
	ActivityScore:  "activityscore",
	LastActivityAt: "lastactivityat",
	LastChapterAt:  "lastchapterat",
	TotalFollows:   "totalfollows",
	ContentRating:  "contentrating",
	CreatedAt:      "createdat",
	UpdatedAt:      "updatedat",
	DeletedAt:      "deletedat",
}

func (t CoreSeriesTable) Columns() []string {
	return []string{
		t.ID, t.Title, t.Slug, t.ExternalID, t.CatalogTier, t.TierReason,
		t.ActivityScore, t.LastActivityAt, t.LastChapterAt, t.TotalFollows,
		t.ContentRating, t.CreatedAt, t.UpdatedAt, t.DeletedAt,
	}
}
