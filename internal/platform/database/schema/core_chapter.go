package schema

// CoreChapterTable represents the 'core.chapter' table
type CoreChapterTable struct {
	Table           string
	ID              string
	SeriesID        string
	ChapterNumber   string
	ChapterSlug     string
	ChapterTitle    string
	PublishedAt     string
	FirstDetectedAt string
	CreatedAt       string
	UpdatedAt       string
	DeletedAt       string
}

// CoreChapter is the schema definition for core.chapter (the logical chapter).
// Uniqueness: (seriesid, chapternumber).
var CoreChapter = CoreChapterTable{
	Table:           "core.chapter",
	ID:              "id",
	SeriesID:        "seriesid",
	ChapterNumber:   "chapternumber",
	ChapterSlug:     "chapterslug",
	ChapterTitle:    "chaptertitle",
	PublishedAt:     "publishedat",
	FirstDetectedAt: "firstdetectedat",
	CreatedAt:       "createdat",
	UpdatedAt:       "updatedat",
	DeletedAt:       "deletedat",
}

func (t CoreChapterTable) Columns() []string {
	return []string{
		t.ID, t.SeriesID, t.ChapterNumber, t.ChapterSlug, t.ChapterTitle,
		t.PublishedAt, t.FirstDetectedAt, t.CreatedAt, t.UpdatedAt, t.DeletedAt,
	}
}
