package schema

// LibraryEntryTable represents the 'library.entry' table
type LibraryEntryTable struct {
	Table                     string
	ID                        string
	UserID                    string
	SeriesID                  string
	SourceURL                 string
	SourceName                string
	Status                    string
	LastReadChapter           string
	LastReadAt                string
	UserRating                string
	PreferredSource           string
	MetadataStatus            string
	SeriesCompletionXPGranted string
	CreatedAt                 string
	UpdatedAt                 string
	DeletedAt                 string
}

// LibraryEntry is the schema definition for library.entry.
// Uniqueness: (userid, sourceurl). sourceurl is the functional key so
// entries survive metadata resolution failures.
var LibraryEntry = LibraryEntryTable{
	Table:                     "library.entry",
	ID:                        "id",
	UserID:                    "userid",
	SeriesID:                  "seriesid",
	SourceURL:                 "sourceurl",
	SourceName:                "sourcename",
	Status:                    "status",
	LastReadChapter:           "lastreadchapter",
	LastReadAt:                "lastreadat",
	UserRating:                "userrating",
	PreferredSource:           "preferredsource",
	MetadataStatus:            "metadatastatus",
	SeriesCompletionXPGranted: "seriescompletionxpgranted",
	CreatedAt:                 "createdat",
	UpdatedAt:                 "updatedat",
	DeletedAt:                 "deletedat",
}

func (t LibraryEntryTable) Columns() []string {
	return []string{
		t.ID, t.UserID, t.SeriesID, t.SourceURL, t.SourceName, t.Status,
		t.LastReadChapter, t.LastReadAt, t.UserRating, t.PreferredSource,
		t.MetadataStatus, t.SeriesCompletionXPGranted,
		t.CreatedAt, t.UpdatedAt, t.DeletedAt,
	}
}
