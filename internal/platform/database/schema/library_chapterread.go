package schema

// LibraryChapterReadTable represents the 'library.chapterread' table
type LibraryChapterReadTable struct {
	Table        string
	UserID       string
	ChapterID    string
	IsRead       string
	ReadAt       string
	UpdatedAt    string
	DeviceID     string
	SourceUsedID string
}

// LibraryChapterRead is the schema definition for library.chapterread.
// Primary key: (userid, chapterid). Last-writer-wins on updatedat.
var LibraryChapterRead = LibraryChapterReadTable{
	Table:        "library.chapterread",
	UserID:       "userid",
	ChapterID:    "chapterid",
	IsRead:       "isread",
	ReadAt:       "readat",
	UpdatedAt:    "updatedat",
	DeviceID:     "deviceid",
	SourceUsedID: "sourceusedid",
}

func (t LibraryChapterReadTable) Columns() []string {
	return []string{
		t.UserID, t.ChapterID, t.IsRead, t.ReadAt, t.UpdatedAt,
		t.DeviceID, t.SourceUsedID,
	}
}
