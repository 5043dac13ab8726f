package schema

// LibraryImportJobTable represents the 'library.importjob' table
type LibraryImportJobTable struct {
	Table        string
	ID           string
	UserID       string
	Source       string
	Status       string
	TotalEntries string
	Processed    string
	Skipped      string
	Failed       string
	Error        string
	CreatedAt    string
	UpdatedAt    string
}

// LibraryImportJob is the schema definition for library.importjob.
var LibraryImportJob = LibraryImportJobTable{
	Table:        "library.importjob",
	ID:           "id",
	UserID:       "userid",
	Source:       "source",
	Status:       "status",
	TotalEntries: "totalentries",
	Processed:    "processed",
	Skipped:      "skipped",
	Failed:       "failed",
	Error:        "error",
	CreatedAt:    "createdat",
	UpdatedAt:    "updatedat",
}
