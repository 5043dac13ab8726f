package schema

// SystemQueryStatsTable represents the 'system.querystats' table
type SystemQueryStatsTable struct {
	Table          string
	NormalizedKey  string
	TotalSearches  string
	LastEnqueuedAt string
	LastDeferredAt string
	CreatedAt      string
	UpdatedAt      string
}

// SystemQueryStats is the schema definition for system.querystats.
// Primary key: normalizedkey (lowercased, whitespace-collapsed query).
var SystemQueryStats = SystemQueryStatsTable{
	Table:          "system.querystats",
	NormalizedKey:  "normalizedkey",
	TotalSearches:  "totalsearches",
	LastEnqueuedAt: "lastenqueuedat",
	LastDeferredAt: "lastdeferredat",
	CreatedAt:      "createdat",
	UpdatedAt:      "updatedat",
}
