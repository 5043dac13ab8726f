package schema

// SystemWorkerFailureTable represents the 'system.workerfailure' table
type SystemWorkerFailureTable struct {
	Table     string
	ID        string
	Queue     string
	JobID     string
	JobName   string
	Payload   string
	Error     string
	Attempts  string
	CreatedAt string
}

// SystemWorkerFailure is the schema definition for system.workerfailure
// (the dead-letter store).
var SystemWorkerFailure = SystemWorkerFailureTable{
	Table:     "system.workerfailure",
	ID:        "id",
	Queue:     "queue",
	JobID:     "jobid",
	JobName:   "jobname",
	Payload:   "payload",
	Error:     "error",
	Attempts:  "attempts",
	CreatedAt: "createdat",
}
