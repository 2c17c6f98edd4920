package database

// RunStatus is the state of one stage run.
type RunStatus string

const (
	StatusRunning RunStatus = "running"
	StatusDone    RunStatus = "done"
	StatusFailed  RunStatus = "failed"
)

// StageRun is one recorded attempt at a pipeline stage for an event.
type StageRun struct {
	ID         string
	EventKey   string
	Stage      int
	Status     RunStatus
	Summary    *string
	Error      *string
	StartedAt  *string
	FinishedAt *string
}

// Archive sources.
const (
	SourceRaw = "raw"
	SourceCRM = "crm"
	SourceMDB = "mdb"
)

// Archive is everything archived for one event.
type Archive struct {
	EventKey string
	Records  []ArchiveRecord
	Counts   []UploadCount
}

// ArchiveBatch identifies the archive of one event.
type ArchiveBatch struct {
	ID         string
	EventKey   string
	ArchivedAt *string
}

// ArchiveRecord is one archived data row.
type ArchiveRecord struct {
	Source   string
	Position int
	Data     map[string]string
}

// UploadCount is the archived count row of one audience.
type UploadCount struct {
	Audience         string
	Date             string
	Type             string
	PubCode          string
	InitialCount     int
	InternalRecords  int
	SFTrackingCode   string
	SFCount          int
	UDBTrackingCode  string
	UDBUploadedCount int
	UDBMasterSupp    int
	UDBIsActiveFalse int
	UDBHardBounce    int
	SFNewLeads       int
	SFUpdatedLeads   int
	SFUpdatedContact int
	Converted        int
	SFDead           int
	LeftDead         int
	FlippedOpen      int
	ContactNoLead    int
	NullPhone        int
	Merged           int
	BadEmail         int
}

// Stats contains aggregate database statistics.
type Stats struct {
	Events         int
	StageRuns      int
	FailedRuns     int
	ArchivedEvents int
	ArchivedRows   int
}
