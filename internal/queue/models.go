package queue

import (
	"strings"
	"time"
)

// Type identifies the kind of work a job performs. The set is closed; the
// scheduler dispatches each type to exactly one registered handler.
type Type string

const (
	TypeDownloadDesign   Type = "download_design"
	TypeExtractArchive   Type = "extract_archive"
	TypeImportFiles      Type = "import_files"
	TypeGeneratePreview  Type = "generate_preview"
	TypeSyncImportSource Type = "sync_import_source"
)

var allTypes = []Type{
	TypeDownloadDesign,
	TypeExtractArchive,
	TypeImportFiles,
	TypeGeneratePreview,
	TypeSyncImportSource,
}

// AllTypes returns the ordered list of known job types.
func AllTypes() []Type {
	cp := make([]Type, len(allTypes))
	copy(cp, allTypes)
	return cp
}

// ParseType converts a string into a known Type.
func ParseType(value string) (Type, bool) {
	normalized := Type(strings.ToLower(strings.TrimSpace(value)))
	for _, t := range allTypes {
		if t == normalized {
			return t, true
		}
	}
	return "", false
}

// Status represents the lifecycle of a job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

var allStatuses = []Status{
	StatusQueued,
	StatusRunning,
	StatusSuccess,
	StatusFailed,
	StatusCancelled,
}

// AllStatuses returns the ordered list of known job statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	for _, s := range allStatuses {
		if s == normalized {
			return s, true
		}
	}
	return "", false
}

// IsTerminal reports whether a status ends a job's lifecycle.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// OrphanedError is the synthetic last_error recorded when crash recovery
// exhausts a job's attempts.
const OrphanedError = "orphaned: worker stopped reporting heartbeats"

// Job is one unit of queued work acting on one target. Exactly one of
// DesignID and ImportSourceID is set.
type Job struct {
	ID              int64
	Type            Type
	Status          Status
	DesignID        int64
	ImportSourceID  int64
	Priority        int
	ProgressPercent float64
	ProgressMessage string
	Attempts        int
	MaxAttempts     int
	LastError       string
	ResultJSON      string
	NotBefore       *time.Time
	CancelRequested bool
	LastHeartbeat   *time.Time
	CreatedAt       time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
}

// Stats counts jobs per status for one job type.
type Stats struct {
	Queued    int
	Running   int
	Succeeded int
	Failed    int
	Cancelled int
}

// HealthSummary aggregates queue state for the health surface.
type HealthSummary struct {
	PerType map[Type]Stats
	Stalled int
}
