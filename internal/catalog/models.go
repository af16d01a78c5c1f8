package catalog

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a design through the pipeline.
type Status string

const (
	StatusDiscovered  Status = "discovered"
	StatusWanted      Status = "wanted"
	StatusDownloading Status = "downloading"
	StatusDownloaded  Status = "downloaded"
	StatusExtracting  Status = "extracting"
	StatusExtracted   Status = "extracted"
	StatusImporting   Status = "importing"
	StatusOrganized   Status = "organized"
	StatusFailed      Status = "failed"
)

var allStatuses = []Status{
	StatusDiscovered,
	StatusWanted,
	StatusDownloading,
	StatusDownloaded,
	StatusExtracting,
	StatusExtracted,
	StatusImporting,
	StatusOrganized,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// activeStatuses are the states a worker holds while a job runs.
var activeStatuses = map[Status]struct{}{
	StatusDownloading: {},
	StatusExtracting:  {},
	StatusImporting:   {},
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsActive reports whether a status reflects an in-flight pipeline step.
func IsActive(status Status) bool {
	_, ok := activeStatuses[status]
	return ok
}

// DetectionMethod identifies how a family grouping was produced.
type DetectionMethod string

const (
	DetectionNamePattern     DetectionMethod = "name_pattern"
	DetectionFileHashOverlap DetectionMethod = "file_hash_overlap"
	DetectionAI              DetectionMethod = "ai_detected"
	DetectionManual          DetectionMethod = "manual"
)

// Design is one logical catalog entry, possibly backed by multiple sources.
type Design struct {
	ID                 int64
	CanonicalTitle     string
	CanonicalDesigner  string
	TitleOverride      string
	DesignerOverride   string
	Status             Status
	PrimaryFileTypes   []string
	TotalSizeBytes     int64
	Multicolor         bool
	LibraryPath        string
	FamilyID           int64 // 0 when the design belongs to no family
	MetadataAuthority  string
	MetadataConfidence float64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// DisplayTitle returns the user override when set, else the canonical title.
func (d Design) DisplayTitle() string {
	if v := strings.TrimSpace(d.TitleOverride); v != "" {
		return v
	}
	return d.CanonicalTitle
}

// DisplayDesigner returns the user override when set, else the canonical designer.
func (d Design) DisplayDesigner() string {
	if v := strings.TrimSpace(d.DesignerOverride); v != "" {
		return v
	}
	return d.CanonicalDesigner
}

// Source is one ingested occurrence of a design's content from an origin.
// Sources are append-only; only is_preferred is mutated in place, and merge/
// split re-parent them wholesale.
type Source struct {
	ID             int64
	DesignID       int64
	Channel        string
	SourceRef      string
	RawCaption     string
	Title          string
	Designer       string
	FileHashes     []string
	FileNames      []string
	TotalSizeBytes int64
	IsPreferred    bool
	LinkConfidence float64
	CreatedAt      time.Time
}

// Family groups designs that are variants of one underlying item. It never
// owns its members: designs carry the back-reference and dissolving a family
// only clears it.
type Family struct {
	ID                  int64
	CanonicalName       string
	NameOverride        string
	DesignerOverride    string
	DetectionMethod     DetectionMethod
	DetectionConfidence float64
	Description         string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// DisplayName returns the user override when set, else the canonical name.
func (f Family) DisplayName() string {
	if v := strings.TrimSpace(f.NameOverride); v != "" {
		return v
	}
	return f.CanonicalName
}
