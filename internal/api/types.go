package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// JobView describes a queue job in a transport-friendly format.
type JobView struct {
	ID              int64       `json:"id"`
	Type            string      `json:"type"`
	Status          string      `json:"status"`
	DesignID        int64       `json:"designId,omitempty"`
	ImportSourceID  int64       `json:"importSourceId,omitempty"`
	Priority        int         `json:"priority"`
	Progress        JobProgress `json:"progress"`
	Attempts        int         `json:"attempts"`
	MaxAttempts     int         `json:"maxAttempts"`
	LastError       string      `json:"lastError,omitempty"`
	Result          string      `json:"result,omitempty"`
	NotBefore       string      `json:"notBefore,omitempty"`
	CancelRequested bool        `json:"cancelRequested,omitempty"`
	CreatedAt       string      `json:"createdAt,omitempty"`
	StartedAt       string      `json:"startedAt,omitempty"`
	CompletedAt     string      `json:"completedAt,omitempty"`
}

// JobProgress captures progress information for a job.
type JobProgress struct {
	Percent float64 `json:"percent"`
	Message string  `json:"message,omitempty"`
}

// DesignView describes a design with its override-aware display fields.
type DesignView struct {
	ID          int64    `json:"id"`
	Title       string   `json:"title"`
	Designer    string   `json:"designer"`
	Status      string   `json:"status"`
	FileTypes   []string `json:"fileTypes,omitempty"`
	SizeBytes   int64    `json:"sizeBytes"`
	Multicolor  bool     `json:"multicolor"`
	LibraryPath string   `json:"libraryPath,omitempty"`
	FamilyID    int64    `json:"familyId,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	CreatedAt   string   `json:"createdAt,omitempty"`
	UpdatedAt   string   `json:"updatedAt,omitempty"`
}

// SourceView describes one provenance record attached to a design.
type SourceView struct {
	ID             int64    `json:"id"`
	DesignID       int64    `json:"designId"`
	Channel        string   `json:"channel"`
	SourceRef      string   `json:"sourceRef"`
	FileNames      []string `json:"fileNames,omitempty"`
	TotalSizeBytes int64    `json:"totalSizeBytes"`
	IsPreferred    bool     `json:"isPreferred"`
	LinkConfidence float64  `json:"linkConfidence"`
	CreatedAt      string   `json:"createdAt,omitempty"`
}

// FamilyView describes a variant grouping with its member designs.
type FamilyView struct {
	ID         int64        `json:"id"`
	Name       string       `json:"name"`
	Method     string       `json:"method"`
	Confidence float64      `json:"confidence"`
	Tags       []string     `json:"tags,omitempty"`
	Members    []DesignView `json:"members,omitempty"`
}

// TypeStats counts jobs per status for one job type.
type TypeStats struct {
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// HealthView summarizes the daemon for the health endpoint.
type HealthView struct {
	Healthy     bool                 `json:"healthy"`
	Running     bool                 `json:"running"`
	LastTick    string               `json:"lastTick,omitempty"`
	LastError   string               `json:"lastError,omitempty"`
	StalledJobs int                  `json:"stalledJobs"`
	Queue       map[string]TypeStats `json:"queue"`
	Handlers    []HandlerHealth      `json:"handlers"`
}

// HandlerHealth mirrors readiness reporting for job handlers.
type HandlerHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}
