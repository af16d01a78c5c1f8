package api

import (
	"time"

	"curio/internal/catalog"
	"curio/internal/queue"
	"curio/internal/scheduler"
)

// FromJob converts a queue job to its API view.
func FromJob(job *queue.Job) JobView {
	view := JobView{
		ID:             job.ID,
		Type:           string(job.Type),
		Status:         string(job.Status),
		DesignID:       job.DesignID,
		ImportSourceID: job.ImportSourceID,
		Priority:       job.Priority,
		Progress: JobProgress{
			Percent: job.ProgressPercent,
			Message: job.ProgressMessage,
		},
		Attempts:        job.Attempts,
		MaxAttempts:     job.MaxAttempts,
		LastError:       job.LastError,
		Result:          job.ResultJSON,
		CancelRequested: job.CancelRequested,
		CreatedAt:       formatTime(job.CreatedAt),
	}
	if job.NotBefore != nil {
		view.NotBefore = formatTime(*job.NotBefore)
	}
	if job.StartedAt != nil {
		view.StartedAt = formatTime(*job.StartedAt)
	}
	if job.CompletedAt != nil {
		view.CompletedAt = formatTime(*job.CompletedAt)
	}
	return view
}

// FromJobs converts a job slice.
func FromJobs(jobs []*queue.Job) []JobView {
	views := make([]JobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, FromJob(job))
	}
	return views
}

// FromDesign converts a design to its API view. Tags are optional and
// supplied by the caller.
func FromDesign(design *catalog.Design, tags []string) DesignView {
	return DesignView{
		ID:          design.ID,
		Title:       design.DisplayTitle(),
		Designer:    design.DisplayDesigner(),
		Status:      string(design.Status),
		FileTypes:   design.PrimaryFileTypes,
		SizeBytes:   design.TotalSizeBytes,
		Multicolor:  design.Multicolor,
		LibraryPath: design.LibraryPath,
		FamilyID:    design.FamilyID,
		Tags:        tags,
		CreatedAt:   formatTime(design.CreatedAt),
		UpdatedAt:   formatTime(design.UpdatedAt),
	}
}

// FromSource converts a design source to its API view.
func FromSource(src *catalog.Source) SourceView {
	return SourceView{
		ID:             src.ID,
		DesignID:       src.DesignID,
		Channel:        src.Channel,
		SourceRef:      src.SourceRef,
		FileNames:      src.FileNames,
		TotalSizeBytes: src.TotalSizeBytes,
		IsPreferred:    src.IsPreferred,
		LinkConfidence: src.LinkConfidence,
		CreatedAt:      formatTime(src.CreatedAt),
	}
}

// FromHealth converts a scheduler health snapshot to its API view.
func FromHealth(health scheduler.Health) HealthView {
	view := HealthView{
		Healthy:   health.Healthy(),
		Running:   health.Running,
		LastError: health.LastError,
		Queue:     make(map[string]TypeStats),
	}
	if !health.LastTick.IsZero() {
		view.LastTick = formatTime(health.LastTick)
	}
	if health.Queue != nil {
		view.StalledJobs = health.Queue.Stalled
		for jobType, stats := range health.Queue.PerType {
			view.Queue[string(jobType)] = TypeStats{
				Queued:    stats.Queued,
				Running:   stats.Running,
				Succeeded: stats.Succeeded,
				Failed:    stats.Failed,
				Cancelled: stats.Cancelled,
			}
		}
	}
	for _, handler := range health.Handlers {
		view.Handlers = append(view.Handlers, HandlerHealth{
			Name:   handler.Name,
			Ready:  handler.Ready,
			Detail: handler.Detail,
		})
	}
	return view
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.Format(dateTimeFormat)
}
