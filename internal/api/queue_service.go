package api

import (
	"context"
	"fmt"
	"os"

	"curio/internal/catalog"
	"curio/internal/config"
	"curio/internal/queue"
	"curio/internal/services"
	"curio/internal/staging"
)

// QueueService exposes queue operations returning API DTOs.
type QueueService struct {
	store   *queue.Store
	catalog *catalog.Store
	cfg     *config.Config
}

// NewQueueService constructs a QueueService around the stores.
func NewQueueService(store *queue.Store, cat *catalog.Store, cfg *config.Config) *QueueService {
	return &QueueService{store: store, catalog: cat, cfg: cfg}
}

// List returns jobs matching the filter, newest first.
func (s *QueueService) List(ctx context.Context, filter queue.ListFilter) ([]JobView, error) {
	jobs, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	return FromJobs(jobs), nil
}

// Describe fetches a single job.
func (s *QueueService) Describe(ctx context.Context, id int64) (*JobView, error) {
	job, err := s.store.GetByID(ctx, id)
	if err != nil || job == nil {
		return nil, err
	}
	view := FromJob(job)
	return &view, nil
}

// Cancel cancels a job, immediately when queued or cooperatively when
// running. It returns the job's status at the time of the request.
func (s *QueueService) Cancel(ctx context.Context, id int64) (string, error) {
	status, err := s.store.Cancel(ctx, id)
	return string(status), err
}

// Retry requeues a failed or cancelled job with a fresh attempt budget. When
// the job targets a design left in failed status, the design is returned to
// the state its stage starts from, so the re-run passes the worker's status
// gate instead of re-failing on arrival.
func (s *QueueService) Retry(ctx context.Context, id int64) error {
	job, err := s.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if job == nil {
		return services.Wrap(services.ErrNotFound, "api", "retry",
			fmt.Sprintf("job %d not found", id), nil)
	}
	if err := s.store.Retry(ctx, id); err != nil {
		return err
	}
	return s.reviveDesign(ctx, job)
}

// retryStageStatus maps each design-target job type to the active status its
// stage holds while running.
var retryStageStatus = map[queue.Type]catalog.Status{
	queue.TypeDownloadDesign: catalog.StatusDownloading,
	queue.TypeExtractArchive: catalog.StatusExtracting,
	queue.TypeImportFiles:    catalog.StatusImporting,
}

// reviveDesign rolls a failed design back to the stable state preceding the
// retried job's stage. Designs not in failed status are left alone.
func (s *QueueService) reviveDesign(ctx context.Context, job *queue.Job) error {
	if job.DesignID == 0 {
		return nil
	}
	active, ok := retryStageStatus[job.Type]
	if !ok {
		return nil
	}
	design, err := s.catalog.GetDesign(ctx, job.DesignID)
	if err != nil || design == nil {
		return err
	}
	if design.Status != catalog.StatusFailed {
		return nil
	}
	entry := catalog.PriorStatus(active, s.hasExtractedStaging(design.ID))
	return s.catalog.SetStatus(ctx, design.ID, catalog.StatusFailed, entry)
}

func (s *QueueService) hasExtractedStaging(designID int64) bool {
	info, err := os.Stat(staging.ExtractDir(s.cfg.Paths.StagingDir, designID))
	return err == nil && info.IsDir()
}

// SetPriority adjusts a job's priority.
func (s *QueueService) SetPriority(ctx context.Context, id int64, priority int) error {
	return s.store.SetPriority(ctx, id, priority)
}

// ClearCompleted removes terminal successful and cancelled jobs.
func (s *QueueService) ClearCompleted(ctx context.Context) (int64, error) {
	return s.store.ClearCompleted(ctx)
}

// ClearFailed removes terminal failed jobs.
func (s *QueueService) ClearFailed(ctx context.Context) (int64, error) {
	return s.store.ClearFailed(ctx)
}

// Stats returns per-type job counts.
func (s *QueueService) Stats(ctx context.Context) (map[string]TypeStats, error) {
	stats, err := s.store.StatsByType(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]TypeStats, len(stats))
	for jobType, entry := range stats {
		out[string(jobType)] = TypeStats{
			Queued:    entry.Queued,
			Running:   entry.Running,
			Succeeded: entry.Succeeded,
			Failed:    entry.Failed,
			Cancelled: entry.Cancelled,
		}
	}
	return out, nil
}
