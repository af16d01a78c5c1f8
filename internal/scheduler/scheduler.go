package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"curio/internal/catalog"
	"curio/internal/config"
	"curio/internal/logging"
	"curio/internal/queue"
	"curio/internal/workers"
)

// Scheduler coordinates per-type worker pools over the job queue.
type Scheduler struct {
	cfg     *config.Config
	queues  *queue.Store
	catalog *catalog.Store
	logger  *slog.Logger

	heartbeat    *HeartbeatMonitor
	backoff      queue.BackoffPolicy
	pollInterval time.Duration

	handlers map[queue.Type]workers.Handler

	mu       sync.RWMutex
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	lastErr  error
	lastTick time.Time
}

// New constructs a scheduler. Handlers are registered before Start.
func New(cfg *config.Config, queues *queue.Store, cat *catalog.Store, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "scheduler")
	return &Scheduler{
		cfg:     cfg,
		queues:  queues,
		catalog: cat,
		logger:  logger,
		heartbeat: NewHeartbeatMonitor(
			queues,
			logger,
			time.Duration(cfg.Workflow.HeartbeatInterval)*time.Second,
			time.Duration(cfg.Workflow.HeartbeatTimeout)*time.Second,
		),
		backoff: queue.BackoffPolicy{
			Base: time.Duration(cfg.Retry.BackoffSeconds) * time.Second,
			Cap:  time.Duration(cfg.Retry.BackoffCap) * time.Second,
		},
		pollInterval: time.Duration(cfg.Workflow.QueuePollInterval) * time.Second,
		handlers:     make(map[queue.Type]workers.Handler),
	}
}

// Register wires a handler for its job type, replacing any previous one.
func (s *Scheduler) Register(handler workers.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[handler.Type()] = handler
}

// Start recovers orphaned work from any previous process, then launches the
// worker pools and the maintenance loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("scheduler already running")
	}
	if len(s.handlers) == 0 {
		s.mu.Unlock()
		return errors.New("no handlers registered")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.lastTick = time.Now().UTC()
	s.mu.Unlock()

	if _, _, err := s.heartbeat.Reclaim(runCtx, s.logger); err != nil {
		s.logger.Warn("startup orphan recovery failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check database access"),
		)
	}
	if err := s.reconcileDesigns(runCtx); err != nil {
		s.logger.Warn("startup design reconciliation failed", logging.Error(err))
	}

	for jobType, handler := range s.handlers {
		pool := s.cfg.MaxConcurrent(string(jobType))
		if pool <= 0 {
			pool = 1
		}
		for i := 0; i < pool; i++ {
			s.wg.Add(1)
			go s.runWorker(runCtx, jobType, handler, pool)
		}
	}

	s.wg.Add(1)
	go s.runMaintenance(runCtx)

	s.logger.Info("scheduler started",
		logging.Int("handlers", len(s.handlers)),
		logging.String(logging.FieldEventType, "scheduler_started"),
	)
	return nil
}

// Stop terminates background processing and waits for in-flight jobs to
// unwind.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.logger.Info("scheduler stopped", logging.String(logging.FieldEventType, "scheduler_stopped"))
}

// Running reports whether the scheduler has been started.
func (s *Scheduler) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// LastTick returns the time of the most recent maintenance pass.
func (s *Scheduler) LastTick() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastTick
}

// LastError returns the most recent background error, if any.
func (s *Scheduler) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

func (s *Scheduler) setLastError(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

func (s *Scheduler) markTick() {
	s.mu.Lock()
	s.lastTick = time.Now().UTC()
	s.mu.Unlock()
}

// activeStageTypes maps each active design status to the job type that owns
// it.
var activeStageTypes = map[catalog.Status]queue.Type{
	catalog.StatusDownloading: queue.TypeDownloadDesign,
	catalog.StatusExtracting:  queue.TypeExtractArchive,
	catalog.StatusImporting:   queue.TypeImportFiles,
}

// reconcileDesigns marks designs stranded in an active status as failed when
// no job remains to finish their stage. This happens when crash recovery
// exhausts a job's attempts while the process was down.
func (s *Scheduler) reconcileDesigns(ctx context.Context) error {
	for status, jobType := range activeStageTypes {
		designs, err := s.catalog.ListDesigns(ctx, status)
		if err != nil {
			return err
		}
		for _, design := range designs {
			pending, err := s.hasPendingJob(ctx, jobType, design.ID)
			if err != nil {
				return err
			}
			if pending {
				continue
			}
			if err := s.catalog.SetStatus(ctx, design.ID, status, catalog.StatusFailed); err != nil {
				return fmt.Errorf("fail stranded design %d: %w", design.ID, err)
			}
			s.logger.Warn("design stranded mid-stage marked failed",
				logging.Int64(logging.FieldDesignID, design.ID),
				logging.String("stage", string(status)),
			)
		}
	}
	return nil
}

func (s *Scheduler) hasPendingJob(ctx context.Context, jobType queue.Type, designID int64) (bool, error) {
	jobs, err := s.queues.List(ctx, queue.ListFilter{Type: jobType})
	if err != nil {
		return false, err
	}
	for _, job := range jobs {
		if job.DesignID == designID && (job.Status == queue.StatusQueued || job.Status == queue.StatusRunning) {
			return true, nil
		}
	}
	return false, nil
}
