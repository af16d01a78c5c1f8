package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"curio/internal/catalog"
	"curio/internal/logging"
	"curio/internal/queue"
	"curio/internal/services"
	"curio/internal/staging"
	"curio/internal/workers"
)

func (s *Scheduler) runWorker(ctx context.Context, jobType queue.Type, handler workers.Handler, pool int) {
	defer s.wg.Done()
	logger := s.logger.With(logging.String(logging.FieldJobType, string(jobType)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := s.queues.ClaimNext(ctx, jobType, pool)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			s.setLastError(err)
			logger.Error("failed to claim next job",
				logging.Error(err),
				logging.String(logging.FieldEventType, "claim_failed"),
				logging.String(logging.FieldErrorHint, "check database access"),
			)
			s.waitOrShutdown(ctx, time.Duration(s.cfg.Workflow.ErrorRetryInterval)*time.Second)
			continue
		}
		if job == nil {
			s.waitOrShutdown(ctx, s.pollInterval)
			continue
		}

		if err := s.process(ctx, handler, logger, job); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			s.setLastError(err)
		}
	}
}

// process executes one claimed job with a heartbeat loop and panic recovery,
// then records the terminal outcome.
func (s *Scheduler) process(ctx context.Context, handler workers.Handler, logger *slog.Logger, job *queue.Job) error {
	jobLogger := logger.With(logging.Int64(logging.FieldJobID, job.ID))
	if job.DesignID != 0 {
		jobLogger = jobLogger.With(logging.Int64(logging.FieldDesignID, job.DesignID))
	}
	jobLogger.Info("job started",
		logging.Int("attempt", job.Attempts+1),
		logging.Int("max_attempts", job.MaxAttempts),
		logging.String(logging.FieldEventType, "job_started"),
	)

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go s.heartbeat.StartLoop(hbCtx, &hbWG, job.ID)

	result, execErr := s.execute(ctx, handler, job)

	stopHeartbeat()
	hbWG.Wait()

	if ctx.Err() != nil && execErr != nil {
		// Shutdown mid-job: leave it running for the reclaimer on next start.
		return context.Canceled
	}

	switch {
	case execErr == nil:
		if err := s.queues.Complete(ctx, job.ID, result); err != nil {
			return err
		}
		jobLogger.Info("job complete", logging.String(logging.FieldEventType, "job_complete"))
		return nil

	case errors.Is(execErr, workers.ErrCancelled):
		if err := s.queues.AcknowledgeCancel(ctx, job.ID); err != nil {
			return err
		}
		if err := s.rollbackDesign(ctx, job); err != nil {
			jobLogger.Warn("design rollback after cancel failed", logging.Error(err))
		}
		jobLogger.Info("job cancelled", logging.String(logging.FieldEventType, "job_cancelled"))
		return nil

	default:
		return s.recordFailure(ctx, jobLogger, job, execErr)
	}
}

// execute invokes the handler, converting a panic into a fatal error so the
// worker pool survives a buggy handler.
func (s *Scheduler) execute(ctx context.Context, handler workers.Handler, job *queue.Job) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = services.Wrap(services.ErrFatal, "scheduler", "execute",
				fmt.Sprintf("handler panic: %v\n%s", r, debug.Stack()), nil)
		}
	}()
	return handler.Execute(ctx, job)
}

func (s *Scheduler) recordFailure(ctx context.Context, logger *slog.Logger, job *queue.Job, execErr error) error {
	retryable := services.Retryable(execErr)
	attempts := job.Attempts + 1
	terminal := !retryable || attempts >= job.MaxAttempts

	delay := s.backoff.Delay(attempts)
	if floor, ok := services.RetryAfter(execErr); ok && floor > delay {
		delay = floor
	}

	if err := s.queues.Fail(ctx, job.ID, execErr.Error(), retryable, delay); err != nil {
		return err
	}

	if terminal {
		if err := s.failDesign(ctx, job); err != nil {
			logger.Warn("failed to mark design failed", logging.Error(err))
		}
		logger.Error("job failed terminally",
			logging.Error(execErr),
			logging.Int("attempts", attempts),
			logging.String(logging.FieldEventType, "job_failed"),
		)
	} else {
		logger.Warn("job failed, will retry",
			logging.Error(execErr),
			logging.Int("attempts", attempts),
			logging.Duration("backoff", delay),
			logging.String(logging.FieldEventType, "job_retry"),
		)
	}
	return nil
}

// rollbackDesign returns a cancelled job's design to the stable state before
// its stage began.
func (s *Scheduler) rollbackDesign(ctx context.Context, job *queue.Job) error {
	if job.DesignID == 0 {
		return nil
	}
	design, err := s.catalog.GetDesign(ctx, job.DesignID)
	if err != nil || design == nil {
		return err
	}
	if !catalog.IsActive(design.Status) {
		return nil
	}
	extracted := s.hasExtractedStaging(design.ID)
	prior := catalog.PriorStatus(design.Status, extracted)
	if prior == design.Status {
		return nil
	}
	return s.catalog.SetStatus(ctx, design.ID, design.Status, prior)
}

func (s *Scheduler) failDesign(ctx context.Context, job *queue.Job) error {
	if job.DesignID == 0 {
		return nil
	}
	design, err := s.catalog.GetDesign(ctx, job.DesignID)
	if err != nil || design == nil {
		return err
	}
	if !catalog.IsActive(design.Status) {
		return nil
	}
	return s.catalog.SetStatus(ctx, design.ID, design.Status, catalog.StatusFailed)
}

func (s *Scheduler) hasExtractedStaging(designID int64) bool {
	info, err := os.Stat(staging.ExtractDir(s.cfg.Paths.StagingDir, designID))
	return err == nil && info.IsDir()
}

func (s *Scheduler) waitOrShutdown(ctx context.Context, wait time.Duration) {
	if wait <= 0 {
		wait = time.Second
	}
	select {
	case <-ctx.Done():
	case <-time.After(wait):
	}
}

// runMaintenance periodically reclaims stale jobs and sweeps old staging
// roots. Its tick timestamp doubles as the scheduler's liveness signal.
func (s *Scheduler) runMaintenance(ctx context.Context) {
	defer s.wg.Done()

	interval := s.pollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.markTick()

			if _, _, err := s.heartbeat.Reclaim(ctx, s.logger); err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				s.setLastError(err)
				s.logger.Warn("stale job reclaim failed; stuck jobs may remain",
					logging.Error(err),
					logging.String(logging.FieldEventType, "heartbeat_reclaim_failed"),
					logging.String(logging.FieldErrorHint, "check database access"),
				)
			}

			s.sweepStaging(ctx)
		}
	}
}

func (s *Scheduler) sweepStaging(ctx context.Context) {
	maxAge := time.Duration(s.cfg.Workflow.StagingMaxAgeHours) * time.Hour
	if maxAge <= 0 {
		return
	}
	active, err := s.activeDesignIDs(ctx)
	if err != nil {
		s.logger.Warn("staging sweep skipped", logging.Error(err))
		return
	}
	staging.CleanStale(ctx, s.cfg.Paths.StagingDir, maxAge, active, s.logger)
}

// activeDesignIDs returns designs still inside the pipeline; their staging
// roots must survive the sweep.
func (s *Scheduler) activeDesignIDs(ctx context.Context) (map[int64]struct{}, error) {
	designs, err := s.catalog.ListDesigns(ctx,
		catalog.StatusWanted,
		catalog.StatusDownloading,
		catalog.StatusDownloaded,
		catalog.StatusExtracting,
		catalog.StatusExtracted,
		catalog.StatusImporting,
	)
	if err != nil {
		return nil, err
	}
	active := make(map[int64]struct{}, len(designs))
	for _, design := range designs {
		active[design.ID] = struct{}{}
	}
	return active, nil
}
