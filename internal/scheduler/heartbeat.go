package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"curio/internal/logging"
	"curio/internal/queue"
)

// HeartbeatMonitor manages job heartbeats and stale job reclamation.
type HeartbeatMonitor struct {
	store    *queue.Store
	logger   *slog.Logger
	interval time.Duration
	timeout  time.Duration
}

// NewHeartbeatMonitor creates a new monitor.
func NewHeartbeatMonitor(store *queue.Store, logger *slog.Logger, interval, timeout time.Duration) *HeartbeatMonitor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &HeartbeatMonitor{store: store, logger: logger, interval: interval, timeout: timeout}
}

// Reclaim resets running jobs whose heartbeat went silent past the timeout.
// Jobs with attempts remaining requeue; exhausted jobs fail terminally.
func (h *HeartbeatMonitor) Reclaim(ctx context.Context, logger *slog.Logger) (requeued, failed int64, err error) {
	if h.timeout <= 0 {
		return 0, 0, nil
	}
	cutoff := time.Now().UTC().Add(-h.timeout)
	requeued, failed, err = h.store.RecoverOrphans(ctx, cutoff)
	if err != nil {
		return 0, 0, err
	}
	if requeued > 0 || failed > 0 {
		logger.Info("reclaimed stale jobs",
			logging.Int64("requeued", requeued),
			logging.Int64("failed", failed),
			logging.String(logging.FieldEventType, "heartbeat_reclaim"),
		)
	}
	return requeued, failed, nil
}

// StartLoop runs a heartbeat updater for one job until context cancellation.
func (h *HeartbeatMonitor) StartLoop(ctx context.Context, wg *sync.WaitGroup, jobID int64) {
	defer wg.Done()
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	logger := h.logger.With(logging.Int64(logging.FieldJobID, jobID))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.store.UpdateHeartbeat(ctx, jobID); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, queue.ErrNotRunning) {
					return
				}
				logger.Warn("heartbeat update failed", logging.Error(err))
			}
		}
	}
}
