package scheduler

import (
	"context"
	"time"

	"curio/internal/queue"
	"curio/internal/workers"
)

// Health is a point-in-time snapshot of the scheduler and its queue.
type Health struct {
	Running   bool
	LastTick  time.Time
	LastError string
	Queue     *queue.HealthSummary
	Handlers  []workers.Health
}

// Healthy reports whether the snapshot shows a live scheduler with every
// handler ready.
func (h Health) Healthy() bool {
	if !h.Running {
		return false
	}
	for _, handler := range h.Handlers {
		if !handler.Ready {
			return false
		}
	}
	return true
}

// CheckHealth gathers queue statistics and per-handler readiness.
func (s *Scheduler) CheckHealth(ctx context.Context) (Health, error) {
	health := Health{
		Running:  s.Running(),
		LastTick: s.LastTick(),
	}
	if err := s.LastError(); err != nil {
		health.LastError = err.Error()
	}

	summary, err := s.queues.Health(ctx, time.Duration(s.cfg.Workflow.HeartbeatTimeout)*time.Second)
	if err != nil {
		return health, err
	}
	health.Queue = summary

	s.mu.RLock()
	handlers := make([]workers.Handler, 0, len(s.handlers))
	for _, handler := range s.handlers {
		handlers = append(handlers, handler)
	}
	s.mu.RUnlock()

	for _, handler := range handlers {
		health.Handlers = append(health.Handlers, handler.HealthCheck(ctx))
	}
	return health, nil
}
