// Package workers defines the contract between the scheduler and the
// job-type executors it drives.
package workers

import (
	"context"
	"errors"

	"curio/internal/queue"
)

// ErrCancelled is returned by a worker that observed a cancellation request
// and unwound cleanly. The scheduler finalizes the cancellation instead of
// recording a failure.
var ErrCancelled = errors.New("job cancelled")

// Handler executes jobs of one type. Execute returns the structured result
// as JSON; errors are classified through the services package markers.
type Handler interface {
	Type() queue.Type
	Execute(ctx context.Context, job *queue.Job) (string, error)
	HealthCheck(ctx context.Context) Health
}

// Health describes a handler's readiness for the health surface.
type Health struct {
	Name   string
	Ready  bool
	Detail string
}

// Healthy returns a ready Health for the named handler.
func Healthy(name string) Health {
	return Health{Name: name, Ready: true}
}

// Unhealthy returns a not-ready Health with a reason.
func Unhealthy(name, detail string) Health {
	return Health{Name: name, Ready: false, Detail: detail}
}
