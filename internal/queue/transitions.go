package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"curio/internal/db"
)

// BackoffPolicy shapes the delay before a retryable failure becomes eligible
// for claiming again.
type BackoffPolicy struct {
	Base time.Duration
	Cap  time.Duration
}

// Delay returns the backoff for the given completed attempt count. The delay
// doubles per attempt and is clamped to the cap.
func (p BackoffPolicy) Delay(attempts int) time.Duration {
	if p.Base <= 0 {
		return 0
	}
	delay := p.Base
	for i := 1; i < attempts; i++ {
		delay *= 2
		if p.Cap > 0 && delay >= p.Cap {
			return p.Cap
		}
	}
	if p.Cap > 0 && delay > p.Cap {
		return p.Cap
	}
	return delay
}

// ReportProgress updates a running job's progress fields.
func (s *Store) ReportProgress(ctx context.Context, id int64, percent float64, message string) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	_, err := s.db.ExecWithRetry(
		ctx,
		`UPDATE jobs SET progress_percent = ?, progress_message = ?, last_heartbeat = ? WHERE id = ? AND status = ?`,
		percent,
		db.NullableString(strings.TrimSpace(message)),
		db.FormatTime(time.Now().UTC()),
		id,
		StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("report progress: %w", err)
	}
	return nil
}

// Complete marks a running job successful, recording its structured result.
func (s *Store) Complete(ctx context.Context, id int64, resultJSON string) error {
	res, err := s.db.ExecWithRetry(
		ctx,
		`UPDATE jobs
         SET status = ?, attempts = attempts + 1, progress_percent = 100,
             result_json = ?, last_error = NULL, last_heartbeat = NULL, completed_at = ?
         WHERE id = ? AND status = ?`,
		StatusSuccess,
		db.NullableString(resultJSON),
		db.FormatTime(time.Now().UTC()),
		id,
		StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotRunning
	}
	return nil
}

// Fail records a failed attempt. Retryable failures requeue with the given
// delay until attempts reach max_attempts; fatal failures (or exhausted
// retries) become terminal.
func (s *Store) Fail(ctx context.Context, id int64, errMsg string, retryable bool, delay time.Duration) error {
	job, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("job %d not found", id)
	}
	if job.Status != StatusRunning {
		return ErrNotRunning
	}

	attempts := job.Attempts + 1
	now := time.Now().UTC()

	if !retryable || attempts >= job.MaxAttempts {
		_, err := s.db.ExecWithRetry(
			ctx,
			`UPDATE jobs
             SET status = ?, attempts = ?, last_error = ?, last_heartbeat = NULL, completed_at = ?
             WHERE id = ? AND status = ?`,
			StatusFailed,
			attempts,
			db.NullableString(errMsg),
			db.FormatTime(now),
			id,
			StatusRunning,
		)
		if err != nil {
			return fmt.Errorf("fail job: %w", err)
		}
		return nil
	}

	notBefore := now.Add(delay)
	_, err = s.db.ExecWithRetry(
		ctx,
		`UPDATE jobs
         SET status = ?, attempts = ?, last_error = ?, last_heartbeat = NULL,
             started_at = NULL, not_before = ?, progress_percent = 0
         WHERE id = ? AND status = ?`,
		StatusQueued,
		attempts,
		db.NullableString(errMsg),
		db.FormatTime(notBefore),
		id,
		StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("requeue job: %w", err)
	}
	return nil
}

// Cancel cancels a job. Queued jobs cancel immediately with no side effects;
// running jobs get the cancellation flag set and finish cancelling
// cooperatively via AcknowledgeCancel once the worker unwinds.
func (s *Store) Cancel(ctx context.Context, id int64) (Status, error) {
	job, err := s.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if job == nil {
		return "", fmt.Errorf("job %d not found", id)
	}
	switch job.Status {
	case StatusQueued:
		_, err := s.db.ExecWithRetry(
			ctx,
			`UPDATE jobs SET status = ?, completed_at = ? WHERE id = ? AND status = ?`,
			StatusCancelled,
			db.FormatTime(time.Now().UTC()),
			id,
			StatusQueued,
		)
		if err != nil {
			return "", fmt.Errorf("cancel queued job: %w", err)
		}
		return StatusCancelled, nil
	case StatusRunning:
		_, err := s.db.ExecWithRetry(
			ctx,
			`UPDATE jobs SET cancel_requested = 1 WHERE id = ? AND status = ?`,
			id,
			StatusRunning,
		)
		if err != nil {
			return "", fmt.Errorf("request cancel: %w", err)
		}
		return StatusRunning, nil
	default:
		return job.Status, fmt.Errorf("job %d is already %s", id, job.Status)
	}
}

// CancelRequested reports whether cooperative cancellation has been asked of
// a running job. Workers poll this at safe checkpoints.
func (s *Store) CancelRequested(ctx context.Context, id int64) (bool, error) {
	var flag int
	err := s.db.Handle().QueryRowContext(ctx, `SELECT cancel_requested FROM jobs WHERE id = ?`, id).Scan(&flag)
	if err != nil {
		return false, fmt.Errorf("read cancel flag: %w", err)
	}
	return flag != 0, nil
}

// AcknowledgeCancel finalizes a cooperative cancellation after the worker has
// unwound to a consistent state.
func (s *Store) AcknowledgeCancel(ctx context.Context, id int64) error {
	_, err := s.db.ExecWithRetry(
		ctx,
		`UPDATE jobs
         SET status = ?, cancel_requested = 0, last_heartbeat = NULL, completed_at = ?
         WHERE id = ? AND status = ?`,
		StatusCancelled,
		db.FormatTime(time.Now().UTC()),
		id,
		StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("acknowledge cancel: %w", err)
	}
	return nil
}

// SetPriority adjusts a queued job's priority.
func (s *Store) SetPriority(ctx context.Context, id int64, priority int) error {
	_, err := s.db.ExecWithRetry(
		ctx,
		`UPDATE jobs SET priority = ? WHERE id = ?`,
		priority,
		id,
	)
	if err != nil {
		return fmt.Errorf("set priority: %w", err)
	}
	return nil
}

// Retry requeues a terminal failed or cancelled job with a fresh attempt
// budget. Retry is an explicit user action; exhausted jobs never requeue on
// their own.
func (s *Store) Retry(ctx context.Context, id int64) error {
	res, err := s.db.ExecWithRetry(
		ctx,
		`UPDATE jobs
         SET status = ?, attempts = 0, last_error = NULL, not_before = NULL,
             cancel_requested = 0, progress_percent = 0, progress_message = 'Retry requested',
             started_at = NULL, completed_at = NULL
         WHERE id = ? AND status IN (?, ?)`,
		StatusQueued,
		id,
		StatusFailed,
		StatusCancelled,
	)
	if err != nil {
		return fmt.Errorf("retry job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("job %d is not failed or cancelled", id)
	}
	return nil
}
