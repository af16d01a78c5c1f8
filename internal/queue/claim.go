package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"curio/internal/db"
)

// ClaimNext atomically claims the best queued job of the given type, or
// returns nil when nothing is eligible. Eligibility: highest priority first,
// FIFO within a priority band, backoff delay elapsed, no running job of the
// same type for the same design, and fewer than maxConcurrent jobs of the
// type already running. The whole decision runs in one transaction so
// concurrent claimers serialize; execution happens outside it.
func (s *Store) ClaimNext(ctx context.Context, jobType Type, maxConcurrent int) (*Job, error) {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	var claimedID int64
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		var running int
		if err := tx.QueryRowContext(
			ctx,
			`SELECT COUNT(1) FROM jobs WHERE job_type = ? AND status = ?`,
			jobType,
			StatusRunning,
		).Scan(&running); err != nil {
			return fmt.Errorf("count running: %w", err)
		}
		if running >= maxConcurrent {
			return nil
		}

		now := time.Now().UTC()
		nowStr := db.FormatTime(now)

		rows, err := tx.QueryContext(
			ctx,
			`SELECT id FROM jobs j
             WHERE j.job_type = ? AND j.status = ?
               AND (j.not_before IS NULL OR j.not_before <= ?)
               AND (j.design_id IS NULL OR NOT EXISTS (
                   SELECT 1 FROM jobs r
                   WHERE r.design_id = j.design_id AND r.job_type = j.job_type
                     AND r.status = ? AND r.id != j.id
               ))
             ORDER BY j.priority DESC, j.created_at ASC, j.id ASC
             LIMIT 10`,
			jobType,
			StatusQueued,
			nowStr,
			StatusRunning,
		)
		if err != nil {
			return fmt.Errorf("query claim candidates: %w", err)
		}
		var candidates []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			candidates = append(candidates, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, id := range candidates {
			res, err := tx.ExecContext(
				ctx,
				`UPDATE jobs
                 SET status = ?, started_at = ?, last_heartbeat = ?,
                     progress_percent = 0, progress_message = NULL, not_before = NULL
                 WHERE id = ? AND status = ?`,
				StatusRunning,
				nowStr,
				nowStr,
				id,
				StatusQueued,
			)
			if err != nil {
				return fmt.Errorf("claim job %d: %w", id, err)
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			if affected == 1 {
				claimedID = id
				return nil
			}
			// Lost the compare-and-set; try the next candidate.
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if claimedID == 0 {
		return nil, nil
	}
	return s.GetByID(ctx, claimedID)
}

// RecoverOrphans resets running jobs whose heartbeat predates the cutoff (or
// that never reported one) back to queued with attempts incremented; jobs
// out of attempts become failed with a synthetic orphaned error. Called both
// at startup and periodically, since a wedged worker looks the same as a
// dead process.
func (s *Store) RecoverOrphans(ctx context.Context, cutoff time.Time) (requeued, failed int64, err error) {
	cutoffStr := db.FormatTime(cutoff.UTC())
	nowStr := db.FormatTime(time.Now().UTC())

	res, err := s.db.ExecWithRetry(
		ctx,
		`UPDATE jobs
         SET status = ?, attempts = attempts + 1, last_heartbeat = NULL,
             started_at = NULL, progress_percent = 0,
             progress_message = 'Reclaimed after missed heartbeats'
         WHERE status = ? AND attempts + 1 < max_attempts
           AND (last_heartbeat IS NULL OR last_heartbeat < ?)
           AND (started_at IS NULL OR started_at < ?)`,
		StatusQueued,
		StatusRunning,
		cutoffStr,
		cutoffStr,
	)
	if err != nil {
		return 0, 0, fmt.Errorf("requeue orphans: %w", err)
	}
	requeued, err = res.RowsAffected()
	if err != nil {
		return 0, 0, fmt.Errorf("rows affected: %w", err)
	}

	res, err = s.db.ExecWithRetry(
		ctx,
		`UPDATE jobs
         SET status = ?, attempts = attempts + 1, last_heartbeat = NULL,
             last_error = ?, completed_at = ?
         WHERE status = ? AND attempts + 1 >= max_attempts
           AND (last_heartbeat IS NULL OR last_heartbeat < ?)
           AND (started_at IS NULL OR started_at < ?)`,
		StatusFailed,
		OrphanedError,
		nowStr,
		StatusRunning,
		cutoffStr,
		cutoffStr,
	)
	if err != nil {
		return requeued, 0, fmt.Errorf("fail exhausted orphans: %w", err)
	}
	failed, err = res.RowsAffected()
	if err != nil {
		return requeued, 0, fmt.Errorf("rows affected: %w", err)
	}
	return requeued, failed, nil
}

// UpdateHeartbeat records liveness for a running job.
func (s *Store) UpdateHeartbeat(ctx context.Context, id int64) error {
	now := db.FormatTime(time.Now().UTC())
	if _, err := s.db.ExecWithRetry(
		ctx,
		`UPDATE jobs SET last_heartbeat = ? WHERE id = ? AND status = ?`,
		now,
		id,
		StatusRunning,
	); err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// ErrNotRunning is returned when a progress or completion write targets a job
// that is no longer running.
var ErrNotRunning = errors.New("job is not running")
