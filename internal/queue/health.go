package queue

import (
	"context"
	"fmt"
	"time"

	"curio/internal/db"
)

// StatsByType counts jobs per status for every known type. Types with no
// jobs are present with zero counts.
func (s *Store) StatsByType(ctx context.Context) (map[Type]Stats, error) {
	stats := make(map[Type]Stats, len(allTypes))
	for _, t := range allTypes {
		stats[t] = Stats{}
	}

	rows, err := s.db.Handle().QueryContext(
		ctx,
		`SELECT job_type, status, COUNT(*) FROM jobs GROUP BY job_type, status`,
	)
	if err != nil {
		return nil, fmt.Errorf("query job stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rawType   string
			rawStatus string
			count     int
		)
		if err := rows.Scan(&rawType, &rawStatus, &count); err != nil {
			return nil, fmt.Errorf("scan job stats: %w", err)
		}
		jobType, ok := ParseType(rawType)
		if !ok {
			continue
		}
		entry := stats[jobType]
		switch Status(rawStatus) {
		case StatusQueued:
			entry.Queued = count
		case StatusRunning:
			entry.Running = count
		case StatusSuccess:
			entry.Succeeded = count
		case StatusFailed:
			entry.Failed = count
		case StatusCancelled:
			entry.Cancelled = count
		}
		stats[jobType] = entry
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job stats: %w", err)
	}
	return stats, nil
}

// Health summarizes the queue for the health surface. A running job counts
// as stalled when its heartbeat is older than the cutoff.
func (s *Store) Health(ctx context.Context, heartbeatCutoff time.Duration) (*HealthSummary, error) {
	perType, err := s.StatsByType(ctx)
	if err != nil {
		return nil, err
	}

	var stalled int
	cutoff := time.Now().UTC().Add(-heartbeatCutoff)
	err = s.db.Handle().QueryRowContext(
		ctx,
		`SELECT COUNT(*) FROM jobs
         WHERE status = ? AND (last_heartbeat IS NULL OR last_heartbeat < ?)`,
		StatusRunning,
		db.FormatTime(cutoff),
	).Scan(&stalled)
	if err != nil {
		return nil, fmt.Errorf("count stalled jobs: %w", err)
	}

	return &HealthSummary{PerType: perType, Stalled: stalled}, nil
}

// ClearCompleted deletes terminal successful and cancelled jobs, returning
// the number removed.
func (s *Store) ClearCompleted(ctx context.Context) (int64, error) {
	res, err := s.db.ExecWithRetry(
		ctx,
		`DELETE FROM jobs WHERE status IN (?, ?)`,
		StatusSuccess,
		StatusCancelled,
	)
	if err != nil {
		return 0, fmt.Errorf("clear completed jobs: %w", err)
	}
	return res.RowsAffected()
}

// ClearFailed deletes terminal failed jobs, returning the number removed.
func (s *Store) ClearFailed(ctx context.Context) (int64, error) {
	res, err := s.db.ExecWithRetry(
		ctx,
		`DELETE FROM jobs WHERE status = ?`,
		StatusFailed,
	)
	if err != nil {
		return 0, fmt.Errorf("clear failed jobs: %w", err)
	}
	return res.RowsAffected()
}
