package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"curio/internal/db"
)

// Store manages job persistence over the shared database.
type Store struct {
	db *db.DB
}

// NewStore wraps the shared database handle.
func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

const jobColumns = "id, job_type, status, design_id, import_source_id, priority, progress_percent, progress_message, attempts, max_attempts, last_error, result_json, not_before, cancel_requested, last_heartbeat, created_at, started_at, completed_at"

// EnqueueOptions carries the optional knobs for Enqueue.
type EnqueueOptions struct {
	Priority    int
	MaxAttempts int
}

// Enqueue inserts a queued job for a design target. Exactly one job of a
// given type may be pending or running per design; a duplicate enqueue
// returns the existing job instead of inserting a second one.
func (s *Store) Enqueue(ctx context.Context, jobType Type, designID int64, opts EnqueueOptions) (*Job, error) {
	return s.enqueue(ctx, jobType, designID, 0, opts)
}

// EnqueueForImportSource inserts a queued job targeting an import source.
func (s *Store) EnqueueForImportSource(ctx context.Context, jobType Type, importSourceID int64, opts EnqueueOptions) (*Job, error) {
	return s.enqueue(ctx, jobType, 0, importSourceID, opts)
}

func (s *Store) enqueue(ctx context.Context, jobType Type, designID, importSourceID int64, opts EnqueueOptions) (*Job, error) {
	if (designID == 0) == (importSourceID == 0) {
		return nil, errors.New("job requires exactly one of design id or import source id")
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}

	// The duplicate check and the insert share one transaction so two
	// concurrent enqueues for the same design and type cannot both insert;
	// the loser's transaction restarts on busy and finds the winner's row.
	var resultID int64
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if designID != 0 {
			existing, err := pendingForDesignTx(ctx, tx, jobType, designID)
			if err != nil {
				return err
			}
			if existing != nil {
				resultID = existing.ID
				return nil
			}
		}

		res, err := tx.ExecContext(
			ctx,
			`INSERT INTO jobs (
                job_type, status, design_id, import_source_id, priority,
                progress_percent, attempts, max_attempts, created_at
            ) VALUES (?, ?, ?, ?, ?, 0, 0, ?, ?)`,
			jobType,
			StatusQueued,
			db.NullableInt64(designID),
			db.NullableInt64(importSourceID),
			opts.Priority,
			opts.MaxAttempts,
			db.FormatTime(time.Now().UTC()),
		)
		if err != nil {
			return fmt.Errorf("insert job: %w", err)
		}
		resultID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetByID(ctx, resultID)
}

func pendingForDesignTx(ctx context.Context, tx *sql.Tx, jobType Type, designID int64) (*Job, error) {
	row := tx.QueryRowContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs
         WHERE design_id = ? AND job_type = ? AND status IN (?, ?)
         ORDER BY id LIMIT 1`,
		designID,
		jobType,
		StatusQueued,
		StatusRunning,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("check pending job: %w", err)
	}
	return job, nil
}

// GetByID fetches a job by identifier. A missing job returns nil, nil.
func (s *Store) GetByID(ctx context.Context, id int64) (*Job, error) {
	row := s.db.Handle().QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListFilter narrows List output. Zero values mean "no filter".
type ListFilter struct {
	Status Status
	Type   Type
	Limit  int
	Offset int
}

// List returns jobs matching the filter, newest first.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	var (
		clauses []string
		args    []any
	)
	if filter.Status != "" {
		clauses = append(clauses, `status = ?`)
		args = append(args, filter.Status)
	}
	if filter.Type != "" {
		clauses = append(clauses, `job_type = ?`)
		args = append(args, filter.Type)
	}
	for i, clause := range clauses {
		if i == 0 {
			query += ` WHERE ` + clause
		} else {
			query += ` AND ` + clause
		}
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.Handle().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// RunningForDesign reports whether a job of the given type is currently
// running against the design.
func (s *Store) RunningForDesign(ctx context.Context, jobType Type, designID int64) (bool, error) {
	var count int
	err := s.db.Handle().QueryRowContext(
		ctx,
		`SELECT COUNT(1) FROM jobs WHERE design_id = ? AND job_type = ? AND status = ?`,
		designID,
		jobType,
		StatusRunning,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("count running jobs: %w", err)
	}
	return count > 0, nil
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id              int64
		jobType         string
		statusStr       string
		designID        sql.NullInt64
		importSourceID  sql.NullInt64
		priority        sql.NullInt64
		progressPercent sql.NullFloat64
		progressMessage sql.NullString
		attempts        sql.NullInt64
		maxAttempts     sql.NullInt64
		lastError       sql.NullString
		resultJSON      sql.NullString
		notBeforeRaw    sql.NullString
		cancelRequested sql.NullInt64
		heartbeatRaw    sql.NullString
		createdRaw      sql.NullString
		startedRaw      sql.NullString
		completedRaw    sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&jobType,
		&statusStr,
		&designID,
		&importSourceID,
		&priority,
		&progressPercent,
		&progressMessage,
		&attempts,
		&maxAttempts,
		&lastError,
		&resultJSON,
		&notBeforeRaw,
		&cancelRequested,
		&heartbeatRaw,
		&createdRaw,
		&startedRaw,
		&completedRaw,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:              id,
		Type:            Type(jobType),
		Status:          Status(statusStr),
		DesignID:        designID.Int64,
		ImportSourceID:  importSourceID.Int64,
		Priority:        int(priority.Int64),
		ProgressPercent: progressPercent.Float64,
		ProgressMessage: progressMessage.String,
		Attempts:        int(attempts.Int64),
		MaxAttempts:     int(maxAttempts.Int64),
		LastError:       lastError.String,
		ResultJSON:      resultJSON.String,
		CancelRequested: cancelRequested.Int64 != 0,
	}
	if notBeforeRaw.Valid {
		if t, err := db.ParseTime(notBeforeRaw.String); err == nil {
			job.NotBefore = &t
		}
	}
	if heartbeatRaw.Valid {
		if t, err := db.ParseTime(heartbeatRaw.String); err == nil {
			job.LastHeartbeat = &t
		}
	}
	if created, err := db.ParseTime(createdRaw.String); err == nil {
		job.CreatedAt = created
	}
	if startedRaw.Valid {
		if t, err := db.ParseTime(startedRaw.String); err == nil {
			job.StartedAt = &t
		}
	}
	if completedRaw.Valid {
		if t, err := db.ParseTime(completedRaw.String); err == nil {
			job.CompletedAt = &t
		}
	}
	return job, nil
}
