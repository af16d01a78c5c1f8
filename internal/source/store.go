package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"curio/internal/db"
)

// ImportSource is a persisted subscription to one channel. Sync jobs target
// it and advance its cursor.
type ImportSource struct {
	ID           int64
	Channel      string
	DisplayName  string
	LastSyncedAt *time.Time
	CreatedAt    time.Time
}

// Store manages import source persistence over the shared database.
type Store struct {
	db *db.DB
}

// NewStore wraps the shared database handle.
func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

const importSourceColumns = "id, channel, display_name, last_synced_at, created_at"

// Insert persists a new import source.
func (s *Store) Insert(ctx context.Context, channel, displayName string) (*ImportSource, error) {
	channel = strings.ToLower(strings.TrimSpace(channel))
	if channel == "" {
		return nil, errors.New("channel is required")
	}
	now := time.Now().UTC()
	res, err := s.db.ExecWithRetry(
		ctx,
		`INSERT INTO import_sources (channel, display_name, created_at) VALUES (?, ?, ?)`,
		channel,
		strings.TrimSpace(displayName),
		db.FormatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("insert import source: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.Get(ctx, id)
}

// Get fetches an import source by identifier. A missing record returns
// nil, nil.
func (s *Store) Get(ctx context.Context, id int64) (*ImportSource, error) {
	row := s.db.Handle().QueryRowContext(ctx,
		`SELECT `+importSourceColumns+` FROM import_sources WHERE id = ?`, id)
	src, err := scanImportSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get import source: %w", err)
	}
	return src, nil
}

// List returns all import sources ordered by identifier.
func (s *Store) List(ctx context.Context) ([]*ImportSource, error) {
	rows, err := s.db.Handle().QueryContext(ctx,
		`SELECT `+importSourceColumns+` FROM import_sources ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list import sources: %w", err)
	}
	defer rows.Close()

	var sources []*ImportSource
	for rows.Next() {
		src, err := scanImportSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan import source: %w", err)
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

// MarkSynced advances the sync cursor.
func (s *Store) MarkSynced(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecWithRetry(
		ctx,
		`UPDATE import_sources SET last_synced_at = ? WHERE id = ?`,
		db.FormatTime(at.UTC()),
		id,
	)
	if err != nil {
		return fmt.Errorf("mark import source synced: %w", err)
	}
	return nil
}

func scanImportSource(scanner interface{ Scan(dest ...any) error }) (*ImportSource, error) {
	var (
		id          int64
		channel     string
		displayName string
		syncedRaw   sql.NullString
		createdRaw  string
	)
	if err := scanner.Scan(&id, &channel, &displayName, &syncedRaw, &createdRaw); err != nil {
		return nil, err
	}
	src := &ImportSource{
		ID:          id,
		Channel:     channel,
		DisplayName: displayName,
	}
	if created, err := db.ParseTime(createdRaw); err == nil {
		src.CreatedAt = created
	}
	if syncedRaw.Valid {
		if synced, err := db.ParseTime(syncedRaw.String); err == nil {
			src.LastSyncedAt = &synced
		}
	}
	return src, nil
}
