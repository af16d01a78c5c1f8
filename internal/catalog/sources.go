package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"curio/internal/db"
)

const sourceColumns = "id, design_id, channel, source_ref, raw_caption, title, designer, file_hashes, file_names, total_size_bytes, is_preferred, link_confidence, created_at"

// InsertSource appends a new source under its design. The first source for a
// design becomes preferred.
func (s *Store) InsertSource(ctx context.Context, source *Source) (*Source, error) {
	if source == nil {
		return nil, errors.New("source is nil")
	}
	if source.DesignID == 0 {
		return nil, errors.New("source requires a design id")
	}
	existing, err := s.SourcesForDesign(ctx, source.DesignID)
	if err != nil {
		return nil, err
	}
	if len(existing) == 0 {
		source.IsPreferred = true
	}
	hashes, err := json.Marshal(source.FileHashes)
	if err != nil {
		return nil, fmt.Errorf("marshal file hashes: %w", err)
	}
	names, err := json.Marshal(source.FileNames)
	if err != nil {
		return nil, fmt.Errorf("marshal file names: %w", err)
	}
	res, err := s.db.ExecWithRetry(
		ctx,
		`INSERT INTO design_sources (
            design_id, channel, source_ref, raw_caption, title, designer,
            file_hashes, file_names, total_size_bytes, is_preferred,
            link_confidence, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		source.DesignID,
		source.Channel,
		source.SourceRef,
		source.RawCaption,
		source.Title,
		source.Designer,
		string(hashes),
		string(names),
		source.TotalSizeBytes,
		boolToInt(source.IsPreferred),
		source.LinkConfidence,
		db.FormatTime(time.Now().UTC()),
	)
	if err != nil {
		return nil, fmt.Errorf("insert source: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetSource(ctx, id)
}

// GetSource fetches a source by identifier. A missing source returns nil, nil.
func (s *Store) GetSource(ctx context.Context, id int64) (*Source, error) {
	row := s.db.Handle().QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM design_sources WHERE id = ?`, id)
	source, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get source: %w", err)
	}
	return source, nil
}

// FindSourceByRef locates a source by its origin coordinates.
func (s *Store) FindSourceByRef(ctx context.Context, channel, sourceRef string) (*Source, error) {
	row := s.db.Handle().QueryRowContext(
		ctx,
		`SELECT `+sourceColumns+` FROM design_sources WHERE channel = ? AND source_ref = ? LIMIT 1`,
		channel,
		sourceRef,
	)
	source, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find source by ref: %w", err)
	}
	return source, nil
}

// SourcesForDesign lists a design's sources ordered by creation time.
func (s *Store) SourcesForDesign(ctx context.Context, designID int64) ([]*Source, error) {
	rows, err := s.db.Handle().QueryContext(
		ctx,
		`SELECT `+sourceColumns+` FROM design_sources WHERE design_id = ? ORDER BY created_at, id`,
		designID,
	)
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	defer rows.Close()

	var sources []*Source
	for rows.Next() {
		source, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, source)
	}
	return sources, rows.Err()
}

// FindDesignByFileHash returns the design owning any source that records the
// given content hash, or nil when no design does.
func (s *Store) FindDesignByFileHash(ctx context.Context, hash string) (*Design, error) {
	// Hashes are stored as a JSON array; the LIKE probe narrows candidates
	// and the decoded check confirms exact membership.
	rows, err := s.db.Handle().QueryContext(
		ctx,
		`SELECT `+sourceColumns+` FROM design_sources WHERE file_hashes LIKE ? ORDER BY id`,
		"%"+hash+"%",
	)
	if err != nil {
		return nil, fmt.Errorf("query sources by hash: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		source, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		for _, h := range source.FileHashes {
			if h == hash {
				return s.GetDesign(ctx, source.DesignID)
			}
		}
	}
	return nil, rows.Err()
}

// SetPreferredSource marks one source preferred and clears the flag on its
// siblings in a single transaction.
func (s *Store) SetPreferredSource(ctx context.Context, sourceID int64) error {
	source, err := s.GetSource(ctx, sourceID)
	if err != nil {
		return err
	}
	if source == nil {
		return fmt.Errorf("source %d not found", sourceID)
	}
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE design_sources SET is_preferred = 0 WHERE design_id = ?`, source.DesignID); err != nil {
			return fmt.Errorf("clear preferred flags: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE design_sources SET is_preferred = 1 WHERE id = ?`, sourceID); err != nil {
			return fmt.Errorf("set preferred flag: %w", err)
		}
		return nil
	})
}

func scanSource(scanner interface{ Scan(dest ...any) error }) (*Source, error) {
	var (
		id             int64
		designID       int64
		channel        string
		sourceRef      string
		rawCaption     sql.NullString
		title          sql.NullString
		designer       sql.NullString
		hashesRaw      sql.NullString
		namesRaw       sql.NullString
		totalSize      sql.NullInt64
		isPreferred    sql.NullInt64
		linkConfidence sql.NullFloat64
		createdRaw     sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&designID,
		&channel,
		&sourceRef,
		&rawCaption,
		&title,
		&designer,
		&hashesRaw,
		&namesRaw,
		&totalSize,
		&isPreferred,
		&linkConfidence,
		&createdRaw,
	); err != nil {
		return nil, err
	}

	source := &Source{
		ID:             id,
		DesignID:       designID,
		Channel:        channel,
		SourceRef:      sourceRef,
		RawCaption:     rawCaption.String,
		Title:          title.String,
		Designer:       designer.String,
		TotalSizeBytes: totalSize.Int64,
		IsPreferred:    isPreferred.Int64 != 0,
		LinkConfidence: linkConfidence.Float64,
	}
	if raw := hashesRaw.String; raw != "" {
		if err := json.Unmarshal([]byte(raw), &source.FileHashes); err != nil {
			return nil, fmt.Errorf("decode file hashes: %w", err)
		}
	}
	if raw := namesRaw.String; raw != "" {
		if err := json.Unmarshal([]byte(raw), &source.FileNames); err != nil {
			return nil, fmt.Errorf("decode file names: %w", err)
		}
	}
	if created, err := db.ParseTime(createdRaw.String); err == nil {
		source.CreatedAt = created
	}
	return source, nil
}
