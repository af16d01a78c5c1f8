package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"curio/internal/db"
)

// Store manages catalog persistence over the shared database.
type Store struct {
	db *db.DB
}

// NewStore wraps the shared database handle.
func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

const designColumns = "id, canonical_title, canonical_designer, title_override, designer_override, status, primary_file_types, total_size_bytes, multicolor, library_path, family_id, metadata_authority, metadata_confidence, created_at, updated_at"

// InsertDesign persists a new design and returns it with its identifier.
func (s *Store) InsertDesign(ctx context.Context, design *Design) (*Design, error) {
	if design == nil {
		return nil, errors.New("design is nil")
	}
	now := time.Now().UTC()
	if design.Status == "" {
		design.Status = StatusDiscovered
	}
	res, err := s.db.ExecWithRetry(
		ctx,
		`INSERT INTO designs (
            canonical_title, canonical_designer, title_override, designer_override,
            status, primary_file_types, total_size_bytes, multicolor, library_path, family_id,
            metadata_authority, metadata_confidence, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		design.CanonicalTitle,
		design.CanonicalDesigner,
		db.NullableString(design.TitleOverride),
		db.NullableString(design.DesignerOverride),
		design.Status,
		strings.Join(design.PrimaryFileTypes, ","),
		design.TotalSizeBytes,
		boolToInt(design.Multicolor),
		design.LibraryPath,
		db.NullableInt64(design.FamilyID),
		db.NullableString(design.MetadataAuthority),
		design.MetadataConfidence,
		db.FormatTime(now),
		db.FormatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("insert design: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetDesign(ctx, id)
}

// GetDesign fetches a design by identifier. A missing design returns nil, nil.
func (s *Store) GetDesign(ctx context.Context, id int64) (*Design, error) {
	row := s.db.Handle().QueryRowContext(ctx, `SELECT `+designColumns+` FROM designs WHERE id = ?`, id)
	design, err := scanDesign(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get design: %w", err)
	}
	return design, nil
}

// UpdateDesign persists changes to an existing design.
func (s *Store) UpdateDesign(ctx context.Context, design *Design) error {
	if design == nil {
		return errors.New("design is nil")
	}
	design.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecWithRetry(
		ctx,
		`UPDATE designs
         SET canonical_title = ?, canonical_designer = ?, title_override = ?, designer_override = ?,
             status = ?, primary_file_types = ?, total_size_bytes = ?, multicolor = ?, library_path = ?,
             family_id = ?, metadata_authority = ?, metadata_confidence = ?, updated_at = ?
         WHERE id = ?`,
		design.CanonicalTitle,
		design.CanonicalDesigner,
		db.NullableString(design.TitleOverride),
		db.NullableString(design.DesignerOverride),
		design.Status,
		strings.Join(design.PrimaryFileTypes, ","),
		design.TotalSizeBytes,
		boolToInt(design.Multicolor),
		design.LibraryPath,
		db.NullableInt64(design.FamilyID),
		db.NullableString(design.MetadataAuthority),
		design.MetadataConfidence,
		db.FormatTime(design.UpdatedAt),
		design.ID,
	)
	if err != nil {
		return fmt.Errorf("update design: %w", err)
	}
	return nil
}

// ListDesigns returns designs filtered by status set (or all designs when no
// status is provided), ordered by creation time.
func (s *Store) ListDesigns(ctx context.Context, statuses ...Status) ([]*Design, error) {
	baseQuery := `SELECT ` + designColumns + ` FROM designs`
	orderClause := ` ORDER BY created_at, id`

	var (
		rows *sql.Rows
		err  error
	)
	if len(statuses) == 0 {
		rows, err = s.db.Handle().QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := db.MakePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		rows, err = s.db.Handle().QueryContext(ctx, baseQuery+` WHERE status IN (`+placeholders+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list designs: %w", err)
	}
	defer rows.Close()

	var designs []*Design
	for rows.Next() {
		design, err := scanDesign(rows)
		if err != nil {
			return nil, err
		}
		designs = append(designs, design)
	}
	return designs, rows.Err()
}

// SetStatus advances a design's status, enforcing the state machine. The
// write is conditional on the stored status still matching from, so racing
// writers cannot skip states.
func (s *Store) SetStatus(ctx context.Context, id int64, from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("illegal design status transition %s -> %s", from, to)
	}
	res, err := s.db.ExecWithRetry(
		ctx,
		`UPDATE designs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to,
		db.FormatTime(time.Now().UTC()),
		id,
		from,
	)
	if err != nil {
		return fmt.Errorf("set design status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("design %d status changed concurrently (expected %s)", id, from)
	}
	return nil
}

// SetOverrides records user-supplied title/designer overrides.
func (s *Store) SetOverrides(ctx context.Context, id int64, title, designer string) error {
	_, err := s.db.ExecWithRetry(
		ctx,
		`UPDATE designs SET title_override = ?, designer_override = ?, updated_at = ? WHERE id = ?`,
		db.NullableString(strings.TrimSpace(title)),
		db.NullableString(strings.TrimSpace(designer)),
		db.FormatTime(time.Now().UTC()),
		id,
	)
	if err != nil {
		return fmt.Errorf("set design overrides: %w", err)
	}
	return nil
}

func scanDesign(scanner interface{ Scan(dest ...any) error }) (*Design, error) {
	var (
		id                 int64
		canonicalTitle     string
		canonicalDesigner  string
		titleOverride      sql.NullString
		designerOverride   sql.NullString
		statusStr          string
		fileTypes          sql.NullString
		totalSize          sql.NullInt64
		multicolor         sql.NullInt64
		libraryPath        sql.NullString
		familyID           sql.NullInt64
		metadataAuthority  sql.NullString
		metadataConfidence sql.NullFloat64
		createdRaw         sql.NullString
		updatedRaw         sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&canonicalTitle,
		&canonicalDesigner,
		&titleOverride,
		&designerOverride,
		&statusStr,
		&fileTypes,
		&totalSize,
		&multicolor,
		&libraryPath,
		&familyID,
		&metadataAuthority,
		&metadataConfidence,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	design := &Design{
		ID:                 id,
		CanonicalTitle:     canonicalTitle,
		CanonicalDesigner:  canonicalDesigner,
		TitleOverride:      titleOverride.String,
		DesignerOverride:   designerOverride.String,
		Status:             Status(statusStr),
		TotalSizeBytes:     totalSize.Int64,
		Multicolor:         multicolor.Int64 != 0,
		LibraryPath:        libraryPath.String,
		FamilyID:           familyID.Int64,
		MetadataAuthority:  metadataAuthority.String,
		MetadataConfidence: metadataConfidence.Float64,
	}
	if types := strings.TrimSpace(fileTypes.String); types != "" {
		design.PrimaryFileTypes = strings.Split(types, ",")
	}
	if created, err := db.ParseTime(createdRaw.String); err == nil {
		design.CreatedAt = created
	}
	if updated, err := db.ParseTime(updatedRaw.String); err == nil {
		design.UpdatedAt = updated
	}
	return design, nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
