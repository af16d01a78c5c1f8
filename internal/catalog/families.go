package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"curio/internal/db"
)

const familyColumns = "id, canonical_name, name_override, designer_override, detection_method, detection_confidence, description, created_at, updated_at"

// InsertFamily persists a new family record.
func (s *Store) InsertFamily(ctx context.Context, family *Family) (*Family, error) {
	if family == nil {
		return nil, errors.New("family is nil")
	}
	now := time.Now().UTC()
	if family.DetectionMethod == "" {
		family.DetectionMethod = DetectionManual
	}
	res, err := s.db.ExecWithRetry(
		ctx,
		`INSERT INTO families (
            canonical_name, name_override, designer_override, detection_method,
            detection_confidence, description, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		family.CanonicalName,
		db.NullableString(family.NameOverride),
		db.NullableString(family.DesignerOverride),
		family.DetectionMethod,
		family.DetectionConfidence,
		family.Description,
		db.FormatTime(now),
		db.FormatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("insert family: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetFamily(ctx, id)
}

// GetFamily fetches a family by identifier. A missing family returns nil, nil.
func (s *Store) GetFamily(ctx context.Context, id int64) (*Family, error) {
	row := s.db.Handle().QueryRowContext(ctx, `SELECT `+familyColumns+` FROM families WHERE id = ?`, id)
	family, err := scanFamily(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get family: %w", err)
	}
	return family, nil
}

// ListFamilies returns all families ordered by creation time.
func (s *Store) ListFamilies(ctx context.Context) ([]*Family, error) {
	rows, err := s.db.Handle().QueryContext(ctx, `SELECT `+familyColumns+` FROM families ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list families: %w", err)
	}
	defer rows.Close()

	var families []*Family
	for rows.Next() {
		family, err := scanFamily(rows)
		if err != nil {
			return nil, err
		}
		families = append(families, family)
	}
	return families, rows.Err()
}

// FamilyMembers returns the designs carrying a back-reference to the family.
// The reverse index is derived; families never own designs.
func (s *Store) FamilyMembers(ctx context.Context, familyID int64) ([]*Design, error) {
	rows, err := s.db.Handle().QueryContext(
		ctx,
		`SELECT `+designColumns+` FROM designs WHERE family_id = ? ORDER BY created_at, id`,
		familyID,
	)
	if err != nil {
		return nil, fmt.Errorf("query family members: %w", err)
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

// AssignFamily sets the family back-reference on a design.
func (s *Store) AssignFamily(ctx context.Context, designID, familyID int64) error {
	_, err := s.db.ExecWithRetry(
		ctx,
		`UPDATE designs SET family_id = ?, updated_at = ? WHERE id = ?`,
		db.NullableInt64(familyID),
		db.FormatTime(time.Now().UTC()),
		designID,
	)
	if err != nil {
		return fmt.Errorf("assign family: %w", err)
	}
	return nil
}

// DissolveFamily clears the back-reference on every member and removes the
// family record. Members are never deleted and their content fields are
// untouched.
func (s *Store) DissolveFamily(ctx context.Context, familyID int64) error {
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		now := db.FormatTime(time.Now().UTC())
		if _, err := tx.ExecContext(ctx, `UPDATE designs SET family_id = NULL, updated_at = ? WHERE family_id = ?`, now, familyID); err != nil {
			return fmt.Errorf("clear member references: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM families WHERE id = ?`, familyID); err != nil {
			return fmt.Errorf("delete family: %w", err)
		}
		return nil
	})
}

// AddTags records tags on a design, ignoring duplicates.
func (s *Store) AddTags(ctx context.Context, designID int64, tags ...string) error {
	for _, tag := range tags {
		if tag == "" {
			continue
		}
		if _, err := s.db.ExecWithRetry(
			ctx,
			`INSERT OR IGNORE INTO design_tags (design_id, tag) VALUES (?, ?)`,
			designID,
			tag,
		); err != nil {
			return fmt.Errorf("add tag: %w", err)
		}
	}
	return nil
}

// TagsForDesign lists a design's tags.
func (s *Store) TagsForDesign(ctx context.Context, designID int64) ([]string, error) {
	rows, err := s.db.Handle().QueryContext(
		ctx,
		`SELECT tag FROM design_tags WHERE design_id = ? ORDER BY tag`,
		designID,
	)
	if err != nil {
		return nil, fmt.Errorf("query tags: %w", err)
	}
	defer rows.Close()
	return collectStrings(rows)
}

// FamilyTags aggregates the union of member tags for display.
func (s *Store) FamilyTags(ctx context.Context, familyID int64) ([]string, error) {
	rows, err := s.db.Handle().QueryContext(
		ctx,
		`SELECT DISTINCT t.tag
         FROM design_tags t
         JOIN designs d ON d.id = t.design_id
         WHERE d.family_id = ?
         ORDER BY t.tag`,
		familyID,
	)
	if err != nil {
		return nil, fmt.Errorf("query family tags: %w", err)
	}
	defer rows.Close()
	return collectStrings(rows)
}

func collectStrings(rows *sql.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, err
		}
		out = append(out, value)
	}
	return out, rows.Err()
}

func scanFamily(scanner interface{ Scan(dest ...any) error }) (*Family, error) {
	var (
		id               int64
		canonicalName    string
		nameOverride     sql.NullString
		designerOverride sql.NullString
		method           string
		confidence       sql.NullFloat64
		description      sql.NullString
		createdRaw       sql.NullString
		updatedRaw       sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&canonicalName,
		&nameOverride,
		&designerOverride,
		&method,
		&confidence,
		&description,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	family := &Family{
		ID:                  id,
		CanonicalName:       canonicalName,
		NameOverride:        nameOverride.String,
		DesignerOverride:    designerOverride.String,
		DetectionMethod:     DetectionMethod(method),
		DetectionConfidence: confidence.Float64,
		Description:         description.String,
	}
	if created, err := db.ParseTime(createdRaw.String); err == nil {
		family.CreatedAt = created
	}
	if updated, err := db.ParseTime(updatedRaw.String); err == nil {
		family.UpdatedAt = updated
	}
	return family, nil
}
