package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"curio/internal/db"
	"curio/internal/services"
)

// MergeSources re-parents the listed sources onto the target design inside a
// single transaction, then recomputes canonical fields on the target and on
// every donor design. Sources already attached to the target are skipped, so
// re-issuing an applied merge is a no-op. Donor designs left with zero
// sources are removed; their provenance lives on with the moved sources.
func (s *Store) MergeSources(ctx context.Context, targetDesignID int64, sourceIDs ...int64) error {
	if len(sourceIDs) == 0 {
		return nil
	}
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if ok, err := designExistsTx(ctx, tx, targetDesignID); err != nil {
			return err
		} else if !ok {
			return services.Wrap(services.ErrIntegrity, "merge", "load target", fmt.Sprintf("design %d not found", targetDesignID), nil)
		}

		donors := make(map[int64]struct{})
		moved := false
		for _, sourceID := range sourceIDs {
			var currentDesign int64
			err := tx.QueryRowContext(ctx, `SELECT design_id FROM design_sources WHERE id = ?`, sourceID).Scan(&currentDesign)
			if errors.Is(err, sql.ErrNoRows) {
				return services.Wrap(services.ErrIntegrity, "merge", "load source", fmt.Sprintf("source %d not found", sourceID), nil)
			}
			if err != nil {
				return fmt.Errorf("load source %d: %w", sourceID, err)
			}
			if currentDesign == targetDesignID {
				continue
			}
			if _, err := tx.ExecContext(
				ctx,
				`UPDATE design_sources SET design_id = ?, is_preferred = 0 WHERE id = ?`,
				targetDesignID,
				sourceID,
			); err != nil {
				return fmt.Errorf("re-parent source %d: %w", sourceID, err)
			}
			donors[currentDesign] = struct{}{}
			moved = true
		}
		if !moved {
			return nil
		}

		if err := recomputeCanonicalTx(ctx, tx, targetDesignID); err != nil {
			return err
		}
		for donor := range donors {
			remaining, err := countSourcesTx(ctx, tx, donor)
			if err != nil {
				return err
			}
			if remaining == 0 {
				if err := removeEmptyDesignTx(ctx, tx, donor); err != nil {
					return err
				}
				continue
			}
			if err := recomputeCanonicalTx(ctx, tx, donor); err != nil {
				return err
			}
		}
		return nil
	})
}

// SplitSources detaches the listed sources from their design into a new
// standalone design, in one transaction. Both designs' canonical fields are
// recomputed deterministically. Sources that no longer belong to designID are
// ignored, so re-issuing an applied split changes nothing and returns nil.
func (s *Store) SplitSources(ctx context.Context, designID int64, sourceIDs ...int64) (*Design, error) {
	if len(sourceIDs) == 0 {
		return nil, errors.New("split requires at least one source")
	}

	var newDesignID int64
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		attached := make([]int64, 0, len(sourceIDs))
		for _, sourceID := range sourceIDs {
			var currentDesign int64
			err := tx.QueryRowContext(ctx, `SELECT design_id FROM design_sources WHERE id = ?`, sourceID).Scan(&currentDesign)
			if errors.Is(err, sql.ErrNoRows) {
				return services.Wrap(services.ErrIntegrity, "split", "load source", fmt.Sprintf("source %d not found", sourceID), nil)
			}
			if err != nil {
				return fmt.Errorf("load source %d: %w", sourceID, err)
			}
			if currentDesign == designID {
				attached = append(attached, sourceID)
			}
		}
		if len(attached) == 0 {
			// Already applied.
			return nil
		}

		total, err := countSourcesTx(ctx, tx, designID)
		if err != nil {
			return err
		}
		if total == len(attached) {
			return services.Wrap(services.ErrValidation, "split", "select sources", "cannot detach every source from a design", nil)
		}

		now := db.FormatTime(time.Now().UTC())
		res, err := tx.ExecContext(
			ctx,
			`INSERT INTO designs (canonical_title, canonical_designer, status, created_at, updated_at)
             VALUES ('', '', ?, ?, ?)`,
			StatusDiscovered,
			now,
			now,
		)
		if err != nil {
			return fmt.Errorf("insert split design: %w", err)
		}
		newDesignID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}

		placeholders := db.MakePlaceholders(len(attached))
		args := make([]any, 0, len(attached)+1)
		args = append(args, newDesignID)
		for _, id := range attached {
			args = append(args, id)
		}
		if _, err := tx.ExecContext(
			ctx,
			`UPDATE design_sources SET design_id = ?, is_preferred = 0 WHERE id IN (`+placeholders+`)`,
			args...,
		); err != nil {
			return fmt.Errorf("re-parent split sources: %w", err)
		}

		if err := recomputeCanonicalTx(ctx, tx, designID); err != nil {
			return err
		}
		return recomputeCanonicalTx(ctx, tx, newDesignID)
	})
	if err != nil {
		return nil, err
	}
	if newDesignID == 0 {
		return nil, nil
	}
	return s.GetDesign(ctx, newDesignID)
}

// RecomputeCanonical re-derives a design's canonical fields from its sources.
func (s *Store) RecomputeCanonical(ctx context.Context, designID int64) error {
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		return recomputeCanonicalTx(ctx, tx, designID)
	})
}

// recomputeCanonicalTx derives canonical title/designer (earliest-created
// source wins), primary file types (union of source file extensions), and
// total size (preferred source), and repairs the exactly-one-preferred
// invariant after re-parenting.
func recomputeCanonicalTx(ctx context.Context, tx *sql.Tx, designID int64) error {
	rows, err := tx.QueryContext(
		ctx,
		`SELECT id, title, designer, file_names, total_size_bytes, is_preferred, created_at
         FROM design_sources WHERE design_id = ? ORDER BY created_at, id`,
		designID,
	)
	if err != nil {
		return fmt.Errorf("load sources for recompute: %w", err)
	}
	type sourceRow struct {
		id        int64
		title     string
		designer  string
		fileNames string
		size      int64
		preferred bool
	}
	var sources []sourceRow
	for rows.Next() {
		var (
			r         sourceRow
			preferred int64
			created   string
		)
		if err := rows.Scan(&r.id, &r.title, &r.designer, &r.fileNames, &r.size, &preferred, &created); err != nil {
			rows.Close()
			return err
		}
		r.preferred = preferred != 0
		sources = append(sources, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if len(sources) == 0 {
		return services.Wrap(services.ErrIntegrity, "recompute", "load sources", fmt.Sprintf("design %d has no sources", designID), nil)
	}

	preferredID := int64(0)
	for _, src := range sources {
		if src.preferred {
			preferredID = src.id
			break
		}
	}
	if preferredID == 0 {
		preferredID = sources[0].id
		if _, err := tx.ExecContext(ctx, `UPDATE design_sources SET is_preferred = 1 WHERE id = ?`, preferredID); err != nil {
			return fmt.Errorf("repair preferred flag: %w", err)
		}
	}

	title, designer := "", ""
	for _, src := range sources {
		if title == "" && strings.TrimSpace(src.title) != "" {
			title = strings.TrimSpace(src.title)
		}
		if designer == "" && strings.TrimSpace(src.designer) != "" {
			designer = strings.TrimSpace(src.designer)
		}
	}

	typeSet := make(map[string]struct{})
	var totalSize int64
	for _, src := range sources {
		if src.id == preferredID {
			totalSize = src.size
		}
		var names []string
		if src.fileNames != "" {
			if err := decodeJSONStrings(src.fileNames, &names); err != nil {
				return fmt.Errorf("decode file names for source %d: %w", src.id, err)
			}
		}
		for _, name := range names {
			if dot := strings.LastIndex(name, "."); dot >= 0 && dot < len(name)-1 {
				typeSet[strings.ToLower(name[dot:])] = struct{}{}
			}
		}
	}
	types := make([]string, 0, len(typeSet))
	for t := range typeSet {
		types = append(types, t)
	}
	sort.Strings(types)

	if _, err := tx.ExecContext(
		ctx,
		`UPDATE designs
         SET canonical_title = ?, canonical_designer = ?, primary_file_types = ?,
             total_size_bytes = ?, updated_at = ?
         WHERE id = ?`,
		title,
		designer,
		strings.Join(types, ","),
		totalSize,
		db.FormatTime(time.Now().UTC()),
		designID,
	); err != nil {
		return fmt.Errorf("update canonical fields: %w", err)
	}
	return nil
}

func designExistsTx(ctx context.Context, tx *sql.Tx, designID int64) (bool, error) {
	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM designs WHERE id = ?`, designID).Scan(&count); err != nil {
		return false, fmt.Errorf("check design %d: %w", designID, err)
	}
	return count > 0, nil
}

func countSourcesTx(ctx context.Context, tx *sql.Tx, designID int64) (int, error) {
	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM design_sources WHERE design_id = ?`, designID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count sources for design %d: %w", designID, err)
	}
	return count, nil
}

func removeEmptyDesignTx(ctx context.Context, tx *sql.Tx, designID int64) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM design_tags WHERE design_id = ?`, designID); err != nil {
		return fmt.Errorf("clear tags for design %d: %w", designID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM designs WHERE id = ?`, designID); err != nil {
		return fmt.Errorf("remove empty design %d: %w", designID, err)
	}
	return nil
}
