package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"curio/internal/catalog"
	"curio/internal/config"
	"curio/internal/logging"
	"curio/internal/services"
	"curio/internal/source"
)

// TagNeedsReview marks designs whose dedup decision was too ambiguous to
// merge automatically.
const TagNeedsReview = "needs-review"

// Outcome names the decision the engine reached for one ingested source.
type Outcome string

const (
	// OutcomeExisting means the source was already ingested; nothing changed.
	OutcomeExisting Outcome = "existing"
	// OutcomeMerged means the source was attached to an existing design.
	OutcomeMerged Outcome = "merged"
	// OutcomeCreated means a new design was created for the source.
	OutcomeCreated Outcome = "created"
	// OutcomeReview means a new design was created but flagged for manual
	// review because a near-match existed below the merge threshold.
	OutcomeReview Outcome = "review"
)

// Decision records what the engine did with one ingested item.
type Decision struct {
	Outcome    Outcome
	DesignID   int64
	SourceID   int64
	Confidence float64
	Reason     string
}

// Engine applies the dedup policy against the catalog.
type Engine struct {
	store  *catalog.Store
	cfg    config.Dedup
	logger *slog.Logger
}

// NewEngine returns a dedup engine bound to the catalog store.
func NewEngine(store *catalog.Store, cfg config.Dedup, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Engine{store: store, cfg: cfg, logger: logging.NewComponentLogger(logger, "dedup")}
}

// Ingest records one discovered item. Re-ingesting a source ref that was
// already recorded is a no-op returning the original placement.
func (e *Engine) Ingest(ctx context.Context, channel string, item source.Item) (*Decision, error) {
	channel = strings.ToLower(strings.TrimSpace(channel))
	if channel == "" || strings.TrimSpace(item.SourceRef) == "" {
		return nil, services.Wrap(services.ErrValidation, "dedup", "ingest",
			"channel and source ref are required", nil)
	}

	existing, err := e.store.FindSourceByRef(ctx, channel, item.SourceRef)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &Decision{
			Outcome:    OutcomeExisting,
			DesignID:   existing.DesignID,
			SourceID:   existing.ID,
			Confidence: existing.LinkConfidence,
			Reason:     "source ref already ingested",
		}, nil
	}

	src := sourceFromItem(channel, item)

	// Primary signal: any shared file hash is a definite duplicate.
	for _, hash := range src.FileHashes {
		design, err := e.store.FindDesignByFileHash(ctx, hash)
		if err != nil {
			return nil, err
		}
		if design == nil {
			continue
		}
		return e.attach(ctx, design.ID, src, 1.0, fmt.Sprintf("file hash %.12s matches", hash))
	}

	// Fallback: normalized filename similarity plus size agreement.
	match, similarity, err := e.bestFilenameMatch(ctx, src)
	if err != nil {
		return nil, err
	}
	if match != nil {
		if similarity >= e.cfg.MinMergeConfidence && sizeWithinTolerance(src.TotalSizeBytes, match.TotalSizeBytes, e.cfg.SizeTolerance) {
			return e.attach(ctx, match.ID, src, similarity,
				fmt.Sprintf("filename similarity %.2f against design %d", similarity, match.ID))
		}
		// Near miss below the merge bar: never collapse, flag instead.
		return e.create(ctx, src, item, OutcomeReview, similarity,
			fmt.Sprintf("similarity %.2f to design %d below merge confidence", similarity, match.ID))
	}

	return e.create(ctx, src, item, OutcomeCreated, 1.0, "no matching design")
}

func (e *Engine) attach(ctx context.Context, designID int64, src *catalog.Source, confidence float64, reason string) (*Decision, error) {
	src.DesignID = designID
	src.LinkConfidence = confidence
	inserted, err := e.store.InsertSource(ctx, src)
	if err != nil {
		return nil, err
	}
	if err := e.store.RecomputeCanonical(ctx, designID); err != nil {
		return nil, err
	}
	e.logger.Info("merged source onto existing design",
		logging.Int64(logging.FieldDesignID, designID),
		logging.String("channel", src.Channel),
		logging.String("source_ref", src.SourceRef),
		logging.Float64("confidence", confidence),
		logging.String("reason", reason),
	)
	return &Decision{
		Outcome:    OutcomeMerged,
		DesignID:   designID,
		SourceID:   inserted.ID,
		Confidence: confidence,
		Reason:     reason,
	}, nil
}

func (e *Engine) create(ctx context.Context, src *catalog.Source, item source.Item, outcome Outcome, confidence float64, reason string) (*Decision, error) {
	design, err := e.store.InsertDesign(ctx, &catalog.Design{
		CanonicalTitle:    item.Title,
		CanonicalDesigner: item.Designer,
		Status:            catalog.StatusDiscovered,
		TotalSizeBytes:    src.TotalSizeBytes,
	})
	if err != nil {
		return nil, err
	}
	src.DesignID = design.ID
	src.LinkConfidence = confidence
	inserted, err := e.store.InsertSource(ctx, src)
	if err != nil {
		return nil, err
	}
	if err := e.store.RecomputeCanonical(ctx, design.ID); err != nil {
		return nil, err
	}
	if outcome == OutcomeReview {
		if err := e.store.AddTags(ctx, design.ID, TagNeedsReview); err != nil {
			return nil, err
		}
	}
	e.logger.Info("created design for ingested source",
		logging.Int64(logging.FieldDesignID, design.ID),
		logging.String("channel", src.Channel),
		logging.String("source_ref", src.SourceRef),
		logging.String("outcome", string(outcome)),
		logging.String("reason", reason),
	)
	return &Decision{
		Outcome:    outcome,
		DesignID:   design.ID,
		SourceID:   inserted.ID,
		Confidence: confidence,
		Reason:     reason,
	}, nil
}

// bestFilenameMatch scans the catalog for the design whose combined filename
// set is most similar to the incoming source, returning nil when nothing
// clears the similarity threshold.
func (e *Engine) bestFilenameMatch(ctx context.Context, src *catalog.Source) (*catalog.Design, float64, error) {
	incoming := normalizedNameSet(src.FileNames)
	if len(incoming) == 0 {
		return nil, 0, nil
	}

	designs, err := e.store.ListDesigns(ctx)
	if err != nil {
		return nil, 0, err
	}

	var (
		best      *catalog.Design
		bestScore float64
	)
	for _, design := range designs {
		sources, err := e.store.SourcesForDesign(ctx, design.ID)
		if err != nil {
			return nil, 0, err
		}
		var names []string
		for _, s := range sources {
			names = append(names, s.FileNames...)
		}
		score := jaccard(incoming, normalizedNameSet(names))
		if score > bestScore {
			best = design
			bestScore = score
		}
	}
	if best == nil || bestScore < e.cfg.FilenameSimilarity {
		return nil, 0, nil
	}
	return best, bestScore, nil
}

func sourceFromItem(channel string, item source.Item) *catalog.Source {
	src := &catalog.Source{
		Channel:    channel,
		SourceRef:  item.SourceRef,
		RawCaption: item.Caption,
		Title:      item.Title,
		Designer:   item.Designer,
	}
	for _, file := range item.Files {
		src.FileNames = append(src.FileNames, file.Name)
		if file.SHA256 != "" {
			src.FileHashes = append(src.FileHashes, strings.ToLower(file.SHA256))
		}
		src.TotalSizeBytes += file.Size
	}
	return src
}
