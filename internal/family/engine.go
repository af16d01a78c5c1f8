package family

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"curio/internal/catalog"
	"curio/internal/config"
	"curio/internal/logging"
	"curio/internal/services"
)

// Engine discovers and applies family groupings over the design population.
type Engine struct {
	store  *catalog.Store
	cfg    config.Families
	logger *slog.Logger
}

// NewEngine returns a grouping engine bound to the catalog store.
func NewEngine(store *catalog.Store, cfg config.Families, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Engine{store: store, cfg: cfg, logger: logging.NewComponentLogger(logger, "family")}
}

// GroupByNamePattern scans ungrouped designs, strips variant suffixes from
// their display titles, and groups designs sharing a base name. Designs that
// already belong to a family are left alone.
func (e *Engine) GroupByNamePattern(ctx context.Context) ([]*catalog.Family, error) {
	designs, err := e.store.ListDesigns(ctx)
	if err != nil {
		return nil, err
	}

	groups := make(map[string][]*catalog.Design)
	for _, design := range designs {
		if design.FamilyID != 0 {
			continue
		}
		base := baseName(design.DisplayTitle(), e.cfg.VariantSuffixes)
		if base == "" {
			continue
		}
		groups[base] = append(groups[base], design)
	}

	bases := make([]string, 0, len(groups))
	for base := range groups {
		bases = append(bases, base)
	}
	sort.Strings(bases)

	var created []*catalog.Family
	for _, base := range bases {
		members := groups[base]
		if len(members) < 2 {
			continue
		}
		family, err := e.createAndAssign(ctx, base, catalog.DetectionNamePattern, 1.0,
			fmt.Sprintf("shared base name %q", base), members)
		if err != nil {
			return nil, err
		}
		created = append(created, family)
	}
	return created, nil
}

// GroupByHashOverlap groups ungrouped designs whose file-hash sets partially
// overlap: above the grouping threshold yet not identical, since identical
// sets are dedup's territory.
func (e *Engine) GroupByHashOverlap(ctx context.Context) ([]*catalog.Family, error) {
	designs, err := e.store.ListDesigns(ctx)
	if err != nil {
		return nil, err
	}

	type candidate struct {
		design *catalog.Design
		hashes map[string]struct{}
	}
	var candidates []candidate
	for _, design := range designs {
		if design.FamilyID != 0 {
			continue
		}
		sources, err := e.store.SourcesForDesign(ctx, design.ID)
		if err != nil {
			return nil, err
		}
		hashes := make(map[string]struct{})
		for _, src := range sources {
			for _, h := range src.FileHashes {
				hashes[strings.ToLower(h)] = struct{}{}
			}
		}
		if len(hashes) == 0 {
			continue
		}
		candidates = append(candidates, candidate{design: design, hashes: hashes})
	}

	// Union-find over overlapping pairs.
	parent := make([]int, len(candidates))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}
	minOverlap := 1.0
	for i := 0; i < len(candidates); i++ {
		for j := i + 1; j < len(candidates); j++ {
			overlap := hashJaccard(candidates[i].hashes, candidates[j].hashes)
			if overlap >= e.cfg.HashOverlapThreshold && overlap < 1.0 {
				if overlap < minOverlap {
					minOverlap = overlap
				}
				parent[find(i)] = find(j)
			}
		}
	}

	clusters := make(map[int][]candidate)
	for i, c := range candidates {
		root := find(i)
		clusters[root] = append(clusters[root], c)
	}
	roots := make([]int, 0, len(clusters))
	for root := range clusters {
		roots = append(roots, root)
	}
	sort.Ints(roots)

	var created []*catalog.Family
	for _, root := range roots {
		members := clusters[root]
		if len(members) < 2 {
			continue
		}
		designs := make([]*catalog.Design, len(members))
		for i, m := range members {
			designs[i] = m.design
		}
		sort.Slice(designs, func(i, j int) bool { return designs[i].ID < designs[j].ID })
		family, err := e.createAndAssign(ctx, designs[0].DisplayTitle(), catalog.DetectionFileHashOverlap,
			minOverlap, "partial file hash overlap", designs)
		if err != nil {
			return nil, err
		}
		created = append(created, family)
	}
	return created, nil
}

// AISignal is an externally supplied grouping suggestion. The engine consumes
// it as input; it never computes these itself.
type AISignal struct {
	Name        string
	Description string
	Confidence  float64
	DesignIDs   []int64
}

// ApplyAISignal groups the named designs when the signal's confidence clears
// the configured floor.
func (e *Engine) ApplyAISignal(ctx context.Context, signal AISignal) (*catalog.Family, error) {
	if signal.Confidence < e.cfg.AIMinConfidence {
		return nil, services.Wrap(services.ErrValidation, "family", "ai-signal",
			fmt.Sprintf("confidence %.2f below floor %.2f", signal.Confidence, e.cfg.AIMinConfidence), nil)
	}
	if len(signal.DesignIDs) < 2 {
		return nil, services.Wrap(services.ErrValidation, "family", "ai-signal",
			"a family needs at least two members", nil)
	}
	designs, err := e.resolveDesigns(ctx, signal.DesignIDs)
	if err != nil {
		return nil, err
	}
	family, err := e.store.InsertFamily(ctx, &catalog.Family{
		CanonicalName:       signal.Name,
		DetectionMethod:     catalog.DetectionAI,
		DetectionConfidence: signal.Confidence,
		Description:         signal.Description,
	})
	if err != nil {
		return nil, err
	}
	if err := e.assign(ctx, family, designs); err != nil {
		return nil, err
	}
	return family, nil
}

// GroupManually groups designs on explicit user action, overriding any
// existing grouping on the members.
func (e *Engine) GroupManually(ctx context.Context, name string, designIDs ...int64) (*catalog.Family, error) {
	if len(designIDs) < 2 {
		return nil, services.Wrap(services.ErrValidation, "family", "group",
			"a family needs at least two members", nil)
	}
	designs, err := e.resolveDesigns(ctx, designIDs)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(name) == "" {
		name = designs[0].DisplayTitle()
	}
	family, err := e.store.InsertFamily(ctx, &catalog.Family{
		CanonicalName:       name,
		DetectionMethod:     catalog.DetectionManual,
		DetectionConfidence: 1.0,
	})
	if err != nil {
		return nil, err
	}
	if err := e.assign(ctx, family, designs); err != nil {
		return nil, err
	}
	return family, nil
}

// Dissolve clears the family back-reference on every member and removes the
// family record. Designs are never deleted or altered beyond family_id.
func (e *Engine) Dissolve(ctx context.Context, familyID int64) error {
	if err := e.store.DissolveFamily(ctx, familyID); err != nil {
		return err
	}
	e.logger.Info("dissolved family", logging.Int64("family_id", familyID))
	return nil
}

func (e *Engine) createAndAssign(ctx context.Context, name string, method catalog.DetectionMethod, confidence float64, description string, members []*catalog.Design) (*catalog.Family, error) {
	family, err := e.store.InsertFamily(ctx, &catalog.Family{
		CanonicalName:       name,
		DetectionMethod:     method,
		DetectionConfidence: confidence,
		Description:         description,
	})
	if err != nil {
		return nil, err
	}
	if err := e.assign(ctx, family, members); err != nil {
		return nil, err
	}
	return family, nil
}

func (e *Engine) assign(ctx context.Context, family *catalog.Family, members []*catalog.Design) error {
	for _, design := range members {
		if err := e.store.AssignFamily(ctx, design.ID, family.ID); err != nil {
			return err
		}
	}
	e.logger.Info("grouped designs into family",
		logging.Int64("family_id", family.ID),
		logging.String("name", family.DisplayName()),
		logging.String("method", string(family.DetectionMethod)),
		logging.Int("members", len(members)),
	)
	return nil
}

func (e *Engine) resolveDesigns(ctx context.Context, ids []int64) ([]*catalog.Design, error) {
	designs := make([]*catalog.Design, 0, len(ids))
	for _, id := range ids {
		design, err := e.store.GetDesign(ctx, id)
		if err != nil {
			return nil, err
		}
		if design == nil {
			return nil, services.Wrap(services.ErrNotFound, "family", "group",
				fmt.Sprintf("design %d not found", id), nil)
		}
		designs = append(designs, design)
	}
	return designs, nil
}

func hashJaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for key := range a {
		if _, ok := b[key]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
