package api

import (
	"context"
	"fmt"

	"curio/internal/catalog"
	"curio/internal/config"
	"curio/internal/family"
	"curio/internal/queue"
	"curio/internal/services"
)

// CatalogService exposes design and family operations returning API DTOs.
type CatalogService struct {
	catalog  *catalog.Store
	queues   *queue.Store
	families *family.Engine
	cfg      *config.Config
}

// NewCatalogService constructs a CatalogService.
func NewCatalogService(cat *catalog.Store, queues *queue.Store, families *family.Engine, cfg *config.Config) *CatalogService {
	return &CatalogService{catalog: cat, queues: queues, families: families, cfg: cfg}
}

// ListDesigns returns designs, optionally filtered by status.
func (s *CatalogService) ListDesigns(ctx context.Context, statuses ...catalog.Status) ([]DesignView, error) {
	designs, err := s.catalog.ListDesigns(ctx, statuses...)
	if err != nil {
		return nil, err
	}
	views := make([]DesignView, 0, len(designs))
	for _, design := range designs {
		views = append(views, FromDesign(design, nil))
	}
	return views, nil
}

// DescribeDesign returns one design with its tags and sources.
func (s *CatalogService) DescribeDesign(ctx context.Context, id int64) (*DesignView, []SourceView, error) {
	design, err := s.catalog.GetDesign(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if design == nil {
		return nil, nil, services.Wrap(services.ErrNotFound, "api", "describe",
			fmt.Sprintf("design %d not found", id), nil)
	}
	tags, err := s.catalog.TagsForDesign(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	sources, err := s.catalog.SourcesForDesign(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	view := FromDesign(design, tags)
	sourceViews := make([]SourceView, 0, len(sources))
	for _, src := range sources {
		sourceViews = append(sourceViews, FromSource(src))
	}
	return &view, sourceViews, nil
}

// Want marks a discovered design as wanted and enqueues its download.
// Wanting an already-wanted design is a no-op returning the pending job.
func (s *CatalogService) Want(ctx context.Context, designID int64, priority int) (*JobView, error) {
	design, err := s.catalog.GetDesign(ctx, designID)
	if err != nil {
		return nil, err
	}
	if design == nil {
		return nil, services.Wrap(services.ErrNotFound, "api", "want",
			fmt.Sprintf("design %d not found", designID), nil)
	}

	switch design.Status {
	case catalog.StatusDiscovered:
		if err := s.catalog.SetStatus(ctx, designID, catalog.StatusDiscovered, catalog.StatusWanted); err != nil {
			return nil, err
		}
	case catalog.StatusWanted:
		// Already wanted; fall through to the duplicate-safe enqueue.
	case catalog.StatusFailed:
		if err := s.catalog.SetStatus(ctx, designID, catalog.StatusFailed, catalog.StatusWanted); err != nil {
			return nil, err
		}
	default:
		return nil, services.Wrap(services.ErrConflict, "api", "want",
			fmt.Sprintf("design %d is %s", designID, design.Status), nil)
	}

	job, err := s.queues.Enqueue(ctx, queue.TypeDownloadDesign, designID, queue.EnqueueOptions{
		Priority:    priority,
		MaxAttempts: s.cfg.Retry.MaxAttempts,
	})
	if err != nil {
		return nil, err
	}
	view := FromJob(job)
	return &view, nil
}

// SetOverrides records user title/designer overrides on a design.
func (s *CatalogService) SetOverrides(ctx context.Context, designID int64, title, designer string) error {
	return s.catalog.SetOverrides(ctx, designID, title, designer)
}

// MergeSources re-parents sources onto the target design. Replaying an
// applied merge is a no-op.
func (s *CatalogService) MergeSources(ctx context.Context, targetDesignID int64, sourceIDs ...int64) error {
	return s.catalog.MergeSources(ctx, targetDesignID, sourceIDs...)
}

// SplitSources detaches sources into a new standalone design, returning its
// view. Replaying an applied split returns nil without error.
func (s *CatalogService) SplitSources(ctx context.Context, designID int64, sourceIDs ...int64) (*DesignView, error) {
	created, err := s.catalog.SplitSources(ctx, designID, sourceIDs...)
	if err != nil || created == nil {
		return nil, err
	}
	view := FromDesign(created, nil)
	return &view, nil
}

// ListFamilies returns every family with its aggregated tags and members.
func (s *CatalogService) ListFamilies(ctx context.Context) ([]FamilyView, error) {
	families, err := s.catalog.ListFamilies(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]FamilyView, 0, len(families))
	for _, fam := range families {
		view, err := s.familyView(ctx, fam)
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, nil
}

// DescribeFamily returns one family with members and tag union.
func (s *CatalogService) DescribeFamily(ctx context.Context, id int64) (*FamilyView, error) {
	fam, err := s.catalog.GetFamily(ctx, id)
	if err != nil {
		return nil, err
	}
	if fam == nil {
		return nil, services.Wrap(services.ErrNotFound, "api", "describe",
			fmt.Sprintf("family %d not found", id), nil)
	}
	view, err := s.familyView(ctx, fam)
	if err != nil {
		return nil, err
	}
	return &view, nil
}

// GroupFamily forms a manual family from the given designs.
func (s *CatalogService) GroupFamily(ctx context.Context, name string, designIDs ...int64) (*FamilyView, error) {
	fam, err := s.families.GroupManually(ctx, name, designIDs...)
	if err != nil {
		return nil, err
	}
	view, err := s.familyView(ctx, fam)
	if err != nil {
		return nil, err
	}
	return &view, nil
}

// DissolveFamily clears the grouping; member designs are untouched.
func (s *CatalogService) DissolveFamily(ctx context.Context, id int64) error {
	return s.families.Dissolve(ctx, id)
}

func (s *CatalogService) familyView(ctx context.Context, fam *catalog.Family) (FamilyView, error) {
	view := FamilyView{
		ID:         fam.ID,
		Name:       fam.DisplayName(),
		Method:     string(fam.DetectionMethod),
		Confidence: fam.DetectionConfidence,
	}
	tags, err := s.catalog.FamilyTags(ctx, fam.ID)
	if err != nil {
		return view, err
	}
	view.Tags = tags
	members, err := s.catalog.FamilyMembers(ctx, fam.ID)
	if err != nil {
		return view, err
	}
	for _, member := range members {
		view.Members = append(view.Members, FromDesign(member, nil))
	}
	return view, nil
}
