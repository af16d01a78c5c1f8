package dedup_test

import (
	"context"
	"testing"

	"curio/internal/catalog"
	"curio/internal/dedup"
	"curio/internal/source"
	"curio/internal/testsupport"
)

func newEngine(t *testing.T) (*dedup.Engine, *catalog.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	_, cat := testsupport.MustOpenStores(t, cfg)
	return dedup.NewEngine(cat, cfg.Dedup, nil), cat
}

func item(ref, title string, files ...source.FileInfo) source.Item {
	return source.Item{SourceRef: ref, Title: title, Designer: "Maker", Files: files}
}

func TestIngestCreatesDesignForNewContent(t *testing.T) {
	engine, cat := newEngine(t)
	ctx := context.Background()

	decision, err := engine.Ingest(ctx, "web", item("post-1", "Benchy",
		source.FileInfo{Name: "benchy.stl", Size: 1000, SHA256: "AAA111"},
	))
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if decision.Outcome != dedup.OutcomeCreated {
		t.Fatalf("expected created, got %s", decision.Outcome)
	}

	design, err := cat.GetDesign(ctx, decision.DesignID)
	if err != nil {
		t.Fatalf("GetDesign: %v", err)
	}
	if design.CanonicalTitle != "Benchy" || design.Status != catalog.StatusDiscovered {
		t.Fatalf("unexpected design %#v", design)
	}
}

func TestIngestSameRefIsIdempotent(t *testing.T) {
	engine, _ := newEngine(t)
	ctx := context.Background()

	first, err := engine.Ingest(ctx, "web", item("post-1", "Benchy",
		source.FileInfo{Name: "benchy.stl", Size: 1000, SHA256: "aaa"},
	))
	if err != nil {
		t.Fatalf("first Ingest: %v", err)
	}
	second, err := engine.Ingest(ctx, "web", item("post-1", "Benchy Renamed"))
	if err != nil {
		t.Fatalf("second Ingest: %v", err)
	}
	if second.Outcome != dedup.OutcomeExisting {
		t.Fatalf("expected existing, got %s", second.Outcome)
	}
	if second.DesignID != first.DesignID || second.SourceID != first.SourceID {
		t.Fatalf("expected original placement, got %#v", second)
	}
}

func TestIngestMergesOnSharedFileHash(t *testing.T) {
	engine, cat := newEngine(t)
	ctx := context.Background()

	first, err := engine.Ingest(ctx, "web", item("post-1", "Benchy",
		source.FileInfo{Name: "benchy.stl", Size: 1000, SHA256: "AAA111"},
	))
	if err != nil {
		t.Fatalf("first Ingest: %v", err)
	}

	// Different name, different channel, same content hash.
	merged, err := engine.Ingest(ctx, "forum", item("thread-9", "Boat Thing",
		source.FileInfo{Name: "boat_thing.stl", Size: 1000, SHA256: "aaa111"},
	))
	if err != nil {
		t.Fatalf("merge Ingest: %v", err)
	}
	if merged.Outcome != dedup.OutcomeMerged {
		t.Fatalf("expected merged, got %s", merged.Outcome)
	}
	if merged.DesignID != first.DesignID {
		t.Fatalf("expected attach to design %d, got %d", first.DesignID, merged.DesignID)
	}
	if merged.Confidence != 1.0 {
		t.Fatalf("hash matches are certain, got confidence %f", merged.Confidence)
	}

	sources, err := cat.SourcesForDesign(ctx, first.DesignID)
	if err != nil {
		t.Fatalf("SourcesForDesign: %v", err)
	}
	if len(sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(sources))
	}
}

func TestIngestMergesOnFilenameSimilarity(t *testing.T) {
	engine, _ := newEngine(t)
	ctx := context.Background()

	first, err := engine.Ingest(ctx, "web", item("post-1", "Dragon",
		source.FileInfo{Name: "dragon_head.stl", Size: 500, SHA256: "aaa"},
		source.FileInfo{Name: "dragon_body.stl", Size: 500, SHA256: "bbb"},
	))
	if err != nil {
		t.Fatalf("first Ingest: %v", err)
	}

	// No shared hashes, but identical normalized filenames and near-equal
	// size clear both fallback gates.
	merged, err := engine.Ingest(ctx, "forum", item("thread-1", "Dragon Repost",
		source.FileInfo{Name: "Dragon Head.STL", Size: 505, SHA256: "ccc"},
		source.FileInfo{Name: "Dragon Body.STL", Size: 500, SHA256: "ddd"},
	))
	if err != nil {
		t.Fatalf("merge Ingest: %v", err)
	}
	if merged.Outcome != dedup.OutcomeMerged {
		t.Fatalf("expected merged, got %s (%s)", merged.Outcome, merged.Reason)
	}
	if merged.DesignID != first.DesignID {
		t.Fatalf("expected attach to design %d, got %d", first.DesignID, merged.DesignID)
	}
}

func TestIngestFlagsNearMissForReview(t *testing.T) {
	engine, cat := newEngine(t)
	ctx := context.Background()

	first, err := engine.Ingest(ctx, "web", item("post-1", "Dragon",
		source.FileInfo{Name: "dragon_head.stl", Size: 1000, SHA256: "aaa"},
		source.FileInfo{Name: "dragon_body.stl", Size: 1000, SHA256: "bbb"},
	))
	if err != nil {
		t.Fatalf("first Ingest: %v", err)
	}

	// Identical filenames but wildly different size: the similarity gate
	// passes while the size gate fails, so this lands in review.
	review, err := engine.Ingest(ctx, "forum", item("thread-1", "Dragon HD",
		source.FileInfo{Name: "dragon_head.stl", Size: 90000, SHA256: "ccc"},
		source.FileInfo{Name: "dragon_body.stl", Size: 90000, SHA256: "ddd"},
	))
	if err != nil {
		t.Fatalf("review Ingest: %v", err)
	}
	if review.Outcome != dedup.OutcomeReview {
		t.Fatalf("expected review, got %s (%s)", review.Outcome, review.Reason)
	}
	if review.DesignID == first.DesignID {
		t.Fatal("review outcome must create a separate design")
	}

	tags, err := cat.TagsForDesign(ctx, review.DesignID)
	if err != nil {
		t.Fatalf("TagsForDesign: %v", err)
	}
	found := false
	for _, tag := range tags {
		if tag == dedup.TagNeedsReview {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected %q tag, got %v", dedup.TagNeedsReview, tags)
	}
}

func TestIngestRequiresChannelAndRef(t *testing.T) {
	engine, _ := newEngine(t)

	if _, err := engine.Ingest(context.Background(), "", item("post-1", "X")); err == nil {
		t.Fatal("expected error for missing channel")
	}
	if _, err := engine.Ingest(context.Background(), "web", item("", "X")); err == nil {
		t.Fatal("expected error for missing source ref")
	}
}
