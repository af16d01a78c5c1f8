package extract_test

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"curio/internal/catalog"
	"curio/internal/config"
	"curio/internal/queue"
	"curio/internal/services"
	"curio/internal/staging"
	"curio/internal/testsupport"
	"curio/internal/workers/extract"
)

type fixture struct {
	cfg     *config.Config
	queues  *queue.Store
	catalog *catalog.Store
	worker  *extract.Worker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	queues, cat := testsupport.MustOpenStores(t, cfg)
	return &fixture{
		cfg:     cfg,
		queues:  queues,
		catalog: cat,
		worker:  extract.New(queues, cat, cfg, nil),
	}
}

// downloadedDesign seeds a design in downloaded status with a staged zip.
func (f *fixture) downloadedDesign(t *testing.T, entries map[string][]byte) *catalog.Design {
	t.Helper()
	ctx := context.Background()

	design := testsupport.NewDesign(t, f.catalog, "Benchy", "Maker")
	for _, step := range []struct{ from, to catalog.Status }{
		{catalog.StatusDiscovered, catalog.StatusWanted},
		{catalog.StatusWanted, catalog.StatusDownloading},
		{catalog.StatusDownloading, catalog.StatusDownloaded},
	} {
		if err := f.catalog.SetStatus(ctx, design.ID, step.from, step.to); err != nil {
			t.Fatalf("SetStatus %s -> %s: %v", step.from, step.to, err)
		}
	}

	archive := filepath.Join(staging.DownloadDir(f.cfg.Paths.StagingDir, design.ID), "bundle.zip")
	testsupport.WriteZip(t, archive, entries)
	return design
}

func (f *fixture) claim(t *testing.T, designID int64) *queue.Job {
	t.Helper()
	ctx := context.Background()
	if _, err := f.queues.Enqueue(ctx, queue.TypeExtractArchive, designID, queue.EnqueueOptions{}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	job, err := f.queues.ClaimNext(ctx, queue.TypeExtractArchive, 1)
	if err != nil || job == nil {
		t.Fatalf("ClaimNext: job=%v err=%v", job, err)
	}
	return job
}

func execute(t *testing.T, f *fixture, job *queue.Job) extract.Result {
	t.Helper()
	resultJSON, err := f.worker.Execute(context.Background(), job)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	var result extract.Result
	if err := json.Unmarshal([]byte(resultJSON), &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	return result
}

func TestExecuteExtractsAndClassifies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	design := f.downloadedDesign(t, map[string][]byte{
		"model/benchy.stl": []byte("solid benchy"),
		"model/hull.stl":   []byte("solid hull"),
		"preview.png":      []byte("png bytes"),
		"readme.txt":       []byte("hello"),
	})
	job := f.claim(t, design.ID)
	result := execute(t, f, job)

	if result.FilesExtracted != 4 {
		t.Fatalf("expected 4 files extracted, got %d", result.FilesExtracted)
	}
	if result.ModelFiles != 2 || result.PreviewFiles != 1 {
		t.Fatalf("unexpected classification %#v", result)
	}
	if !result.ValidBundle {
		t.Fatal("expected a valid bundle")
	}

	extractDir := staging.ExtractDir(f.cfg.Paths.StagingDir, design.ID)
	if _, err := os.Stat(filepath.Join(extractDir, "model", "benchy.stl")); err != nil {
		t.Fatalf("expected extracted file: %v", err)
	}

	refreshed, err := f.catalog.GetDesign(ctx, design.ID)
	if err != nil {
		t.Fatalf("GetDesign: %v", err)
	}
	if refreshed.Status != catalog.StatusExtracted {
		t.Fatalf("expected extracted, got %s", refreshed.Status)
	}

	next, err := f.queues.List(ctx, queue.ListFilter{Type: queue.TypeImportFiles})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(next) != 1 {
		t.Fatalf("expected one chained import job, got %d", len(next))
	}
}

func TestExecuteSkipsIgnoredEntries(t *testing.T) {
	f := newFixture(t)

	design := f.downloadedDesign(t, map[string][]byte{
		"benchy.stl":           []byte("solid benchy"),
		"__MACOSX/._junk":      []byte("resource fork"),
		"scratch.tmp":          []byte("temp"),
		"sub/Thumbs.db":        []byte("thumbs"),
		"sub/another_part.stl": []byte("solid part"),
	})
	job := f.claim(t, design.ID)
	result := execute(t, f, job)

	if result.FilesExtracted != 2 || result.ModelFiles != 2 {
		t.Fatalf("expected only model files to survive filtering, got %#v", result)
	}
	extractDir := staging.ExtractDir(f.cfg.Paths.StagingDir, design.ID)
	if _, err := os.Stat(filepath.Join(extractDir, "__MACOSX")); !os.IsNotExist(err) {
		t.Fatal("expected ignored directory to be skipped")
	}
}

func TestExecuteUnpacksNestedArchives(t *testing.T) {
	f := newFixture(t)

	var inner bytes.Buffer
	zw := zip.NewWriter(&inner)
	entry, err := zw.Create("inner_model.stl")
	if err != nil {
		t.Fatalf("create inner entry: %v", err)
	}
	if _, err := entry.Write([]byte("solid inner")); err != nil {
		t.Fatalf("write inner entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close inner zip: %v", err)
	}

	design := f.downloadedDesign(t, map[string][]byte{
		"outer.stl": []byte("solid outer"),
		"more.zip":  inner.Bytes(),
	})
	job := f.claim(t, design.ID)
	result := execute(t, f, job)

	if result.NestedArchives != 1 {
		t.Fatalf("expected one nested archive, got %d", result.NestedArchives)
	}
	if result.ModelFiles != 2 {
		t.Fatalf("expected both model files found, got %d", result.ModelFiles)
	}
	extractDir := staging.ExtractDir(f.cfg.Paths.StagingDir, design.ID)
	if _, err := os.Stat(filepath.Join(extractDir, "more", "inner_model.stl")); err != nil {
		t.Fatalf("expected nested content under archive-named directory: %v", err)
	}
	// The consumed nested archive itself is gone.
	if _, err := os.Stat(filepath.Join(extractDir, "more.zip")); !os.IsNotExist(err) {
		t.Fatal("expected nested archive removed after unpacking")
	}
}

func TestExecuteCorruptArchiveLeavesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	design := testsupport.NewDesign(t, f.catalog, "Broken", "Maker")
	for _, step := range []struct{ from, to catalog.Status }{
		{catalog.StatusDiscovered, catalog.StatusWanted},
		{catalog.StatusWanted, catalog.StatusDownloading},
		{catalog.StatusDownloading, catalog.StatusDownloaded},
	} {
		if err := f.catalog.SetStatus(ctx, design.ID, step.from, step.to); err != nil {
			t.Fatalf("SetStatus: %v", err)
		}
	}
	archive := filepath.Join(staging.DownloadDir(f.cfg.Paths.StagingDir, design.ID), "bundle.zip")
	testsupport.WriteFile(t, archive, 64) // not a zip

	job := f.claim(t, design.ID)
	_, err := f.worker.Execute(ctx, job)
	if err == nil {
		t.Fatal("expected corrupt archive to fail")
	}
	if services.Retryable(err) {
		t.Fatalf("corruption is fatal, got retryable %v", err)
	}

	extractDir := staging.ExtractDir(f.cfg.Paths.StagingDir, design.ID)
	if _, statErr := os.Stat(extractDir); !os.IsNotExist(statErr) {
		t.Fatal("expected no extraction directory after failure")
	}
	if _, statErr := os.Stat(extractDir + ".partial"); !os.IsNotExist(statErr) {
		t.Fatal("expected partial directory cleaned up after failure")
	}
}

func TestExecuteRejectsEntryEscapingDestination(t *testing.T) {
	f := newFixture(t)

	design := f.downloadedDesign(t, map[string][]byte{
		"../escape.stl": []byte("solid escape"),
	})
	job := f.claim(t, design.ID)

	_, err := f.worker.Execute(context.Background(), job)
	if err == nil {
		t.Fatal("expected traversal entry to fail extraction")
	}
	if services.Retryable(err) {
		t.Fatalf("traversal is fatal, got retryable %v", err)
	}

	escaped := filepath.Join(staging.Root(f.cfg.Paths.StagingDir, design.ID), "escape.stl")
	if _, statErr := os.Stat(escaped); !os.IsNotExist(statErr) {
		t.Fatal("expected no file written outside the destination")
	}
}

func TestExecuteEmptyBundleIsInvalid(t *testing.T) {
	f := newFixture(t)

	design := f.downloadedDesign(t, map[string][]byte{
		"readme.txt": []byte("no models here"),
	})
	job := f.claim(t, design.ID)
	result := execute(t, f, job)

	if result.ValidBundle {
		t.Fatal("expected a bundle without model files to be invalid")
	}
}
