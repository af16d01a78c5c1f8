package preview_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"curio/internal/catalog"
	"curio/internal/config"
	"curio/internal/queue"
	"curio/internal/services"
	"curio/internal/testsupport"
	"curio/internal/workers/preview"
)

type fixture struct {
	cfg     *config.Config
	queues  *queue.Store
	catalog *catalog.Store
	worker  *preview.Worker
}

func newFixture(t *testing.T, renderer preview.Renderer) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	queues, cat := testsupport.MustOpenStores(t, cfg)
	return &fixture{
		cfg:     cfg,
		queues:  queues,
		catalog: cat,
		worker:  preview.New(queues, cat, cfg, renderer, nil),
	}
}

// organizedDesign seeds a design with a populated library folder.
func (f *fixture) organizedDesign(t *testing.T, files map[string]int64) *catalog.Design {
	t.Helper()
	ctx := context.Background()

	design := testsupport.NewDesign(t, f.catalog, "Benchy", "Maker")
	design.LibraryPath = filepath.Join(f.cfg.Paths.LibraryDir, "Maker", "Benchy")
	if err := f.catalog.UpdateDesign(ctx, design); err != nil {
		t.Fatalf("UpdateDesign: %v", err)
	}
	for rel, size := range files {
		testsupport.WriteFile(t, filepath.Join(design.LibraryPath, rel), size)
	}
	return design
}

func (f *fixture) claim(t *testing.T, designID int64) *queue.Job {
	t.Helper()
	ctx := context.Background()
	if _, err := f.queues.Enqueue(ctx, queue.TypeGeneratePreview, designID, queue.EnqueueOptions{}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	job, err := f.queues.ClaimNext(ctx, queue.TypeGeneratePreview, 1)
	if err != nil || job == nil {
		t.Fatalf("ClaimNext: job=%v err=%v", job, err)
	}
	return job
}

func execute(t *testing.T, f *fixture, job *queue.Job) preview.Result {
	t.Helper()
	resultJSON, err := f.worker.Execute(context.Background(), job)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	var result preview.Result
	if err := json.Unmarshal([]byte(resultJSON), &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	return result
}

func TestExecutePrefersBundledPreviewImage(t *testing.T) {
	f := newFixture(t, nil)

	design := f.organizedDesign(t, map[string]int64{
		"model.stl":  4096,
		"benchy.png": 256,
	})
	job := f.claim(t, design.ID)
	result := execute(t, f, job)

	if filepath.Base(result.SourceFile) != "benchy.png" {
		t.Fatalf("SourceFile = %q, want the bundled image", result.SourceFile)
	}
	want := filepath.Join(f.cfg.Paths.CacheDir, fmt.Sprintf("design-%d.png", design.ID))
	if result.PreviewPath != want {
		t.Fatalf("PreviewPath = %q, want %q", result.PreviewPath, want)
	}

	// CopyRenderer reproduces the source image byte for byte.
	info, err := os.Stat(result.PreviewPath)
	if err != nil {
		t.Fatalf("Stat preview: %v", err)
	}
	if info.Size() != 256 {
		t.Fatalf("preview size = %d, want 256", info.Size())
	}
}

func TestExecuteFallsBackToModelFile(t *testing.T) {
	rendered := ""
	f := newFixture(t, rendererFunc(func(ctx context.Context, src, dest string) error {
		rendered = src
		return os.WriteFile(dest, []byte{0x1}, 0o644)
	}))

	design := f.organizedDesign(t, map[string]int64{
		"model.stl":  4096,
		"readme.txt": 64,
	})
	job := f.claim(t, design.ID)
	result := execute(t, f, job)

	if filepath.Base(rendered) != "model.stl" {
		t.Fatalf("rendered %q, want the model file", rendered)
	}
	if filepath.Ext(result.PreviewPath) != ".stl" {
		t.Fatalf("PreviewPath = %q", result.PreviewPath)
	}
}

func TestExecuteRequiresLibraryPath(t *testing.T) {
	f := newFixture(t, nil)

	design := testsupport.NewDesign(t, f.catalog, "Benchy", "Maker")
	job := f.claim(t, design.ID)

	_, err := f.worker.Execute(context.Background(), job)
	if !errors.Is(err, services.ErrFatal) {
		t.Fatalf("Execute error = %v, want fatal", err)
	}
}

func TestExecuteFailsWithoutCandidates(t *testing.T) {
	f := newFixture(t, nil)

	design := f.organizedDesign(t, map[string]int64{"notes.txt": 16})
	job := f.claim(t, design.ID)

	_, err := f.worker.Execute(context.Background(), job)
	if !errors.Is(err, services.ErrFatal) {
		t.Fatalf("Execute error = %v, want fatal", err)
	}
}

func TestExecuteWrapsRendererFailureAsTransient(t *testing.T) {
	f := newFixture(t, rendererFunc(func(ctx context.Context, src, dest string) error {
		return errors.New("renderer crashed")
	}))

	design := f.organizedDesign(t, map[string]int64{"benchy.png": 256})
	job := f.claim(t, design.ID)

	_, err := f.worker.Execute(context.Background(), job)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("Execute error = %v, want transient", err)
	}
}

type rendererFunc func(ctx context.Context, sourcePath, destPath string) error

func (f rendererFunc) Render(ctx context.Context, sourcePath, destPath string) error {
	return f(ctx, sourcePath, destPath)
}
