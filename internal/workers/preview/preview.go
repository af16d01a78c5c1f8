// Package preview implements the worker that produces a thumbnail for an
// organized design. Rendering internals live behind the Renderer interface;
// the worker only picks the candidate and places the output.
package preview

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"curio/internal/catalog"
	"curio/internal/config"
	"curio/internal/logging"
	"curio/internal/queue"
	"curio/internal/services"
	"curio/internal/staging"
	"curio/internal/workers"
)

// Renderer turns one source file into a preview image at destPath.
type Renderer interface {
	Render(ctx context.Context, sourcePath, destPath string) error
}

// CopyRenderer uses an existing preview image verbatim. It is the default
// when no real renderer is wired in.
type CopyRenderer struct{}

func (CopyRenderer) Render(ctx context.Context, sourcePath, destPath string) error {
	in, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("open preview source: %w", err)
	}
	defer in.Close()
	out, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create preview: %w", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy preview: %w", err)
	}
	return nil
}

// Result is the structured outcome of a preview job.
type Result struct {
	PreviewPath string `json:"preview_path"`
	SourceFile  string `json:"source_file"`
}

// Worker generates preview images into the cache directory.
type Worker struct {
	queues   *queue.Store
	catalog  *catalog.Store
	cfg      *config.Config
	renderer Renderer
	logger   *slog.Logger
}

// New returns a preview worker. A nil renderer falls back to CopyRenderer.
func New(queues *queue.Store, cat *catalog.Store, cfg *config.Config, renderer Renderer, logger *slog.Logger) *Worker {
	if renderer == nil {
		renderer = CopyRenderer{}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Worker{
		queues:   queues,
		catalog:  cat,
		cfg:      cfg,
		renderer: renderer,
		logger:   logging.NewComponentLogger(logger, "preview"),
	}
}

func (w *Worker) Type() queue.Type { return queue.TypeGeneratePreview }

func (w *Worker) HealthCheck(ctx context.Context) workers.Health {
	if err := staging.EnsureDir(w.cfg.Paths.CacheDir); err != nil {
		return workers.Unhealthy("preview", err.Error())
	}
	return workers.Healthy("preview")
}

// Execute picks the best preview candidate from the design's library folder
// and renders it into the cache. Preview generation never changes the
// design's status; organized is terminal.
func (w *Worker) Execute(ctx context.Context, job *queue.Job) (string, error) {
	design, err := w.catalog.GetDesign(ctx, job.DesignID)
	if err != nil {
		return "", err
	}
	if design == nil {
		return "", services.Wrap(services.ErrFatal, "preview", "load",
			fmt.Sprintf("design %d not found", job.DesignID), nil)
	}
	if design.LibraryPath == "" {
		return "", services.Wrap(services.ErrFatal, "preview", "load",
			fmt.Sprintf("design %d has no library path", design.ID), nil)
	}

	candidate, err := w.pickCandidate(design.LibraryPath)
	if err != nil {
		return "", err
	}

	if err := staging.EnsureDir(w.cfg.Paths.CacheDir); err != nil {
		return "", err
	}
	destPath := filepath.Join(w.cfg.Paths.CacheDir, fmt.Sprintf("design-%d%s", design.ID, filepath.Ext(candidate)))

	w.queues.ReportProgress(ctx, job.ID, 50, fmt.Sprintf("Rendering %s", filepath.Base(candidate)))
	if err := w.renderer.Render(ctx, candidate, destPath); err != nil {
		return "", services.Wrap(services.ErrTransient, "preview", "render", "render preview", err)
	}

	w.logger.Info("preview generated",
		logging.Int64(logging.FieldDesignID, design.ID),
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String("preview", destPath),
		logging.String(logging.FieldEventType, "preview_complete"),
	)

	payload, err := json.Marshal(Result{PreviewPath: destPath, SourceFile: candidate})
	if err != nil {
		return "", fmt.Errorf("marshal result: %w", err)
	}
	return string(payload), nil
}

// pickCandidate prefers a bundled preview image, falling back to the first
// model file for renderers that can rasterize geometry.
func (w *Worker) pickCandidate(root string) (string, error) {
	var previews, models []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		switch {
		case w.cfg.ImportProfile.IsPreviewFile(info.Name()):
			previews = append(previews, path)
		case w.cfg.ImportProfile.IsModelFile(info.Name()):
			models = append(models, path)
		}
		return nil
	})
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "preview", "scan", "walk library folder", err)
	}
	sort.Strings(previews)
	sort.Strings(models)
	if len(previews) > 0 {
		return previews[0], nil
	}
	if len(models) > 0 {
		return models[0], nil
	}
	return "", services.Wrap(services.ErrFatal, "preview", "scan",
		fmt.Sprintf("no preview candidate under %s", root), nil)
}
