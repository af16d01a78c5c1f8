// Package importer implements the worker that moves a design's staged files
// into their final home under the library root.
package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"curio/internal/catalog"
	"curio/internal/config"
	"curio/internal/logging"
	"curio/internal/queue"
	"curio/internal/services"
	"curio/internal/staging"
	"curio/internal/workers"
)

// Result is the structured outcome of an import job.
type Result struct {
	FilesImported int    `json:"files_imported"`
	Bytes         int64  `json:"bytes"`
	LibraryPath   string `json:"library_path"`
}

// Worker places staged files under the library root.
type Worker struct {
	queues  *queue.Store
	catalog *catalog.Store
	cfg     *config.Config
	logger  *slog.Logger
}

// New returns an import worker.
func New(queues *queue.Store, cat *catalog.Store, cfg *config.Config, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Worker{
		queues:  queues,
		catalog: cat,
		cfg:     cfg,
		logger:  logging.NewComponentLogger(logger, "import"),
	}
}

func (w *Worker) Type() queue.Type { return queue.TypeImportFiles }

func (w *Worker) HealthCheck(ctx context.Context) workers.Health {
	if err := staging.EnsureDir(w.cfg.Paths.LibraryDir); err != nil {
		return workers.Unhealthy("import", err.Error())
	}
	return workers.Healthy("import")
}

// Execute copies the staged tree into a template-resolved library folder.
// The copy lands in a hidden work directory first and is renamed into place,
// so a mid-copy failure leaves both staging and the library untouched.
func (w *Worker) Execute(ctx context.Context, job *queue.Job) (string, error) {
	design, err := w.catalog.GetDesign(ctx, job.DesignID)
	if err != nil {
		return "", err
	}
	if design == nil {
		return "", services.Wrap(services.ErrFatal, "import", "load",
			fmt.Sprintf("design %d not found", job.DesignID), nil)
	}

	cameFromExtracted := design.Status == catalog.StatusExtracted
	switch design.Status {
	case catalog.StatusExtracted, catalog.StatusDownloaded:
		if err := w.catalog.SetStatus(ctx, design.ID, design.Status, catalog.StatusImporting); err != nil {
			return "", err
		}
	case catalog.StatusImporting:
		// Retried attempt.
	default:
		return "", services.Wrap(services.ErrValidation, "import", "start",
			fmt.Sprintf("design %d is %s, not ready for import", design.ID, design.Status), nil)
	}

	sourceDir, err := w.stagedDir(design.ID)
	if err != nil {
		return "", err
	}

	files, err := w.collectFiles(sourceDir)
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", services.Wrap(services.ErrFatal, "import", "scan",
			fmt.Sprintf("nothing to import from %s", sourceDir), nil)
	}
	if err := w.validateBundle(files); err != nil {
		return "", err
	}

	vars := Variables{
		Designer: design.DisplayDesigner(),
		Title:    design.DisplayTitle(),
		Date:     design.CreatedAt,
	}
	if src, err := w.preferredSource(ctx, design.ID); err == nil && src != nil {
		vars.Channel = src.Channel
	}
	relPath := ResolveTemplate(w.cfg.Naming, vars)

	destDir, workDir, err := w.prepareDestination(relPath)
	if err != nil {
		return "", err
	}

	result := Result{LibraryPath: destDir}
	for i, file := range files {
		cancelled, err := w.queues.CancelRequested(ctx, job.ID)
		if err != nil {
			os.RemoveAll(workDir)
			return "", err
		}
		if cancelled {
			os.RemoveAll(workDir)
			return "", workers.ErrCancelled
		}

		copied, err := copyFile(file.absPath, filepath.Join(workDir, file.relPath))
		if err != nil {
			os.RemoveAll(workDir)
			return "", err
		}
		result.FilesImported++
		result.Bytes += copied

		w.queues.ReportProgress(ctx, job.ID,
			float64(i+1)/float64(len(files))*100,
			fmt.Sprintf("Importing %s", file.relPath))
	}

	if err := os.Rename(workDir, destDir); err != nil {
		os.RemoveAll(workDir)
		return "", classifyWriteError(err)
	}

	design.TotalSizeBytes = result.Bytes
	design.PrimaryFileTypes = primaryFileTypes(files)
	design.LibraryPath = destDir
	if err := w.catalog.UpdateDesign(ctx, design); err != nil {
		return "", err
	}
	if err := w.catalog.SetStatus(ctx, design.ID, catalog.StatusImporting, catalog.StatusOrganized); err != nil {
		return "", err
	}
	if err := staging.Remove(w.cfg.Paths.StagingDir, design.ID); err != nil {
		w.logger.Warn("failed to clear staging after import",
			logging.Int64(logging.FieldDesignID, design.ID),
			logging.Error(err),
		)
	}
	if _, err := w.queues.Enqueue(ctx, queue.TypeGeneratePreview, design.ID, queue.EnqueueOptions{
		Priority:    job.Priority,
		MaxAttempts: w.cfg.Retry.MaxAttempts,
	}); err != nil {
		return "", err
	}

	w.logger.Info("import complete",
		logging.Int64(logging.FieldDesignID, design.ID),
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String("library_path", destDir),
		logging.Int("files", result.FilesImported),
		logging.Bool("from_extracted", cameFromExtracted),
		logging.String(logging.FieldEventType, "import_complete"),
	)

	payload, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("marshal result: %w", err)
	}
	return string(payload), nil
}

// stagedDir prefers the extraction output; non-archive content imports the
// raw downloads directly.
func (w *Worker) stagedDir(designID int64) (string, error) {
	extractDir := staging.ExtractDir(w.cfg.Paths.StagingDir, designID)
	if info, err := os.Stat(extractDir); err == nil && info.IsDir() {
		return extractDir, nil
	}
	downloadDir := staging.DownloadDir(w.cfg.Paths.StagingDir, designID)
	if info, err := os.Stat(downloadDir); err == nil && info.IsDir() {
		return downloadDir, nil
	}
	return "", services.Wrap(services.ErrFatal, "import", "scan",
		fmt.Sprintf("no staged files for design %d", designID), nil)
}

type stagedFile struct {
	absPath string
	relPath string
	size    int64
}

func (w *Worker) collectFiles(root string) ([]stagedFile, error) {
	var files []stagedFile
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if strings.HasSuffix(info.Name(), ".partial") || w.cfg.ImportProfile.ShouldIgnore(rel) {
			return nil
		}
		files = append(files, stagedFile{absPath: path, relPath: rel, size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "import", "scan", "walk staged files", err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].relPath < files[j].relPath })
	return files, nil
}

func (w *Worker) validateBundle(files []stagedFile) error {
	models := 0
	for _, file := range files {
		if w.cfg.ImportProfile.IsModelFile(file.relPath) {
			models++
		}
	}
	if models < w.cfg.ImportProfile.MinModelFiles {
		return services.Wrap(services.ErrValidation, "import", "validate",
			fmt.Sprintf("bundle has %d model files, profile requires %d", models, w.cfg.ImportProfile.MinModelFiles), nil)
	}
	return nil
}

// prepareDestination picks the final library folder, suffixing "(2)", "(3)"
// and so on when the resolved path is already taken, and creates the hidden
// work directory the copy lands in first.
func (w *Worker) prepareDestination(relPath string) (destDir, workDir string, err error) {
	base := filepath.Join(w.cfg.Paths.LibraryDir, relPath)
	destDir = base
	for n := 2; ; n++ {
		if _, err := os.Stat(destDir); os.IsNotExist(err) {
			break
		}
		destDir = fmt.Sprintf("%s (%d)", base, n)
	}
	workDir = filepath.Join(filepath.Dir(destDir), "."+filepath.Base(destDir)+".importing")
	if err := os.RemoveAll(workDir); err != nil {
		return "", "", classifyWriteError(err)
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return "", "", classifyWriteError(err)
	}
	return destDir, workDir, nil
}

func primaryFileTypes(files []stagedFile) []string {
	seen := make(map[string]struct{})
	var types []string
	for _, file := range files {
		ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(file.relPath)), ".")
		if ext == "" {
			continue
		}
		if _, ok := seen[ext]; ok {
			continue
		}
		seen[ext] = struct{}{}
		types = append(types, ext)
	}
	sort.Strings(types)
	return types
}

func (w *Worker) preferredSource(ctx context.Context, designID int64) (*catalog.Source, error) {
	sources, err := w.catalog.SourcesForDesign(ctx, designID)
	if err != nil {
		return nil, err
	}
	for _, src := range sources {
		if src.IsPreferred {
			return src, nil
		}
	}
	if len(sources) > 0 {
		return sources[0], nil
	}
	return nil, nil
}

func copyFile(src, dest string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, classifyWriteError(err)
	}
	in, err := os.Open(src)
	if err != nil {
		return 0, services.Wrap(services.ErrTransient, "import", "copy", "open staged file", err)
	}
	defer in.Close()
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, classifyWriteError(err)
	}
	defer out.Close()
	copied, err := io.Copy(out, in)
	if err != nil {
		return copied, classifyWriteError(err)
	}
	if err := out.Sync(); err != nil {
		return copied, classifyWriteError(err)
	}
	return copied, nil
}

func classifyWriteError(err error) error {
	if errors.Is(err, syscall.ENOSPC) || errors.Is(err, os.ErrPermission) {
		return services.Wrap(services.ErrFatal, "import", "write", "library write failed", err)
	}
	return services.Wrap(services.ErrTransient, "import", "write", "library write failed", err)
}
