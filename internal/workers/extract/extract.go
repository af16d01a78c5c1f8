// Package extract implements the worker that unpacks staged archives. An
// archive extracts all-or-nothing; corruption discards every partially
// written entry instead of leaving an inconsistent subset.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"curio/internal/catalog"
	"curio/internal/config"
	"curio/internal/logging"
	"curio/internal/queue"
	"curio/internal/services"
	"curio/internal/staging"
	"curio/internal/workers"
)

// Result is the structured outcome of an extraction job, including the
// bundle classification the importer relies on.
type Result struct {
	FilesExtracted int  `json:"files_extracted"`
	ModelFiles     int  `json:"model_files"`
	PreviewFiles   int  `json:"preview_files"`
	NestedArchives int  `json:"nested_archives"`
	ValidBundle    bool `json:"valid_bundle"`
}

// Worker unpacks a design's downloaded archives into staging.
type Worker struct {
	queues  *queue.Store
	catalog *catalog.Store
	cfg     *config.Config
	logger  *slog.Logger
}

// New returns an extraction worker.
func New(queues *queue.Store, cat *catalog.Store, cfg *config.Config, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Worker{
		queues:  queues,
		catalog: cat,
		cfg:     cfg,
		logger:  logging.NewComponentLogger(logger, "extract"),
	}
}

func (w *Worker) Type() queue.Type { return queue.TypeExtractArchive }

func (w *Worker) HealthCheck(ctx context.Context) workers.Health {
	if err := staging.EnsureDir(w.cfg.Paths.StagingDir); err != nil {
		return workers.Unhealthy("extract", err.Error())
	}
	return workers.Healthy("extract")
}

// Execute unpacks every archive in the design's download directory into a
// fresh extraction directory, then classifies the tree against the import
// profile.
func (w *Worker) Execute(ctx context.Context, job *queue.Job) (string, error) {
	design, err := w.catalog.GetDesign(ctx, job.DesignID)
	if err != nil {
		return "", err
	}
	if design == nil {
		return "", services.Wrap(services.ErrFatal, "extract", "load",
			fmt.Sprintf("design %d not found", job.DesignID), nil)
	}

	switch design.Status {
	case catalog.StatusDownloaded:
		if err := w.catalog.SetStatus(ctx, design.ID, catalog.StatusDownloaded, catalog.StatusExtracting); err != nil {
			return "", err
		}
	case catalog.StatusExtracting:
		// Retried attempt.
	default:
		return "", services.Wrap(services.ErrValidation, "extract", "start",
			fmt.Sprintf("design %d is %s, not downloaded", design.ID, design.Status), nil)
	}

	downloadDir := staging.DownloadDir(w.cfg.Paths.StagingDir, design.ID)
	archives, err := listArchives(downloadDir)
	if err != nil {
		return "", err
	}
	if len(archives) == 0 {
		return "", services.Wrap(services.ErrFatal, "extract", "scan",
			fmt.Sprintf("no archives in %s", downloadDir), nil)
	}

	destDir := staging.ExtractDir(w.cfg.Paths.StagingDir, design.ID)
	partialDir := destDir + ".partial"

	// A previous attempt may have left either directory behind; extraction
	// always starts from a clean slate.
	if err := os.RemoveAll(partialDir); err != nil {
		return "", fmt.Errorf("clear partial extraction: %w", err)
	}
	if err := os.RemoveAll(destDir); err != nil {
		return "", fmt.Errorf("clear prior extraction: %w", err)
	}
	if err := staging.EnsureDir(partialDir); err != nil {
		return "", err
	}

	unpacker := &unpacker{
		profile: w.cfg.ImportProfile,
		cancelled: func() (bool, error) {
			return w.queues.CancelRequested(ctx, job.ID)
		},
		progress: func(message string) {
			w.queues.ReportProgress(ctx, job.ID, 50, message)
		},
	}

	for i, archive := range archives {
		w.queues.ReportProgress(ctx, job.ID,
			float64(i)/float64(len(archives))*100,
			fmt.Sprintf("Extracting %s", filepath.Base(archive)))
		if err := unpacker.unpack(ctx, archive, partialDir, 0); err != nil {
			os.RemoveAll(partialDir)
			return "", err
		}
	}

	result := classify(partialDir, w.cfg.ImportProfile)
	result.NestedArchives = unpacker.nested

	if err := os.Rename(partialDir, destDir); err != nil {
		os.RemoveAll(partialDir)
		return "", fmt.Errorf("finalize extraction: %w", err)
	}

	if err := w.catalog.SetStatus(ctx, design.ID, catalog.StatusExtracting, catalog.StatusExtracted); err != nil {
		return "", err
	}
	if _, err := w.queues.Enqueue(ctx, queue.TypeImportFiles, design.ID, queue.EnqueueOptions{
		Priority:    job.Priority,
		MaxAttempts: w.cfg.Retry.MaxAttempts,
	}); err != nil {
		return "", err
	}

	w.logger.Info("extraction complete",
		logging.Int64(logging.FieldDesignID, design.ID),
		logging.Int64(logging.FieldJobID, job.ID),
		logging.Int("files", result.FilesExtracted),
		logging.Bool("valid_bundle", result.ValidBundle),
		logging.String(logging.FieldEventType, "extract_complete"),
	)

	payload, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("marshal result: %w", err)
	}
	return string(payload), nil
}

func listArchives(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "extract", "scan", "read download directory", err)
	}
	var archives []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if workers.IsArchive(entry.Name()) {
			archives = append(archives, filepath.Join(dir, entry.Name()))
		}
	}
	return archives, nil
}

// classify checks the extracted tree against the import profile's detection
// rules so the importer knows whether this looks like a valid design bundle.
func classify(root string, profile config.ImportProfile) Result {
	result := Result{}
	filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		result.FilesExtracted++
		switch {
		case profile.IsModelFile(info.Name()):
			result.ModelFiles++
		case profile.IsPreviewFile(info.Name()):
			result.PreviewFiles++
		}
		return nil
	})
	result.ValidBundle = result.ModelFiles >= profile.MinModelFiles
	return result
}
