// Package download implements the worker that fetches a design's files from
// its preferred source into staging, with byte-offset resume across
// attempts.
package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"

	"curio/internal/catalog"
	"curio/internal/config"
	"curio/internal/logging"
	"curio/internal/queue"
	"curio/internal/services"
	"curio/internal/source"
	"curio/internal/staging"
	"curio/internal/textutil"
	"curio/internal/workers"
)

const defaultChunkBytes = 1 << 20

// Result is the structured outcome recorded on a successful download job.
type Result struct {
	Files            int    `json:"files"`
	BytesTransferred int64  `json:"bytes_transferred"`
	BytesResumed     int64  `json:"bytes_resumed"`
	NextJob          string `json:"next_job"`
}

// Worker downloads a design's files into its staging root.
type Worker struct {
	queues   *queue.Store
	catalog  *catalog.Store
	channels *source.Registry
	cfg      *config.Config
	logger   *slog.Logger
}

// New returns a download worker.
func New(queues *queue.Store, cat *catalog.Store, channels *source.Registry, cfg *config.Config, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Worker{
		queues:   queues,
		catalog:  cat,
		channels: channels,
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "download"),
	}
}

func (w *Worker) Type() queue.Type { return queue.TypeDownloadDesign }

// HealthCheck verifies the staging root is writable.
func (w *Worker) HealthCheck(ctx context.Context) workers.Health {
	if err := staging.EnsureDir(w.cfg.Paths.StagingDir); err != nil {
		return workers.Unhealthy("download", err.Error())
	}
	return workers.Healthy("download")
}

// Execute fetches every file of the design's preferred source. Partial files
// from earlier attempts are resumed at their last written offset rather than
// restarted.
func (w *Worker) Execute(ctx context.Context, job *queue.Job) (string, error) {
	design, err := w.catalog.GetDesign(ctx, job.DesignID)
	if err != nil {
		return "", err
	}
	if design == nil {
		return "", services.Wrap(services.ErrFatal, "download", "load",
			fmt.Sprintf("design %d not found", job.DesignID), nil)
	}

	switch design.Status {
	case catalog.StatusWanted:
		if err := w.catalog.SetStatus(ctx, design.ID, catalog.StatusWanted, catalog.StatusDownloading); err != nil {
			return "", err
		}
	case catalog.StatusDownloading:
		// Retried attempt; the design is already mid-download.
	default:
		return "", services.Wrap(services.ErrValidation, "download", "start",
			fmt.Sprintf("design %d is %s, not wanted", design.ID, design.Status), nil)
	}

	src, err := w.preferredSource(ctx, design.ID)
	if err != nil {
		return "", err
	}
	channel, err := w.channels.Lookup(src.Channel)
	if err != nil {
		return "", err
	}

	destDir := staging.DownloadDir(w.cfg.Paths.StagingDir, design.ID)
	if err := staging.EnsureDir(destDir); err != nil {
		return "", classifyWriteError(err)
	}

	handles := make([]source.FetchHandle, 0, len(src.FileNames))
	var totalBytes int64
	for _, name := range src.FileNames {
		handle, err := channel.Open(ctx, src.SourceRef, name)
		if err != nil {
			return "", err
		}
		handles = append(handles, handle)
		totalBytes += handle.Size()
	}

	result := Result{Files: len(handles)}
	var doneBytes int64
	for _, handle := range handles {
		transferred, resumed, err := w.downloadFile(ctx, job, handle, destDir, totalBytes, &doneBytes)
		result.BytesTransferred += transferred
		result.BytesResumed += resumed
		if err != nil {
			return "", err
		}
	}

	if err := w.catalog.SetStatus(ctx, design.ID, catalog.StatusDownloading, catalog.StatusDownloaded); err != nil {
		return "", err
	}

	nextType := queue.TypeImportFiles
	if workers.AnyArchive(src.FileNames) {
		nextType = queue.TypeExtractArchive
	}
	if _, err := w.queues.Enqueue(ctx, nextType, design.ID, queue.EnqueueOptions{
		Priority:    job.Priority,
		MaxAttempts: w.cfg.Retry.MaxAttempts,
	}); err != nil {
		return "", err
	}
	result.NextJob = string(nextType)

	w.logger.Info("download complete",
		logging.Int64(logging.FieldDesignID, design.ID),
		logging.Int64(logging.FieldJobID, job.ID),
		logging.Int("files", result.Files),
		logging.String("bytes", humanize.Bytes(uint64(result.BytesTransferred))),
		logging.String(logging.FieldEventType, "download_complete"),
	)

	payload, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("marshal result: %w", err)
	}
	return string(payload), nil
}

// downloadFile streams one remote file into staging. It writes to a .partial
// sidecar and renames on verified completion, so the final name only ever
// holds a complete, hash-checked file.
func (w *Worker) downloadFile(ctx context.Context, job *queue.Job, handle source.FetchHandle, destDir string, totalBytes int64, doneBytes *int64) (transferred, resumed int64, err error) {
	name := textutil.SanitizeFileName(handle.Name())
	final := filepath.Join(destDir, name)
	partial := final + ".partial"

	if info, err := os.Stat(final); err == nil && info.Size() == handle.Size() {
		*doneBytes += info.Size()
		return 0, info.Size(), nil
	}

	var offset int64
	if info, err := os.Stat(partial); err == nil {
		offset = info.Size()
		if offset > handle.Size() {
			// The partial outgrew the remote file; it cannot be trusted.
			if err := os.Remove(partial); err != nil {
				return 0, 0, classifyWriteError(err)
			}
			offset = 0
		}
	}

	reader, err := handle.ReadRange(ctx, offset)
	if err != nil && offset > 0 && errors.Is(err, source.ErrResumeNotSupported) {
		// The channel cannot seek; the partial is useless. Start over.
		if rmErr := os.Remove(partial); rmErr != nil {
			return 0, 0, classifyWriteError(rmErr)
		}
		offset = 0
		reader, err = handle.ReadRange(ctx, 0)
	}
	if err != nil {
		return 0, 0, err
	}
	defer reader.Close()

	out, err := os.OpenFile(partial, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, 0, classifyWriteError(err)
	}
	defer out.Close()

	chunk := w.cfg.Downloads.ChunkBytes
	if chunk <= 0 {
		chunk = defaultChunkBytes
	}

	*doneBytes += offset
	resumed = offset
	written := offset
	for {
		n, copyErr := io.CopyN(out, reader, chunk)
		written += n
		transferred += n
		*doneBytes += n

		if n > 0 {
			if err := w.reportProgress(ctx, job, *doneBytes, totalBytes, name); err != nil {
				return transferred, resumed, err
			}
		}

		if copyErr == io.EOF {
			break
		}
		if copyErr != nil {
			return transferred, resumed, classifyCopyError(copyErr)
		}

		cancelled, err := w.queues.CancelRequested(ctx, job.ID)
		if err != nil {
			return transferred, resumed, err
		}
		if cancelled {
			// The partial stays on disk; a later retry resumes from here.
			return transferred, resumed, workers.ErrCancelled
		}
	}

	if err := out.Sync(); err != nil {
		return transferred, resumed, classifyWriteError(err)
	}
	if err := out.Close(); err != nil {
		return transferred, resumed, classifyWriteError(err)
	}

	if err := w.verify(partial, written, handle); err != nil {
		// A corrupt partial would poison every retry. Re-fetch from zero.
		os.Remove(partial)
		return transferred, resumed, err
	}
	if err := os.Rename(partial, final); err != nil {
		return transferred, resumed, classifyWriteError(err)
	}
	return transferred, resumed, nil
}

func (w *Worker) verify(path string, written int64, handle source.FetchHandle) error {
	if handle.Size() > 0 && written != handle.Size() {
		return services.Wrap(services.ErrTransient, "download", "verify",
			fmt.Sprintf("size mismatch: got %d, want %d", written, handle.Size()), nil)
	}
	expected := strings.ToLower(strings.TrimSpace(handle.SHA256()))
	if expected == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return classifyWriteError(err)
	}
	defer f.Close()
	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return fmt.Errorf("hash downloaded file: %w", err)
	}
	actual := hex.EncodeToString(hasher.Sum(nil))
	if actual != expected {
		return services.Wrap(services.ErrTransient, "download", "verify",
			fmt.Sprintf("hash mismatch: got %.12s, want %.12s", actual, expected), nil)
	}
	return nil
}

func (w *Worker) reportProgress(ctx context.Context, job *queue.Job, done, total int64, fileName string) error {
	percent := 0.0
	if total > 0 {
		percent = float64(done) / float64(total) * 100
	}
	message := fmt.Sprintf("Downloading %s (%s of %s)",
		fileName, humanize.Bytes(uint64(done)), humanize.Bytes(uint64(total)))
	return w.queues.ReportProgress(ctx, job.ID, percent, message)
}

func (w *Worker) preferredSource(ctx context.Context, designID int64) (*catalog.Source, error) {
	sources, err := w.catalog.SourcesForDesign(ctx, designID)
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return nil, services.Wrap(services.ErrFatal, "download", "load",
			fmt.Sprintf("design %d has no sources", designID), nil)
	}
	for _, src := range sources {
		if src.IsPreferred {
			return src, nil
		}
	}
	return sources[0], nil
}

// classifyWriteError maps local filesystem failures. A full disk or a
// permission problem does not heal on retry.
func classifyWriteError(err error) error {
	if errors.Is(err, syscall.ENOSPC) || errors.Is(err, os.ErrPermission) {
		return services.Wrap(services.ErrFatal, "download", "write", "staging write failed", err)
	}
	return services.Wrap(services.ErrTransient, "download", "write", "staging write failed", err)
}

// classifyCopyError keeps the source error intact so retry-after hints
// survive, while still catching local disk failures on the write side.
func classifyCopyError(err error) error {
	if errors.Is(err, syscall.ENOSPC) || errors.Is(err, os.ErrPermission) {
		return services.Wrap(services.ErrFatal, "download", "write", "staging write failed", err)
	}
	if services.Retryable(err) {
		return err
	}
	return services.Wrap(services.ErrTransient, "download", "read", "stream interrupted", err)
}
