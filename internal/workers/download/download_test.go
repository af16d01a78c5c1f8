package download_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"curio/internal/catalog"
	"curio/internal/config"
	"curio/internal/queue"
	"curio/internal/services"
	"curio/internal/source"
	"curio/internal/staging"
	"curio/internal/testsupport"
	"curio/internal/workers"
	"curio/internal/workers/download"
)

type fixture struct {
	cfg     *config.Config
	queues  *queue.Store
	catalog *catalog.Store
	channel *source.MemoryChannel
	worker  *download.Worker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithChunkBytes(16))
	queues, cat := testsupport.MustOpenStores(t, cfg)

	channel := source.NewMemoryChannel("mem")
	registry := source.NewRegistry()
	registry.Register(channel)

	return &fixture{
		cfg:     cfg,
		queues:  queues,
		catalog: cat,
		channel: channel,
		worker:  download.New(queues, cat, registry, cfg, nil),
	}
}

// wantedDesign seeds a design in wanted status whose single source points at
// the memory channel item.
func (f *fixture) wantedDesign(t *testing.T, ref string, files map[string][]byte) *catalog.Design {
	t.Helper()
	ctx := context.Background()

	item := f.channel.AddItem(ref, "", "Benchy", "Maker", time.Now(), files)

	design := testsupport.NewDesign(t, f.catalog, "Benchy", "Maker")
	src := &catalog.Source{
		DesignID:  design.ID,
		Channel:   "mem",
		SourceRef: ref,
	}
	for _, fi := range item.Files {
		src.FileNames = append(src.FileNames, fi.Name)
		src.FileHashes = append(src.FileHashes, fi.SHA256)
	}
	if _, err := f.catalog.InsertSource(ctx, src); err != nil {
		t.Fatalf("InsertSource: %v", err)
	}
	if err := f.catalog.SetStatus(ctx, design.ID, catalog.StatusDiscovered, catalog.StatusWanted); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	return design
}

func (f *fixture) claim(t *testing.T, designID int64) *queue.Job {
	t.Helper()
	ctx := context.Background()
	if _, err := f.queues.Enqueue(ctx, queue.TypeDownloadDesign, designID, queue.EnqueueOptions{}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	job, err := f.queues.ClaimNext(ctx, queue.TypeDownloadDesign, 1)
	if err != nil || job == nil {
		t.Fatalf("ClaimNext: job=%v err=%v", job, err)
	}
	return job
}

func TestExecuteDownloadsAndAdvancesDesign(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	payload := bytes.Repeat([]byte("benchy"), 100)
	design := f.wantedDesign(t, "post-1", map[string][]byte{"benchy.stl": payload})
	job := f.claim(t, design.ID)

	resultJSON, err := f.worker.Execute(ctx, job)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	var result download.Result
	if err := json.Unmarshal([]byte(resultJSON), &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result.Files != 1 || result.BytesTransferred != int64(len(payload)) {
		t.Fatalf("unexpected result %#v", result)
	}
	if result.NextJob != string(queue.TypeImportFiles) {
		t.Fatalf("plain files should chain to import, got %s", result.NextJob)
	}

	final := filepath.Join(staging.DownloadDir(f.cfg.Paths.StagingDir, design.ID), "benchy.stl")
	got, err := os.ReadFile(final)
	if err != nil {
		t.Fatalf("read downloaded file: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("downloaded content differs from source payload")
	}

	refreshed, err := f.catalog.GetDesign(ctx, design.ID)
	if err != nil {
		t.Fatalf("GetDesign: %v", err)
	}
	if refreshed.Status != catalog.StatusDownloaded {
		t.Fatalf("expected downloaded, got %s", refreshed.Status)
	}

	next, err := f.queues.List(ctx, queue.ListFilter{Type: queue.TypeImportFiles})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(next) != 1 {
		t.Fatalf("expected one chained import job, got %d", len(next))
	}
}

func TestExecuteChainsExtractForArchives(t *testing.T) {
	f := newFixture(t)

	design := f.wantedDesign(t, "post-1", map[string][]byte{"bundle.zip": []byte("not really a zip")})
	job := f.claim(t, design.ID)

	resultJSON, err := f.worker.Execute(context.Background(), job)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	var result download.Result
	if err := json.Unmarshal([]byte(resultJSON), &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result.NextJob != string(queue.TypeExtractArchive) {
		t.Fatalf("archives should chain to extract, got %s", result.NextJob)
	}
}

func TestExecuteResumesPartialDownload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	payload := bytes.Repeat([]byte("0123456789abcdef"), 8) // 128 bytes
	design := f.wantedDesign(t, "post-1", map[string][]byte{"kit.stl": payload})

	// Drop the connection after 48 bytes of the first attempt.
	f.channel.ReadErrAfter = 48
	job := f.claim(t, design.ID)
	if _, err := f.worker.Execute(ctx, job); err == nil {
		t.Fatal("expected the interrupted attempt to fail")
	} else if !services.Retryable(err) {
		t.Fatalf("dropped connection should be retryable, got %v", err)
	}

	partial := filepath.Join(staging.DownloadDir(f.cfg.Paths.StagingDir, design.ID), "kit.stl.partial")
	info, err := os.Stat(partial)
	if err != nil {
		t.Fatalf("expected partial file: %v", err)
	}
	if info.Size() < 48 {
		t.Fatalf("expected at least 48 bytes written, got %d", info.Size())
	}

	if err := f.queues.Fail(ctx, job.ID, "dropped", true, 0); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	retry, err := f.queues.ClaimNext(ctx, queue.TypeDownloadDesign, 1)
	if err != nil || retry == nil {
		t.Fatalf("reclaim: job=%v err=%v", retry, err)
	}

	resultJSON, err := f.worker.Execute(ctx, retry)
	if err != nil {
		t.Fatalf("retried Execute failed: %v", err)
	}
	var result download.Result
	if err := json.Unmarshal([]byte(resultJSON), &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result.BytesResumed < 48 {
		t.Fatalf("expected resume from at least byte 48, got %d", result.BytesResumed)
	}
	if result.BytesTransferred >= int64(len(payload)) {
		t.Fatalf("expected retry to skip already-written bytes, transferred %d", result.BytesTransferred)
	}

	final := filepath.Join(staging.DownloadDir(f.cfg.Paths.StagingDir, design.ID), "kit.stl")
	got, err := os.ReadFile(final)
	if err != nil {
		t.Fatalf("read downloaded file: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("resumed content differs from source payload")
	}
}

func TestExecuteRejectsCorruptPartial(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	payload := bytes.Repeat([]byte("good"), 32)
	design := f.wantedDesign(t, "post-1", map[string][]byte{"part.stl": payload})

	// Pre-place a full-size partial with wrong content. The resume path
	// skips the transfer entirely and hash verification catches it.
	destDir := staging.DownloadDir(f.cfg.Paths.StagingDir, design.ID)
	if err := staging.EnsureDir(destDir); err != nil {
		t.Fatalf("EnsureDir: %v", err)
	}
	bogus := bytes.Repeat([]byte("evil"), 32)
	partial := filepath.Join(destDir, "part.stl.partial")
	if err := os.WriteFile(partial, bogus, 0o644); err != nil {
		t.Fatalf("write bogus partial: %v", err)
	}

	job := f.claim(t, design.ID)
	_, err := f.worker.Execute(ctx, job)
	if err == nil {
		t.Fatal("expected hash mismatch to fail the job")
	}
	if !services.Retryable(err) {
		t.Fatalf("hash mismatch should retry from scratch, got %v", err)
	}
	if _, statErr := os.Stat(partial); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatal("expected the corrupt partial removed")
	}
}

func TestExecuteKeepsPartialOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	payload := bytes.Repeat([]byte("0123456789abcdef"), 8)
	design := f.wantedDesign(t, "post-1", map[string][]byte{"kit.stl": payload})
	job := f.claim(t, design.ID)

	if _, err := f.queues.Cancel(ctx, job.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	_, err := f.worker.Execute(ctx, job)
	if !errors.Is(err, workers.ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}

	partial := filepath.Join(staging.DownloadDir(f.cfg.Paths.StagingDir, design.ID), "kit.stl.partial")
	info, statErr := os.Stat(partial)
	if statErr != nil {
		t.Fatalf("expected partial kept for resume: %v", statErr)
	}
	if info.Size() == 0 {
		t.Fatal("expected some bytes written before the cancel checkpoint")
	}
}

func TestExecuteFailsWithoutSources(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	design := testsupport.NewDesign(t, f.catalog, "Orphan", "Maker")
	if err := f.catalog.SetStatus(ctx, design.ID, catalog.StatusDiscovered, catalog.StatusWanted); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	job := f.claim(t, design.ID)

	_, err := f.worker.Execute(ctx, job)
	if err == nil {
		t.Fatal("expected failure for a design with no sources")
	}
	if services.Retryable(err) {
		t.Fatalf("missing sources is fatal, got retryable %v", err)
	}
}

func TestExecuteRestartsWhenResumeUnsupported(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	payload := bytes.Repeat([]byte("0123456789abcdef"), 8) // 128 bytes
	design := f.wantedDesign(t, "post-1", map[string][]byte{"kit.stl": payload})

	// Pre-place a partial from an interrupted attempt against a channel
	// that turns out not to honor offsets.
	destDir := staging.DownloadDir(f.cfg.Paths.StagingDir, design.ID)
	if err := staging.EnsureDir(destDir); err != nil {
		t.Fatalf("EnsureDir: %v", err)
	}
	partial := filepath.Join(destDir, "kit.stl.partial")
	if err := os.WriteFile(partial, payload[:48], 0o644); err != nil {
		t.Fatalf("write partial: %v", err)
	}
	f.channel.IgnoreRanges = true

	job := f.claim(t, design.ID)
	resultJSON, err := f.worker.Execute(ctx, job)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	var result download.Result
	if err := json.Unmarshal([]byte(resultJSON), &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	// The stale partial is discarded and the whole file fetched again.
	if result.BytesResumed != 0 {
		t.Fatalf("BytesResumed = %d, want 0", result.BytesResumed)
	}
	if result.BytesTransferred != int64(len(payload)) {
		t.Fatalf("BytesTransferred = %d, want %d", result.BytesTransferred, len(payload))
	}

	final := filepath.Join(destDir, "kit.stl")
	got, err := os.ReadFile(final)
	if err != nil {
		t.Fatalf("read downloaded file: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("restarted content differs from source payload")
	}
	if _, err := os.Stat(partial); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("partial should be gone, stat err = %v", err)
	}
}
