package queue_test

import (
	"context"
	"testing"
	"time"

	"curio/internal/queue"
	"curio/internal/testsupport"
)

func claimOne(t *testing.T, store *queue.Store, jobType queue.Type) *queue.Job {
	t.Helper()
	job, err := store.ClaimNext(context.Background(), jobType, 10)
	if err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	if job == nil {
		t.Fatal("expected a claimable job")
	}
	return job
}

func TestBackoffPolicyDelay(t *testing.T) {
	policy := queue.BackoffPolicy{Base: 30 * time.Second, Cap: 5 * time.Minute}

	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{1, 30 * time.Second},
		{2, time.Minute},
		{3, 2 * time.Minute},
		{4, 4 * time.Minute},
		{5, 5 * time.Minute},
		{20, 5 * time.Minute},
	}
	for _, tc := range cases {
		if got := policy.Delay(tc.attempts); got != tc.want {
			t.Errorf("Delay(%d) = %s, want %s", tc.attempts, got, tc.want)
		}
	}

	if got := (queue.BackoffPolicy{}).Delay(3); got != 0 {
		t.Errorf("zero policy Delay = %s, want 0", got)
	}
}

func TestCompleteCountsAttempt(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store, cat := testsupport.MustOpenStores(t, cfg)
	ctx := context.Background()

	design := testsupport.NewDesign(t, cat, "Benchy", "A")
	testsupport.NewJob(t, store, queue.TypeDownloadDesign, design.ID)
	job := claimOne(t, store, queue.TypeDownloadDesign)

	if err := store.Complete(ctx, job.ID, `{"files":3}`); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	done, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if done.Status != queue.StatusSuccess {
		t.Fatalf("expected success, got %s", done.Status)
	}
	if done.Attempts != 1 {
		t.Fatalf("expected attempts recorded on completion, got %d", done.Attempts)
	}
	if done.ResultJSON == "" || done.CompletedAt == nil {
		t.Fatalf("expected result and completion time, got %#v", done)
	}

	if err := store.Complete(ctx, job.ID, ""); err != queue.ErrNotRunning {
		t.Fatalf("expected ErrNotRunning on repeat completion, got %v", err)
	}
}

func TestFailRetryableRequeuesWithBackoff(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store, cat := testsupport.MustOpenStores(t, cfg)
	ctx := context.Background()

	design := testsupport.NewDesign(t, cat, "Benchy", "A")
	testsupport.NewJob(t, store, queue.TypeDownloadDesign, design.ID)
	job := claimOne(t, store, queue.TypeDownloadDesign)

	if err := store.Fail(ctx, job.ID, "connection reset", true, time.Minute); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}
	requeued, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if requeued.Status != queue.StatusQueued {
		t.Fatalf("expected queued, got %s", requeued.Status)
	}
	if requeued.Attempts != 1 {
		t.Fatalf("expected one attempt, got %d", requeued.Attempts)
	}
	if requeued.LastError != "connection reset" {
		t.Fatalf("unexpected last error %q", requeued.LastError)
	}
	if requeued.NotBefore == nil || time.Until(*requeued.NotBefore) < 30*time.Second {
		t.Fatalf("expected backoff delay, got %v", requeued.NotBefore)
	}
	if requeued.StartedAt != nil {
		t.Fatal("expected started_at cleared on requeue")
	}
}

func TestFailFatalIsTerminal(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store, cat := testsupport.MustOpenStores(t, cfg)
	ctx := context.Background()

	design := testsupport.NewDesign(t, cat, "Benchy", "A")
	testsupport.NewJob(t, store, queue.TypeDownloadDesign, design.ID)
	job := claimOne(t, store, queue.TypeDownloadDesign)

	if err := store.Fail(ctx, job.ID, "file gone", false, 0); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}
	failed, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if failed.Status != queue.StatusFailed {
		t.Fatalf("expected failed, got %s", failed.Status)
	}
	if failed.CompletedAt == nil {
		t.Fatal("expected completion time on terminal failure")
	}
}

func TestFailExhaustsAttempts(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store, cat := testsupport.MustOpenStores(t, cfg)
	ctx := context.Background()

	design := testsupport.NewDesign(t, cat, "Benchy", "A")
	if _, err := store.Enqueue(ctx, queue.TypeDownloadDesign, design.ID, queue.EnqueueOptions{MaxAttempts: 2}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	job := claimOne(t, store, queue.TypeDownloadDesign)
	if err := store.Fail(ctx, job.ID, "timeout", true, 0); err != nil {
		t.Fatalf("first Fail: %v", err)
	}
	job = claimOne(t, store, queue.TypeDownloadDesign)
	if err := store.Fail(ctx, job.ID, "timeout", true, 0); err != nil {
		t.Fatalf("second Fail: %v", err)
	}

	final, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if final.Status != queue.StatusFailed {
		t.Fatalf("expected retries exhausted, got %s", final.Status)
	}
	if final.Attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", final.Attempts)
	}
}

func TestCancelQueuedJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store, cat := testsupport.MustOpenStores(t, cfg)
	ctx := context.Background()

	design := testsupport.NewDesign(t, cat, "Benchy", "A")
	job := testsupport.NewJob(t, store, queue.TypeDownloadDesign, design.ID)

	status, err := store.Cancel(ctx, job.ID)
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if status != queue.StatusCancelled {
		t.Fatalf("expected immediate cancellation, got %s", status)
	}

	if _, err := store.Cancel(ctx, job.ID); err == nil {
		t.Fatal("expected error cancelling a terminal job")
	}
}

func TestCancelRunningJobIsCooperative(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store, cat := testsupport.MustOpenStores(t, cfg)
	ctx := context.Background()

	design := testsupport.NewDesign(t, cat, "Benchy", "A")
	testsupport.NewJob(t, store, queue.TypeDownloadDesign, design.ID)
	job := claimOne(t, store, queue.TypeDownloadDesign)

	status, err := store.Cancel(ctx, job.ID)
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if status != queue.StatusRunning {
		t.Fatalf("expected running until worker acknowledges, got %s", status)
	}

	requested, err := store.CancelRequested(ctx, job.ID)
	if err != nil {
		t.Fatalf("CancelRequested: %v", err)
	}
	if !requested {
		t.Fatal("expected cancel flag set")
	}

	if err := store.AcknowledgeCancel(ctx, job.ID); err != nil {
		t.Fatalf("AcknowledgeCancel: %v", err)
	}
	done, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if done.Status != queue.StatusCancelled || done.CancelRequested {
		t.Fatalf("expected clean cancelled state, got %#v", done)
	}
}

func TestRetryResetsTerminalJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store, cat := testsupport.MustOpenStores(t, cfg)
	ctx := context.Background()

	design := testsupport.NewDesign(t, cat, "Benchy", "A")
	testsupport.NewJob(t, store, queue.TypeDownloadDesign, design.ID)
	job := claimOne(t, store, queue.TypeDownloadDesign)
	if err := store.Fail(ctx, job.ID, "fatal", false, 0); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	if err := store.Retry(ctx, job.ID); err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	fresh, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if fresh.Status != queue.StatusQueued || fresh.Attempts != 0 || fresh.LastError != "" {
		t.Fatalf("expected fresh queued job, got %#v", fresh)
	}

	// Retry only applies to terminal failed or cancelled jobs.
	if err := store.Retry(ctx, job.ID); err == nil {
		t.Fatal("expected error retrying a queued job")
	}
}

func TestReportProgressOnlyWhileRunning(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store, cat := testsupport.MustOpenStores(t, cfg)
	ctx := context.Background()

	design := testsupport.NewDesign(t, cat, "Benchy", "A")
	job := testsupport.NewJob(t, store, queue.TypeDownloadDesign, design.ID)

	if err := store.ReportProgress(ctx, job.ID, 50, "halfway"); err != nil {
		t.Fatalf("ReportProgress: %v", err)
	}
	unchanged, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if unchanged.ProgressPercent != 0 {
		t.Fatalf("expected no progress on a queued job, got %f", unchanged.ProgressPercent)
	}

	running := claimOne(t, store, queue.TypeDownloadDesign)
	if err := store.ReportProgress(ctx, running.ID, 150, "overflow"); err != nil {
		t.Fatalf("ReportProgress: %v", err)
	}
	updated, err := store.GetByID(ctx, running.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if updated.ProgressPercent != 100 || updated.ProgressMessage != "overflow" {
		t.Fatalf("expected clamped progress, got %f/%q", updated.ProgressPercent, updated.ProgressMessage)
	}
}

func TestStatsAndClear(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store, cat := testsupport.MustOpenStores(t, cfg)
	ctx := context.Background()

	success := testsupport.NewDesign(t, cat, "Done", "A")
	pending := testsupport.NewDesign(t, cat, "Pending", "A")
	testsupport.NewJob(t, store, queue.TypeDownloadDesign, success.ID)
	testsupport.NewJob(t, store, queue.TypeDownloadDesign, pending.ID)

	job := claimOne(t, store, queue.TypeDownloadDesign)
	if err := store.Complete(ctx, job.ID, ""); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	stats, err := store.StatsByType(ctx)
	if err != nil {
		t.Fatalf("StatsByType: %v", err)
	}
	download := stats[queue.TypeDownloadDesign]
	if download.Queued != 1 || download.Succeeded != 1 {
		t.Fatalf("unexpected stats %#v", download)
	}

	removed, err := store.ClearCompleted(ctx)
	if err != nil {
		t.Fatalf("ClearCompleted: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
}
