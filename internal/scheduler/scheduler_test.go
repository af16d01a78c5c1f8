package scheduler_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"curio/internal/catalog"
	"curio/internal/config"
	"curio/internal/logging"
	"curio/internal/queue"
	"curio/internal/scheduler"
	"curio/internal/services"
	"curio/internal/testsupport"
	"curio/internal/workers"
)

// stubHandler drives the scheduler with an arbitrary execute function.
type stubHandler struct {
	jobType queue.Type
	execute func(ctx context.Context, job *queue.Job) (string, error)
}

func (h *stubHandler) Type() queue.Type { return h.jobType }

func (h *stubHandler) Execute(ctx context.Context, job *queue.Job) (string, error) {
	return h.execute(ctx, job)
}

func (h *stubHandler) HealthCheck(context.Context) workers.Health {
	return workers.Healthy(string(h.jobType))
}

type fixture struct {
	cfg     *config.Config
	queues  *queue.Store
	catalog *catalog.Store
	sched   *scheduler.Scheduler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	queues, cat := testsupport.MustOpenStores(t, cfg)
	return &fixture{
		cfg:     cfg,
		queues:  queues,
		catalog: cat,
		sched:   scheduler.New(cfg, queues, cat, nil),
	}
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	if err := f.sched.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(f.sched.Stop)
}

// downloadingDesign seeds a design mid-download so stage rollback and failure
// paths have an active status to act on.
func (f *fixture) downloadingDesign(t *testing.T) *catalog.Design {
	t.Helper()
	ctx := context.Background()
	design := testsupport.NewDesign(t, f.catalog, "Benchy", "Maker")
	for _, step := range []struct{ from, to catalog.Status }{
		{catalog.StatusDiscovered, catalog.StatusWanted},
		{catalog.StatusWanted, catalog.StatusDownloading},
	} {
		if err := f.catalog.SetStatus(ctx, design.ID, step.from, step.to); err != nil {
			t.Fatalf("SetStatus %s -> %s: %v", step.from, step.to, err)
		}
	}
	return design
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (f *fixture) jobStatus(t *testing.T, id int64) queue.Status {
	t.Helper()
	job, err := f.queues.GetByID(context.Background(), id)
	if err != nil || job == nil {
		t.Fatalf("GetByID: job=%v err=%v", job, err)
	}
	return job.Status
}

func TestStartProcessesQueuedJobs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	design := testsupport.NewDesign(t, f.catalog, "Benchy", "Maker")
	job := testsupport.NewJob(t, f.queues, queue.TypeDownloadDesign, design.ID)

	f.sched.Register(&stubHandler{
		jobType: queue.TypeDownloadDesign,
		execute: func(context.Context, *queue.Job) (string, error) {
			return `{"ok":true}`, nil
		},
	})
	f.start(t)

	waitFor(t, "job completion", func() bool {
		return f.jobStatus(t, job.ID) == queue.StatusSuccess
	})

	done, err := f.queues.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if done.Attempts != 1 {
		t.Fatalf("Attempts = %d, want 1", done.Attempts)
	}
	if done.ResultJSON != `{"ok":true}` {
		t.Fatalf("ResultJSON = %q", done.ResultJSON)
	}

	health, err := f.sched.CheckHealth(ctx)
	if err != nil {
		t.Fatalf("CheckHealth: %v", err)
	}
	if !health.Healthy() {
		t.Fatalf("health = %+v, want healthy", health)
	}
}

func TestFatalErrorFailsJobAndDesign(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	design := f.downloadingDesign(t)
	job := testsupport.NewJob(t, f.queues, queue.TypeDownloadDesign, design.ID)

	f.sched.Register(&stubHandler{
		jobType: queue.TypeDownloadDesign,
		execute: func(context.Context, *queue.Job) (string, error) {
			return "", services.Wrap(services.ErrFatal, "download", "fetch", "channel rejected the file", nil)
		},
	})
	f.start(t)

	waitFor(t, "terminal failure", func() bool {
		return f.jobStatus(t, job.ID) == queue.StatusFailed
	})

	// A terminal failure takes the design out of its active stage.
	waitFor(t, "design failure", func() bool {
		updated, err := f.catalog.GetDesign(ctx, design.ID)
		return err == nil && updated != nil && updated.Status == catalog.StatusFailed
	})

	failed, err := f.queues.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if failed.Attempts != 1 {
		t.Fatalf("Attempts = %d, want 1 (fatal errors never retry)", failed.Attempts)
	}
}

func TestHandlerPanicFailsJobTerminally(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	design := testsupport.NewDesign(t, f.catalog, "Benchy", "Maker")
	job := testsupport.NewJob(t, f.queues, queue.TypeDownloadDesign, design.ID)

	f.sched.Register(&stubHandler{
		jobType: queue.TypeDownloadDesign,
		execute: func(context.Context, *queue.Job) (string, error) {
			panic("handler bug")
		},
	})
	f.start(t)

	waitFor(t, "panic to fail the job", func() bool {
		return f.jobStatus(t, job.ID) == queue.StatusFailed
	})

	failed, err := f.queues.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !strings.Contains(failed.LastError, "handler panic") {
		t.Fatalf("LastError = %q, want panic details", failed.LastError)
	}
	// The worker pool survives the panic.
	if !f.sched.Running() {
		t.Fatal("scheduler stopped after handler panic")
	}
}

func TestCancelRollsBackDesignToPriorStage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	design := f.downloadingDesign(t)
	job := testsupport.NewJob(t, f.queues, queue.TypeDownloadDesign, design.ID)

	f.sched.Register(&stubHandler{
		jobType: queue.TypeDownloadDesign,
		execute: func(ctx context.Context, job *queue.Job) (string, error) {
			for {
				cancelled, err := f.queues.CancelRequested(ctx, job.ID)
				if err != nil {
					return "", err
				}
				if cancelled {
					return "", workers.ErrCancelled
				}
				select {
				case <-ctx.Done():
					return "", ctx.Err()
				case <-time.After(20 * time.Millisecond):
				}
			}
		},
	})
	f.start(t)

	waitFor(t, "job to start", func() bool {
		return f.jobStatus(t, job.ID) == queue.StatusRunning
	})
	if _, err := f.queues.Cancel(ctx, job.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	waitFor(t, "cooperative cancellation", func() bool {
		return f.jobStatus(t, job.ID) == queue.StatusCancelled
	})

	// With no extraction output the design returns to wanted.
	waitFor(t, "design rollback", func() bool {
		updated, err := f.catalog.GetDesign(ctx, design.ID)
		return err == nil && updated != nil && updated.Status == catalog.StatusWanted
	})
}

func TestStartReconcilesStrandedDesigns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Mid-download with no job left to finish the stage.
	stranded := f.downloadingDesign(t)

	f.sched.Register(&stubHandler{
		jobType: queue.TypeDownloadDesign,
		execute: func(context.Context, *queue.Job) (string, error) { return "", nil },
	})
	f.start(t)

	updated, err := f.catalog.GetDesign(ctx, stranded.ID)
	if err != nil {
		t.Fatalf("GetDesign: %v", err)
	}
	if updated.Status != catalog.StatusFailed {
		t.Fatalf("status = %s, want %s", updated.Status, catalog.StatusFailed)
	}
}

func TestStartRequiresHandlers(t *testing.T) {
	f := newFixture(t)
	if err := f.sched.Start(context.Background()); err == nil {
		f.sched.Stop()
		t.Fatal("Start succeeded with no handlers registered")
	}
}

func TestHeartbeatReclaimRequeuesSilentJobs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	design := testsupport.NewDesign(t, f.catalog, "Benchy", "Maker")
	testsupport.NewJob(t, f.queues, queue.TypeDownloadDesign, design.ID)
	job, err := f.queues.ClaimNext(ctx, queue.TypeDownloadDesign, 1)
	if err != nil || job == nil {
		t.Fatalf("ClaimNext: job=%v err=%v", job, err)
	}

	monitor := scheduler.NewHeartbeatMonitor(f.queues, logging.NewNop(), time.Second, 50*time.Millisecond)
	time.Sleep(200 * time.Millisecond)

	requeued, failed, err := monitor.Reclaim(ctx, logging.NewNop())
	if err != nil {
		t.Fatalf("Reclaim: %v", err)
	}
	if requeued != 1 || failed != 0 {
		t.Fatalf("Reclaim = (%d, %d), want (1, 0)", requeued, failed)
	}
	if got := f.jobStatus(t, job.ID); got != queue.StatusQueued {
		t.Fatalf("status = %s, want %s", got, queue.StatusQueued)
	}

	// A zero timeout disables reclamation entirely.
	disabled := scheduler.NewHeartbeatMonitor(f.queues, logging.NewNop(), time.Second, 0)
	if requeued, failed, err := disabled.Reclaim(ctx, logging.NewNop()); requeued != 0 || failed != 0 || err != nil {
		t.Fatalf("disabled Reclaim = (%d, %d, %v), want no-op", requeued, failed, err)
	}
}

func TestRetryAfterFloorDefersRequeue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	design := f.downloadingDesign(t)
	job := testsupport.NewJob(t, f.queues, queue.TypeDownloadDesign, design.ID)

	f.sched.Register(&stubHandler{
		jobType: queue.TypeDownloadDesign,
		execute: func(context.Context, *queue.Job) (string, error) {
			return "", &services.RetryAfterError{
				Delay: time.Hour,
				Err:   services.Wrap(services.ErrTransient, "download", "fetch", "rate limited", nil),
			}
		},
	})
	f.start(t)

	// The rate-limited failure requeues with the source's floor, not the
	// configured backoff.
	waitFor(t, "requeue with a deferral", func() bool {
		requeued, err := f.queues.GetByID(ctx, job.ID)
		return err == nil && requeued != nil &&
			requeued.Status == queue.StatusQueued && requeued.NotBefore != nil
	})

	requeued, err := f.queues.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if requeued.Attempts != 1 {
		t.Fatalf("Attempts = %d, want 1", requeued.Attempts)
	}
	earliest := time.Now().UTC().Add(50 * time.Minute)
	if requeued.NotBefore.Before(earliest) {
		t.Fatalf("NotBefore = %s, want at least %s", requeued.NotBefore, earliest)
	}

	// The deferred job is invisible to claimers until the floor passes.
	claimed, err := f.queues.ClaimNext(ctx, queue.TypeDownloadDesign, 1)
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if claimed != nil {
		t.Fatalf("claimed deferred job %d before its retry floor", claimed.ID)
	}
}
