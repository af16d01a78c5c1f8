package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/gofrs/flock"

	"curio/internal/api"
	"curio/internal/catalog"
	"curio/internal/config"
	"curio/internal/db"
	"curio/internal/dedup"
	"curio/internal/family"
	"curio/internal/logging"
	"curio/internal/queue"
	"curio/internal/scheduler"
	"curio/internal/source"
	"curio/internal/workers/download"
	"curio/internal/workers/extract"
	"curio/internal/workers/importer"
	"curio/internal/workers/preview"
	"curio/internal/workers/syncsource"
)

// Daemon coordinates the background services and enforces single-instance
// execution.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger

	database  *db.DB
	queues    *queue.Store
	catalog   *catalog.Store
	sources   *source.Store
	channels  *source.Registry
	dedup     *dedup.Engine
	families  *family.Engine
	scheduler *scheduler.Scheduler

	queueSvc   *api.QueueService
	catalogSvc *api.CatalogService

	lockPath string
	lock     *flock.Flock
	server   *apiServer

	running atomic.Bool
	cancel  context.CancelFunc
}

// Options supplies optional collaborators. Zero values get working defaults.
type Options struct {
	Channels *source.Registry
	Renderer preview.Renderer
}

// New opens the database and wires every component. Close releases the
// resources New acquired.
func New(cfg *config.Config, logger *slog.Logger, opts Options) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	database, err := db.Open(cfg)
	if err != nil {
		return nil, err
	}

	channels := opts.Channels
	if channels == nil {
		channels = source.NewRegistry()
	}

	queues := queue.NewStore(database)
	cat := catalog.NewStore(database)
	sources := source.NewStore(database)
	dedupEngine := dedup.NewEngine(cat, cfg.Dedup, logger)
	familyEngine := family.NewEngine(cat, cfg.Families, logger)

	sched := scheduler.New(cfg, queues, cat, logger)
	sched.Register(download.New(queues, cat, channels, cfg, logger))
	sched.Register(extract.New(queues, cat, cfg, logger))
	sched.Register(importer.New(queues, cat, cfg, logger))
	sched.Register(preview.New(queues, cat, cfg, opts.Renderer, logger))
	sched.Register(syncsource.New(queues, sources, channels, dedupEngine, logger))

	lockPath := filepath.Join(cfg.Paths.LogDir, "curiod.lock")
	d := &Daemon{
		cfg:        cfg,
		logger:     logging.NewComponentLogger(logger, "daemon"),
		database:   database,
		queues:     queues,
		catalog:    cat,
		sources:    sources,
		channels:   channels,
		dedup:      dedupEngine,
		families:   familyEngine,
		scheduler:  sched,
		queueSvc:   api.NewQueueService(queues, cat, cfg),
		catalogSvc: api.NewCatalogService(cat, queues, familyEngine, cfg),
		lockPath:   lockPath,
		lock:       flock.New(lockPath),
	}
	d.server = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the instance lock, launches the scheduler, and begins
// serving the API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another curio daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.scheduler.Start(runCtx); err != nil {
		d.lock.Unlock()
		cancel()
		d.cancel = nil
		return fmt.Errorf("start scheduler: %w", err)
	}
	if d.server != nil {
		if err := d.server.start(runCtx); err != nil {
			d.scheduler.Stop()
			d.lock.Unlock()
			cancel()
			d.cancel = nil
			return err
		}
	}

	d.running.Store(true)
	d.logger.Info("daemon started",
		logging.String("lock", d.lockPath),
		logging.String("database", d.database.Path()),
	)
	return nil
}

// Stop halts background processing and releases the instance lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.server != nil {
		d.server.stop()
	}
	d.scheduler.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("daemon stopped")
}

// Close stops the daemon and releases the database.
func (d *Daemon) Close() error {
	d.Stop()
	return d.database.Close()
}

// Health gathers scheduler and queue health.
func (d *Daemon) Health(ctx context.Context) (api.HealthView, error) {
	snapshot, err := d.scheduler.CheckHealth(ctx)
	if err != nil {
		return api.HealthView{}, err
	}
	return api.FromHealth(snapshot), nil
}

// Queue exposes the queue service.
func (d *Daemon) Queue() *api.QueueService { return d.queueSvc }

// Catalog exposes the catalog service.
func (d *Daemon) Catalog() *api.CatalogService { return d.catalogSvc }

// Channels exposes the channel registry for registration before Start.
func (d *Daemon) Channels() *source.Registry { return d.channels }

// Families exposes the grouping engine.
func (d *Daemon) Families() *family.Engine { return d.families }

// Dedup exposes the dedup engine for manual ingestion paths.
func (d *Daemon) Dedup() *dedup.Engine { return d.dedup }

// Sources exposes the import source store.
func (d *Daemon) Sources() *source.Store { return d.sources }
