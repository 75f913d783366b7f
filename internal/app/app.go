// Package app wires the sync engine from configuration. Both binaries build
// on it.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-sync/internal/backup"
	"github.com/dvloznov/finance-sync/internal/cache"
	"github.com/dvloznov/finance-sync/internal/config"
	"github.com/dvloznov/finance-sync/internal/domain"
	"github.com/dvloznov/finance-sync/internal/engine"
	"github.com/dvloznov/finance-sync/internal/filters"
	"github.com/dvloznov/finance-sync/internal/gcs"
	"github.com/dvloznov/finance-sync/internal/gcsuploader"
	infraBQ "github.com/dvloznov/finance-sync/internal/infra/bigquery"
	"github.com/dvloznov/finance-sync/internal/jobs"
	"github.com/dvloznov/finance-sync/internal/jobs/inmemory"
	"github.com/dvloznov/finance-sync/internal/netstatus"
	"github.com/dvloznov/finance-sync/internal/recurrence"
	"github.com/dvloznov/finance-sync/internal/remote"
	"github.com/dvloznov/finance-sync/internal/remote/memstore"
	"github.com/dvloznov/finance-sync/internal/replica"
	"github.com/dvloznov/finance-sync/internal/syncer"
)

// Labels recorded on write jobs.
const (
	LabelIntent     = "intent"
	LabelRecurrence = "recurrence"
)

// App is a wired engine with its background workers.
type App struct {
	Engine   *engine.Engine
	Jobs     *inmemory.Store
	BigQuery *infraBQ.Store

	queue   *inmemory.Queue
	cancel  context.CancelFunc
	closers []func() error
	log     zerolog.Logger
}

// Options replace the backends chosen from the configuration. Tests use them.
type Options struct {
	Store   remote.Store
	Storage gcs.StorageService
	Network syncer.Connectivity
}

// New builds an App from cfg. Without a BigQuery project the remote store is
// an in-process store, and without a bucket backups and filters are disabled.
func New(ctx context.Context, cfg config.Config, log zerolog.Logger, opts Options) (*App, error) {
	a := &App{log: log}
	ok := false
	defer func() {
		if !ok {
			_ = a.closeAll()
		}
	}()

	store, network, err := a.remote(ctx, cfg, opts)
	if err != nil {
		return nil, fmt.Errorf("app.New: %w", err)
	}

	if cfg.CachePath != "" {
		c, err := cache.Open(cfg.CachePath)
		if err != nil {
			return nil, fmt.Errorf("app.New: %w", err)
		}
		a.closers = append(a.closers, c.Close)
		store = cache.NewCachingStore(store, c, log)
	}

	storage := opts.Storage
	if storage == nil && cfg.Bucket != "" {
		s, err := gcsuploader.NewGCSStorageService(ctx, cfg.Bucket)
		if err != nil {
			return nil, fmt.Errorf("app.New: %w", err)
		}
		a.closers = append(a.closers, s.Close)
		storage = s
	}

	a.Jobs = inmemory.NewStore()
	a.queue = inmemory.NewQueue(cfg.Queue.Buffer, a.Jobs,
		inmemory.WithWorkers(cfg.Queue.Workers),
		inmemory.WithBackoff(cfg.Queue.Backoff),
	)
	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancel = cancel
	if err := a.queue.Start(workerCtx, jobs.NewBulkWriteHandler(store, log)); err != nil {
		return nil, fmt.Errorf("app.New: start write queue: %w", err)
	}
	writer := jobs.NewBulkWriter(a.queue, LabelIntent)

	deps := syncer.Deps{
		Store: store,
		Materializer: recurrence.NewMaterializer(
			writer.WithLabel(LabelRecurrence),
			recurrence.Options{WeeklyFallThrough: cfg.Sync.WeeklyFallThrough},
			log,
		),
		Network: network,
	}
	var backups *backup.Scheduler
	var fs *filters.Service
	if storage != nil {
		backups = backup.NewScheduler(storage, cfg.BackupPeriod(), log)
		fs = filters.NewService(storage)
		deps.Backups = backups
		deps.Filters = fs
	} else {
		log.Warn().Msg("No storage bucket configured, backups and filters are disabled")
	}

	orch := syncer.New(replica.NewContainer(domain.NewState()), deps, cfg.Sync.IdleFlush, log)
	a.Engine = engine.New(orch, writer, backups, fs, log)
	ok = true
	return a, nil
}

func (a *App) remote(ctx context.Context, cfg config.Config, opts Options) (remote.Store, syncer.Connectivity, error) {
	store, network := opts.Store, opts.Network
	if store == nil && cfg.RemoteEnabled() {
		bq, err := infraBQ.NewStore(ctx, cfg.BigQuery.Project, cfg.BigQuery.Dataset, cfg.BigQuery.PollInterval, a.log)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, bq.Close)
		a.BigQuery = bq
		store = bq
	}
	if store == nil {
		a.log.Warn().Msg("No BigQuery project configured, using an in-process store")
		mem := memstore.New()
		store = mem
		if network == nil {
			network = mem
		}
	}
	if network == nil {
		network = netstatus.NewProbe(cfg.Network.ProbeAddr, cfg.Network.ProbeTimeout, a.log)
	}
	return store, network, nil
}

// Drain waits until every submitted write has reached the remote store.
func (a *App) Drain(ctx context.Context) error {
	return jobs.WaitIdle(ctx, a.Jobs, 20*time.Millisecond)
}

// Close signs out, stops the write queue and releases every backend.
// Writes still queued are dropped, so callers that care call Drain first.
func (a *App) Close(ctx context.Context) error {
	if a.Engine != nil {
		a.Engine.SignOut()
	}
	var errs []error
	if a.queue != nil {
		if err := a.queue.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop write queue: %w", err))
		}
	}
	if a.cancel != nil {
		a.cancel()
	}
	if err := a.closeAll(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) closeAll() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
