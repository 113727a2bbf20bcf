// Package app builds the daemon's object graph and owns its startup ordering.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"geotrail/syncd/internal/api"
	"geotrail/syncd/internal/common"
	"geotrail/syncd/internal/config"
	"geotrail/syncd/internal/connectivity"
	"geotrail/syncd/internal/db"
	"geotrail/syncd/internal/db/repositories"
	"geotrail/syncd/internal/events"
	"geotrail/syncd/internal/filter"
	"geotrail/syncd/internal/jobs"
	"geotrail/syncd/internal/logging"
	"geotrail/syncd/internal/metrics"
	"geotrail/syncd/internal/providers"
	"geotrail/syncd/internal/routes"
	"geotrail/syncd/internal/services"
	"geotrail/syncd/internal/supervisor"
	"geotrail/syncd/internal/workers"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"gorm.io/gorm"
)

type Repositories struct {
	Queue      *repositories.SampleQueueRepo
	Timeline   *repositories.TimelineRepo
	Reference  *repositories.SyncReferenceRepo
	QueueStats *repositories.QueueStatsRepo
}

type Services struct {
	Capture   *services.CaptureService
	Mutations *services.MutationService
}

// App holds every long-lived component of the daemon
type App struct {
	Config     *config.Config
	Viper      *viper.Viper
	DB         *gorm.DB
	StatsDB    *sqlx.DB
	Redis      *redis.Client
	Bus        *events.Bus
	Metrics    *metrics.MetricsRegistry
	Observer   *connectivity.Observer
	Thresholds *config.LiveThresholds
	Client     *providers.HTTPSyncClient

	Repo     *Repositories
	Services *Services
	Workers  *workers.WorkersContainer
	Jobs     *jobs.JobsContainer
	Relay    *common.NotificationRelay
	Prober   *connectivity.Prober

	upSince time.Time
}

// New opens the stores and builds the object graph. Nothing runs until Run.
func New(ctx context.Context, cfg *config.Config, v *viper.Viper) (*App, error) {
	a := &App{
		Config:     cfg,
		Viper:      v,
		Bus:        events.NewBus(),
		Metrics:    metrics.NewMetricsRegistry(),
		Observer:   connectivity.NewObserver(cfg.Connectivity.AssumeOnline),
		Thresholds: config.NewLiveThresholds(cfg.Thresholds.FilterThresholds()),
		upSince:    time.Now(),
	}

	gdb, err := db.Open(cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	a.DB = gdb
	if err := db.AutoMigrate(gdb); err != nil {
		a.Close()
		return nil, err
	}
	if a.StatsDB, err = db.OpenStats(gdb, cfg.Database.DSN); err != nil {
		a.Close()
		return nil, err
	}

	a.Repo = &Repositories{
		Queue:      repositories.NewSampleQueueRepo(gdb),
		Timeline:   repositories.NewTimelineRepo(gdb),
		Reference:  repositories.NewSyncReferenceRepo(gdb),
		QueueStats: repositories.NewQueueStatsRepo(a.StatsDB),
	}

	var lock common.ClaimLock = common.NewLocalClaimLock()
	if cfg.Redis.Addr != "" {
		client, err := common.NewRedisClient(ctx, common.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			// The pool keeps reconnecting; the relay and lock recover once Redis is up.
			logging.Warn("Redis unavailable at startup", "error", err)
		}
		a.Redis = client
		lock = common.ChainedClaimLock{lock, common.NewRedisClaimLock(client, cfg.Redis.LockKey, cfg.Redis.LockTTL)}
		a.Relay = common.NewNotificationRelay(client, a.Bus, cfg.Redis.Stream, cfg.Redis.StreamMaxLen, a.Metrics)
	}

	a.Client = providers.NewHTTPSyncClient(cfg.Remote.BaseURL, cfg.Remote.APIKey, cfg.Remote.Timeout, cfg.Remote.MaxRetries)
	if !a.Client.Configured() {
		logging.Warn("Remote endpoint not configured; samples will queue until it is")
	}

	mutationSvc := services.NewMutationService(gdb, a.Client, a.Observer, a.Bus, a.Metrics, cfg.Mutation.RequestTimeout)
	a.Workers = workers.InitWorkers(workers.WorkerDeps{
		Queue:      a.Repo.Queue,
		Timeline:   a.Repo.Timeline,
		Stats:      a.Repo.QueueStats,
		Reference:  filter.NewReferenceStore(a.Repo.Reference),
		Client:     a.Client,
		Mutations:  mutationSvc,
		Observer:   a.Observer,
		Thresholds: a.Thresholds,
		Lock:       lock,
		Bus:        a.Bus,
		Cache:      common.NewCacheService(cfg.Reconcile.CacheTTL, 2*cfg.Reconcile.CacheTTL),
		Metrics:    a.Metrics,
	}, cfg)
	a.Services = &Services{
		Capture:   services.NewCaptureService(a.Repo.Queue, a.Bus, a.Workers.SampleScheduler),
		Mutations: mutationSvc,
	}
	a.Jobs = jobs.InitializeJobs(a.Repo.Queue, a.Metrics, cfg.Retention)

	if cfg.Connectivity.ProbeURL != "" {
		a.Prober = connectivity.NewProber(cfg.Connectivity.ProbeURL, cfg.Connectivity.ProbeInterval, a.Observer)
	}
	return a, nil
}

// Recover subscribes the timeline recorder and runs startup reconciliation. The
// recorder must be subscribed first so notifications published while the backfill
// runs are buffered instead of lost.
func (a *App) Recover(ctx context.Context) (*workers.ReconcileReport, error) {
	a.Workers.Recorder.Subscribe()
	if err := a.Workers.Recorder.Prime(ctx); err != nil {
		return nil, fmt.Errorf("failed to prime timeline recorder: %w", err)
	}
	report, err := a.Workers.Reconciler.RunStartup(ctx)
	if err != nil {
		return report, fmt.Errorf("startup reconciliation failed: %w", err)
	}
	return report, nil
}

// APIDependencies adapts the app to the control API
func (a *App) APIDependencies() *api.Dependencies {
	return &api.Dependencies{
		Services: &api.Services{
			Capture:   a.Services.Capture,
			Mutations: a.Services.Mutations,
			Queue:     a.Repo.Queue,
			Stats:     a.Repo.QueueStats,
		},
		Controls: &api.Controls{
			Samples:      api.DrainHandle{Scheduler: a.Workers.SampleScheduler, Engine: a.Workers.SampleDrain},
			Mutations:    api.DrainHandle{Scheduler: a.Workers.MutationScheduler, Engine: a.Workers.MutationDrain},
			Connectivity: a.Observer,
			Thresholds:   a.Thresholds,
			Remote:       a.Client,
		},
		DB:      a.StatsDB,
		UpSince: a.upSince,
	}
}

// Handler builds the control API router
func (a *App) Handler() http.Handler {
	return routes.RegisterRoutes(a.APIDependencies(), a.Metrics, a.Config.HTTP)
}

// Run recovers, then supervises every service until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if _, err := a.Recover(ctx); err != nil {
		return err
	}
	if a.Viper != nil {
		config.WatchThresholds(a.Viper, a.Thresholds)
	}

	tree := supervisor.NewTree(supervisor.TreeConfig{ShutdownTimeout: a.Config.Drain.RequestTimeout + 5*time.Second})
	tree.AddSyncService(a.Workers.Recorder)
	tree.AddSyncService(a.Workers.SampleScheduler)
	tree.AddSyncService(a.Workers.MutationScheduler)
	tree.AddSyncService(a.Jobs.Retention)
	if a.Workers.Monitor != nil {
		tree.AddSyncService(a.Workers.Monitor)
	}
	if a.Prober != nil {
		tree.AddSyncService(a.Prober)
	}
	if a.Relay != nil {
		tree.AddSyncService(a.Relay)
	}

	server := &http.Server{
		Addr:              a.Config.HTTP.Addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	tree.AddAPIService(supervisor.NewHTTPService(server, 10*time.Second))

	logging.Info("syncd started", "http_addr", a.Config.HTTP.Addr, "online", a.Observer.Online())
	err := tree.Serve(ctx)
	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn("Service failed to stop within timeout", "service", svc.Name)
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases the stores. It is safe to call on a partially built app.
func (a *App) Close() error {
	var errs []error
	if a.Workers != nil {
		a.Workers.Recorder.Close()
	}
	a.Bus.Close()
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.StatsDB != nil && a.Config.Database.IsPostgres() {
		errs = append(errs, a.StatsDB.Close())
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}
	return errors.Join(errs...)
}
