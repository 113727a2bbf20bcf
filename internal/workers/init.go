package workers

import (
	"geotrail/syncd/internal/common"
	"geotrail/syncd/internal/config"
	"geotrail/syncd/internal/connectivity"
	"geotrail/syncd/internal/db/repositories"
	"geotrail/syncd/internal/events"
	"geotrail/syncd/internal/filter"
	"geotrail/syncd/internal/metrics"
	"geotrail/syncd/internal/providers"
	"geotrail/syncd/internal/ratelimit"
)

// WorkerDeps is everything the background workers are built from
type WorkerDeps struct {
	Queue      *repositories.SampleQueueRepo
	Timeline   *repositories.TimelineRepo
	Stats      StatsCollector
	Reference  *filter.ReferenceStore
	Client     providers.SyncClient
	Mutations  MutationSyncer
	Observer   *connectivity.Observer
	Thresholds filter.ThresholdSource
	Lock       common.ClaimLock
	Bus        *events.Bus
	Cache      common.CacheInterface
	Metrics    *metrics.MetricsRegistry
}

type WorkersContainer struct {
	SampleDrain       *LocationDrain
	SampleScheduler   *DrainScheduler
	MutationDrain     *MutationDrain
	MutationScheduler *DrainScheduler
	Recorder          *TimelineRecorder
	Reconciler        *Reconciler
	Monitor           *QueueMonitor
}

// InitWorkers wires the drains, their schedulers and the mirror maintainers. Nothing is
// started; the caller subscribes the recorder, reconciles, then hands the services to
// the supervisor.
func InitWorkers(d WorkerDeps, cfg *config.Config) *WorkersContainer {
	sampleDrain := NewLocationDrain(
		d.Queue,
		d.Client,
		d.Observer,
		ratelimit.New(cfg.RateLimit.MinInterval, cfg.RateLimit.MaxPerHour),
		d.Reference,
		d.Thresholds,
		d.Lock,
		d.Bus,
		d.Metrics,
		LocationDrainConfig{
			BatchSize:      cfg.Drain.BatchSize,
			FailureCeiling: cfg.Drain.FailureCeiling,
			ClaimTimeout:   cfg.Drain.ClaimTimeout,
			RequestTimeout: cfg.Drain.RequestTimeout,
		},
	)
	sampleScheduler := NewDrainScheduler(sampleDrain, d.Observer, DrainSchedulerConfig{
		Interval:        cfg.Drain.Interval,
		InitialJitter:   cfg.Drain.InitialJitter,
		LoopDelay:       cfg.Drain.LoopDelay,
		MaxLoopFailures: cfg.Drain.MaxLoopFailures,
		MaxRateWait:     cfg.Drain.MaxRateWait,
	}, d.Metrics)

	mutationDrain := NewMutationDrain(
		d.Mutations,
		d.Observer,
		ratelimit.New(cfg.Mutation.MinInterval, cfg.Mutation.MaxPerHour),
		d.Metrics,
		cfg.Mutation.FailureCeiling,
	)
	mutationScheduler := NewDrainScheduler(mutationDrain, d.Observer, DrainSchedulerConfig{
		Interval:        cfg.Mutation.Interval,
		InitialJitter:   cfg.Drain.InitialJitter,
		LoopDelay:       cfg.Drain.LoopDelay,
		MaxLoopFailures: cfg.Drain.MaxLoopFailures,
		MaxRateWait:     cfg.Mutation.MaxRateWait,
	}, d.Metrics)

	recorder := NewTimelineRecorder(d.Timeline, d.Queue, d.Bus, d.Thresholds, 0)
	reconciler := NewReconciler(d.Queue, d.Timeline, d.Reference, recorder, d.Thresholds, d.Cache, d.Metrics, ReconcileConfig{
		Lookback:        cfg.Reconcile.Lookback,
		ReferenceMaxAge: cfg.Reconcile.ReferenceMaxAge,
		CacheTTL:        cfg.Reconcile.CacheTTL,
	})

	var monitor *QueueMonitor
	if d.Stats != nil {
		monitor = NewQueueMonitor(d.Stats, sampleScheduler, mutationScheduler, d.Metrics, cfg.Monitor.Interval)
	}

	return &WorkersContainer{
		SampleDrain:       sampleDrain,
		SampleScheduler:   sampleScheduler,
		MutationDrain:     mutationDrain,
		MutationScheduler: mutationScheduler,
		Recorder:          recorder,
		Reconciler:        reconciler,
		Monitor:           monitor,
	}
}
