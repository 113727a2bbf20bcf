package api

import (
	"context"
	"time"

	"geotrail/syncd/internal/db/repositories"
	"geotrail/syncd/internal/filter"
	"geotrail/syncd/internal/models/dtos"
	gormModels "geotrail/syncd/internal/models/gorm"
)

type SampleIngester interface {
	Ingest(ctx context.Context, req dtos.CaptureRequest) (*dtos.CaptureResponse, error)
}

type PointMutator interface {
	UpdateEntity(ctx context.Context, serverID int64, fields dtos.PointFields) (*dtos.MutationResult, error)
	DeleteEntity(ctx context.Context, serverID int64) (*dtos.MutationResult, error)
	ListRejected(ctx context.Context) ([]gormModels.PendingMutation, error)
	Acknowledge(ctx context.Context, id uint) error
}

type FailedRetrier interface {
	RetryFailed(ctx context.Context) (int64, error)
}

type StatsCollector interface {
	Collect(ctx context.Context, now time.Time) (*repositories.QueueStats, error)
}

type ConnectivityControl interface {
	Online() bool
	SetOnline(online bool) bool
}

type ThresholdControl interface {
	Thresholds() filter.Thresholds
	Set(th filter.Thresholds)
}

type Pinger interface {
	PingContext(ctx context.Context) error
}

// DrainHandle exposes one drain engine and its scheduler
type DrainHandle struct {
	Scheduler interface {
		Kick()
		Running() bool
	}
	Engine interface {
		ConsecutiveFailures() int
	}
}

type Services struct {
	Capture   SampleIngester
	Mutations PointMutator
	Queue     FailedRetrier
	Stats     StatsCollector
}

type Controls struct {
	Samples      DrainHandle
	Mutations    DrainHandle
	Connectivity ConnectivityControl
	Thresholds   ThresholdControl
	Remote       interface{ Configured() bool }
}

type Dependencies struct {
	Services *Services
	Controls *Controls
	DB       Pinger
	UpSince  time.Time
}
