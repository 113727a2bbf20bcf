package services

import (
	"context"
	"fmt"
	"time"

	"geotrail/syncd/internal/constants"
	"geotrail/syncd/internal/db/repositories"
	"geotrail/syncd/internal/events"
	"geotrail/syncd/internal/logging"
	"geotrail/syncd/internal/models/dtos"
	gormModels "geotrail/syncd/internal/models/gorm"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DrainKicker asks the sample drain to start a loop
type DrainKicker interface {
	Kick()
}

// CaptureService persists captured samples into the work queue
type CaptureService struct {
	queue     *repositories.SampleQueueRepo
	publisher events.Publisher
	kicker    DrainKicker
	now       func() time.Time
	log       *zap.SugaredLogger
}

// NewCaptureService creates a new capture service. kicker may be nil.
func NewCaptureService(queue *repositories.SampleQueueRepo, publisher events.Publisher, kicker DrainKicker) *CaptureService {
	return &CaptureService{
		queue:     queue,
		publisher: publisher,
		kicker:    kicker,
		now:       time.Now,
		log:       logging.Named("capture"),
	}
}

// Ingest validates and queues a sample. Resubmitting an idempotency key returns the
// existing sample with Duplicate set and queues nothing.
func (s *CaptureService) Ingest(ctx context.Context, req dtos.CaptureRequest) (*dtos.CaptureResponse, error) {
	if !validLatitude(req.Latitude) || !validLongitude(req.Longitude) {
		return nil, ErrInvalidCoordinates
	}
	provider, err := providerTag(req.Provider)
	if err != nil {
		return nil, err
	}

	if req.IdempotencyKey != "" {
		existing, err := s.queue.GetByIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return captureResponse(existing, true), nil
		}
	} else {
		req.IdempotencyKey = uuid.NewString()
	}

	captured := req.Timestamp
	if captured.IsZero() {
		captured = s.now()
	}

	sample := &gormModels.QueuedSample{
		Latitude:       req.Latitude,
		Longitude:      req.Longitude,
		Altitude:       req.Altitude,
		Speed:          req.Speed,
		Bearing:        req.Bearing,
		Accuracy:       req.Accuracy,
		CapturedAt:     captured.UnixMilli(),
		Provider:       provider,
		IsUserInvoked:  req.IsUserInvoked,
		Activity:       req.Activity,
		Notes:          req.Notes,
		IdempotencyKey: req.IdempotencyKey,
	}
	if err := s.queue.Enqueue(ctx, sample); err != nil {
		return nil, err
	}

	s.publisher.Publish(events.Notification{
		Kind:      constants.EventSampleCaptured,
		LocalID:   sample.ID,
		Timestamp: sample.CapturedTime(),
		Latitude:  sample.Latitude,
		Longitude: sample.Longitude,
	})

	if sample.IsUserInvoked && s.kicker != nil {
		s.kicker.Kick()
	}
	s.log.Debugw("Sample queued", "sample_id", sample.ID, "user_invoked", sample.IsUserInvoked)
	return captureResponse(sample, false), nil
}

func providerTag(p string) (string, error) {
	switch constants.ProviderTag(p) {
	case "":
		return string(constants.ProviderGPS), nil
	case constants.ProviderGPS, constants.ProviderNetwork, constants.ProviderFused, constants.ProviderManual:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownProvider, p)
}

func captureResponse(s *gormModels.QueuedSample, duplicate bool) *dtos.CaptureResponse {
	return &dtos.CaptureResponse{
		ID:             s.ID,
		IdempotencyKey: s.IdempotencyKey,
		State:          string(s.State),
		Duplicate:      duplicate,
	}
}
