package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"geotrail/syncd/internal/connectivity"
	"geotrail/syncd/internal/constants"
	"geotrail/syncd/internal/db/repositories"
	"geotrail/syncd/internal/events"
	"geotrail/syncd/internal/logging"
	"geotrail/syncd/internal/metrics"
	"geotrail/syncd/internal/models/dtos"
	gormModels "geotrail/syncd/internal/models/gorm"
	"geotrail/syncd/internal/providers"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// MutationService applies timeline edits and deletes optimistically and reconciles them
// with the server.
//
// Every edit is written to the local mirror together with a PendingMutation in one
// transaction, so a crash during the immediate sync attempt leaves the edit queued
// rather than lost. The mutation record carries the point as it was before the first
// queued edit; that snapshot is the rollback baseline for the whole merged mutation.
type MutationService struct {
	db             *gorm.DB
	mutations      *repositories.MutationRepo
	client         providers.SyncClient
	online         connectivity.Status
	publisher      events.Publisher
	metrics        *metrics.MetricsRegistry
	requestTimeout time.Duration
	locks          *targetLocks
	log            *zap.SugaredLogger
}

// NewMutationService creates a new mutation service
func NewMutationService(
	db *gorm.DB,
	client providers.SyncClient,
	online connectivity.Status,
	publisher events.Publisher,
	m *metrics.MetricsRegistry,
	requestTimeout time.Duration,
) *MutationService {
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}
	return &MutationService{
		db:             db,
		mutations:      repositories.NewMutationRepo(db),
		client:         client,
		online:         online,
		publisher:      publisher,
		metrics:        m,
		requestTimeout: requestTimeout,
		locks:          newTargetLocks(),
		log:            logging.Named("mutations"),
	}
}

// Configured reports whether the remote client can be used
func (s *MutationService) Configured() bool {
	return s.client.Configured()
}

// UpdateEntity applies fields to the point confirmed with serverID and syncs the change.
// A rejection by the server is returned as a Rejected result after the mirror was reverted.
func (s *MutationService) UpdateEntity(ctx context.Context, serverID int64, fields dtos.PointFields) (*dtos.MutationResult, error) {
	if fields.IsEmpty() {
		return nil, ErrNoFields
	}
	if (fields.Latitude != nil && !validLatitude(*fields.Latitude)) ||
		(fields.Longitude != nil && !validLongitude(*fields.Longitude)) {
		return nil, ErrInvalidCoordinates
	}

	unlock := s.locks.Lock(serverID)
	defer unlock()

	var mutation *gormModels.PendingMutation
	merged := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		timeline := repositories.NewTimelineRepo(tx)
		mutations := repositories.NewMutationRepo(tx)

		point, err := timeline.GetByServerID(ctx, serverID)
		if err != nil {
			return err
		}

		active, err := mutations.FindActiveByTarget(ctx, serverID)
		if err != nil {
			return err
		}
		if active != nil && active.Operation == constants.MutationOpDelete {
			return repositories.ErrPointNotFound
		}

		if active != nil {
			queued, err := decodeFields(active.NewValues)
			if err != nil {
				return err
			}
			if active.NewValues, err = encodeJSON(queued.Merge(fields)); err != nil {
				return err
			}
			if err := mutations.Save(ctx, active); err != nil {
				return err
			}
			mutation, merged = active, true
		} else {
			snapshot, err := encodeJSON(point)
			if err != nil {
				return err
			}
			newValues, err := encodeJSON(fields)
			if err != nil {
				return err
			}
			mutation = &gormModels.PendingMutation{
				Operation:    constants.MutationOpUpdate,
				TargetID:     serverID,
				NewValues:    newValues,
				RollbackData: snapshot,
			}
			if err := mutations.Create(ctx, mutation); err != nil {
				return err
			}
		}

		return timeline.ApplyFields(ctx, serverID, fields)
	})
	if err != nil {
		return nil, err
	}

	if merged {
		return s.queued(mutation, "merged into queued edit"), nil
	}
	return s.sendNow(ctx, mutation), nil
}

// DeleteEntity removes the point confirmed with serverID and syncs the deletion.
// A queued edit of the same point is superseded: the delete inherits its pre-edit
// snapshot and waits in the queue.
func (s *MutationService) DeleteEntity(ctx context.Context, serverID int64) (*dtos.MutationResult, error) {
	unlock := s.locks.Lock(serverID)
	defer unlock()

	var mutation *gormModels.PendingMutation
	superseded := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		timeline := repositories.NewTimelineRepo(tx)
		mutations := repositories.NewMutationRepo(tx)

		point, err := timeline.GetByServerID(ctx, serverID)
		if err != nil {
			return err
		}

		active, err := mutations.FindActiveByTarget(ctx, serverID)
		if err != nil {
			return err
		}

		if active != nil {
			active.Operation = constants.MutationOpDelete
			active.NewValues = ""
			if err := mutations.Save(ctx, active); err != nil {
				return err
			}
			mutation, superseded = active, true
		} else {
			snapshot, err := encodeJSON(point)
			if err != nil {
				return err
			}
			mutation = &gormModels.PendingMutation{
				Operation:    constants.MutationOpDelete,
				TargetID:     serverID,
				RollbackData: snapshot,
			}
			if err := mutations.Create(ctx, mutation); err != nil {
				return err
			}
		}

		if err := repositories.NewSampleQueueRepo(tx).SetDeletedLocally(ctx, serverID, true); err != nil {
			return err
		}
		return timeline.DeleteByServerID(ctx, serverID)
	})
	if err != nil {
		return nil, err
	}

	if superseded {
		return s.queued(mutation, "replaced queued edit"), nil
	}
	return s.sendNow(ctx, mutation), nil
}

// NextPending returns the oldest active mutation, or nil
func (s *MutationService) NextPending(ctx context.Context) (*gormModels.PendingMutation, error) {
	rows, err := s.mutations.ListActive(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// SyncPending makes one queued attempt for m. A permanent rejection reverts the mirror
// and parks the mutation until it is acknowledged.
func (s *MutationService) SyncPending(ctx context.Context, m *gormModels.PendingMutation) (constants.MutationOutcome, error) {
	unlock := s.locks.Lock(m.TargetID)
	defer unlock()

	// The row may have been merged, superseded or confirmed while we waited.
	current, err := s.mutations.GetByID(ctx, m.ID)
	if errors.Is(err, repositories.ErrMutationNotFound) {
		return constants.MutationOutcomeSuperseded, nil
	}
	if err != nil {
		return "", err
	}
	if current.Rejected {
		return constants.MutationOutcomeSuperseded, nil
	}

	result := s.attempt(ctx, current, true)
	return constants.MutationOutcome(result.Outcome), nil
}

// ListRejected returns parked mutations
func (s *MutationService) ListRejected(ctx context.Context) ([]gormModels.PendingMutation, error) {
	return s.mutations.ListRejected(ctx)
}

// Acknowledge clears a parked mutation
func (s *MutationService) Acknowledge(ctx context.Context, id uint) error {
	return s.mutations.Acknowledge(ctx, id)
}

func (s *MutationService) sendNow(ctx context.Context, m *gormModels.PendingMutation) *dtos.MutationResult {
	if !s.online.Online() {
		return s.queued(m, "offline")
	}
	if !s.client.Configured() {
		return s.queued(m, constants.GetErrorMessage(constants.ErrCodeNotConfigured))
	}
	return s.attempt(ctx, m, false)
}

// attempt sends m and resolves the record. queued attempts park rejections; immediate
// ones drop the record because the caller learns the outcome directly.
func (s *MutationService) attempt(ctx context.Context, m *gormModels.PendingMutation, queued bool) *dtos.MutationResult {
	writeCtx := context.WithoutCancel(ctx)

	if err := s.mutations.IncrementAttempts(writeCtx, m.ID); err != nil {
		s.log.Errorw("Failed to count mutation attempt", "mutation_id", m.ID, "error", err)
	}

	res, err := s.call(ctx, m)
	if err != nil {
		msg := logging.SanitizeError(err, constants.MaxErrorMessageLength)
		s.log.Errorw("Unexpected mutation sync error", "mutation_id", m.ID, "target", m.TargetID, "error", msg)
		s.recordError(writeCtx, m, msg)
		return s.retry(m, msg, queued)
	}

	switch r := res.(type) {
	case providers.Success, providers.Skipped:
		if err := s.mutations.Delete(writeCtx, m.ID); err != nil {
			s.log.Errorw("Failed to delete confirmed mutation", "mutation_id", m.ID, "error", err)
		}
		s.metrics.MutationOutcome(string(m.Operation), string(constants.MutationOutcomeCompleted))
		s.publisher.Publish(events.Notification{Kind: constants.EventMutationCompleted, EntityID: m.TargetID})
		s.log.Debugw("Mutation synced", "mutation_id", m.ID, "operation", m.Operation, "target", m.TargetID)
		return &dtos.MutationResult{
			Outcome:  string(constants.MutationOutcomeCompleted),
			EntityID: m.TargetID,
		}

	case providers.ClientError:
		reason := logging.SanitizeMessage(r.String(), constants.MaxErrorMessageLength)
		s.rollback(writeCtx, m, reason, queued)
		return &dtos.MutationResult{
			Outcome:    string(constants.MutationOutcomeRejected),
			EntityID:   m.TargetID,
			MutationID: parkedID(m, queued),
			Reason:     reason,
		}

	case providers.TransientError:
		msg := logging.SanitizeMessage(r.String(), constants.MaxErrorMessageLength)
		s.recordError(writeCtx, m, msg)
		return s.retry(m, msg, queued)

	default:
		msg := fmt.Sprintf("unclassified result %T", res)
		s.recordError(writeCtx, m, msg)
		return s.retry(m, msg, queued)
	}
}

func (s *MutationService) call(ctx context.Context, m *gormModels.PendingMutation) (providers.Result, error) {
	reqCtx, cancel := context.WithTimeout(ctx, s.requestTimeout)
	defer cancel()

	switch m.Operation {
	case constants.MutationOpUpdate:
		fields, err := decodeFields(m.NewValues)
		if err != nil {
			return nil, err
		}
		return s.client.UpdateEntity(reqCtx, m.TargetID, fields)
	case constants.MutationOpDelete:
		return s.client.DeleteEntity(reqCtx, m.TargetID)
	default:
		return nil, fmt.Errorf("unknown mutation operation %q", m.Operation)
	}
}

// rollback restores the mirror from the persisted baseline and resolves the record.
func (s *MutationService) rollback(ctx context.Context, m *gormModels.PendingMutation, reason string, park bool) {
	var snapshot gormModels.TimelinePoint
	if err := json.Unmarshal([]byte(m.RollbackData), &snapshot); err != nil {
		s.log.Errorw("Corrupt rollback data, mirror not reverted", "mutation_id", m.ID, "error", err)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		timeline := repositories.NewTimelineRepo(tx)
		mutations := repositories.NewMutationRepo(tx)

		if snapshot.ID != 0 {
			switch m.Operation {
			case constants.MutationOpUpdate:
				mask, err := decodeFields(m.NewValues)
				if err != nil {
					return err
				}
				err = timeline.RevertFields(ctx, m.TargetID, snapshot, mask)
				if err != nil && !errors.Is(err, repositories.ErrPointNotFound) {
					return err
				}
			case constants.MutationOpDelete:
				if err := timeline.Restore(ctx, snapshot); err != nil {
					return err
				}
				if err := repositories.NewSampleQueueRepo(tx).SetDeletedLocally(ctx, m.TargetID, false); err != nil {
					return err
				}
			}
		}

		if park {
			return mutations.MarkRejected(ctx, m.ID, reason)
		}
		return mutations.Delete(ctx, m.ID)
	})
	if err != nil {
		s.log.Errorw("Failed to roll back rejected mutation", "mutation_id", m.ID, "target", m.TargetID, "error", err)
	}

	s.metrics.MutationOutcome(string(m.Operation), string(constants.MutationOutcomeRejected))
	s.publisher.Publish(events.Notification{
		Kind:     constants.EventMutationRejected,
		EntityID: m.TargetID,
		Reason:   reason,
	})
	s.log.Warnw("Mutation rejected by server", "mutation_id", m.ID, "operation", m.Operation, "target", m.TargetID, "reason", reason)
}

func (s *MutationService) retry(m *gormModels.PendingMutation, reason string, queued bool) *dtos.MutationResult {
	if queued {
		// Already announced when it was first queued.
		s.metrics.MutationOutcome(string(m.Operation), string(constants.MutationOutcomeQueued))
		return &dtos.MutationResult{
			Outcome:    string(constants.MutationOutcomeQueued),
			EntityID:   m.TargetID,
			MutationID: m.ID,
			Reason:     reason,
		}
	}
	return s.queued(m, reason)
}

func (s *MutationService) queued(m *gormModels.PendingMutation, reason string) *dtos.MutationResult {
	s.metrics.MutationOutcome(string(m.Operation), string(constants.MutationOutcomeQueued))
	s.publisher.Publish(events.Notification{
		Kind:     constants.EventMutationQueued,
		EntityID: m.TargetID,
		Reason:   reason,
	})
	return &dtos.MutationResult{
		Outcome:    string(constants.MutationOutcomeQueued),
		EntityID:   m.TargetID,
		MutationID: m.ID,
		Reason:     reason,
	}
}

func (s *MutationService) recordError(ctx context.Context, m *gormModels.PendingMutation, msg string) {
	if err := s.mutations.RecordError(ctx, m.ID, msg); err != nil {
		s.log.Errorw("Failed to record mutation error", "mutation_id", m.ID, "error", err)
	}
}

func parkedID(m *gormModels.PendingMutation, parked bool) uint {
	if parked {
		return m.ID
	}
	return 0
}

func decodeFields(raw string) (dtos.PointFields, error) {
	var f dtos.PointFields
	if raw == "" {
		return f, nil
	}
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		return f, fmt.Errorf("failed to decode mutation values: %w", err)
	}
	return f, nil
}

func encodeJSON(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode mutation data: %w", err)
	}
	return string(b), nil
}
