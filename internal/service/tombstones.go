package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/atinyakov/HealthSync/internal/models"
	"github.com/atinyakov/HealthSync/internal/notify"
	"github.com/atinyakov/HealthSync/internal/observability"
	"go.uber.org/zap"
)

// TombstoneRepository defines the persistence operations needed for soft deletes.
type TombstoneRepository interface {
	// Get fetches a record of userID, tombstones included.
	Get(ctx context.Context, userID string, ref models.Ref) (*models.Record, error)
	// CompareAndSwap replaces the record if its updatedAt still equals expected.
	CompareAndSwap(ctx context.Context, rec models.Record, expected time.Time) error
	// PurgeAcknowledged removes tombstones acknowledged before the given time.
	PurgeAcknowledged(ctx context.Context, before time.Time) (int64, error)
}

// Notifier announces record changes to other sync participants.
type Notifier interface {
	Publish(ctx context.Context, changes ...notify.Change) error
}

// TombstoneService turns deletions into tombstones and purges them once
// every participant has received them.
type TombstoneService struct {
	repo     TombstoneRepository
	notifier Notifier
	log      *zap.Logger
	opts     Options
}

// NewTombstoneService constructs a TombstoneService.
func NewTombstoneService(repo TombstoneRepository, notifier Notifier, log *zap.Logger, opts Options) *TombstoneService {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &TombstoneService{repo: repo, notifier: notifier, log: log, opts: opts.withDefaults()}
}

// MarkDeleted soft-deletes a record owned by userID: isDeleted is set,
// updatedAt is bumped and syncedAt cleared so the tombstone is redelivered
// to every participant. Deleting a tombstone again returns it unchanged.
// It fails with models.ErrNotFound when userID has no such record.
func (s *TombstoneService) MarkDeleted(ctx context.Context, userID string, ref models.Ref) (models.Record, error) {
	if !ref.Kind.Valid() {
		return models.Record{}, fmt.Errorf("%w: unknown kind %q", models.ErrNotFound, ref.Kind)
	}

	for attempt := 0; attempt < s.opts.MaxResolveAttempts; attempt++ {
		var cur *models.Record
		err := s.opts.retry(ctx, func() error {
			var err error
			cur, err = s.repo.Get(ctx, userID, ref)
			return err
		})
		if err != nil {
			return models.Record{}, err
		}
		if cur.IsDeleted() {
			return *cur, nil
		}

		tomb := cur.Tombstone(nextStamp(s.opts.Now(), cur.UpdatedAt))
		err = s.opts.retry(ctx, func() error {
			return s.repo.CompareAndSwap(ctx, tomb, cur.UpdatedAt)
		})
		if errors.Is(err, models.ErrConcurrentModification) {
			observability.RecordRetry("cas")
			continue
		}
		if err != nil {
			return models.Record{}, err
		}

		observability.RecordTombstone()
		s.log.Info("record soft-deleted",
			zap.String("user_id", userID),
			zap.Stringer("ref", ref),
			zap.Time("updated_at", tomb.UpdatedAt),
		)
		if err := s.notifier.Publish(ctx, notify.ChangeOf(tomb, "")); err != nil {
			s.log.Warn("failed to publish tombstone", zap.Stringer("ref", ref), zap.Error(err))
		}
		return tomb, nil
	}
	return models.Record{}, fmt.Errorf("delete %s: %w", ref, models.ErrConcurrentModification)
}

// PurgeAcknowledged physically removes tombstones whose syncedAt is older
// than before and that every live participant has received.
func (s *TombstoneService) PurgeAcknowledged(ctx context.Context, before time.Time) (int64, error) {
	var n int64
	err := s.opts.retry(ctx, func() error {
		var err error
		n, err = s.repo.PurgeAcknowledged(ctx, before)
		return err
	})
	if err != nil {
		return 0, err
	}
	observability.RecordPurged(n)
	return n, nil
}
