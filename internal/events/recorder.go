package events

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"topup/internal/db"
	"topup/internal/metrics"
	"topup/internal/models"
)

type Store interface {
	ExistsByKey(ctx context.Context, key string) (bool, error)
	Insert(ctx context.Context, event models.SystemEvent) error
}

type Notifier interface {
	Notify(ctx context.Context, event models.SystemEvent) error
}

type NotifierFunc func(ctx context.Context, event models.SystemEvent) error

func (f NotifierFunc) Notify(ctx context.Context, event models.SystemEvent) error {
	return f(ctx, event)
}

// Recorder persists at most one SystemEvent per idempotency key and
// notifies listeners only for the write that created it. It is safe to run
// under at-least-once delivery.
type Recorder struct {
	store    Store
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
	newID    func() string
}

func NewRecorder(store Store, notifier Notifier, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		store:    store,
		notifier: notifier,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
}

// Record returns true when this call stored the event.
func (r *Recorder) Record(ctx context.Context, event Event) (bool, error) {
	if err := event.Validate(); err != nil {
		return false, err
	}
	exists, err := r.store.ExistsByKey(ctx, event.IdempotencyKey)
	if err != nil {
		metrics.EventsRecorded.WithLabelValues(metrics.ResultFailed).Inc()
		return false, fmt.Errorf("lookup event %s: %w", event.IdempotencyKey, err)
	}
	if exists {
		metrics.EventsRecorded.WithLabelValues(metrics.ResultDuplicate).Inc()
		r.logger.Debug("system event already recorded", zap.String("key", event.IdempotencyKey))
		return false, nil
	}
	row, err := event.record(r.newID(), r.now())
	if err != nil {
		return false, err
	}
	if err := r.store.Insert(ctx, row); err != nil {
		if db.IsUniqueViolation(err) {
			metrics.EventsRecorded.WithLabelValues(metrics.ResultRace).Inc()
			r.logger.Debug("system event inserted concurrently", zap.String("key", event.IdempotencyKey))
			return false, nil
		}
		metrics.EventsRecorded.WithLabelValues(metrics.ResultFailed).Inc()
		return false, fmt.Errorf("insert event %s: %w", event.IdempotencyKey, err)
	}
	metrics.EventsRecorded.WithLabelValues(metrics.ResultInserted).Inc()
	if r.notifier != nil {
		if err := r.notifier.Notify(ctx, row); err != nil {
			r.logger.Warn("system event notification failed",
				zap.String("key", row.IdempotencyKey),
				zap.String("event_type", row.EventType),
				zap.Error(err),
			)
		}
	}
	return true, nil
}

// Handle adapts Record to the Handler interface used by dispatchers and
// the queue consumer.
func (r *Recorder) Handle(ctx context.Context, event Event) error {
	_, err := r.Record(ctx, event)
	return err
}
