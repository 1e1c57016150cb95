package store

import (
	"context"

	"github.com/jmoiron/sqlx/types"

	"topup/internal/models"
)

// EventStore persists system events. The unique index on idempotency_key
// is the only dedup authority.
type EventStore struct {
	db DB
}

func NewEventStore(db DB) *EventStore {
	return &EventStore{db: db}
}

func (s *EventStore) ExistsByKey(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `
		SELECT EXISTS (SELECT 1 FROM system_events WHERE idempotency_key = $1)
	`, key)
	return exists, err
}

func (s *EventStore) Insert(ctx context.Context, event models.SystemEvent) error {
	metadata := event.Metadata
	if len(metadata) == 0 {
		metadata = types.JSONText(`{}`)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO system_events (id, event_type, entity_type, entity_id, actor_type, actor_id, metadata, severity, is_financial, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, event.ID, event.EventType, event.EntityType, event.EntityID, event.ActorType, event.ActorID,
		metadata, event.Severity, event.IsFinancial, event.IdempotencyKey, event.CreatedAt)
	return err
}
