package store

import (
	"context"
	"fmt"
)

type AuditStore struct {
	db DB
}

func NewAuditStore(db DB) *AuditStore {
	return &AuditStore{db: db}
}

func (s *AuditStore) Log(ctx context.Context, tx Execer, actorID *string, action, entityType, entityID, data string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_user_id, action, entity_type, entity_id, data)
		VALUES (gen_random_uuid()::text, $1, $2, $3, $4, $5)
	`, actorID, action, entityType, entityID, data)
	return err
}

// LogIsolated writes the audit row under a savepoint so that a failed insert
// leaves the enclosing transaction usable.
func (s *AuditStore) LogIsolated(ctx context.Context, tx Execer, actorID *string, action, entityType, entityID, data string) error {
	if _, err := tx.ExecContext(ctx, `SAVEPOINT audit_log`); err != nil {
		return err
	}
	if err := s.Log(ctx, tx, actorID, action, entityType, entityID, data); err != nil {
		if _, rbErr := tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT audit_log`); rbErr != nil {
			return fmt.Errorf("%w (savepoint rollback: %v)", err, rbErr)
		}
		return err
	}
	_, err := tx.ExecContext(ctx, `RELEASE SAVEPOINT audit_log`)
	return err
}
