package store

import (
	"context"

	"github.com/jmoiron/sqlx/types"

	"topup/internal/models"
)

type LedgerStore struct {
	db DB
}

func NewLedgerStore(db DB) *LedgerStore {
	return &LedgerStore{db: db}
}

const ledgerColumns = `id, wallet_id, type, direction, amount, status, metadata, reference_type, reference_id, created_at, updated_at`

func (s *LedgerStore) Insert(ctx context.Context, tx Execer, entry models.LedgerEntry) error {
	if entry.Amount <= 0 {
		return ErrInvalidAmount
	}
	metadata := entry.Metadata
	if len(metadata) == 0 {
		metadata = types.JSONText(`{}`)
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO wallet_transactions (id, wallet_id, type, direction, amount, status, metadata, reference_type, reference_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, entry.ID, entry.WalletID, entry.Type, entry.Direction, entry.Amount, entry.Status, metadata, entry.ReferenceType, entry.ReferenceID)
	return err
}

func (s *LedgerStore) GetByReferenceForUpdate(ctx context.Context, tx Getter, ref models.Reference, entryType models.EntryType) (models.LedgerEntry, error) {
	var row models.LedgerEntry
	err := tx.GetContext(ctx, &row, `
		SELECT `+ledgerColumns+`
		FROM wallet_transactions
		WHERE reference_type = $1 AND reference_id = $2 AND type = $3
		FOR UPDATE
	`, ref.Kind, ref.ID, entryType)
	if err != nil {
		return models.LedgerEntry{}, err
	}
	return row, nil
}

func (s *LedgerStore) GetByReference(ctx context.Context, ref models.Reference, entryType models.EntryType) (models.LedgerEntry, error) {
	var row models.LedgerEntry
	err := s.db.GetContext(ctx, &row, `
		SELECT `+ledgerColumns+`
		FROM wallet_transactions
		WHERE reference_type = $1 AND reference_id = $2 AND type = $3
	`, ref.Kind, ref.ID, entryType)
	if err != nil {
		return models.LedgerEntry{}, err
	}
	return row, nil
}

// Transition moves an entry between statuses. The update only matches while
// the row is still in from.
func (s *LedgerStore) Transition(ctx context.Context, tx Execer, entryID string, from, to models.EntryStatus, metadata types.JSONText) error {
	if !from.CanTransition(to) {
		return ErrInvalidTransition
	}
	if len(metadata) == 0 {
		metadata = types.JSONText(`{}`)
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE wallet_transactions
		SET status = $1, metadata = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4
	`, to, metadata, entryID, from)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}
