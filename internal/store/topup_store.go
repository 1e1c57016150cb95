package store

import (
	"context"
	"time"

	"topup/internal/models"
)

type TopupStore struct {
	db DB
}

func NewTopupStore(db DB) *TopupStore {
	return &TopupStore{db: db}
}

const topupColumns = `id, user_id, wallet_id, method, amount, currency, status, approved_by, approved_at, note, created_at, updated_at`

func (s *TopupStore) Create(ctx context.Context, tx Execer, req models.TopupRequest) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO topup_requests (id, user_id, wallet_id, method, amount, currency, status, note)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, req.ID, req.UserID, req.WalletID, req.Method, req.Amount, req.Currency, req.Status, req.Note)
	return err
}

func (s *TopupStore) GetByID(ctx context.Context, id string) (models.TopupRequest, error) {
	var row models.TopupRequest
	err := s.db.GetContext(ctx, &row, `SELECT `+topupColumns+` FROM topup_requests WHERE id = $1`, id)
	if err != nil {
		return models.TopupRequest{}, err
	}
	return row, nil
}

func (s *TopupStore) GetForUpdate(ctx context.Context, tx Getter, id string) (models.TopupRequest, error) {
	var row models.TopupRequest
	err := tx.GetContext(ctx, &row, `
		SELECT `+topupColumns+`
		FROM topup_requests
		WHERE id = $1
		FOR UPDATE
	`, id)
	if err != nil {
		return models.TopupRequest{}, err
	}
	return row, nil
}

func (s *TopupStore) SetWallet(ctx context.Context, tx Execer, id, walletID string) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE topup_requests
		SET wallet_id = $1, updated_at = NOW()
		WHERE id = $2
	`, walletID, id)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

func (s *TopupStore) MarkApproved(ctx context.Context, tx Execer, id, approverID string, at time.Time) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE topup_requests
		SET status = $1, approved_by = $2, approved_at = $3, updated_at = NOW()
		WHERE id = $4 AND status = $5
	`, models.TopupApproved, approverID, at, id, models.TopupPending)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

func (s *TopupStore) MarkRejected(ctx context.Context, tx Execer, id string) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE topup_requests
		SET status = $1, approved_by = NULL, approved_at = NULL, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`, models.TopupRejected, id, models.TopupPending)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}
