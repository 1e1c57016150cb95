package store

import (
	"context"
	"database/sql"
	"errors"

	"topup/internal/models"
)

type WalletStore struct {
	db DB
}

func NewWalletStore(db DB) *WalletStore {
	return &WalletStore{db: db}
}

// EnsureForUser inserts the wallet for (user, currency) unless one exists.
// The caller reads the row back afterwards to learn the winning id.
func (s *WalletStore) EnsureForUser(ctx context.Context, tx Execer, id, userID, currency string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO wallets (id, user_id, currency, balance)
		VALUES ($1, $2, $3, 0)
		ON CONFLICT (user_id, currency) DO NOTHING
	`, id, userID, currency)
	return err
}

func (s *WalletStore) GetByUserAndCurrency(ctx context.Context, tx Getter, userID, currency string) (models.Wallet, error) {
	var row models.Wallet
	err := tx.GetContext(ctx, &row, `
		SELECT id, user_id, currency, balance, created_at, updated_at
		FROM wallets
		WHERE user_id = $1 AND currency = $2
	`, userID, currency)
	if err != nil {
		return models.Wallet{}, err
	}
	return row, nil
}

func (s *WalletStore) GetForUpdate(ctx context.Context, tx Getter, walletID string) (models.Wallet, error) {
	var row models.Wallet
	err := tx.GetContext(ctx, &row, `
		SELECT id, user_id, currency, balance, created_at, updated_at
		FROM wallets
		WHERE id = $1
		FOR UPDATE
	`, walletID)
	if err != nil {
		return models.Wallet{}, err
	}
	return row, nil
}

// Increment adds amount to the stored balance in a single statement and
// returns the new balance.
func (s *WalletStore) Increment(ctx context.Context, tx Getter, walletID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	var balance int64
	err := tx.GetContext(ctx, &balance, `
		UPDATE wallets
		SET balance = balance + $1, updated_at = NOW()
		WHERE id = $2
		RETURNING balance
	`, amount, walletID)
	return balance, err
}

// Decrement subtracts amount, refusing to take the balance below zero.
func (s *WalletStore) Decrement(ctx context.Context, tx Getter, walletID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	var balance int64
	err := tx.GetContext(ctx, &balance, `
		UPDATE wallets
		SET balance = balance - $1, updated_at = NOW()
		WHERE id = $2 AND balance >= $1
		RETURNING balance
	`, amount, walletID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrInsufficientFunds
	}
	return balance, err
}

// Reconcile compares every stored balance with the net of its posted entries.
func (s *WalletStore) Reconcile(ctx context.Context, onlyDrift bool) ([]models.WalletDrift, error) {
	query := `
		SELECT w.id AS wallet_id,
		       w.user_id,
		       w.currency,
		       w.balance,
		       COALESCE(SUM(CASE WHEN e.direction = 'credit' THEN e.amount ELSE -e.amount END), 0) AS posted
		FROM wallets w
		LEFT JOIN wallet_transactions e ON e.wallet_id = w.id AND e.status = 'posted'
		GROUP BY w.id, w.user_id, w.currency, w.balance
	`
	if onlyDrift {
		query += `
		HAVING w.balance <> COALESCE(SUM(CASE WHEN e.direction = 'credit' THEN e.amount ELSE -e.amount END), 0)`
	}
	query += `
		ORDER BY w.currency, w.id`
	var rows []models.WalletDrift
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, err
	}
	return rows, nil
}
