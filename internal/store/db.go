package store

import (
	"context"
	"database/sql"
	"errors"
)

var (
	// ErrStaleStatus means a guarded update matched no row because the
	// status changed under the caller.
	ErrStaleStatus       = errors.New("row status changed concurrently")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("amount must be positive")
)

type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type Getter interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
}

type Selecter interface {
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

type DB interface {
	Execer
	Getter
	Selecter
}

type Tx interface {
	Execer
	Getter
}

func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func expectOneRow(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrStaleStatus
	}
	return nil
}
