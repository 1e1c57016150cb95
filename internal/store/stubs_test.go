package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
)

// stubDB satisfies the sqlx handle the stores are built on. Unset hooks
// behave like a statement that touched no rows.
type stubDB struct {
	getFn    func(ctx context.Context, dest any, query string, args ...any) error
	selectFn func(ctx context.Context, dest any, query string, args ...any) error
	execFn   func(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s stubDB) GetContext(ctx context.Context, dest any, query string, args ...any) error {
	if s.getFn == nil {
		return nil
	}
	return s.getFn(ctx, dest, query, args...)
}

func (s stubDB) SelectContext(ctx context.Context, dest any, query string, args ...any) error {
	if s.selectFn == nil {
		return nil
	}
	return s.selectFn(ctx, dest, query, args...)
}

func (s stubDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if s.execFn == nil {
		return affected(0), nil
	}
	return s.execFn(ctx, query, args...)
}

// stubExecer stands in for the transaction passed to guarded updates and
// inserts.
type stubExecer struct {
	execFn func(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s stubExecer) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if s.execFn == nil {
		return affected(0), nil
	}
	return s.execFn(ctx, query, args...)
}

// stubGetter stands in for the transaction used by locking reads.
type stubGetter struct {
	getFn func(ctx context.Context, dest any, query string, args ...any) error
}

func (s stubGetter) GetContext(ctx context.Context, dest any, query string, args ...any) error {
	if s.getFn == nil {
		return nil
	}
	return s.getFn(ctx, dest, query, args...)
}

// affected reports n rows touched; guarded updates read 0 as a lost race.
func affected(n int64) sql.Result {
	return driver.RowsAffected(n)
}
