package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"topup/internal/models"
)

func TestTopupStoreCreate(t *testing.T) {
	ctx := context.Background()
	walletID := "w-1"
	execer := stubExecer{
		execFn: func(_ context.Context, query string, args ...any) (sql.Result, error) {
			if !strings.Contains(query, "INSERT INTO topup_requests") {
				t.Fatalf("unexpected query: %s", query)
			}
			if len(args) != 8 || args[0] != "t-1" || args[4] != int64(5000) || args[6] != models.TopupPending {
				t.Fatalf("unexpected args: %#v", args)
			}
			if ptr, ok := args[2].(*string); !ok || *ptr != walletID {
				t.Fatalf("unexpected wallet arg: %#v", args[2])
			}
			return affected(1), nil
		},
	}
	store := NewTopupStore(stubDB{})
	err := store.Create(ctx, execer, models.TopupRequest{
		ID:       "t-1",
		UserID:   "user-1",
		WalletID: &walletID,
		Method:   "bank_transfer",
		Amount:   5000,
		Currency: "USD",
		Status:   models.TopupPending,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTopupStoreGetForUpdate(t *testing.T) {
	ctx := context.Background()
	getter := stubGetter{
		getFn: func(_ context.Context, dest any, query string, args ...any) error {
			if !strings.Contains(query, "FROM topup_requests") || !strings.Contains(query, "FOR UPDATE") {
				t.Fatalf("unexpected query: %s", query)
			}
			*dest.(*models.TopupRequest) = models.TopupRequest{ID: "t-1", Status: models.TopupPending}
			return nil
		},
	}
	store := NewTopupStore(stubDB{})
	row, err := store.GetForUpdate(ctx, getter, "t-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if row.Status != models.TopupPending {
		t.Fatalf("unexpected row: %#v", row)
	}
}

func TestTopupStoreMarkApproved(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	execer := stubExecer{
		execFn: func(_ context.Context, query string, args ...any) (sql.Result, error) {
			if !strings.Contains(query, "WHERE id = $4 AND status = $5") {
				t.Fatalf("unexpected query: %s", query)
			}
			if args[0] != models.TopupApproved || args[1] != "7" || args[2] != at || args[4] != models.TopupPending {
				t.Fatalf("unexpected args: %#v", args)
			}
			return affected(1), nil
		},
	}
	store := NewTopupStore(stubDB{})
	if err := store.MarkApproved(ctx, execer, "t-1", "7", at); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTopupStoreMarkRejectedClearsApprover(t *testing.T) {
	ctx := context.Background()
	execer := stubExecer{
		execFn: func(_ context.Context, query string, args ...any) (sql.Result, error) {
			if !strings.Contains(query, "approved_by = NULL, approved_at = NULL") {
				t.Fatalf("unexpected query: %s", query)
			}
			return affected(0), nil
		},
	}
	store := NewTopupStore(stubDB{})
	if err := store.MarkRejected(ctx, execer, "t-1"); !errors.Is(err, ErrStaleStatus) {
		t.Fatalf("expected stale status, got %v", err)
	}
}

func TestTopupStoreSetWallet(t *testing.T) {
	ctx := context.Background()
	execer := stubExecer{
		execFn: func(_ context.Context, query string, args ...any) (sql.Result, error) {
			if !strings.Contains(query, "SET wallet_id = $1") {
				t.Fatalf("unexpected query: %s", query)
			}
			if args[0] != "w-2" || args[1] != "t-1" {
				t.Fatalf("unexpected args: %#v", args)
			}
			return affected(1), nil
		},
	}
	store := NewTopupStore(stubDB{})
	if err := store.SetWallet(ctx, execer, "t-1", "w-2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
