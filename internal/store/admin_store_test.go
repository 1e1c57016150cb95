package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
)

func TestAdminStoreIsAdminNoRows(t *testing.T) {
	ctx := context.Background()
	store := NewAdminStore(stubDB{
		getFn: func(_ context.Context, dest any, query string, args ...any) error {
			return sql.ErrNoRows
		},
	})
	isAdmin, isSuper, err := store.IsAdmin(ctx, "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if isAdmin || isSuper {
		t.Fatalf("expected non-admin result")
	}
}

func TestAdminStoreIsAdmin(t *testing.T) {
	ctx := context.Background()
	store := NewAdminStore(stubDB{
		getFn: func(_ context.Context, dest any, query string, args ...any) error {
			if !strings.Contains(query, "FROM admins") {
				t.Fatalf("unexpected query: %s", query)
			}
			*dest.(*bool) = true
			return nil
		},
	})
	isAdmin, isSuper, err := store.IsAdmin(ctx, "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !isAdmin || !isSuper {
		t.Fatalf("expected admin/super true")
	}
}

func TestAdminStoreHasRole(t *testing.T) {
	ctx := context.Background()
	store := NewAdminStore(stubDB{
		getFn: func(_ context.Context, dest any, query string, args ...any) error {
			if !strings.Contains(query, "FROM admin_roles") {
				t.Fatalf("unexpected query: %s", query)
			}
			*dest.(*int) = 1
			return nil
		},
	})
	hasRole, err := store.HasRole(ctx, "user-1", "role")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !hasRole {
		t.Fatalf("expected role to be granted")
	}
}

func TestAdminStoreIsAdminPropagatesErrors(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("connection reset")
	store := NewAdminStore(stubDB{
		getFn: func(_ context.Context, dest any, query string, args ...any) error {
			return boom
		},
	})
	if _, _, err := store.IsAdmin(ctx, "user-1"); !errors.Is(err, boom) {
		t.Fatalf("expected error to propagate, got %v", err)
	}
}
