package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"topup/internal/auth"
	"topup/internal/config"
	"topup/internal/middleware"
	"topup/internal/models"
	"topup/internal/services"
	"topup/internal/websocket"
)

type stubService struct {
	createFn  func(ctx context.Context, in services.CreateTopupInput) (models.TopupRequest, error)
	approveFn func(ctx context.Context, requestID, approverID string) (models.TopupRequest, error)
	rejectFn  func(ctx context.Context, requestID, actorID string) (models.TopupRequest, error)
}

func (s stubService) CreateTopupRequest(ctx context.Context, in services.CreateTopupInput) (models.TopupRequest, error) {
	if s.createFn == nil {
		return models.TopupRequest{ID: "t-1", UserID: in.UserID, Amount: in.Amount, Currency: in.Currency, Status: models.TopupPending}, nil
	}
	return s.createFn(ctx, in)
}

func (s stubService) ApproveTopupRequest(ctx context.Context, requestID, approverID string) (models.TopupRequest, error) {
	if s.approveFn == nil {
		return models.TopupRequest{ID: requestID, Status: models.TopupApproved, ApprovedBy: &approverID}, nil
	}
	return s.approveFn(ctx, requestID, approverID)
}

func (s stubService) RejectTopupRequest(ctx context.Context, requestID, actorID string) (models.TopupRequest, error) {
	if s.rejectFn == nil {
		return models.TopupRequest{ID: requestID, Status: models.TopupRejected}, nil
	}
	return s.rejectFn(ctx, requestID, actorID)
}

type stubTopupReader struct {
	getByIDFn func(ctx context.Context, id string) (models.TopupRequest, error)
}

func (s stubTopupReader) GetByID(ctx context.Context, id string) (models.TopupRequest, error) {
	if s.getByIDFn == nil {
		return models.TopupRequest{}, sql.ErrNoRows
	}
	return s.getByIDFn(ctx, id)
}

type stubLedgerReader struct {
	getByReferenceFn func(ctx context.Context, ref models.Reference, entryType models.EntryType) (models.LedgerEntry, error)
}

func (s stubLedgerReader) GetByReference(ctx context.Context, ref models.Reference, entryType models.EntryType) (models.LedgerEntry, error) {
	if s.getByReferenceFn == nil {
		return models.LedgerEntry{}, sql.ErrNoRows
	}
	return s.getByReferenceFn(ctx, ref, entryType)
}

type stubReconciler struct {
	reconcileFn func(ctx context.Context, onlyDrift bool) ([]models.WalletDrift, error)
}

func (s stubReconciler) Reconcile(ctx context.Context, onlyDrift bool) ([]models.WalletDrift, error) {
	if s.reconcileFn == nil {
		return nil, nil
	}
	return s.reconcileFn(ctx, onlyDrift)
}

type stubAdminStore struct {
	isAdminFn func(ctx context.Context, userID string) (bool, bool, error)
	hasRoleFn func(ctx context.Context, userID, role string) (bool, error)
}

func (s stubAdminStore) IsAdmin(ctx context.Context, userID string) (bool, bool, error) {
	if s.isAdminFn == nil {
		return false, false, nil
	}
	return s.isAdminFn(ctx, userID)
}

func (s stubAdminStore) HasRole(ctx context.Context, userID, role string) (bool, error) {
	if s.hasRoleFn == nil {
		return false, nil
	}
	return s.hasRoleFn(ctx, userID, role)
}

// superAdmin grants every role to every caller.
var superAdmin = stubAdminStore{
	isAdminFn: func(context.Context, string) (bool, bool, error) { return true, true, nil },
}

func newTestHandler(service TopupService, topups TopupReader, ledger LedgerReader, wallets WalletReconciler, admin AdminStore) *Handler {
	cfg := config.Config{
		AppEnv:         "test",
		Port:           "0",
		JWTSecret:      "secret",
		AllowedOrigins: "*",
	}
	return New(cfg, service, topups, ledger, wallets, admin, websocket.NewHub(), nil)
}

func bearer(t *testing.T, userID string) string {
	t.Helper()
	token, err := auth.GenerateToken("secret", userID, time.Minute)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}
	return "Bearer " + token
}

func serveWithAuth(t *testing.T, handler http.HandlerFunc, req *http.Request, userID string) *httptest.ResponseRecorder {
	t.Helper()
	req.Header.Set("Authorization", bearer(t, userID))
	rr := httptest.NewRecorder()
	middleware.Auth("secret")(handler).ServeHTTP(rr, req)
	return rr
}

func serveRoute(t *testing.T, h *Handler, req *http.Request, userID string) *httptest.ResponseRecorder {
	t.Helper()
	if userID != "" {
		req.Header.Set("Authorization", bearer(t, userID))
	}
	rr := httptest.NewRecorder()
	h.Routes().ServeHTTP(rr, req)
	return rr
}

func stringPtr(value string) *string {
	return &value
}
