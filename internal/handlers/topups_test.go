package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"topup/internal/db"
	"topup/internal/models"
	"topup/internal/services"
)

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid response body %q: %v", rr.Body.String(), err)
	}
	return out
}

func TestCreateTopupUsesTokenSubject(t *testing.T) {
	var got services.CreateTopupInput
	handler := newTestHandler(stubService{
		createFn: func(_ context.Context, in services.CreateTopupInput) (models.TopupRequest, error) {
			got = in
			return models.TopupRequest{ID: "t-1", UserID: in.UserID, Amount: in.Amount, Currency: in.Currency, Status: models.TopupPending}, nil
		},
	}, stubTopupReader{}, stubLedgerReader{}, stubReconciler{}, stubAdminStore{})

	body := []byte(`{"user_id":"someone-else","amount":"100.50","currency":"usd","method":"Bank_Transfer","wallet_id":""}`)
	req := httptest.NewRequest(http.MethodPost, "/topups", bytes.NewReader(body))
	rr := serveWithAuth(t, handler.CreateTopup, req, "user-1")
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.UserID != "user-1" || got.ActorID != "user-1" {
		t.Fatalf("expected token subject as owner and actor, got %+v", got)
	}
	if got.Amount != 10050 || got.Currency != "USD" || got.Method != "bank_transfer" || got.WalletID != nil {
		t.Fatalf("unexpected input: %+v", got)
	}
	if decodeBody(t, rr)["amount"] != "100.50" {
		t.Fatalf("expected formatted amount, got %s", rr.Body.String())
	}
}

func TestCreateTopupValidation(t *testing.T) {
	cases := []string{
		`not json`,
		`{"amount":"0","currency":"USD","method":"cash"}`,
		`{"amount":"1.001","currency":"USD","method":"cash"}`,
		`{"amount":"10","currency":"US","method":"cash"}`,
		`{"amount":"10","currency":"USD","method":"cheque"}`,
		`{"amount":"1e3","currency":"USD","method":"cash"}`,
	}
	for _, body := range cases {
		handler := newTestHandler(stubService{
			createFn: func(context.Context, services.CreateTopupInput) (models.TopupRequest, error) {
				t.Fatalf("service should not be called for %s", body)
				return models.TopupRequest{}, nil
			},
		}, stubTopupReader{}, stubLedgerReader{}, stubReconciler{}, stubAdminStore{})
		req := httptest.NewRequest(http.MethodPost, "/topups", bytes.NewReader([]byte(body)))
		rr := serveWithAuth(t, handler.CreateTopup, req, "user-1")
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for %s, got %d", body, rr.Code)
		}
	}
}

func TestAdminCreateTopupRequiresUser(t *testing.T) {
	handler := newTestHandler(stubService{}, stubTopupReader{}, stubLedgerReader{}, stubReconciler{}, superAdmin)
	body := []byte(`{"amount":"10","currency":"USD","method":"cash"}`)
	rr := serveRoute(t, handler, httptest.NewRequest(http.MethodPost, "/admin/topups", bytes.NewReader(body)), "admin-1")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestAdminCreateTopupOnBehalfOfUser(t *testing.T) {
	var got services.CreateTopupInput
	handler := newTestHandler(stubService{
		createFn: func(_ context.Context, in services.CreateTopupInput) (models.TopupRequest, error) {
			got = in
			return models.TopupRequest{ID: "t-1", UserID: in.UserID}, nil
		},
	}, stubTopupReader{}, stubLedgerReader{}, stubReconciler{}, superAdmin)
	body := []byte(`{"user_id":"user-9","amount":"10","currency":"USD","method":"cash","note":"counter deposit"}`)
	rr := serveRoute(t, handler, httptest.NewRequest(http.MethodPost, "/admin/topups", bytes.NewReader(body)), "admin-1")
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
	if got.UserID != "user-9" || got.ActorID != "admin-1" || got.Note == nil || *got.Note != "counter deposit" {
		t.Fatalf("unexpected input: %+v", got)
	}
}

func TestApproveTopupPassesApprover(t *testing.T) {
	var approver, requestID string
	handler := newTestHandler(stubService{
		approveFn: func(_ context.Context, id, approverID string) (models.TopupRequest, error) {
			requestID, approver = id, approverID
			return models.TopupRequest{ID: id, Status: models.TopupApproved, Amount: 10000, ApprovedBy: stringPtr(approverID)}, nil
		},
	}, stubTopupReader{}, stubLedgerReader{}, stubReconciler{}, superAdmin)

	rr := serveRoute(t, handler, httptest.NewRequest(http.MethodPost, "/admin/topups/t-1/approve", nil), "admin-7")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if requestID != "t-1" || approver != "admin-7" {
		t.Fatalf("unexpected call: %s by %s", requestID, approver)
	}
	body := decodeBody(t, rr)
	if body["status"] != "approved" || body["approved_by"] != "admin-7" || body["amount"] != "100.00" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestApproveTopupRequiresRole(t *testing.T) {
	handler := newTestHandler(stubService{
		approveFn: func(context.Context, string, string) (models.TopupRequest, error) {
			t.Fatalf("service should not be called")
			return models.TopupRequest{}, nil
		},
	}, stubTopupReader{}, stubLedgerReader{}, stubReconciler{}, stubAdminStore{
		isAdminFn: func(context.Context, string) (bool, bool, error) { return true, false, nil },
		hasRoleFn: func(_ context.Context, _ string, role string) (bool, error) { return role == RoleViewLedger, nil },
	})
	rr := serveRoute(t, handler, httptest.NewRequest(http.MethodPost, "/admin/topups/t-1/approve", nil), "admin-7")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["error"] != "missing required role" {
		t.Fatalf("unexpected body %v", body)
	}
	rr = serveRoute(t, handler, httptest.NewRequest(http.MethodPost, "/admin/topups/t-1/approve", nil), "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["error"] != "missing authorization header" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestServiceErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{services.ErrTopupNotFound, http.StatusNotFound},
		{services.ErrWalletMismatch, http.StatusBadRequest},
		{services.ErrWalletUnresolvable, http.StatusBadRequest},
		{fmt.Errorf("%w: request t-1", services.ErrEntryAlreadyPosted), http.StatusConflict},
		{fmt.Errorf("%w: entry e-1", services.ErrInvariantViolation), http.StatusInternalServerError},
		{fmt.Errorf("%w: deadlock", db.ErrRetryLimitExceeded), http.StatusServiceUnavailable},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		handler := newTestHandler(stubService{
			rejectFn: func(context.Context, string, string) (models.TopupRequest, error) {
				return models.TopupRequest{}, tc.err
			},
		}, stubTopupReader{}, stubLedgerReader{}, stubReconciler{}, superAdmin)
		rr := serveRoute(t, handler, httptest.NewRequest(http.MethodPost, "/admin/topups/t-1/reject", nil), "admin-1")
		if rr.Code != tc.status {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.status, rr.Code)
		}
	}
}

func TestGetTopupIncludesLedgerEntry(t *testing.T) {
	handler := newTestHandler(stubService{}, stubTopupReader{
		getByIDFn: func(_ context.Context, id string) (models.TopupRequest, error) {
			return models.TopupRequest{ID: id, UserID: "user-1", Amount: 2500, Currency: "USD", Status: models.TopupPending}, nil
		},
	}, stubLedgerReader{
		getByReferenceFn: func(_ context.Context, ref models.Reference, entryType models.EntryType) (models.LedgerEntry, error) {
			if ref.Kind != models.RefTopupRequest || ref.ID != "t-1" || entryType != models.EntryTopup {
				t.Fatalf("unexpected lookup: %v %s", ref, entryType)
			}
			return models.LedgerEntry{ID: "e-1", Amount: 2500, Status: models.EntryPending}, nil
		},
	}, stubReconciler{}, superAdmin)

	rr := serveRoute(t, handler, httptest.NewRequest(http.MethodGet, "/admin/topups/t-1", nil), "admin-1")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	entry, ok := decodeBody(t, rr)["ledger_entry"].(map[string]any)
	if !ok || entry["id"] != "e-1" || entry["amount"] != "25.00" {
		t.Fatalf("unexpected body: %s", rr.Body.String())
	}
}

func TestGetTopupNotFound(t *testing.T) {
	handler := newTestHandler(stubService{}, stubTopupReader{}, stubLedgerReader{}, stubReconciler{}, superAdmin)
	rr := serveRoute(t, handler, httptest.NewRequest(http.MethodGet, "/admin/topups/missing", nil), "admin-1")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}
