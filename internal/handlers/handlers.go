package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"topup/internal/db"
	"topup/internal/models"
	"topup/internal/money"
	"topup/internal/services"
)

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondServiceError maps orchestrator errors onto HTTP statuses.
func (h *Handler) respondServiceError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, services.ErrTopupNotFound):
		respondError(w, http.StatusNotFound, "topup_not_found")
	case errors.Is(err, services.ErrInvalidAmount):
		respondError(w, http.StatusBadRequest, "invalid amount")
	case errors.Is(err, services.ErrWalletUnresolvable):
		respondError(w, http.StatusBadRequest, "wallet_unresolvable")
	case errors.Is(err, services.ErrWalletMismatch):
		respondError(w, http.StatusBadRequest, "wallet_mismatch")
	case errors.Is(err, services.ErrMissingActor):
		respondError(w, http.StatusBadRequest, "missing_actor")
	case errors.Is(err, services.ErrEntryAlreadyPosted):
		respondError(w, http.StatusConflict, "entry_already_posted")
	case errors.Is(err, db.ErrRetryLimitExceeded), db.IsLockTimeout(err):
		respondError(w, http.StatusServiceUnavailable, "busy, retry later")
	case errors.Is(err, services.ErrInvariantViolation):
		h.logger.Error("ledger invariant violation", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "ledger_invariant_violation")
	default:
		h.logger.Error(fallback, zap.Error(err))
		respondError(w, http.StatusInternalServerError, fallback)
	}
}

func topupJSON(req models.TopupRequest) map[string]any {
	return map[string]any{
		"id":          req.ID,
		"user_id":     req.UserID,
		"wallet_id":   req.WalletID,
		"method":      req.Method,
		"amount":      money.FormatMinor(req.Amount),
		"currency":    req.Currency,
		"status":      req.Status,
		"approved_by": req.ApprovedBy,
		"approved_at": req.ApprovedAt,
		"note":        req.Note,
		"created_at":  req.CreatedAt,
		"updated_at":  req.UpdatedAt,
	}
}

func entryJSON(entry models.LedgerEntry) map[string]any {
	return map[string]any{
		"id":             entry.ID,
		"wallet_id":      entry.WalletID,
		"type":           entry.Type,
		"direction":      entry.Direction,
		"amount":         money.FormatMinor(entry.Amount),
		"status":         entry.Status,
		"metadata":       entry.Metadata,
		"reference_type": entry.ReferenceType,
		"reference_id":   entry.ReferenceID,
		"created_at":     entry.CreatedAt,
	}
}
