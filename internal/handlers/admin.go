package handlers

import (
	"net/http"
	"strings"

	"topup/internal/auth"
	"topup/internal/middleware"
	"topup/internal/money"
	"topup/internal/websocket"
)

// Reconcile compares each stored wallet balance with its posted ledger
// entries. ?drift=true limits the report to wallets that disagree.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	onlyDrift := r.URL.Query().Get("drift") == "true"
	rows, err := h.wallets.Reconcile(r.Context(), onlyDrift)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to reconcile balances")
		return
	}
	normalized := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		normalized = append(normalized, map[string]any{
			"wallet_id":      row.WalletID,
			"user_id":        row.UserID,
			"currency":       row.Currency,
			"wallet_balance": money.FormatMinor(row.Balance),
			"ledger_sum":     money.FormatMinor(row.Posted),
			"difference":     money.FormatMinor(row.Delta()),
		})
	}
	respondJSON(w, http.StatusOK, normalized)
}

func (h *Handler) WSBalances(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.tokenUser(w, r)
	if !ok {
		return
	}
	websocket.ServeWS(w, r, h.hub, userID)
}

// WSEvents streams top-up updates and recorded system events to admins with
// ledger access.
func (h *Handler) WSEvents(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.tokenUser(w, r)
	if !ok {
		return
	}
	if err := middleware.AuthorizeAdmin(r.Context(), h.admin, userID, RoleViewLedger); err != nil {
		middleware.WriteAccessError(w, err)
		return
	}
	websocket.ServeWS(w, r, h.hub, websocket.AdminFeed)
}

func (h *Handler) tokenUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	token := r.URL.Query().Get("token")
	if token == "" {
		authHeader := r.Header.Get("Authorization")
		if strings.HasPrefix(authHeader, "Bearer ") {
			token = strings.TrimPrefix(authHeader, "Bearer ")
		}
	}
	if token == "" {
		respondError(w, http.StatusUnauthorized, "missing token")
		return "", false
	}
	claims, err := auth.ParseToken(h.cfg.JWTSecret, token)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid token")
		return "", false
	}
	return claims.UserID, true
}
