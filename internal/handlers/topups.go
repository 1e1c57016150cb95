package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"topup/internal/middleware"
	"topup/internal/models"
	"topup/internal/store"
)

const maxBodyBytes = 1 << 16

// CreateTopup files a top-up request for the authenticated user.
func (h *Handler) CreateTopup(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var payload topupRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	h.createTopup(w, r, payload, userID, userID)
}

// AdminCreateTopup files a top-up request on behalf of payload.user_id.
func (h *Handler) AdminCreateTopup(w http.ResponseWriter, r *http.Request) {
	adminID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var payload topupRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	h.createTopup(w, r, payload, payload.UserID, adminID)
}

func (h *Handler) createTopup(w http.ResponseWriter, r *http.Request, payload topupRequest, ownerID, actorID string) {
	input, err := payload.toInput(ownerID, actorID)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	created, err := h.service.CreateTopupRequest(r.Context(), input)
	if err != nil {
		h.respondServiceError(w, err, "unable to create top-up request")
		return
	}
	respondJSON(w, http.StatusCreated, topupJSON(created))
}

func (h *Handler) GetTopup(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	req, err := h.topups.GetByID(r.Context(), id)
	if err != nil {
		if store.IsNotFound(err) {
			respondError(w, http.StatusNotFound, "topup_not_found")
			return
		}
		respondError(w, http.StatusInternalServerError, "unable to load top-up request")
		return
	}
	response := topupJSON(req)
	entry, err := h.ledger.GetByReference(r.Context(), req.Reference(), models.EntryTopup)
	switch {
	case err == nil:
		response["ledger_entry"] = entryJSON(entry)
	case store.IsNotFound(err):
		response["ledger_entry"] = nil
	default:
		respondError(w, http.StatusInternalServerError, "unable to load ledger entry")
		return
	}
	respondJSON(w, http.StatusOK, response)
}

func (h *Handler) ApproveTopup(w http.ResponseWriter, r *http.Request) {
	adminID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	approved, err := h.service.ApproveTopupRequest(r.Context(), chi.URLParam(r, "id"), adminID)
	if err != nil {
		h.respondServiceError(w, err, "unable to approve top-up request")
		return
	}
	respondJSON(w, http.StatusOK, topupJSON(approved))
}

func (h *Handler) RejectTopup(w http.ResponseWriter, r *http.Request) {
	adminID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	rejected, err := h.service.RejectTopupRequest(r.Context(), chi.URLParam(r, "id"), adminID)
	if err != nil {
		h.respondServiceError(w, err, "unable to reject top-up request")
		return
	}
	respondJSON(w, http.StatusOK, topupJSON(rejected))
}
