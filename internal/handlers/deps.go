package handlers

import (
	"context"

	"topup/internal/models"
	"topup/internal/services"
)

type TopupService interface {
	CreateTopupRequest(ctx context.Context, in services.CreateTopupInput) (models.TopupRequest, error)
	ApproveTopupRequest(ctx context.Context, requestID, approverID string) (models.TopupRequest, error)
	RejectTopupRequest(ctx context.Context, requestID, actorID string) (models.TopupRequest, error)
}

type TopupReader interface {
	GetByID(ctx context.Context, id string) (models.TopupRequest, error)
}

type LedgerReader interface {
	GetByReference(ctx context.Context, ref models.Reference, entryType models.EntryType) (models.LedgerEntry, error)
}

type WalletReconciler interface {
	Reconcile(ctx context.Context, onlyDrift bool) ([]models.WalletDrift, error)
}

type AdminStore interface {
	IsAdmin(ctx context.Context, userID string) (bool, bool, error)
	HasRole(ctx context.Context, userID, role string) (bool, error)
}
