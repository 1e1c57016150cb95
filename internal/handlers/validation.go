package handlers

import (
	"errors"
	"strings"

	"topup/internal/money"
	"topup/internal/services"
	"topup/internal/validator"
)

var errMissingUser = errors.New("user_id is required")

type topupRequest struct {
	UserID   string  `json:"user_id"`
	WalletID *string `json:"wallet_id"`
	Method   string  `json:"method"`
	Amount   string  `json:"amount"`
	Currency string  `json:"currency"`
	Note     *string `json:"note"`
}

// toInput validates the payload and converts it for the orchestrator. The
// owner comes from the caller, the actor from the token.
func (p topupRequest) toInput(ownerID, actorID string) (services.CreateTopupInput, error) {
	if ownerID == "" {
		return services.CreateTopupInput{}, errMissingUser
	}
	amount, err := money.ParseMinor(p.Amount)
	if err != nil {
		return services.CreateTopupInput{}, err
	}
	if err := validator.ValidateAmount(amount); err != nil {
		return services.CreateTopupInput{}, err
	}
	currency := strings.ToUpper(strings.TrimSpace(p.Currency))
	if err := validator.ValidateCurrency(currency); err != nil {
		return services.CreateTopupInput{}, err
	}
	method := strings.ToLower(strings.TrimSpace(p.Method))
	if err := validator.ValidateMethod(method); err != nil {
		return services.CreateTopupInput{}, err
	}
	if p.Note != nil {
		if err := validator.ValidateNote(*p.Note); err != nil {
			return services.CreateTopupInput{}, err
		}
	}
	walletID := p.WalletID
	if walletID != nil && strings.TrimSpace(*walletID) == "" {
		walletID = nil
	}
	return services.CreateTopupInput{
		UserID:   ownerID,
		WalletID: walletID,
		Method:   method,
		Amount:   amount,
		Currency: currency,
		Note:     p.Note,
		ActorID:  actorID,
	}, nil
}
