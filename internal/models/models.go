package models

import (
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx/types"
)

// Wallet is the single balance record of a user in one currency.
type Wallet struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Currency  string    `db:"currency" json:"currency"`
	Balance   int64     `db:"balance" json:"balance"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

type EntryType string

const (
	EntryTopup      EntryType = "topup"
	EntryPurchase   EntryType = "purchase"
	EntryRefund     EntryType = "refund"
	EntryAdjustment EntryType = "adjustment"
	EntrySettlement EntryType = "settlement"
)

type Direction string

const (
	Credit Direction = "credit"
	Debit  Direction = "debit"
)

// LedgerEntry is a wallet transaction row. The balance moves only when the
// entry goes from pending to posted.
type LedgerEntry struct {
	ID            string         `db:"id" json:"id"`
	WalletID      string         `db:"wallet_id" json:"wallet_id"`
	Type          EntryType      `db:"type" json:"type"`
	Direction     Direction      `db:"direction" json:"direction"`
	Amount        int64          `db:"amount" json:"amount"`
	Status        EntryStatus    `db:"status" json:"status"`
	Metadata      types.JSONText `db:"metadata" json:"metadata"`
	ReferenceType ReferenceKind  `db:"reference_type" json:"reference_type"`
	ReferenceID   string         `db:"reference_id" json:"reference_id"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at" json:"updated_at"`
}

func (e LedgerEntry) Reference() Reference {
	return Reference{Kind: e.ReferenceType, ID: e.ReferenceID}
}

type TopupRequest struct {
	ID         string      `db:"id" json:"id"`
	UserID     string      `db:"user_id" json:"user_id"`
	WalletID   *string     `db:"wallet_id" json:"wallet_id,omitempty"`
	Method     string      `db:"method" json:"method"`
	Amount     int64       `db:"amount" json:"amount"`
	Currency   string      `db:"currency" json:"currency"`
	Status     TopupStatus `db:"status" json:"status"`
	ApprovedBy *string     `db:"approved_by" json:"approved_by,omitempty"`
	ApprovedAt *time.Time  `db:"approved_at" json:"approved_at,omitempty"`
	Note       *string     `db:"note" json:"note,omitempty"`
	CreatedAt  time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time   `db:"updated_at" json:"updated_at"`
}

func (r TopupRequest) Reference() Reference {
	return Reference{Kind: RefTopupRequest, ID: r.ID}
}

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return true
	}
	return false
}

// SystemEvent is an immutable audit record, unique per idempotency key.
type SystemEvent struct {
	ID             string         `db:"id" json:"id"`
	EventType      string         `db:"event_type" json:"event_type"`
	EntityType     string         `db:"entity_type" json:"entity_type"`
	EntityID       string         `db:"entity_id" json:"entity_id"`
	ActorType      string         `db:"actor_type" json:"actor_type"`
	ActorID        string         `db:"actor_id" json:"actor_id"`
	Metadata       types.JSONText `db:"metadata" json:"metadata"`
	Severity       Severity       `db:"severity" json:"severity"`
	IsFinancial    bool           `db:"is_financial" json:"is_financial"`
	IdempotencyKey string         `db:"idempotency_key" json:"idempotency_key"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
}

// WalletDrift is one row of the reconciliation report.
type WalletDrift struct {
	WalletID string `db:"wallet_id" json:"wallet_id"`
	UserID   string `db:"user_id" json:"user_id"`
	Currency string `db:"currency" json:"currency"`
	Balance  int64  `db:"balance" json:"balance"`
	Posted   int64  `db:"posted" json:"posted"`
}

func (d WalletDrift) Delta() int64 {
	return d.Balance - d.Posted
}

// MergeMetadata overlays extra keys onto a JSON object. Empty or null input
// is treated as an empty object.
func MergeMetadata(raw types.JSONText, extra map[string]any) (types.JSONText, error) {
	merged := map[string]any{}
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &merged); err != nil {
			return nil, err
		}
	}
	for k, v := range extra {
		merged[k] = v
	}
	out, err := json.Marshal(merged)
	if err != nil {
		return nil, err
	}
	return types.JSONText(out), nil
}
