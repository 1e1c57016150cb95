package events

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx/types"

	"topup/internal/models"
)

var (
	ErrMissingKey      = errors.New("event idempotency key is required")
	ErrMissingType     = errors.New("event type is required")
	ErrInvalidSeverity = errors.New("invalid event severity")
)

const (
	TypeTopupRequested   = "topup.requested"
	TypeTopupApproved    = "topup.approved"
	TypeTopupRejected    = "topup.rejected"
	TypeWalletCredited   = "wallet.credited"
	TypeConsistencyAlarm = "ledger.consistency_alarm"
)

const (
	ActorUser   = "user"
	ActorAdmin  = "admin"
	ActorSystem = "system"

	EntityTopupRequest = "topup_request"
	EntityWallet       = "wallet"
	EntityLedgerEntry  = "wallet_transaction"
)

// Ref names an entity or actor by type and id.
type Ref struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Event is the payload handed to a Dispatcher. The caller computes the
// idempotency key; handlers never generate one.
type Event struct {
	Type           string          `json:"type"`
	Entity         Ref             `json:"entity"`
	Actor          Ref             `json:"actor"`
	Meta           map[string]any  `json:"meta,omitempty"`
	Severity       models.Severity `json:"severity"`
	Financial      bool            `json:"financial"`
	IdempotencyKey string          `json:"idempotency_key"`
	OccurredAt     time.Time       `json:"occurred_at"`
}

// Key builds the deterministic idempotency key for an action on an entity.
func Key(entityType, entityID, action string) string {
	return strings.Join([]string{entityType, entityID, action}, ":")
}

func (e Event) Validate() error {
	if strings.TrimSpace(e.IdempotencyKey) == "" {
		return ErrMissingKey
	}
	if strings.TrimSpace(e.Type) == "" {
		return ErrMissingType
	}
	if e.Severity != "" && !e.Severity.Valid() {
		return ErrInvalidSeverity
	}
	return nil
}

func (e Event) record(id string, now time.Time) (models.SystemEvent, error) {
	meta := e.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return models.SystemEvent{}, err
	}
	severity := e.Severity
	if severity == "" {
		severity = models.SeverityInfo
	}
	createdAt := e.OccurredAt
	if createdAt.IsZero() {
		createdAt = now
	}
	return models.SystemEvent{
		ID:             id,
		EventType:      e.Type,
		EntityType:     e.Entity.Type,
		EntityID:       e.Entity.ID,
		ActorType:      e.Actor.Type,
		ActorID:        e.Actor.ID,
		Metadata:       types.JSONText(raw),
		Severity:       severity,
		IsFinancial:    e.Financial,
		IdempotencyKey: e.IdempotencyKey,
		CreatedAt:      createdAt,
	}, nil
}
