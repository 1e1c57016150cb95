package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"

	"topup/internal/db"
	"topup/internal/events"
	"topup/internal/metrics"
	"topup/internal/models"
	"topup/internal/money"
	"topup/internal/store"
	"topup/internal/websocket"
)

var (
	ErrTopupNotFound      = errors.New("top-up request not found")
	ErrWalletUnresolvable = errors.New("wallet cannot be resolved")
	ErrWalletMismatch     = errors.New("wallet does not match user or currency")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrMissingActor       = errors.New("acting user is required")
	ErrEntryAlreadyPosted = errors.New("ledger entry already posted")
	// ErrInvariantViolation is never user-correctable; the transaction is
	// rolled back and retrying will not help.
	ErrInvariantViolation = errors.New("ledger invariant violation")
)

type TopupStore interface {
	Create(ctx context.Context, tx store.Execer, req models.TopupRequest) error
	GetForUpdate(ctx context.Context, tx store.Getter, id string) (models.TopupRequest, error)
	SetWallet(ctx context.Context, tx store.Execer, id, walletID string) error
	MarkApproved(ctx context.Context, tx store.Execer, id, approverID string, at time.Time) error
	MarkRejected(ctx context.Context, tx store.Execer, id string) error
}

type LedgerStore interface {
	Insert(ctx context.Context, tx store.Execer, entry models.LedgerEntry) error
	GetByReferenceForUpdate(ctx context.Context, tx store.Getter, ref models.Reference, entryType models.EntryType) (models.LedgerEntry, error)
	Transition(ctx context.Context, tx store.Execer, entryID string, from, to models.EntryStatus, metadata types.JSONText) error
}

type WalletStore interface {
	EnsureForUser(ctx context.Context, tx store.Execer, id, userID, currency string) error
	GetByUserAndCurrency(ctx context.Context, tx store.Getter, userID, currency string) (models.Wallet, error)
	GetForUpdate(ctx context.Context, tx store.Getter, walletID string) (models.Wallet, error)
	Increment(ctx context.Context, tx store.Getter, walletID string, amount int64) (int64, error)
}

type UserStore interface {
	Exists(ctx context.Context, tx store.Getter, userID string) (bool, error)
}

type AuditStore interface {
	LogIsolated(ctx context.Context, tx store.Execer, actorID *string, action, entityType, entityID, data string) error
}

type TopupHub interface {
	BroadcastBalance(userID string, update websocket.BalanceUpdate)
	BroadcastTopup(userID string, update websocket.TopupUpdate)
}

// TopupService coordinates top-up requests, their ledger entries and wallet
// balances. Each operation is one transaction that locks rows in the order
// request, ledger entry, wallet.
type TopupService struct {
	txRunner   db.TxRunner
	topups     TopupStore
	ledger     LedgerStore
	wallets    WalletStore
	users      UserStore
	audit      AuditStore
	dispatcher events.Dispatcher
	hub        TopupHub
	logger     *zap.Logger

	now   func() time.Time
	newID func() string
}

func NewTopupService(txRunner db.TxRunner, topups TopupStore, ledger LedgerStore, wallets WalletStore, users UserStore, audit AuditStore, dispatcher events.Dispatcher, hub TopupHub, logger *zap.Logger) *TopupService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TopupService{
		txRunner:   txRunner,
		topups:     topups,
		ledger:     ledger,
		wallets:    wallets,
		users:      users,
		audit:      audit,
		dispatcher: dispatcher,
		hub:        hub,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
	}
}

type CreateTopupInput struct {
	UserID   string
	WalletID *string
	Method   string
	Amount   int64
	Currency string
	Note     *string
	// ActorID is who submitted the request: the user or an admin.
	ActorID string
}

func (s *TopupService) CreateTopupRequest(ctx context.Context, in CreateTopupInput) (models.TopupRequest, error) {
	start := time.Now()
	defer observe("create", start)
	if in.Amount <= 0 {
		return models.TopupRequest{}, ErrInvalidAmount
	}
	var created models.TopupRequest
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		wallet, err := s.resolveWallet(ctx, tx, in.UserID, in.WalletID, in.Currency)
		if err != nil {
			return err
		}
		now := s.now()
		req := models.TopupRequest{
			ID:        s.newID(),
			UserID:    in.UserID,
			WalletID:  &wallet.ID,
			Method:    in.Method,
			Amount:    in.Amount,
			Currency:  in.Currency,
			Status:    models.TopupPending,
			Note:      in.Note,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.topups.Create(ctx, tx, req); err != nil {
			return fmt.Errorf("insert top-up request: %w", err)
		}
		meta, _ := json.Marshal(map[string]any{"method": in.Method, "submitted_by": in.ActorID})
		entry := models.LedgerEntry{
			ID:            s.newID(),
			WalletID:      wallet.ID,
			Type:          models.EntryTopup,
			Direction:     models.Credit,
			Amount:        in.Amount,
			Status:        models.EntryPending,
			Metadata:      types.JSONText(meta),
			ReferenceType: models.RefTopupRequest,
			ReferenceID:   req.ID,
		}
		if err := s.ledger.Insert(ctx, tx, entry); err != nil {
			return fmt.Errorf("insert ledger entry: %w", err)
		}
		created = req
		return nil
	})
	if err != nil {
		countOutcome("create", metrics.OutcomeError)
		return models.TopupRequest{}, err
	}
	countOutcome("create", metrics.OutcomeApplied)
	s.logger.Info("top-up request created",
		zap.String("topup_id", created.ID),
		zap.String("user_id", created.UserID),
		zap.Int64("amount", created.Amount),
		zap.String("currency", created.Currency),
	)
	s.publishTopup(created)
	s.RecordSystemEvent(ctx, events.TypeTopupRequested,
		events.Ref{Type: events.EntityTopupRequest, ID: created.ID},
		actorRef(in.ActorID, in.UserID),
		map[string]any{"amount": money.FormatMinor(created.Amount), "currency": created.Currency, "method": created.Method},
		models.SeverityInfo, false,
		events.Key(events.EntityTopupRequest, created.ID, "requested"),
	)
	return created, nil
}

// approval carries what the committed transaction did to the caller's
// post-commit side effects. It is reset on every attempt.
type approval struct {
	applied bool
	resumed bool
	entry   models.LedgerEntry
	wallet  models.Wallet
	balance int64
}

// ApproveTopupRequest posts the request's ledger entry and credits the
// wallet exactly once. Repeated or concurrent calls return the request
// unchanged.
func (s *TopupService) ApproveTopupRequest(ctx context.Context, requestID, approverID string) (models.TopupRequest, error) {
	start := time.Now()
	defer observe("approve", start)
	if approverID == "" {
		return models.TopupRequest{}, ErrMissingActor
	}
	var result models.TopupRequest
	var done approval
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		done = approval{}
		req, err := s.topups.GetForUpdate(ctx, tx, requestID)
		if err != nil {
			if store.IsNotFound(err) {
				return ErrTopupNotFound
			}
			return fmt.Errorf("lock top-up request: %w", err)
		}
		result = req
		if req.Status == models.TopupApproved {
			return nil
		}

		entry, err := s.ledger.GetByReferenceForUpdate(ctx, tx, req.Reference(), models.EntryTopup)
		if err != nil {
			if store.IsNotFound(err) {
				return fmt.Errorf("%w: top-up request %s has no ledger entry", ErrInvariantViolation, req.ID)
			}
			return fmt.Errorf("lock ledger entry: %w", err)
		}
		if entry.Status == models.EntryPosted {
			if req.Status != models.TopupPending {
				s.alarm("posted_entry_on_terminal_request", req, entry)
				return nil
			}
			at := s.now()
			if err := s.markApproved(ctx, tx, &req, approverID, at); err != nil {
				return err
			}
			s.auditBestEffort(ctx, tx, approverID, "topup.approved", events.EntityTopupRequest, req.ID, map[string]any{"resumed": true})
			result = req
			done = approval{resumed: true, entry: entry}
			return nil
		}
		if req.Status != models.TopupPending {
			if entry.Status == models.EntryPending {
				s.alarm("pending_entry_on_terminal_request", req, entry)
			}
			return nil
		}
		if entry.Status != models.EntryPending {
			return fmt.Errorf("%w: entry %s is %s while request %s is pending", ErrInvariantViolation, entry.ID, entry.Status, req.ID)
		}

		wallet, err := s.walletForApproval(ctx, tx, &req)
		if err != nil {
			return err
		}
		if err := checkCreditable(req, entry, wallet); err != nil {
			return err
		}

		at := s.now()
		meta, err := models.MergeMetadata(entry.Metadata, map[string]any{
			"approved_by": approverID,
			"approved_at": at.Format(time.RFC3339Nano),
		})
		if err != nil {
			return fmt.Errorf("%w: entry %s metadata: %v", ErrInvariantViolation, entry.ID, err)
		}
		if err := s.ledger.Transition(ctx, tx, entry.ID, models.EntryPending, models.EntryPosted, meta); err != nil {
			return guardFailure("post ledger entry", err)
		}
		balance, err := s.wallets.Increment(ctx, tx, wallet.ID, entry.Amount)
		if err != nil {
			return fmt.Errorf("credit wallet: %w", err)
		}
		if err := s.markApproved(ctx, tx, &req, approverID, at); err != nil {
			return err
		}

		s.auditBestEffort(ctx, tx, approverID, "topup.approved", events.EntityTopupRequest, req.ID, map[string]any{
			"amount": entry.Amount, "currency": req.Currency,
		})
		s.auditBestEffort(ctx, tx, approverID, "wallet.credited", events.EntityWallet, wallet.ID, map[string]any{
			"amount": entry.Amount, "entry_id": entry.ID, "balance_after": balance,
		})

		entry.Status = models.EntryPosted
		entry.Metadata = meta
		result = req
		done = approval{applied: true, entry: entry, wallet: wallet, balance: balance}
		return nil
	})
	if err != nil {
		countOutcome("approve", metrics.OutcomeError)
		if errors.Is(err, ErrInvariantViolation) {
			s.logger.Error("top-up approval aborted", zap.String("topup_id", requestID), zap.Error(err))
		}
		return models.TopupRequest{}, err
	}

	switch {
	case done.applied:
		countOutcome("approve", metrics.OutcomeApplied)
		metrics.WalletCredited.WithLabelValues(result.Currency).Add(float64(done.entry.Amount))
		s.logger.Info("top-up approved",
			zap.String("topup_id", result.ID),
			zap.String("approver_id", approverID),
			zap.String("wallet_id", done.wallet.ID),
			zap.Int64("amount", done.entry.Amount),
			zap.Int64("balance", done.balance),
		)
		if s.hub != nil {
			s.hub.BroadcastBalance(result.UserID, websocket.BalanceUpdate{
				WalletID: done.wallet.ID,
				Balance:  money.FormatMinor(done.balance),
				Currency: done.wallet.Currency,
			})
		}
		s.publishTopup(result)
		s.emitApproved(ctx, result, done.entry, approverID)
	case done.resumed:
		countOutcome("approve", metrics.OutcomeApplied)
		s.logger.Warn("top-up approval completed for already posted entry",
			zap.String("topup_id", result.ID),
			zap.String("entry_id", done.entry.ID),
		)
		s.publishTopup(result)
		s.emitApproved(ctx, result, done.entry, approverID)
	default:
		countOutcome("approve", metrics.OutcomeNoop)
		s.logger.Debug("top-up approval was a no-op", zap.String("topup_id", result.ID), zap.String("status", string(result.Status)))
	}
	return result, nil
}

// RejectTopupRequest rejects a pending request and its pending ledger entry.
// It never touches a wallet balance.
func (s *TopupService) RejectTopupRequest(ctx context.Context, requestID, actorID string) (models.TopupRequest, error) {
	start := time.Now()
	defer observe("reject", start)
	var result models.TopupRequest
	var applied, entryMissing bool
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		applied, entryMissing = false, false
		req, err := s.topups.GetForUpdate(ctx, tx, requestID)
		if err != nil {
			if store.IsNotFound(err) {
				return ErrTopupNotFound
			}
			return fmt.Errorf("lock top-up request: %w", err)
		}
		result = req
		if req.Status != models.TopupPending {
			return nil
		}

		entry, err := s.ledger.GetByReferenceForUpdate(ctx, tx, req.Reference(), models.EntryTopup)
		switch {
		case store.IsNotFound(err):
			entryMissing = true
		case err != nil:
			return fmt.Errorf("lock ledger entry: %w", err)
		case entry.Status == models.EntryPosted:
			return fmt.Errorf("%w: top-up request %s", ErrEntryAlreadyPosted, req.ID)
		case entry.Status == models.EntryPending:
			meta, err := models.MergeMetadata(entry.Metadata, map[string]any{
				"rejected_by": actorID,
				"rejected_at": s.now().Format(time.RFC3339Nano),
			})
			if err != nil {
				return fmt.Errorf("%w: entry %s metadata: %v", ErrInvariantViolation, entry.ID, err)
			}
			if err := s.ledger.Transition(ctx, tx, entry.ID, models.EntryPending, models.EntryRejected, meta); err != nil {
				return guardFailure("reject ledger entry", err)
			}
		}

		if err := s.topups.MarkRejected(ctx, tx, req.ID); err != nil {
			return guardFailure("reject top-up request", err)
		}
		req.Status = models.TopupRejected
		req.ApprovedBy = nil
		req.ApprovedAt = nil
		req.UpdatedAt = s.now()
		s.auditBestEffort(ctx, tx, actorID, "topup.rejected", events.EntityTopupRequest, req.ID, map[string]any{
			"entry_missing": entryMissing,
		})
		result = req
		applied = true
		return nil
	})
	if err != nil {
		countOutcome("reject", metrics.OutcomeError)
		return models.TopupRequest{}, err
	}
	if !applied {
		countOutcome("reject", metrics.OutcomeNoop)
		s.logger.Debug("top-up rejection was a no-op", zap.String("topup_id", result.ID), zap.String("status", string(result.Status)))
		return result, nil
	}
	countOutcome("reject", metrics.OutcomeApplied)
	s.logger.Info("top-up rejected", zap.String("topup_id", result.ID), zap.String("actor_id", actorID))
	s.publishTopup(result)
	s.RecordSystemEvent(ctx, events.TypeTopupRejected,
		events.Ref{Type: events.EntityTopupRequest, ID: result.ID},
		actorRef(actorID, ""),
		map[string]any{"amount": money.FormatMinor(result.Amount), "currency": result.Currency},
		models.SeverityInfo, true,
		events.Key(events.EntityTopupRequest, result.ID, "rejected"),
	)
	if entryMissing {
		metrics.ConsistencyAlarms.WithLabelValues("missing_entry_on_reject").Inc()
		s.logger.Warn("rejected top-up request had no ledger entry", zap.String("topup_id", result.ID))
		s.RecordSystemEvent(ctx, events.TypeConsistencyAlarm,
			events.Ref{Type: events.EntityTopupRequest, ID: result.ID},
			events.Ref{Type: events.ActorSystem, ID: "orchestrator"},
			map[string]any{"reason": "missing_ledger_entry", "operation": "reject"},
			models.SeverityWarning, true,
			events.Key(events.EntityTopupRequest, result.ID, "missing_entry_alarm"),
		)
	}
	return result, nil
}

// RecordSystemEvent hands an audit event to the dispatcher. It never fails
// the caller.
func (s *TopupService) RecordSystemEvent(ctx context.Context, eventType string, entity, actor events.Ref, meta map[string]any, severity models.Severity, financial bool, idempotencyKey string) {
	if s.dispatcher == nil {
		return
	}
	s.dispatcher.Dispatch(ctx, events.Event{
		Type:           eventType,
		Entity:         entity,
		Actor:          actor,
		Meta:           meta,
		Severity:       severity,
		Financial:      financial,
		IdempotencyKey: idempotencyKey,
		OccurredAt:     s.now(),
	})
}

func (s *TopupService) resolveWallet(ctx context.Context, tx store.Tx, userID string, walletID *string, currency string) (models.Wallet, error) {
	if walletID != nil && *walletID != "" {
		wallet, err := s.wallets.GetForUpdate(ctx, tx, *walletID)
		if err != nil {
			if store.IsNotFound(err) {
				return models.Wallet{}, ErrWalletUnresolvable
			}
			return models.Wallet{}, fmt.Errorf("load wallet: %w", err)
		}
		if wallet.UserID != userID || wallet.Currency != currency {
			return models.Wallet{}, ErrWalletMismatch
		}
		return wallet, nil
	}
	if userID == "" {
		return models.Wallet{}, ErrWalletUnresolvable
	}
	return s.ensureWallet(ctx, tx, userID, currency)
}

func (s *TopupService) ensureWallet(ctx context.Context, tx store.Tx, userID, currency string) (models.Wallet, error) {
	wallet, err := s.wallets.GetByUserAndCurrency(ctx, tx, userID, currency)
	if err == nil {
		return wallet, nil
	}
	if !store.IsNotFound(err) {
		return models.Wallet{}, fmt.Errorf("load wallet: %w", err)
	}
	exists, err := s.users.Exists(ctx, tx, userID)
	if err != nil {
		return models.Wallet{}, fmt.Errorf("load user: %w", err)
	}
	if !exists {
		return models.Wallet{}, ErrWalletUnresolvable
	}
	if err := s.wallets.EnsureForUser(ctx, tx, s.newID(), userID, currency); err != nil {
		return models.Wallet{}, fmt.Errorf("create wallet: %w", err)
	}
	wallet, err = s.wallets.GetByUserAndCurrency(ctx, tx, userID, currency)
	if err != nil {
		return models.Wallet{}, fmt.Errorf("reload wallet: %w", err)
	}
	return wallet, nil
}

// walletForApproval locks the wallet the request points at, creating and
// attaching one when the reference is missing.
func (s *TopupService) walletForApproval(ctx context.Context, tx store.Tx, req *models.TopupRequest) (models.Wallet, error) {
	if req.WalletID != nil {
		wallet, err := s.wallets.GetForUpdate(ctx, tx, *req.WalletID)
		if err == nil {
			return wallet, nil
		}
		if !store.IsNotFound(err) {
			return models.Wallet{}, fmt.Errorf("lock wallet: %w", err)
		}
	}
	wallet, err := s.ensureWallet(ctx, tx, req.UserID, req.Currency)
	if err != nil {
		if errors.Is(err, ErrWalletUnresolvable) {
			return models.Wallet{}, fmt.Errorf("%w: owner of top-up request %s cannot be resolved", ErrInvariantViolation, req.ID)
		}
		return models.Wallet{}, err
	}
	wallet, err = s.wallets.GetForUpdate(ctx, tx, wallet.ID)
	if err != nil {
		return models.Wallet{}, fmt.Errorf("lock wallet: %w", err)
	}
	if err := s.topups.SetWallet(ctx, tx, req.ID, wallet.ID); err != nil {
		return models.Wallet{}, fmt.Errorf("attach wallet: %w", err)
	}
	req.WalletID = &wallet.ID
	return wallet, nil
}

func checkCreditable(req models.TopupRequest, entry models.LedgerEntry, wallet models.Wallet) error {
	switch {
	case entry.Direction != models.Credit:
		return fmt.Errorf("%w: entry %s direction is %s", ErrInvariantViolation, entry.ID, entry.Direction)
	case entry.Amount <= 0:
		return fmt.Errorf("%w: entry %s amount %d", ErrInvariantViolation, entry.ID, entry.Amount)
	case wallet.Currency != req.Currency:
		return fmt.Errorf("%w: wallet %s currency %s, request currency %s", ErrInvariantViolation, wallet.ID, wallet.Currency, req.Currency)
	case wallet.UserID != req.UserID:
		return fmt.Errorf("%w: wallet %s does not belong to user %s", ErrInvariantViolation, wallet.ID, req.UserID)
	case entry.WalletID != wallet.ID:
		return fmt.Errorf("%w: entry %s targets wallet %s, request targets %s", ErrInvariantViolation, entry.ID, entry.WalletID, wallet.ID)
	}
	return nil
}

func (s *TopupService) markApproved(ctx context.Context, tx store.Execer, req *models.TopupRequest, approverID string, at time.Time) error {
	if err := s.topups.MarkApproved(ctx, tx, req.ID, approverID, at); err != nil {
		return guardFailure("approve top-up request", err)
	}
	req.Status = models.TopupApproved
	req.ApprovedBy = &approverID
	req.ApprovedAt = &at
	req.UpdatedAt = at
	return nil
}

func (s *TopupService) auditBestEffort(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID string, data map[string]any) {
	if s.audit == nil {
		return
	}
	raw, _ := json.Marshal(data)
	var actor *string
	if actorID != "" {
		actor = &actorID
	}
	if err := s.audit.LogIsolated(ctx, tx, actor, action, entityType, entityID, string(raw)); err != nil {
		s.logger.Warn("audit log write skipped",
			zap.String("action", action),
			zap.String("entity_id", entityID),
			zap.Error(err),
		)
	}
}

func (s *TopupService) alarm(kind string, req models.TopupRequest, entry models.LedgerEntry) {
	metrics.ConsistencyAlarms.WithLabelValues(kind).Inc()
	s.logger.Warn("top-up request and ledger entry disagree",
		zap.String("kind", kind),
		zap.String("topup_id", req.ID),
		zap.String("request_status", string(req.Status)),
		zap.String("entry_id", entry.ID),
		zap.String("entry_status", string(entry.Status)),
	)
}

func (s *TopupService) emitApproved(ctx context.Context, req models.TopupRequest, entry models.LedgerEntry, approverID string) {
	amount := money.FormatMinor(entry.Amount)
	s.RecordSystemEvent(ctx, events.TypeTopupApproved,
		events.Ref{Type: events.EntityTopupRequest, ID: req.ID},
		events.Ref{Type: events.ActorAdmin, ID: approverID},
		map[string]any{"amount": amount, "currency": req.Currency},
		models.SeverityInfo, true,
		events.Key(events.EntityTopupRequest, req.ID, "approved"),
	)
	s.RecordSystemEvent(ctx, events.TypeWalletCredited,
		events.Ref{Type: events.EntityWallet, ID: entry.WalletID},
		events.Ref{Type: events.ActorAdmin, ID: approverID},
		map[string]any{"amount": amount, "currency": req.Currency, "entry_id": entry.ID, "topup_id": req.ID},
		models.SeverityInfo, true,
		events.Key(events.EntityLedgerEntry, entry.ID, "posted"),
	)
}

func (s *TopupService) publishTopup(req models.TopupRequest) {
	if s.hub == nil {
		return
	}
	s.hub.BroadcastTopup(req.UserID, websocket.TopupUpdate{
		TopupID:  req.ID,
		Status:   string(req.Status),
		Amount:   money.FormatMinor(req.Amount),
		Currency: req.Currency,
	})
}

// guardFailure reports a guarded update that matched nothing. Rows are
// locked at that point, so this is an invariant breach rather than a race.
func guardFailure(step string, err error) error {
	if errors.Is(err, store.ErrStaleStatus) || errors.Is(err, store.ErrInvalidTransition) {
		return fmt.Errorf("%w: %s: %w", ErrInvariantViolation, step, err)
	}
	return fmt.Errorf("%s: %w", step, err)
}

func actorRef(actorID, userID string) events.Ref {
	switch {
	case actorID == "":
		return events.Ref{Type: events.ActorSystem, ID: "orchestrator"}
	case actorID == userID:
		return events.Ref{Type: events.ActorUser, ID: actorID}
	default:
		return events.Ref{Type: events.ActorAdmin, ID: actorID}
	}
}

func countOutcome(operation, outcome string) {
	metrics.TopupOperations.WithLabelValues(operation, outcome).Inc()
}

func observe(operation string, start time.Time) {
	metrics.TopupDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
