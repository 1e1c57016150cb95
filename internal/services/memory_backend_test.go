package services

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"

	"topup/internal/events"
	"topup/internal/models"
	"topup/internal/store"
	"topup/internal/websocket"
)

type memState struct {
	wallets map[string]models.Wallet
	entries map[string]models.LedgerEntry
	topups  map[string]models.TopupRequest
	users   map[string]bool
	audit   []string
}

func (s memState) clone() memState {
	out := memState{
		wallets: make(map[string]models.Wallet, len(s.wallets)),
		entries: make(map[string]models.LedgerEntry, len(s.entries)),
		topups:  make(map[string]models.TopupRequest, len(s.topups)),
		users:   make(map[string]bool, len(s.users)),
		audit:   append([]string(nil), s.audit...),
	}
	for k, v := range s.wallets {
		out.wallets[k] = v
	}
	for k, v := range s.entries {
		out.entries[k] = v
	}
	for k, v := range s.topups {
		out.topups[k] = v
	}
	for k, v := range s.users {
		out.users[k] = v
	}
	return out
}

// memoryBackend stands in for the database. The tx runner holds mu for the
// whole transaction, which serialises callers the way row locks do, and
// restores the snapshot when fn fails.
type memoryBackend struct {
	mu       sync.Mutex
	state    memState
	auditErr error
	credits  atomic.Int64
	ids      atomic.Int64
}

func newMemoryBackend(users ...string) *memoryBackend {
	b := &memoryBackend{state: memState{
		wallets: map[string]models.Wallet{},
		entries: map[string]models.LedgerEntry{},
		topups:  map[string]models.TopupRequest{},
		users:   map[string]bool{},
	}}
	for _, u := range users {
		b.state.users[u] = true
	}
	return b
}

func (b *memoryBackend) nextID() string {
	return fmt.Sprintf("id-%d", b.ids.Add(1))
}

// update mutates committed state outside of any transaction.
func (b *memoryBackend) update(fn func(s *memState)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(&b.state)
}

func (b *memoryBackend) snapshot() memState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.clone()
}

func (s memState) entryFor(topupID string) (models.LedgerEntry, bool) {
	for _, e := range s.entries {
		if e.ReferenceType == models.RefTopupRequest && e.ReferenceID == topupID && e.Type == models.EntryTopup {
			return e, true
		}
	}
	return models.LedgerEntry{}, false
}

func (s memState) walletFor(userID, currency string) (models.Wallet, bool) {
	for _, w := range s.wallets {
		if w.UserID == userID && w.Currency == currency {
			return w, true
		}
	}
	return models.Wallet{}, false
}

type memTxRunner struct {
	b *memoryBackend
	// replayFirst runs fn once and throws its writes away before the real
	// attempt, like a serialization failure at commit.
	replayFirst bool
}

func (r memTxRunner) WithTx(_ context.Context, fn func(*sqlx.Tx) error) error {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	if r.replayFirst {
		snap := r.b.state.clone()
		_ = fn(nil)
		r.b.state = snap
	}
	snap := r.b.state.clone()
	if err := fn(nil); err != nil {
		r.b.state = snap
		return err
	}
	return nil
}

type memTopups struct{ b *memoryBackend }

func (m memTopups) Create(_ context.Context, _ store.Execer, req models.TopupRequest) error {
	m.b.state.topups[req.ID] = req
	return nil
}

func (m memTopups) GetForUpdate(_ context.Context, _ store.Getter, id string) (models.TopupRequest, error) {
	req, ok := m.b.state.topups[id]
	if !ok {
		return models.TopupRequest{}, sql.ErrNoRows
	}
	return req, nil
}

func (m memTopups) SetWallet(_ context.Context, _ store.Execer, id, walletID string) error {
	req, ok := m.b.state.topups[id]
	if !ok {
		return store.ErrStaleStatus
	}
	req.WalletID = &walletID
	m.b.state.topups[id] = req
	return nil
}

func (m memTopups) MarkApproved(_ context.Context, _ store.Execer, id, approverID string, at time.Time) error {
	req, ok := m.b.state.topups[id]
	if !ok || req.Status != models.TopupPending {
		return store.ErrStaleStatus
	}
	req.Status = models.TopupApproved
	req.ApprovedBy = &approverID
	req.ApprovedAt = &at
	m.b.state.topups[id] = req
	return nil
}

func (m memTopups) MarkRejected(_ context.Context, _ store.Execer, id string) error {
	req, ok := m.b.state.topups[id]
	if !ok || req.Status != models.TopupPending {
		return store.ErrStaleStatus
	}
	req.Status = models.TopupRejected
	req.ApprovedBy = nil
	req.ApprovedAt = nil
	m.b.state.topups[id] = req
	return nil
}

type memLedger struct{ b *memoryBackend }

func (m memLedger) Insert(_ context.Context, _ store.Execer, entry models.LedgerEntry) error {
	if _, dup := m.b.state.entryFor(entry.ReferenceID); dup && entry.ReferenceType == models.RefTopupRequest {
		return fmt.Errorf("duplicate reference")
	}
	m.b.state.entries[entry.ID] = entry
	return nil
}

func (m memLedger) GetByReferenceForUpdate(_ context.Context, _ store.Getter, ref models.Reference, entryType models.EntryType) (models.LedgerEntry, error) {
	for _, e := range m.b.state.entries {
		if e.Reference() == ref && e.Type == entryType {
			return e, nil
		}
	}
	return models.LedgerEntry{}, sql.ErrNoRows
}

func (m memLedger) Transition(_ context.Context, _ store.Execer, entryID string, from, to models.EntryStatus, metadata types.JSONText) error {
	if !from.CanTransition(to) {
		return store.ErrInvalidTransition
	}
	e, ok := m.b.state.entries[entryID]
	if !ok || e.Status != from {
		return store.ErrStaleStatus
	}
	e.Status = to
	e.Metadata = metadata
	m.b.state.entries[entryID] = e
	return nil
}

type memWallets struct{ b *memoryBackend }

func (m memWallets) EnsureForUser(_ context.Context, _ store.Execer, id, userID, currency string) error {
	if _, ok := m.b.state.walletFor(userID, currency); ok {
		return nil
	}
	m.b.state.wallets[id] = models.Wallet{ID: id, UserID: userID, Currency: currency}
	return nil
}

func (m memWallets) GetByUserAndCurrency(_ context.Context, _ store.Getter, userID, currency string) (models.Wallet, error) {
	w, ok := m.b.state.walletFor(userID, currency)
	if !ok {
		return models.Wallet{}, sql.ErrNoRows
	}
	return w, nil
}

func (m memWallets) GetForUpdate(_ context.Context, _ store.Getter, walletID string) (models.Wallet, error) {
	w, ok := m.b.state.wallets[walletID]
	if !ok {
		return models.Wallet{}, sql.ErrNoRows
	}
	return w, nil
}

func (m memWallets) Increment(_ context.Context, _ store.Getter, walletID string, amount int64) (int64, error) {
	w, ok := m.b.state.wallets[walletID]
	if !ok {
		return 0, sql.ErrNoRows
	}
	w.Balance += amount
	m.b.state.wallets[walletID] = w
	m.b.credits.Add(1)
	return w.Balance, nil
}

type memUsers struct{ b *memoryBackend }

func (m memUsers) Exists(_ context.Context, _ store.Getter, userID string) (bool, error) {
	return m.b.state.users[userID], nil
}

type memAudit struct{ b *memoryBackend }

func (m memAudit) LogIsolated(_ context.Context, _ store.Execer, _ *string, action, _, entityID, _ string) error {
	if m.b.auditErr != nil {
		return m.b.auditErr
	}
	m.b.state.audit = append(m.b.state.audit, action+":"+entityID)
	return nil
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []events.Event
}

func (d *recordingDispatcher) Dispatch(_ context.Context, event events.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, event)
}

func (d *recordingDispatcher) ofType(eventType string) []events.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []events.Event
	for _, e := range d.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

type recordingHub struct {
	mu       sync.Mutex
	balances []websocket.BalanceUpdate
	topups   []websocket.TopupUpdate
}

func (h *recordingHub) BroadcastBalance(_ string, update websocket.BalanceUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.balances = append(h.balances, update)
}

func (h *recordingHub) BroadcastTopup(_ string, update websocket.TopupUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.topups = append(h.topups, update)
}

type harness struct {
	backend    *memoryBackend
	dispatcher *recordingDispatcher
	hub        *recordingHub
	service    *TopupService
}

func newHarness(runner func(b *memoryBackend) memTxRunner, users ...string) *harness {
	b := newMemoryBackend(users...)
	if runner == nil {
		runner = func(b *memoryBackend) memTxRunner { return memTxRunner{b: b} }
	}
	h := &harness{backend: b, dispatcher: &recordingDispatcher{}, hub: &recordingHub{}}
	h.service = NewTopupService(runner(b), memTopups{b}, memLedger{b}, memWallets{b}, memUsers{b}, memAudit{b}, h.dispatcher, h.hub, nil)
	h.service.newID = b.nextID
	return h
}
