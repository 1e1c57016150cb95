package models

type EntryStatus string

const (
	EntryPending  EntryStatus = "pending"
	EntryPosted   EntryStatus = "posted"
	EntryRejected EntryStatus = "rejected"
)

var entryTransitions = map[EntryStatus][]EntryStatus{
	EntryPending: {EntryPosted, EntryRejected},
}

func (s EntryStatus) CanTransition(to EntryStatus) bool {
	for _, next := range entryTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func (s EntryStatus) IsTerminal() bool {
	return len(entryTransitions[s]) == 0
}

type TopupStatus string

const (
	TopupPending   TopupStatus = "pending"
	TopupApproved  TopupStatus = "approved"
	TopupRejected  TopupStatus = "rejected"
	TopupCancelled TopupStatus = "cancelled"
)

var topupTransitions = map[TopupStatus][]TopupStatus{
	TopupPending: {TopupApproved, TopupRejected, TopupCancelled},
}

func (s TopupStatus) CanTransition(to TopupStatus) bool {
	for _, next := range topupTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func (s TopupStatus) IsTerminal() bool {
	return len(topupTransitions[s]) == 0
}

type ReferenceKind string

const (
	RefTopupRequest ReferenceKind = "topup_request"
	RefOrder        ReferenceKind = "order"
	RefRefund       ReferenceKind = "refund"
	RefAdjustment   ReferenceKind = "adjustment"
	RefSettlement   ReferenceKind = "settlement"
)

// Reference points from a ledger entry back to the business object that
// caused it.
type Reference struct {
	Kind ReferenceKind
	ID   string
}

func (r Reference) Valid() bool {
	if r.ID == "" {
		return false
	}
	switch r.Kind {
	case RefTopupRequest, RefOrder, RefRefund, RefAdjustment, RefSettlement:
		return true
	}
	return false
}

func (r Reference) String() string {
	return string(r.Kind) + ":" + r.ID
}
