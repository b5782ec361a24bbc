package ledger

import (
	"context"
	"errors"
	"time"
)

// Direction tells whether an entry adds to or takes from the balance.
type Direction string

const (
	Credit Direction = "credit"
	Debit  Direction = "debit"
)

// Kind classifies the operation that produced an entry.
type Kind string

const (
	KindDeposit     Kind = "deposit"
	KindWithdrawal  Kind = "withdrawal"
	KindPayout      Kind = "payout"
	KindTransferOut Kind = "transfer_out"
	KindTransferIn  Kind = "transfer_in"
)

// GatewayBacked reports whether entries of this kind settle through the external gateway.
func (k Kind) GatewayBacked() bool {
	switch k {
	case KindDeposit, KindWithdrawal, KindPayout:
		return true
	default:
		return false
	}
}

// Status is the settlement state of an entry.
type Status string

const (
	StatusPending Status = "pending"
	StatusSettled Status = "settled"
	StatusFailed  Status = "failed"
)

var (
	// ErrDuplicateOperation indicates the (correlation id, kind) pair is already recorded.
	ErrDuplicateOperation = errors.New("duplicate operation")
	// ErrNotFound indicates the entry does not exist for the requested account.
	ErrNotFound = errors.New("entry not found")
	// ErrInvalidStateTransition indicates a status change other than pending to settled or failed.
	ErrInvalidStateTransition = errors.New("invalid entry state transition")
)

// Entry is one immutable balance-changing record. Only Status, and GatewayRef
// while pending, may change after Append.
type Entry struct {
	ID                    string
	AccountID             string
	Direction             Direction
	Amount                int64
	Kind                  Kind
	CounterpartyAccountID string
	CorrelationID         string
	Status                Status
	Description           string
	GatewayRef            string
	CreatedAt             time.Time
}

// Signed returns the balance effect of the entry once settled.
func (e Entry) Signed() int64 {
	if e.Direction == Debit {
		return -e.Amount
	}
	return e.Amount
}

// Effect returns the balance effect of the entry in its current status.
// Pending debits hold funds; pending credits add nothing until they settle,
// so reversing a pending entry never lowers the balance.
func (e Entry) Effect() int64 {
	switch {
	case e.Status == StatusFailed:
		return 0
	case e.Status == StatusPending && e.Direction == Credit:
		return 0
	default:
		return e.Signed()
	}
}

// SettleDelta is the balance change that settling this pending entry applies.
func (e Entry) SettleDelta() int64 {
	e.Status = StatusPending
	return e.Signed() - e.Effect()
}

// ReverseDelta is the balance change that failing this pending entry applies.
func (e Entry) ReverseDelta() int64 {
	e.Status = StatusPending
	return -e.Effect()
}

// Ledger is the append-only transaction history.
type Ledger interface {
	Append(ctx context.Context, entry Entry) (Entry, error)
	GetByID(ctx context.Context, accountID, entryID string) (Entry, error)
	FindByCorrelation(ctx context.Context, correlationID string, kind Kind) (Entry, error)
	FindByGatewayRef(ctx context.Context, ref string) (Entry, error)
	// ListByAccount returns entries most recent first. Offsets past the end yield an empty slice.
	ListByAccount(ctx context.Context, accountID string, offset, limit int) ([]Entry, error)
	CountByAccount(ctx context.Context, accountID string) (int, error)
	// SumByAccount totals the Effect of every entry: settled entries and pending debits.
	SumByAccount(ctx context.Context, accountID string) (int64, error)
	HasPending(ctx context.Context, accountID string) (bool, error)
	ListPending(ctx context.Context, createdBefore time.Time, limit int) ([]Entry, error)
	UpdateStatus(ctx context.Context, entryID string, status Status) (Entry, error)
	SetGatewayRef(ctx context.Context, entryID, ref string) error
}

func validTransition(from, to Status) bool {
	return from == StatusPending && (to == StatusSettled || to == StatusFailed)
}
