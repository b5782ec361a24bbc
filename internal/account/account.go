package account

import (
	"context"
	"errors"
	"time"
)

// Status values an account can hold.
const (
	StatusActive = "active"
	StatusClosed = "closed"
)

var (
	// ErrNotFound indicates no account matches the lookup.
	ErrNotFound = errors.New("account not found")
	// ErrAlreadyExists indicates the owner already holds an account.
	ErrAlreadyExists = errors.New("account already exists")
	// ErrConflict indicates the expected version no longer matches the stored one.
	ErrConflict = errors.New("account version conflict")
	// ErrInsufficientFunds indicates a delta would drive the balance below zero.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrNonZeroBalance indicates a close was attempted on an account still holding funds.
	ErrNonZeroBalance = errors.New("account balance is not zero")
)

// Account is a single owner's balance in minor currency units.
type Account struct {
	ID        string
	OwnerID   string
	Balance   int64
	Version   int64
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Active reports whether the account accepts new money movement.
func (a Account) Active() bool {
	return a.Status == StatusActive
}

// Store persists accounts. ApplyDelta is the only way a balance changes and
// every successful mutation bumps Version by exactly one.
type Store interface {
	Create(ctx context.Context, ownerID string) (Account, error)
	Get(ctx context.Context, id string) (Account, error)
	GetByOwner(ctx context.Context, ownerID string) (Account, error)
	List(ctx context.Context, offset, limit int) ([]Account, error)
	ApplyDelta(ctx context.Context, id string, delta, expectedVersion int64) (Account, error)
	Close(ctx context.Context, id string, expectedVersion int64) (Account, error)
}
