package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/congo-pay/walletcore/internal/account"
	"github.com/congo-pay/walletcore/internal/ledger"
)

// Errors returned by the engine. Callers branch on them with errors.Is; no
// storage error crosses the engine boundary untranslated.
var (
	ErrValidation        = errors.New("validation failed")
	ErrAccountNotFound   = errors.New("account not found")
	ErrAccountExists     = errors.New("account already exists")
	ErrEntryNotFound     = errors.New("transaction not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrPaymentFailed     = errors.New("payment failed")
	ErrTransientFailure  = errors.New("temporarily unable to complete operation")
	ErrInternal          = errors.New("internal storage failure")

	ErrAccountClosed = fmt.Errorf("%w: account is closed", ErrValidation)
	ErrSameAccount   = fmt.Errorf("%w: cannot transfer to the same account", ErrValidation)
	ErrInvalidAmount = fmt.Errorf("%w: amount must be positive", ErrValidation)
	ErrMissingKey    = fmt.Errorf("%w: idempotency key is required", ErrValidation)
)

// errCompensated marks a failure the poster already rolled back by compensation,
// so the operation must not be retried under the same correlation id.
var errCompensated = errors.New("operation compensated")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// translate maps store errors onto the engine taxonomy. account.ErrConflict is
// left alone for the retry loop to see.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrValidation), errors.Is(err, ErrAccountNotFound), errors.Is(err, ErrAccountExists),
		errors.Is(err, ErrEntryNotFound), errors.Is(err, ErrInsufficientFunds), errors.Is(err, ErrPaymentFailed),
		errors.Is(err, ErrTransientFailure), errors.Is(err, ErrInternal):
		return err
	case errors.Is(err, errCompensated) && errors.Is(err, account.ErrConflict):
		return fmt.Errorf("%w: %v", ErrTransientFailure, err)
	case errors.Is(err, account.ErrConflict):
		return err
	case errors.Is(err, account.ErrNotFound):
		return ErrAccountNotFound
	case errors.Is(err, account.ErrAlreadyExists):
		return ErrAccountExists
	case errors.Is(err, account.ErrInsufficientFunds):
		return ErrInsufficientFunds
	case errors.Is(err, account.ErrNonZeroBalance):
		return invalid("account balance must be zero to close")
	case errors.Is(err, ledger.ErrNotFound):
		return ErrEntryNotFound
	case errors.Is(err, ledger.ErrInvalidStateTransition):
		return fmt.Errorf("%w: %v", ErrValidation, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrTransientFailure, err)
	default:
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
}
