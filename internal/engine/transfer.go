package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/congo-pay/walletcore/internal/account"
	"github.com/congo-pay/walletcore/internal/ledger"
	"github.com/congo-pay/walletcore/internal/notification"
)

// TransferInput moves funds between two accounts. The receiver is named by
// owner id or by account id.
type TransferInput struct {
	FromOwnerID    string
	ToOwnerID      string
	ToAccountID    string
	Amount         int64
	Description    string
	IdempotencyKey string
}

// Transfer debits the sender and credits the receiver as one unit. The result
// carries the sender's account and debit entry, with the credit entry as
// Counterpart.
func (e *Engine) Transfer(ctx context.Context, in TransferInput) (res Result, err error) {
	ctx, span := e.startSpan(ctx, "engine.Transfer", attribute.Int64("amount", in.Amount))
	defer func() { endSpan(span, err) }()

	switch {
	case in.Amount <= 0:
		return Result{}, ErrInvalidAmount
	case in.IdempotencyKey == "":
		return Result{}, ErrMissingKey
	case in.ToOwnerID == "" && in.ToAccountID == "":
		return Result{}, invalid("receiver is required")
	}

	from, err := e.ownerAccount(ctx, in.FromOwnerID)
	if err != nil {
		return Result{}, err
	}
	corr := correlationID(ledger.KindTransferOut, from.ID, in.IdempotencyKey)
	if prior, found, err := e.prior(ctx, corr, ledger.KindTransferOut); err != nil {
		return Result{}, err
	} else if found {
		return e.replay(ctx, prior, in.Amount)
	}

	to, err := e.receiver(ctx, in)
	if err != nil {
		return Result{}, err
	}
	if to.ID == from.ID {
		return Result{}, ErrSameAccount
	}

	debitDesc := "Sent money to " + to.OwnerID
	creditDesc := "Received money from " + from.OwnerID
	if d := strings.TrimSpace(in.Description); d != "" {
		debitDesc, creditDesc = d, d
	}
	debit := ledger.Entry{
		AccountID:             from.ID,
		Direction:             ledger.Debit,
		Amount:                in.Amount,
		Kind:                  ledger.KindTransferOut,
		CounterpartyAccountID: to.ID,
		CorrelationID:         corr,
		Status:                ledger.StatusSettled,
		Description:           debitDesc,
	}
	credit := ledger.Entry{
		AccountID:             to.ID,
		Direction:             ledger.Credit,
		Amount:                in.Amount,
		Kind:                  ledger.KindTransferIn,
		CounterpartyAccountID: from.ID,
		CorrelationID:         corr,
		Status:                ledger.StatusSettled,
		Description:           creditDesc,
	}

	var (
		pair    Pair
		earlier ledger.Entry
		raced   bool
	)
	err = e.withRetry(ctx, "transfer", func() error {
		src, dst, err := e.readOrdered(ctx, from.ID, to.ID)
		if err != nil {
			return err
		}
		if !src.Active() || !dst.Active() {
			return ErrAccountClosed
		}
		if src.Balance < in.Amount {
			earlier, raced, err = e.prior(ctx, corr, ledger.KindTransferOut)
			if err != nil || raced {
				return err
			}
			return ErrInsufficientFunds
		}
		pair, err = e.poster.PostPair(ctx,
			Leg{Entry: debit, ExpectedVersion: src.Version},
			Leg{Entry: credit, ExpectedVersion: dst.Version})
		return err
	})
	if errors.Is(err, ledger.ErrDuplicateOperation) {
		return e.replayAfterDuplicate(ctx, corr, ledger.KindTransferOut, in.Amount)
	}
	if err != nil {
		return Result{}, translate(err)
	}
	if raced {
		// A concurrent request with the same key spent the funds first.
		return e.replay(ctx, earlier, in.Amount)
	}

	e.notify(ctx, notification.Message{
		Kind:          notification.KindTransferReceived,
		Destination:   pair.To.OwnerID,
		Body:          fmt.Sprintf("You received %d from %s", in.Amount, from.OwnerID),
		AccountID:     pair.To.ID,
		EntryID:       pair.Credit.ID,
		CorrelationID: corr,
		Amount:        in.Amount,
	})
	return Result{Account: pair.From, Entry: pair.Debit, Counterpart: pair.Credit}, nil
}

func (e *Engine) receiver(ctx context.Context, in TransferInput) (account.Account, error) {
	var (
		acct account.Account
		err  error
	)
	if in.ToAccountID != "" {
		acct, err = e.accounts.Get(ctx, in.ToAccountID)
	} else {
		acct, err = e.accounts.GetByOwner(ctx, in.ToOwnerID)
	}
	if err != nil {
		return account.Account{}, translate(err)
	}
	return acct, nil
}

// readOrdered reads both accounts in ascending id order and returns them as (from, to).
func (e *Engine) readOrdered(ctx context.Context, fromID, toID string) (account.Account, account.Account, error) {
	firstID, secondID := fromID, toID
	if toID < fromID {
		firstID, secondID = toID, fromID
	}
	first, err := e.accounts.Get(ctx, firstID)
	if err != nil {
		return account.Account{}, account.Account{}, err
	}
	second, err := e.accounts.Get(ctx, secondID)
	if err != nil {
		return account.Account{}, account.Account{}, err
	}
	if first.ID == fromID {
		return first, second, nil
	}
	return second, first, nil
}
