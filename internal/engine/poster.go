package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/congo-pay/walletcore/internal/account"
	"github.com/congo-pay/walletcore/internal/ledger"
)

// Leg is one balance change and the entry recording it. ExpectedVersion is
// the account version the caller read before deciding to post.
type Leg struct {
	Entry           ledger.Entry
	ExpectedVersion int64
}

// Posting is the outcome of a single leg.
type Posting struct {
	Account account.Account
	Entry   ledger.Entry
}

// Pair is the outcome of a transfer.
type Pair struct {
	From   account.Account
	To     account.Account
	Debit  ledger.Entry
	Credit ledger.Entry
}

// Poster commits balance deltas together with their ledger entries. A leg
// moves the balance by its entry's Effect, so a pending credit only becomes
// spendable once Settle applies it.
type Poster interface {
	// Post applies one leg. ErrConflict leaves no trace and may be retried.
	Post(ctx context.Context, leg Leg) (Posting, error)
	// PostPair applies both legs of a transfer so they settle together or not at all.
	PostPair(ctx context.Context, debit, credit Leg) (Pair, error)
	// Settle marks a pending entry settled and applies what it still owes the balance.
	Settle(ctx context.Context, entry ledger.Entry) (Posting, error)
	// Reverse undoes a pending entry's balance effect and marks it failed.
	Reverse(ctx context.Context, entry ledger.Entry) (Posting, error)
}

const compensationAttempts = 10

type sagaPoster struct {
	accounts account.Store
	entries  ledger.Ledger
	logger   *slog.Logger
}

// NewSagaPoster composes the store primitives without a shared transaction.
// A transfer writes the debit and then the credit, both pending, and settles
// the credit before the debit. If the credit cannot be settled both legs fail
// and the debit is credited back.
func NewSagaPoster(accounts account.Store, entries ledger.Ledger, logger *slog.Logger) Poster {
	return &sagaPoster{accounts: accounts, entries: entries, logger: logger}
}

func (p *sagaPoster) Post(ctx context.Context, leg Leg) (Posting, error) {
	delta := leg.Entry.Effect()
	acct, err := p.accounts.ApplyDelta(ctx, leg.Entry.AccountID, delta, leg.ExpectedVersion)
	if err != nil {
		return Posting{}, err
	}
	entry, err := p.entries.Append(ctx, leg.Entry)
	if err != nil {
		if delta == 0 {
			return Posting{}, err
		}
		if _, undoErr := p.adjust(ctx, leg.Entry.AccountID, -delta); undoErr != nil {
			p.logger.Error("undo balance after failed append",
				slog.String("account_id", leg.Entry.AccountID),
				slog.String("correlation_id", leg.Entry.CorrelationID),
				slog.Any("error", undoErr))
			return Posting{}, fmt.Errorf("append entry: %w; undo balance: %v", err, undoErr)
		}
		return Posting{}, err
	}
	return Posting{Account: acct, Entry: entry}, nil
}

func (p *sagaPoster) PostPair(ctx context.Context, debit, credit Leg) (Pair, error) {
	debit.Entry.Status = ledger.StatusPending
	credit.Entry.Status = ledger.StatusPending

	out, err := p.Post(ctx, debit)
	if err != nil {
		return Pair{}, err
	}

	in, err := p.entries.Append(ctx, credit.Entry)
	if err == nil {
		var settled Posting
		if settled, err = p.Settle(ctx, in); err == nil {
			settledDebit, err := p.entries.UpdateStatus(ctx, out.Entry.ID, ledger.StatusSettled)
			if err != nil {
				return Pair{}, fmt.Errorf("settle debit: %w", err)
			}
			return Pair{From: out.Account, To: settled.Account, Debit: settledDebit, Credit: settled.Entry}, nil
		}
		if _, failErr := p.entries.UpdateStatus(ctx, in.ID, ledger.StatusFailed); failErr != nil {
			p.logger.Error("fail transfer credit",
				slog.String("entry_id", in.ID),
				slog.Any("error", failErr))
		}
	}

	if _, revErr := p.Reverse(ctx, out.Entry); revErr != nil {
		// Left pending; the reconciler reverses the orphaned debit.
		p.logger.Error("compensate transfer debit",
			slog.String("entry_id", out.Entry.ID),
			slog.String("correlation_id", out.Entry.CorrelationID),
			slog.Any("error", revErr))
		return Pair{}, fmt.Errorf("credit leg: %w; compensation: %v", err, revErr)
	}
	p.logger.Warn("transfer compensated",
		slog.String("entry_id", out.Entry.ID),
		slog.String("correlation_id", out.Entry.CorrelationID),
		slog.Any("error", err))
	return Pair{}, fmt.Errorf("%w: credit leg: %w", errCompensated, err)
}

func (p *sagaPoster) Settle(ctx context.Context, entry ledger.Entry) (Posting, error) {
	return p.finish(ctx, entry, ledger.StatusSettled, entry.SettleDelta())
}

func (p *sagaPoster) Reverse(ctx context.Context, entry ledger.Entry) (Posting, error) {
	return p.finish(ctx, entry, ledger.StatusFailed, entry.ReverseDelta())
}

// finish moves a pending entry to status, applying delta first and taking it
// back if the entry was finalised concurrently.
func (p *sagaPoster) finish(ctx context.Context, entry ledger.Entry, status ledger.Status, delta int64) (Posting, error) {
	if entry.Status != ledger.StatusPending {
		return Posting{}, fmt.Errorf("%w: %s entry", ledger.ErrInvalidStateTransition, entry.Status)
	}
	var (
		acct account.Account
		err  error
	)
	if delta != 0 {
		acct, err = p.adjust(ctx, entry.AccountID, delta)
	} else {
		acct, err = p.accounts.Get(ctx, entry.AccountID)
	}
	if err != nil {
		return Posting{}, err
	}
	updated, err := p.entries.UpdateStatus(ctx, entry.ID, status)
	if err != nil {
		if delta != 0 {
			if _, undoErr := p.adjust(ctx, entry.AccountID, -delta); undoErr != nil {
				p.logger.Error("undo balance after status change",
					slog.String("entry_id", entry.ID),
					slog.String("status", string(status)),
					slog.Any("error", undoErr))
			}
		}
		return Posting{}, err
	}
	return Posting{Account: acct, Entry: updated}, nil
}

// adjust applies delta against whatever version is current, re-reading on conflict.
func (p *sagaPoster) adjust(ctx context.Context, id string, delta int64) (account.Account, error) {
	var err error
	for i := 0; i < compensationAttempts; i++ {
		var current account.Account
		current, err = p.accounts.Get(ctx, id)
		if err != nil {
			return account.Account{}, err
		}
		var updated account.Account
		updated, err = p.accounts.ApplyDelta(ctx, id, delta, current.Version)
		if err == nil {
			return updated, nil
		}
		if !errors.Is(err, account.ErrConflict) {
			return account.Account{}, err
		}
		if ctx.Err() != nil {
			return account.Account{}, ctx.Err()
		}
	}
	return account.Account{}, err
}
