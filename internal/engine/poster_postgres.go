package engine

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/congo-pay/walletcore/internal/account"
	"github.com/congo-pay/walletcore/internal/ledger"
)

// PostgresPoster commits each posting in one database transaction.
type PostgresPoster struct {
	pool *pgxpool.Pool
}

// NewPostgresPoster builds a poster on the shared pool.
func NewPostgresPoster(pool *pgxpool.Pool) *PostgresPoster {
	return &PostgresPoster{pool: pool}
}

// Post applies the delta and appends the entry atomically.
func (p *PostgresPoster) Post(ctx context.Context, leg Leg) (Posting, error) {
	var out Posting
	err := p.inTx(ctx, func(accounts *account.PostgresStore, entries *ledger.PostgresLedger) error {
		acct, err := accounts.ApplyDelta(ctx, leg.Entry.AccountID, leg.Entry.Effect(), leg.ExpectedVersion)
		if err != nil {
			return err
		}
		entry, err := entries.Append(ctx, leg.Entry)
		if err != nil {
			return err
		}
		out = Posting{Account: acct, Entry: entry}
		return nil
	})
	return out, err
}

// PostPair updates both accounts in ascending id order and appends both
// entries, so concurrent opposite transfers cannot deadlock.
func (p *PostgresPoster) PostPair(ctx context.Context, debit, credit Leg) (Pair, error) {
	var out Pair
	err := p.inTx(ctx, func(accounts *account.PostgresStore, entries *ledger.PostgresLedger) error {
		first, second := debit, credit
		if credit.Entry.AccountID < debit.Entry.AccountID {
			first, second = credit, debit
		}
		a, err := accounts.ApplyDelta(ctx, first.Entry.AccountID, first.Entry.Effect(), first.ExpectedVersion)
		if err != nil {
			return err
		}
		b, err := accounts.ApplyDelta(ctx, second.Entry.AccountID, second.Entry.Effect(), second.ExpectedVersion)
		if err != nil {
			return err
		}
		if first.Entry.Direction == ledger.Debit {
			out.From, out.To = a, b
		} else {
			out.From, out.To = b, a
		}

		if out.Debit, err = entries.Append(ctx, debit.Entry); err != nil {
			return err
		}
		if out.Credit, err = entries.Append(ctx, credit.Entry); err != nil {
			return err
		}
		return nil
	})
	return out, err
}

// Settle marks a pending entry settled and applies its outstanding delta.
func (p *PostgresPoster) Settle(ctx context.Context, entry ledger.Entry) (Posting, error) {
	return p.finish(ctx, entry, ledger.StatusSettled, entry.SettleDelta())
}

// Reverse marks a pending entry failed and undoes its balance effect.
func (p *PostgresPoster) Reverse(ctx context.Context, entry ledger.Entry) (Posting, error) {
	return p.finish(ctx, entry, ledger.StatusFailed, entry.ReverseDelta())
}

func (p *PostgresPoster) finish(ctx context.Context, entry ledger.Entry, status ledger.Status, delta int64) (Posting, error) {
	var out Posting
	err := p.inTx(ctx, func(accounts *account.PostgresStore, entries *ledger.PostgresLedger) error {
		updated, err := entries.UpdateStatus(ctx, entry.ID, status)
		if err != nil {
			return err
		}
		acct, err := accounts.Get(ctx, entry.AccountID)
		if err != nil {
			return err
		}
		if delta != 0 {
			if acct, err = accounts.ApplyDelta(ctx, entry.AccountID, delta, acct.Version); err != nil {
				return err
			}
		}
		out = Posting{Account: acct, Entry: updated}
		return nil
	})
	return out, err
}

func (p *PostgresPoster) inTx(ctx context.Context, fn func(*account.PostgresStore, *ledger.PostgresLedger) error) error {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := fn(account.NewPostgresStore(tx), ledger.NewPostgresLedger(tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
