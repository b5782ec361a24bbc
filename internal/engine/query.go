package engine

import (
	"context"

	"github.com/congo-pay/walletcore/internal/account"
	"github.com/congo-pay/walletcore/internal/ledger"
)

// Page is one slice of an account's history, most recent first.
type Page struct {
	Entries    []ledger.Entry
	Page       int
	PageSize   int
	TotalCount int
	TotalPages int
}

// Wallet is an account together with its most recent activity.
type Wallet struct {
	Account account.Account
	Recent  Page
}

// GetBalance returns the owner's account as currently committed.
func (e *Engine) GetBalance(ctx context.Context, ownerID string) (account.Account, error) {
	return e.ownerAccount(ctx, ownerID)
}

// ListTransactions pages through the owner's history. Pages start at 1; a page
// past the end is empty but still reports the totals.
func (e *Engine) ListTransactions(ctx context.Context, ownerID string, page, pageSize int) (Page, error) {
	if page < 1 {
		return Page{}, invalid("page must be 1 or greater")
	}
	switch {
	case pageSize <= 0:
		pageSize = e.opts.DefaultPageSize
	case pageSize > e.opts.MaxPageSize:
		pageSize = e.opts.MaxPageSize
	}

	acct, err := e.ownerAccount(ctx, ownerID)
	if err != nil {
		return Page{}, err
	}
	total, err := e.ledger.CountByAccount(ctx, acct.ID)
	if err != nil {
		return Page{}, translate(err)
	}
	entries, err := e.ledger.ListByAccount(ctx, acct.ID, (page-1)*pageSize, pageSize)
	if err != nil {
		return Page{}, translate(err)
	}
	return Page{
		Entries:    entries,
		Page:       page,
		PageSize:   pageSize,
		TotalCount: total,
		TotalPages: (total + pageSize - 1) / pageSize,
	}, nil
}

// GetTransaction returns one entry, provided it belongs to the owner's account.
func (e *Engine) GetTransaction(ctx context.Context, ownerID, entryID string) (ledger.Entry, error) {
	acct, err := e.ownerAccount(ctx, ownerID)
	if err != nil {
		return ledger.Entry{}, err
	}
	entry, err := e.ledger.GetByID(ctx, acct.ID, entryID)
	if err != nil {
		return ledger.Entry{}, translate(err)
	}
	return entry, nil
}

// Wallet returns the balance and the first page of history.
func (e *Engine) Wallet(ctx context.Context, ownerID string) (Wallet, error) {
	recent, err := e.ListTransactions(ctx, ownerID, 1, e.opts.DefaultPageSize)
	if err != nil {
		return Wallet{}, err
	}
	acct, err := e.ownerAccount(ctx, ownerID)
	if err != nil {
		return Wallet{}, err
	}
	return Wallet{Account: acct, Recent: recent}, nil
}
