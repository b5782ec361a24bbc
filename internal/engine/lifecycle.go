package engine

import (
	"context"
	"log/slog"
	"strings"

	"github.com/congo-pay/walletcore/internal/account"
)

const auditBatch = 100

// OpenAccount creates the owner's account with a zero balance. It is called
// once when the identity service onboards the owner.
func (e *Engine) OpenAccount(ctx context.Context, ownerID string) (account.Account, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return account.Account{}, invalid("owner id is required")
	}
	acct, err := e.accounts.Create(ctx, ownerID)
	if err != nil {
		return account.Account{}, translate(err)
	}
	e.logger.Info("account opened", slog.String("account_id", acct.ID), slog.String("owner_id", ownerID))
	return acct, nil
}

// CloseAccount marks an empty account closed. Accounts are never deleted.
func (e *Engine) CloseAccount(ctx context.Context, ownerID string) (account.Account, error) {
	acct, err := e.ownerAccount(ctx, ownerID)
	if err != nil {
		return account.Account{}, err
	}
	pending, err := e.ledger.HasPending(ctx, acct.ID)
	if err != nil {
		return account.Account{}, translate(err)
	}
	if pending {
		return account.Account{}, invalid("account has pending transactions")
	}

	var closed account.Account
	err = e.withRetry(ctx, "close", func() error {
		current, err := e.accounts.Get(ctx, acct.ID)
		if err != nil {
			return err
		}
		if !current.Active() {
			closed = current
			return nil
		}
		closed, err = e.accounts.Close(ctx, acct.ID, current.Version)
		return err
	})
	if err != nil {
		return account.Account{}, translate(err)
	}
	e.logger.Info("account closed", slog.String("account_id", closed.ID))
	return closed, nil
}

// Mismatch is an account whose balance disagrees with its ledger.
type Mismatch struct {
	AccountID string
	Balance   int64
	LedgerSum int64
}

// AuditReport summarises a balance/ledger consistency check.
type AuditReport struct {
	Checked    int
	Mismatches []Mismatch
}

// Audit compares every account balance with the summed Effect of its entries.
func (e *Engine) Audit(ctx context.Context) (AuditReport, error) {
	var report AuditReport
	for offset := 0; ; offset += auditBatch {
		batch, err := e.accounts.List(ctx, offset, auditBatch)
		if err != nil {
			return report, translate(err)
		}
		for _, acct := range batch {
			sum, err := e.ledger.SumByAccount(ctx, acct.ID)
			if err != nil {
				return report, translate(err)
			}
			report.Checked++
			if sum != acct.Balance {
				report.Mismatches = append(report.Mismatches, Mismatch{AccountID: acct.ID, Balance: acct.Balance, LedgerSum: sum})
				e.logger.Error("balance does not match ledger",
					slog.String("account_id", acct.ID),
					slog.Int64("balance", acct.Balance),
					slog.Int64("ledger_sum", sum))
			}
		}
		if len(batch) < auditBatch {
			return report, nil
		}
	}
}
