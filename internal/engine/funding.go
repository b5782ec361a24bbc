package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/congo-pay/walletcore/internal/gateway"
	"github.com/congo-pay/walletcore/internal/ledger"
	"github.com/congo-pay/walletcore/internal/notification"
)

// DepositInput adds external funds to the owner's account.
type DepositInput struct {
	OwnerID        string
	Amount         int64
	PaymentMethod  string
	IdempotencyKey string
}

// PayoutInput sends funds out of the owner's account. An empty Destination
// records a plain withdrawal.
type PayoutInput struct {
	OwnerID        string
	Amount         int64
	Destination    string
	IdempotencyKey string
}

// Deposit records a pending credit, asks the gateway to collect the funds and
// settles or fails the credit according to the answer. The credit becomes
// spendable only when it settles. A gateway that times out or drops the
// connection leaves the credit pending for reconciliation.
func (e *Engine) Deposit(ctx context.Context, in DepositInput) (res Result, err error) {
	ctx, span := e.startSpan(ctx, "engine.Deposit", attribute.Int64("amount", in.Amount))
	defer func() { endSpan(span, err) }()

	method := strings.TrimSpace(in.PaymentMethod)
	switch {
	case in.Amount <= 0:
		return Result{}, ErrInvalidAmount
	case in.IdempotencyKey == "":
		return Result{}, ErrMissingKey
	case method == "":
		return Result{}, invalid("payment method is required")
	}

	entry := ledger.Entry{
		Direction:   ledger.Credit,
		Amount:      in.Amount,
		Kind:        ledger.KindDeposit,
		Status:      ledger.StatusPending,
		Description: "Added money to wallet via " + method,
	}
	return e.fund(ctx, in.OwnerID, in.IdempotencyKey, entry, func(gctx context.Context, reference string) (gateway.Result, error) {
		return e.gateway.InitiateDeposit(gctx, in.Amount, reference)
	})
}

// Payout debits the account as pending before instructing the gateway, so the
// funds cannot be spent twice while the payout is in flight.
func (e *Engine) Payout(ctx context.Context, in PayoutInput) (res Result, err error) {
	ctx, span := e.startSpan(ctx, "engine.Payout", attribute.Int64("amount", in.Amount))
	defer func() { endSpan(span, err) }()

	switch {
	case in.Amount <= 0:
		return Result{}, ErrInvalidAmount
	case in.IdempotencyKey == "":
		return Result{}, ErrMissingKey
	}

	destination := strings.TrimSpace(in.Destination)
	entry := ledger.Entry{
		Direction:   ledger.Debit,
		Amount:      in.Amount,
		Kind:        ledger.KindWithdrawal,
		Status:      ledger.StatusPending,
		Description: "Withdrawal from wallet",
	}
	if destination != "" {
		entry.Kind = ledger.KindPayout
		entry.Description = "Transferred to bank account " + destination
	}
	return e.fund(ctx, in.OwnerID, in.IdempotencyKey, entry, func(gctx context.Context, reference string) (gateway.Result, error) {
		return e.gateway.InitiatePayout(gctx, in.Amount, destination, reference)
	})
}

type initiateFunc func(ctx context.Context, reference string) (gateway.Result, error)

func (e *Engine) fund(ctx context.Context, ownerID, key string, entry ledger.Entry, initiate initiateFunc) (Result, error) {
	acct, err := e.ownerAccount(ctx, ownerID)
	if err != nil {
		return Result{}, err
	}
	entry.AccountID = acct.ID
	entry.CorrelationID = correlationID(entry.Kind, acct.ID, key)

	if prior, found, err := e.prior(ctx, entry.CorrelationID, entry.Kind); err != nil {
		return Result{}, err
	} else if found {
		return e.replay(ctx, prior, entry.Amount)
	}

	var (
		posting Posting
		earlier ledger.Entry
		raced   bool
	)
	err = e.withRetry(ctx, string(entry.Kind), func() error {
		current, err := e.accounts.Get(ctx, acct.ID)
		if err != nil {
			return err
		}
		if !current.Active() {
			return ErrAccountClosed
		}
		if entry.Direction == ledger.Debit && current.Balance < entry.Amount {
			earlier, raced, err = e.prior(ctx, entry.CorrelationID, entry.Kind)
			if err != nil || raced {
				return err
			}
			return ErrInsufficientFunds
		}
		posting, err = e.poster.Post(ctx, Leg{Entry: entry, ExpectedVersion: current.Version})
		return err
	})
	if errors.Is(err, ledger.ErrDuplicateOperation) {
		return e.replayAfterDuplicate(ctx, entry.CorrelationID, entry.Kind, entry.Amount)
	}
	if err != nil {
		return Result{}, translate(err)
	}
	if raced {
		// A concurrent request with the same key spent the funds first.
		return e.replay(ctx, earlier, entry.Amount)
	}

	gctx, cancel := context.WithTimeout(ctx, e.opts.GatewayTimeout)
	gres, gerr := initiate(gctx, entry.CorrelationID)
	cancel()

	// The entry is recorded; finish the bookkeeping even if the caller went away.
	ctx = context.WithoutCancel(ctx)
	pending := posting.Entry

	switch {
	case gerr == nil:
		if gres.Ref != "" {
			if err := e.ledger.SetGatewayRef(ctx, pending.ID, gres.Ref); err != nil {
				e.logger.Warn("record gateway ref", slog.String("entry_id", pending.ID), slog.Any("error", err))
			} else {
				pending.GatewayRef = gres.Ref
			}
		}
		return e.finalize(ctx, pending, gres.Status)
	case errors.Is(gerr, gateway.ErrDeclined), errors.Is(gerr, gateway.ErrUnavailable):
		e.logger.Warn("gateway rejected request",
			slog.String("entry_id", pending.ID),
			slog.String("correlation_id", pending.CorrelationID),
			slog.Any("error", gerr))
		reversed, err := e.reverse(ctx, pending)
		if err != nil {
			return Result{Account: posting.Account, Entry: pending}, fmt.Errorf("%w: %v", ErrPaymentFailed, gerr)
		}
		e.notifyFailure(ctx, reversed)
		return Result{Account: reversed.Account, Entry: reversed.Entry}, fmt.Errorf("%w: %v", ErrPaymentFailed, gerr)
	default:
		// Timeouts and transport errors may follow a request the gateway acted on.
		e.logger.Info("gateway outcome unknown, leaving entry pending",
			slog.String("entry_id", pending.ID),
			slog.String("correlation_id", pending.CorrelationID),
			slog.Any("error", gerr))
		return Result{Account: posting.Account, Entry: pending}, nil
	}
}

// finalize applies a gateway verdict to a pending entry.
func (e *Engine) finalize(ctx context.Context, entry ledger.Entry, status gateway.Status) (Result, error) {
	switch status {
	case gateway.StatusSettled:
		posting, err := e.settle(ctx, entry)
		if err != nil {
			return Result{}, err
		}
		acct, settled := posting.Account, posting.Entry
		kind := notification.KindDepositSettled
		if settled.Direction == ledger.Debit {
			kind = notification.KindPayoutSettled
		}
		e.notify(ctx, notification.Message{
			Kind:          kind,
			Destination:   acct.OwnerID,
			Body:          settled.Description,
			AccountID:     acct.ID,
			EntryID:       settled.ID,
			CorrelationID: settled.CorrelationID,
			Amount:        settled.Amount,
		})
		return Result{Account: acct, Entry: settled}, nil
	case gateway.StatusFailed:
		reversed, err := e.reverse(ctx, entry)
		if err != nil {
			return Result{}, err
		}
		e.notifyFailure(ctx, reversed)
		return Result{Account: reversed.Account, Entry: reversed.Entry}, ErrPaymentFailed
	default:
		acct, err := e.accounts.Get(ctx, entry.AccountID)
		if err != nil {
			return Result{}, translate(err)
		}
		return Result{Account: acct, Entry: entry}, nil
	}
}

func (e *Engine) notifyFailure(ctx context.Context, reversed Posting) {
	e.notify(ctx, notification.Message{
		Kind:          notification.KindPaymentFailed,
		Destination:   reversed.Account.OwnerID,
		Body:          fmt.Sprintf("%s failed and was reversed", reversed.Entry.Kind),
		AccountID:     reversed.Account.ID,
		EntryID:       reversed.Entry.ID,
		CorrelationID: reversed.Entry.CorrelationID,
		Amount:        reversed.Entry.Amount,
	})
}

// ConfirmGateway applies an asynchronous gateway confirmation to the pending
// entry carrying ref. ref is the gateway's reference or, when initiation timed
// out before one was recorded, the correlation id sent as the caller
// reference. Repeating a confirmation already applied is a no-op.
func (e *Engine) ConfirmGateway(ctx context.Context, ref string, status gateway.Status) (res Result, err error) {
	ctx, span := e.startSpan(ctx, "engine.ConfirmGateway", attribute.String("gateway_ref", ref))
	defer func() { endSpan(span, err) }()

	if ref == "" {
		return Result{}, invalid("gateway reference is required")
	}
	if status != gateway.StatusSettled && status != gateway.StatusFailed {
		return Result{}, invalid("status must be settled or failed")
	}
	entry, err := e.gatewayEntry(ctx, ref)
	if err != nil {
		return Result{}, translate(err)
	}
	if entry.Status != ledger.StatusPending {
		if string(entry.Status) != string(status) {
			return Result{}, invalid("entry is already %s", entry.Status)
		}
		acct, err := e.accounts.Get(ctx, entry.AccountID)
		if err != nil {
			return Result{}, translate(err)
		}
		return Result{Account: acct, Entry: entry, Replayed: true}, nil
	}
	return e.finalize(ctx, entry, status)
}

var gatewayKinds = []ledger.Kind{ledger.KindDeposit, ledger.KindPayout, ledger.KindWithdrawal}

func (e *Engine) gatewayEntry(ctx context.Context, ref string) (ledger.Entry, error) {
	entry, err := e.ledger.FindByGatewayRef(ctx, ref)
	if !errors.Is(err, ledger.ErrNotFound) {
		return entry, err
	}
	for _, kind := range gatewayKinds {
		entry, err = e.ledger.FindByCorrelation(ctx, ref, kind)
		if !errors.Is(err, ledger.ErrNotFound) {
			return entry, err
		}
	}
	return ledger.Entry{}, ledger.ErrNotFound
}
