package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/walletcore/internal/account"
	"github.com/congo-pay/walletcore/internal/gateway"
	"github.com/congo-pay/walletcore/internal/ledger"
	"github.com/congo-pay/walletcore/internal/notification"
)

func TestDepositSettlesImmediately(t *testing.T) {
	h := newHarness(t, testOptions())
	ctx := context.Background()
	h.open(t, "alice", 0)

	res, err := h.engine.Deposit(ctx, DepositInput{OwnerID: "alice", Amount: 250, PaymentMethod: "mobile money", IdempotencyKey: "d1"})
	require.NoError(t, err)
	assert.Equal(t, int64(250), res.Account.Balance)
	assert.Equal(t, ledger.KindDeposit, res.Entry.Kind)
	assert.Equal(t, ledger.Credit, res.Entry.Direction)
	assert.Equal(t, ledger.StatusSettled, res.Entry.Status)
	assert.NotEmpty(t, res.Entry.GatewayRef)
	assert.Equal(t, "Added money to wallet via mobile money", res.Entry.Description)
	assert.Contains(t, h.notifier.kinds(), notification.KindDepositSettled)

	again, err := h.engine.Deposit(ctx, DepositInput{OwnerID: "alice", Amount: 250, PaymentMethod: "mobile money", IdempotencyKey: "d1"})
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, res.Entry.ID, again.Entry.ID)
	assert.Equal(t, int64(250), h.balance(t, "alice"))
	assert.Equal(t, 1, h.gateway.Calls())
}

func TestDepositValidation(t *testing.T) {
	h := newHarness(t, testOptions())
	ctx := context.Background()
	h.open(t, "alice", 0)

	_, err := h.engine.Deposit(ctx, DepositInput{OwnerID: "alice", Amount: 10, IdempotencyKey: "k"})
	require.ErrorIs(t, err, ErrValidation)
	_, err = h.engine.Deposit(ctx, DepositInput{OwnerID: "alice", Amount: -5, PaymentMethod: "card", IdempotencyKey: "k"})
	require.ErrorIs(t, err, ErrInvalidAmount)
	_, err = h.engine.Deposit(ctx, DepositInput{OwnerID: "", Amount: 5, PaymentMethod: "card", IdempotencyKey: "k"})
	require.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, 0, h.gateway.Calls())
}

func TestPendingDepositIsReconciled(t *testing.T) {
	h := newHarness(t, testOptions())
	ctx := context.Background()
	h.open(t, "alice", 0)
	h.gateway.SetInitialStatus(gateway.StatusPending)

	res, err := h.engine.Deposit(ctx, DepositInput{OwnerID: "alice", Amount: 400, PaymentMethod: "card", IdempotencyKey: "d1"})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPending, res.Entry.Status)
	require.NotEmpty(t, res.Entry.GatewayRef)
	assert.Equal(t, int64(0), h.balance(t, "alice"), "pending credits are not spendable")
	h.requireConsistent(t)

	h.engine.now = func() time.Time { return time.Now().Add(time.Hour) }

	report, err := h.engine.Reconcile(ctx, time.Minute, 100)
	require.NoError(t, err)
	assert.Equal(t, ReconcileReport{Scanned: 1, Pending: 1}, report)

	require.NoError(t, h.gateway.Resolve(res.Entry.GatewayRef, gateway.StatusFailed))
	report, err = h.engine.Reconcile(ctx, time.Minute, 100)
	require.NoError(t, err)
	assert.Equal(t, ReconcileReport{Scanned: 1, Failed: 1}, report)

	assert.Equal(t, int64(0), h.balance(t, "alice"))
	entry, err := h.engine.GetTransaction(ctx, "alice", res.Entry.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusFailed, entry.Status)
	h.requireConsistent(t)
}

func TestReconcileLeavesFreshEntriesAlone(t *testing.T) {
	h := newHarness(t, testOptions())
	ctx := context.Background()
	h.open(t, "alice", 0)
	h.gateway.SetInitialStatus(gateway.StatusPending)

	_, err := h.engine.Deposit(ctx, DepositInput{OwnerID: "alice", Amount: 400, PaymentMethod: "card", IdempotencyKey: "d1"})
	require.NoError(t, err)

	report, err := h.engine.Reconcile(ctx, time.Hour, 100)
	require.NoError(t, err)
	assert.Zero(t, report.Scanned)
}

func TestPayoutGatewayRejectionIsCompensated(t *testing.T) {
	h := newHarness(t, testOptions())
	ctx := context.Background()
	h.open(t, "alice", 1_000)
	h.gateway.FailNext(fmt.Errorf("%w: destination blocked", gateway.ErrDeclined))

	in := PayoutInput{OwnerID: "alice", Amount: 600, Destination: "CG-0001", IdempotencyKey: "p1"}
	res, err := h.engine.Payout(ctx, in)
	require.ErrorIs(t, err, ErrPaymentFailed)
	assert.Equal(t, ledger.StatusFailed, res.Entry.Status)
	assert.Equal(t, int64(1_000), res.Account.Balance)
	assert.Equal(t, int64(1_000), h.balance(t, "alice"))
	assert.Contains(t, h.notifier.kinds(), notification.KindPaymentFailed)

	// The failure is remembered under the key.
	replayed, err := h.engine.Payout(ctx, in)
	require.ErrorIs(t, err, ErrPaymentFailed)
	assert.True(t, replayed.Replayed)
	assert.Equal(t, res.Entry.ID, replayed.Entry.ID)
	assert.Equal(t, int64(1_000), h.balance(t, "alice"))
	h.requireConsistent(t)
}

func TestPayoutDeclinedByGateway(t *testing.T) {
	h := newHarness(t, testOptions())
	ctx := context.Background()
	h.open(t, "alice", 500)
	h.gateway.SetInitialStatus(gateway.StatusFailed)

	_, err := h.engine.Payout(ctx, PayoutInput{OwnerID: "alice", Amount: 500, Destination: "CG-0001", IdempotencyKey: "p1"})
	require.ErrorIs(t, err, ErrPaymentFailed)
	assert.Equal(t, int64(500), h.balance(t, "alice"))
	h.requireConsistent(t)
}

func TestPayoutKinds(t *testing.T) {
	h := newHarness(t, testOptions())
	ctx := context.Background()
	h.open(t, "alice", 1_000)

	withdrawal, err := h.engine.Payout(ctx, PayoutInput{OwnerID: "alice", Amount: 100, IdempotencyKey: "w1"})
	require.NoError(t, err)
	assert.Equal(t, ledger.KindWithdrawal, withdrawal.Entry.Kind)
	assert.Equal(t, "Withdrawal from wallet", withdrawal.Entry.Description)

	payout, err := h.engine.Payout(ctx, PayoutInput{OwnerID: "alice", Amount: 100, Destination: "CG-0001", IdempotencyKey: "w1"})
	require.NoError(t, err)
	assert.Equal(t, ledger.KindPayout, payout.Entry.Kind)
	assert.False(t, payout.Replayed, "keys are scoped per kind")
	assert.Equal(t, "Transferred to bank account CG-0001", payout.Entry.Description)
	assert.Equal(t, int64(800), h.balance(t, "alice"))
}

func TestPayoutInsufficientFundsSkipsGateway(t *testing.T) {
	h := newHarness(t, testOptions())
	ctx := context.Background()
	h.open(t, "alice", 100)
	calls := h.gateway.Calls()

	_, err := h.engine.Payout(ctx, PayoutInput{OwnerID: "alice", Amount: 101, Destination: "CG-0001", IdempotencyKey: "p1"})
	require.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, calls, h.gateway.Calls())
	assert.Equal(t, int64(100), h.balance(t, "alice"))
}

func TestPayoutTimeoutStaysPendingUntilReconciled(t *testing.T) {
	h := newHarness(t, testOptions())
	ctx := context.Background()
	h.open(t, "alice", 1_000)
	h.gateway.SetDelay(time.Second)

	res, err := h.engine.Payout(ctx, PayoutInput{OwnerID: "alice", Amount: 300, Destination: "CG-0001", IdempotencyKey: "p1"})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPending, res.Entry.Status)
	assert.Empty(t, res.Entry.GatewayRef)
	assert.Equal(t, int64(700), h.balance(t, "alice"), "pending payouts hold the funds")

	h.gateway.SetDelay(0)
	h.engine.now = func() time.Time { return time.Now().Add(time.Hour) }
	report, err := h.engine.Reconcile(ctx, time.Minute, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Settled)

	entry, err := h.engine.GetTransaction(ctx, "alice", res.Entry.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusSettled, entry.Status)
	assert.Equal(t, int64(700), h.balance(t, "alice"))
	h.requireConsistent(t)
}

func TestConfirmGateway(t *testing.T) {
	h := newHarness(t, testOptions())
	ctx := context.Background()
	h.open(t, "alice", 1_000)
	h.gateway.SetInitialStatus(gateway.StatusPending)

	res, err := h.engine.Payout(ctx, PayoutInput{OwnerID: "alice", Amount: 300, Destination: "CG-0001", IdempotencyKey: "p1"})
	require.NoError(t, err)
	ref := res.Entry.GatewayRef
	require.NotEmpty(t, ref)

	confirmed, err := h.engine.ConfirmGateway(ctx, ref, gateway.StatusSettled)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusSettled, confirmed.Entry.Status)
	assert.False(t, confirmed.Replayed)
	assert.Contains(t, h.notifier.kinds(), notification.KindPayoutSettled)

	again, err := h.engine.ConfirmGateway(ctx, ref, gateway.StatusSettled)
	require.NoError(t, err)
	assert.True(t, again.Replayed)

	_, err = h.engine.ConfirmGateway(ctx, ref, gateway.StatusFailed)
	require.ErrorIs(t, err, ErrValidation)

	_, err = h.engine.ConfirmGateway(ctx, ref, gateway.StatusPending)
	require.ErrorIs(t, err, ErrValidation)

	_, err = h.engine.ConfirmGateway(ctx, "sim_unknown", gateway.StatusSettled)
	require.ErrorIs(t, err, ErrEntryNotFound)

	assert.Equal(t, int64(700), h.balance(t, "alice"))
	h.requireConsistent(t)
}

func TestConfirmGatewayFailureReversesPayout(t *testing.T) {
	h := newHarness(t, testOptions())
	ctx := context.Background()
	h.open(t, "alice", 1_000)
	h.gateway.SetInitialStatus(gateway.StatusPending)

	res, err := h.engine.Payout(ctx, PayoutInput{OwnerID: "alice", Amount: 300, Destination: "CG-0001", IdempotencyKey: "p1"})
	require.NoError(t, err)

	_, err = h.engine.ConfirmGateway(ctx, res.Entry.GatewayRef, gateway.StatusFailed)
	require.ErrorIs(t, err, ErrPaymentFailed)
	assert.Equal(t, int64(1_000), h.balance(t, "alice"))
	h.requireConsistent(t)
}

func TestCloseAccountRejectsPendingEntries(t *testing.T) {
	h := newHarness(t, testOptions())
	ctx := context.Background()
	h.open(t, "alice", 0)
	h.gateway.SetInitialStatus(gateway.StatusPending)

	res, err := h.engine.Deposit(ctx, DepositInput{OwnerID: "alice", Amount: 50, PaymentMethod: "card", IdempotencyKey: "d1"})
	require.NoError(t, err)
	require.NoError(t, h.gateway.Resolve(res.Entry.GatewayRef, gateway.StatusFailed))

	_, err = h.engine.CloseAccount(ctx, "alice")
	require.ErrorIs(t, err, ErrValidation)

	_, err = h.engine.ConfirmGateway(ctx, res.Entry.GatewayRef, gateway.StatusFailed)
	require.ErrorIs(t, err, ErrPaymentFailed)

	closed, err := h.engine.CloseAccount(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, closed.Active())
}

func TestPendingDepositCannotBeSpent(t *testing.T) {
	h := newHarness(t, testOptions())
	ctx := context.Background()
	h.open(t, "alice", 0)
	h.open(t, "bob", 0)
	h.gateway.SetInitialStatus(gateway.StatusPending)

	res, err := h.engine.Deposit(ctx, DepositInput{OwnerID: "alice", Amount: 100, PaymentMethod: "card", IdempotencyKey: "d1"})
	require.NoError(t, err)
	require.Equal(t, ledger.StatusPending, res.Entry.Status)
	assert.Equal(t, int64(0), res.Account.Balance)

	_, err = h.engine.Transfer(ctx, TransferInput{FromOwnerID: "alice", ToOwnerID: "bob", Amount: 100, IdempotencyKey: "t1"})
	require.ErrorIs(t, err, ErrInsufficientFunds)
	_, err = h.engine.Payout(ctx, PayoutInput{OwnerID: "alice", Amount: 100, Destination: "CG-0001", IdempotencyKey: "p1"})
	require.ErrorIs(t, err, ErrInsufficientFunds)

	_, err = h.engine.ConfirmGateway(ctx, res.Entry.GatewayRef, gateway.StatusFailed)
	require.ErrorIs(t, err, ErrPaymentFailed)

	entry, err := h.engine.GetTransaction(ctx, "alice", res.Entry.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusFailed, entry.Status)
	assert.Equal(t, int64(0), h.balance(t, "alice"))
	assert.Equal(t, int64(0), h.balance(t, "bob"))
	h.requireConsistent(t)
}

func TestSettledDepositBecomesSpendable(t *testing.T) {
	h := newHarness(t, testOptions())
	ctx := context.Background()
	h.open(t, "alice", 0)
	h.open(t, "bob", 0)
	h.gateway.SetInitialStatus(gateway.StatusPending)

	res, err := h.engine.Deposit(ctx, DepositInput{OwnerID: "alice", Amount: 100, PaymentMethod: "card", IdempotencyKey: "d1"})
	require.NoError(t, err)

	settled, err := h.engine.ConfirmGateway(ctx, res.Entry.GatewayRef, gateway.StatusSettled)
	require.NoError(t, err)
	assert.Equal(t, int64(100), settled.Account.Balance)

	_, err = h.engine.Transfer(ctx, TransferInput{FromOwnerID: "alice", ToOwnerID: "bob", Amount: 100, IdempotencyKey: "t1"})
	require.NoError(t, err)
	assert.Equal(t, int64(100), h.balance(t, "bob"))
	h.requireConsistent(t)
}

func TestPayoutFailureAfterRemainingFundsMoved(t *testing.T) {
	h := newHarness(t, testOptions())
	ctx := context.Background()
	h.open(t, "alice", 1_000)
	h.open(t, "bob", 0)
	h.gateway.SetInitialStatus(gateway.StatusPending)

	res, err := h.engine.Payout(ctx, PayoutInput{OwnerID: "alice", Amount: 600, Destination: "CG-0001", IdempotencyKey: "p1"})
	require.NoError(t, err)
	assert.Equal(t, int64(400), h.balance(t, "alice"), "pending payouts hold the funds")

	_, err = h.engine.Transfer(ctx, TransferInput{FromOwnerID: "alice", ToOwnerID: "bob", Amount: 401, IdempotencyKey: "t1"})
	require.ErrorIs(t, err, ErrInsufficientFunds)
	_, err = h.engine.Transfer(ctx, TransferInput{FromOwnerID: "alice", ToOwnerID: "bob", Amount: 400, IdempotencyKey: "t2"})
	require.NoError(t, err)

	_, err = h.engine.ConfirmGateway(ctx, res.Entry.GatewayRef, gateway.StatusFailed)
	require.ErrorIs(t, err, ErrPaymentFailed)
	assert.Equal(t, int64(600), h.balance(t, "alice"))
	assert.Equal(t, int64(400), h.balance(t, "bob"))
	h.requireConsistent(t)
}

func TestReconcileRetriesFailedReversal(t *testing.T) {
	store := &faultyStore{Store: account.NewMemoryStore(), failure: errors.New("store outage")}
	h := newHarnessWithStore(t, store, testOptions())
	ctx := context.Background()
	alice := h.open(t, "alice", 1_000)
	h.gateway.SetInitialStatus(gateway.StatusPending)

	res, err := h.engine.Payout(ctx, PayoutInput{OwnerID: "alice", Amount: 300, Destination: "CG-0001", IdempotencyKey: "p1"})
	require.NoError(t, err)
	require.NoError(t, h.gateway.Resolve(res.Entry.GatewayRef, gateway.StatusFailed))

	store.failCreditsTo = alice.ID
	h.engine.now = func() time.Time { return time.Now().Add(time.Hour) }
	report, err := h.engine.Reconcile(ctx, time.Minute, 100)
	require.NoError(t, err)
	assert.Equal(t, ReconcileReport{Scanned: 1, Errors: 1}, report)

	entry, err := h.engine.GetTransaction(ctx, "alice", res.Entry.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPending, entry.Status)
	assert.Equal(t, int64(700), h.balance(t, "alice"))

	store.failCreditsTo = ""
	report, err = h.engine.Reconcile(ctx, time.Minute, 100)
	require.NoError(t, err)
	assert.Equal(t, ReconcileReport{Scanned: 1, Failed: 1}, report)
	assert.Equal(t, int64(1_000), h.balance(t, "alice"))
	h.requireConsistent(t)
}

func TestPayoutTransportErrorStaysPending(t *testing.T) {
	h := newHarness(t, testOptions())
	ctx := context.Background()
	h.open(t, "alice", 1_000)
	h.gateway.FailNext(errors.New("connection reset by peer"))

	res, err := h.engine.Payout(ctx, PayoutInput{OwnerID: "alice", Amount: 300, Destination: "CG-0001", IdempotencyKey: "p1"})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPending, res.Entry.Status)
	assert.Equal(t, int64(700), h.balance(t, "alice"))

	// The gateway never recorded the request, so reconciliation fails it.
	h.engine.now = func() time.Time { return time.Now().Add(time.Hour) }
	report, err := h.engine.Reconcile(ctx, time.Minute, 100)
	require.NoError(t, err)
	assert.Equal(t, ReconcileReport{Scanned: 1, Failed: 1}, report)
	assert.Equal(t, int64(1_000), h.balance(t, "alice"))
	h.requireConsistent(t)
}

func TestDepositUnavailableGatewayFailsAtOnce(t *testing.T) {
	h := newHarness(t, testOptions())
	ctx := context.Background()
	h.open(t, "alice", 0)
	h.gateway.FailNext(gateway.ErrUnavailable)

	res, err := h.engine.Deposit(ctx, DepositInput{OwnerID: "alice", Amount: 50, PaymentMethod: "card", IdempotencyKey: "d1"})
	require.ErrorIs(t, err, ErrPaymentFailed)
	assert.Equal(t, ledger.StatusFailed, res.Entry.Status)
	assert.Equal(t, int64(0), h.balance(t, "alice"))
	h.requireConsistent(t)
}

func TestConfirmGatewayByCallerReference(t *testing.T) {
	h := newHarness(t, testOptions())
	ctx := context.Background()
	h.open(t, "alice", 1_000)
	h.gateway.SetDelay(time.Second)

	res, err := h.engine.Payout(ctx, PayoutInput{OwnerID: "alice", Amount: 300, Destination: "CG-0001", IdempotencyKey: "p1"})
	require.NoError(t, err)
	require.Empty(t, res.Entry.GatewayRef)

	confirmed, err := h.engine.ConfirmGateway(ctx, res.Entry.CorrelationID, gateway.StatusSettled)
	require.NoError(t, err)
	assert.Equal(t, res.Entry.ID, confirmed.Entry.ID)
	assert.Equal(t, ledger.StatusSettled, confirmed.Entry.Status)
	assert.Equal(t, int64(700), h.balance(t, "alice"))
	h.requireConsistent(t)
}
