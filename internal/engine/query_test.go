package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/walletcore/internal/ledger"
)

func TestListTransactionsPaging(t *testing.T) {
	h := newHarness(t, testOptions())
	ctx := context.Background()
	h.open(t, "alice", 0)
	for i := 1; i <= 25; i++ {
		_, err := h.engine.Deposit(ctx, DepositInput{
			OwnerID:        "alice",
			Amount:         int64(i),
			PaymentMethod:  "card",
			IdempotencyKey: fmt.Sprintf("d-%d", i),
		})
		require.NoError(t, err)
	}

	sizes := []int{10, 10, 5}
	seen := make(map[string]bool)
	for i, want := range sizes {
		page, err := h.engine.ListTransactions(ctx, "alice", i+1, 10)
		require.NoError(t, err)
		assert.Len(t, page.Entries, want)
		assert.Equal(t, 25, page.TotalCount)
		assert.Equal(t, 3, page.TotalPages)
		for _, entry := range page.Entries {
			assert.False(t, seen[entry.ID], "entry %s listed twice", entry.ID)
			seen[entry.ID] = true
		}
	}
	assert.Len(t, seen, 25)

	first, err := h.engine.ListTransactions(ctx, "alice", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(25), first.Entries[0].Amount, "most recent first")

	past, err := h.engine.ListTransactions(ctx, "alice", 4, 10)
	require.NoError(t, err)
	assert.Empty(t, past.Entries)
	assert.Equal(t, 25, past.TotalCount)
	assert.Equal(t, 3, past.TotalPages)

	_, err = h.engine.ListTransactions(ctx, "alice", 0, 10)
	require.ErrorIs(t, err, ErrValidation)

	defaulted, err := h.engine.ListTransactions(ctx, "alice", 1, 0)
	require.NoError(t, err)
	assert.Equal(t, 10, defaulted.PageSize)

	clamped, err := h.engine.ListTransactions(ctx, "alice", 1, 1_000)
	require.NoError(t, err)
	assert.Equal(t, 100, clamped.PageSize)
	assert.Len(t, clamped.Entries, 25)
	assert.Equal(t, 1, clamped.TotalPages)
}

func TestEmptyHistory(t *testing.T) {
	h := newHarness(t, testOptions())
	h.open(t, "alice", 0)

	page, err := h.engine.ListTransactions(context.Background(), "alice", 1, 10)
	require.NoError(t, err)
	assert.Empty(t, page.Entries)
	assert.Zero(t, page.TotalCount)
	assert.Zero(t, page.TotalPages)
}

func TestGetTransactionIsScopedToOwner(t *testing.T) {
	h := newHarness(t, testOptions())
	ctx := context.Background()
	h.open(t, "alice", 100)
	h.open(t, "bob", 100)

	bobPage, err := h.engine.ListTransactions(ctx, "bob", 1, 10)
	require.NoError(t, err)
	require.Len(t, bobPage.Entries, 1)
	bobEntry := bobPage.Entries[0]

	got, err := h.engine.GetTransaction(ctx, "bob", bobEntry.ID)
	require.NoError(t, err)
	assert.Equal(t, bobEntry, got)

	_, err = h.engine.GetTransaction(ctx, "alice", bobEntry.ID)
	require.ErrorIs(t, err, ErrEntryNotFound)

	_, err = h.engine.GetTransaction(ctx, "alice", "not-an-id")
	require.ErrorIs(t, err, ErrEntryNotFound)
}

func TestWalletSummary(t *testing.T) {
	h := newHarness(t, testOptions())
	h.open(t, "alice", 300)

	w, err := h.engine.Wallet(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(300), w.Account.Balance)
	assert.Equal(t, 1, w.Recent.TotalCount)

	_, err = h.engine.Wallet(context.Background(), "nobody")
	require.ErrorIs(t, err, ErrAccountNotFound)
}

func TestAuditReportsDrift(t *testing.T) {
	h := newHarness(t, testOptions())
	ctx := context.Background()
	alice := h.open(t, "alice", 100)
	h.open(t, "bob", 0)

	current, err := h.accounts.Get(ctx, alice.ID)
	require.NoError(t, err)
	_, err = h.accounts.ApplyDelta(ctx, alice.ID, 5, current.Version)
	require.NoError(t, err)

	report, err := h.engine.Audit(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Checked)
	require.Len(t, report.Mismatches, 1)
	assert.Equal(t, Mismatch{AccountID: alice.ID, Balance: 105, LedgerSum: 100}, report.Mismatches[0])
}

// strandTransfer reproduces a transfer interrupted mid-way: the debit (and
// optionally the credit) are written pending and never settled.
func strandTransfer(t *testing.T, h *harness, fromID, toID string, amount int64, withCredit bool) (ledger.Entry, ledger.Entry) {
	t.Helper()
	ctx := context.Background()
	corr := correlationID(ledger.KindTransferOut, fromID, "stranded")
	poster := NewSagaPoster(h.accounts, h.ledger, h.engine.logger)

	from, err := h.accounts.Get(ctx, fromID)
	require.NoError(t, err)
	debit, err := poster.Post(ctx, Leg{Entry: ledger.Entry{
		AccountID: fromID, Direction: ledger.Debit, Amount: amount, Kind: ledger.KindTransferOut,
		CounterpartyAccountID: toID, CorrelationID: corr, Status: ledger.StatusPending,
	}, ExpectedVersion: from.Version})
	require.NoError(t, err)
	if !withCredit {
		return debit.Entry, ledger.Entry{}
	}
	to, err := h.accounts.Get(ctx, toID)
	require.NoError(t, err)
	credit, err := poster.Post(ctx, Leg{Entry: ledger.Entry{
		AccountID: toID, Direction: ledger.Credit, Amount: amount, Kind: ledger.KindTransferIn,
		CounterpartyAccountID: fromID, CorrelationID: corr, Status: ledger.StatusPending,
	}, ExpectedVersion: to.Version})
	require.NoError(t, err)
	return debit.Entry, credit.Entry
}

func TestReconcileReversesOrphanedDebit(t *testing.T) {
	h := newHarness(t, testOptions())
	ctx := context.Background()
	alice := h.open(t, "alice", 500)
	bob := h.open(t, "bob", 0)

	debit, _ := strandTransfer(t, h, alice.ID, bob.ID, 200, false)
	assert.Equal(t, int64(300), h.balance(t, "alice"))

	h.engine.now = func() time.Time { return time.Now().Add(time.Hour) }
	report, err := h.engine.Reconcile(ctx, time.Minute, 100)
	require.NoError(t, err)
	assert.Equal(t, ReconcileReport{Scanned: 1, Failed: 1}, report)

	assert.Equal(t, int64(500), h.balance(t, "alice"))
	assert.Equal(t, int64(0), h.balance(t, "bob"))
	got, err := h.engine.GetTransaction(ctx, "alice", debit.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusFailed, got.Status)
	h.requireConsistent(t)
}

func TestReconcileSettlesCompleteTransfer(t *testing.T) {
	h := newHarness(t, testOptions())
	ctx := context.Background()
	alice := h.open(t, "alice", 500)
	bob := h.open(t, "bob", 0)

	debit, credit := strandTransfer(t, h, alice.ID, bob.ID, 200, true)

	h.engine.now = func() time.Time { return time.Now().Add(time.Hour) }
	report, err := h.engine.Reconcile(ctx, time.Minute, 100)
	require.NoError(t, err)
	assert.Equal(t, ReconcileReport{Scanned: 1, Settled: 1}, report)

	gotDebit, err := h.engine.GetTransaction(ctx, "alice", debit.ID)
	require.NoError(t, err)
	gotCredit, err := h.engine.GetTransaction(ctx, "bob", credit.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusSettled, gotDebit.Status)
	assert.Equal(t, ledger.StatusSettled, gotCredit.Status)
	assert.Equal(t, int64(300), h.balance(t, "alice"))
	assert.Equal(t, int64(200), h.balance(t, "bob"))
	h.requireConsistent(t)
}

func TestReconcileFailsCreditOfFailedDebit(t *testing.T) {
	h := newHarness(t, testOptions())
	ctx := context.Background()
	alice := h.open(t, "alice", 500)
	bob := h.open(t, "bob", 50)
	h.open(t, "carol", 0)

	debit, credit := strandTransfer(t, h, alice.ID, bob.ID, 200, true)
	assert.Equal(t, int64(50), h.balance(t, "bob"), "a pending credit is not spendable")
	_, err := h.engine.poster.Reverse(ctx, debit)
	require.NoError(t, err)

	_, err = h.engine.Transfer(ctx, TransferInput{FromOwnerID: "bob", ToOwnerID: "carol", Amount: 50, IdempotencyKey: "t1"})
	require.NoError(t, err)

	h.engine.now = func() time.Time { return time.Now().Add(time.Hour) }
	report, err := h.engine.Reconcile(ctx, time.Minute, 100)
	require.NoError(t, err)
	assert.Equal(t, ReconcileReport{Scanned: 1, Failed: 1}, report)

	got, err := h.engine.GetTransaction(ctx, "bob", credit.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusFailed, got.Status)
	assert.Equal(t, int64(500), h.balance(t, "alice"))
	assert.Equal(t, int64(0), h.balance(t, "bob"))
	assert.Equal(t, int64(50), h.balance(t, "carol"))
	h.requireConsistent(t)
}
