//go:build integration

package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/walletcore/internal/account"
	"github.com/congo-pay/walletcore/internal/gateway"
	"github.com/congo-pay/walletcore/internal/infra/pgtest"
	"github.com/congo-pay/walletcore/internal/ledger"
	"github.com/congo-pay/walletcore/internal/logging"
)

func newPostgresHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	pool := pgtest.Start(t)
	h := &harness{
		accounts: account.NewPostgresStore(pool),
		ledger:   ledger.NewPostgresLedger(pool),
		gateway:  gateway.NewSimulated(gateway.StatusSettled),
		notifier: &testNotifier{},
	}
	h.engine = New(Deps{
		Accounts: h.accounts,
		Ledger:   h.ledger,
		Poster:   NewPostgresPoster(pool),
		Gateway:  h.gateway,
		Notifier: h.notifier,
		Logger:   logging.Discard(),
	}, opts)
	return h
}

func TestIntegration_PostgresTransferAndReplay(t *testing.T) {
	h := newPostgresHarness(t, testOptions())
	ctx := context.Background()
	h.open(t, "alice", 1_000)
	h.open(t, "bob", 0)

	in := TransferInput{FromOwnerID: "alice", ToOwnerID: "bob", Amount: 300, IdempotencyKey: "t1"}
	res, err := h.engine.Transfer(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, int64(700), res.Account.Balance)
	assert.Equal(t, ledger.StatusSettled, res.Entry.Status)

	again, err := h.engine.Transfer(ctx, in)
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, res.Entry.ID, again.Entry.ID)

	assert.Equal(t, int64(700), h.balance(t, "alice"))
	assert.Equal(t, int64(300), h.balance(t, "bob"))

	_, err = h.engine.Transfer(ctx, TransferInput{FromOwnerID: "alice", ToOwnerID: "bob", Amount: 701, IdempotencyKey: "t2"})
	require.ErrorIs(t, err, ErrInsufficientFunds)

	page, err := h.engine.ListTransactions(ctx, "bob", 1, 10)
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	assert.Equal(t, ledger.KindTransferIn, page.Entries[0].Kind)

	h.requireConsistent(t)
}

func TestIntegration_PostgresConcurrentTransfers(t *testing.T) {
	opts := testOptions()
	opts.MaxAttempts = 200
	h := newPostgresHarness(t, opts)
	ctx := context.Background()
	h.open(t, "alice", 500)
	h.open(t, "bob", 500)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			from, to := "alice", "bob"
			if i%2 == 1 {
				from, to = to, from
			}
			_, err := h.engine.Transfer(ctx, TransferInput{
				FromOwnerID:    from,
				ToOwnerID:      to,
				Amount:         10,
				IdempotencyKey: fmt.Sprintf("c-%d", i),
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1_000), h.balance(t, "alice")+h.balance(t, "bob"))
	assert.Equal(t, int64(500), h.balance(t, "alice"))
	h.requireConsistent(t)
}

func TestIntegration_PostgresPendingDepositIsNotSpendable(t *testing.T) {
	h := newPostgresHarness(t, testOptions())
	ctx := context.Background()
	h.open(t, "alice", 0)
	h.open(t, "bob", 0)
	h.gateway.SetInitialStatus(gateway.StatusPending)

	res, err := h.engine.Deposit(ctx, DepositInput{OwnerID: "alice", Amount: 100, PaymentMethod: "card", IdempotencyKey: "d1"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Account.Balance)

	_, err = h.engine.Transfer(ctx, TransferInput{FromOwnerID: "alice", ToOwnerID: "bob", Amount: 100, IdempotencyKey: "t1"})
	require.ErrorIs(t, err, ErrInsufficientFunds)

	_, err = h.engine.ConfirmGateway(ctx, res.Entry.GatewayRef, gateway.StatusFailed)
	require.ErrorIs(t, err, ErrPaymentFailed)
	entry, err := h.engine.GetTransaction(ctx, "alice", res.Entry.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusFailed, entry.Status)

	second, err := h.engine.Deposit(ctx, DepositInput{OwnerID: "alice", Amount: 70, PaymentMethod: "card", IdempotencyKey: "d2"})
	require.NoError(t, err)
	settled, err := h.engine.ConfirmGateway(ctx, second.Entry.GatewayRef, gateway.StatusSettled)
	require.NoError(t, err)
	assert.Equal(t, int64(70), settled.Account.Balance)
	h.requireConsistent(t)
}
