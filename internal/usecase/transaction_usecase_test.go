package usecase_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iho/goescrow/internal/domain"
	"github.com/iho/goescrow/internal/usecase"
)

const (
	buyer  = "acc-buyer"
	seller = "acc-seller"
)

func TestCheckoutHoldsFunds(t *testing.T) {
	e := newEscrow(t, freeDeposits(), usecase.DefaultEscrowPolicy())
	e.fund(t, buyer, 100000)

	tx := e.open(t, buyer, seller, 60000)

	assert.Equal(t, domain.TransactionStatusPending, tx.Status)
	assert.NotEmpty(t, tx.HoldID)
	assert.Nil(t, tx.CompletedAt)

	acc := e.account(t, buyer)
	assert.Equal(t, int64(100000), acc.Balance)
	assert.Equal(t, int64(60000), acc.Held)
	assert.Equal(t, int64(40000), acc.Available())

	hold, err := e.holds.GetByID(context.Background(), tx.HoldID)
	require.NoError(t, err)
	assert.Equal(t, domain.HoldStatusActive, hold.Status)
	assert.Equal(t, int64(60000), hold.Amount)
	assert.Equal(t, tx.ID, hold.TransactionID)

	e.assertLedgerInvariants(t)
}

func TestOpenRejections(t *testing.T) {
	tests := []struct {
		name   string
		buyer  string
		seller string
		amount int64
		err    error
	}{
		{"self transaction", buyer, buyer, 1000, domain.ErrSelfTransaction},
		{"platform seller", buyer, domain.GatewayAccountID, 1000, domain.ErrReservedAccount},
		{"platform buyer", domain.FeeAccountID, seller, 1000, domain.ErrReservedAccount},
		{"zero amount", buyer, seller, 0, domain.ErrInvalidAmount},
		{"negative amount", buyer, seller, -5, domain.ErrInvalidAmount},
		{"insufficient funds", buyer, seller, 100001, domain.ErrInsufficientFunds},
		{"unfunded buyer", "acc-nobody", seller, 100, domain.ErrInsufficientFunds},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEscrow(t, freeDeposits(), usecase.DefaultEscrowPolicy())
			e.fund(t, buyer, 100000)

			_, err := e.txUC.Open(context.Background(), usecase.OpenTransactionInput{
				BuyerID:  tt.buyer,
				SellerID: tt.seller,
				Amount:   tt.amount,
			})
			require.ErrorIs(t, err, tt.err)

			list, err := e.txs.List(context.Background(), domain.TransactionFilter{})
			require.NoError(t, err)
			assert.Empty(t, list, "no transaction may exist after a failed open")
			assert.Equal(t, int64(100000), e.account(t, buyer).Available())
			e.assertLedgerInvariants(t)
		})
	}
}

func TestReleaseOnlyByBuyer(t *testing.T) {
	e := newEscrow(t, freeDeposits(), usecase.DefaultEscrowPolicy())
	e.fund(t, buyer, 100000)
	tx := e.open(t, buyer, seller, 60000)
	ctx := context.Background()

	_, err := e.txUC.Release(ctx, tx.ID, seller, "wallet")
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	released, err := e.txUC.Release(ctx, tx.ID, buyer, "wallet")
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusReleased, released.Status)
	assert.NotNil(t, released.CompletedAt)
	assert.Equal(t, domain.MethodWallet, released.ReleaseMethod)
	// 1% wallet release fee on 600.00
	assert.Equal(t, int64(600), released.ReleaseFee)

	assert.Equal(t, int64(59400), e.account(t, seller).Balance)
	assert.Equal(t, int64(600), e.account(t, domain.FeeAccountID).Balance)

	acc := e.account(t, buyer)
	assert.Equal(t, int64(40000), acc.Balance)
	assert.Equal(t, int64(0), acc.Held)

	hold, err := e.holds.GetByID(ctx, tx.HoldID)
	require.NoError(t, err)
	assert.Equal(t, domain.HoldStatusReleased, hold.Status)

	e.assertLedgerInvariants(t)
}

func TestReleaseFeeByMethod(t *testing.T) {
	tests := []struct {
		method string
		fee    int64
	}{
		{"", 100},
		{"wallet", 100},
		{"qrph", 150},
		{"gcash", 250},
		{"paymaya", 250},
		{"card", 350},
	}

	for _, tt := range tests {
		t.Run("method="+tt.method, func(t *testing.T) {
			e := newEscrow(t, freeDeposits(), usecase.DefaultEscrowPolicy())
			e.fund(t, buyer, 10000)
			tx := e.open(t, buyer, seller, 10000)

			released, err := e.txUC.Release(context.Background(), tx.ID, buyer, tt.method)
			require.NoError(t, err)
			assert.Equal(t, tt.fee, released.ReleaseFee)
			assert.Equal(t, 10000-tt.fee, e.account(t, seller).Balance)
		})
	}
}

func TestReleaseRejectsUnknownMethod(t *testing.T) {
	e := newEscrow(t, freeDeposits(), usecase.DefaultEscrowPolicy())
	e.fund(t, buyer, 10000)
	tx := e.open(t, buyer, seller, 10000)

	_, err := e.txUC.Release(context.Background(), tx.ID, buyer, "bitcoin")
	require.ErrorIs(t, err, domain.ErrInvalidMethod)

	got, err := e.txUC.Get(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusPending, got.Status)
}

func TestFixedReleaseMethodIgnoresRequest(t *testing.T) {
	policy := usecase.EscrowPolicy{
		ReleaseMethodMode:    usecase.ReleaseMethodFixed,
		DefaultReleaseMethod: domain.MethodQRPH,
	}
	e := newEscrow(t, freeDeposits(), policy)
	e.fund(t, buyer, 10000)
	tx := e.open(t, buyer, seller, 10000)

	released, err := e.txUC.Release(context.Background(), tx.ID, buyer, "card")
	require.NoError(t, err)
	assert.Equal(t, domain.MethodQRPH, released.ReleaseMethod)
	assert.Equal(t, int64(150), released.ReleaseFee)
}

func TestTerminalTransactionsRejectTransitions(t *testing.T) {
	e := newEscrow(t, freeDeposits(), usecase.DefaultEscrowPolicy())
	e.fund(t, buyer, 100000)
	tx := e.open(t, buyer, seller, 60000)
	ctx := context.Background()

	_, err := e.txUC.Release(ctx, tx.ID, buyer, "wallet")
	require.NoError(t, err)

	buyerBefore := e.account(t, buyer)
	sellerBefore := e.account(t, seller)

	_, err = e.txUC.Cancel(ctx, tx.ID, buyer)
	require.ErrorIs(t, err, domain.ErrNotPending)
	_, err = e.txUC.Release(ctx, tx.ID, buyer, "wallet")
	require.ErrorIs(t, err, domain.ErrNotPending)
	_, err = e.txUC.Dispute(ctx, tx.ID, seller, "late")
	require.ErrorIs(t, err, domain.ErrNotPending)

	assert.Equal(t, buyerBefore.Balance, e.account(t, buyer).Balance)
	assert.Equal(t, sellerBefore.Balance, e.account(t, seller).Balance)
	assert.Equal(t, 1, e.settlementCredits(t, tx.ID, seller))
	e.assertLedgerInvariants(t)
}

func TestCancelReturnsFunds(t *testing.T) {
	for _, requester := range []string{buyer, seller} {
		t.Run(requester, func(t *testing.T) {
			e := newEscrow(t, freeDeposits(), usecase.DefaultEscrowPolicy())
			e.fund(t, buyer, 100000)
			tx := e.open(t, buyer, seller, 60000)

			cancelled, err := e.txUC.Cancel(context.Background(), tx.ID, requester)
			require.NoError(t, err)
			assert.Equal(t, domain.TransactionStatusCancelled, cancelled.Status)
			assert.Equal(t, requester, cancelled.CancelledBy)
			assert.NotNil(t, cancelled.CompletedAt)

			acc := e.account(t, buyer)
			assert.Equal(t, int64(100000), acc.Available())
			assert.Equal(t, int64(0), acc.Held)

			hold, err := e.holds.GetByID(context.Background(), tx.HoldID)
			require.NoError(t, err)
			assert.Equal(t, domain.HoldStatusVoided, hold.Status)

			e.assertLedgerInvariants(t)
		})
	}
}

func TestNonParticipantCannotAct(t *testing.T) {
	e := newEscrow(t, freeDeposits(), usecase.DefaultEscrowPolicy())
	e.fund(t, buyer, 10000)
	tx := e.open(t, buyer, seller, 5000)
	ctx := context.Background()

	_, err := e.txUC.Cancel(ctx, tx.ID, "acc-mallory")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = e.txUC.Dispute(ctx, tx.ID, "acc-mallory", "")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = e.txUC.GetForParticipant(ctx, tx.ID, "acc-mallory", domain.RoleUser)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = e.txUC.GetForParticipant(ctx, tx.ID, "acc-judge", domain.RoleArbiter)
	assert.NoError(t, err)

	_, err = e.txUC.Release(ctx, "missing", buyer, "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestConcurrentReleasePostsOnce(t *testing.T) {
	e := newEscrow(t, freeDeposits(), usecase.DefaultEscrowPolicy())
	e.fund(t, buyer, 100000)
	tx := e.open(t, buyer, seller, 60000)

	const callers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		failures  []error
	)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := e.txUC.Release(context.Background(), tx.ID, buyer, "wallet")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
			} else {
				failures = append(failures, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	for _, err := range failures {
		assert.ErrorIs(t, err, domain.ErrNotPending)
	}
	assert.Equal(t, 1, e.settlementCredits(t, tx.ID, seller))
	assert.Equal(t, int64(59400), e.account(t, seller).Balance)
	e.assertLedgerInvariants(t)
}

func TestConcurrentReleaseAndCancel(t *testing.T) {
	e := newEscrow(t, freeDeposits(), usecase.DefaultEscrowPolicy())
	e.fund(t, buyer, 100000)
	tx := e.open(t, buyer, seller, 60000)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	start := make(chan struct{})
	wg.Add(2)
	go func() {
		defer wg.Done()
		<-start
		_, errs[0] = e.txUC.Release(context.Background(), tx.ID, buyer, "wallet")
	}()
	go func() {
		defer wg.Done()
		<-start
		_, errs[1] = e.txUC.Cancel(context.Background(), tx.ID, seller)
	}()
	close(start)
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, domain.ErrNotPending)
		}
	}
	assert.Equal(t, 1, winners)

	got, err := e.txUC.Get(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.True(t, got.Status.IsTerminal())
	e.assertLedgerInvariants(t)
}

func TestConcurrentHoldsNeverOverdraw(t *testing.T) {
	e := newEscrow(t, freeDeposits(), usecase.DefaultEscrowPolicy())
	e.fund(t, buyer, 10000)

	const attempts = 10
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		opened int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.txUC.Open(context.Background(), usecase.OpenTransactionInput{
				BuyerID: buyer, SellerID: seller, Amount: 3000,
			})
			if err == nil {
				mu.Lock()
				opened++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, opened)
	assert.Equal(t, int64(1000), e.account(t, buyer).Available())
	e.assertLedgerInvariants(t)
}

func TestDisputeFreezesUntilResolved(t *testing.T) {
	e := newEscrow(t, freeDeposits(), usecase.DefaultEscrowPolicy())
	e.fund(t, buyer, 10000)
	tx := e.open(t, buyer, seller, 8000)
	ctx := context.Background()

	disputed, err := e.txUC.Dispute(ctx, tx.ID, seller, "item not received")
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusDisputed, disputed.Status)
	assert.Equal(t, seller, disputed.DisputedBy)

	_, err = e.txUC.Release(ctx, tx.ID, buyer, "")
	require.ErrorIs(t, err, domain.ErrTransactionFrozen)
	require.ErrorIs(t, err, domain.ErrNotPending)
	_, err = e.txUC.Cancel(ctx, tx.ID, seller)
	require.ErrorIs(t, err, domain.ErrTransactionFrozen)

	assert.Equal(t, int64(8000), e.account(t, buyer).Held)

	_, err = e.txUC.Resolve(ctx, usecase.ResolveInput{
		TransactionID: tx.ID, ActorID: buyer, ActorRole: domain.RoleUser, Outcome: domain.OutcomeRefund,
	})
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = e.txUC.Resolve(ctx, usecase.ResolveInput{
		TransactionID: tx.ID, ActorID: buyer, ActorRole: domain.RoleArbiter, Outcome: domain.OutcomeRefund,
	})
	require.ErrorIs(t, err, domain.ErrUnauthorized, "participants never resolve their own dispute")

	resolved, err := e.txUC.Resolve(ctx, usecase.ResolveInput{
		TransactionID: tx.ID, ActorID: "acc-judge", ActorRole: domain.RoleArbiter, Outcome: domain.OutcomeRefund,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusCancelled, resolved.Status)
	assert.Equal(t, "acc-judge", resolved.ResolvedBy)
	assert.Equal(t, int64(10000), e.account(t, buyer).Available())

	_, err = e.txUC.Resolve(ctx, usecase.ResolveInput{
		TransactionID: tx.ID, ActorID: "acc-judge", ActorRole: domain.RoleArbiter, Outcome: domain.OutcomeRelease,
	})
	require.ErrorIs(t, err, domain.ErrNotDisputed)

	e.assertLedgerInvariants(t)
}

func TestResolveInFavourOfSeller(t *testing.T) {
	e := newEscrow(t, freeDeposits(), usecase.DefaultEscrowPolicy())
	e.fund(t, buyer, 10000)
	tx := e.open(t, buyer, seller, 10000)
	ctx := context.Background()

	_, err := e.txUC.Dispute(ctx, tx.ID, buyer, "")
	require.NoError(t, err)

	resolved, err := e.txUC.Resolve(ctx, usecase.ResolveInput{
		TransactionID: tx.ID,
		ActorID:       "acc-admin",
		ActorRole:     domain.RoleAdmin,
		Outcome:       domain.OutcomeRelease,
		Method:        "card",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusReleased, resolved.Status)
	assert.Equal(t, int64(350), resolved.ReleaseFee)
	assert.Equal(t, int64(9650), e.account(t, seller).Balance)
	assert.Equal(t, 1, e.settlementCredits(t, tx.ID, seller))
	e.assertLedgerInvariants(t)
}

func TestResolveRejectsUnknownOutcome(t *testing.T) {
	e := newEscrow(t, freeDeposits(), usecase.DefaultEscrowPolicy())
	_, err := e.txUC.Resolve(context.Background(), usecase.ResolveInput{
		TransactionID: "tx", ActorID: "acc-judge", ActorRole: domain.RoleArbiter, Outcome: "split",
	})
	require.ErrorIs(t, err, domain.ErrInvalidOutcome)
}

func TestOpenIsIdempotentPerKey(t *testing.T) {
	e := newEscrow(t, freeDeposits(), usecase.DefaultEscrowPolicy())
	e.fund(t, buyer, 10000)
	ctx := context.Background()

	input := usecase.OpenTransactionInput{
		BuyerID: buyer, SellerID: seller, ListingRef: "post-9", Amount: 4000, IdempotencyKey: "key-1",
	}
	first, err := e.txUC.Open(ctx, input)
	require.NoError(t, err)
	second, err := e.txUC.Open(ctx, input)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(4000), e.account(t, buyer).Held, "the retry must not hold twice")

	input.Amount = 5000
	_, err = e.txUC.Open(ctx, input)
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyReused)
}

func TestExpireStalePendingTransactions(t *testing.T) {
	policy := usecase.DefaultEscrowPolicy()
	policy.PendingTTL = time.Millisecond
	e := newEscrow(t, freeDeposits(), policy)
	e.fund(t, buyer, 10000)
	ctx := context.Background()

	stale := e.open(t, buyer, seller, 3000)
	released := e.open(t, buyer, seller, 2000)
	_, err := e.txUC.Release(ctx, released.ID, buyer, "")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	sweeper := usecase.NewSweeper(usecase.SweeperConfig{Transactions: e.txUC})
	assert.Equal(t, 1, sweeper.Sweep(ctx))

	got, err := e.txUC.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusCancelled, got.Status)
	assert.Equal(t, domain.SystemActorID, got.CancelledBy)
	assert.Equal(t, int64(0), e.account(t, buyer).Held)

	assert.Equal(t, 0, sweeper.Sweep(ctx))
	e.assertLedgerInvariants(t)
}

func TestExpireDisabledByDefault(t *testing.T) {
	e := newEscrow(t, freeDeposits(), usecase.DefaultEscrowPolicy())
	e.fund(t, buyer, 10000)
	tx := e.open(t, buyer, seller, 3000)

	n, err := e.txUC.ExpireStale(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = e.txUC.Expire(context.Background(), tx.ID)
	assert.True(t, errors.Is(err, domain.ErrNotPending))
}

func TestListTransactionsByRole(t *testing.T) {
	e := newEscrow(t, freeDeposits(), usecase.DefaultEscrowPolicy())
	e.fund(t, buyer, 10000)
	e.fund(t, seller, 10000)
	ctx := context.Background()

	e.open(t, buyer, seller, 1000)
	e.open(t, seller, buyer, 1000)
	third := e.open(t, buyer, "acc-other", 1000)
	_, err := e.txUC.Cancel(ctx, third.ID, buyer)
	require.NoError(t, err)

	all, err := e.txUC.List(ctx, domain.TransactionFilter{AccountID: buyer})
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, third.ID, all[0].ID, "newest first")

	bought, err := e.txUC.List(ctx, domain.TransactionFilter{AccountID: buyer, Role: "buyer"})
	require.NoError(t, err)
	assert.Len(t, bought, 2)

	pending, err := e.txUC.List(ctx, domain.TransactionFilter{AccountID: buyer, Status: domain.TransactionStatusPending})
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	_, err = e.txUC.List(ctx, domain.TransactionFilter{AccountID: buyer, Role: "arbiter"})
	assert.Error(t, err)
}

func TestStateChangesWriteOutboxAndSystemMessages(t *testing.T) {
	e := newEscrow(t, freeDeposits(), usecase.DefaultEscrowPolicy())
	e.fund(t, buyer, 10000)
	tx := e.open(t, buyer, seller, 3000)
	ctx := context.Background()

	_, err := e.txUC.Release(ctx, tx.ID, buyer, "")
	require.NoError(t, err)

	msgs, err := e.messaging.History(ctx, tx.ID, seller, 0, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	for _, m := range msgs {
		assert.Equal(t, domain.MessageKindSystem, m.Kind)
		assert.Equal(t, domain.SystemActorID, m.SenderID)
	}
	assert.Contains(t, msgs[1].Content, "released to the seller")

	events, err := e.outbox.GetUnpublished(ctx, 0)
	require.NoError(t, err)
	var types []string
	for _, ev := range events {
		if ev.AggregateID == tx.ID || ev.AggregateID == tx.HoldID {
			types = append(types, ev.EventType)
		}
	}
	assert.Equal(t, []string{
		domain.EventTypeTransactionOpened,
		domain.EventTypeHoldCreated,
		domain.EventTypeTransactionReleased,
		domain.EventTypeHoldReleased,
	}, types)

	logs, err := e.audit.List(ctx, domain.AuditFilter{ResourceID: tx.ID})
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, string(domain.AuditActionTransactionRelease), logs[0].Action)
}
