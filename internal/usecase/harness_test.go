package usecase_test

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.uber.org/mock/gomock"

	"github.com/iho/goescrow/internal/adapter/repository/memory"
	"github.com/iho/goescrow/internal/adapter/repository/postgres"
	"github.com/iho/goescrow/internal/domain"
	"github.com/iho/goescrow/internal/infrastructure/metrics"
	"github.com/iho/goescrow/internal/usecase"
	"github.com/iho/goescrow/internal/usecase/mocks"
)

// escrow wires every use case to one in-memory store.
type escrow struct {
	store     *memory.Store
	accounts  *memory.AccountRepo
	holds     *memory.HoldRepo
	postings  *memory.PostingRepo
	txs       *memory.TransactionRepo
	messages  *memory.MessageRepo
	outbox    *memory.OutboxRepo
	audit     *memory.AuditRepo
	publisher *mocks.MockRoomPublisher
	gateway   *mocks.MockPaymentGateway

	ledger    *usecase.LedgerUseCase
	txUC      *usecase.TransactionUseCase
	messaging *usecase.MessagingUseCase
	wallet    *usecase.WalletUseCase
	recon     *usecase.ReconciliationUseCase
}

func newEscrow(t *testing.T, fees domain.FeeSchedule, policy usecase.EscrowPolicy) *escrow {
	t.Helper()

	ctrl := gomock.NewController(t)
	store := memory.NewStore()
	idGen := postgres.NewULIDGenerator()
	m := metrics.New(prometheus.NewRegistry())
	logger := zerolog.Nop()

	e := &escrow{
		store:     store,
		accounts:  memory.NewAccountRepo(store),
		holds:     memory.NewHoldRepo(store),
		postings:  memory.NewPostingRepo(store),
		txs:       memory.NewTransactionRepo(store),
		messages:  memory.NewMessageRepo(store),
		outbox:    memory.NewOutboxRepo(store),
		audit:     memory.NewAuditRepo(store),
		publisher: mocks.NewMockRoomPublisher(ctrl),
		gateway:   mocks.NewMockPaymentGateway(ctrl),
	}
	e.publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	e.ledger = usecase.NewLedgerUseCase(store, nil, e.accounts, e.holds, e.postings, e.outbox, e.audit,
		idGen, fees, domain.DefaultCurrency, m)
	e.messaging = usecase.NewMessagingUseCase(store, nil, e.txs, e.messages, idGen, e.publisher, m, logger)
	e.txUC = usecase.NewTransactionUseCase(store, nil, e.txs, e.outbox, e.audit, e.ledger, e.messaging,
		idGen, policy, m, logger)
	e.wallet = usecase.NewWalletUseCase(store, nil, memory.NewDepositRepo(store), e.outbox, e.audit,
		e.ledger, e.gateway, idGen, m, logger)
	e.recon = usecase.NewReconciliationUseCase(e.accounts, e.holds, e.postings, memory.NewLedgerRepo(store))

	if err := e.ledger.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	return e
}

// freeDeposits is the default schedule without a deposit fee, so funding
// a test wallet lands the exact amount.
func freeDeposits() domain.FeeSchedule {
	fees := domain.DefaultFeeSchedule()
	fees.DepositBps = 0
	return fees
}

// fund credits accountID with amount through a confirmed gateway deposit.
func (e *escrow) fund(t *testing.T, accountID string, amount int64) {
	t.Helper()
	ctx := context.Background()

	e.gateway.EXPECT().CreateCheckoutSession(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, in usecase.CheckoutSessionInput) (*usecase.CheckoutSession, error) {
			return &usecase.CheckoutSession{ID: "cs_" + in.ReferenceID, CheckoutURL: "https://pay.test/" + in.ReferenceID}, nil
		})

	deposit, err := e.wallet.InitiateDeposit(ctx, accountID, amount, domain.MethodGCash)
	if err != nil {
		t.Fatalf("initiate deposit: %v", err)
	}
	if _, err := e.wallet.ConfirmDeposit(ctx, deposit.ID, ""); err != nil {
		t.Fatalf("confirm deposit: %v", err)
	}
}

func (e *escrow) account(t *testing.T, id string) *domain.Account {
	t.Helper()
	acc, err := e.accounts.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get account %s: %v", id, err)
	}
	return acc
}

func (e *escrow) open(t *testing.T, buyer, seller string, amount int64) *domain.Transaction {
	t.Helper()
	tx, err := e.txUC.Open(context.Background(), usecase.OpenTransactionInput{
		BuyerID:    buyer,
		SellerID:   seller,
		ListingRef: "post-1",
		Amount:     amount,
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return tx
}

// assertLedgerInvariants checks balance == Σ postings and
// available == balance − Σ active holds for every account, and that the
// ledger as a whole sums to zero.
func (e *escrow) assertLedgerInvariants(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	report, err := e.recon.GenerateReconciliationReport(ctx)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !report.LedgerConsistent {
		t.Errorf("ledger inconsistent: %s", report.LedgerError)
	}
	for _, d := range report.Discrepancies {
		t.Errorf("account %s: recorded balance=%d held=%d, posted balance=%d held=%d, active holds=%d",
			d.AccountID, d.RecordedBalance, d.RecordedHeld, d.PostedBalance, d.PostedHeld, d.ActiveHolds)
	}

	accounts, err := e.accounts.List(ctx, 0, 0)
	if err != nil {
		t.Fatalf("list accounts: %v", err)
	}
	for _, acc := range accounts {
		active, err := e.holds.SumActiveByAccount(ctx, acc.ID)
		if err != nil {
			t.Fatalf("sum holds: %v", err)
		}
		if acc.Available() != acc.Balance-active {
			t.Errorf("account %s: available %d != balance %d - active holds %d", acc.ID, acc.Available(), acc.Balance, active)
		}
		if acc.Kind == domain.AccountKindUser && (acc.Balance < 0 || acc.Available() < 0) {
			t.Errorf("account %s went negative: balance=%d available=%d", acc.ID, acc.Balance, acc.Available())
		}
	}
}

func (e *escrow) settlementCredits(t *testing.T, transactionID, accountID string) int {
	t.Helper()
	postings, err := e.postings.ListByReference(context.Background(), domain.ReferenceTransaction, transactionID)
	if err != nil {
		t.Fatalf("list postings: %v", err)
	}
	n := 0
	for _, p := range postings {
		if p.AccountID == accountID && p.Kind == domain.PostingKindSettlement && p.Direction == domain.Credit {
			n++
		}
	}
	return n
}

func stubIDs() usecase.IDGenerator { return postgres.NewULIDGenerator() }

func nopLogger() zerolog.Logger { return zerolog.Nop() }
