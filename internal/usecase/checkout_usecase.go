package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/iho/goescrow/internal/domain"
)

// CheckoutUseCase is the "buy now" flow: it checks the listing, opens the
// escrow transaction and admits both participants' live sessions to its room.
type CheckoutUseCase struct {
	transactions *TransactionUseCase
	listings     ListingCatalog
	sessions     SessionRegistry
	logger       zerolog.Logger
}

func NewCheckoutUseCase(transactions *TransactionUseCase, listings ListingCatalog, sessions SessionRegistry, logger zerolog.Logger) *CheckoutUseCase {
	return &CheckoutUseCase{
		transactions: transactions,
		listings:     listings,
		sessions:     sessions,
		logger:       logger.With().Str("component", "checkout").Logger(),
	}
}

// CheckoutInput is a buyer's purchase request.
type CheckoutInput struct {
	ListingRef     string
	BuyerID        string
	SellerID       string
	Amount         int64
	IdempotencyKey string
}

// Checkout opens a transaction for a listing. Without a listing catalog
// the client-supplied seller and amount are trusted.
func (uc *CheckoutUseCase) Checkout(ctx context.Context, input CheckoutInput) (*domain.Transaction, error) {
	if uc.listings != nil && input.ListingRef != "" {
		if err := uc.checkListing(ctx, input); err != nil {
			return nil, err
		}
	}

	t, err := uc.transactions.Open(ctx, OpenTransactionInput{
		BuyerID:        input.BuyerID,
		SellerID:       input.SellerID,
		ListingRef:     input.ListingRef,
		Amount:         input.Amount,
		IdempotencyKey: input.IdempotencyKey,
	})
	if err != nil {
		return nil, err
	}

	if uc.sessions != nil {
		joined := uc.sessions.JoinAccount(ctx, t.BuyerID, t.Room())
		joined += uc.sessions.JoinAccount(ctx, t.SellerID, t.Room())
		uc.logger.Debug().
			Str("transaction_id", t.ID).
			Int("joined", joined).
			Msg("participants' sessions joined room")
	}

	return t, nil
}

func (uc *CheckoutUseCase) checkListing(ctx context.Context, input CheckoutInput) error {
	listing, err := uc.listings.GetListing(ctx, input.ListingRef)
	if errors.Is(err, domain.ErrListingUnavailable) {
		return err
	}
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	if !listing.Available {
		return domain.ErrListingUnavailable
	}
	if listing.SellerID != input.SellerID || listing.Price != input.Amount {
		return domain.ErrListingMismatch
	}
	return nil
}
