package usecase

import (
	"context"

	"github.com/iho/goescrow/internal/domain"
)

//go:generate mockgen -source=collaborators.go -destination=mocks/mock_collaborators.go -package=mocks

// RoomPublisher fans a room event out to every session joined to the room.
// Delivery is best effort; clients recover through message history.
type RoomPublisher interface {
	Publish(ctx context.Context, event domain.RoomEvent) error
}

// SessionRegistry admits accounts' live sessions to rooms.
type SessionRegistry interface {
	JoinAccount(ctx context.Context, accountID, room string) int
}

// PaymentGateway creates hosted checkout sessions at the payment provider.
type PaymentGateway interface {
	CreateCheckoutSession(ctx context.Context, input CheckoutSessionInput) (*CheckoutSession, error)
}

// CheckoutSessionInput describes a hosted checkout.
type CheckoutSessionInput struct {
	ReferenceID string
	Amount      int64
	Currency    string
	Description string
	Method      domain.PaymentMethod
}

// CheckoutSession is the provider's answer to a checkout request.
type CheckoutSession struct {
	ID          string
	CheckoutURL string
}

// ListingCatalog reads marketplace listings.
type ListingCatalog interface {
	GetListing(ctx context.Context, ref string) (*domain.Listing, error)
}

// UserDirectory resolves account ids to display profiles.
type UserDirectory interface {
	Lookup(ctx context.Context, accountID string) (*domain.Profile, error)
}
