package collaborator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"

	"github.com/iho/goescrow/internal/domain"
	"github.com/iho/goescrow/internal/usecase"
)

// ListingCatalog reads listings from the marketplace service.
type ListingCatalog struct {
	client *restClient
}

var _ usecase.ListingCatalog = (*ListingCatalog)(nil)

// NewListingCatalog creates a catalog client.
func NewListingCatalog(opts Options) *ListingCatalog {
	return &ListingCatalog{client: newRESTClient("listing_catalog", opts)}
}

type listingResponse struct {
	ID       string          `json:"id"`
	SellerID string          `json:"seller_id"`
	Price    decimal.Decimal `json:"price"`
	Currency string          `json:"currency"`
	Status   string          `json:"status"`
}

// GetListing returns the listing. Unknown listings read as unavailable.
func (c *ListingCatalog) GetListing(ctx context.Context, ref string) (*domain.Listing, error) {
	var resp listingResponse
	err := c.client.do(ctx, http.MethodGet, "/listings/"+url.PathEscape(ref), nil, &resp)
	if errors.Is(err, errNotFound) {
		return nil, domain.ErrListingUnavailable
	}
	if err != nil {
		return nil, err
	}

	price, err := domain.ParseMinor(resp.Price)
	if err != nil {
		return nil, fmt.Errorf("listing %s has unusable price %s: %w", ref, resp.Price, err)
	}

	return &domain.Listing{
		Ref:       ref,
		SellerID:  resp.SellerID,
		Price:     price,
		Currency:  resp.Currency,
		Available: resp.Status == "" || resp.Status == "active",
	}, nil
}
