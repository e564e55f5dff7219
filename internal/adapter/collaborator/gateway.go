package collaborator

import (
	"context"
	"errors"
	"net/http"

	"github.com/iho/goescrow/internal/domain"
	"github.com/iho/goescrow/internal/usecase"
)

// PaymentGateway opens hosted checkout sessions for wallet top-ups.
type PaymentGateway struct {
	client *restClient
}

var _ usecase.PaymentGateway = (*PaymentGateway)(nil)

// NewPaymentGateway creates a gateway client.
func NewPaymentGateway(opts Options) *PaymentGateway {
	return &PaymentGateway{client: newRESTClient("payment_gateway", opts)}
}

type checkoutSessionRequest struct {
	ReferenceID string `json:"reference_id"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Description string `json:"description"`
	Method      string `json:"payment_method"`
}

type checkoutSessionResponse struct {
	ID          string `json:"id"`
	CheckoutURL string `json:"checkout_url"`
}

// CreateCheckoutSession asks the provider for a redirect URL. Amount is in
// minor units.
func (g *PaymentGateway) CreateCheckoutSession(ctx context.Context, input usecase.CheckoutSessionInput) (*usecase.CheckoutSession, error) {
	var resp checkoutSessionResponse
	err := g.client.do(ctx, http.MethodPost, "/checkout_sessions", checkoutSessionRequest{
		ReferenceID: input.ReferenceID,
		Amount:      input.Amount,
		Currency:    input.Currency,
		Description: input.Description,
		Method:      string(input.Method),
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.CheckoutURL == "" {
		return nil, errors.New("payment gateway returned no checkout url")
	}

	g.client.logger.Debug().
		Str("reference_id", input.ReferenceID).
		Str("session_id", resp.ID).
		Str("method", methodLabel(input.Method)).
		Msg("checkout session created")

	return &usecase.CheckoutSession{ID: resp.ID, CheckoutURL: resp.CheckoutURL}, nil
}

func methodLabel(m domain.PaymentMethod) string {
	if m == "" {
		return "any"
	}
	return string(m)
}
