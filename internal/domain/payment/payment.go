// Package payment turns catalog items and orders into payment processor
// sessions. The processor itself sits behind the Processor port.
package payment

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/stripe-storefront/internal/domain/catalog"
)

// CheckoutRequest describes a hosted checkout session with a single line.
type CheckoutRequest struct {
	Currency    catalog.Currency
	ProductName string
	// UnitAmount is in minor units.
	UnitAmount int64
	Quantity   int64
	SuccessURL string
	CancelURL  string
}

// IntentRequest describes a card payment intent for an amount in minor units.
type IntentRequest struct {
	Currency catalog.Currency
	Amount   int64
	Metadata map[string]string
}

// Intent is a created payment intent.
type Intent struct {
	ID           string
	ClientSecret string
}

// Processor creates sessions on the remote payment processor. The
// implementation picks its credential from the request currency.
type Processor interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (string, error)
	CreatePaymentIntent(ctx context.Context, req IntentRequest) (*Intent, error)
}

// OrderPayment is what the storefront hands to the browser to confirm an
// order payment.
type OrderPayment struct {
	ClientSecret string
	Currency     catalog.Currency
	Amount       decimal.Decimal
}

// ErrNothingToPay is wrapped by the ValidationError returned for an order
// whose total is zero.
var ErrNothingToPay = errors.New("order has nothing to pay")

// RemoteServiceError reports a failed call to the payment processor.
type RemoteServiceError struct {
	Op  string
	Err error
}

func (e *RemoteServiceError) Error() string {
	return fmt.Sprintf("payment processor: %s: %v", e.Op, e.Err)
}

func (e *RemoteServiceError) Unwrap() error {
	return e.Err
}
