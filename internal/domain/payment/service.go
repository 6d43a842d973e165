package payment

import (
	"context"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/stripe-storefront/internal/domain/catalog"
	"github.com/xenking/stripe-storefront/internal/domain/order"
	"github.com/xenking/stripe-storefront/internal/domain/pricing"
)

// ItemFinder loads a single catalog item.
type ItemFinder interface {
	GetByID(ctx context.Context, id int64) (*catalog.Item, error)
}

// OrderFinder loads an order with its members resolved.
type OrderFinder interface {
	Get(ctx context.Context, id int64) (*order.Details, error)
}

// URLs are the absolute redirect targets of a hosted checkout.
type URLs struct {
	Success string
	Cancel  string
}

// Service creates payment sessions for items and orders.
type Service struct {
	items     ItemFinder
	orders    OrderFinder
	processor Processor
	urls      URLs
}

// NewService creates a payment Service.
func NewService(items ItemFinder, orders OrderFinder, processor Processor, urls URLs) *Service {
	return &Service{
		items:     items,
		orders:    orders,
		processor: processor,
		urls:      urls,
	}
}

// CreateItemCheckout opens a hosted checkout session that buys one unit of
// the item in the item's own currency and returns the session id.
func (s *Service) CreateItemCheckout(ctx context.Context, itemID int64) (string, error) {
	item, err := s.items.GetByID(ctx, itemID)
	if err != nil {
		return "", errors.Wrap(err, "get item")
	}

	currency := item.Currency
	if currency == "" {
		currency = catalog.DefaultCurrency
	}

	sessionID, err := s.processor.CreateCheckoutSession(ctx, CheckoutRequest{
		Currency:    currency,
		ProductName: item.Name,
		UnitAmount:  pricing.MinorUnits(item.Price),
		Quantity:    1,
		SuccessURL:  s.urls.Success,
		CancelURL:   s.urls.Cancel,
	})
	if err != nil {
		zctx.From(ctx).Error("Checkout session failed",
			zap.Int64("item_id", itemID),
			zap.String("currency", string(currency)),
			zap.Error(err),
		)
		return "", &RemoteServiceError{Op: "create checkout session", Err: err}
	}

	zctx.From(ctx).Info("Checkout session created",
		zap.Int64("item_id", itemID),
		zap.String("session_id", sessionID),
	)
	return sessionID, nil
}

// CreateOrderPayment creates a card payment intent for the order's total in
// the currency derived from its current items. Mixed currencies and a zero
// total fail with a catalog.ValidationError before the processor is called.
func (s *Service) CreateOrderPayment(ctx context.Context, orderID int64) (*OrderPayment, error) {
	details, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}

	// Items can be repriced after the order was saved, so the stored
	// currency is not trusted.
	currency, err := order.DeriveCurrency(details.Items)
	if err != nil {
		zctx.From(ctx).Warn("Order items no longer share a currency",
			zap.Int64("order_id", orderID),
			zap.Error(err),
		)
		return nil, err
	}
	total := details.TotalPrice()
	amount := pricing.MinorUnits(total)
	if amount <= 0 {
		return nil, &catalog.ValidationError{Field: "items", Err: ErrNothingToPay}
	}

	intent, err := s.processor.CreatePaymentIntent(ctx, IntentRequest{
		Currency: currency,
		Amount:   amount,
		Metadata: map[string]string{"order_id": strconv.FormatInt(orderID, 10)},
	})
	if err != nil {
		zctx.From(ctx).Error("Payment intent failed",
			zap.Int64("order_id", orderID),
			zap.String("currency", string(currency)),
			zap.Error(err),
		)
		return nil, &RemoteServiceError{Op: "create payment intent", Err: err}
	}

	zctx.From(ctx).Info("Payment intent created",
		zap.Int64("order_id", orderID),
		zap.String("intent_id", intent.ID),
		zap.Stringer("amount", total),
	)
	return &OrderPayment{
		ClientSecret: intent.ClientSecret,
		Currency:     currency,
		Amount:       total,
	}, nil
}
