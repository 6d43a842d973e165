package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/stripe-storefront/internal/domain/catalog"
	"github.com/xenking/stripe-storefront/internal/domain/pricing"
)

// Order is the stored form of an order: a set of item ids plus optional
// discount and tax references. Currency is derived from the items and is
// never edited directly.
type Order struct {
	ID         int64
	ItemIDs    []int64
	DiscountID *int64
	TaxID      *int64
	Currency   catalog.Currency
	CreatedAt  time.Time
}

// Details is an Order with its members resolved, ready for pricing.
type Details struct {
	Order
	Items    []catalog.Item
	Discount *catalog.Discount
	Tax      *catalog.Tax
}

// refreshCurrency replaces the stored currency with the one derived from
// the current items. A mixed item set keeps the stored value; payment
// re-derives and rejects it.
func (d *Details) refreshCurrency() {
	if currency, err := DeriveCurrency(d.Items); err == nil {
		d.Currency = currency
	}
}

// TotalPrice returns the order's price after discount and tax, rounded to cents.
func (d *Details) TotalPrice() decimal.Decimal {
	prices := make([]decimal.Decimal, len(d.Items))
	for i, item := range d.Items {
		prices[i] = item.Price
	}

	var percentOff, taxPercent *decimal.Decimal
	if d.Discount != nil {
		percentOff = &d.Discount.PercentOff
	}
	if d.Tax != nil {
		taxPercent = &d.Tax.Percentage
	}
	return pricing.Total(prices, percentOff, taxPercent)
}

// Repository persists orders together with their item membership.
// Create and Update write the order row and its item set atomically.
type Repository interface {
	List(ctx context.Context) ([]Order, error)
	GetByID(ctx context.Context, id int64) (*Order, error)
	Create(ctx context.Context, o *Order) error
	Update(ctx context.Context, o *Order) error
	Delete(ctx context.Context, id int64) error
	// ItemsOrderedWith returns the ids of the other items that share at
	// least one order with itemID.
	ItemsOrderedWith(ctx context.Context, itemID int64) ([]int64, error)
}
