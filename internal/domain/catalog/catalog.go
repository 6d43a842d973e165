// Package catalog holds the storefront's catalog entities: items, discounts
// and taxes, together with their validation rules and repository ports.
package catalog

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
)

// Currency is an ISO 4217 code in lower case, as the payment processor expects.
type Currency string

const (
	USD Currency = "usd"
	EUR Currency = "eur"
)

// DefaultCurrency is used for items without an explicit currency and for
// orders that have no items yet.
const DefaultCurrency = USD

// Currencies lists every currency the catalog accepts.
var Currencies = []Currency{USD, EUR}

// ParseCurrency normalizes s and reports whether it names a supported currency.
// An empty string parses to DefaultCurrency.
func ParseCurrency(s string) (Currency, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return DefaultCurrency, true
	}
	for _, c := range Currencies {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

// Item is a product that can be bought on its own or as part of an order.
type Item struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name" validate:"required,max=255"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price" validate:"dgte=0,dlt=100000000,dscale=2"`
	Currency    Currency        `json:"currency" validate:"oneof=usd eur"`
}

// Discount is a percentage taken off an order's item subtotal.
type Discount struct {
	ID         int64           `json:"id"`
	Name       string          `json:"name" validate:"required,max=255"`
	PercentOff decimal.Decimal `json:"percent_off" validate:"dgte=0,dlte=100,dscale=2"`
}

// Tax is a percentage added on top of an order's discounted amount.
type Tax struct {
	ID         int64           `json:"id"`
	Name       string          `json:"name" validate:"required,max=255"`
	Percentage decimal.Decimal `json:"percentage" validate:"dgte=0,dlt=1000,dscale=2"`
}

// ItemRepository persists catalog items.
type ItemRepository interface {
	List(ctx context.Context) ([]Item, error)
	GetByID(ctx context.Context, id int64) (*Item, error)
	GetByIDs(ctx context.Context, ids []int64) ([]Item, error)
	Create(ctx context.Context, item *Item) error
	Update(ctx context.Context, item *Item) error
	Delete(ctx context.Context, id int64) error
}

// DiscountRepository persists discounts. Deleting a discount clears it from
// every order that references it.
type DiscountRepository interface {
	List(ctx context.Context) ([]Discount, error)
	GetByID(ctx context.Context, id int64) (*Discount, error)
	Create(ctx context.Context, d *Discount) error
	Update(ctx context.Context, d *Discount) error
	Delete(ctx context.Context, id int64) error
}

// TaxRepository persists taxes. Deleting a tax clears it from every order
// that references it.
type TaxRepository interface {
	List(ctx context.Context) ([]Tax, error)
	GetByID(ctx context.Context, id int64) (*Tax, error)
	Create(ctx context.Context, t *Tax) error
	Update(ctx context.Context, t *Tax) error
	Delete(ctx context.Context, id int64) error
}
