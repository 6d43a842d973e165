package order

import (
	"github.com/go-faster/errors"

	"github.com/xenking/stripe-storefront/internal/domain/catalog"
)

// ErrMixedCurrencies is wrapped by the ValidationError returned when an
// order's items are priced in more than one currency.
var ErrMixedCurrencies = errors.New("all items in an order must share one currency")

// DeriveCurrency returns the single currency shared by items. An empty set
// derives catalog.DefaultCurrency. More than one distinct currency is a
// validation failure; nothing is mutated in that case.
func DeriveCurrency(items []catalog.Item) (catalog.Currency, error) {
	currency := catalog.Currency("")
	for _, item := range items {
		c := orDefault(item.Currency)
		switch currency {
		case "":
			currency = c
		case c:
		default:
			return "", &catalog.ValidationError{Field: "items", Err: ErrMixedCurrencies}
		}
	}
	if currency == "" {
		return catalog.DefaultCurrency, nil
	}
	return currency, nil
}

func orDefault(c catalog.Currency) catalog.Currency {
	if c == "" {
		return catalog.DefaultCurrency
	}
	return c
}
