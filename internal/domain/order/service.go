package order

import (
	"context"
	"fmt"
	"slices"

	"github.com/go-faster/errors"

	"github.com/xenking/stripe-storefront/internal/domain/catalog"
)

// Draft holds the editable part of an order.
type Draft struct {
	ItemIDs    []int64
	DiscountID *int64
	TaxID      *int64
}

// Service is the only place orders are written. Every write resolves the
// draft's members and derives the currency before touching storage.
type Service struct {
	orders    Repository
	items     catalog.ItemRepository
	discounts catalog.DiscountRepository
	taxes     catalog.TaxRepository
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	orders Repository,
	items catalog.ItemRepository,
	discounts catalog.DiscountRepository,
	taxes catalog.TaxRepository,
) *Service {
	return &Service{
		orders:    orders,
		items:     items,
		discounts: discounts,
		taxes:     taxes,
	}
}

// ValidateItems resolves itemIDs and checks that they share one currency.
// It is what an editing surface calls to reject a bad item set before
// submitting it; Create and Update run the same check.
func (s *Service) ValidateItems(ctx context.Context, itemIDs []int64) ([]catalog.Item, catalog.Currency, error) {
	ids := uniqueIDs(itemIDs)
	if len(ids) == 0 {
		return nil, catalog.DefaultCurrency, nil
	}

	items, err := s.items.GetByIDs(ctx, ids)
	if err != nil {
		return nil, "", errors.Wrap(err, "get items")
	}

	found := make(map[int64]struct{}, len(items))
	for _, item := range items {
		found[item.ID] = struct{}{}
	}
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			return nil, "", &catalog.ValidationError{
				Field: "items",
				Err:   fmt.Errorf("item %d does not exist", id),
			}
		}
	}

	currency, err := DeriveCurrency(items)
	if err != nil {
		return nil, "", err
	}
	return items, currency, nil
}

// CheckItemCurrency rejects repricing itemID in currency when an order
// holding it also holds items priced in another currency. Keeping the
// item's current currency always passes.
func (s *Service) CheckItemCurrency(ctx context.Context, itemID int64, currency catalog.Currency) error {
	current, err := s.items.GetByID(ctx, itemID)
	if err != nil {
		return errors.Wrap(err, "get item")
	}
	currency = orDefault(currency)
	if orDefault(current.Currency) == currency {
		return nil
	}

	ids, err := s.orders.ItemsOrderedWith(ctx, itemID)
	if err != nil {
		return errors.Wrap(err, "get co-ordered items")
	}
	if len(ids) == 0 {
		return nil
	}
	others, err := s.items.GetByIDs(ctx, ids)
	if err != nil {
		return errors.Wrap(err, "get co-ordered items")
	}
	for _, other := range others {
		if orDefault(other.Currency) != currency {
			return &catalog.ValidationError{
				Field: "currency",
				Err: errors.Wrapf(ErrMixedCurrencies, "item %d shares an order with %s item %d",
					itemID, orDefault(other.Currency), other.ID),
			}
		}
	}
	return nil
}

// Create validates the draft and stores a new order.
func (s *Service) Create(ctx context.Context, draft Draft) (*Details, error) {
	details, err := s.resolve(ctx, draft)
	if err != nil {
		return nil, err
	}
	if err := s.orders.Create(ctx, &details.Order); err != nil {
		return nil, errors.Wrap(err, "create order")
	}
	return details, nil
}

// Update replaces the order's members and re-derives its currency. A draft
// that fails validation leaves the stored order untouched.
func (s *Service) Update(ctx context.Context, id int64, draft Draft) (*Details, error) {
	current, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}

	details, err := s.resolve(ctx, draft)
	if err != nil {
		return nil, err
	}
	details.ID = current.ID
	details.CreatedAt = current.CreatedAt

	if err := s.orders.Update(ctx, &details.Order); err != nil {
		return nil, errors.Wrap(err, "update order")
	}
	return details, nil
}

// Delete removes an order.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.orders.Delete(ctx, id); err != nil {
		return errors.Wrap(err, "delete order")
	}
	return nil
}

// Get loads an order and resolves its items, discount and tax. Currency is
// re-derived from the resolved items when they still agree.
func (s *Service) Get(ctx context.Context, id int64) (*Details, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}

	details := &Details{Order: *o}
	if len(o.ItemIDs) > 0 {
		details.Items, err = s.items.GetByIDs(ctx, o.ItemIDs)
		if err != nil {
			return nil, errors.Wrap(err, "get order items")
		}
	}
	details.refreshCurrency()
	if o.DiscountID != nil {
		details.Discount, err = s.discounts.GetByID(ctx, *o.DiscountID)
		if err != nil {
			return nil, errors.Wrap(err, "get order discount")
		}
	}
	if o.TaxID != nil {
		details.Tax, err = s.taxes.GetByID(ctx, *o.TaxID)
		if err != nil {
			return nil, errors.Wrap(err, "get order tax")
		}
	}
	return details, nil
}

// List returns every order with its members resolved in a fixed number of
// queries.
func (s *Service) List(ctx context.Context) ([]Details, error) {
	orders, err := s.orders.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}

	var ids []int64
	for _, o := range orders {
		ids = append(ids, o.ItemIDs...)
	}
	ids = uniqueIDs(ids)

	itemsByID := make(map[int64]catalog.Item, len(ids))
	if len(ids) > 0 {
		items, err := s.items.GetByIDs(ctx, ids)
		if err != nil {
			return nil, errors.Wrap(err, "get items")
		}
		for _, item := range items {
			itemsByID[item.ID] = item
		}
	}

	discounts, err := s.discounts.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list discounts")
	}
	discountsByID := make(map[int64]catalog.Discount, len(discounts))
	for _, d := range discounts {
		discountsByID[d.ID] = d
	}

	taxes, err := s.taxes.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list taxes")
	}
	taxesByID := make(map[int64]catalog.Tax, len(taxes))
	for _, t := range taxes {
		taxesByID[t.ID] = t
	}

	out := make([]Details, len(orders))
	for i, o := range orders {
		out[i].Order = o
		for _, id := range o.ItemIDs {
			if item, ok := itemsByID[id]; ok {
				out[i].Items = append(out[i].Items, item)
			}
		}
		if o.DiscountID != nil {
			if d, ok := discountsByID[*o.DiscountID]; ok {
				out[i].Discount = &d
			}
		}
		if o.TaxID != nil {
			if t, ok := taxesByID[*o.TaxID]; ok {
				out[i].Tax = &t
			}
		}
		out[i].refreshCurrency()
	}
	return out, nil
}

// resolve checks every member of the draft and derives the currency.
func (s *Service) resolve(ctx context.Context, draft Draft) (*Details, error) {
	items, currency, err := s.ValidateItems(ctx, draft.ItemIDs)
	if err != nil {
		return nil, err
	}

	details := &Details{
		Order: Order{
			ItemIDs:    uniqueIDs(draft.ItemIDs),
			DiscountID: draft.DiscountID,
			TaxID:      draft.TaxID,
			Currency:   currency,
		},
		Items: items,
	}

	if draft.DiscountID != nil {
		details.Discount, err = s.discounts.GetByID(ctx, *draft.DiscountID)
		if err != nil {
			return nil, referenceError("discount_id", err)
		}
	}
	if draft.TaxID != nil {
		details.Tax, err = s.taxes.GetByID(ctx, *draft.TaxID)
		if err != nil {
			return nil, referenceError("tax_id", err)
		}
	}
	return details, nil
}

// referenceError turns a missing referenced entity into a validation
// failure on the referencing field.
func referenceError(field string, err error) error {
	var nf *catalog.NotFoundError
	if errors.As(err, &nf) {
		return &catalog.ValidationError{
			Field: field,
			Err:   fmt.Errorf("%s %d does not exist", nf.Entity, nf.ID),
		}
	}
	return errors.Wrapf(err, "resolve %s", field)
}

// uniqueIDs returns ids sorted and without duplicates; membership is a set.
func uniqueIDs(ids []int64) []int64 {
	if len(ids) == 0 {
		return nil
	}
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}
