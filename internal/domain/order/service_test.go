package order

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/stripe-storefront/internal/domain/catalog"
)

// --- Mock implementations ---

type mockItemRepo struct {
	byID   map[int64]catalog.Item
	getErr error
}

func (m *mockItemRepo) List(_ context.Context) ([]catalog.Item, error) { return nil, nil }

func (m *mockItemRepo) GetByID(_ context.Context, id int64) (*catalog.Item, error) {
	item, ok := m.byID[id]
	if !ok {
		return nil, catalog.NewNotFound("item", id)
	}
	return &item, nil
}

func (m *mockItemRepo) GetByIDs(_ context.Context, ids []int64) ([]catalog.Item, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	var out []catalog.Item
	for _, id := range ids {
		if item, ok := m.byID[id]; ok {
			out = append(out, item)
		}
	}
	return out, nil
}

func (m *mockItemRepo) Create(context.Context, *catalog.Item) error { return nil }
func (m *mockItemRepo) Update(context.Context, *catalog.Item) error { return nil }
func (m *mockItemRepo) Delete(context.Context, int64) error         { return nil }

type mockDiscountRepo struct {
	byID map[int64]catalog.Discount
}

func (m *mockDiscountRepo) List(_ context.Context) ([]catalog.Discount, error) {
	var out []catalog.Discount
	for _, d := range m.byID {
		out = append(out, d)
	}
	return out, nil
}

func (m *mockDiscountRepo) GetByID(_ context.Context, id int64) (*catalog.Discount, error) {
	d, ok := m.byID[id]
	if !ok {
		return nil, catalog.NewNotFound("discount", id)
	}
	return &d, nil
}

func (m *mockDiscountRepo) Create(context.Context, *catalog.Discount) error { return nil }
func (m *mockDiscountRepo) Update(context.Context, *catalog.Discount) error { return nil }
func (m *mockDiscountRepo) Delete(context.Context, int64) error             { return nil }

type mockTaxRepo struct {
	byID map[int64]catalog.Tax
}

func (m *mockTaxRepo) List(_ context.Context) ([]catalog.Tax, error) {
	var out []catalog.Tax
	for _, t := range m.byID {
		out = append(out, t)
	}
	return out, nil
}

func (m *mockTaxRepo) GetByID(_ context.Context, id int64) (*catalog.Tax, error) {
	t, ok := m.byID[id]
	if !ok {
		return nil, catalog.NewNotFound("tax", id)
	}
	return &t, nil
}

func (m *mockTaxRepo) Create(context.Context, *catalog.Tax) error { return nil }
func (m *mockTaxRepo) Update(context.Context, *catalog.Tax) error { return nil }
func (m *mockTaxRepo) Delete(context.Context, int64) error        { return nil }

type mockOrderRepo struct {
	byID    map[int64]Order
	nextID  int64
	writes  int
	saveErr error
}

func newOrderRepo(orders ...Order) *mockOrderRepo {
	m := &mockOrderRepo{byID: make(map[int64]Order), nextID: 100}
	for _, o := range orders {
		m.byID[o.ID] = o
	}
	return m
}

func (m *mockOrderRepo) List(_ context.Context) ([]Order, error) {
	var out []Order
	for _, o := range m.byID {
		out = append(out, o)
	}
	return out, nil
}

func (m *mockOrderRepo) GetByID(_ context.Context, id int64) (*Order, error) {
	o, ok := m.byID[id]
	if !ok {
		return nil, catalog.NewNotFound("order", id)
	}
	return &o, nil
}

func (m *mockOrderRepo) Create(_ context.Context, o *Order) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.writes++
	m.nextID++
	o.ID = m.nextID
	o.CreatedAt = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m.byID[o.ID] = *o
	return nil
}

func (m *mockOrderRepo) Update(_ context.Context, o *Order) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.writes++
	m.byID[o.ID] = *o
	return nil
}

func (m *mockOrderRepo) Delete(_ context.Context, id int64) error {
	if _, ok := m.byID[id]; !ok {
		return catalog.NewNotFound("order", id)
	}
	delete(m.byID, id)
	return nil
}

func (m *mockOrderRepo) ItemsOrderedWith(_ context.Context, itemID int64) ([]int64, error) {
	seen := map[int64]bool{}
	var out []int64
	for _, o := range m.byID {
		if !slices.Contains(o.ItemIDs, itemID) {
			continue
		}
		for _, id := range o.ItemIDs {
			if id != itemID && !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	slices.Sort(out)
	return out, nil
}

// --- Helpers ---

func ptr[T any](v T) *T { return &v }

func newItemRepo(items ...catalog.Item) *mockItemRepo {
	byID := make(map[int64]catalog.Item, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}
	return &mockItemRepo{byID: byID}
}

func testCatalog() (*mockItemRepo, *mockDiscountRepo, *mockTaxRepo) {
	items := newItemRepo(
		catalog.Item{ID: 1, Name: "Mug", Price: decimal.RequireFromString("60.00"), Currency: catalog.USD},
		catalog.Item{ID: 2, Name: "Shirt", Price: decimal.RequireFromString("40.00"), Currency: catalog.USD},
		catalog.Item{ID: 3, Name: "Poster", Price: decimal.RequireFromString("12.00"), Currency: catalog.EUR},
	)
	discounts := &mockDiscountRepo{byID: map[int64]catalog.Discount{
		1: {ID: 1, Name: "Ten", PercentOff: decimal.NewFromInt(10)},
	}}
	taxes := &mockTaxRepo{byID: map[int64]catalog.Tax{
		1: {ID: 1, Name: "VAT", Percentage: decimal.NewFromInt(20)},
	}}
	return items, discounts, taxes
}

func newTestService(orders *mockOrderRepo) *Service {
	items, discounts, taxes := testCatalog()
	return NewService(orders, items, discounts, taxes)
}

// --- Tests ---

func TestCreate_DerivesCurrencyAndPrices(t *testing.T) {
	orders := newOrderRepo()
	svc := newTestService(orders)

	details, err := svc.Create(context.Background(), Draft{
		ItemIDs:    []int64{2, 1, 2},
		DiscountID: ptr(int64(1)),
		TaxID:      ptr(int64(1)),
	})
	require.NoError(t, err)

	assert.Equal(t, int64(101), details.ID)
	assert.Equal(t, catalog.USD, details.Currency)
	assert.Equal(t, []int64{1, 2}, details.ItemIDs)
	assert.Len(t, details.Items, 2)
	assert.True(t, decimal.RequireFromString("108.00").Equal(details.TotalPrice()), "got %s", details.TotalPrice())

	stored := orders.byID[details.ID]
	assert.Equal(t, catalog.USD, stored.Currency)
}

func TestCreate_EmptyOrderIsUSD(t *testing.T) {
	svc := newTestService(newOrderRepo())

	details, err := svc.Create(context.Background(), Draft{})
	require.NoError(t, err)

	assert.Equal(t, catalog.USD, details.Currency)
	assert.True(t, decimal.Zero.Equal(details.TotalPrice()))
}

func TestCreate_MixedCurrenciesRejected(t *testing.T) {
	orders := newOrderRepo()
	svc := newTestService(orders)

	_, err := svc.Create(context.Background(), Draft{ItemIDs: []int64{1, 3}})

	require.ErrorIs(t, err, ErrMixedCurrencies)
	var vErr *catalog.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "items", vErr.Field)
	assert.Zero(t, orders.writes)
}

func TestCreate_UnknownItem(t *testing.T) {
	orders := newOrderRepo()
	svc := newTestService(orders)

	_, err := svc.Create(context.Background(), Draft{ItemIDs: []int64{1, 42}})

	var vErr *catalog.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "items", vErr.Field)
	assert.Contains(t, vErr.Error(), "42")
	assert.Zero(t, orders.writes)
}

func TestCreate_UnknownDiscountAndTax(t *testing.T) {
	svc := newTestService(newOrderRepo())

	_, err := svc.Create(context.Background(), Draft{ItemIDs: []int64{1}, DiscountID: ptr(int64(9))})
	var vErr *catalog.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "discount_id", vErr.Field)

	_, err = svc.Create(context.Background(), Draft{ItemIDs: []int64{1}, TaxID: ptr(int64(9))})
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "tax_id", vErr.Field)
}

func TestCreate_RepositoryError(t *testing.T) {
	orders := newOrderRepo()
	orders.saveErr = errors.New("connection refused")
	svc := newTestService(orders)

	_, err := svc.Create(context.Background(), Draft{ItemIDs: []int64{1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create order")
}

func TestCreate_ItemLookupError(t *testing.T) {
	items, discounts, taxes := testCatalog()
	items.getErr = errors.New("timeout")
	svc := NewService(newOrderRepo(), items, discounts, taxes)

	_, err := svc.Create(context.Background(), Draft{ItemIDs: []int64{1}})
	require.Error(t, err)

	var vErr *catalog.ValidationError
	assert.False(t, errors.As(err, &vErr))
}

func TestUpdate_RederivesCurrency(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	orders := newOrderRepo(Order{ID: 5, ItemIDs: []int64{1}, Currency: catalog.USD, CreatedAt: created})
	svc := newTestService(orders)

	details, err := svc.Update(context.Background(), 5, Draft{ItemIDs: []int64{3}})
	require.NoError(t, err)

	assert.Equal(t, int64(5), details.ID)
	assert.Equal(t, catalog.EUR, details.Currency)
	assert.Equal(t, created, details.CreatedAt)
	assert.Equal(t, catalog.EUR, orders.byID[5].Currency)
}

func TestUpdate_InvalidDraftLeavesOrderUntouched(t *testing.T) {
	orders := newOrderRepo(Order{ID: 5, ItemIDs: []int64{1}, Currency: catalog.USD})
	svc := newTestService(orders)

	_, err := svc.Update(context.Background(), 5, Draft{ItemIDs: []int64{1, 3}})
	require.ErrorIs(t, err, ErrMixedCurrencies)

	assert.Zero(t, orders.writes)
	assert.Equal(t, []int64{1}, orders.byID[5].ItemIDs)
	assert.Equal(t, catalog.USD, orders.byID[5].Currency)
}

func TestUpdate_NotFound(t *testing.T) {
	svc := newTestService(newOrderRepo())

	_, err := svc.Update(context.Background(), 77, Draft{})
	require.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestGet_ResolvesMembers(t *testing.T) {
	orders := newOrderRepo(Order{
		ID:         8,
		ItemIDs:    []int64{1, 2},
		DiscountID: ptr(int64(1)),
		TaxID:      ptr(int64(1)),
		Currency:   catalog.USD,
	})
	svc := newTestService(orders)

	details, err := svc.Get(context.Background(), 8)
	require.NoError(t, err)

	require.NotNil(t, details.Discount)
	require.NotNil(t, details.Tax)
	assert.Len(t, details.Items, 2)
	assert.True(t, decimal.RequireFromString("108.00").Equal(details.TotalPrice()))

	_, err = svc.Get(context.Background(), 9)
	require.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestList_ResolvesEveryOrder(t *testing.T) {
	orders := newOrderRepo(
		Order{ID: 1, ItemIDs: []int64{1, 2}, TaxID: ptr(int64(1)), Currency: catalog.USD},
		Order{ID: 2, ItemIDs: []int64{3}, DiscountID: ptr(int64(1)), Currency: catalog.EUR},
		Order{ID: 3, Currency: catalog.USD},
	)
	svc := newTestService(orders)

	list, err := svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 3)

	byID := make(map[int64]Details, len(list))
	for _, d := range list {
		byID[d.ID] = d
	}
	d1, d2 := byID[1], byID[2]
	assert.True(t, decimal.RequireFromString("120.00").Equal(d1.TotalPrice()))
	assert.True(t, decimal.RequireFromString("10.80").Equal(d2.TotalPrice()))
	assert.Empty(t, byID[3].Items)
	assert.Nil(t, byID[3].Discount)
}

func TestDelete(t *testing.T) {
	orders := newOrderRepo(Order{ID: 4})
	svc := newTestService(orders)

	require.NoError(t, svc.Delete(context.Background(), 4))
	assert.NotContains(t, orders.byID, int64(4))

	require.ErrorIs(t, svc.Delete(context.Background(), 4), catalog.ErrNotFound)
}

func TestValidateItems(t *testing.T) {
	svc := newTestService(newOrderRepo())

	items, currency, err := svc.ValidateItems(context.Background(), []int64{3})
	require.NoError(t, err)
	assert.Equal(t, catalog.EUR, currency)
	assert.Len(t, items, 1)

	_, _, err = svc.ValidateItems(context.Background(), []int64{2, 3})
	require.ErrorIs(t, err, ErrMixedCurrencies)
}

func TestGet_RederivesStaleCurrency(t *testing.T) {
	orders := newOrderRepo(
		// Stored before Poster moved to eur.
		Order{ID: 1, ItemIDs: []int64{3}, Currency: catalog.USD},
		Order{ID: 2, ItemIDs: []int64{1, 3}, Currency: catalog.USD},
	)
	svc := newTestService(orders)

	details, err := svc.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, catalog.EUR, details.Currency)

	details, err = svc.Get(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, catalog.USD, details.Currency, "mixed items keep the stored value")
	_, err = DeriveCurrency(details.Items)
	assert.ErrorIs(t, err, ErrMixedCurrencies)

	list, err := svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	for _, d := range list {
		if d.ID == 1 {
			assert.Equal(t, catalog.EUR, d.Currency)
		}
	}
}

func TestCheckItemCurrency(t *testing.T) {
	orders := newOrderRepo(
		Order{ID: 1, ItemIDs: []int64{1, 2}, Currency: catalog.USD},
		Order{ID: 2, ItemIDs: []int64{3}, Currency: catalog.EUR},
	)
	svc := newTestService(orders)
	ctx := context.Background()

	tests := []struct {
		name     string
		itemID   int64
		currency catalog.Currency
		wantErr  bool
	}{
		{name: "unchanged", itemID: 2, currency: catalog.USD},
		{name: "blank is usd", itemID: 2, currency: ""},
		{name: "shares an order with usd items", itemID: 2, currency: catalog.EUR, wantErr: true},
		{name: "only item in its order", itemID: 3, currency: catalog.USD},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.CheckItemCurrency(ctx, tt.itemID, tt.currency)
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			var vErr *catalog.ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, "currency", vErr.Field)
			assert.ErrorIs(t, err, ErrMixedCurrencies)
			assert.Contains(t, err.Error(), "item 2 shares an order with usd item 1")
		})
	}

	require.ErrorIs(t, svc.CheckItemCurrency(ctx, 404, catalog.EUR), catalog.ErrNotFound)
}
