package repository

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/stripe-storefront/internal/domain/auth"
	"github.com/xenking/stripe-storefront/internal/domain/catalog"
	"github.com/xenking/stripe-storefront/internal/domain/order"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		mock.Close()
	})
	return mock
}

var itemColumns = []string{"id", "name", "description", "price", "currency"}

func TestItemRepository_List(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`SELECT id, name, description, price, currency\s+FROM items ORDER BY id`).
		WillReturnRows(pgxmock.NewRows(itemColumns).
			AddRow(int64(1), "Mug", "Stoneware", "12.50", "usd").
			AddRow(int64(2), "Print", "", "35.00", "eur"))

	items, err := NewItemRepository(mock).List(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "Mug", items[0].Name)
	assert.True(t, decimal.RequireFromString("12.50").Equal(items[0].Price))
	assert.Equal(t, catalog.EUR, items[1].Currency)
}

func TestItemRepository_GetByID_NotFound(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`FROM items WHERE id = \$1`).
		WithArgs(int64(9)).
		WillReturnRows(pgxmock.NewRows(itemColumns))

	_, err := NewItemRepository(mock).GetByID(context.Background(), 9)

	var nf *catalog.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "item", nf.Entity)
	assert.Equal(t, int64(9), nf.ID)
}

func TestItemRepository_GetByIDs(t *testing.T) {
	mock := newMock(t)
	ids := []int64{1, 3}
	mock.ExpectQuery(`FROM items WHERE id = ANY\(\$1\)`).
		WithArgs(ids).
		WillReturnRows(pgxmock.NewRows(itemColumns).
			AddRow(int64(1), "Mug", "", "12.50", "usd"))

	items, err := NewItemRepository(mock).GetByIDs(context.Background(), ids)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestItemRepository_ExistsByKey(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("Mug", "eur").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := NewItemRepository(mock).ExistsByKey(context.Background(), "Mug", catalog.EUR)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestItemRepository_Create(t *testing.T) {
	mock := newMock(t)
	item := &catalog.Item{Name: "Tote", Price: decimal.RequireFromString("19.99")}

	mock.ExpectQuery(`INSERT INTO items`).
		WithArgs("Tote", "", item.Price, "usd").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(42)))

	require.NoError(t, NewItemRepository(mock).Create(context.Background(), item))
	assert.Equal(t, int64(42), item.ID)
	assert.Equal(t, catalog.USD, item.Currency)
}

func TestItemRepository_Create_InvalidSkipsDatabase(t *testing.T) {
	mock := newMock(t)
	item := &catalog.Item{Name: "Bad", Price: decimal.RequireFromString("1.001"), Currency: catalog.USD}

	err := NewItemRepository(mock).Create(context.Background(), item)

	var vErr *catalog.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "price", vErr.Field)
}

func TestItemRepository_Update_NotFound(t *testing.T) {
	mock := newMock(t)
	item := &catalog.Item{ID: 5, Name: "Mug", Price: decimal.RequireFromString("1.00"), Currency: catalog.EUR}

	mock.ExpectExec(`UPDATE items SET`).
		WithArgs(int64(5), "Mug", "", item.Price, "eur").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := NewItemRepository(mock).Update(context.Background(), item)
	require.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestItemRepository_Delete(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec(`DELETE FROM items WHERE id = \$1`).
		WithArgs(int64(5)).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, NewItemRepository(mock).Delete(context.Background(), 5))
}

func TestDiscountRepository_GetByID(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`FROM discounts WHERE id = \$1`).
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "percent_off"}).
			AddRow(int64(1), "Welcome", "10.00"))

	d, err := NewDiscountRepository(mock).GetByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "Welcome", d.Name)
	assert.True(t, decimal.NewFromInt(10).Equal(d.PercentOff))
}

func TestDiscountRepository_Create_RejectsOverHundred(t *testing.T) {
	mock := newMock(t)

	err := NewDiscountRepository(mock).Create(context.Background(), &catalog.Discount{
		Name:       "Too much",
		PercentOff: decimal.RequireFromString("120"),
	})

	var vErr *catalog.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "percent_off", vErr.Field)
}

func TestTaxRepository_List(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`SELECT id, name, percentage FROM taxes ORDER BY id`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "percentage"}).
			AddRow(int64(1), "VAT", "20.00").
			AddRow(int64(2), "Sales", "8.25"))

	taxes, err := NewTaxRepository(mock).List(context.Background())
	require.NoError(t, err)
	require.Len(t, taxes, 2)
	assert.True(t, decimal.RequireFromString("8.25").Equal(taxes[1].Percentage))
}

func TestTaxRepository_Delete_NotFound(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec(`DELETE FROM taxes`).
		WithArgs(int64(3)).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	err := NewTaxRepository(mock).Delete(context.Background(), 3)
	require.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestOrderRepository_GetByID(t *testing.T) {
	mock := newMock(t)
	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM orders o LEFT JOIN order_items oi ON oi.order_id = o.id\s+WHERE o.id = \$1`).
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "discount_id", "tax_id", "currency", "created_at", "item_ids"}).
			AddRow(int64(7), int64(1), int64(2), "eur", created, []int64{3, 4}))

	o, err := NewOrderRepository(mock).GetByID(context.Background(), 7)
	require.NoError(t, err)

	assert.Equal(t, []int64{3, 4}, o.ItemIDs)
	require.NotNil(t, o.DiscountID)
	assert.Equal(t, int64(1), *o.DiscountID)
	require.NotNil(t, o.TaxID)
	assert.Equal(t, int64(2), *o.TaxID)
	assert.Equal(t, catalog.EUR, o.Currency)
	assert.Equal(t, created, o.CreatedAt)
}

func TestOrderRepository_ItemsOrderedWith(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`SELECT DISTINCT other.item_id`).
		WithArgs(int64(2)).
		WillReturnRows(pgxmock.NewRows([]string{"item_id"}).AddRow(int64(1)).AddRow(int64(5)))

	ids, err := NewOrderRepository(mock).ItemsOrderedWith(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 5}, ids)
}

func TestOrderRepository_Create(t *testing.T) {
	mock := newMock(t)
	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	discountID := int64(1)
	o := &order.Order{ItemIDs: []int64{1, 2}, DiscountID: &discountID, Currency: catalog.USD}

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO orders`).
		WithArgs(o.DiscountID, o.TaxID, "usd").
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(int64(11), created))
	mock.ExpectExec(`INSERT INTO order_items`).
		WithArgs(int64(11), []int64{1, 2}).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	require.NoError(t, NewOrderRepository(mock).Create(context.Background(), o))
	assert.Equal(t, int64(11), o.ID)
	assert.Equal(t, created, o.CreatedAt)
}

func TestOrderRepository_Create_EmptyItemSet(t *testing.T) {
	mock := newMock(t)
	o := &order.Order{Currency: catalog.USD}

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO orders`).
		WithArgs(o.DiscountID, o.TaxID, "usd").
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(int64(12), time.Now()))
	mock.ExpectCommit()

	require.NoError(t, NewOrderRepository(mock).Create(context.Background(), o))
}

func TestOrderRepository_Update_RollsBackOnItemFailure(t *testing.T) {
	mock := newMock(t)
	o := &order.Order{ID: 4, ItemIDs: []int64{9}, Currency: catalog.EUR}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE orders SET`).
		WithArgs(int64(4), o.DiscountID, o.TaxID, "eur").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`DELETE FROM order_items WHERE order_id = \$1`).
		WithArgs(int64(4)).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`INSERT INTO order_items`).
		WithArgs(int64(4), []int64{9}).
		WillReturnError(errors.New("foreign key violation"))
	mock.ExpectRollback()

	err := NewOrderRepository(mock).Update(context.Background(), o)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert order 4 items")
}

func TestOrderRepository_Update_NotFound(t *testing.T) {
	mock := newMock(t)
	o := &order.Order{ID: 4, Currency: catalog.USD}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE orders SET`).
		WithArgs(int64(4), o.DiscountID, o.TaxID, "usd").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err := NewOrderRepository(mock).Update(context.Background(), o)
	require.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestAPIKeyRepository_FindByHash(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`FROM api_keys WHERE key_hash = \$1 AND active = TRUE`).
		WithArgs("abc").
		WillReturnRows(pgxmock.NewRows([]string{"id", "key_hash", "name", "scopes"}).
			AddRow("0d8a1c1e-7c1f-4a53-9c55-0d9f1b2e3a4b", "abc", "admin", []string{"admin"}))

	info, err := NewAPIKeyRepository(mock).FindByHash(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, "admin", info.Name)
	assert.Equal(t, []string{"admin"}, info.Scopes)
}

func TestAPIKeyRepository_FindByHash_NotFound(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`FROM api_keys`).
		WithArgs("nope").
		WillReturnRows(pgxmock.NewRows([]string{"id", "key_hash", "name", "scopes"}))

	_, err := NewAPIKeyRepository(mock).FindByHash(context.Background(), "nope")
	require.ErrorIs(t, err, auth.ErrKeyNotFound)
}
