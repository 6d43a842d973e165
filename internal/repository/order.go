package repository

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/xenking/stripe-storefront/internal/domain/catalog"
	"github.com/xenking/stripe-storefront/internal/domain/order"
)

const (
	orderColumns = `o.id, o.discount_id, o.tax_id, o.currency, o.created_at,
		COALESCE(array_agg(oi.item_id ORDER BY oi.item_id) FILTER (WHERE oi.item_id IS NOT NULL), '{}')`

	listOrdersSQL = `SELECT ` + orderColumns + `
		FROM orders o LEFT JOIN order_items oi ON oi.order_id = o.id
		GROUP BY o.id ORDER BY o.id`

	getOrderByIDSQL = `SELECT ` + orderColumns + `
		FROM orders o LEFT JOIN order_items oi ON oi.order_id = o.id
		WHERE o.id = $1 GROUP BY o.id`

	createOrderSQL = `INSERT INTO orders (discount_id, tax_id, currency)
		VALUES ($1, $2, $3) RETURNING id, created_at`

	updateOrderSQL = `UPDATE orders SET discount_id = $2, tax_id = $3, currency = $4
		WHERE id = $1`

	deleteOrderItemsSQL = `DELETE FROM order_items WHERE order_id = $1`

	insertOrderItemsSQL = `INSERT INTO order_items (order_id, item_id)
		SELECT $1, unnest($2::bigint[])`

	deleteOrderSQL = `DELETE FROM orders WHERE id = $1`

	itemsOrderedWithSQL = `SELECT DISTINCT other.item_id
		FROM order_items oi JOIN order_items other ON other.order_id = oi.order_id
		WHERE oi.item_id = $1 AND other.item_id <> $1
		ORDER BY other.item_id`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL. Item
// membership lives in the order_items join table.
type OrderRepository struct {
	db DB
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(db DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// List returns every order with its item ids, ordered by id.
func (r *OrderRepository) List(ctx context.Context) ([]order.Order, error) {
	rows, err := r.db.Query(ctx, listOrdersSQL)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, errors.Wrap(err, "scan orders")
	}
	return orders, nil
}

// GetByID returns the order with the given id or a catalog.NotFoundError.
func (r *OrderRepository) GetByID(ctx context.Context, id int64) (*order.Order, error) {
	rows, err := r.db.Query(ctx, getOrderByIDSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get order %d", id)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.NewNotFound("order", id)
		}
		return nil, errors.Wrapf(err, "get order %d", id)
	}
	return &o, nil
}

// Create inserts the order row and its item set in one transaction and sets
// the store-assigned ID and CreatedAt.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	return inTx(ctx, r.db, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, createOrderSQL, o.DiscountID, o.TaxID, string(o.Currency)).
			Scan(&o.ID, &o.CreatedAt)
		if err != nil {
			return errors.Wrap(err, "insert order")
		}
		return insertOrderItems(ctx, tx, o.ID, o.ItemIDs)
	})
}

// Update rewrites the order row and replaces its item set atomically.
// CreatedAt is never written.
func (r *OrderRepository) Update(ctx context.Context, o *order.Order) error {
	return inTx(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, updateOrderSQL, o.ID, o.DiscountID, o.TaxID, string(o.Currency))
		if err != nil {
			return errors.Wrapf(err, "update order %d", o.ID)
		}
		if tag.RowsAffected() == 0 {
			return catalog.NewNotFound("order", o.ID)
		}
		if _, err := tx.Exec(ctx, deleteOrderItemsSQL, o.ID); err != nil {
			return errors.Wrapf(err, "clear order %d items", o.ID)
		}
		return insertOrderItems(ctx, tx, o.ID, o.ItemIDs)
	})
}

// Delete removes the order; its item rows go with it.
func (r *OrderRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, deleteOrderSQL, id)
	if err != nil {
		return errors.Wrapf(err, "delete order %d", id)
	}
	if tag.RowsAffected() == 0 {
		return catalog.NewNotFound("order", id)
	}
	return nil
}

// ItemsOrderedWith returns the ids of items sharing an order with itemID.
func (r *OrderRepository) ItemsOrderedWith(ctx context.Context, itemID int64) ([]int64, error) {
	rows, err := r.db.Query(ctx, itemsOrderedWithSQL, itemID)
	if err != nil {
		return nil, errors.Wrapf(err, "get items ordered with %d", itemID)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, errors.Wrap(err, "scan item ids")
	}
	return ids, nil
}

func insertOrderItems(ctx context.Context, tx pgx.Tx, orderID int64, itemIDs []int64) error {
	if len(itemIDs) == 0 {
		return nil
	}
	if _, err := tx.Exec(ctx, insertOrderItemsSQL, orderID, itemIDs); err != nil {
		return errors.Wrapf(err, "insert order %d items", orderID)
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o          order.Order
		discountID pgtype.Int8
		taxID      pgtype.Int8
		currency   string
	)
	if err := row.Scan(&o.ID, &discountID, &taxID, &currency, &o.CreatedAt, &o.ItemIDs); err != nil {
		return order.Order{}, err
	}
	if discountID.Valid {
		o.DiscountID = &discountID.Int64
	}
	if taxID.Valid {
		o.TaxID = &taxID.Int64
	}
	o.Currency = catalog.Currency(currency)
	return o, nil
}
