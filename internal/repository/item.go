package repository

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/stripe-storefront/internal/domain/catalog"
)

const (
	listItemsSQL = `SELECT id, name, description, price, currency
		FROM items ORDER BY id`

	getItemByIDSQL = `SELECT id, name, description, price, currency
		FROM items WHERE id = $1`

	getItemsByIDsSQL = `SELECT id, name, description, price, currency
		FROM items WHERE id = ANY($1) ORDER BY id`

	createItemSQL = `INSERT INTO items (name, description, price, currency)
		VALUES ($1, $2, $3, $4) RETURNING id`

	updateItemSQL = `UPDATE items SET name = $2, description = $3, price = $4, currency = $5
		WHERE id = $1`

	deleteItemSQL = `DELETE FROM items WHERE id = $1`

	itemExistsSQL = `SELECT EXISTS (SELECT 1 FROM items WHERE name = $1 AND currency = $2)`
)

var _ catalog.ItemRepository = (*ItemRepository)(nil)

// ItemRepository implements catalog.ItemRepository backed by PostgreSQL.
type ItemRepository struct {
	db DB
}

// NewItemRepository returns an ItemRepository that uses the given pool.
func NewItemRepository(db DB) *ItemRepository {
	return &ItemRepository{db: db}
}

// List returns all items ordered by ID.
func (r *ItemRepository) List(ctx context.Context) ([]catalog.Item, error) {
	rows, err := r.db.Query(ctx, listItemsSQL)
	if err != nil {
		return nil, errors.Wrap(err, "list items")
	}
	items, err := pgx.CollectRows(rows, scanItem)
	if err != nil {
		return nil, errors.Wrap(err, "scan items")
	}
	return items, nil
}

// ExistsByKey reports whether an item with this name is already sold in
// currency.
func (r *ItemRepository) ExistsByKey(ctx context.Context, name string, currency catalog.Currency) (bool, error) {
	var exists bool
	if err := r.db.QueryRow(ctx, itemExistsSQL, name, string(currency)).Scan(&exists); err != nil {
		return false, errors.Wrap(err, "check item key")
	}
	return exists, nil
}

// GetByID returns a single item.
func (r *ItemRepository) GetByID(ctx context.Context, id int64) (*catalog.Item, error) {
	rows, err := r.db.Query(ctx, getItemByIDSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get item %d", id)
	}

	item, err := pgx.CollectExactlyOneRow(rows, scanItem)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.NewNotFound("item", id)
		}
		return nil, errors.Wrapf(err, "get item %d", id)
	}
	return &item, nil
}

// GetByIDs returns the items matching any of ids. Unknown ids are skipped.
func (r *ItemRepository) GetByIDs(ctx context.Context, ids []int64) ([]catalog.Item, error) {
	rows, err := r.db.Query(ctx, getItemsByIDsSQL, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get items by ids")
	}
	items, err := pgx.CollectRows(rows, scanItem)
	if err != nil {
		return nil, errors.Wrap(err, "scan items")
	}
	return items, nil
}

// Create validates and inserts item, setting its ID.
func (r *ItemRepository) Create(ctx context.Context, item *catalog.Item) error {
	if item.Currency == "" {
		item.Currency = catalog.DefaultCurrency
	}
	if err := catalog.Validate(item); err != nil {
		return err
	}

	err := r.db.QueryRow(ctx, createItemSQL,
		item.Name, item.Description, item.Price, string(item.Currency),
	).Scan(&item.ID)
	if err != nil {
		return errors.Wrap(err, "create item")
	}
	return nil
}

// Update validates and overwrites the stored item.
func (r *ItemRepository) Update(ctx context.Context, item *catalog.Item) error {
	if item.Currency == "" {
		item.Currency = catalog.DefaultCurrency
	}
	if err := catalog.Validate(item); err != nil {
		return err
	}

	tag, err := r.db.Exec(ctx, updateItemSQL,
		item.ID, item.Name, item.Description, item.Price, string(item.Currency),
	)
	if err != nil {
		return errors.Wrapf(err, "update item %d", item.ID)
	}
	if tag.RowsAffected() == 0 {
		return catalog.NewNotFound("item", item.ID)
	}
	return nil
}

// Delete removes an item. Orders lose it from their item set.
func (r *ItemRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, deleteItemSQL, id)
	if err != nil {
		return errors.Wrapf(err, "delete item %d", id)
	}
	if tag.RowsAffected() == 0 {
		return catalog.NewNotFound("item", id)
	}
	return nil
}

func scanItem(row pgx.CollectableRow) (catalog.Item, error) {
	var (
		item     catalog.Item
		price    decimal.Decimal
		currency string
	)
	if err := row.Scan(&item.ID, &item.Name, &item.Description, &price, &currency); err != nil {
		return catalog.Item{}, err
	}
	item.Price = price
	item.Currency = catalog.Currency(currency)
	return item, nil
}
