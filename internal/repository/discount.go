package repository

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/stripe-storefront/internal/domain/catalog"
)

const (
	listDiscountsSQL   = `SELECT id, name, percent_off FROM discounts ORDER BY id`
	getDiscountByIDSQL = `SELECT id, name, percent_off FROM discounts WHERE id = $1`
	createDiscountSQL  = `INSERT INTO discounts (name, percent_off) VALUES ($1, $2) RETURNING id`
	updateDiscountSQL  = `UPDATE discounts SET name = $2, percent_off = $3 WHERE id = $1`
	deleteDiscountSQL  = `DELETE FROM discounts WHERE id = $1`
)

var _ catalog.DiscountRepository = (*DiscountRepository)(nil)

// DiscountRepository implements catalog.DiscountRepository backed by PostgreSQL.
type DiscountRepository struct {
	db DB
}

// NewDiscountRepository returns a DiscountRepository that uses the given pool.
func NewDiscountRepository(db DB) *DiscountRepository {
	return &DiscountRepository{db: db}
}

// List returns every discount ordered by id.
func (r *DiscountRepository) List(ctx context.Context) ([]catalog.Discount, error) {
	rows, err := r.db.Query(ctx, listDiscountsSQL)
	if err != nil {
		return nil, errors.Wrap(err, "list discounts")
	}
	discounts, err := pgx.CollectRows(rows, scanDiscount)
	if err != nil {
		return nil, errors.Wrap(err, "scan discounts")
	}
	return discounts, nil
}

// GetByID returns the discount with the given id or a catalog.NotFoundError.
func (r *DiscountRepository) GetByID(ctx context.Context, id int64) (*catalog.Discount, error) {
	rows, err := r.db.Query(ctx, getDiscountByIDSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get discount %d", id)
	}
	d, err := pgx.CollectExactlyOneRow(rows, scanDiscount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.NewNotFound("discount", id)
		}
		return nil, errors.Wrapf(err, "get discount %d", id)
	}
	return &d, nil
}

// Create validates and inserts a discount, setting its ID.
func (r *DiscountRepository) Create(ctx context.Context, d *catalog.Discount) error {
	if err := catalog.Validate(d); err != nil {
		return err
	}
	if err := r.db.QueryRow(ctx, createDiscountSQL, d.Name, d.PercentOff).Scan(&d.ID); err != nil {
		return errors.Wrap(err, "create discount")
	}
	return nil
}

// Update validates and rewrites an existing discount.
func (r *DiscountRepository) Update(ctx context.Context, d *catalog.Discount) error {
	if err := catalog.Validate(d); err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx, updateDiscountSQL, d.ID, d.Name, d.PercentOff)
	if err != nil {
		return errors.Wrapf(err, "update discount %d", d.ID)
	}
	if tag.RowsAffected() == 0 {
		return catalog.NewNotFound("discount", d.ID)
	}
	return nil
}

// Delete removes a discount. Orders that used it keep no discount.
func (r *DiscountRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, deleteDiscountSQL, id)
	if err != nil {
		return errors.Wrapf(err, "delete discount %d", id)
	}
	if tag.RowsAffected() == 0 {
		return catalog.NewNotFound("discount", id)
	}
	return nil
}

func scanDiscount(row pgx.CollectableRow) (catalog.Discount, error) {
	var d catalog.Discount
	err := row.Scan(&d.ID, &d.Name, &d.PercentOff)
	return d, err
}
