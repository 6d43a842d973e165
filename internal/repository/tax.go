package repository

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/stripe-storefront/internal/domain/catalog"
)

const (
	listTaxesSQL   = `SELECT id, name, percentage FROM taxes ORDER BY id`
	getTaxByIDSQL = `SELECT id, name, percentage FROM taxes WHERE id = $1`
	createTaxSQL  = `INSERT INTO taxes (name, percentage) VALUES ($1, $2) RETURNING id`
	updateTaxSQL  = `UPDATE taxes SET name = $2, percentage = $3 WHERE id = $1`
	deleteTaxSQL  = `DELETE FROM taxes WHERE id = $1`
)

var _ catalog.TaxRepository = (*TaxRepository)(nil)

// TaxRepository implements catalog.TaxRepository backed by PostgreSQL.
type TaxRepository struct {
	db DB
}

// NewTaxRepository returns a TaxRepository that uses the given pool.
func NewTaxRepository(db DB) *TaxRepository {
	return &TaxRepository{db: db}
}

// List returns every tax ordered by id.
func (r *TaxRepository) List(ctx context.Context) ([]catalog.Tax, error) {
	rows, err := r.db.Query(ctx, listTaxesSQL)
	if err != nil {
		return nil, errors.Wrap(err, "list taxes")
	}
	taxes, err := pgx.CollectRows(rows, scanTax)
	if err != nil {
		return nil, errors.Wrap(err, "scan taxes")
	}
	return taxes, nil
}

// GetByID returns the tax with the given id or a catalog.NotFoundError.
func (r *TaxRepository) GetByID(ctx context.Context, id int64) (*catalog.Tax, error) {
	rows, err := r.db.Query(ctx, getTaxByIDSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get tax %d", id)
	}
	t, err := pgx.CollectExactlyOneRow(rows, scanTax)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.NewNotFound("tax", id)
		}
		return nil, errors.Wrapf(err, "get tax %d", id)
	}
	return &t, nil
}

// Create validates and inserts a tax, setting its ID.
func (r *TaxRepository) Create(ctx context.Context, t *catalog.Tax) error {
	if err := catalog.Validate(t); err != nil {
		return err
	}
	if err := r.db.QueryRow(ctx, createTaxSQL, t.Name, t.Percentage).Scan(&t.ID); err != nil {
		return errors.Wrap(err, "create tax")
	}
	return nil
}

// Update validates and rewrites an existing tax.
func (r *TaxRepository) Update(ctx context.Context, t *catalog.Tax) error {
	if err := catalog.Validate(t); err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx, updateTaxSQL, t.ID, t.Name, t.Percentage)
	if err != nil {
		return errors.Wrapf(err, "update tax %d", t.ID)
	}
	if tag.RowsAffected() == 0 {
		return catalog.NewNotFound("tax", t.ID)
	}
	return nil
}

// Delete removes a tax; referencing orders are left untaxed.
func (r *TaxRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, deleteTaxSQL, id)
	if err != nil {
		return errors.Wrapf(err, "delete tax %d", id)
	}
	if tag.RowsAffected() == 0 {
		return catalog.NewNotFound("tax", id)
	}
	return nil
}

func scanTax(row pgx.CollectableRow) (catalog.Tax, error) {
	var t catalog.Tax
	err := row.Scan(&t.ID, &t.Name, &t.Percentage)
	return t, err
}
