package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/kart-checkout/internal/domain/product"
)

const (
	getTaxCategorySQL = `SELECT tax_category_id FROM products WHERE id = $1`

	upsertProductSQL = `INSERT INTO products (id, name, price, tax_category_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			price = EXCLUDED.price,
			tax_category_id = EXCLUDED.tax_category_id`
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository.
type ProductRepository struct {
	db Querier
}

// NewProductRepository returns a ProductRepository that uses db.
func NewProductRepository(db Querier) *ProductRepository {
	return &ProductRepository{db: db}
}

// TaxCategory returns nil for unknown products and products without a
// category.
func (r *ProductRepository) TaxCategory(ctx context.Context, productID string) (*string, error) {
	var category *string
	err := r.db.QueryRow(ctx, getTaxCategorySQL, productID).Scan(&category)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get tax category of %q", productID)
	}
	return category, nil
}

// Upsert inserts or replaces a product.
func (r *ProductRepository) Upsert(ctx context.Context, p product.Product) error {
	_, err := r.db.Exec(ctx, upsertProductSQL, p.ID, p.Name, p.Price, p.TaxCategoryID)
	if err != nil {
		return errors.Wrapf(err, "upsert product %q", p.ID)
	}
	return nil
}
