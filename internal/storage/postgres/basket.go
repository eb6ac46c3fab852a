package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/kart-checkout/internal/domain/basket"
)

const (
	// Lines are always priced at the product's current price.
	listBasketLinesSQL = `SELECT bi.product_id, bi.quantity, p.price
		FROM basket_items bi
		JOIN products p ON p.id = bi.product_id
		WHERE bi.basket_id = $1
		ORDER BY bi.created_at, bi.product_id`

	insertBasketSQL = `INSERT INTO baskets (id, customer_id) VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING`

	upsertBasketItemSQL = `INSERT INTO basket_items (basket_id, product_id, quantity)
		VALUES ($1, $2, $3)
		ON CONFLICT (basket_id, product_id) DO UPDATE SET quantity = EXCLUDED.quantity`
)

var _ basket.Reader = (*BasketRepository)(nil)

// BasketRepository reads basket lines. Basket management belongs to another
// service; AddItem exists for seeding and tests.
type BasketRepository struct {
	db DB
}

// NewBasketRepository returns a BasketRepository that uses db.
func NewBasketRepository(db DB) *BasketRepository {
	return &BasketRepository{db: db}
}

// Lines returns the basket's lines, empty for unknown baskets.
func (r *BasketRepository) Lines(ctx context.Context, basketID string) ([]basket.Line, error) {
	rows, err := r.db.Query(ctx, listBasketLinesSQL, basketID)
	if err != nil {
		return nil, errors.Wrapf(err, "list basket %q", basketID)
	}
	lines, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (basket.Line, error) {
		var l basket.Line
		err := row.Scan(&l.ProductID, &l.Quantity, &l.Price)
		return l, err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "scan basket %q", basketID)
	}
	if lines == nil {
		lines = []basket.Line{}
	}
	return lines, nil
}

// AddItem creates the basket if needed and sets the product quantity.
func (r *BasketRepository) AddItem(ctx context.Context, basketID, customerID, productID string, quantity int) error {
	return WithTx(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, insertBasketSQL, basketID, customerID); err != nil {
			return errors.Wrap(err, "insert basket")
		}
		if _, err := tx.Exec(ctx, upsertBasketItemSQL, basketID, productID, quantity); err != nil {
			return errors.Wrap(err, "upsert basket item")
		}
		return nil
	})
}
