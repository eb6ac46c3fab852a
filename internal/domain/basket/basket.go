// Package basket describes the read-only view of shopping baskets that the
// checkout and tax code depend on. Basket CRUD lives elsewhere.
package basket

import (
	"context"

	"github.com/shopspring/decimal"
)

// Line is a single basket line priced at the product's current price.
type Line struct {
	ProductID string
	Quantity  int
	Price     decimal.Decimal
}

// Subtotal returns price * quantity.
func (l Line) Subtotal() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Reader loads basket lines.
type Reader interface {
	// Lines returns the basket's lines. An unknown or empty basket yields an
	// empty slice.
	Lines(ctx context.Context, basketID string) ([]Line, error)
}

// Subtotal returns the sum of line subtotals.
func Subtotal(lines []Line) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.Subtotal())
	}
	return sum
}
