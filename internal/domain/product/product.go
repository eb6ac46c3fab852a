package product

import (
	"context"

	"github.com/shopspring/decimal"
)

// Product is the subset of a catalog product that checkout needs.
type Product struct {
	ID    string
	Name  string
	Price decimal.Decimal
	// TaxCategoryID is nil for products without a tax category.
	TaxCategoryID *string
}

// Repository reads product tax data.
type Repository interface {
	// TaxCategory returns the product's tax category id, or nil when the
	// product has none or does not exist.
	TaxCategory(ctx context.Context, productID string) (*string, error)
}
