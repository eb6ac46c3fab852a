// Package tax resolves jurisdiction-scoped tax rates and computes line and
// basket taxes from them.
//
// Rates stack: every matching rate is applied to the same taxable amount and
// the amounts are summed. There is no compounding.
package tax

import (
	"context"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// RateStatus is the lifecycle state of a tax rate.
type RateStatus string

const (
	RateActive   RateStatus = "active"
	RateInactive RateStatus = "inactive"
)

// ExemptionStatus is the lifecycle state of a customer exemption.
type ExemptionStatus string

const (
	ExemptionActive  ExemptionStatus = "active"
	ExemptionRevoked ExemptionStatus = "revoked"
)

// Jurisdiction identifies where goods are shipped. Empty Region or PostalCode
// means the address does not carry that component.
type Jurisdiction struct {
	Country    string
	Region     string
	PostalCode string
}

// Rate is a tax rate scoped to a country and optionally narrowed to a region,
// a postal code and a set of product tax categories.
type Rate struct {
	ID         string
	Name       string
	Country    string
	Region     *string
	PostalCode *string
	// Categories restricts the rate to products in these tax categories.
	// Empty means the rate applies to every product.
	Categories []string
	// Rate is a fraction: 0.08 means 8%.
	Rate     decimal.Decimal
	Priority int
	Status   RateStatus
}

// Matches reports whether the rate applies to a line shipped to j whose
// product has the given tax category (nil when the product has none).
//
// A region- or postal-scoped rate only matches addresses carrying the same
// value; an address without a region only matches region-less rates. The
// category filter only applies when the product has a category.
func (r Rate) Matches(j Jurisdiction, category *string) bool {
	if r.Status != RateActive || r.Country != j.Country {
		return false
	}
	if !scopeMatches(r.Region, j.Region) || !scopeMatches(r.PostalCode, j.PostalCode) {
		return false
	}
	if category != nil && len(r.Categories) > 0 {
		return slices.Contains(r.Categories, *category)
	}
	return true
}

func scopeMatches(scope *string, value string) bool {
	if value == "" {
		return scope == nil
	}
	return scope == nil || *scope == value
}

// Exemption waives all tax for a customer while active.
type Exemption struct {
	ID         string
	CustomerID string
	Status     ExemptionStatus
	Reason     string
	ExpiresAt  *time.Time
}

// ActiveAt reports whether the exemption is active and unexpired at now.
func (e Exemption) ActiveAt(now time.Time) bool {
	if e.Status != ExemptionActive {
		return false
	}
	return e.ExpiresAt == nil || e.ExpiresAt.After(now)
}

// BreakdownEntry is the amount contributed by a single rate.
type BreakdownEntry struct {
	TaxRateID string
	Name      string
	Rate      decimal.Decimal
	Amount    decimal.Decimal
}

// LineInput describes a taxable line.
type LineInput struct {
	ProductID string
	Quantity  int
	Price     decimal.Decimal
}

// LineTax is the tax computed for one line.
type LineTax struct {
	ProductID string
	Quantity  int
	Subtotal  decimal.Decimal
	TaxAmount decimal.Decimal
	Total     decimal.Decimal
	Exempt    bool
	Breakdown []BreakdownEntry
}

// BasketTax is the tax computed for a whole basket. Breakdown holds one entry
// per applied rate, summed across lines; Lines holds the per-line results.
type BasketTax struct {
	Subtotal  decimal.Decimal
	TaxAmount decimal.Decimal
	Total     decimal.Decimal
	Exempt    bool
	Breakdown []BreakdownEntry
	Lines     []LineTax
}

// RateRepository loads tax rates.
type RateRepository interface {
	// ListActiveByCountry returns every active rate for the country.
	ListActiveByCountry(ctx context.Context, country string) ([]Rate, error)
}

// ExemptionRepository loads customer exemptions.
type ExemptionRepository interface {
	ListByCustomer(ctx context.Context, customerID string) ([]Exemption, error)
}

// Calculator computes basket taxes.
type Calculator interface {
	CalculateBasketTax(ctx context.Context, basketID string, j Jurisdiction, customerID string) (*BasketTax, error)
}
