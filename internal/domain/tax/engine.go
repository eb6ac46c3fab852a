package tax

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/basket"
	"github.com/xenking/kart-checkout/internal/domain/product"
)

var _ Calculator = (*Engine)(nil)

// Engine computes taxes for basket lines.
type Engine struct {
	resolver   *Resolver
	exemptions ExemptionRepository
	products   product.Repository
	baskets    basket.Reader
	now        func() time.Time
}

// NewEngine creates an Engine with the required lookups.
func NewEngine(
	rates RateRepository,
	exemptions ExemptionRepository,
	products product.Repository,
	baskets basket.Reader,
) *Engine {
	return &Engine{
		resolver:   NewResolver(rates),
		exemptions: exemptions,
		products:   products,
		baskets:    baskets,
		now:        time.Now,
	}
}

// CalculateLineTax computes the tax for a single line. A customer with an
// active exemption pays no tax and no rates are looked up.
func (e *Engine) CalculateLineTax(ctx context.Context, in LineInput, j Jurisdiction, customerID string) (*LineTax, error) {
	exempt, err := e.isExempt(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if exempt {
		return exemptLine(in), nil
	}
	return e.lineTax(ctx, in, j)
}

// CalculateBasketTax computes the tax for every line in the basket and merges
// the per-rate amounts into a single breakdown.
func (e *Engine) CalculateBasketTax(ctx context.Context, basketID string, j Jurisdiction, customerID string) (*BasketTax, error) {
	lines, err := e.baskets.Lines(ctx, basketID)
	if err != nil {
		return nil, errors.Wrap(err, "load basket lines")
	}

	result := &BasketTax{
		Subtotal:  decimal.Zero,
		TaxAmount: decimal.Zero,
		Total:     decimal.Zero,
		Breakdown: []BreakdownEntry{},
		Lines:     []LineTax{},
	}
	if len(lines) == 0 {
		return result, nil
	}

	exempt, err := e.isExempt(ctx, customerID)
	if err != nil {
		return nil, err
	}
	result.Exempt = exempt

	// Breakdown keeps first-applied order; byRate indexes into it.
	byRate := make(map[string]int)
	for _, l := range lines {
		in := LineInput{ProductID: l.ProductID, Quantity: l.Quantity, Price: l.Price}

		var lt *LineTax
		if exempt {
			lt = exemptLine(in)
		} else {
			lt, err = e.lineTax(ctx, in, j)
			if err != nil {
				return nil, errors.Wrapf(err, "line %s", l.ProductID)
			}
		}

		result.Subtotal = result.Subtotal.Add(lt.Subtotal)
		result.TaxAmount = result.TaxAmount.Add(lt.TaxAmount)
		for _, b := range lt.Breakdown {
			if i, ok := byRate[b.TaxRateID]; ok {
				result.Breakdown[i].Amount = result.Breakdown[i].Amount.Add(b.Amount)
				continue
			}
			byRate[b.TaxRateID] = len(result.Breakdown)
			result.Breakdown = append(result.Breakdown, b)
		}
		result.Lines = append(result.Lines, *lt)
	}
	result.Total = result.Subtotal.Add(result.TaxAmount)

	return result, nil
}

func (e *Engine) lineTax(ctx context.Context, in LineInput, j Jurisdiction) (*LineTax, error) {
	category, err := e.products.TaxCategory(ctx, in.ProductID)
	if err != nil {
		return nil, errors.Wrap(err, "product tax category")
	}

	rates, err := e.resolver.Resolve(ctx, j, category)
	if err != nil {
		return nil, err
	}

	subtotal := lineSubtotal(in)
	lt := &LineTax{
		ProductID: in.ProductID,
		Quantity:  in.Quantity,
		Subtotal:  subtotal,
		TaxAmount: decimal.Zero,
		Breakdown: make([]BreakdownEntry, 0, len(rates)),
	}
	for _, r := range rates {
		// Each rate applies to the untaxed subtotal; rounded per line and rate.
		amount := subtotal.Mul(r.Rate).Round(2)
		lt.TaxAmount = lt.TaxAmount.Add(amount)
		lt.Breakdown = append(lt.Breakdown, BreakdownEntry{
			TaxRateID: r.ID,
			Name:      r.Name,
			Rate:      r.Rate,
			Amount:    amount,
		})
	}
	lt.Total = subtotal.Add(lt.TaxAmount)

	return lt, nil
}

func (e *Engine) isExempt(ctx context.Context, customerID string) (bool, error) {
	if customerID == "" {
		return false, nil
	}
	exemptions, err := e.exemptions.ListByCustomer(ctx, customerID)
	if err != nil {
		return false, errors.Wrap(err, "list exemptions")
	}
	now := e.now()
	for _, ex := range exemptions {
		if ex.ActiveAt(now) {
			return true, nil
		}
	}
	return false, nil
}

func exemptLine(in LineInput) *LineTax {
	subtotal := lineSubtotal(in)
	return &LineTax{
		ProductID: in.ProductID,
		Quantity:  in.Quantity,
		Subtotal:  subtotal,
		TaxAmount: decimal.Zero,
		Total:     subtotal,
		Exempt:    true,
		Breakdown: []BreakdownEntry{},
	}
}

func lineSubtotal(in LineInput) decimal.Decimal {
	return in.Price.Mul(decimal.NewFromInt(int64(in.Quantity)))
}
