package tax

import (
	"cmp"
	"context"
	"slices"

	"github.com/go-faster/errors"
)

// Resolver selects the rates applicable to a jurisdiction and product
// category.
type Resolver struct {
	rates RateRepository
}

// NewResolver creates a Resolver backed by the given RateRepository.
func NewResolver(rates RateRepository) *Resolver {
	return &Resolver{rates: rates}
}

// Resolve returns the matching rates ordered by priority descending. Rates
// with equal priority are ordered by id so the result is deterministic.
func (r *Resolver) Resolve(ctx context.Context, j Jurisdiction, category *string) ([]Rate, error) {
	all, err := r.rates.ListActiveByCountry(ctx, j.Country)
	if err != nil {
		return nil, errors.Wrap(err, "list rates")
	}

	matched := make([]Rate, 0, len(all))
	for _, rate := range all {
		if rate.Matches(j, category) {
			matched = append(matched, rate)
		}
	}

	slices.SortStableFunc(matched, func(a, b Rate) int {
		if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return matched, nil
}
