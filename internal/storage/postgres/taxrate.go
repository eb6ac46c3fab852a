package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/kart-checkout/internal/domain/tax"
)

const (
	listActiveRatesSQL = `SELECT id, name, country, region, postal_code, categories, rate, priority, status
		FROM tax_rates WHERE country = $1 AND status = 'active'
		ORDER BY priority DESC, id`

	upsertRateSQL = `INSERT INTO tax_rates (id, name, country, region, postal_code, categories, rate, priority, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			country = EXCLUDED.country,
			region = EXCLUDED.region,
			postal_code = EXCLUDED.postal_code,
			categories = EXCLUDED.categories,
			rate = EXCLUDED.rate,
			priority = EXCLUDED.priority,
			status = EXCLUDED.status`
)

var _ tax.RateRepository = (*TaxRateRepository)(nil)

// TaxRateRepository implements tax.RateRepository.
type TaxRateRepository struct {
	db Querier
}

// NewTaxRateRepository returns a TaxRateRepository that uses db.
func NewTaxRateRepository(db Querier) *TaxRateRepository {
	return &TaxRateRepository{db: db}
}

// ListActiveByCountry returns the active rates of a country. Region, postal
// code and category matching happen in tax.Resolver.
func (r *TaxRateRepository) ListActiveByCountry(ctx context.Context, country string) ([]tax.Rate, error) {
	rows, err := r.db.Query(ctx, listActiveRatesSQL, country)
	if err != nil {
		return nil, errors.Wrapf(err, "list tax rates for %q", country)
	}
	return pgx.CollectRows(rows, scanRate)
}

// Upsert inserts or replaces rates in one batch.
func (r *TaxRateRepository) Upsert(ctx context.Context, rates []tax.Rate) error {
	if len(rates) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, rt := range rates {
		categories := rt.Categories
		if categories == nil {
			categories = []string{}
		}
		batch.Queue(upsertRateSQL,
			rt.ID, rt.Name, rt.Country, rt.Region, rt.PostalCode,
			categories, rt.Rate, rt.Priority, string(rt.Status),
		)
	}

	br := r.db.SendBatch(ctx, batch)
	for _, rt := range rates {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return errors.Wrapf(err, "upsert tax rate %q", rt.ID)
		}
	}
	return errors.Wrap(br.Close(), "close batch")
}

func scanRate(row pgx.CollectableRow) (tax.Rate, error) {
	var (
		rt     tax.Rate
		status string
	)
	err := row.Scan(&rt.ID, &rt.Name, &rt.Country, &rt.Region, &rt.PostalCode,
		&rt.Categories, &rt.Rate, &rt.Priority, &status)
	rt.Status = tax.RateStatus(status)
	return rt, err
}
