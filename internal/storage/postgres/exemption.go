package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/kart-checkout/internal/domain/tax"
)

const (
	listExemptionsSQL = `SELECT id, customer_id, status, reason, expires_at
		FROM tax_exemptions WHERE customer_id = $1 ORDER BY id`

	upsertExemptionSQL = `INSERT INTO tax_exemptions (id, customer_id, status, reason, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			reason = EXCLUDED.reason,
			expires_at = EXCLUDED.expires_at`
)

var _ tax.ExemptionRepository = (*ExemptionRepository)(nil)

// ExemptionRepository implements tax.ExemptionRepository.
type ExemptionRepository struct {
	db Querier
}

// NewExemptionRepository returns an ExemptionRepository that uses db.
func NewExemptionRepository(db Querier) *ExemptionRepository {
	return &ExemptionRepository{db: db}
}

// ListByCustomer returns every exemption of the customer, active or not.
func (r *ExemptionRepository) ListByCustomer(ctx context.Context, customerID string) ([]tax.Exemption, error) {
	rows, err := r.db.Query(ctx, listExemptionsSQL, customerID)
	if err != nil {
		return nil, errors.Wrapf(err, "list exemptions for %q", customerID)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (tax.Exemption, error) {
		var (
			e      tax.Exemption
			status string
		)
		err := row.Scan(&e.ID, &e.CustomerID, &status, &e.Reason, &e.ExpiresAt)
		e.Status = tax.ExemptionStatus(status)
		return e, err
	})
}

// Upsert inserts or replaces an exemption.
func (r *ExemptionRepository) Upsert(ctx context.Context, e tax.Exemption) error {
	_, err := r.db.Exec(ctx, upsertExemptionSQL, e.ID, e.CustomerID, string(e.Status), e.Reason, e.ExpiresAt)
	if err != nil {
		return errors.Wrapf(err, "upsert exemption %q", e.ID)
	}
	return nil
}
