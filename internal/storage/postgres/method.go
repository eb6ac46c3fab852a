package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/kart-checkout/internal/domain/catalog"
)

const (
	methodColumns = `id, kind, name, description, price, type, is_default, is_enabled, sort_order, created_at`

	listMethodsSQL = `SELECT ` + methodColumns + ` FROM checkout_methods WHERE kind = $1
		ORDER BY sort_order, name`

	getMethodSQL = `SELECT ` + methodColumns + ` FROM checkout_methods WHERE kind = $1 AND id = $2`

	insertMethodSQL = `INSERT INTO checkout_methods (` + methodColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	clearDefaultSQL = `UPDATE checkout_methods SET is_default = false WHERE kind = $1 AND is_default`

	setDefaultSQL = `UPDATE checkout_methods SET is_default = true WHERE kind = $1 AND id = $2`

	deleteMethodSQL = `DELETE FROM checkout_methods WHERE kind = $1 AND id = $2`

	countMethodsSQL = `SELECT count(*) FROM checkout_methods WHERE kind = $1`
)

var _ catalog.Repository = (*MethodRepository)(nil)

// MethodRepository implements catalog.Repository for both method kinds in a
// single table.
type MethodRepository struct {
	db DB
}

// NewMethodRepository returns a MethodRepository that uses db.
func NewMethodRepository(db DB) *MethodRepository {
	return &MethodRepository{db: db}
}

// List returns every method of the kind.
func (r *MethodRepository) List(ctx context.Context, kind catalog.Kind) ([]catalog.Method, error) {
	rows, err := r.db.Query(ctx, listMethodsSQL, string(kind))
	if err != nil {
		return nil, errors.Wrapf(err, "list %s methods", kind)
	}
	return pgx.CollectRows(rows, scanMethod)
}

// Get returns catalog.ErrNotFound for unknown ids.
func (r *MethodRepository) Get(ctx context.Context, kind catalog.Kind, id string) (*catalog.Method, error) {
	rows, err := r.db.Query(ctx, getMethodSQL, string(kind), id)
	if err != nil {
		return nil, errors.Wrapf(err, "get %s method %q", kind, id)
	}
	m, err := pgx.CollectExactlyOneRow(rows, scanMethod)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get %s method %q", kind, id)
	}
	return &m, nil
}

// Create inserts m, clearing the current default first when m is the new
// default.
func (r *MethodRepository) Create(ctx context.Context, m *catalog.Method) error {
	return WithTx(ctx, r.db, func(tx pgx.Tx) error {
		if m.IsDefault {
			if _, err := tx.Exec(ctx, clearDefaultSQL, string(m.Kind)); err != nil {
				return errors.Wrap(err, "clear default")
			}
		}
		_, err := tx.Exec(ctx, insertMethodSQL,
			m.ID, string(m.Kind), m.Name, m.Description, m.Price, m.Type,
			m.IsDefault, m.IsEnabled, m.SortOrder, m.CreatedAt,
		)
		if err != nil {
			return errors.Wrapf(err, "insert %s method %q", m.Kind, m.ID)
		}
		return nil
	})
}

// SetDefault clears the current default before setting the new one so the
// partial unique index on (kind) WHERE is_default is never violated.
func (r *MethodRepository) SetDefault(ctx context.Context, kind catalog.Kind, id string) error {
	return WithTx(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, clearDefaultSQL, string(kind)); err != nil {
			return errors.Wrap(err, "clear default")
		}
		tag, err := tx.Exec(ctx, setDefaultSQL, string(kind), id)
		if err != nil {
			return errors.Wrap(err, "set default")
		}
		if tag.RowsAffected() == 0 {
			return catalog.ErrNotFound
		}
		return nil
	})
}

// Delete returns catalog.ErrNotFound for unknown ids.
func (r *MethodRepository) Delete(ctx context.Context, kind catalog.Kind, id string) error {
	tag, err := r.db.Exec(ctx, deleteMethodSQL, string(kind), id)
	if err != nil {
		return errors.Wrapf(err, "delete %s method %q", kind, id)
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

// Count returns the number of methods of the kind.
func (r *MethodRepository) Count(ctx context.Context, kind catalog.Kind) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, countMethodsSQL, string(kind)).Scan(&n); err != nil {
		return 0, errors.Wrapf(err, "count %s methods", kind)
	}
	return n, nil
}

func scanMethod(row pgx.CollectableRow) (catalog.Method, error) {
	var (
		m    catalog.Method
		kind string
	)
	err := row.Scan(&m.ID, &kind, &m.Name, &m.Description, &m.Price, &m.Type,
		&m.IsDefault, &m.IsEnabled, &m.SortOrder, &m.CreatedAt)
	m.Kind = catalog.Kind(kind)
	return m, err
}
