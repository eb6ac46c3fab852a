package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/address"
	"github.com/xenking/kart-checkout/internal/domain/checkout"
)

const sessionColumns = `id, basket_id, customer_id, guest_email, shipping_address, billing_address,
	shipping_method_id, payment_method_id, subtotal, tax_amount, shipping_amount, discount_amount,
	total, tax_degraded, status, expires_at, completed_at, created_at, updated_at`

const (
	insertSessionSQL = `INSERT INTO checkout_sessions (id, basket_id, customer_id, guest_email,
		subtotal, tax_amount, shipping_amount, discount_amount, total, status, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	getSessionSQL = `SELECT ` + sessionColumns + ` FROM checkout_sessions WHERE id = $1`

	findActiveSessionSQL = `SELECT ` + sessionColumns + ` FROM checkout_sessions
		WHERE basket_id = $1 AND status = 'active'
		ORDER BY created_at DESC LIMIT 1`

	// Every column is only overwritten when its parameter is non-NULL.
	updateSessionSQL = `UPDATE checkout_sessions SET
		shipping_address   = COALESCE($2, shipping_address),
		billing_address    = COALESCE($3, billing_address),
		shipping_method_id = COALESCE($4, shipping_method_id),
		payment_method_id  = COALESCE($5, payment_method_id),
		shipping_amount    = COALESCE($6, shipping_amount),
		subtotal           = COALESCE($7, subtotal),
		tax_amount         = COALESCE($8, tax_amount),
		total              = COALESCE($9, total),
		tax_degraded       = COALESCE($10, tax_degraded),
		status             = COALESCE($11, status),
		updated_at         = now()
		WHERE id = $1
		RETURNING ` + sessionColumns

	expireSessionsSQL = `UPDATE checkout_sessions SET status = 'expired', updated_at = now()
		WHERE status = 'active' AND expires_at < $1`

	oneActiveConstraint = "checkout_sessions_one_active"
)

var _ checkout.Store = (*SessionStore)(nil)

// SessionStore implements checkout.Store.
type SessionStore struct {
	db Querier
}

// NewSessionStore returns a SessionStore that uses db.
func NewSessionStore(db Querier) *SessionStore {
	return &SessionStore{db: db}
}

// Create inserts s. A second active session for the same basket is rejected
// by a partial unique index and reported as checkout.ErrActiveSessionExists.
func (r *SessionStore) Create(ctx context.Context, s *checkout.Session) error {
	_, err := r.db.Exec(ctx, insertSessionSQL,
		s.ID, s.BasketID, s.CustomerID, s.GuestEmail,
		s.Totals.Subtotal, s.Totals.Tax, s.Totals.Shipping, s.Totals.Discount, s.Totals.Total,
		string(s.Status), s.ExpiresAt, s.CreatedAt, s.UpdatedAt,
	)
	if isUniqueViolation(err, oneActiveConstraint) {
		return checkout.ErrActiveSessionExists
	}
	if err != nil {
		return errors.Wrapf(err, "insert session %q", s.ID)
	}
	return nil
}

// Get returns checkout.ErrSessionNotFound for unknown ids.
func (r *SessionStore) Get(ctx context.Context, id string) (*checkout.Session, error) {
	return r.one(ctx, "get session", getSessionSQL, id)
}

// FindActiveForBasket returns the newest active session of the basket.
func (r *SessionStore) FindActiveForBasket(ctx context.Context, basketID string) (*checkout.Session, error) {
	return r.one(ctx, "find active session", findActiveSessionSQL, basketID)
}

// Update applies p in a single statement and returns the stored row.
func (r *SessionStore) Update(ctx context.Context, id string, p checkout.Patch) (*checkout.Session, error) {
	shipping, err := addressParam(p.ShippingAddress)
	if err != nil {
		return nil, err
	}
	billing, err := addressParam(p.BillingAddress)
	if err != nil {
		return nil, err
	}

	var (
		subtotal, tax, total *decimal.Decimal
		degraded             *bool
		status               *string
	)
	if a := p.Amounts; a != nil {
		subtotal, tax, total, degraded = &a.Subtotal, &a.Tax, &a.Total, &a.TaxDegraded
	}
	if p.Status != nil {
		s := string(*p.Status)
		status = &s
	}

	return r.one(ctx, "update session", updateSessionSQL,
		id, shipping, billing, p.ShippingMethodID, p.PaymentMethodID, p.ShippingAmount,
		subtotal, tax, total, degraded, status,
	)
}

// ExpireBefore transitions every active session that expired before now.
func (r *SessionStore) ExpireBefore(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, expireSessionsSQL, now)
	if err != nil {
		return 0, errors.Wrap(err, "expire sessions")
	}
	return tag.RowsAffected(), nil
}

func (r *SessionStore) one(ctx context.Context, op, sql string, args ...any) (*checkout.Session, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, errors.Wrap(err, op)
	}
	s, err := pgx.CollectExactlyOneRow(rows, scanSession)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, checkout.ErrSessionNotFound
		}
		return nil, errors.Wrap(err, op)
	}
	return s, nil
}

func scanSession(row pgx.CollectableRow) (*checkout.Session, error) {
	var (
		s                 checkout.Session
		shipping, billing []byte
		status            string
	)
	err := row.Scan(
		&s.ID, &s.BasketID, &s.CustomerID, &s.GuestEmail, &shipping, &billing,
		&s.ShippingMethodID, &s.PaymentMethodID,
		&s.Totals.Subtotal, &s.Totals.Tax, &s.Totals.Shipping, &s.Totals.Discount,
		&s.Totals.Total, &s.Totals.TaxDegraded, &status,
		&s.ExpiresAt, &s.CompletedAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.Status = checkout.Status(status)

	if s.ShippingAddress, err = decodeAddress(shipping); err != nil {
		return nil, errors.Wrap(err, "shipping address")
	}
	if s.BillingAddress, err = decodeAddress(billing); err != nil {
		return nil, errors.Wrap(err, "billing address")
	}
	return &s, nil
}

// addressParam encodes a for a JSONB parameter; nil stays SQL NULL.
func addressParam(a *address.Address) (any, error) {
	if a == nil {
		return nil, nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, errors.Wrap(err, "marshal address")
	}
	return b, nil
}

func decodeAddress(b []byte) (*address.Address, error) {
	if b == nil {
		return nil, nil
	}
	var a address.Address
	if err := json.Unmarshal(b, &a); err != nil {
		return nil, err
	}
	return &a, nil
}
