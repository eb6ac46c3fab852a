package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/order"
)

const (
	insertOrderSQL = `INSERT INTO orders (id, session_id, basket_id, customer_id, guest_email, status,
		shipping_address, billing_address, shipping_method_id, payment_method_id,
		subtotal, tax_amount, shipping_amount, discount_amount, total, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	// Items are priced from the products table at commit time.
	insertOrderItemsSQL = `INSERT INTO order_items (id, order_id, product_id, name, quantity, unit_price, line_total)
		SELECT gen_random_uuid()::text, $1, p.id, p.name, bi.quantity, p.price, p.price * bi.quantity
		FROM basket_items bi
		JOIN products p ON p.id = bi.product_id
		WHERE bi.basket_id = $2`

	completeSessionSQL = `UPDATE checkout_sessions
		SET status = 'completed', completed_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'active'`

	clearBasketSQL = `DELETE FROM basket_items WHERE basket_id = $1`
)

var _ checkout.TxRunner = (*OrderCommitter)(nil)

// OrderCommitter runs checkout commits in a PostgreSQL transaction.
type OrderCommitter struct {
	db DB
}

// NewOrderCommitter returns an OrderCommitter that uses db.
func NewOrderCommitter(db DB) *OrderCommitter {
	return &OrderCommitter{db: db}
}

// InTx implements checkout.TxRunner.
func (c *OrderCommitter) InTx(ctx context.Context, fn func(ctx context.Context, tx checkout.OrderTx) error) error {
	return WithTx(ctx, c.db, func(tx pgx.Tx) error {
		return fn(ctx, orderTx{tx: tx})
	})
}

type orderTx struct {
	tx pgx.Tx
}

func (t orderTx) InsertOrder(ctx context.Context, o *order.Order) error {
	shipping, err := addressParam(&o.ShippingAddress)
	if err != nil {
		return err
	}
	billing, err := addressParam(&o.BillingAddress)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, insertOrderSQL,
		o.ID, o.SessionID, o.BasketID, o.CustomerID, o.GuestEmail, string(o.Status),
		shipping, billing, o.ShippingMethodID, o.PaymentMethodID,
		o.Subtotal, o.TaxAmount, o.ShippingAmount, o.DiscountAmount, o.Total, o.CreatedAt,
	)
	return err
}

func (t orderTx) InsertOrderItems(ctx context.Context, orderID, basketID string) (int64, error) {
	tag, err := t.tx.Exec(ctx, insertOrderItemsSQL, orderID, basketID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (t orderTx) CompleteSession(ctx context.Context, sessionID string, at time.Time) error {
	tag, err := t.tx.Exec(ctx, completeSessionSQL, sessionID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return checkout.ErrSessionNotActive
	}
	return nil
}

func (t orderTx) ClearBasket(ctx context.Context, basketID string) error {
	if _, err := t.tx.Exec(ctx, clearBasketSQL, basketID); err != nil {
		return errors.Wrapf(err, "clear basket %q", basketID)
	}
	return nil
}
