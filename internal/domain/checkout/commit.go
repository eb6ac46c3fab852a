package checkout

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/basket"
	"github.com/xenking/kart-checkout/internal/domain/order"
)

// OrderTx is the set of writes performed while committing a session. All of
// them run inside one transaction.
type OrderTx interface {
	InsertOrder(ctx context.Context, o *order.Order) error
	// InsertOrderItems copies the basket lines at current product prices
	// into order items and returns how many were inserted.
	InsertOrderItems(ctx context.Context, orderID, basketID string) (int64, error)
	// CompleteSession marks an active session completed. It returns
	// ErrSessionNotActive when the session is no longer active.
	CompleteSession(ctx context.Context, sessionID string, at time.Time) error
	// ClearBasket deletes the basket's items; the basket itself remains.
	ClearBasket(ctx context.Context, basketID string) error
}

// TxRunner runs fn in a transaction that is committed when fn returns nil and
// rolled back otherwise, including on panic.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx OrderTx) error) error
}

// OrderPublisher announces created orders.
type OrderPublisher interface {
	OrderCreated(ctx context.Context, o *order.Order) error
}

// OrderCreationResult is the outcome of Coordinator.Complete.
type OrderCreationResult struct {
	Success bool
	OrderID string
	Errors  []ValidationError
}

// DefaultPublishTimeout bounds the order.created publish after a commit.
const DefaultPublishTimeout = 2 * time.Second

// Coordinator converts a valid session into an order exactly once.
type Coordinator struct {
	manager        *Manager
	tx             TxRunner
	events         OrderPublisher
	publishTimeout time.Duration
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithPublishTimeout overrides DefaultPublishTimeout.
func WithPublishTimeout(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if d > 0 {
			c.publishTimeout = d
		}
	}
}

// NewCoordinator creates a Coordinator. Clock, ids and telemetry are shared
// with manager.
func NewCoordinator(manager *Manager, tx TxRunner, events OrderPublisher, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		manager:        manager,
		tx:             tx,
		events:         events,
		publishTimeout: DefaultPublishTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Complete validates the session and, when valid, atomically creates the
// order and its items, completes the session and empties the basket.
//
// Validation failures are returned as data with no writes. A failed commit is
// rolled back and reported as ORDER_CREATION_FAILED; the session stays active
// and can be retried. The returned error is reserved for failures to load the
// session or basket.
func (c *Coordinator) Complete(ctx context.Context, sessionID string) (*OrderCreationResult, error) {
	m := c.manager
	ctx, span := m.tracer.Start(ctx, "checkout.Complete",
		trace.WithAttributes(attribute.String("checkout.session_id", sessionID)),
	)
	defer span.End()

	lg := zctx.From(ctx).With(zap.String("session_id", sessionID))

	s, lines, res, err := m.validate(ctx, sessionID)
	if err != nil {
		span.RecordError(err)
		return nil, errors.Wrap(err, "validate")
	}
	if !res.IsValid {
		return &OrderCreationResult{Errors: res.Errors}, nil
	}

	// Items are charged at current product prices; flag when the basket no
	// longer matches the totals the customer saw.
	if current := basket.Subtotal(lines).Round(2); !current.Equal(s.Totals.Subtotal) {
		lg.Warn("Price drift between session totals and basket",
			zap.String("basket_id", s.BasketID),
			zap.String("session_subtotal", s.Totals.Subtotal.StringFixed(2)),
			zap.String("basket_subtotal", current.StringFixed(2)),
		)
	}

	now := m.now()
	o := newOrder(m.newID(), s, now)

	err = c.tx.InTx(ctx, func(ctx context.Context, tx OrderTx) error {
		if err := tx.InsertOrder(ctx, o); err != nil {
			return errors.Wrap(err, "insert order")
		}
		n, err := tx.InsertOrderItems(ctx, o.ID, s.BasketID)
		if err != nil {
			return errors.Wrap(err, "insert order items")
		}
		if n == 0 {
			return errors.New("basket emptied during commit")
		}
		if err := tx.CompleteSession(ctx, s.ID, now); err != nil {
			return errors.Wrap(err, "complete session")
		}
		if err := tx.ClearBasket(ctx, s.BasketID); err != nil {
			return errors.Wrap(err, "clear basket")
		}
		return nil
	})
	if err != nil {
		lg.Error("Order creation failed", zap.Error(err))
		span.RecordError(err)
		m.metrics.commitFailures.Add(ctx, 1)
		return &OrderCreationResult{
			Errors: []ValidationError{{
				Code:    CodeOrderCreationFailed,
				Message: "Failed to create order",
			}},
		}, nil
	}

	m.metrics.ordersCreated.Add(ctx, 1)
	span.SetAttributes(attribute.String("checkout.order_id", o.ID))
	lg.Info("Order created", zap.String("order_id", o.ID), zap.String("total", o.Total.StringFixed(2)))

	c.publish(ctx, lg, o)

	return &OrderCreationResult{Success: true, OrderID: o.ID}, nil
}

// publish announces a committed order. The order already exists, so a slow or
// failing broker only costs publishTimeout and a warning.
func (c *Coordinator) publish(ctx context.Context, lg *zap.Logger, o *order.Order) {
	if c.events == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.publishTimeout)
	defer cancel()

	if err := c.events.OrderCreated(ctx, o); err != nil {
		lg.Warn("Publish order created", zap.String("order_id", o.ID), zap.Error(err))
	}
}

func newOrder(id string, s *Session, now time.Time) *order.Order {
	o := &order.Order{
		ID:               id,
		SessionID:        s.ID,
		BasketID:         s.BasketID,
		CustomerID:       s.CustomerID,
		GuestEmail:       s.GuestEmail,
		Status:           order.StatusPending,
		ShippingMethodID: s.ShippingMethodID,
		PaymentMethodID:  s.PaymentMethodID,
		Subtotal:         s.Totals.Subtotal,
		TaxAmount:        s.Totals.Tax,
		ShippingAmount:   s.Totals.Shipping,
		DiscountAmount:   s.Totals.Discount,
		Total:            s.Totals.Total,
		CreatedAt:        now,
	}
	if s.ShippingAddress != nil {
		o.ShippingAddress = *s.ShippingAddress
	}
	if s.BillingAddress != nil {
		o.BillingAddress = *s.BillingAddress
	}
	return o
}
