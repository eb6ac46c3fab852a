package checkout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/address"
	"github.com/xenking/kart-checkout/internal/domain/basket"
	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/tax"
)

// MethodReader resolves selectable shipping and payment methods.
type MethodReader interface {
	// EnabledMethod returns catalog.ErrNotFound or catalog.ErrMethodDisabled
	// when the method cannot be selected.
	EnabledMethod(ctx context.Context, kind catalog.Kind, id string) (*catalog.Method, error)
}

// Option configures a Manager.
type Option func(*Manager)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithMeterProvider sets the provider used for checkout counters.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(m *Manager) { m.metrics = newMetrics(mp) }
}

// WithTracerProvider sets the provider used for checkout spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(m *Manager) { m.tracer = tp.Tracer("github.com/xenking/kart-checkout/internal/domain/checkout") }
}

// Manager drives checkout sessions through their lifecycle. Every mutation is
// a single read-modify-write against the Store; no transaction spans calls.
type Manager struct {
	sessions Store
	baskets  basket.Reader
	methods  MethodReader
	taxes    tax.Calculator

	ttl     time.Duration
	now     func() time.Time
	newID   func() string
	tracer  trace.Tracer
	metrics *metrics
}

// NewManager creates a Manager.
func NewManager(sessions Store, baskets basket.Reader, methods MethodReader, taxes tax.Calculator, opts ...Option) *Manager {
	m := &Manager{
		sessions: sessions,
		baskets:  baskets,
		methods:  methods,
		taxes:    taxes,
		ttl:      DefaultTTL,
		now:      time.Now,
		newID:    uuid.NewString,
		tracer:   tracenoop.NewTracerProvider().Tracer(""),
		metrics:  newMetrics(metricnoop.NewMeterProvider()),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Create opens a new active session with zero totals. The basket is not
// checked here; Validate reports an empty basket.
func (m *Manager) Create(ctx context.Context, basketID, customerID, guestEmail string) (*Session, error) {
	if basketID == "" {
		return nil, ErrBasketRequired
	}

	now := m.now()
	s := &Session{
		ID:         m.newID(),
		BasketID:   basketID,
		CustomerID: customerID,
		GuestEmail: guestEmail,
		Totals:     ZeroTotals(),
		Status:     StatusActive,
		ExpiresAt:  now.Add(m.ttl),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := m.sessions.Create(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Start returns the basket's open session, creating one when there is none.
// An active session found past its expiry is marked expired and replaced.
func (m *Manager) Start(ctx context.Context, basketID, customerID, guestEmail string) (*Session, error) {
	if basketID == "" {
		return nil, ErrBasketRequired
	}

	s, err := m.sessions.FindActiveForBasket(ctx, basketID)
	switch {
	case err == nil:
		if !s.Expired(m.now()) {
			return s, nil
		}
		expired := StatusExpired
		if _, err := m.sessions.Update(ctx, s.ID, Patch{Status: &expired}); err != nil {
			return nil, errors.Wrap(err, "expire stale session")
		}
	case errors.Is(err, ErrSessionNotFound):
	default:
		return nil, errors.Wrap(err, "find active session")
	}

	created, err := m.Create(ctx, basketID, customerID, guestEmail)
	if errors.Is(err, ErrActiveSessionExists) {
		// Lost a race with a concurrent Start for the same basket.
		return m.sessions.FindActiveForBasket(ctx, basketID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "create session")
	}
	return created, nil
}

// Get returns ErrSessionNotFound for unknown ids.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	return m.sessions.Get(ctx, id)
}

// FindActiveForBasket returns the most recently created active session for
// the basket, or ErrSessionNotFound.
func (m *Manager) FindActiveForBasket(ctx context.Context, basketID string) (*Session, error) {
	return m.sessions.FindActiveForBasket(ctx, basketID)
}

// SetShippingAddress stores a verbatim and recalculates totals.
func (m *Manager) SetShippingAddress(ctx context.Context, id string, a address.Address) (*Session, error) {
	return m.mutate(ctx, id, Patch{ShippingAddress: &a})
}

// SetBillingAddress stores a verbatim and recalculates totals.
func (m *Manager) SetBillingAddress(ctx context.Context, id string, a address.Address) (*Session, error) {
	return m.mutate(ctx, id, Patch{BillingAddress: &a})
}

// SetShippingMethod selects an enabled shipping method and copies its price
// into the shipping amount.
func (m *Manager) SetShippingMethod(ctx context.Context, id, methodID string) (*Session, error) {
	s, err := m.active(ctx, id)
	if err != nil {
		return nil, err
	}
	method, err := m.method(ctx, catalog.KindShipping, methodID)
	if err != nil {
		return nil, err
	}
	price := method.Price
	return m.update(ctx, s, Patch{ShippingMethodID: &method.ID, ShippingAmount: &price})
}

// SetPaymentMethod selects an enabled payment method. It has no monetary
// effect.
func (m *Manager) SetPaymentMethod(ctx context.Context, id, methodID string) (*Session, error) {
	s, err := m.active(ctx, id)
	if err != nil {
		return nil, err
	}
	method, err := m.method(ctx, catalog.KindPayment, methodID)
	if err != nil {
		return nil, err
	}
	return m.update(ctx, s, Patch{PaymentMethodID: &method.ID})
}

func (m *Manager) method(ctx context.Context, kind catalog.Kind, id string) (*catalog.Method, error) {
	method, err := m.methods.EnabledMethod(ctx, kind, id)
	switch {
	case err == nil:
		return method, nil
	case errors.Is(err, catalog.ErrNotFound), errors.Is(err, catalog.ErrMethodDisabled):
		return nil, errors.Wrapf(ErrMethodUnavailable, "%s method %q", kind, id)
	default:
		return nil, errors.Wrapf(err, "get %s method", kind)
	}
}

func (m *Manager) mutate(ctx context.Context, id string, p Patch) (*Session, error) {
	s, err := m.active(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.update(ctx, s, p)
}

// update applies p to an already loaded active session and recalculates its
// totals from the stored result.
func (m *Manager) update(ctx context.Context, s *Session, p Patch) (*Session, error) {
	updated, err := m.sessions.Update(ctx, s.ID, p)
	if err != nil {
		return nil, errors.Wrap(err, "update session")
	}
	return m.recalculate(ctx, updated)
}

// active loads a session that still accepts mutations.
func (m *Manager) active(ctx context.Context, id string) (*Session, error) {
	s, err := m.sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Status.Terminal() || s.Expired(m.now()) {
		return nil, ErrSessionNotActive
	}
	return s, nil
}

// CalculateOrderTotals recomputes subtotal, tax and total from the current
// basket. Tax is only computed once a shipping address is known. A failing tax
// engine does not fail the call: tax is set to zero and TaxDegraded is set.
func (m *Manager) CalculateOrderTotals(ctx context.Context, id string) (*Session, error) {
	s, err := m.active(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.recalculate(ctx, s)
}

func (m *Manager) recalculate(ctx context.Context, s *Session) (_ *Session, rerr error) {
	ctx, span := m.tracer.Start(ctx, "checkout.CalculateOrderTotals",
		trace.WithAttributes(attribute.String("checkout.session_id", s.ID)),
	)
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		span.End()
	}()

	lines, err := m.baskets.Lines(ctx, s.BasketID)
	if err != nil {
		return nil, errors.Wrap(err, "load basket")
	}

	amounts := Amounts{
		Subtotal: basket.Subtotal(lines).Round(2),
		Tax:      decimal.Zero,
	}
	if s.ShippingAddress != nil {
		res, err := m.taxes.CalculateBasketTax(ctx, s.BasketID, Jurisdiction(*s.ShippingAddress), s.CustomerID)
		if err != nil {
			zctx.From(ctx).Warn("Tax calculation failed, continuing with zero tax",
				zap.String("session_id", s.ID),
				zap.String("basket_id", s.BasketID),
				zap.Error(err),
			)
			m.metrics.taxDegraded.Add(ctx, 1)
			span.AddEvent("tax degraded")
			amounts.TaxDegraded = true
		} else {
			amounts.Tax = res.TaxAmount.Round(2)
		}
	}
	amounts.Total = amounts.Subtotal.
		Add(amounts.Tax).
		Add(s.Totals.Shipping).
		Sub(s.Totals.Discount).
		Round(2)

	updated, err := m.sessions.Update(ctx, s.ID, Patch{Amounts: &amounts})
	if err != nil {
		return nil, errors.Wrap(err, "store totals")
	}
	return updated, nil
}

// Jurisdiction returns the tax jurisdiction of a shipping address.
func Jurisdiction(a address.Address) tax.Jurisdiction {
	return tax.Jurisdiction{
		Country:    a.Country,
		Region:     a.Region,
		PostalCode: a.PostalCode,
	}
}

// Validate checks whether the session can be completed. Every failing check
// is reported. It never changes the session.
func (m *Manager) Validate(ctx context.Context, id string) (*ValidationResult, error) {
	_, _, res, err := m.validate(ctx, id)
	return res, err
}

func (m *Manager) validate(ctx context.Context, id string) (*Session, []basket.Line, *ValidationResult, error) {
	res := &ValidationResult{}

	s, err := m.sessions.Get(ctx, id)
	if errors.Is(err, ErrSessionNotFound) {
		res.add(CodeSessionNotFound, "", "Checkout session not found")
		return nil, nil, res, nil
	}
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "get session")
	}

	if s.Status != StatusActive {
		res.add(CodeInvalidSessionStatus, "status", fmt.Sprintf("Checkout session is %s", s.Status))
	}
	if s.Expired(m.now()) {
		res.add(CodeSessionExpired, "expiresAt", "Checkout session has expired")
	}
	if s.CustomerID == "" && s.GuestEmail == "" {
		res.add(CodeMissingCustomerInfo, "customerId", "Customer or guest email is required")
	}
	checkAddress(res, s.ShippingAddress, CodeMissingShippingAddress, "shippingAddress", "Shipping address")
	checkAddress(res, s.BillingAddress, CodeMissingBillingAddress, "billingAddress", "Billing address")
	if s.ShippingMethodID == "" {
		res.add(CodeMissingShippingMethod, "shippingMethodId", "Shipping method is required")
	}
	if s.PaymentMethodID == "" {
		res.add(CodeMissingPaymentMethod, "paymentMethodId", "Payment method is required")
	}

	lines, err := m.baskets.Lines(ctx, s.BasketID)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "load basket")
	}
	if len(lines) == 0 {
		res.add(CodeEmptyBasket, "basketId", "Basket is empty")
	}

	res.IsValid = len(res.Errors) == 0
	return s, lines, res, nil
}

func checkAddress(res *ValidationResult, a *address.Address, code ErrorCode, field, label string) {
	if a == nil {
		res.add(code, field, label+" is required")
		return
	}
	if missing := a.MissingFields(); len(missing) > 0 {
		res.add(code, field, fmt.Sprintf("%s is missing %s", label, strings.Join(missing, ", ")))
	}
}

// Abandon moves an active session to abandoned. Sessions already in a
// terminal state are returned unchanged.
func (m *Manager) Abandon(ctx context.Context, id string) (*Session, error) {
	s, err := m.sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Status.Terminal() {
		return s, nil
	}
	abandoned := StatusAbandoned
	return m.sessions.Update(ctx, id, Patch{Status: &abandoned})
}

// CleanupExpired marks every active session past its expiry as expired and
// returns how many were changed.
func (m *Manager) CleanupExpired(ctx context.Context) (int64, error) {
	n, err := m.sessions.ExpireBefore(ctx, m.now())
	if err != nil {
		return 0, errors.Wrap(err, "expire sessions")
	}
	if n > 0 {
		m.metrics.sessionsSwept.Add(ctx, n)
		zctx.From(ctx).Info("Expired checkout sessions", zap.Int64("count", n))
	}
	return n, nil
}
