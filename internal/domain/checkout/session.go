// Package checkout implements the checkout session lifecycle: sessions that
// accumulate addresses and method selections, totals recomputed through the
// tax engine, validation, and the atomic conversion of a session into an order.
package checkout

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/address"
)

// DefaultTTL is how long a session stays usable after creation.
const DefaultTTL = 24 * time.Hour

// Status is the lifecycle state of a session. Every status except
// StatusActive is terminal.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusAbandoned Status = "abandoned"
	StatusExpired   Status = "expired"
)

// Terminal reports whether no further transition may leave s.
func (s Status) Terminal() bool {
	return s != StatusActive
}

// Totals are the computed monetary fields of a session.
type Totals struct {
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Shipping decimal.Decimal
	Discount decimal.Decimal
	Total    decimal.Decimal
	// TaxDegraded is set when the tax engine failed during the last
	// recalculation and Tax was forced to zero.
	TaxDegraded bool
}

// ZeroTotals returns totals with every amount set to zero.
func ZeroTotals() Totals {
	return Totals{
		Subtotal: decimal.Zero,
		Tax:      decimal.Zero,
		Shipping: decimal.Zero,
		Discount: decimal.Zero,
		Total:    decimal.Zero,
	}
}

// Session is a single checkout attempt for one basket.
type Session struct {
	ID       string
	BasketID string
	// CustomerID and GuestEmail are empty when absent.
	CustomerID string
	GuestEmail string

	ShippingAddress  *address.Address
	BillingAddress   *address.Address
	ShippingMethodID string
	PaymentMethodID  string

	Totals Totals
	Status Status

	ExpiresAt   time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Expired reports whether the session is past its expiry at now, regardless
// of the stored status.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Amounts carries the recomputed totals written by a recalculation. Shipping
// and discount are not part of it: shipping is set with the method and
// discount is owned elsewhere.
type Amounts struct {
	Subtotal    decimal.Decimal
	Tax         decimal.Decimal
	Total       decimal.Decimal
	TaxDegraded bool
}

// Patch is a partial session update. Nil fields are left unchanged.
type Patch struct {
	ShippingAddress  *address.Address
	BillingAddress   *address.Address
	ShippingMethodID *string
	PaymentMethodID  *string
	ShippingAmount   *decimal.Decimal
	Amounts          *Amounts
	Status           *Status
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.ShippingAddress == nil &&
		p.BillingAddress == nil &&
		p.ShippingMethodID == nil &&
		p.PaymentMethodID == nil &&
		p.ShippingAmount == nil &&
		p.Amounts == nil &&
		p.Status == nil
}

// Apply returns a copy of s with the patch applied.
func (p Patch) Apply(s Session) Session {
	if p.ShippingAddress != nil {
		a := *p.ShippingAddress
		s.ShippingAddress = &a
	}
	if p.BillingAddress != nil {
		a := *p.BillingAddress
		s.BillingAddress = &a
	}
	if p.ShippingMethodID != nil {
		s.ShippingMethodID = *p.ShippingMethodID
	}
	if p.PaymentMethodID != nil {
		s.PaymentMethodID = *p.PaymentMethodID
	}
	if p.ShippingAmount != nil {
		s.Totals.Shipping = *p.ShippingAmount
	}
	if p.Amounts != nil {
		s.Totals.Subtotal = p.Amounts.Subtotal
		s.Totals.Tax = p.Amounts.Tax
		s.Totals.Total = p.Amounts.Total
		s.Totals.TaxDegraded = p.Amounts.TaxDegraded
	}
	if p.Status != nil {
		s.Status = *p.Status
	}
	return s
}

// Store persists sessions.
type Store interface {
	// Create inserts a new session. It returns ErrActiveSessionExists when
	// the basket already has an active session.
	Create(ctx context.Context, s *Session) error
	// Get returns ErrSessionNotFound for unknown ids.
	Get(ctx context.Context, id string) (*Session, error)
	// FindActiveForBasket returns the most recently created active session
	// for the basket, or ErrSessionNotFound.
	FindActiveForBasket(ctx context.Context, basketID string) (*Session, error)
	// Update applies p and returns the updated session.
	Update(ctx context.Context, id string, p Patch) (*Session, error)
	// ExpireBefore marks every active session whose expiry is before now as
	// expired and returns how many were changed.
	ExpireBefore(ctx context.Context, now time.Time) (int64, error)
}
