// Package catalog manages the shipping and payment methods offered at
// checkout. Each kind has exactly one default method at a time.
package catalog

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Kind distinguishes shipping methods from payment methods.
type Kind string

const (
	KindShipping Kind = "shipping"
	KindPayment  Kind = "payment"
)

// ParseKind validates s as a Kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindShipping, KindPayment:
		return k, nil
	default:
		return "", errors.Wrapf(ErrInvalidKind, "%q", s)
	}
}

var (
	// ErrNotFound is returned when no method of the kind has the id.
	ErrNotFound = errors.New("method not found")
	// ErrMethodDisabled is returned when a disabled method is selected or
	// promoted to default.
	ErrMethodDisabled = errors.New("method is disabled")
	// ErrLastMethod is returned when deleting the only method of a kind.
	ErrLastMethod = errors.New("cannot delete the last method of its kind")
	// ErrDefaultMethod is returned when deleting the current default; another
	// method must be promoted first.
	ErrDefaultMethod = errors.New("cannot delete the default method")
	// ErrInvalidKind is returned for unknown kinds.
	ErrInvalidKind = errors.New("invalid method kind")
	// ErrInvalidMethod is returned when a method fails field validation.
	ErrInvalidMethod = errors.New("invalid method")
)

// Method is a shipping or payment option. Price is charged as the session's
// shipping amount for shipping methods and carries no monetary effect for
// payment methods.
type Method struct {
	ID          string
	Kind        Kind
	Name        string
	Description string
	Price       decimal.Decimal
	// Type is a free-form classifier such as "standard", "express" or "card".
	Type      string
	IsDefault bool
	IsEnabled bool
	SortOrder int
	CreatedAt time.Time
}

// Repository persists methods.
type Repository interface {
	// List returns every method of the kind, enabled or not.
	List(ctx context.Context, kind Kind) ([]Method, error)
	// Get returns ErrNotFound for unknown ids.
	Get(ctx context.Context, kind Kind, id string) (*Method, error)
	// Create inserts m. When m.IsDefault is set, the previous default of the
	// kind is cleared in the same transaction.
	Create(ctx context.Context, m *Method) error
	// SetDefault clears the previous default of the kind and marks id as the
	// default in a single transaction.
	SetDefault(ctx context.Context, kind Kind, id string) error
	// Delete returns ErrNotFound for unknown ids.
	Delete(ctx context.Context, kind Kind, id string) error
	Count(ctx context.Context, kind Kind) (int, error)
}
