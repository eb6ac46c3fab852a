package tax

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/sony/gobreaker/v2"
)

var _ Calculator = (*BreakerCalculator)(nil)

// BreakerConfig controls when the tax circuit opens.
type BreakerConfig struct {
	Name string
	// ConsecutiveFailures trips the breaker once reached.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
	// HalfOpenRequests is the number of probes allowed while half-open.
	HalfOpenRequests uint32
	// OnStateChange is optional.
	OnStateChange func(from, to gobreaker.State)
}

// BreakerCalculator fails fast once the wrapped Calculator keeps failing, so
// an unavailable tax store does not slow down every totals recalculation.
type BreakerCalculator struct {
	next Calculator
	cb   *gobreaker.CircuitBreaker[*BasketTax]
}

// NewBreakerCalculator wraps next with a circuit breaker.
func NewBreakerCalculator(next Calculator, cfg BreakerConfig) *BreakerCalculator {
	if cfg.Name == "" {
		cfg.Name = "tax"
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.HalfOpenRequests == 0 {
		cfg.HalfOpenRequests = 1
	}

	st := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		// A caller giving up is not a tax store failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	}
	if cfg.OnStateChange != nil {
		st.OnStateChange = func(_ string, from, to gobreaker.State) {
			cfg.OnStateChange(from, to)
		}
	}

	return &BreakerCalculator{
		next: next,
		cb:   gobreaker.NewCircuitBreaker[*BasketTax](st),
	}
}

// CalculateBasketTax delegates to the wrapped Calculator unless the circuit is
// open, in which case gobreaker.ErrOpenState is returned.
func (b *BreakerCalculator) CalculateBasketTax(ctx context.Context, basketID string, j Jurisdiction, customerID string) (*BasketTax, error) {
	return b.cb.Execute(func() (*BasketTax, error) {
		return b.next.CalculateBasketTax(ctx, basketID, j, customerID)
	})
}

// State returns the current breaker state.
func (b *BreakerCalculator) State() gobreaker.State {
	return b.cb.State()
}
