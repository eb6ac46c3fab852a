package tax

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCalculator struct {
	result *BasketTax
	err    error
	calls  int
}

func (s *stubCalculator) CalculateBasketTax(context.Context, string, Jurisdiction, string) (*BasketTax, error) {
	s.calls++
	return s.result, s.err
}

func TestBreakerCalculator_OpensAfterConsecutiveFailures(t *testing.T) {
	stub := &stubCalculator{err: errors.New("db down")}
	var transitions []gobreaker.State
	b := NewBreakerCalculator(stub, BreakerConfig{
		ConsecutiveFailures: 3,
		OpenTimeout:         time.Minute,
		OnStateChange: func(_, to gobreaker.State) {
			transitions = append(transitions, to)
		},
	})
	ctx := context.Background()

	for range 3 {
		_, err := b.CalculateBasketTax(ctx, "b1", us, "")
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())
	assert.Equal(t, []gobreaker.State{gobreaker.StateOpen}, transitions)

	_, err := b.CalculateBasketTax(ctx, "b1", us, "")
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 3, stub.calls, "open breaker must not call through")
}

func TestBreakerCalculator_PassesResultThrough(t *testing.T) {
	want := &BasketTax{TaxAmount: d("1.00")}
	b := NewBreakerCalculator(&stubCalculator{result: want}, BreakerConfig{})

	got, err := b.CalculateBasketTax(context.Background(), "b1", us, "")
	require.NoError(t, err)
	assert.Same(t, want, got)
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestBreakerCalculator_CanceledCallsDoNotTrip(t *testing.T) {
	stub := &stubCalculator{err: context.Canceled}
	b := NewBreakerCalculator(stub, BreakerConfig{ConsecutiveFailures: 1})

	for range 3 {
		_, err := b.CalculateBasketTax(context.Background(), "b1", us, "")
		require.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())
}
