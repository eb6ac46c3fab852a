package checkout

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-checkout/internal/domain/tax"
)

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, d(want).Equal(got), "want %s, got %s", want, got.String())
}

func assertTotalsAddUp(t *testing.T, s *Session) {
	t.Helper()
	want := s.Totals.Subtotal.Add(s.Totals.Tax).Add(s.Totals.Shipping).Sub(s.Totals.Discount)
	assert.True(t, want.Equal(s.Totals.Total), "total %s != %s", s.Totals.Total, want)
}

func countryRate(id, country, rate string) tax.Rate {
	return tax.Rate{ID: id, Name: id, Country: country, Rate: d(rate), Priority: 1, Status: tax.RateActive}
}

// readySession returns a session that passes validation.
func readySession(t *testing.T, f *fixture) *Session {
	t.Helper()
	ctx := context.Background()
	s, err := f.manager.Create(ctx, "b1", "cust-1", "")
	require.NoError(t, err)
	_, err = f.manager.SetShippingAddress(ctx, s.ID, usAddress())
	require.NoError(t, err)
	_, err = f.manager.SetBillingAddress(ctx, s.ID, usAddress())
	require.NoError(t, err)
	_, err = f.manager.SetShippingMethod(ctx, s.ID, "std")
	require.NoError(t, err)
	s, err = f.manager.SetPaymentMethod(ctx, s.ID, "card")
	require.NoError(t, err)
	return s
}

func TestManager_Create(t *testing.T) {
	f := newFixture(&stubTax{})

	s, err := f.manager.Create(context.Background(), "b1", "", "guest@example.com")
	require.NoError(t, err)

	assert.NotEmpty(t, s.ID)
	assert.Equal(t, StatusActive, s.Status)
	assert.Equal(t, f.clock.now.Add(24*time.Hour), s.ExpiresAt)
	assert.Nil(t, s.CompletedAt)
	for _, amount := range []string{
		s.Totals.Subtotal.String(), s.Totals.Tax.String(), s.Totals.Shipping.String(),
		s.Totals.Discount.String(), s.Totals.Total.String(),
	} {
		assert.Equal(t, "0", amount)
	}

	_, err = f.manager.Create(context.Background(), "", "", "")
	require.ErrorIs(t, err, ErrBasketRequired)
}

func TestManager_Start(t *testing.T) {
	ctx := context.Background()

	t.Run("reuses open session", func(t *testing.T) {
		f := newFixture(&stubTax{})
		first, err := f.manager.Start(ctx, "b1", "cust-1", "")
		require.NoError(t, err)
		second, err := f.manager.Start(ctx, "b1", "cust-1", "")
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
	})

	t.Run("replaces expired session", func(t *testing.T) {
		f := newFixture(&stubTax{})
		old, err := f.manager.Start(ctx, "b1", "cust-1", "")
		require.NoError(t, err)

		f.clock.now = f.clock.now.Add(25 * time.Hour)
		fresh, err := f.manager.Start(ctx, "b1", "cust-1", "")
		require.NoError(t, err)

		assert.NotEqual(t, old.ID, fresh.ID)
		assert.Equal(t, StatusExpired, f.store.status(old.ID))
		assert.Equal(t, StatusActive, fresh.Status)
	})

	t.Run("ignores terminal sessions", func(t *testing.T) {
		f := newFixture(&stubTax{})
		old, err := f.manager.Start(ctx, "b1", "", "a@example.com")
		require.NoError(t, err)
		_, err = f.manager.Abandon(ctx, old.ID)
		require.NoError(t, err)

		fresh, err := f.manager.Start(ctx, "b1", "", "a@example.com")
		require.NoError(t, err)
		assert.NotEqual(t, old.ID, fresh.ID)
	})
}

type racingStore struct {
	*memStore
	hidden bool
}

func (r *racingStore) FindActiveForBasket(ctx context.Context, basketID string) (*Session, error) {
	if !r.hidden {
		r.hidden = true
		return nil, ErrSessionNotFound
	}
	return r.memStore.FindActiveForBasket(ctx, basketID)
}

func TestManager_Start_ConcurrentCreate(t *testing.T) {
	f := newFixture(&stubTax{})
	winner, err := f.manager.Create(context.Background(), "b1", "cust-1", "")
	require.NoError(t, err)

	m := NewManager(&racingStore{memStore: f.store}, f.baskets, f.methods, &stubTax{})
	got, err := m.Start(context.Background(), "b1", "cust-1", "")
	require.NoError(t, err)
	assert.Equal(t, winner.ID, got.ID)
}

func TestCalculateOrderTotals_Scenarios(t *testing.T) {
	tests := []struct {
		name      string
		rates     memRates
		wantTax   string
		wantTotal string
	}{
		{name: "no matching rate", rates: memRates{countryRate("de", "DE", "0.19")}, wantTax: "0", wantTotal: "81.47"},
		{name: "country rate 8%", rates: memRates{countryRate("us", "US", "0.08")}, wantTax: "6.04", wantTotal: "87.51"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newEngineFixture(tt.rates, memExemptions{})
			s := readySession(t, f)

			assertDecimal(t, "75.48", s.Totals.Subtotal)
			assertDecimal(t, tt.wantTax, s.Totals.Tax)
			assertDecimal(t, "5.99", s.Totals.Shipping)
			assertDecimal(t, tt.wantTotal, s.Totals.Total)
			assert.False(t, s.Totals.TaxDegraded)
			assertTotalsAddUp(t, s)
		})
	}
}

func TestCalculateOrderTotals_Idempotent(t *testing.T) {
	f := newEngineFixture(memRates{countryRate("us", "US", "0.08")}, memExemptions{})
	s := readySession(t, f)

	first, err := f.manager.CalculateOrderTotals(context.Background(), s.ID)
	require.NoError(t, err)
	second, err := f.manager.CalculateOrderTotals(context.Background(), s.ID)
	require.NoError(t, err)

	assert.Equal(t, first.Totals, second.Totals)
	assert.Equal(t, s.Totals.Total.String(), second.Totals.Total.String())
}

func TestCalculateOrderTotals_ExemptCustomerPaysNoTax(t *testing.T) {
	f := newEngineFixture(
		memRates{countryRate("us", "US", "0.08")},
		memExemptions{"cust-1": {{ID: "ex", CustomerID: "cust-1", Status: tax.ExemptionActive}}},
	)
	s := readySession(t, f)

	assertDecimal(t, "0", s.Totals.Tax)
	assertDecimal(t, "81.47", s.Totals.Total)
	assert.False(t, s.Totals.TaxDegraded)
}

func TestCalculateOrderTotals_DegradesOnTaxFailure(t *testing.T) {
	calc := &stubTax{err: errors.New("tax store unavailable")}
	f := newFixture(calc)
	s := readySession(t, f)

	assert.Positive(t, calc.calls)
	assertDecimal(t, "0", s.Totals.Tax)
	assertDecimal(t, "81.47", s.Totals.Total)
	assert.True(t, s.Totals.TaxDegraded)
	assertTotalsAddUp(t, s)

	// A later successful calculation clears the flag.
	calc.err = nil
	calc.amount = d("6.04")
	s, err := f.manager.CalculateOrderTotals(context.Background(), s.ID)
	require.NoError(t, err)
	assert.False(t, s.Totals.TaxDegraded)
	assertDecimal(t, "87.51", s.Totals.Total)
}

func TestCalculateOrderTotals_NoAddressNoTax(t *testing.T) {
	calc := &stubTax{amount: d("100")}
	f := newFixture(calc)

	s, err := f.manager.Create(context.Background(), "b1", "cust-1", "")
	require.NoError(t, err)
	s, err = f.manager.SetShippingMethod(context.Background(), s.ID, "std")
	require.NoError(t, err)

	assert.Zero(t, calc.calls)
	assertDecimal(t, "81.47", s.Totals.Total)
}

func TestCalculateOrderTotals_BasketFailurePropagates(t *testing.T) {
	f := newFixture(&stubTax{})
	s, err := f.manager.Create(context.Background(), "b1", "cust-1", "")
	require.NoError(t, err)

	dbDown := errors.New("connection refused")
	f.baskets.err = dbDown
	_, err = f.manager.CalculateOrderTotals(context.Background(), s.ID)
	require.ErrorIs(t, err, dbDown)
}

func TestManager_SetMethod_Unavailable(t *testing.T) {
	f := newFixture(&stubTax{})
	ctx := context.Background()
	s, err := f.manager.Create(ctx, "b1", "cust-1", "")
	require.NoError(t, err)

	tests := []struct {
		name string
		call func() (*Session, error)
	}{
		{name: "unknown shipping", call: func() (*Session, error) { return f.manager.SetShippingMethod(ctx, s.ID, "nope") }},
		{name: "disabled shipping", call: func() (*Session, error) { return f.manager.SetShippingMethod(ctx, s.ID, "off") }},
		{name: "payment used as shipping", call: func() (*Session, error) { return f.manager.SetShippingMethod(ctx, s.ID, "card") }},
		{name: "unknown payment", call: func() (*Session, error) { return f.manager.SetPaymentMethod(ctx, s.ID, "nope") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.call()
			require.ErrorIs(t, err, ErrMethodUnavailable)
		})
	}

	got, err := f.manager.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Empty(t, got.ShippingMethodID)
	assert.Empty(t, got.PaymentMethodID)
	assertDecimal(t, "0", got.Totals.Shipping)
}

func TestManager_SetPaymentMethod_NoMonetaryEffect(t *testing.T) {
	f := newFixture(&stubTax{})
	s, err := f.manager.Create(context.Background(), "b1", "cust-1", "")
	require.NoError(t, err)

	s, err = f.manager.SetPaymentMethod(context.Background(), s.ID, "card")
	require.NoError(t, err)
	assert.Equal(t, "card", s.PaymentMethodID)
	assertDecimal(t, "0", s.Totals.Shipping)
	assertDecimal(t, "75.48", s.Totals.Total)
}

func TestManager_Mutations_LoadSessionOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(&stubTax{})
	s, err := f.manager.Create(ctx, "b1", "cust-1", "")
	require.NoError(t, err)

	tests := []struct {
		name string
		call func() (*Session, error)
	}{
		{name: "shipping address", call: func() (*Session, error) { return f.manager.SetShippingAddress(ctx, s.ID, usAddress()) }},
		{name: "shipping method", call: func() (*Session, error) { return f.manager.SetShippingMethod(ctx, s.ID, "std") }},
		{name: "payment method", call: func() (*Session, error) { return f.manager.SetPaymentMethod(ctx, s.ID, "card") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.store.reads = 0
			got, err := tt.call()
			require.NoError(t, err)
			assert.Equal(t, 1, f.store.reads)
			assertTotalsAddUp(t, got)
		})
	}

	got, err := f.manager.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "std", got.ShippingMethodID)
	assert.Equal(t, "card", got.PaymentMethodID)
	assertDecimal(t, "5.99", got.Totals.Shipping)
}

func TestManager_Mutations_RequireActiveSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(&stubTax{})

	abandoned, err := f.manager.Create(ctx, "b1", "cust-1", "")
	require.NoError(t, err)
	_, err = f.manager.Abandon(ctx, abandoned.ID)
	require.NoError(t, err)

	_, err = f.manager.SetShippingAddress(ctx, abandoned.ID, usAddress())
	require.ErrorIs(t, err, ErrSessionNotActive)
	_, err = f.manager.SetShippingMethod(ctx, abandoned.ID, "std")
	require.ErrorIs(t, err, ErrSessionNotActive)
	_, err = f.manager.CalculateOrderTotals(ctx, abandoned.ID)
	require.ErrorIs(t, err, ErrSessionNotActive)

	_, err = f.manager.SetBillingAddress(ctx, "missing", usAddress())
	require.ErrorIs(t, err, ErrSessionNotFound)
	_, err = f.manager.SetPaymentMethod(ctx, "missing", "card")
	require.ErrorIs(t, err, ErrSessionNotFound)

	expiring, err := f.manager.Create(ctx, "b2", "cust-1", "")
	require.NoError(t, err)
	f.clock.now = f.clock.now.Add(48 * time.Hour)
	_, err = f.manager.SetShippingAddress(ctx, expiring.ID, usAddress())
	require.ErrorIs(t, err, ErrSessionNotActive)
}

func TestManager_SetShippingAddress_StoredVerbatim(t *testing.T) {
	f := newFixture(&stubTax{})
	s, err := f.manager.Create(context.Background(), "b1", "cust-1", "")
	require.NoError(t, err)

	partial := usAddress()
	partial.City = ""
	partial.Company = "Analytical Engines"
	s, err = f.manager.SetShippingAddress(context.Background(), s.ID, partial)
	require.NoError(t, err)
	require.NotNil(t, s.ShippingAddress)
	assert.Equal(t, partial, *s.ShippingAddress)
}

func TestManager_Validate(t *testing.T) {
	ctx := context.Background()

	t.Run("valid", func(t *testing.T) {
		f := newFixture(&stubTax{})
		s := readySession(t, f)

		res, err := f.manager.Validate(ctx, s.ID)
		require.NoError(t, err)
		assert.True(t, res.IsValid)
		assert.Empty(t, res.Errors)
	})

	t.Run("reports every missing selection", func(t *testing.T) {
		f := newFixture(&stubTax{})
		s, err := f.manager.Create(ctx, "b1", "", "")
		require.NoError(t, err)
		writes := f.store.writes

		res, err := f.manager.Validate(ctx, s.ID)
		require.NoError(t, err)
		assert.False(t, res.IsValid)
		for _, code := range []ErrorCode{
			CodeMissingCustomerInfo,
			CodeMissingShippingAddress,
			CodeMissingBillingAddress,
			CodeMissingShippingMethod,
			CodeMissingPaymentMethod,
		} {
			assert.True(t, res.Has(code), "missing %s", code)
		}
		assert.Len(t, res.Errors, 5)
		assert.Equal(t, writes, f.store.writes, "validate must not write")
	})

	t.Run("not found", func(t *testing.T) {
		f := newFixture(&stubTax{})
		res, err := f.manager.Validate(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, res.IsValid)
		require.Len(t, res.Errors, 1)
		assert.Equal(t, CodeSessionNotFound, res.Errors[0].Code)
	})

	t.Run("incomplete address", func(t *testing.T) {
		f := newFixture(&stubTax{})
		s := readySession(t, f)
		partial := usAddress()
		partial.City = ""
		partial.PostalCode = ""
		_, err := f.manager.SetBillingAddress(ctx, s.ID, partial)
		require.NoError(t, err)

		res, err := f.manager.Validate(ctx, s.ID)
		require.NoError(t, err)
		require.Len(t, res.Errors, 1)
		assert.Equal(t, CodeMissingBillingAddress, res.Errors[0].Code)
		assert.Equal(t, "billingAddress", res.Errors[0].Field)
		assert.Contains(t, res.Errors[0].Message, "city, postalCode")
	})

	t.Run("empty basket", func(t *testing.T) {
		f := newFixture(&stubTax{})
		s := readySession(t, f)
		delete(f.baskets.lines, "b1")

		res, err := f.manager.Validate(ctx, s.ID)
		require.NoError(t, err)
		require.Len(t, res.Errors, 1)
		assert.Equal(t, CodeEmptyBasket, res.Errors[0].Code)
	})

	t.Run("expired but still active", func(t *testing.T) {
		f := newFixture(&stubTax{})
		s := readySession(t, f)
		f.clock.now = s.ExpiresAt.Add(time.Second)

		res, err := f.manager.Validate(ctx, s.ID)
		require.NoError(t, err)
		require.Len(t, res.Errors, 1)
		assert.Equal(t, CodeSessionExpired, res.Errors[0].Code)
		assert.Equal(t, StatusActive, f.store.status(s.ID), "validate does not transition")
	})

	t.Run("terminal status", func(t *testing.T) {
		f := newFixture(&stubTax{})
		s := readySession(t, f)
		_, err := f.manager.Abandon(ctx, s.ID)
		require.NoError(t, err)

		res, err := f.manager.Validate(ctx, s.ID)
		require.NoError(t, err)
		require.Len(t, res.Errors, 1)
		assert.Equal(t, CodeInvalidSessionStatus, res.Errors[0].Code)
	})
}

func TestManager_Abandon(t *testing.T) {
	ctx := context.Background()
	f := newFixture(&stubTax{})
	s, err := f.manager.Create(ctx, "b1", "cust-1", "")
	require.NoError(t, err)

	got, err := f.manager.Abandon(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAbandoned, got.Status)

	got, err = f.manager.Abandon(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAbandoned, got.Status)

	_, err = f.manager.Abandon(ctx, "missing")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestManager_Abandon_CompletedStaysCompleted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(&stubTax{})
	s := readySession(t, f)
	res, err := f.committer.Complete(ctx, s.ID)
	require.NoError(t, err)
	require.True(t, res.Success)

	got, err := f.manager.Abandon(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
}

func TestManager_CleanupExpired(t *testing.T) {
	ctx := context.Background()
	f := newFixture(&stubTax{})

	stale, err := f.manager.Create(ctx, "b1", "cust-1", "")
	require.NoError(t, err)
	abandoned, err := f.manager.Create(ctx, "b3", "cust-3", "")
	require.NoError(t, err)
	_, err = f.manager.Abandon(ctx, abandoned.ID)
	require.NoError(t, err)

	f.clock.now = f.clock.now.Add(25 * time.Hour)
	fresh, err := f.manager.Create(ctx, "b2", "cust-2", "")
	require.NoError(t, err)

	n, err := f.manager.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	assert.Equal(t, StatusExpired, f.store.status(stale.ID))
	assert.Equal(t, StatusActive, f.store.status(fresh.ID))
	assert.Equal(t, StatusAbandoned, f.store.status(abandoned.ID))
}
