package checkout

import (
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

type metrics struct {
	taxDegraded    metric.Int64Counter
	sessionsSwept  metric.Int64Counter
	ordersCreated  metric.Int64Counter
	commitFailures metric.Int64Counter
}

func newMetrics(mp metric.MeterProvider) *metrics {
	meter := mp.Meter("github.com/xenking/kart-checkout/internal/domain/checkout")
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			return noop.Int64Counter{}
		}
		return c
	}
	return &metrics{
		taxDegraded:    counter("checkout.tax.degraded", "Totals recalculations that fell back to zero tax"),
		sessionsSwept:  counter("checkout.sessions.expired", "Sessions transitioned to expired by cleanup"),
		ordersCreated:  counter("checkout.orders.created", "Orders created from checkout sessions"),
		commitFailures: counter("checkout.orders.failed", "Order commits rolled back"),
	}
}
