package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/buypoint/checkout"

// CheckoutMetrics records order, payment and cart sync outcomes.
type CheckoutMetrics struct {
	orders        metric.Int64Counter
	payments      metric.Int64Counter
	paymentAmount metric.Int64Histogram
	cartDegraded  metric.Int64Counter
	cartSynced    metric.Int64Counter
}

// NewCheckoutMetrics creates instruments on the global meter provider.
func NewCheckoutMetrics() (*CheckoutMetrics, error) {
	return NewCheckoutMetricsWithMeter(otel.Meter(meterName))
}

// NewCheckoutMetricsWithMeter creates instruments on meter.
func NewCheckoutMetricsWithMeter(meter metric.Meter) (*CheckoutMetrics, error) {
	orders, err := meter.Int64Counter("checkout.orders.created", metric.WithDescription("Orders persisted as pending"))
	if err != nil {
		return nil, err
	}
	payments, err := meter.Int64Counter("checkout.payments", metric.WithDescription("Payment attempts by method and outcome"))
	if err != nil {
		return nil, err
	}
	amount, err := meter.Int64Histogram("checkout.payments.amount", metric.WithUnit("{cent}"),
		metric.WithDescription("Amount of successful payments in hundredths"))
	if err != nil {
		return nil, err
	}
	degraded, err := meter.Int64Counter("cart.remote.degraded", metric.WithDescription("Cart mutations kept locally because the remote store was unreachable"))
	if err != nil {
		return nil, err
	}
	synced, err := meter.Int64Counter("cart.remote.synced", metric.WithDescription("Pending cart operations replayed to the remote store"))
	if err != nil {
		return nil, err
	}
	return &CheckoutMetrics{
		orders:        orders,
		payments:      payments,
		paymentAmount: amount,
		cartDegraded:  degraded,
		cartSynced:    synced,
	}, nil
}

// OrderCreated counts a persisted order.
func (m *CheckoutMetrics) OrderCreated(ctx context.Context, currency string) {
	if m == nil {
		return
	}
	m.orders.Add(ctx, 1, metric.WithAttributes(attribute.String("currency", currency)))
}

// PaymentOutcome counts a payment attempt and, on success, records its amount.
func (m *CheckoutMetrics) PaymentOutcome(ctx context.Context, method, outcome, currency string, amount int64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("outcome", outcome),
		attribute.String("currency", currency),
	)
	m.payments.Add(ctx, 1, attrs)
	if outcome == "success" {
		m.paymentAmount.Record(ctx, amount, metric.WithAttributes(attribute.String("currency", currency)))
	}
}

// CartDegraded counts a mutation queued while the remote store was unreachable.
func (m *CheckoutMetrics) CartDegraded(ctx context.Context, op string) {
	if m == nil {
		return
	}
	m.cartDegraded.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}

// CartSynced counts pending operations replayed by a sync.
func (m *CheckoutMetrics) CartSynced(ctx context.Context, replayed int) {
	if m == nil || replayed == 0 {
		return
	}
	m.cartSynced.Add(ctx, int64(replayed))
}
