package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

const meterName = "flipflop-be"

const (
	checkoutStarted      = "checkout_started_total"
	checkoutSucceeded    = "checkout_succeeded_total"
	checkoutFailed       = "checkout_failed_total"
	checkoutLatency      = "checkout_latency_ms"
	reservationsGranted  = "reservations_granted_total"
	reservationsRejected = "reservations_rejected_total"
	reservationsUnknown  = "reservations_unknown_total"
	compensations        = "reservation_compensations"
	cacheHits            = "stock_cache_hits_total"
	cacheMisses          = "stock_cache_misses_total"
	cacheRefills         = "stock_cache_refills_total"
	cacheUnknown         = "stock_cache_unknown_total"
	guardDegraded        = "cart_guard_degraded_total"
	guardRejected        = "cart_guard_rejected_total"
)

// Registry groups the process instruments for checkout, cache and
// reservations. Each registry owns a meter provider with a manual reader, so
// values can be served on /metrics without an exporter.
// One instance is created in main and injected where needed.
type Registry struct {
	reader   *sdkmetric.ManualReader
	provider *sdkmetric.MeterProvider

	CheckoutStarted   *Counter
	CheckoutSucceeded *Counter
	CheckoutFailed    *Counter
	CheckoutLatency   *Histogram

	ReservationsGranted  *Counter
	ReservationsRejected *Counter
	ReservationsUnknown  *Counter
	Compensations        *Counter

	CacheHits    *Counter
	CacheMisses  *Counter
	CacheRefills *Counter
	CacheUnknown *Counter

	GuardDegraded *Counter
	GuardRejected *Counter
}

func NewRegistry() *Registry {
	reader := sdkmetric.NewManualReader()
	r := &Registry{
		reader:   reader,
		provider: sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
	}
	meter := r.provider.Meter(meterName)

	r.CheckoutStarted = r.counter(meter, checkoutStarted, "Checkouts attempted")
	r.CheckoutSucceeded = r.counter(meter, checkoutSucceeded, "Orders committed")
	r.CheckoutFailed = r.counter(meter, checkoutFailed, "Checkouts that ended in an error")
	r.CheckoutLatency = r.histogram(meter, checkoutLatency, "Checkout duration")

	r.ReservationsGranted = r.counter(meter, reservationsGranted, "Reservations confirmed by the authority")
	r.ReservationsRejected = r.counter(meter, reservationsRejected, "Reservation batches rejected for stock")
	r.ReservationsUnknown = r.counter(meter, reservationsUnknown, "Reservations with an unknown outcome")
	r.Compensations = r.counter(meter, compensations, "Reservation batches rolled back")

	r.CacheHits = r.counter(meter, cacheHits, "Stock cache hits")
	r.CacheMisses = r.counter(meter, cacheMisses, "Stock cache misses")
	r.CacheRefills = r.counter(meter, cacheRefills, "Stock cache entries refilled from the authority")
	r.CacheUnknown = r.counter(meter, cacheUnknown, "Stock readings that could not be refilled")

	r.GuardDegraded = r.counter(meter, guardDegraded, "Cart checks allowed without a confident reading")
	r.GuardRejected = r.counter(meter, guardRejected, "Cart checks rejected for stock")

	return r
}

// Provider exposes the meter provider so main can install it globally.
func (r *Registry) Provider() *sdkmetric.MeterProvider {
	return r.provider
}

func (r *Registry) Shutdown(ctx context.Context) error {
	return r.provider.Shutdown(ctx)
}

// Snapshot returns the current values keyed by metric name.
func (r *Registry) Snapshot() map[string]uint64 {
	rm := r.collect()
	out := map[string]uint64{
		"checkout_latency_mean_ms": uint64(meanOf(rm, checkoutLatency).Milliseconds()),
	}
	for _, name := range []string{
		checkoutStarted, checkoutSucceeded, checkoutFailed,
		reservationsGranted, reservationsRejected, reservationsUnknown, compensations,
		cacheHits, cacheMisses, cacheRefills, cacheUnknown,
		guardDegraded, guardRejected,
	} {
		out[name] = sumOf(rm, name)
	}
	return out
}

func (r *Registry) collect() metricdata.ResourceMetrics {
	var rm metricdata.ResourceMetrics
	if err := r.reader.Collect(context.Background(), &rm); err != nil {
		otel.Handle(err)
	}
	return rm
}

func (r *Registry) counter(meter metric.Meter, name, desc string) *Counter {
	inst, err := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit("1"))
	if err != nil {
		otel.Handle(err)
	}
	return &Counter{name: name, inst: inst, reg: r}
}

func (r *Registry) histogram(meter metric.Meter, name, desc string) *Histogram {
	inst, err := meter.Float64Histogram(name, metric.WithDescription(desc), metric.WithUnit("ms"))
	if err != nil {
		otel.Handle(err)
	}
	return &Histogram{name: name, inst: inst, reg: r}
}
