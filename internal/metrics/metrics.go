package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// Counter is a monotonic otel counter that can be read back in process.
type Counter struct {
	name string
	inst metric.Int64Counter
	reg  *Registry
}

func (c *Counter) Inc() {
	c.Add(1)
}

func (c *Counter) Add(n uint64) {
	c.inst.Add(context.Background(), int64(n))
}

// Load returns the cumulative value collected so far.
func (c *Counter) Load() uint64 {
	return sumOf(c.reg.collect(), c.name)
}

type Timer struct {
	start time.Time
}

func StartTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Histogram records durations in milliseconds.
type Histogram struct {
	name string
	inst metric.Float64Histogram
	reg  *Registry
}

func (h *Histogram) Observe(d time.Duration) {
	if d < 0 {
		d = 0
	}
	h.inst.Record(context.Background(), float64(d)/float64(time.Millisecond))
}

func (h *Histogram) Count() uint64 {
	count, _ := histogramOf(h.reg.collect(), h.name)
	return count
}

func (h *Histogram) Mean() time.Duration {
	return meanOf(h.reg.collect(), h.name)
}

func find(rm metricdata.ResourceMetrics, name string) (metricdata.Aggregation, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m.Data, true
			}
		}
	}
	return nil, false
}

func sumOf(rm metricdata.ResourceMetrics, name string) uint64 {
	data, ok := find(rm, name)
	if !ok {
		return 0
	}
	sum, ok := data.(metricdata.Sum[int64])
	if !ok {
		return 0
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return uint64(total)
}

func histogramOf(rm metricdata.ResourceMetrics, name string) (uint64, float64) {
	data, ok := find(rm, name)
	if !ok {
		return 0, 0
	}
	h, ok := data.(metricdata.Histogram[float64])
	if !ok {
		return 0, 0
	}
	var (
		count uint64
		total float64
	)
	for _, dp := range h.DataPoints {
		count += dp.Count
		total += dp.Sum
	}
	return count, total
}

func meanOf(rm metricdata.ResourceMetrics, name string) time.Duration {
	count, totalMs := histogramOf(rm, name)
	if count == 0 {
		return 0
	}
	return time.Duration(totalMs / float64(count) * float64(time.Millisecond))
}
