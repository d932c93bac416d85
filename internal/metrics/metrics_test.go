package metrics

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounter(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.CacheHits.Inc()
		}()
	}
	wg.Wait()
	r.CacheHits.Add(5)

	assert.Equal(t, uint64(105), r.CacheHits.Load())
	assert.Equal(t, uint64(0), r.CacheMisses.Load())
}

func TestHistogram(t *testing.T) {
	r := NewRegistry()
	h := r.CheckoutLatency
	assert.Equal(t, time.Duration(0), h.Mean())

	h.Observe(10 * time.Millisecond)
	h.Observe(30 * time.Millisecond)
	h.Observe(-time.Second)

	assert.Equal(t, uint64(3), h.Count())
	assert.InDelta(t, float64(40*time.Millisecond/3), float64(h.Mean()), float64(time.Microsecond))
}

func TestTimer(t *testing.T) {
	tm := StartTimer()
	assert.GreaterOrEqual(t, tm.Duration(), time.Duration(0))
}

func TestRegistriesAreIsolated(t *testing.T) {
	a, b := NewRegistry(), NewRegistry()
	a.GuardDegraded.Inc()

	assert.Equal(t, uint64(1), a.GuardDegraded.Load())
	assert.Equal(t, uint64(0), b.GuardDegraded.Load())
}

func TestRegistrySnapshot(t *testing.T) {
	r := NewRegistry()
	r.CheckoutStarted.Inc()
	r.CacheHits.Add(3)
	r.Compensations.Inc()
	r.CheckoutLatency.Observe(20 * time.Millisecond)

	snap := r.Snapshot()
	assert.Equal(t, uint64(1), snap["checkout_started_total"])
	assert.Equal(t, uint64(3), snap["stock_cache_hits_total"])
	assert.Equal(t, uint64(1), snap["reservation_compensations"])
	assert.Equal(t, uint64(0), snap["checkout_failed_total"])
	assert.Equal(t, uint64(20), snap["checkout_latency_mean_ms"])
	assert.Contains(t, snap, "cart_guard_rejected_total")
}

func TestShutdown(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Shutdown(context.Background()))
}
