package stockcache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"flipflop-be/internal/metrics"
	"flipflop-be/internal/warehouse"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu    sync.Mutex
	stock map[string]int
	fail  map[string]error
	calls map[string]int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		stock: map[string]int{},
		fail:  map[string]error{},
		calls: map[string]int{},
	}
}

func (f *fakeSource) Available(ctx context.Context, key string) (warehouse.Availability, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[key]++
	if err, ok := f.fail[key]; ok {
		return warehouse.Availability{}, err
	}
	return warehouse.Availability{Available: f.stock[key], AsOf: time.Now().UTC()}, nil
}

func (f *fakeSource) set(key string, qty int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stock[key] = qty
}

func (f *fakeSource) callsFor(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

func setup(t *testing.T) (*miniredis.Miniredis, *fakeSource, Cache, *metrics.Registry) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	src := newFakeSource()
	reg := metrics.NewRegistry()
	c := New(rdb, src, Options{TTL: 300 * time.Second, Metrics: reg})
	return mr, src, c, reg
}

func TestGetMany(t *testing.T) {
	t.Run("Miss refills and writes back", func(t *testing.T) {
		mr, src, c, reg := setup(t)
		src.set("sku-1", 10)

		got := c.GetMany(context.Background(), []string{"sku-1"})

		require.Contains(t, got, "sku-1")
		assert.Equal(t, Refilled, got["sku-1"].State)
		assert.Equal(t, 10, got["sku-1"].Entry.StockQuantity)
		assert.Equal(t, AvailabilityInStock, got["sku-1"].Entry.Availability)

		raw, err := mr.Get("warehouse:sku-1")
		require.NoError(t, err)
		var e Entry
		require.NoError(t, json.Unmarshal([]byte(raw), &e))
		assert.Equal(t, 10, e.StockQuantity)
		assert.True(t, e.TrackInventory)

		ttl := mr.TTL("warehouse:sku-1")
		assert.Equal(t, 300*time.Second, ttl)
		assert.Equal(t, uint64(1), reg.CacheRefills.Load())
	})

	t.Run("Hit is served without the authority", func(t *testing.T) {
		_, src, c, reg := setup(t)
		src.set("sku-1", 4)

		c.GetMany(context.Background(), []string{"sku-1"})
		src.set("sku-1", 99)
		got := c.GetMany(context.Background(), []string{"sku-1", "sku-1"})

		assert.Equal(t, Fresh, got["sku-1"].State)
		assert.Equal(t, 4, got["sku-1"].Entry.StockQuantity)
		assert.Equal(t, 1, src.callsFor("sku-1"))
		assert.Equal(t, uint64(1), reg.CacheHits.Load())
	})

	t.Run("Expired entry is refilled", func(t *testing.T) {
		mr, src, c, _ := setup(t)
		src.set("sku-1", 4)

		c.GetMany(context.Background(), []string{"sku-1"})
		src.set("sku-1", 2)
		mr.FastForward(301 * time.Second)

		got := c.GetMany(context.Background(), []string{"sku-1"})

		assert.Equal(t, Refilled, got["sku-1"].State)
		assert.Equal(t, 2, got["sku-1"].Entry.StockQuantity)
	})

	t.Run("Failed refill is unknown, not zero", func(t *testing.T) {
		mr, src, c, reg := setup(t)
		src.set("sku-ok", 3)
		src.fail["sku-down"] = &warehouse.UnavailableError{Op: "available", Cause: errors.New("dial tcp: refused")}

		got := c.GetMany(context.Background(), []string{"sku-ok", "sku-down"})

		assert.Equal(t, Refilled, got["sku-ok"].State)
		assert.Equal(t, Unknown, got["sku-down"].State)
		assert.False(t, got["sku-down"].Confident())
		assert.Error(t, got["sku-down"].Err)
		assert.False(t, mr.Exists("warehouse:sku-down"))
		assert.Equal(t, uint64(1), reg.CacheUnknown.Load())
	})

	t.Run("Malformed entry is treated as a miss", func(t *testing.T) {
		mr, src, c, _ := setup(t)
		src.set("sku-1", 6)
		require.NoError(t, mr.Set("warehouse:sku-1", "{broken"))

		got := c.GetMany(context.Background(), []string{"sku-1"})

		assert.Equal(t, Refilled, got["sku-1"].State)
		assert.Equal(t, 6, got["sku-1"].Entry.StockQuantity)
	})

	t.Run("Redis down fetches everything", func(t *testing.T) {
		mr, src, c, _ := setup(t)
		src.set("a", 1)
		src.set("b", 0)
		mr.Close()

		got := c.GetMany(context.Background(), []string{"a", "b"})

		assert.Equal(t, Refilled, got["a"].State)
		assert.Equal(t, Refilled, got["b"].State)
		assert.Equal(t, AvailabilityOutOfStock, got["b"].Entry.Availability)
	})

	t.Run("Empty input", func(t *testing.T) {
		_, _, c, _ := setup(t)
		assert.Empty(t, c.GetMany(context.Background(), nil))
	})
}

func TestInvalidate(t *testing.T) {
	t.Run("Write then read observes the write", func(t *testing.T) {
		mr, src, c, _ := setup(t)
		src.set("sku-1", 10)
		c.GetMany(context.Background(), []string{"sku-1"})

		src.set("sku-1", 3)
		require.NoError(t, c.Invalidate(context.Background(), []string{"sku-1"}))

		assert.False(t, mr.Exists("warehouse:sku-1"))
		got := c.GetMany(context.Background(), []string{"sku-1"})
		assert.Equal(t, 3, got["sku-1"].Entry.StockQuantity)
	})

	t.Run("No keys is a no-op", func(t *testing.T) {
		_, _, c, _ := setup(t)
		assert.NoError(t, c.Invalidate(context.Background(), []string{""}))
	})

	t.Run("Redis failure is returned", func(t *testing.T) {
		mr, _, c, _ := setup(t)
		mr.Close()
		assert.Error(t, c.Invalidate(context.Background(), []string{"sku-1"}))
	})
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "fresh", Fresh.String())
	assert.Equal(t, "refilled", Refilled.String())
	assert.Equal(t, "unknown", Unknown.String())
}
