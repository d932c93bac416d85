package stockcache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"flipflop-be/internal/logger"
	"flipflop-be/internal/metrics"
	"flipflop-be/internal/redisx"
	"flipflop-be/internal/warehouse"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultRefillConcurrency = 8

// Source is the read side of the warehouse authority.
type Source interface {
	Available(ctx context.Context, productKey string) (warehouse.Availability, error)
}

type Cache interface {
	GetMany(ctx context.Context, productKeys []string) map[string]Reading
	Invalidate(ctx context.Context, productKeys []string) error
}

type Options struct {
	TTL               time.Duration
	RefillConcurrency int
	Metrics           *metrics.Registry
}

type cache struct {
	rdb         redis.Cmdable
	source      Source
	ttl         time.Duration
	concurrency int
	metrics     *metrics.Registry
}

func New(rdb redis.Cmdable, source Source, opts Options) Cache {
	if opts.TTL <= 0 {
		opts.TTL = redisx.TTLStockCache
	}
	if opts.RefillConcurrency <= 0 {
		opts.RefillConcurrency = defaultRefillConcurrency
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewRegistry()
	}
	return &cache{
		rdb:         rdb,
		source:      source,
		ttl:         opts.TTL,
		concurrency: opts.RefillConcurrency,
		metrics:     opts.Metrics,
	}
}

// GetMany returns one reading per distinct key. Cache hits are served from
// Redis; misses are refilled from the authority concurrently and written back.
// A key whose refill fails is reported as Unknown, never as zero stock.
func (c *cache) GetMany(ctx context.Context, productKeys []string) map[string]Reading {
	log := logger.FromCtx(ctx).With(
		zap.String("service", "stockcache"),
		zap.String("method", "GetMany"),
	)

	keys := dedupe(productKeys)
	out := make(map[string]Reading, len(keys))
	if len(keys) == 0 {
		return out
	}

	misses := c.lookup(ctx, log, keys, out)
	if len(misses) == 0 {
		return out
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for _, key := range misses {
		g.Go(func() error {
			r := c.refill(gctx, log, key)
			mu.Lock()
			out[key] = r
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return out
}

// lookup fills out with cache hits and returns the keys that missed. A Redis
// failure turns every key into a miss.
func (c *cache) lookup(ctx context.Context, log *zap.Logger, keys []string, out map[string]Reading) []string {
	redisKeys := make([]string, len(keys))
	for i, k := range keys {
		redisKeys[i] = redisx.StockKey(k)
	}

	values, err := c.rdb.MGet(ctx, redisKeys...).Result()
	if err != nil {
		log.Warn("stock cache read failed, fetching all", zap.Error(err))
		c.metrics.CacheMisses.Add(uint64(len(keys)))
		return keys
	}

	var misses []string
	for i, key := range keys {
		raw, ok := values[i].(string)
		if !ok {
			misses = append(misses, key)
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			log.Warn("discarding malformed stock cache entry", zap.String("product_key", key), zap.Error(err))
			misses = append(misses, key)
			continue
		}
		e.ProductKey = key
		out[key] = Reading{Entry: e, State: Fresh}
	}

	c.metrics.CacheHits.Add(uint64(len(keys) - len(misses)))
	c.metrics.CacheMisses.Add(uint64(len(misses)))
	return misses
}

func (c *cache) refill(ctx context.Context, log *zap.Logger, key string) Reading {
	avail, err := c.source.Available(ctx, key)
	if err != nil {
		log.Warn("stock refill failed", zap.String("product_key", key), zap.Error(err))
		c.metrics.CacheUnknown.Inc()
		return Reading{Entry: Entry{ProductKey: key}, State: Unknown, Err: err}
	}

	e := entryFromAvailability(key, avail)

	payload, err := json.Marshal(e)
	if err == nil {
		err = c.rdb.SetEx(ctx, redisx.StockKey(key), payload, c.ttl).Err()
	}
	if err != nil {
		log.Error("failed to cache stock entry", zap.String("product_key", key), zap.Error(err))
	}

	c.metrics.CacheRefills.Inc()
	return Reading{Entry: e, State: Refilled}
}

// Invalidate drops the cached entries for productKeys.
func (c *cache) Invalidate(ctx context.Context, productKeys []string) error {
	keys := dedupe(productKeys)
	if len(keys) == 0 {
		return nil
	}

	redisKeys := make([]string, len(keys))
	for i, k := range keys {
		redisKeys[i] = redisx.StockKey(k)
	}

	if err := c.rdb.Del(ctx, redisKeys...).Err(); err != nil {
		logger.FromCtx(ctx).Error("failed to invalidate stock cache",
			zap.Strings("product_keys", keys),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func entryFromAvailability(key string, a warehouse.Availability) Entry {
	availability := AvailabilityOutOfStock
	if a.Available > 0 {
		availability = AvailabilityInStock
	}
	return Entry{
		ProductKey:     key,
		StockQuantity:  a.Available,
		TrackInventory: true,
		Availability:   availability,
		UpdatedAt:      a.AsOf,
	}
}

func dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
