package inventory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"flipflop-be/internal/logger"
	"flipflop-be/internal/metrics"
	"flipflop-be/internal/product"
	"flipflop-be/internal/stockcache"
	"flipflop-be/internal/warehouse"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultConcurrency  = 4
	compensationTimeout = 30 * time.Second
)

// Guard validates cart quantities against the best known availability.
type Guard interface {
	CheckQuantity(ctx context.Context, productID uuid.UUID, qty int) (Decision, error)
}

type Service interface {
	Guard
	ReserveItems(ctx context.Context, orderRef string, items []Item) ([]Reservation, error)
	ReleaseItems(ctx context.Context, reservations []Reservation) error
	SetStock(ctx context.Context, productID uuid.UUID, qty int, reason string) error
}

type Options struct {
	Concurrency int
	Metrics     *metrics.Registry
}

type service struct {
	products    product.Repository
	cache       stockcache.Cache
	authority   warehouse.Authority
	concurrency int
	metrics     *metrics.Registry
}

func NewService(products product.Repository, cache stockcache.Cache, authority warehouse.Authority, opts Options) Service {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewRegistry()
	}
	return &service{
		products:    products,
		cache:       cache,
		authority:   authority,
		concurrency: opts.Concurrency,
		metrics:     opts.Metrics,
	}
}

// CheckQuantity never blocks shopping on an authority outage: when the cache
// cannot produce a confident reading the request is allowed and flagged as
// degraded. The binding check is the reservation at checkout.
func (s *service) CheckQuantity(ctx context.Context, productID uuid.UUID, qty int) (Decision, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("service", "inventory"),
		zap.String("method", "CheckQuantity"),
		zap.String("product_id", productID.String()),
		zap.Int("requested", qty),
	)

	if qty <= 0 {
		return Decision{}, ErrInvalidQuantity
	}

	p, err := s.products.GetInventoryInfo(ctx, productID)
	if err != nil {
		if errors.Is(err, product.ErrProductNotFound) {
			return Decision{}, ErrProductNotFound
		}
		log.Error("failed to load product", zap.Error(err))
		return Decision{}, err
	}

	if !p.TrackInventory {
		return Decision{Allowed: true, Available: p.StockQuantity}, nil
	}

	// Products the authority does not know are checked against local stock only.
	if !p.Reservable() {
		if qty > p.StockQuantity {
			s.metrics.GuardRejected.Inc()
			return Decision{Allowed: false, Available: p.StockQuantity}, nil
		}
		return Decision{Allowed: true, Available: p.StockQuantity}, nil
	}

	key := *p.CatalogKey
	reading := s.cache.GetMany(ctx, []string{key})[key]

	if reading.Confident() {
		available := reading.Entry.StockQuantity
		if qty > available {
			s.metrics.GuardRejected.Inc()
			log.Info("cart quantity rejected", zap.Int("available", available))
			return Decision{Allowed: false, Available: available}, nil
		}
		return Decision{Allowed: true, Available: available}, nil
	}

	s.metrics.GuardDegraded.Inc()
	log.Warn("stock authority unreachable, allowing on local snapshot",
		zap.Int("local_stock", p.StockQuantity),
		zap.Error(reading.Err),
	)
	return Decision{Allowed: true, Available: p.StockQuantity, Degraded: true}, nil
}

type reserveResult struct {
	res Reservation
	err error
	ran bool
}

// ReserveItems holds every item at the authority for orderRef. It either
// returns all reservations or none: on any failure the confirmed ones are
// released before returning.
func (s *service) ReserveItems(ctx context.Context, orderRef string, items []Item) ([]Reservation, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("service", "inventory"),
		zap.String("method", "ReserveItems"),
		zap.String("order_ref", orderRef),
	)

	if len(items) == 0 {
		return nil, nil
	}

	warehouseID := s.authority.DefaultWarehouseID()
	results := make([]reserveResult, len(items))

	var failed atomic.Bool
	var g errgroup.Group
	g.SetLimit(s.concurrency)

	// Siblings are not cancelled on failure: an in-flight reserve that gets
	// cancelled would have an unknown outcome and could not be compensated.
	for i, it := range items {
		g.Go(func() error {
			if failed.Load() {
				return nil
			}
			err := s.authority.Reserve(ctx, it.CatalogKey, warehouseID, it.Quantity, orderRef)
			results[i] = reserveResult{
				res: Reservation{
					ProductID:   it.ProductID,
					CatalogKey:  it.CatalogKey,
					WarehouseID: warehouseID,
					Quantity:    it.Quantity,
					OrderRef:    orderRef,
				},
				err: err,
				ran: true,
			}
			if err != nil {
				failed.Store(true)
			}
			return nil
		})
	}
	_ = g.Wait()

	granted := make([]Reservation, 0, len(items))
	var insufficient, unavailable error
	for _, r := range results {
		switch {
		case !r.ran:
		case r.err == nil:
			granted = append(granted, r.res)
		case isInsufficient(r.err):
			if insufficient == nil {
				insufficient = r.err
			}
		default:
			if unavailable == nil {
				unavailable = r.err
			}
			if warehouse.IsUnavailable(r.err) {
				s.metrics.ReservationsUnknown.Inc()
				log.Error("reservation outcome unknown, not released",
					zap.String("product_key", r.res.CatalogKey),
					zap.Int("quantity", r.res.Quantity),
					zap.Error(r.err),
				)
			}
		}
	}
	s.metrics.ReservationsGranted.Add(uint64(len(granted)))

	if insufficient == nil && unavailable == nil {
		s.invalidate(ctx, granted)
		log.Info("stock reserved", zap.Int("items", len(granted)))
		return granted, nil
	}

	if insufficient != nil {
		s.metrics.ReservationsRejected.Inc()
	}

	if len(granted) > 0 {
		s.metrics.Compensations.Inc()
		if err := s.ReleaseItems(ctx, granted); err != nil {
			log.Error("compensating release incomplete", zap.Error(err))
		}
	}

	if insufficient != nil {
		return nil, fmt.Errorf("%w: %w", ErrInsufficientStock, insufficient)
	}
	return nil, fmt.Errorf("%w: %w", ErrReservationUnavailable, unavailable)
}

// ReleaseItems returns reservations to the authority. It runs detached from
// ctx cancellation so a cancelled request still compensates. On partial
// failure the error is a *ReleaseError naming the reservations still held.
func (s *service) ReleaseItems(ctx context.Context, reservations []Reservation) error {
	if len(reservations) == 0 {
		return nil
	}

	log := logger.FromCtx(ctx).With(
		zap.String("service", "inventory"),
		zap.String("method", "ReleaseItems"),
	)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	var (
		mu     sync.Mutex
		errs   []error
		failed []Reservation
	)
	var g errgroup.Group
	g.SetLimit(s.concurrency)

	for _, r := range reservations {
		g.Go(func() error {
			err := s.authority.Release(ctx, r.CatalogKey, r.WarehouseID, r.Quantity, r.OrderRef)
			if err != nil {
				log.Error("failed to release reservation",
					zap.String("product_key", r.CatalogKey),
					zap.String("order_ref", r.OrderRef),
					zap.Int("quantity", r.Quantity),
					zap.Error(err),
				)
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", r.CatalogKey, err))
				failed = append(failed, r)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	s.invalidate(ctx, reservations)

	if len(errs) > 0 {
		return &ReleaseError{Failed: failed, Err: errors.Join(errs...)}
	}
	log.Info("stock released", zap.Int("items", len(reservations)))
	return nil
}

// SetStock overwrites the on-hand quantity of a product at the authority and
// refreshes the local snapshot. The cached reading is dropped before return.
func (s *service) SetStock(ctx context.Context, productID uuid.UUID, qty int, reason string) error {
	log := logger.FromCtx(ctx).With(
		zap.String("service", "inventory"),
		zap.String("method", "SetStock"),
		zap.String("product_id", productID.String()),
		zap.Int("quantity", qty),
	)

	if qty < 0 {
		return ErrInvalidQuantity
	}

	p, err := s.products.GetInventoryInfo(ctx, productID)
	if err != nil {
		if errors.Is(err, product.ErrProductNotFound) {
			return ErrProductNotFound
		}
		return err
	}

	if p.Reservable() {
		if err := s.authority.SetAbsolute(ctx, *p.CatalogKey, s.authority.DefaultWarehouseID(), qty, reason); err != nil {
			log.Error("authority rejected stock update", zap.Error(err))
			return err
		}
		if err := s.cache.Invalidate(ctx, []string{*p.CatalogKey}); err != nil {
			log.Warn("stock cache invalidation failed", zap.Error(err))
		}
	}

	if err := s.products.UpdateLocalStock(ctx, productID, qty); err != nil {
		log.Error("failed to update local stock snapshot", zap.Error(err))
		return err
	}

	log.Info("stock updated", zap.String("reason", reason))
	return nil
}

func (s *service) invalidate(ctx context.Context, reservations []Reservation) {
	keys := make([]string, 0, len(reservations))
	for _, r := range reservations {
		keys = append(keys, r.CatalogKey)
	}
	if err := s.cache.Invalidate(ctx, keys); err != nil {
		logger.FromCtx(ctx).Warn("stock cache invalidation failed",
			zap.Strings("product_keys", keys),
			zap.Error(err),
		)
	}
}

func isInsufficient(err error) bool {
	_, ok := warehouse.AsInsufficientStock(err)
	return ok
}
