package inventory

import (
	"context"
	"errors"
	"testing"
	"time"

	"flipflop-be/internal/metrics"
	"flipflop-be/internal/product"
	"flipflop-be/internal/stockcache"
	"flipflop-be/internal/warehouse"
	"flipflop-be/internal/warehouse/warehousetest"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockProductRepo struct {
	mock.Mock
}

func (m *MockProductRepo) GetInventoryInfo(ctx context.Context, productID uuid.UUID) (*product.InventoryInfo, error) {
	args := m.Called(ctx, productID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*product.InventoryInfo), args.Error(1)
}

func (m *MockProductRepo) GetVariant(ctx context.Context, productID, variantID uuid.UUID) (*product.Variant, error) {
	args := m.Called(ctx, productID, variantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*product.Variant), args.Error(1)
}

func (m *MockProductRepo) UpdateLocalStock(ctx context.Context, productID uuid.UUID, qty int) error {
	args := m.Called(ctx, productID, qty)
	return args.Error(0)
}

type fixture struct {
	repo      *MockProductRepo
	authority *warehousetest.Authority
	redis     *miniredis.Miniredis
	metrics   *metrics.Registry
	svc       Service
}

func newFixture(t *testing.T, stock map[string]int) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	repo := new(MockProductRepo)
	auth := warehousetest.New(stock)
	reg := metrics.NewRegistry()
	cache := stockcache.New(rdb, auth, stockcache.Options{TTL: 300 * time.Second, Metrics: reg})

	return &fixture{
		repo:      repo,
		authority: auth,
		redis:     mr,
		metrics:   reg,
		svc:       NewService(repo, cache, auth, Options{Concurrency: 4, Metrics: reg}),
	}
}

func tracked(id uuid.UUID, key string, local int) *product.InventoryInfo {
	return &product.InventoryInfo{
		ProductID:      id,
		Name:           "Flip Flop",
		CatalogKey:     &key,
		TrackInventory: true,
		StockQuantity:  local,
	}
}

func TestService_CheckQuantity(t *testing.T) {
	ctx := context.Background()
	productID := uuid.New()

	t.Run("Untracked product is always allowed", func(t *testing.T) {
		f := newFixture(t, nil)
		f.repo.On("GetInventoryInfo", mock.Anything, productID).
			Return(&product.InventoryInfo{ProductID: productID, TrackInventory: false}, nil)

		d, err := f.svc.CheckQuantity(ctx, productID, 1000)

		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.False(t, d.Degraded)
		assert.Equal(t, 0, f.authority.Calls("available"))
	})

	t.Run("Confident reading rejects over-request", func(t *testing.T) {
		f := newFixture(t, map[string]int{"cat-1": 3})
		f.repo.On("GetInventoryInfo", mock.Anything, productID).Return(tracked(productID, "cat-1", 50), nil)

		d, err := f.svc.CheckQuantity(ctx, productID, 4)

		require.NoError(t, err)
		assert.False(t, d.Allowed)
		assert.Equal(t, 3, d.Available)
		assert.Equal(t, uint64(1), f.metrics.GuardRejected.Load())
	})

	t.Run("Confident reading allows within stock", func(t *testing.T) {
		f := newFixture(t, map[string]int{"cat-1": 3})
		f.repo.On("GetInventoryInfo", mock.Anything, productID).Return(tracked(productID, "cat-1", 0), nil)

		d, err := f.svc.CheckQuantity(ctx, productID, 3)

		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.False(t, d.Degraded)
	})

	t.Run("Authority down fails open on local snapshot", func(t *testing.T) {
		f := newFixture(t, map[string]int{"cat-1": 0})
		f.authority.FailOn("available", "cat-1", &warehouse.UnavailableError{Op: "available", Cause: errors.New("refused")})
		f.repo.On("GetInventoryInfo", mock.Anything, productID).Return(tracked(productID, "cat-1", 1), nil)

		d, err := f.svc.CheckQuantity(ctx, productID, 10)

		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.True(t, d.Degraded)
		assert.Equal(t, 1, d.Available)
		assert.Equal(t, uint64(1), f.metrics.GuardDegraded.Load())
	})

	t.Run("Legacy product uses local stock only", func(t *testing.T) {
		f := newFixture(t, nil)
		f.repo.On("GetInventoryInfo", mock.Anything, productID).
			Return(&product.InventoryInfo{ProductID: productID, TrackInventory: true, StockQuantity: 2}, nil)

		d, err := f.svc.CheckQuantity(ctx, productID, 3)

		require.NoError(t, err)
		assert.False(t, d.Allowed)
		assert.Equal(t, 2, d.Available)
		assert.Equal(t, 0, f.authority.Calls("available"))
	})

	t.Run("Product not found", func(t *testing.T) {
		f := newFixture(t, nil)
		f.repo.On("GetInventoryInfo", mock.Anything, productID).Return(nil, product.ErrProductNotFound)

		_, err := f.svc.CheckQuantity(ctx, productID, 1)

		assert.ErrorIs(t, err, ErrProductNotFound)
	})

	t.Run("Invalid quantity", func(t *testing.T) {
		f := newFixture(t, nil)

		_, err := f.svc.CheckQuantity(ctx, productID, 0)

		assert.ErrorIs(t, err, ErrInvalidQuantity)
		f.repo.AssertNotCalled(t, "GetInventoryInfo", mock.Anything, mock.Anything)
	})
}

func TestService_ReserveItems(t *testing.T) {
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()

	t.Run("All granted", func(t *testing.T) {
		f := newFixture(t, map[string]int{"A": 5, "B": 5})
		require.NoError(t, f.redis.Set("warehouse:A", `{"stockQuantity":5}`))

		res, err := f.svc.ReserveItems(ctx, "ORD-2026-000001", []Item{
			{ProductID: a, CatalogKey: "A", Quantity: 2},
			{ProductID: b, CatalogKey: "B", Quantity: 5},
		})

		require.NoError(t, err)
		assert.Len(t, res, 2)
		assert.Equal(t, 3, f.authority.Stock("A"))
		assert.Equal(t, 0, f.authority.Stock("B"))
		assert.Equal(t, "wh-test", res[0].WarehouseID)
		assert.False(t, f.redis.Exists("warehouse:A"), "reserved keys must be invalidated")
	})

	t.Run("Insufficient second item releases the first", func(t *testing.T) {
		f := newFixture(t, map[string]int{"A": 5, "B": 1})

		res, err := f.svc.ReserveItems(ctx, "ORD-2026-000002", []Item{
			{ProductID: a, CatalogKey: "A", Quantity: 1},
			{ProductID: b, CatalogKey: "B", Quantity: 2},
		})

		assert.Nil(t, res)
		assert.ErrorIs(t, err, ErrInsufficientStock)
		ins, ok := warehouse.AsInsufficientStock(err)
		require.True(t, ok)
		assert.Equal(t, 1, ins.Available)

		assert.Equal(t, 5, f.authority.Stock("A"))
		assert.Equal(t, 1, f.authority.Stock("B"))
		assert.Equal(t, 0, f.authority.Held("A", "ORD-2026-000002"))
	})

	t.Run("Timeout is unavailable and leaves authority unchanged", func(t *testing.T) {
		f := newFixture(t, map[string]int{"A": 5})
		f.authority.FailOn("reserve", "A", &warehouse.UnavailableError{Op: "reserve", Cause: context.DeadlineExceeded})

		_, err := f.svc.ReserveItems(ctx, "ORD-2026-000003", []Item{
			{ProductID: a, CatalogKey: "A", Quantity: 1},
		})

		assert.ErrorIs(t, err, ErrReservationUnavailable)
		assert.True(t, warehouse.IsUnavailable(err))
		assert.Equal(t, 5, f.authority.Stock("A"))
		assert.Equal(t, 0, f.authority.Calls("release"))
		assert.Equal(t, uint64(1), f.metrics.ReservationsUnknown.Load())
	})

	t.Run("Cancelled caller still compensates", func(t *testing.T) {
		f := newFixture(t, map[string]int{"A": 5})
		cctx, cancel := context.WithCancel(ctx)

		_, err := f.svc.ReserveItems(cctx, "ORD-2026-000004", []Item{
			{ProductID: a, CatalogKey: "A", Quantity: 2},
		})
		require.NoError(t, err)
		cancel()

		err = f.svc.ReleaseItems(cctx, []Reservation{
			{ProductID: a, CatalogKey: "A", Quantity: 2, OrderRef: "ORD-2026-000004"},
		})

		assert.NoError(t, err)
		assert.Equal(t, 5, f.authority.Stock("A"))
	})

	t.Run("Empty input", func(t *testing.T) {
		f := newFixture(t, nil)
		res, err := f.svc.ReserveItems(ctx, "ref", nil)
		assert.NoError(t, err)
		assert.Empty(t, res)
	})
}

func TestService_ReleaseItems(t *testing.T) {
	ctx := context.Background()

	t.Run("Failure is reported", func(t *testing.T) {
		f := newFixture(t, map[string]int{"A": 1})
		f.authority.FailOn("release", "A", &warehouse.UnavailableError{Op: "release", Cause: errors.New("502")})

		err := f.svc.ReleaseItems(ctx, []Reservation{{CatalogKey: "A", Quantity: 1, OrderRef: "r"}})

		assert.ErrorIs(t, err, ErrReleaseFailed)
		assert.True(t, warehouse.IsUnavailable(err))
	})

	t.Run("Partial failure names the held reservations", func(t *testing.T) {
		f := newFixture(t, map[string]int{"A": 5, "B": 5})
		require.NoError(t, f.authority.Reserve(ctx, "A", "", 2, "r"))
		require.NoError(t, f.authority.Reserve(ctx, "B", "", 1, "r"))
		f.authority.FailOn("release", "B", &warehouse.UnavailableError{Op: "release", Cause: errors.New("502")})

		err := f.svc.ReleaseItems(ctx, []Reservation{
			{CatalogKey: "A", Quantity: 2, OrderRef: "r"},
			{CatalogKey: "B", Quantity: 1, OrderRef: "r"},
		})

		require.ErrorIs(t, err, ErrReleaseFailed)
		failed := FailedReleases(err)
		require.Len(t, failed, 1)
		assert.Equal(t, "B", failed[0].CatalogKey)
		assert.Equal(t, 5, f.authority.Stock("A"))
		assert.Equal(t, 4, f.authority.Stock("B"))
		assert.Nil(t, FailedReleases(nil))
	})
}

func TestService_SetStock(t *testing.T) {
	ctx := context.Background()
	productID := uuid.New()

	t.Run("Writes through and invalidates", func(t *testing.T) {
		f := newFixture(t, map[string]int{"cat-1": 1})
		f.repo.On("GetInventoryInfo", mock.Anything, productID).Return(tracked(productID, "cat-1", 1), nil)
		f.repo.On("UpdateLocalStock", mock.Anything, productID, 40).Return(nil)

		// warm the cache with the old value
		d, err := f.svc.CheckQuantity(ctx, productID, 1)
		require.NoError(t, err)
		assert.Equal(t, 1, d.Available)

		require.NoError(t, f.svc.SetStock(ctx, productID, 40, "restock"))

		assert.Equal(t, 40, f.authority.Stock("cat-1"))
		d, err = f.svc.CheckQuantity(ctx, productID, 40)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, 40, d.Available)
		f.repo.AssertExpectations(t)
	})

	t.Run("Legacy product updates local only", func(t *testing.T) {
		f := newFixture(t, nil)
		f.repo.On("GetInventoryInfo", mock.Anything, productID).
			Return(&product.InventoryInfo{ProductID: productID, TrackInventory: true}, nil)
		f.repo.On("UpdateLocalStock", mock.Anything, productID, 7).Return(nil)

		require.NoError(t, f.svc.SetStock(ctx, productID, 7, "count"))
		assert.Equal(t, 0, f.authority.Calls("set"))
	})

	t.Run("Authority failure is returned", func(t *testing.T) {
		f := newFixture(t, map[string]int{"cat-1": 1})
		f.authority.FailOn("set", "cat-1", &warehouse.UnavailableError{Op: "set", Cause: errors.New("down")})
		f.repo.On("GetInventoryInfo", mock.Anything, productID).Return(tracked(productID, "cat-1", 1), nil)

		err := f.svc.SetStock(ctx, productID, 9, "restock")

		assert.True(t, warehouse.IsUnavailable(err))
		f.repo.AssertNotCalled(t, "UpdateLocalStock", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Negative quantity", func(t *testing.T) {
		f := newFixture(t, nil)
		assert.ErrorIs(t, f.svc.SetStock(ctx, productID, -1, ""), ErrInvalidQuantity)
	})
}
