package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"flipflop-be/internal/address"
	"flipflop-be/internal/cart"
	"flipflop-be/internal/config"
	"flipflop-be/internal/db"
	"flipflop-be/internal/httpapi"
	"flipflop-be/internal/inventory"
	"flipflop-be/internal/logger"
	"flipflop-be/internal/metrics"
	"flipflop-be/internal/middleware"
	"flipflop-be/internal/notification"
	"flipflop-be/internal/order"
	"flipflop-be/internal/payment"
	"flipflop-be/internal/payment/webhook"
	"flipflop-be/internal/product"
	"flipflop-be/internal/redisx"
	"flipflop-be/internal/stockcache"
	"flipflop-be/internal/warehouse"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

const (
	shutdownTimeout   = 10 * time.Second
	notificationQueue = 1024
)

var (
	initDBFunc      = db.NewDatabase
	startServerFunc = func(srv *http.Server) error { return srv.ListenAndServe() }
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logger.L().Error("server exited", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

// deps are the process-wide clients newServer wires the services onto.
type deps struct {
	db        *sql.DB
	redis     *redis.Client
	authority warehouse.Authority
	notifier  notification.Dispatcher
	limiter   *middleware.RateLimiter
	metrics   *metrics.Registry
}

func run(ctx context.Context) error {
	cfg := config.LoadConfig()
	logger.Init(cfg.AppEnv)
	defer logger.Sync()
	log := logger.L()

	database, err := initDBFunc(cfg)
	if err != nil {
		return err
	}
	defer database.Close()
	log.Info("database connection established")

	rdb := redisx.New(cfg)
	defer rdb.Close()
	if err := redisx.Ping(ctx, rdb); err != nil {
		// The stock cache falls back to the authority on every read.
		log.Warn("redis unavailable at startup", zap.Error(err))
	}

	producerCtx, cancelProducer := context.WithCancel(context.Background())
	producer := notification.NewProducer(cfg.KafkaBrokers, cfg.NotificationTopic, notificationQueue)
	producer.Start(producerCtx)
	defer func() {
		producer.Close()
		cancelProducer()
		producer.WaitClosed()
	}()

	reg := metrics.NewRegistry()
	otel.SetMeterProvider(reg.Provider())
	defer func() {
		if err := reg.Shutdown(context.Background()); err != nil {
			log.Warn("meter provider shutdown failed", zap.Error(err))
		}
	}()

	handler, err := newServer(cfg, deps{
		db:    database,
		redis: rdb,
		authority: warehouse.NewClient(warehouse.Options{
			BaseURL:            cfg.WarehouseURL,
			DefaultWarehouseID: cfg.WarehouseDefaultID,
			ReadTimeout:        cfg.WarehouseReadTimeout,
			WriteTimeout:       cfg.WarehouseWriteTimeout,
		}),
		notifier: producer,
		limiter:  middleware.NewRateLimiter(ctx),
		metrics:  reg,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.String("addr", srv.Addr))
		errCh <- startServerFunc(srv)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
	return nil
}

// newServer builds the service graph and returns the HTTP handler.
func newServer(cfg *config.Config, d deps) (http.Handler, error) {
	if d.metrics == nil {
		d.metrics = metrics.NewRegistry()
	}

	products := product.NewRepository(d.db)
	cache := stockcache.New(d.redis, d.authority, stockcache.Options{
		TTL:     cfg.StockCacheTTL,
		Metrics: d.metrics,
	})
	inv := inventory.NewService(products, cache, d.authority, inventory.Options{
		Concurrency: cfg.ReservationConcurrency,
		Metrics:     d.metrics,
	})

	cartRepo := cart.NewRepository(d.db)
	cartSvc := cart.NewService(cartRepo, products, inv)

	addressRepo := address.NewRepository(d.db)
	addressSvc := address.NewService(addressRepo)

	if cfg.ShippingCost < 0 {
		return nil, fmt.Errorf("SHIPPING_COST must not be negative, got %v", cfg.ShippingCost)
	}

	orderSvc := order.NewService(
		order.NewRepository(d.db),
		cartRepo,
		addressRepo,
		inv,
		d.notifier,
		order.Options{
			VATRate: decimal.NewFromFloat(cfg.VATRate),
			Metrics: d.metrics,
		},
	)

	callbacks := webhook.NewWebhookHandler(orderSvc, payment.NewRepository(d.db), cfg.PaymentCallbackToken)

	return httpapi.NewRouter(httpapi.Deps{
		Carts:     cartSvc,
		Orders:    orderSvc,
		Addresses: addressSvc,
		Stock:     inv,
		Metrics:   d.metrics,

		ShippingCost: decimal.NewFromFloat(cfg.ShippingCost),

		Webhook: callbacks.PaymentWebhookHandler,
		Health: func(ctx context.Context) error {
			return d.db.PingContext(ctx)
		},
		JWTSecret:   []byte(cfg.JWTSecret),
		RateLimiter: d.limiter,
	}), nil
}
