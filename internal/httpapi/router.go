package httpapi

import (
	"context"
	"net/http"
	"time"

	"flipflop-be/internal/address"
	"flipflop-be/internal/cart"
	"flipflop-be/internal/logger"
	"flipflop-be/internal/metrics"
	"flipflop-be/internal/middleware"
	"flipflop-be/internal/order"
	"flipflop-be/internal/utils"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const requestTimeout = 30 * time.Second

// StockSetter is the admin stock write path.
type StockSetter interface {
	SetStock(ctx context.Context, productID uuid.UUID, qty int, reason string) error
}

type Deps struct {
	Carts     cart.Service
	Orders    order.Service
	Addresses address.Service
	Stock     StockSetter
	Metrics   *metrics.Registry

	// ShippingCost is charged on every order placed through POST /orders.
	ShippingCost decimal.Decimal

	// Webhook serves POST /webhook/payment.
	Webhook http.HandlerFunc
	// Health reports readiness of backing stores; nil means always healthy.
	Health func(ctx context.Context) error

	JWTSecret   []byte
	RateLimiter *middleware.RateLimiter
}

type handler struct {
	carts     cart.Service
	orders    order.Service
	addresses address.Service
	stock     StockSetter
	metrics   *metrics.Registry
	health    func(ctx context.Context) error

	shippingCost decimal.Decimal
}

func NewRouter(d Deps) *chi.Mux {
	h := &handler{
		carts:     d.Carts,
		orders:    d.Orders,
		addresses: d.Addresses,
		stock:     d.Stock,
		metrics:   d.Metrics,
		health:    d.Health,

		shippingCost: d.ShippingCost,
	}
	if h.metrics == nil {
		h.metrics = metrics.NewRegistry()
	}

	r := chi.NewRouter()
	r.Use(logger.RequestIDMiddleware, chimw.RealIP, logger.LoggingMiddleware, middleware.Recover)
	r.Use(chimw.Timeout(requestTimeout))

	r.Get("/healthz", h.healthz)
	r.Get("/metrics", h.metricsSnapshot)
	if d.Webhook != nil {
		r.Group(func(r chi.Router) {
			if d.RateLimiter != nil {
				r.Use(d.RateLimiter.Middleware)
			}
			r.Post("/webhook/payment", d.Webhook)
		})
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(d.JWTSecret), middleware.RequireUser)
		if d.RateLimiter != nil {
			r.Use(d.RateLimiter.Middleware)
		}

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", h.getCart)
			r.Delete("/", h.clearCart)
			r.Post("/items", h.addCartItem)
			r.Patch("/items/{id}", h.updateCartItem)
			r.Delete("/items/{id}", h.removeCartItem)
		})

		r.Route("/addresses", func(r chi.Router) {
			r.Get("/", h.listAddresses)
			r.Get("/{id}", h.getAddress)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", h.createOrder)
			r.Get("/", h.listOrders)
			r.Get("/{id}", h.getOrder)
			r.With(middleware.RequireAdmin).Patch("/{id}/status", h.updateOrderStatus)
		})

		r.With(middleware.RequireAdmin).Put("/inventory/{productId}", h.setStock)
	})

	return r
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			logger.FromCtx(r.Context()).Warn("health check failed", zap.Error(err))
			utils.WriteJSONError(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *handler) metricsSnapshot(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSON(w, http.StatusOK, h.metrics.Snapshot())
}

func userID(r *http.Request) uint {
	id, _ := utils.GetUserIDFromContext(r.Context())
	return id
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		utils.WriteJSONError(w, "invalid "+name, http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}
