// Package warehousetest provides an in-memory warehouse authority for tests.
package warehousetest

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"flipflop-be/internal/warehouse"
)

// Authority is an in-memory stock ledger with the same semantics as the real
// one: Reserve is an atomic compare-and-decrement, and reserve/release are
// idempotent per (productKey, orderRef).
type Authority struct {
	mu       sync.Mutex
	stock    map[string]int
	held     map[string]map[string]int
	failures map[string]error
	delay    map[string]time.Duration
	calls    map[string]int
}

var _ warehouse.Authority = (*Authority)(nil)

func New(stock map[string]int) *Authority {
	a := &Authority{
		stock:    make(map[string]int, len(stock)),
		held:     map[string]map[string]int{},
		failures: map[string]error{},
		delay:    map[string]time.Duration{},
		calls:    map[string]int{},
	}
	for k, v := range stock {
		a.stock[k] = v
	}
	return a
}

// FailOn makes every call of op ("available", "set", "reserve", "release")
// for productKey return err.
func (a *Authority) FailOn(op, productKey string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failures[op+":"+productKey] = err
}

// DelayOn makes op for productKey block for d or until ctx is done.
func (a *Authority) DelayOn(op, productKey string, d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.delay[op+":"+productKey] = d
}

func (a *Authority) Stock(productKey string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stock[productKey]
}

func (a *Authority) Held(productKey, orderRef string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.held[productKey][orderRef]
}

func (a *Authority) Calls(op string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[op]
}

func (a *Authority) DefaultWarehouseID() string { return "wh-test" }

func (a *Authority) before(ctx context.Context, op, key string) error {
	a.mu.Lock()
	a.calls[op]++
	err := a.failures[op+":"+key]
	d := a.delay[op+":"+key]
	a.mu.Unlock()

	if d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return &warehouse.UnavailableError{Op: op, Cause: ctx.Err()}
		}
	}
	return err
}

func (a *Authority) Available(ctx context.Context, productKey string) (warehouse.Availability, error) {
	if err := a.before(ctx, "available", productKey); err != nil {
		return warehouse.Availability{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	qty, ok := a.stock[productKey]
	if !ok {
		return warehouse.Availability{}, warehouse.ErrNotFound
	}
	return warehouse.Availability{Available: qty, AsOf: time.Now().UTC()}, nil
}

func (a *Authority) SetAbsolute(ctx context.Context, productKey, warehouseID string, qty int, reason string) error {
	if err := a.before(ctx, "set", productKey); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stock[productKey] = qty
	return nil
}

func (a *Authority) Reserve(ctx context.Context, productKey, warehouseID string, qty int, orderRef string) error {
	if err := a.before(ctx, "reserve", productKey); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, dup := a.held[productKey][orderRef]; dup {
		return nil
	}
	available := a.stock[productKey]
	if qty > available {
		return &warehouse.InsufficientStockError{ProductKey: productKey, Requested: qty, Available: available}
	}
	a.stock[productKey] = available - qty
	if a.held[productKey] == nil {
		a.held[productKey] = map[string]int{}
	}
	a.held[productKey][orderRef] = qty
	return nil
}

func (a *Authority) Release(ctx context.Context, productKey, warehouseID string, qty int, orderRef string) error {
	if err := a.before(ctx, "release", productKey); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	held, ok := a.held[productKey][orderRef]
	if !ok {
		return nil
	}
	a.stock[productKey] += held
	delete(a.held[productKey], orderRef)
	return nil
}

type stockRequest struct {
	ProductID   string `json:"productId"`
	WarehouseID string `json:"warehouseId"`
	Quantity    int    `json:"quantity"`
	OrderRef    string `json:"orderRef"`
	Reason      string `json:"reason"`
}

// ServeHTTP exposes the ledger over the authority's HTTP/JSON protocol.
func (a *Authority) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/available") {
		key := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/stock/"), "/available")
		avail, err := a.Available(r.Context(), key)
		if err != nil {
			writeErr(w, err)
			return
		}
		json.NewEncoder(w).Encode(avail)
		return
	}

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req stockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var err error
	switch r.URL.Path {
	case "/stock/set":
		err = a.SetAbsolute(r.Context(), req.ProductID, req.WarehouseID, req.Quantity, req.Reason)
	case "/stock/reserve":
		err = a.Reserve(r.Context(), req.ProductID, req.WarehouseID, req.Quantity, req.OrderRef)
	case "/stock/release":
		err = a.Release(r.Context(), req.ProductID, req.WarehouseID, req.Quantity, req.OrderRef)
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		writeErr(w, err)
		return
	}
	json.NewEncoder(w).Encode(map[string]bool{"ok": true})
}

func writeErr(w http.ResponseWriter, err error) {
	if ins, ok := warehouse.AsInsufficientStock(err); ok {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]any{"error": "INSUFFICIENT_STOCK", "available": ins.Available})
		return
	}
	if err == warehouse.ErrNotFound {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
}
