package warehouse

import (
	"context"
	"time"
)

// Availability is the authority's current sellable quantity for one product.
type Availability struct {
	Available int       `json:"available"`
	AsOf      time.Time `json:"asOf"`
}

// Authority is the stock ledger that owns the truth for every tracked product.
// Reserve is an atomic compare-and-decrement on the authority side.
type Authority interface {
	Available(ctx context.Context, productKey string) (Availability, error)
	SetAbsolute(ctx context.Context, productKey, warehouseID string, qty int, reason string) error
	Reserve(ctx context.Context, productKey, warehouseID string, qty int, orderRef string) error
	Release(ctx context.Context, productKey, warehouseID string, qty int, orderRef string) error
	DefaultWarehouseID() string
}

type stockRequest struct {
	ProductID   string `json:"productId"`
	WarehouseID string `json:"warehouseId,omitempty"`
	Quantity    int    `json:"quantity"`
	OrderRef    string `json:"orderRef,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// writeResponse is the body of every write reply. A write is applied only
// when OK is true.
type writeResponse struct {
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
	Available int    `json:"available"`
}

const codeInsufficientStock = "INSUFFICIENT_STOCK"
