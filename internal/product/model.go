package product

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InventoryInfo is the locally stored view of a product that the stock guard
// and checkout need: pricing, whether stock is tracked, the key the warehouse
// authority knows it by, and the last known local stock level.
type InventoryInfo struct {
	ProductID      uuid.UUID
	Name           string
	SKU            string
	Price          decimal.Decimal
	CatalogKey     *string
	TrackInventory bool
	StockQuantity  int
}

// Reservable reports whether stock for this product is held at the authority.
func (p *InventoryInfo) Reservable() bool {
	return p.TrackInventory && p.CatalogKey != nil && *p.CatalogKey != ""
}

type Variant struct {
	ID        uuid.UUID
	ProductID uuid.UUID
	Name      string
	SKU       string
	Price     decimal.Decimal
}
