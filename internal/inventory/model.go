package inventory

import "github.com/google/uuid"

// Decision is the cart guard's verdict for one requested quantity.
// Degraded is set when the authority could not be consulted and the verdict
// was made on the local snapshot.
type Decision struct {
	Allowed   bool
	Available int
	Degraded  bool
}

// Item is one product quantity to hold at the authority.
type Item struct {
	ProductID  uuid.UUID
	CatalogKey string
	Quantity   int
}

// Reservation is a quantity the authority confirmed it holds for OrderRef.
type Reservation struct {
	ProductID   uuid.UUID `json:"productId"`
	CatalogKey  string    `json:"catalogKey"`
	WarehouseID string    `json:"warehouseId"`
	Quantity    int       `json:"quantity"`
	OrderRef    string    `json:"orderRef"`
}
