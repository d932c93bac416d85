package stockcache

import "time"

const (
	AvailabilityInStock    = "in_stock"
	AvailabilityOutOfStock = "out_of_stock"
)

// Entry is the cached availability of one product, stored as JSON under
// warehouse:<productKey>.
type Entry struct {
	ProductKey                   string    `json:"-"`
	StockQuantity                int       `json:"stockQuantity"`
	TrackInventory               bool      `json:"trackInventory"`
	Availability                 string    `json:"availability"`
	MinimumRequiredStockQuantity *int      `json:"minimumRequiredStockQuantity,omitempty"`
	UpdatedAt                    time.Time `json:"updatedAt"`
}

type State int

const (
	// Unknown means the authority could not be asked; the quantity is meaningless.
	Unknown State = iota
	// Fresh is a cache hit within the TTL.
	Fresh
	// Refilled was fetched from the authority during this lookup.
	Refilled
)

func (s State) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case Refilled:
		return "refilled"
	default:
		return "unknown"
	}
}

// Reading is the outcome of a lookup for one key.
type Reading struct {
	Entry Entry
	State State
	Err   error
}

// Confident reports whether the reading reflects authority data.
func (r Reading) Confident() bool {
	return r.State == Fresh || r.State == Refilled
}
