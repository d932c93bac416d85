package warehouse

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("warehouse: product not found")
	ErrRejected = errors.New("warehouse: request rejected")
)

// InsufficientStockError is the authority's explicit refusal of a reservation.
// The outcome is definitive: nothing was reserved.
type InsufficientStockError struct {
	ProductKey string
	Requested  int
	Available  int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("warehouse: insufficient stock for %s: requested %d, available %d",
		e.ProductKey, e.Requested, e.Available)
}

// UnavailableError means the authority could not be reached or answered with
// something unusable. For writes the outcome is unknown.
type UnavailableError struct {
	Op    string
	Cause error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("warehouse: %s unavailable: %v", e.Op, e.Cause)
}

func (e *UnavailableError) Unwrap() error {
	return e.Cause
}

// IsUnavailable reports whether err carries an unknown-outcome result.
func IsUnavailable(err error) bool {
	var u *UnavailableError
	return errors.As(err, &u)
}

// AsInsufficientStock extracts the authority rejection from err.
func AsInsufficientStock(err error) (*InsufficientStockError, bool) {
	var e *InsufficientStockError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
