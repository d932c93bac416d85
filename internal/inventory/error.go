package inventory

import (
	"errors"
	"fmt"
)

var (
	ErrProductNotFound        = errors.New("product not found")
	ErrInvalidQuantity        = errors.New("invalid stock quantity")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrReservationUnavailable = errors.New("stock reservation unavailable")
	ErrReleaseFailed          = errors.New("stock release failed")
)

// ReleaseError lists the reservations the authority did not confirm as
// released. It matches ErrReleaseFailed and unwraps to the per-item causes.
type ReleaseError struct {
	Failed []Reservation
	Err    error
}

func (e *ReleaseError) Error() string {
	return fmt.Sprintf("%v: %v", ErrReleaseFailed, e.Err)
}

func (e *ReleaseError) Is(target error) bool {
	return target == ErrReleaseFailed
}

func (e *ReleaseError) Unwrap() error {
	return e.Err
}

// FailedReleases returns the reservations err reports as still held.
func FailedReleases(err error) []Reservation {
	var re *ReleaseError
	if errors.As(err, &re) {
		return re.Failed
	}
	return nil
}
