package order

import "errors"

var (
	// -- Validation --
	ErrEmptyCart         = errors.New("cart is empty")
	ErrInvalidAmount     = errors.New("invalid order amount")
	ErrInvalidTransition = errors.New("invalid status transition")

	// -- Resource State --
	ErrAddressNotFound = errors.New("delivery address not found")
	ErrOrderNotFound   = errors.New("order not found")

	// -- Stock --
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrReservationUnavailable = errors.New("stock reservation unavailable, try again")

	// -- Database & Operation Failures --
	ErrPersistence          = errors.New("failed to persist order")
	ErrDuplicateOrderNumber = errors.New("order number already used")
	ErrSequence             = errors.New("failed to allocate order number")
)
