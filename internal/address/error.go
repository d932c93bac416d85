package address

import "errors"

var (
	ErrAddressNotFound  = errors.New("delivery address not found")
	ErrUnauthenticated  = errors.New("unauthenticated")
	ErrFailedGetAddress  = errors.New("failed to get delivery address")
)
