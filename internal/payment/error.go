package payment

import "errors"

var (
	ErrInvalidSignature = errors.New("invalid callback token")
	ErrInvalidEvent     = errors.New("invalid payment event")
)
