package product

import "errors"

var (
	ErrProductNotFound = errors.New("product not found")
	ErrVariantNotFound = errors.New("product variant not found")

	ErrFailedGetProduct  = errors.New("failed to get product")
	ErrFailedUpdateStock = errors.New("failed to update local stock")
)
