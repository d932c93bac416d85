package httpapi

import (
	"errors"
	"net/http"

	"flipflop-be/internal/address"
	"flipflop-be/internal/cart"
	"flipflop-be/internal/inventory"
	"flipflop-be/internal/logger"
	"flipflop-be/internal/order"
	"flipflop-be/internal/utils"
	"flipflop-be/internal/warehouse"

	"go.uber.org/zap"
)

type stockErrorBody struct {
	Error      string `json:"error"`
	ProductKey string `json:"productKey,omitempty"`
	Requested  int    `json:"requested"`
	Available  int    `json:"available"`
}

var (
	notFoundErrors = []error{
		order.ErrAddressNotFound,
		order.ErrOrderNotFound,
		address.ErrAddressNotFound,
		cart.ErrCartItemNotFound,
		cart.ErrProductNotFound,
		inventory.ErrProductNotFound,
		warehouse.ErrNotFound,
	}
	validationErrors = []error{
		order.ErrEmptyCart,
		order.ErrInvalidAmount,
		order.ErrInvalidTransition,
		cart.ErrInvalidQuantity,
		inventory.ErrInvalidQuantity,
		warehouse.ErrRejected,
	}
	unauthenticatedErrors = []error{
		cart.ErrUserNotAuthenticated,
		address.ErrUnauthenticated,
	}
)

// writeError maps a service error onto its HTTP status. Anything unrecognised
// is a 500 with a generic message; the cause is only logged.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.FromCtx(r.Context()).With(zap.String("path", r.URL.Path))

	var cartStock *cart.InsufficientStockError
	if errors.As(err, &cartStock) {
		utils.WriteJSON(w, http.StatusConflict, stockErrorBody{
			Error:     "insufficient stock",
			Requested: cartStock.Requested,
			Available: cartStock.Available,
		})
		return
	}
	if ins, ok := warehouse.AsInsufficientStock(err); ok {
		utils.WriteJSON(w, http.StatusConflict, stockErrorBody{
			Error:      "insufficient stock",
			ProductKey: ins.ProductKey,
			Requested:  ins.Requested,
			Available:  ins.Available,
		})
		return
	}

	switch {
	case isAny(err, unauthenticatedErrors):
		utils.WriteJSONError(w, "unauthorized", http.StatusUnauthorized)
	case isAny(err, notFoundErrors):
		utils.WriteJSONError(w, rootMessage(err, notFoundErrors), http.StatusNotFound)
	case errors.Is(err, order.ErrInsufficientStock), errors.Is(err, inventory.ErrInsufficientStock):
		utils.WriteJSONError(w, "insufficient stock", http.StatusConflict)
	case errors.Is(err, order.ErrReservationUnavailable),
		errors.Is(err, inventory.ErrReservationUnavailable),
		warehouse.IsUnavailable(err):
		log.Warn("stock authority unavailable", zap.Error(err))
		utils.WriteJSONError(w, "stock service unavailable, try again", http.StatusServiceUnavailable)
	case isAny(err, validationErrors):
		utils.WriteJSONError(w, err.Error(), http.StatusBadRequest)
	default:
		log.Error("request failed", zap.Error(err))
		utils.WriteJSONError(w, "internal server error", http.StatusInternalServerError)
	}
}

func isAny(err error, targets []error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

// rootMessage returns the sentinel's text so wrapped causes are not leaked.
func rootMessage(err error, targets []error) string {
	for _, t := range targets {
		if errors.Is(err, t) {
			return t.Error()
		}
	}
	return err.Error()
}
