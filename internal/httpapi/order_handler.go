package httpapi

import (
	"encoding/json"
	"net/http"

	"flipflop-be/internal/order"
	"flipflop-be/internal/utils"

	"github.com/google/uuid"
)

// createOrderRequest carries no amounts: shipping comes from configuration
// and customers cannot apply discounts.
type createOrderRequest struct {
	DeliveryAddressID uuid.UUID `json:"deliveryAddressId"`
	PaymentMethod     string    `json:"paymentMethod"`
	Notes             *string   `json:"notes,omitempty"`
}

type updateStatusRequest struct {
	Status order.Status `json:"status"`
	Note   string       `json:"note"`
}

func (h *handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSONError(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.DeliveryAddressID == uuid.Nil {
		utils.WriteJSONError(w, "deliveryAddressId is required", http.StatusBadRequest)
		return
	}

	o, err := h.orders.CreateOrder(r.Context(), order.CreateOrderInput{
		UserID:            userID(r),
		DeliveryAddressID: req.DeliveryAddressID,
		PaymentMethod:     req.PaymentMethod,
		Notes:             req.Notes,
		ShippingCost:      h.shippingCost,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, o)
}

func (h *handler) listOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListOrders(r.Context(), userID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if orders == nil {
		orders = []*order.Order{}
	}
	utils.WriteJSON(w, http.StatusOK, orders)
}

func (h *handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	o, err := h.orders.GetOrder(r.Context(), id, userID(r), utils.IsAdmin(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, o)
}

func (h *handler) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Status == "" {
		utils.WriteJSONError(w, "status is required", http.StatusBadRequest)
		return
	}

	actor := userID(r)
	o, err := h.orders.UpdateStatus(r.Context(), id, req.Status, req.Note, &actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, o)
}
