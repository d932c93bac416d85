package httpapi

import (
	"encoding/json"
	"net/http"

	"flipflop-be/internal/cart"
	"flipflop-be/internal/utils"

	"github.com/google/uuid"
)

type addCartItemRequest struct {
	ProductID uuid.UUID  `json:"productId"`
	VariantID *uuid.UUID `json:"variantId,omitempty"`
	Quantity  int        `json:"quantity"`
}

type updateCartItemRequest struct {
	Quantity int `json:"quantity"`
}

func (h *handler) getCart(w http.ResponseWriter, r *http.Request) {
	c, err := h.carts.GetCart(r.Context(), userID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, c)
}

func (h *handler) addCartItem(w http.ResponseWriter, r *http.Request) {
	var req addCartItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSONError(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.ProductID == uuid.Nil {
		utils.WriteJSONError(w, "productId is required", http.StatusBadRequest)
		return
	}

	line, err := h.carts.AddItem(r.Context(), cart.AddItemParams{
		UserID:    userID(r),
		ProductID: req.ProductID,
		VariantID: req.VariantID,
		Quantity:  req.Quantity,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, line)
}

func (h *handler) updateCartItem(w http.ResponseWriter, r *http.Request) {
	lineID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req updateCartItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSONError(w, "invalid json", http.StatusBadRequest)
		return
	}

	line, err := h.carts.UpdateItem(r.Context(), userID(r), lineID, req.Quantity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, line)
}

func (h *handler) removeCartItem(w http.ResponseWriter, r *http.Request) {
	lineID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if err := h.carts.RemoveItem(r.Context(), userID(r), lineID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) clearCart(w http.ResponseWriter, r *http.Request) {
	if err := h.carts.Clear(r.Context(), userID(r)); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
