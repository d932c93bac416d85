package httpapi

import (
	"encoding/json"
	"net/http"

	"flipflop-be/internal/utils"
)

type setStockRequest struct {
	Quantity *int   `json:"quantity"`
	Reason   string `json:"reason"`
}

func (h *handler) setStock(w http.ResponseWriter, r *http.Request) {
	productID, ok := pathUUID(w, r, "productId")
	if !ok {
		return
	}

	var req setStockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Quantity == nil {
		utils.WriteJSONError(w, "quantity is required", http.StatusBadRequest)
		return
	}
	if req.Reason == "" {
		req.Reason = "manual adjustment"
	}

	if err := h.stock.SetStock(r.Context(), productID, *req.Quantity, req.Reason); err != nil {
		writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]any{
		"productId": productID,
		"quantity":  *req.Quantity,
	})
}
