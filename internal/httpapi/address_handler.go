package httpapi

import (
	"net/http"

	"flipflop-be/internal/address"
	"flipflop-be/internal/utils"
)

func (h *handler) listAddresses(w http.ResponseWriter, r *http.Request) {
	list, err := h.addresses.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []*address.Address{}
	}
	utils.WriteJSON(w, http.StatusOK, list)
}

func (h *handler) getAddress(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	a, err := h.addresses.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, a)
}
