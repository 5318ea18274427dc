package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"merchanza/internal/storage"
)

type cartRequest struct {
	ItemID json.Number `json:"itemId"`
}

func (req cartRequest) slot() (int, error) {
	if req.ItemID == "" {
		return 0, fmt.Errorf("itemId is required")
	}
	slot, err := req.ItemID.Int64()
	if err != nil {
		return 0, fmt.Errorf("itemId must be an integer")
	}
	return int(slot), nil
}

// AddToCart increments one cart slot for the authenticated shopper and
// answers with the bare confirmation string the legacy clients expect.
func (h *Handler) AddToCart(w http.ResponseWriter, r *http.Request) {
	h.mutateCart(w, r, "add")
}

// RemoveFromCart decrements one cart slot, clamping at zero.
func (h *Handler) RemoveFromCart(w http.ResponseWriter, r *http.Request) {
	h.mutateCart(w, r, "remove")
}

func (h *Handler) mutateCart(w http.ResponseWriter, r *http.Request, action string) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeFailure(w, http.StatusMethodNotAllowed, fmt.Sprintf("method %s not allowed", r.Method))
		return
	}
	user, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}
	var req cartRequest
	if err := decodeJSONAllowUnknown(r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid request body")
		return
	}
	slot, err := req.slot()
	if err != nil {
		writeFailure(w, http.StatusBadRequest, err.Error())
		return
	}

	var confirmation string
	switch action {
	case "add":
		_, err = h.Store.AddToCart(user.ID, slot)
		confirmation = "Added"
	default:
		_, err = h.Store.RemoveFromCart(user.ID, slot)
		confirmation = "Removed"
	}
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrInvalidCartSlot):
			writeFailure(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, storage.ErrUserNotFound):
			writeFailure(w, http.StatusNotFound, err.Error())
		default:
			h.logger().Error("cart update failed", "error", err, "user_id", user.ID, "slot", slot)
			writeFailure(w, http.StatusInternalServerError, "failed to update cart")
		}
		return
	}
	h.observeCartEvent(action)
	writeText(w, http.StatusOK, confirmation)
}

// GetCart returns the shopper's full 300-slot cart vector as a JSON array.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeFailure(w, http.StatusMethodNotAllowed, fmt.Sprintf("method %s not allowed", r.Method))
		return
	}
	user, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}
	cart, err := h.Store.GetCart(user.ID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			writeFailure(w, http.StatusNotFound, err.Error())
			return
		}
		h.logger().Error("cart fetch failed", "error", err, "user_id", user.ID)
		writeFailure(w, http.StatusInternalServerError, "failed to fetch cart")
		return
	}
	writeJSON(w, http.StatusOK, cart)
}
