package api

import (
	"errors"
	"net/http"

	"pharmatrack/m/internal/ledger"
	"pharmatrack/m/internal/order"
)

type placeOrderRequest struct {
	CustomerID int64             `json:"customer_id"`
	Lines      []order.LineInput `json:"lines"`
}

func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	ord, err := h.orders.Place(r.Context(), req.CustomerID, req.Lines)
	if err != nil {
		h.respondOrderError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, ord)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id")
		return
	}
	ord, err := h.orders.Get(r.Context(), id)
	if err != nil {
		h.respondOrderError(w, err)
		return
	}
	lines, err := h.orders.Lines(r.Context(), id)
	if err != nil {
		h.respondOrderError(w, err)
		return
	}
	payments, err := h.orders.Payments(r.Context(), id)
	if err != nil {
		h.respondOrderError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"order": ord, "lines": lines, "payments": payments})
}

func (h *Handler) confirmOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id")
		return
	}
	res, err := h.orders.Confirm(r.Context(), id, actor(r))
	if err != nil {
		h.respondOrderError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (h *Handler) shipOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id")
		return
	}
	if err := h.orders.Ship(r.Context(), id); err != nil {
		h.respondOrderError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "shipped"})
}

func (h *Handler) deliverOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id")
		return
	}
	if err := h.orders.Deliver(r.Context(), id); err != nil {
		h.respondOrderError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "delivered"})
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id")
		return
	}
	res, err := h.orders.Cancel(r.Context(), id, actor(r))
	if err != nil {
		h.respondOrderError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (h *Handler) respondOrderError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, order.ErrOrderNotFound),
		errors.Is(err, ledger.ErrRecordNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, order.ErrEmptyOrder),
		errors.Is(err, order.ErrInsufficientStock),
		errors.Is(err, ledger.ErrInvalidQuantity):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, order.ErrInvalidTransition),
		errors.Is(err, order.ErrDuplicateRequest):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, order.ErrPaymentDeclined):
		respondError(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, ledger.ErrContentionExceeded):
		respondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.log.Error().Err(err).Msg("order operation failed")
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}
