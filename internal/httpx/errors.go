package httpx

import (
	"net/http"

	"github.com/pkg/errors"

	"github.com/ariefcatur/go-pickup-orders/internal/orders"
)

type errorBody struct {
	Error  string `json:"error"`
	Code   string `json:"code"`
	Detail any    `json:"detail,omitempty"`
}

// writeError maps domain errors onto status codes. Anything unclassified is
// a 500 and its message is not echoed back.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		stock *orders.InsufficientStockError
		slot  *orders.SlotUnavailableError
	)
	switch {
	case errors.As(err, &stock):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error(), Code: "insufficient_stock", Detail: stock})
	case errors.As(err, &slot):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error(), Code: "slot_unavailable", Detail: slot})
	case errors.Is(err, orders.ErrValidation):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Code: "validation"})
	case errors.Is(err, orders.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error(), Code: "not_found"})
	case errors.Is(err, orders.ErrInvalidState):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error(), Code: "invalid_state"})
	case errors.Is(err, orders.ErrConcurrencyConflict):
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "busy, retry", Code: "conflict"})
	default:
		h.log().WithError(err).WithField("path", r.URL.Path).Error("request failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error", Code: "internal"})
	}
}
