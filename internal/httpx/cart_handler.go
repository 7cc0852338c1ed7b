package httpx

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-pickup-orders/internal/orders"
)

const headerSession = "X-Session-Id"

func sessionID(r *http.Request) (string, error) {
	id := strings.TrimSpace(r.Header.Get(headerSession))
	if id == "" {
		return "", orders.Invalid(headerSession, "header required")
	}
	return id, nil
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	sid, err := sessionID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	c, err := h.Carts.Load(r.Context(), sid)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	snap, err := c.Snapshot(r.Context(), h.Ledger)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) addCartItem(w http.ResponseWriter, r *http.Request) {
	sid, err := sessionID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req orders.Line
	if !decode(r, &req) {
		badJSON(w)
		return
	}
	c, err := h.Carts.Load(r.Context(), sid)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := c.Add(req.ProductID, req.Qty); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.Carts.Save(r.Context(), sid, c); err != nil {
		h.writeError(w, r, err)
		return
	}
	snap, err := c.Snapshot(r.Context(), h.Ledger)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) removeCartItem(w http.ResponseWriter, r *http.Request) {
	sid, err := sessionID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	c, err := h.Carts.Load(r.Context(), sid)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	c.Remove(chi.URLParam(r, "id"))
	if err := h.Carts.Save(r.Context(), sid, c); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
