package httpx

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-pickup-orders/internal/orders"
)

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Ledger.List(ctx)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductViews(ps))
}

func (h *Handler) lowStock(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Ledger.LowStock(ctx)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductViews(ps))
}

func (h *Handler) available(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	n, err := h.Ledger.GetAvailable(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product_id": id, "available": n})
}

type upsertProductReq struct {
	Name          string `json:"name"`
	PriceCents    int64  `json:"price_cents"`
	StockQuantity int    `json:"stock_quantity"`
	MinimumStock  int    `json:"minimum_stock"`
	Active        *bool  `json:"active"`
}

func (h *Handler) upsertProduct(w http.ResponseWriter, r *http.Request) {
	var req upsertProductReq
	if !decode(r, &req) {
		badJSON(w)
		return
	}
	p := orders.Product{
		ID:            chi.URLParam(r, "id"),
		Name:          req.Name,
		PriceCents:    req.PriceCents,
		StockQuantity: req.StockQuantity,
		MinimumStock:  req.MinimumStock,
		Active:        req.Active == nil || *req.Active,
	}
	if err := h.Ledger.UpsertProduct(r.Context(), p); err != nil {
		h.writeError(w, r, err)
		return
	}
	got, err := h.Ledger.Products(r.Context(), []string{p.ID})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductView(got[p.ID]))
}

type restockReq struct {
	Delta int `json:"delta"`
}

func (h *Handler) restock(w http.ResponseWriter, r *http.Request) {
	var req restockReq
	if !decode(r, &req) {
		badJSON(w)
		return
	}
	if req.Delta == 0 {
		h.writeError(w, r, orders.Invalid("delta", "must not be zero"))
		return
	}
	p, err := h.Ledger.Restock(r.Context(), chi.URLParam(r, "id"), req.Delta)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductView(p))
}

func (h *Handler) listSlots(w http.ResponseWriter, r *http.Request) {
	days := h.HorizonDays
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			h.writeError(w, r, orders.Invalid("days", "must be a positive integer"))
			return
		}
		days = n
	}
	slots, err := h.Scheduler.ListAvailable(r.Context(), days)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]slotView, 0, len(slots))
	for _, s := range slots {
		out = append(out, slotView{
			ID:            s.ID,
			SlotTime:      s.SlotTime,
			MaxOrders:     s.MaxOrders,
			CurrentOrders: s.CurrentOrders,
			Available:     s.Available(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}
