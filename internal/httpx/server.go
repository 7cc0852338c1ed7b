package httpx

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/ariefcatur/go-pickup-orders/internal/cart"
	"github.com/ariefcatur/go-pickup-orders/internal/customer"
	"github.com/ariefcatur/go-pickup-orders/internal/inventory"
	"github.com/ariefcatur/go-pickup-orders/internal/pickup"
	"github.com/ariefcatur/go-pickup-orders/internal/reservation"
)

// Handler serves the storefront API.
type Handler struct {
	Engine      *reservation.Engine
	Ledger      *inventory.Ledger
	Scheduler   *pickup.Scheduler
	Customers   *customer.Directory
	Carts       cart.Sessions
	Redis       *redis.Client // optional: idempotency + status cache
	HorizonDays int
	Log         logrus.FieldLogger
}

func NewRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/products", h.listProducts)
	r.Get("/products/low-stock", h.lowStock)
	r.Get("/products/{id}/available", h.available)
	r.Put("/products/{id}", h.upsertProduct)
	r.Post("/products/{id}/restock", h.restock)

	r.Get("/pickup-slots", h.listSlots)

	r.Get("/cart", h.getCart)
	r.Post("/cart/items", h.addCartItem)
	r.Delete("/cart/items/{id}", h.removeCartItem)

	r.Post("/customers", h.createCustomer)
	r.Get("/customers/{id}/orders", h.customerOrders)

	r.Post("/checkout", h.checkout)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/status", h.orderStatus)
	r.Post("/orders/{id}/cancel", h.cancelOrder)
	r.Post("/orders/{id}/fulfill", h.fulfillOrder)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v) == nil
}

func badJSON(w http.ResponseWriter) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json", Code: "validation"})
}

func (h *Handler) log() logrus.FieldLogger {
	if h.Log == nil {
		return logrus.StandardLogger()
	}
	return h.Log
}
