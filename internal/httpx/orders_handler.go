package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-pickup-orders/internal/orders"
	"github.com/ariefcatur/go-pickup-orders/internal/redisx"
	"github.com/ariefcatur/go-pickup-orders/internal/reservation"
)

const headerIdempotency = "Idempotency-Key"

type checkoutReq struct {
	CustomerID   string        `json:"customer_id"`
	Items        []orders.Line `json:"items"`
	PickupSlotID string        `json:"pickup_slot_id"`
	SlotOptional bool          `json:"slot_optional"`
	Notes        string        `json:"notes"`
}

type checkoutResp struct {
	orderView
	Idempotent bool `json:"idempotent"`
}

// checkout places an order from the request items, or from the session cart
// when no items are given. The cart is cleared only after the order exists.
func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutReq
	if !decode(r, &req) {
		badJSON(w)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	sid := strings.TrimSpace(r.Header.Get(headerSession))
	lines := req.Items
	fromCart := false
	if len(lines) == 0 && sid != "" {
		c, err := h.Carts.Load(ctx, sid)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		lines, fromCart = c.Lines(), true
	}

	// Idempotency via Redis (optional, store tetap jadi kebenaran)
	idem := strings.TrimSpace(r.Header.Get(headerIdempotency))
	idemKey := fmt.Sprintf(redisx.KeyIdemCheckout, idem)
	claimed := false
	if idem != "" && h.Redis != nil {
		won, err := redisx.Claim(ctx, h.Redis, idemKey, redisx.TTLIdempotency)
		switch {
		case err != nil:
			h.log().WithError(err).Warn("idempotency claim failed, checking out without it")
		case !won:
			h.replayCheckout(ctx, w, r, idemKey)
			return
		default:
			claimed = true
		}
	}

	o, err := h.Engine.Checkout(ctx, reservation.CheckoutRequest{
		CustomerID:   req.CustomerID,
		Lines:        lines,
		PickupSlotID: req.PickupSlotID,
		SlotOptional: req.SlotOptional,
		Notes:        req.Notes,
	})
	if err != nil {
		if claimed {
			// failed checkouts place nothing; the client may retry with the same key
			if rerr := redisx.Release(context.WithoutCancel(ctx), h.Redis, idemKey); rerr != nil {
				h.log().WithError(rerr).Warn("release idempotency key")
			}
		}
		h.writeError(w, r, err)
		return
	}

	if claimed {
		if err := h.Redis.Set(ctx, idemKey, o.ID, redisx.TTLIdempotency).Err(); err != nil {
			h.log().WithError(err).WithField("order_id", o.ID).Warn("store idempotency result")
		}
	}
	h.cacheStatus(ctx, o)
	if fromCart {
		if err := h.Carts.Delete(ctx, sid); err != nil {
			h.log().WithError(err).WithField("session_id", sid).Warn("clear cart after checkout")
		}
	}
	writeJSON(w, http.StatusCreated, checkoutResp{orderView: toOrderView(o)})
}

// replayCheckout answers a request whose idempotency key is already taken:
// with the placed order once it exists, with a retryable conflict while the
// first request is still running.
func (h *Handler) replayCheckout(ctx context.Context, w http.ResponseWriter, r *http.Request, key string) {
	id, err := h.Redis.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) || (err == nil && id == redisx.Pending) {
		h.writeError(w, r, &orders.ConflictError{Op: "checkout", Err: errors.New("request with this idempotency key is in progress")})
		return
	}
	if err != nil {
		h.writeError(w, r, errors.Wrap(err, "read idempotency key"))
		return
	}
	o, err := h.Engine.Order(ctx, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, checkoutResp{orderView: toOrderView(o), Idempotent: true})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Engine.Order(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderView(o))
}

func (h *Handler) orderStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// 1) coba cache
	if h.Redis != nil {
		key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
		if s, err := h.Redis.Get(ctx, key).Result(); err == nil && s != "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(s))
			return
		} else if err != nil && !errors.Is(err, redis.Nil) {
			h.log().WithError(err).Debug("status cache read")
		}
	}

	// 2) fallback store
	o, err := h.Engine.Order(ctx, orderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.cacheStatus(ctx, o)
	writeJSON(w, http.StatusOK, statusView{OrderID: o.ID, OrderNumber: o.OrderNumber, Status: string(o.Status)})
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Engine.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.cacheStatus(r.Context(), o)
	writeJSON(w, http.StatusOK, toOrderView(o))
}

func (h *Handler) fulfillOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Engine.Fulfill(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.cacheStatus(r.Context(), o)
	writeJSON(w, http.StatusOK, toOrderView(o))
}

// cacheStatus overwrites the cached status after every transition.
func (h *Handler) cacheStatus(ctx context.Context, o *orders.Order) {
	if h.Redis == nil {
		return
	}
	b, err := json.Marshal(statusView{OrderID: o.ID, OrderNumber: o.OrderNumber, Status: string(o.Status)})
	if err != nil {
		return
	}
	key := fmt.Sprintf(redisx.KeyOrderStatus, o.ID)
	if err := h.Redis.Set(ctx, key, b, redisx.TTLStatusCache).Err(); err != nil {
		h.log().WithError(err).WithField("order_id", o.ID).Debug("status cache write")
	}
}
