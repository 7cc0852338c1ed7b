package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-pickup-orders/internal/cart"
	"github.com/ariefcatur/go-pickup-orders/internal/customer"
	"github.com/ariefcatur/go-pickup-orders/internal/inventory"
	"github.com/ariefcatur/go-pickup-orders/internal/memstore"
	"github.com/ariefcatur/go-pickup-orders/internal/orders"
	"github.com/ariefcatur/go-pickup-orders/internal/pickup"
	"github.com/ariefcatur/go-pickup-orders/internal/redisx"
	"github.com/ariefcatur/go-pickup-orders/internal/reservation"
)

// Monday 12 October 2026, 07:00 UTC.
var monday = time.Date(2026, 10, 12, 7, 0, 0, 0, time.UTC)

type api struct {
	t   *testing.T
	srv *httptest.Server
}

func newAPI(t *testing.T, opts ...func(*Handler)) *api {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	store := memstore.New()
	store.Seed(
		orders.Product{ID: "apple", Name: "Apple", PriceCents: 250, StockQuantity: 5, MinimumStock: 2, Active: true},
		orders.Product{ID: "bread", Name: "Bread", PriceCents: 100, StockQuantity: 10, Active: true},
	)
	ledger := inventory.NewLedger(store, log)
	sched := pickup.NewScheduler(store, pickup.Hours{Open: 9, Close: 17, Capacity: 1, Location: time.UTC}, log)
	sched.Now = func() time.Time { return monday }
	_, err := sched.EnsureSlotsGenerated(context.Background(), 1)
	require.NoError(t, err)

	h := &Handler{
		Engine:      reservation.NewEngine(store, ledger, sched, reservation.WithLogger(log)),
		Ledger:      ledger,
		Scheduler:   sched,
		Customers:   customer.NewDirectory(store),
		Carts:       cart.NewMemorySessions(),
		HorizonDays: 1,
		Log:         log,
	}
	for _, o := range opts {
		o(h)
	}
	r := NewRouter()
	h.Register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &api{t: t, srv: srv}
}

func (a *api) do(method, path string, body any, headers map[string]string, out any) int {
	a.t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(a.t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, a.srv.URL+path, rd)
	require.NoError(a.t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := a.srv.Client().Do(req)
	require.NoError(a.t, err)
	defer res.Body.Close()
	if out != nil && res.StatusCode != http.StatusNoContent {
		require.NoError(a.t, json.NewDecoder(res.Body).Decode(out))
	}
	return res.StatusCode
}

func (a *api) customer() string {
	var c customerView
	code := a.do(http.MethodPost, "/customers", createCustomerReq{Name: "Ana", Email: "ana@example.com"}, nil, &c)
	require.Equal(a.t, http.StatusOK, code)
	return c.ID
}

func (a *api) firstSlot() slotView {
	var slots []slotView
	require.Equal(a.t, http.StatusOK, a.do(http.MethodGet, "/pickup-slots?days=1", nil, nil, &slots))
	require.NotEmpty(a.t, slots)
	return slots[0]
}

func TestHealthz(t *testing.T) {
	a := newAPI(t)
	res, err := a.srv.Client().Get(a.srv.URL + "/healthz")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestProductsEndpoints(t *testing.T) {
	a := newAPI(t)

	var list []productView
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, "/products", nil, nil, &list))
	require.Len(t, list, 2)
	assert.Equal(t, "apple", list[0].ID)
	assert.Equal(t, 5, list[0].Available)

	var avail map[string]any
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, "/products/bread/available", nil, nil, &avail))
	assert.EqualValues(t, 10, avail["available"])

	var missing errorBody
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodGet, "/products/durian/available", nil, nil, &missing))
	assert.Equal(t, "not_found", missing.Code)

	var p productView
	require.Equal(t, http.StatusOK, a.do(http.MethodPut, "/products/eggs",
		upsertProductReq{Name: "Eggs", PriceCents: 450, StockQuantity: 12, MinimumStock: 4}, nil, &p))
	assert.Equal(t, "eggs", p.ID)
	assert.True(t, p.Active)
	assert.Equal(t, 12, p.Available)

	require.Equal(t, http.StatusOK, a.do(http.MethodPost, "/products/eggs/restock", restockReq{Delta: -9}, nil, &p))
	assert.Equal(t, 3, p.StockQuantity)

	var low []productView
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, "/products/low-stock", nil, nil, &low))
	require.Len(t, low, 1)
	assert.Equal(t, "eggs", low[0].ID)

	var bad errorBody
	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodPost, "/products/eggs/restock", restockReq{Delta: 0}, nil, &bad))
	assert.Equal(t, "validation", bad.Code)
	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodPut, "/products/eggs", map[string]any{"bogus": 1}, nil, &bad))
}

func TestCartCheckoutAndCancel(t *testing.T) {
	a := newAPI(t)
	custID := a.customer()
	slot := a.firstSlot()
	session := map[string]string{headerSession: "sess-1"}

	var snap cart.Snapshot
	require.Equal(t, http.StatusOK, a.do(http.MethodPost, "/cart/items", orders.Line{ProductID: "apple", Qty: 2}, session, &snap))
	require.Equal(t, http.StatusOK, a.do(http.MethodPost, "/cart/items", orders.Line{ProductID: "bread", Qty: 1}, session, &snap))
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, "/cart", nil, session, &snap))
	require.Len(t, snap.Lines, 2)
	assert.Equal(t, int64(600), snap.TotalCents)

	var placed checkoutResp
	code := a.do(http.MethodPost, "/checkout", checkoutReq{CustomerID: custID, PickupSlotID: slot.ID}, session, &placed)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "PENDING", placed.Status)
	assert.Equal(t, int64(600), placed.TotalCents)
	require.NotNil(t, placed.PickupSlotID)
	assert.Equal(t, slot.ID, *placed.PickupSlotID)

	// the cart is emptied once the order exists
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, "/cart", nil, session, &snap))
	assert.Empty(t, snap.Lines)

	var avail map[string]any
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, "/products/apple/available", nil, nil, &avail))
	assert.EqualValues(t, 3, avail["available"])

	var st statusView
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, "/orders/"+placed.ID+"/status", nil, nil, &st))
	assert.Equal(t, "PENDING", st.Status)
	assert.Equal(t, placed.OrderNumber, st.OrderNumber)

	var cancelled orderView
	require.Equal(t, http.StatusOK, a.do(http.MethodPost, "/orders/"+placed.ID+"/cancel", nil, nil, &cancelled))
	assert.Equal(t, "CANCELLED", cancelled.Status)
	require.Equal(t, http.StatusOK, a.do(http.MethodPost, "/orders/"+placed.ID+"/cancel", nil, nil, &cancelled))

	require.Equal(t, http.StatusOK, a.do(http.MethodGet, "/products/apple/available", nil, nil, &avail))
	assert.EqualValues(t, 5, avail["available"])

	var bad errorBody
	assert.Equal(t, http.StatusConflict, a.do(http.MethodPost, "/orders/"+placed.ID+"/fulfill", nil, nil, &bad))
	assert.Equal(t, "invalid_state", bad.Code)

	var list []orderView
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, "/customers/"+custID+"/orders", nil, nil, &list))
	require.Len(t, list, 1)
	assert.Equal(t, "CANCELLED", list[0].Status)
}

func TestCheckoutErrors(t *testing.T) {
	a := newAPI(t)
	custID := a.customer()
	slot := a.firstSlot()

	var body errorBody
	code := a.do(http.MethodPost, "/checkout", checkoutReq{
		CustomerID: custID,
		Items:      []orders.Line{{ProductID: "apple", Qty: 6}},
	}, nil, &body)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "insufficient_stock", body.Code)
	detail, ok := body.Detail.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "apple", detail["product_id"])
	assert.EqualValues(t, 5, detail["available"])

	code = a.do(http.MethodPost, "/checkout", checkoutReq{
		CustomerID: custID,
		Items:      []orders.Line{{ProductID: "apple", Qty: 0}},
	}, nil, &body)
	assert.Equal(t, http.StatusBadRequest, code)

	var placed checkoutResp
	require.Equal(t, http.StatusCreated, a.do(http.MethodPost, "/checkout", checkoutReq{
		CustomerID:   custID,
		Items:        []orders.Line{{ProductID: "bread", Qty: 1}},
		PickupSlotID: slot.ID,
	}, nil, &placed))

	// capacity is one order per slot in this fixture
	code = a.do(http.MethodPost, "/checkout", checkoutReq{
		CustomerID:   custID,
		Items:        []orders.Line{{ProductID: "bread", Qty: 1}},
		PickupSlotID: slot.ID,
	}, nil, &body)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "slot_unavailable", body.Code)

	assert.Equal(t, http.StatusNotFound, a.do(http.MethodGet, "/orders/ghost", nil, nil, &body))
	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodGet, "/cart", nil, nil, &body))
	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodGet, "/pickup-slots?days=zero", nil, nil, &body))
}

func TestWriteErrorMapsConflictsToRetry(t *testing.T) {
	h := &Handler{}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/checkout", nil)

	h.writeError(rec, req, errors.Wrap(&orders.ConflictError{Op: "lock product apple"}, "checkout"))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	rec = httptest.NewRecorder()
	l := logrus.New()
	l.SetOutput(io.Discard)
	h.Log = l
	h.writeError(rec, req, &orders.PersistenceError{Op: "insert order", Err: errors.New("secret dsn in message")})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret")
}

func withRedis(t *testing.T) (func(*Handler), *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redisx.New(mr.Addr())
	t.Cleanup(func() { _ = rdb.Close() })
	return func(h *Handler) { h.Redis = rdb }, mr
}

func TestCheckoutIdempotency(t *testing.T) {
	opt, _ := withRedis(t)
	a := newAPI(t, opt)
	custID := a.customer()
	idem := map[string]string{headerIdempotency: uuid.NewString()}
	req := checkoutReq{CustomerID: custID, Items: []orders.Line{{ProductID: "apple", Qty: 2}}}

	var first, second checkoutResp
	require.Equal(t, http.StatusCreated, a.do(http.MethodPost, "/checkout", req, idem, &first))
	require.Equal(t, http.StatusOK, a.do(http.MethodPost, "/checkout", req, idem, &second))
	assert.True(t, second.Idempotent)
	assert.Equal(t, first.ID, second.ID)

	var avail map[string]any
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, "/products/apple/available", nil, nil, &avail))
	assert.EqualValues(t, 3, avail["available"], "the replay reserved nothing")

	var st statusView
	require.Equal(t, http.StatusOK, a.do(http.MethodPost, "/orders/"+first.ID+"/cancel", nil, nil, nil))
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, "/orders/"+first.ID+"/status", nil, nil, &st))
	assert.Equal(t, "CANCELLED", st.Status)
}

func TestConcurrentCheckoutsShareIdempotencyKey(t *testing.T) {
	opt, _ := withRedis(t)
	a := newAPI(t, opt)
	custID := a.customer()
	body, err := json.Marshal(checkoutReq{CustomerID: custID, Items: []orders.Line{{ProductID: "bread", Qty: 1}}})
	require.NoError(t, err)
	key := uuid.NewString()

	const n = 8
	codes := make([]int, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req, err := http.NewRequest(http.MethodPost, a.srv.URL+"/checkout", bytes.NewReader(body))
			if err != nil {
				errs[i] = err
				return
			}
			req.Header.Set(headerIdempotency, key)
			res, err := a.srv.Client().Do(req)
			if err != nil {
				errs[i] = err
				return
			}
			_, _ = io.Copy(io.Discard, res.Body)
			_ = res.Body.Close()
			codes[i] = res.StatusCode
		}(i)
	}
	wg.Wait()

	created := 0
	for i := range codes {
		require.NoError(t, errs[i])
		switch codes[i] {
		case http.StatusCreated:
			created++
		case http.StatusOK, http.StatusServiceUnavailable:
		default:
			t.Errorf("request %d: unexpected status %d", i, codes[i])
		}
	}
	assert.Equal(t, 1, created)

	var list []orderView
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, "/customers/"+custID+"/orders", nil, nil, &list))
	assert.Len(t, list, 1, "one key places one order")
}

func TestFailedCheckoutFreesIdempotencyKey(t *testing.T) {
	opt, mr := withRedis(t)
	a := newAPI(t, opt)
	custID := a.customer()
	idem := map[string]string{headerIdempotency: uuid.NewString()}

	tooMany := checkoutReq{CustomerID: custID, Items: []orders.Line{{ProductID: "apple", Qty: 50}}}
	require.Equal(t, http.StatusConflict, a.do(http.MethodPost, "/checkout", tooMany, idem, nil))
	assert.False(t, mr.Exists(fmt.Sprintf(redisx.KeyIdemCheckout, idem[headerIdempotency])))

	var placed checkoutResp
	ok := checkoutReq{CustomerID: custID, Items: []orders.Line{{ProductID: "apple", Qty: 1}}}
	require.Equal(t, http.StatusCreated, a.do(http.MethodPost, "/checkout", ok, idem, &placed))
	assert.False(t, placed.Idempotent)

	v, err := mr.Get(fmt.Sprintf(redisx.KeyIdemCheckout, idem[headerIdempotency]))
	require.NoError(t, err)
	assert.Equal(t, placed.ID, v)
}

func TestCheckoutInProgressIsRetryable(t *testing.T) {
	opt, mr := withRedis(t)
	a := newAPI(t, opt)
	custID := a.customer()
	key := uuid.NewString()
	require.NoError(t, mr.Set(fmt.Sprintf(redisx.KeyIdemCheckout, key), redisx.Pending))

	req := checkoutReq{CustomerID: custID, Items: []orders.Line{{ProductID: "apple", Qty: 1}}}
	assert.Equal(t, http.StatusServiceUnavailable, a.do(http.MethodPost, "/checkout", req, map[string]string{headerIdempotency: key}, nil))

	var avail map[string]any
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, "/products/apple/available", nil, nil, &avail))
	assert.EqualValues(t, 5, avail["available"])
}
