package inventory

import (
	"context"
	"io"
	"math"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ariefcatur/go-pickup-orders/internal/memstore"
	"github.com/ariefcatur/go-pickup-orders/internal/orders"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newLedger(ps ...orders.Product) (*Ledger, *memstore.Store) {
	s := memstore.New()
	s.Seed(ps...)
	return NewLedger(s, quietLogger()), s
}

func get(t *testing.T, l *Ledger, id string) orders.Product {
	t.Helper()
	ps, err := l.Products(context.Background(), []string{id})
	require.NoError(t, err)
	p, ok := ps[id]
	require.True(t, ok, "product %s missing", id)
	return p
}

func TestGetAvailable(t *testing.T) {
	l, _ := newLedger(
		orders.Product{ID: "milk", Name: "Milk", StockQuantity: 8, ReservedQuantity: 3, Active: true},
		orders.Product{ID: "old", Name: "Old", StockQuantity: 8, Active: false},
	)
	ctx := context.Background()

	n, err := l.GetAvailable(ctx, "milk")
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	_, err = l.GetAvailable(ctx, "old")
	assert.ErrorIs(t, err, orders.ErrNotFound)
	_, err = l.GetAvailable(ctx, "nope")
	assert.ErrorIs(t, err, orders.ErrNotFound)
}

func TestTryReserveAndRelease(t *testing.T) {
	l, _ := newLedger(orders.Product{ID: "milk", Name: "Milk", StockQuantity: 5, Active: true})
	ctx := context.Background()

	require.NoError(t, l.TryReserve(ctx, "milk", 3))
	assert.Equal(t, 3, get(t, l, "milk").ReservedQuantity)

	err := l.TryReserve(ctx, "milk", 3)
	var stock *orders.InsufficientStockError
	require.True(t, errors.As(err, &stock))
	assert.Equal(t, orders.InsufficientStockError{ProductID: "milk", Requested: 3, Available: 2}, *stock)
	assert.Equal(t, 3, get(t, l, "milk").ReservedQuantity, "failed reserve leaves counters alone")

	require.NoError(t, l.Release(ctx, "milk", 3))
	assert.Equal(t, 0, get(t, l, "milk").ReservedQuantity)
	assert.Equal(t, 5, get(t, l, "milk").StockQuantity)
}

func TestReleaseClampsAtZero(t *testing.T) {
	l, _ := newLedger(orders.Product{ID: "milk", Name: "Milk", StockQuantity: 5, ReservedQuantity: 1, Active: true})
	require.NoError(t, l.Release(context.Background(), "milk", 4))
	assert.Equal(t, 0, get(t, l, "milk").ReservedQuantity)
}

func TestReserveRejectsBadInput(t *testing.T) {
	l, _ := newLedger(
		orders.Product{ID: "milk", Name: "Milk", StockQuantity: 5, Active: true},
		orders.Product{ID: "old", Name: "Old", StockQuantity: 5},
	)
	ctx := context.Background()

	assert.ErrorIs(t, l.TryReserve(ctx, "milk", 0), orders.ErrValidation)
	assert.ErrorIs(t, l.TryReserve(ctx, "milk", -1), orders.ErrValidation)
	assert.ErrorIs(t, l.TryReserve(ctx, "old", 1), orders.ErrNotFound)
	assert.ErrorIs(t, l.TryReserve(ctx, "ghost", 1), orders.ErrNotFound)
}

func TestReserveTxIsAllOrNothing(t *testing.T) {
	l, s := newLedger(
		orders.Product{ID: "a", Name: "A", StockQuantity: 5, Active: true},
		orders.Product{ID: "b", Name: "B", StockQuantity: 1, Active: true},
	)
	ctx := context.Background()

	err := s.InTx(ctx, func(tx orders.Tx) error {
		return l.ReserveTx(ctx, tx, []orders.Line{{ProductID: "a", Qty: 2}, {ProductID: "b", Qty: 2}})
	})
	var stock *orders.InsufficientStockError
	require.True(t, errors.As(err, &stock))
	assert.Equal(t, "b", stock.ProductID)

	assert.Equal(t, 0, get(t, l, "a").ReservedQuantity)
	assert.Equal(t, 0, get(t, l, "b").ReservedQuantity)
}

func TestConcurrentReserveNeverOversells(t *testing.T) {
	l, _ := newLedger(orders.Product{ID: "milk", Name: "Milk", StockQuantity: 5, Active: true})
	ctx := context.Background()

	// 5 in stock, two customers ask for 3 at once
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = l.TryReserve(ctx, "milk", 3)
		}(i)
	}
	wg.Wait()

	ok, short := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, orders.ErrInsufficientStock):
			short++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, short)
	assert.Equal(t, 3, get(t, l, "milk").ReservedQuantity)
}

func TestConcurrentSingleUnitReserves(t *testing.T) {
	l, _ := newLedger(orders.Product{ID: "milk", Name: "Milk", StockQuantity: 5, Active: true})
	ctx := context.Background()

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.TryReserve(ctx, "milk", 1); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 5, ok)
	p := get(t, l, "milk")
	assert.Equal(t, 5, p.ReservedQuantity)
	assert.Equal(t, 0, p.Available())
}

func TestConsumeTx(t *testing.T) {
	l, s := newLedger(orders.Product{ID: "milk", Name: "Milk", StockQuantity: 5, ReservedQuantity: 2, Active: true})
	ctx := context.Background()
	require.NoError(t, s.InTx(ctx, func(tx orders.Tx) error {
		return l.ConsumeTx(ctx, tx, []orders.Line{{ProductID: "milk", Qty: 2}})
	}))
	p := get(t, l, "milk")
	assert.Equal(t, 3, p.StockQuantity)
	assert.Equal(t, 0, p.ReservedQuantity)
	assert.Equal(t, 3, p.Available())
}

func TestUpsertProduct(t *testing.T) {
	l, _ := newLedger(orders.Product{ID: "milk", Name: "Milk", PriceCents: 100, StockQuantity: 5, ReservedQuantity: 4, Active: true})
	ctx := context.Background()

	require.NoError(t, l.UpsertProduct(ctx, orders.Product{ID: "eggs", Name: "Eggs", PriceCents: 450, StockQuantity: 12, Active: true}))
	eggs := get(t, l, "eggs")
	assert.Equal(t, 12, eggs.Available())
	assert.Equal(t, int64(450), eggs.PriceCents)

	// reserved units survive a catalog update
	require.NoError(t, l.UpsertProduct(ctx, orders.Product{ID: "milk", Name: "Whole milk", PriceCents: 120, StockQuantity: 6, Active: true}))
	milk := get(t, l, "milk")
	assert.Equal(t, "Whole milk", milk.Name)
	assert.Equal(t, 4, milk.ReservedQuantity)

	err := l.UpsertProduct(ctx, orders.Product{ID: "milk", Name: "Milk", StockQuantity: 3, Active: true})
	assert.ErrorIs(t, err, orders.ErrValidation)
	assert.ErrorIs(t, l.UpsertProduct(ctx, orders.Product{ID: "x", Name: ""}), orders.ErrValidation)
	assert.ErrorIs(t, l.UpsertProduct(ctx, orders.Product{ID: "x", Name: "X", PriceCents: -1}), orders.ErrValidation)
}

func TestRestock(t *testing.T) {
	l, _ := newLedger(orders.Product{ID: "milk", Name: "Milk", StockQuantity: 5, ReservedQuantity: 2, Active: true})
	ctx := context.Background()

	p, err := l.Restock(ctx, "milk", 10)
	require.NoError(t, err)
	assert.Equal(t, 15, p.StockQuantity)

	_, err = l.Restock(ctx, "milk", -14)
	assert.ErrorIs(t, err, orders.ErrValidation)
	assert.Equal(t, 15, get(t, l, "milk").StockQuantity)

	_, err = l.Restock(ctx, "ghost", 1)
	assert.ErrorIs(t, err, orders.ErrNotFound)
}

func TestLowStock(t *testing.T) {
	// a: 2 left vs 3, c: 1 left vs 6, d inactive, e has no threshold
	l, _ := newLedger(
		orders.Product{ID: "a", Name: "A", StockQuantity: 10, ReservedQuantity: 8, MinimumStock: 3, Active: true},
		orders.Product{ID: "b", Name: "B", StockQuantity: 10, MinimumStock: 3, Active: true},
		orders.Product{ID: "c", Name: "C", StockQuantity: 1, MinimumStock: 6, Active: true},
		orders.Product{ID: "d", Name: "D", StockQuantity: 0, MinimumStock: 6, Active: false},
		orders.Product{ID: "e", Name: "E", StockQuantity: 0, Active: true},
	)
	got, err := l.LowStock(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].ID)
	assert.Equal(t, "a", got[1].ID)
}

func TestNormalize(t *testing.T) {
	lines, err := Normalize([]orders.Line{
		{ProductID: "b", Qty: 1},
		{ProductID: " a ", Qty: 2},
		{ProductID: "b", Qty: 3},
	})
	require.NoError(t, err)
	assert.Equal(t, []orders.Line{{ProductID: "a", Qty: 2}, {ProductID: "b", Qty: 4}}, lines)

	for _, bad := range [][]orders.Line{
		nil,
		{{ProductID: "", Qty: 1}},
		{{ProductID: "a", Qty: 0}},
		{{ProductID: "a", Qty: 1}, {ProductID: "b", Qty: -2}},
	} {
		_, err := Normalize(bad)
		assert.ErrorIs(t, err, orders.ErrValidation, "%v", bad)
	}
}

func TestNormalizeRejectsOverflowingMerge(t *testing.T) {
	_, err := Normalize([]orders.Line{
		{ProductID: "a", Qty: math.MaxInt},
		{ProductID: "a", Qty: math.MaxInt},
	})
	var verr *orders.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "items", verr.Field)
	assert.Contains(t, verr.Reason, "line 1")
	assert.Contains(t, verr.Reason, "too large")
}
