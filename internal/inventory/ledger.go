package inventory

import (
	"context"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/ariefcatur/go-pickup-orders/internal/orders"
)

// Ledger owns the per-product stock and reserved counters. Every mutation
// runs inside a store transaction holding the product's row lock.
type Ledger struct {
	Store orders.Store
	Log   logrus.FieldLogger
}

func NewLedger(store orders.Store, log logrus.FieldLogger) *Ledger {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Ledger{Store: store, Log: log.WithField("component", "ledger")}
}

// GetAvailable returns stock minus reserved for an active product.
func (l *Ledger) GetAvailable(ctx context.Context, productID string) (int, error) {
	var avail int
	err := l.Store.InTx(ctx, func(tx orders.Tx) error {
		ps, err := tx.GetProducts(ctx, []string{productID})
		if err != nil {
			return err
		}
		p, ok := ps[productID]
		if !ok || !p.Active {
			return orders.NotFound("product", productID)
		}
		avail = p.Available()
		return nil
	})
	return avail, err
}

// TryReserve claims qty units of one product or leaves it untouched.
func (l *Ledger) TryReserve(ctx context.Context, productID string, qty int) error {
	return l.Store.InTx(ctx, func(tx orders.Tx) error {
		return l.ReserveTx(ctx, tx, []orders.Line{{ProductID: productID, Qty: qty}})
	})
}

// Release gives qty units back. The counter is clamped at zero; callers
// are responsible for releasing each reservation only once.
func (l *Ledger) Release(ctx context.Context, productID string, qty int) error {
	return l.Store.InTx(ctx, func(tx orders.Tx) error {
		return l.ReleaseTx(ctx, tx, []orders.Line{{ProductID: productID, Qty: qty}})
	})
}

// ReserveTx reserves every line inside tx, locking products in ascending id
// order. The first shortfall aborts with an InsufficientStockError; the
// caller's rollback undoes the lines already reserved.
func (l *Ledger) ReserveTx(ctx context.Context, tx orders.Tx, lines []orders.Line) error {
	lines, err := Normalize(lines)
	if err != nil {
		return err
	}
	locked, err := tx.LockProducts(ctx, lineIDs(lines))
	if err != nil {
		return err
	}
	for _, ln := range lines {
		p, ok := locked[ln.ProductID]
		if !ok || !p.Active {
			return orders.NotFound("product", ln.ProductID)
		}
		if p.Available() < ln.Qty {
			return &orders.InsufficientStockError{
				ProductID: ln.ProductID, Requested: ln.Qty, Available: p.Available(),
			}
		}
		if err := tx.UpdateProductCounts(ctx, p.ID, p.StockQuantity, p.ReservedQuantity+ln.Qty); err != nil {
			return err
		}
	}
	return nil
}

// ReleaseTx is the in-transaction counterpart of Release.
func (l *Ledger) ReleaseTx(ctx context.Context, tx orders.Tx, lines []orders.Line) error {
	lines, err := Normalize(lines)
	if err != nil {
		return err
	}
	locked, err := tx.LockProducts(ctx, lineIDs(lines))
	if err != nil {
		return err
	}
	for _, ln := range lines {
		p, ok := locked[ln.ProductID]
		if !ok {
			return orders.NotFound("product", ln.ProductID)
		}
		reserved := p.ReservedQuantity - ln.Qty
		if reserved < 0 {
			l.Log.WithFields(logrus.Fields{
				"product_id": p.ID, "reserved": p.ReservedQuantity, "release": ln.Qty,
			}).Warn("release exceeds reserved quantity, clamping at zero")
			reserved = 0
		}
		if err := tx.UpdateProductCounts(ctx, p.ID, p.StockQuantity, reserved); err != nil {
			return err
		}
	}
	return nil
}

// ConsumeTx takes reserved units off the shelf: both stock and reserved
// drop by the line quantity. Used when an order is handed over.
func (l *Ledger) ConsumeTx(ctx context.Context, tx orders.Tx, lines []orders.Line) error {
	lines, err := Normalize(lines)
	if err != nil {
		return err
	}
	locked, err := tx.LockProducts(ctx, lineIDs(lines))
	if err != nil {
		return err
	}
	for _, ln := range lines {
		p, ok := locked[ln.ProductID]
		if !ok {
			return orders.NotFound("product", ln.ProductID)
		}
		take := ln.Qty
		if take > p.ReservedQuantity {
			take = p.ReservedQuantity
		}
		if err := tx.UpdateProductCounts(ctx, p.ID, p.StockQuantity-take, p.ReservedQuantity-take); err != nil {
			return err
		}
	}
	return nil
}

// UpsertProduct is the catalog surface: it writes name, price, stock,
// threshold and the active flag. Stock can never drop below what is
// already reserved.
func (l *Ledger) UpsertProduct(ctx context.Context, p orders.Product) error {
	p.ID = strings.TrimSpace(p.ID)
	switch {
	case p.ID == "":
		return orders.Invalid("id", "required")
	case strings.TrimSpace(p.Name) == "":
		return orders.Invalid("name", "required")
	case p.PriceCents < 0:
		return orders.Invalid("price_cents", "must not be negative")
	case p.StockQuantity < 0:
		return orders.Invalid("stock_quantity", "must not be negative")
	case p.MinimumStock < 0:
		return orders.Invalid("minimum_stock", "must not be negative")
	}
	return l.Store.InTx(ctx, func(tx orders.Tx) error {
		locked, err := tx.LockProducts(ctx, []string{p.ID})
		if err != nil {
			return err
		}
		if cur, ok := locked[p.ID]; ok && p.StockQuantity < cur.ReservedQuantity {
			return orders.Invalid("stock_quantity",
				"below reserved quantity of open orders")
		}
		return tx.UpsertProduct(ctx, p)
	})
}

// Restock adjusts stock_quantity by delta (negative for write-offs).
func (l *Ledger) Restock(ctx context.Context, productID string, delta int) (orders.Product, error) {
	var out orders.Product
	err := l.Store.InTx(ctx, func(tx orders.Tx) error {
		locked, err := tx.LockProducts(ctx, []string{productID})
		if err != nil {
			return err
		}
		p, ok := locked[productID]
		if !ok {
			return orders.NotFound("product", productID)
		}
		stock := p.StockQuantity + delta
		if stock < p.ReservedQuantity {
			return orders.Invalid("delta", "stock would fall below reserved quantity")
		}
		if err := tx.UpdateProductCounts(ctx, p.ID, stock, p.ReservedQuantity); err != nil {
			return err
		}
		p.StockQuantity = stock
		out = p
		return nil
	})
	if err == nil {
		l.Log.WithFields(logrus.Fields{"product_id": productID, "delta": delta, "stock": out.StockQuantity}).
			Info("product restocked")
	}
	return out, err
}

// Products reads the given products without locking them.
func (l *Ledger) Products(ctx context.Context, ids []string) (map[string]orders.Product, error) {
	var out map[string]orders.Product
	err := l.Store.InTx(ctx, func(tx orders.Tx) error {
		var err error
		out, err = tx.GetProducts(ctx, ids)
		return err
	})
	return out, err
}

func (l *Ledger) List(ctx context.Context) ([]orders.Product, error) {
	var out []orders.Product
	err := l.Store.InTx(ctx, func(tx orders.Tx) error {
		var err error
		out, err = tx.ListProducts(ctx)
		return err
	})
	return out, err
}

// LowStock lists active products at or below their minimum stock, the
// largest shortfall first.
func (l *Ledger) LowStock(ctx context.Context) ([]orders.Product, error) {
	all, err := l.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []orders.Product
	for _, p := range all {
		if p.LowStock() {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Available()-out[i].MinimumStock < out[j].Available()-out[j].MinimumStock
	})
	return out, nil
}

// Normalize rejects non-positive quantities and merges duplicate product
// lines. The result is sorted by product id.
func Normalize(lines []orders.Line) ([]orders.Line, error) {
	if len(lines) == 0 {
		return nil, orders.Invalid("items", "at least one line item is required")
	}
	merged := make(map[string]int, len(lines))
	for i, ln := range lines {
		id := strings.TrimSpace(ln.ProductID)
		if id == "" {
			return nil, orders.Invalid("items", "line "+strconv.Itoa(i)+": product_id is required")
		}
		if ln.Qty <= 0 {
			return nil, orders.Invalid("items", "line "+strconv.Itoa(i)+": qty must be greater than zero")
		}
		if merged[id] > math.MaxInt-ln.Qty {
			return nil, orders.Invalid("items", "line "+strconv.Itoa(i)+": total qty for "+id+" is too large")
		}
		merged[id] += ln.Qty
	}
	out := make([]orders.Line, 0, len(merged))
	for id, q := range merged {
		out = append(out, orders.Line{ProductID: id, Qty: q})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func lineIDs(lines []orders.Line) []string {
	ids := make([]string, 0, len(lines))
	for _, ln := range lines {
		ids = append(ids, ln.ProductID)
	}
	return ids
}
