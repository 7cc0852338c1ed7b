// Package cart holds a session's pending selections. A cart is never a
// source of truth for stock: snapshots are recomputed from the ledger and
// shortfalls are only settled at checkout.
package cart

import (
	"context"
	"sort"
	"strings"

	"github.com/ariefcatur/go-pickup-orders/internal/orders"
)

type Cart struct {
	items map[string]int
}

func New() *Cart { return &Cart{items: map[string]int{}} }

// FromLines rebuilds a cart, merging duplicate products.
func FromLines(lines []orders.Line) *Cart {
	c := New()
	for _, ln := range lines {
		_ = c.Add(ln.ProductID, ln.Qty)
	}
	return c
}

// Add merges qty into the product's entry.
func (c *Cart) Add(productID string, qty int) error {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return orders.Invalid("product_id", "required")
	}
	if qty <= 0 {
		return orders.Invalid("qty", "must be greater than zero")
	}
	c.items[productID] += qty
	return nil
}

func (c *Cart) Remove(productID string) { delete(c.items, productID) }

func (c *Cart) Empty() bool { return len(c.items) == 0 }

func (c *Cart) Len() int { return len(c.items) }

// Lines is the plain value handed to checkout, sorted by product id.
func (c *Cart) Lines() []orders.Line {
	out := make([]orders.Line, 0, len(c.items))
	for id, q := range c.items {
		out = append(out, orders.Line{ProductID: id, Qty: q})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}

// Catalog is the read side of the product ledger.
type Catalog interface {
	Products(ctx context.Context, ids []string) (map[string]orders.Product, error)
}

type SnapshotLine struct {
	ProductID     string `json:"product_id"`
	Name          string `json:"name"`
	PriceCents    int64  `json:"price_cents"`
	Qty           int    `json:"qty"`
	Available     int    `json:"available"`
	SubtotalCents int64  `json:"subtotal_cents"`
	// Unavailable marks products that vanished or were deactivated.
	Unavailable bool `json:"unavailable,omitempty"`
	// Short marks lines asking for more than the ledger can promise now.
	Short bool `json:"short,omitempty"`
}

type Snapshot struct {
	Lines      []SnapshotLine `json:"lines"`
	TotalCents int64          `json:"total_cents"`
}

// Snapshot joins the cart with live product data.
func (c *Cart) Snapshot(ctx context.Context, catalog Catalog) (Snapshot, error) {
	lines := c.Lines()
	snap := Snapshot{Lines: make([]SnapshotLine, 0, len(lines))}
	if len(lines) == 0 {
		return snap, nil
	}
	ids := make([]string, 0, len(lines))
	for _, ln := range lines {
		ids = append(ids, ln.ProductID)
	}
	products, err := catalog.Products(ctx, ids)
	if err != nil {
		return Snapshot{}, err
	}
	for _, ln := range lines {
		p, ok := products[ln.ProductID]
		if !ok || !p.Active {
			snap.Lines = append(snap.Lines, SnapshotLine{ProductID: ln.ProductID, Qty: ln.Qty, Unavailable: true})
			continue
		}
		sl := SnapshotLine{
			ProductID:     p.ID,
			Name:          p.Name,
			PriceCents:    p.PriceCents,
			Qty:           ln.Qty,
			Available:     p.Available(),
			SubtotalCents: p.PriceCents * int64(ln.Qty),
			Short:         ln.Qty > p.Available(),
		}
		snap.TotalCents += sl.SubtotalCents
		snap.Lines = append(snap.Lines, sl)
	}
	return snap, nil
}
