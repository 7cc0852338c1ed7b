package orders

import "time"

type Product struct {
	ID               string
	Name             string
	PriceCents       int64
	StockQuantity    int
	ReservedQuantity int
	MinimumStock     int // 0 = no low-stock threshold
	Active           bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Available is what can still be promised to new orders.
func (p Product) Available() int { return p.StockQuantity - p.ReservedQuantity }

// LowStock reports whether the product sits at or below its threshold.
func (p Product) LowStock() bool {
	return p.Active && p.MinimumStock > 0 && p.Available() <= p.MinimumStock
}

type PickupSlot struct {
	ID            string
	SlotTime      time.Time
	MaxOrders     int
	CurrentOrders int
}

func (s PickupSlot) Available() int { return s.MaxOrders - s.CurrentOrders }

type Customer struct {
	ID        string
	Name      string
	Email     string
	Phone     string
	CreatedAt time.Time
}

type Order struct {
	ID           string
	CustomerID   string
	OrderNumber  string
	Status       Status // lihat status.go
	TotalCents   int64
	PickupSlotID *string
	Notes        string
	Items        []OrderItem
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// OrderItem carries the unit price captured at checkout, never the live price.
type OrderItem struct {
	OrderID       string
	ProductID     string
	ProductName   string
	Qty           int
	PriceCents    int64
	SubtotalCents int64
}

// Line is one requested (product, quantity) pair handed to checkout.
type Line struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

// Lines returns the order's items as plain lines.
func (o Order) Lines() []Line {
	out := make([]Line, 0, len(o.Items))
	for _, it := range o.Items {
		out = append(out, Line{ProductID: it.ProductID, Qty: it.Qty})
	}
	return out
}
