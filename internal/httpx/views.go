package httpx

import (
	"time"

	"github.com/ariefcatur/go-pickup-orders/internal/orders"
)

type productView struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	PriceCents       int64     `json:"price_cents"`
	StockQuantity    int       `json:"stock_quantity"`
	ReservedQuantity int       `json:"reserved_quantity"`
	Available        int       `json:"available"`
	MinimumStock     int       `json:"minimum_stock"`
	Active           bool      `json:"active"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func toProductView(p orders.Product) productView {
	return productView{
		ID:               p.ID,
		Name:             p.Name,
		PriceCents:       p.PriceCents,
		StockQuantity:    p.StockQuantity,
		ReservedQuantity: p.ReservedQuantity,
		Available:        p.Available(),
		MinimumStock:     p.MinimumStock,
		Active:           p.Active,
		UpdatedAt:        p.UpdatedAt,
	}
}

func toProductViews(ps []orders.Product) []productView {
	out := make([]productView, 0, len(ps))
	for _, p := range ps {
		out = append(out, toProductView(p))
	}
	return out
}

type slotView struct {
	ID            string    `json:"id"`
	SlotTime      time.Time `json:"slot_time"`
	MaxOrders     int       `json:"max_orders"`
	CurrentOrders int       `json:"current_orders"`
	Available     int       `json:"available"`
}

type customerView struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

type itemView struct {
	ProductID     string `json:"product_id"`
	ProductName   string `json:"product_name"`
	Qty           int    `json:"qty"`
	PriceCents    int64  `json:"price_cents"`
	SubtotalCents int64  `json:"subtotal_cents"`
}

type orderView struct {
	ID           string     `json:"id"`
	OrderNumber  string     `json:"order_number"`
	CustomerID   string     `json:"customer_id"`
	Status       string     `json:"status"`
	TotalCents   int64      `json:"total_cents"`
	PickupSlotID *string    `json:"pickup_slot_id"`
	Notes        string     `json:"notes,omitempty"`
	Items        []itemView `json:"items"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func toOrderView(o *orders.Order) orderView {
	v := orderView{
		ID:           o.ID,
		OrderNumber:  o.OrderNumber,
		CustomerID:   o.CustomerID,
		Status:       string(o.Status),
		TotalCents:   o.TotalCents,
		PickupSlotID: o.PickupSlotID,
		Notes:        o.Notes,
		Items:        make([]itemView, 0, len(o.Items)),
		CreatedAt:    o.CreatedAt,
		UpdatedAt:    o.UpdatedAt,
	}
	for _, it := range o.Items {
		v.Items = append(v.Items, itemView{
			ProductID:     it.ProductID,
			ProductName:   it.ProductName,
			Qty:           it.Qty,
			PriceCents:    it.PriceCents,
			SubtotalCents: it.SubtotalCents,
		})
	}
	return v
}

// statusView is what the order status cache holds.
type statusView struct {
	OrderID     string `json:"order_id"`
	OrderNumber string `json:"order_number"`
	Status      string `json:"status"`
}
