package orders

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	EventOrderPlaced    = "OrderPlaced"
	EventOrderCancelled = "OrderCancelled"
	EventOrderFulfilled = "OrderFulfilled"
	EventLowStock       = "LowStock"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // biasanya order_id
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope wraps payload into a v1 envelope.
func NewEnvelope(eventType, producer, correlationID string, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		CorrelationID: correlationID,
		Payload:       b,
	}, nil
}

type ItemPrice struct {
	ProductID  string `json:"product_id"`
	Qty        int    `json:"qty"`
	PriceCents int64  `json:"price_cents"`
}

type OrderPlacedPayload struct {
	OrderID      string      `json:"order_id"`
	OrderNumber  string      `json:"order_number"`
	CustomerID   string      `json:"customer_id"`
	PickupSlotID string      `json:"pickup_slot_id,omitempty"`
	Items        []ItemPrice `json:"items"`
	TotalCents   int64       `json:"total_cents"`
}

// OrderClosedPayload is shared by the cancelled and fulfilled events.
type OrderClosedPayload struct {
	OrderID     string `json:"order_id"`
	OrderNumber string `json:"order_number"`
	Status      Status `json:"status"`
	Items       []Line `json:"items"`
}

type LowStockPayload struct {
	ProductID    string `json:"product_id"`
	Name         string `json:"name"`
	Available    int    `json:"available"`
	MinimumStock int    `json:"minimum_stock"`
}

func PlacedPayload(o *Order) OrderPlacedPayload {
	p := OrderPlacedPayload{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		CustomerID:  o.CustomerID,
		TotalCents:  o.TotalCents,
		Items:       make([]ItemPrice, 0, len(o.Items)),
	}
	if o.PickupSlotID != nil {
		p.PickupSlotID = *o.PickupSlotID
	}
	for _, it := range o.Items {
		p.Items = append(p.Items, ItemPrice{ProductID: it.ProductID, Qty: it.Qty, PriceCents: it.PriceCents})
	}
	return p
}

func ClosedPayload(o *Order) OrderClosedPayload {
	return OrderClosedPayload{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		Status:      o.Status,
		Items:       o.Lines(),
	}
}

// EventPublisher delivers envelopes to a topic. Delivery is best effort and
// happens after the owning transaction committed.
type EventPublisher interface {
	PublishEvent(ctx context.Context, topic string, env Envelope) error
}
