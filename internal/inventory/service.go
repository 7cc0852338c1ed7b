package inventory

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	kafkax "github.com/ariefcatur/go-pickup-orders/internal/kafka"
	"github.com/ariefcatur/go-pickup-orders/internal/orders"
	"github.com/ariefcatur/go-pickup-orders/internal/redisx"
)

// Watcher consumes order events and raises a low-stock event for every
// touched product sitting at or below its minimum stock.
type Watcher struct {
	Ledger      *Ledger
	Redis       *redis.Client // optional, dedup by event_id
	Events      orders.EventPublisher
	ServiceName string
	Log         logrus.FieldLogger
}

// HandleOrderEvent dipasang sebagai handler consumer.
func (w *Watcher) HandleOrderEvent(ctx context.Context, m kafkago.Message) error {
	env, err := kafkax.UnmarshalEnvelope(m.Value)
	if err != nil {
		return err
	}

	var ids []string
	switch env.EventType {
	case orders.EventOrderPlaced:
		p, err := kafkax.UnwrapPayload[orders.OrderPlacedPayload](env.Payload)
		if err != nil {
			return err
		}
		for _, it := range p.Items {
			ids = append(ids, it.ProductID)
		}
	case orders.EventOrderFulfilled:
		p, err := kafkax.UnwrapPayload[orders.OrderClosedPayload](env.Payload)
		if err != nil {
			return err
		}
		for _, it := range p.Items {
			ids = append(ids, it.ProductID)
		}
	default:
		return nil // ignore
	}

	key := fmt.Sprintf(redisx.KeyDedup, w.ServiceName, env.EventID)
	claimed := false
	if w.Redis != nil {
		first, err := redisx.Claim(ctx, w.Redis, key, redisx.TTLDedup)
		if err != nil {
			w.log().WithError(err).Warn("dedup check failed, processing anyway")
		} else if !first {
			return nil
		}
		claimed = err == nil
	}
	if err := w.Check(ctx, env.CorrelationID, ids); err != nil {
		// the offset stays uncommitted; let the redelivery through
		if claimed {
			if derr := redisx.Release(context.WithoutCancel(ctx), w.Redis, key); derr != nil {
				w.log().WithError(derr).WithField("event_id", env.EventID).Warn("release dedup key")
			}
		}
		return err
	}
	return nil
}

// Check publishes one LowStock event per listed product under threshold.
func (w *Watcher) Check(ctx context.Context, correlationID string, productIDs []string) error {
	if len(productIDs) == 0 {
		return nil
	}
	products, err := w.Ledger.Products(ctx, productIDs)
	if err != nil {
		return err
	}
	for _, id := range productIDs {
		p, ok := products[id]
		if !ok || !p.LowStock() {
			continue
		}
		w.log().WithFields(logrus.Fields{
			"product_id": p.ID, "available": p.Available(), "minimum_stock": p.MinimumStock,
		}).Warn("product below minimum stock")
		if w.Events == nil {
			continue
		}
		env, err := orders.NewEnvelope(orders.EventLowStock, w.ServiceName, correlationID, orders.LowStockPayload{
			ProductID:    p.ID,
			Name:         p.Name,
			Available:    p.Available(),
			MinimumStock: p.MinimumStock,
		})
		if err != nil {
			return err
		}
		if err := w.Events.PublishEvent(ctx, orders.TopicLowStock, env); err != nil {
			return err
		}
	}
	return nil
}

func (w *Watcher) log() logrus.FieldLogger {
	if w.Log == nil {
		return logrus.StandardLogger()
	}
	return w.Log
}
