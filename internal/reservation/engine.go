// Package reservation runs the order lifecycle: all-or-nothing checkout
// against the product ledger and pickup capacity, and exactly-once release
// on cancellation.
package reservation

import (
	"context"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ariefcatur/go-pickup-orders/internal/inventory"
	"github.com/ariefcatur/go-pickup-orders/internal/orders"
	"github.com/ariefcatur/go-pickup-orders/internal/pickup"
)

const maxNumberAttempts = 5

type CheckoutRequest struct {
	CustomerID   string
	Lines        []orders.Line
	PickupSlotID string
	// SlotOptional lets checkout continue without a slot when the requested
	// one is full.
	SlotOptional bool
	Notes        string
}

type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

var DefaultRetry = RetryPolicy{Attempts: 3, Backoff: 25 * time.Millisecond}

type Engine struct {
	store     orders.Store
	ledger    *inventory.Ledger
	scheduler *pickup.Scheduler
	numbers   orders.NumberGenerator
	events    orders.EventPublisher
	retry     RetryPolicy
	producer  string
	now       func() time.Time
	log       logrus.FieldLogger
}

type Option func(*Engine)

func WithNumbers(g orders.NumberGenerator) Option { return func(e *Engine) { e.numbers = g } }
func WithEvents(p orders.EventPublisher) Option   { return func(e *Engine) { e.events = p } }
func WithRetry(p RetryPolicy) Option              { return func(e *Engine) { e.retry = p } }
func WithProducer(name string) Option             { return func(e *Engine) { e.producer = name } }
func WithClock(now func() time.Time) Option       { return func(e *Engine) { e.now = now } }
func WithLogger(l logrus.FieldLogger) Option      { return func(e *Engine) { e.log = l } }

func NewEngine(store orders.Store, ledger *inventory.Ledger, scheduler *pickup.Scheduler, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		ledger:    ledger,
		scheduler: scheduler,
		numbers:   orders.RandomNumbers,
		retry:     DefaultRetry,
		producer:  "order-api",
		now:       time.Now,
		log:       logrus.StandardLogger(),
	}
	for _, o := range opts {
		o(e)
	}
	if e.retry.Attempts < 1 {
		e.retry.Attempts = 1
	}
	e.log = e.log.WithField("component", "reservation")
	return e
}

// Checkout validates the request, then reserves the pickup slot and every
// line inside one transaction and stores the order as Pending. Any failure
// rolls the whole transaction back, so no counter moves unless the order
// exists.
func (e *Engine) Checkout(ctx context.Context, req CheckoutRequest) (*orders.Order, error) {
	lines, err := inventory.Normalize(req.Lines)
	if err != nil {
		return nil, err
	}
	req.CustomerID = strings.TrimSpace(req.CustomerID)
	req.PickupSlotID = strings.TrimSpace(req.PickupSlotID)
	if req.CustomerID == "" {
		return nil, orders.Invalid("customer_id", "required")
	}

	var placed *orders.Order
	err = e.withRetry(ctx, "checkout", func() error {
		return e.store.InTx(ctx, func(tx orders.Tx) error {
			o, err := e.checkoutTx(ctx, tx, req, lines)
			if err != nil {
				return err
			}
			placed = o
			return nil
		})
	})
	if err != nil {
		e.logFailure("checkout", err, logrus.Fields{"customer_id": req.CustomerID, "slot_id": req.PickupSlotID})
		return nil, err
	}

	e.log.WithFields(logrus.Fields{
		"order_id": placed.ID, "order_number": placed.OrderNumber, "total_cents": placed.TotalCents,
	}).Info("order placed")
	e.publish(ctx, orders.TopicOrderPlaced, orders.EventOrderPlaced, placed.ID, orders.PlacedPayload(placed))
	return placed, nil
}

func (e *Engine) checkoutTx(ctx context.Context, tx orders.Tx, req CheckoutRequest, lines []orders.Line) (*orders.Order, error) {
	// 1. validation, before any lock or counter is touched
	if _, err := tx.GetCustomer(ctx, req.CustomerID); err != nil {
		if errors.Is(err, orders.ErrNotFound) {
			return nil, orders.Invalid("customer_id", "unknown customer "+req.CustomerID)
		}
		return nil, err
	}
	ids := make([]string, 0, len(lines))
	for _, ln := range lines {
		ids = append(ids, ln.ProductID)
	}
	catalog, err := tx.GetProducts(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, ln := range lines {
		p, ok := catalog[ln.ProductID]
		if !ok || !p.Active {
			return nil, orders.Invalid("items", "product "+ln.ProductID+" is not available for sale")
		}
	}

	// 2. slot first; a full slot means no stock is touched
	var slotID *string
	if req.PickupSlotID != "" {
		err := e.scheduler.ReserveTx(ctx, tx, req.PickupSlotID)
		switch {
		case err == nil:
			id := req.PickupSlotID
			slotID = &id
		case errors.Is(err, orders.ErrSlotUnavailable) && req.SlotOptional:
			e.log.WithField("slot_id", req.PickupSlotID).Info("slot full, continuing without pickup slot")
		case errors.Is(err, orders.ErrNotFound):
			return nil, orders.Invalid("pickup_slot_id", "unknown pickup slot "+req.PickupSlotID)
		default:
			return nil, err
		}
	}

	// 3. all lines or none, ascending product id
	if err := e.ledger.ReserveTx(ctx, tx, lines); err != nil {
		return nil, err
	}

	// 4. persist with price snapshots taken under the row locks
	locked, err := tx.LockProducts(ctx, ids)
	if err != nil {
		return nil, err
	}
	now := e.now().UTC()
	o := &orders.Order{
		ID:           uuid.NewString(),
		CustomerID:   req.CustomerID,
		Status:       orders.StatusPending,
		PickupSlotID: slotID,
		Notes:        strings.TrimSpace(req.Notes),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	for _, ln := range lines {
		p := locked[ln.ProductID]
		sub := p.PriceCents * int64(ln.Qty)
		o.Items = append(o.Items, orders.OrderItem{
			OrderID:       o.ID,
			ProductID:     p.ID,
			ProductName:   p.Name,
			Qty:           ln.Qty,
			PriceCents:    p.PriceCents,
			SubtotalCents: sub,
		})
		o.TotalCents += sub
	}
	if err := e.insertWithNumber(ctx, tx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// insertWithNumber draws order numbers until the store accepts one.
func (e *Engine) insertWithNumber(ctx context.Context, tx orders.Tx, o *orders.Order) error {
	for attempt := 1; attempt <= maxNumberAttempts; attempt++ {
		num, err := e.numbers.Next(o.CreatedAt)
		if err != nil {
			return &orders.PersistenceError{Op: "generate order number", Err: err}
		}
		o.OrderNumber = num
		err = tx.InsertOrder(ctx, o)
		if err == nil {
			return nil
		}
		if !errors.Is(err, orders.ErrDuplicateOrderNumber) {
			return err
		}
		e.log.WithFields(logrus.Fields{"order_number": num, "attempt": attempt}).Warn("order number collision")
	}
	return &orders.PersistenceError{Op: "insert order",
		Err: errors.Errorf("no unique order number after %d attempts", maxNumberAttempts)}
}

// Cancel moves a Pending order to Cancelled and releases its stock and slot
// in the same transaction. Cancelling a cancelled order is a no-op.
func (e *Engine) Cancel(ctx context.Context, orderID string) (*orders.Order, error) {
	var (
		out     *orders.Order
		changed bool
	)
	err := e.withRetry(ctx, "cancel", func() error {
		return e.store.InTx(ctx, func(tx orders.Tx) error {
			o, err := tx.LockOrder(ctx, orderID)
			if err != nil {
				return err
			}
			changed = false
			switch o.Status {
			case orders.StatusCancelled:
				out = o
				return nil
			case orders.StatusPending:
			default:
				return &orders.InvalidStateError{OrderID: o.ID, From: o.Status, To: orders.StatusCancelled}
			}
			if o.PickupSlotID != nil {
				if err := e.scheduler.ReleaseTx(ctx, tx, *o.PickupSlotID); err != nil {
					return err
				}
			}
			if err := e.ledger.ReleaseTx(ctx, tx, o.Lines()); err != nil {
				return err
			}
			if err := e.transition(ctx, tx, o, orders.StatusCancelled); err != nil {
				return err
			}
			out, changed = o, true
			return nil
		})
	})
	if err != nil {
		e.logFailure("cancel", err, logrus.Fields{"order_id": orderID})
		return nil, err
	}
	if changed {
		e.log.WithFields(logrus.Fields{"order_id": out.ID, "order_number": out.OrderNumber}).Info("order cancelled")
		e.publish(ctx, orders.TopicOrderCancelled, orders.EventOrderCancelled, out.ID, orders.ClosedPayload(out))
	}
	return out, nil
}

// Fulfill hands a Pending order over: its reserved units leave stock and
// the slot stays counted. Fulfilling twice is a no-op.
func (e *Engine) Fulfill(ctx context.Context, orderID string) (*orders.Order, error) {
	var (
		out     *orders.Order
		changed bool
	)
	err := e.withRetry(ctx, "fulfill", func() error {
		return e.store.InTx(ctx, func(tx orders.Tx) error {
			o, err := tx.LockOrder(ctx, orderID)
			if err != nil {
				return err
			}
			changed = false
			switch o.Status {
			case orders.StatusFulfilled:
				out = o
				return nil
			case orders.StatusPending:
			default:
				return &orders.InvalidStateError{OrderID: o.ID, From: o.Status, To: orders.StatusFulfilled}
			}
			if err := e.ledger.ConsumeTx(ctx, tx, o.Lines()); err != nil {
				return err
			}
			if err := e.transition(ctx, tx, o, orders.StatusFulfilled); err != nil {
				return err
			}
			out, changed = o, true
			return nil
		})
	})
	if err != nil {
		e.logFailure("fulfill", err, logrus.Fields{"order_id": orderID})
		return nil, err
	}
	if changed {
		e.log.WithFields(logrus.Fields{"order_id": out.ID, "order_number": out.OrderNumber}).Info("order fulfilled")
		e.publish(ctx, orders.TopicOrderFulfilled, orders.EventOrderFulfilled, out.ID, orders.ClosedPayload(out))
	}
	return out, nil
}

func (e *Engine) transition(ctx context.Context, tx orders.Tx, o *orders.Order, to orders.Status) error {
	if !orders.CanTransition(o.Status, to) {
		return &orders.InvalidStateError{OrderID: o.ID, From: o.Status, To: to}
	}
	now := e.now().UTC()
	if err := tx.UpdateOrderStatus(ctx, o.ID, to, now); err != nil {
		return err
	}
	o.Status = to
	o.UpdatedAt = now
	return nil
}

func (e *Engine) Order(ctx context.Context, orderID string) (*orders.Order, error) {
	var out *orders.Order
	err := e.store.InTx(ctx, func(tx orders.Tx) error {
		var err error
		out, err = tx.GetOrder(ctx, orderID)
		return err
	})
	return out, err
}

func (e *Engine) CustomerOrders(ctx context.Context, customerID string) ([]orders.Order, error) {
	var out []orders.Order
	err := e.store.InTx(ctx, func(tx orders.Tx) error {
		if _, err := tx.GetCustomer(ctx, customerID); err != nil {
			return err
		}
		var err error
		out, err = tx.ListOrdersByCustomer(ctx, customerID)
		return err
	})
	return out, err
}

// withRetry reruns fn on ConcurrencyConflict with exponential backoff and
// jitter. Every other error is returned as is.
func (e *Engine) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil || !errors.Is(err, orders.ErrConcurrencyConflict) || attempt >= e.retry.Attempts {
			return err
		}
		wait := e.retry.Backoff << (attempt - 1)
		if wait > 0 {
			wait += rand.N(wait/2 + 1)
		}
		e.log.WithFields(logrus.Fields{"op": op, "attempt": attempt, "wait": wait}).
			WithError(err).Debug("retrying after concurrency conflict")
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return err
		}
	}
}

func (e *Engine) publish(ctx context.Context, topic, eventType, orderID string, payload any) {
	if e.events == nil {
		return
	}
	env, err := orders.NewEnvelope(eventType, e.producer, orderID, payload)
	if err != nil {
		e.log.WithError(err).WithField("event_type", eventType).Error("encode event")
		return
	}
	if err := e.events.PublishEvent(ctx, topic, env); err != nil {
		e.log.WithError(err).WithFields(logrus.Fields{"event_type": eventType, "order_id": orderID}).
			Warn("publish event")
	}
}

func (e *Engine) logFailure(op string, err error, f logrus.Fields) {
	entry := e.log.WithFields(f).WithField("op", op).WithError(err)
	switch {
	case errors.Is(err, orders.ErrPersistence):
		entry.Error("operation failed")
	case errors.Is(err, orders.ErrConcurrencyConflict):
		entry.Warn("operation failed")
	default:
		entry.Debug("operation rejected")
	}
}
