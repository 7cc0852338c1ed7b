package orders

import (
	"context"
	"time"
)

// Store runs fn as one atomic unit: every write made through tx is
// committed when fn returns nil and discarded when it returns an error or
// panics. Lock waits longer than the store's timeout fail with a
// ConflictError.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the row-level surface the ledger, scheduler and engine work on.
// Lock* methods take exclusive row locks held until the transaction ends.
type Tx interface {
	// GetProducts reads without locking. Unknown ids are absent from the map.
	GetProducts(ctx context.Context, ids []string) (map[string]Product, error)
	// LockProducts locks the rows in ascending id order.
	LockProducts(ctx context.Context, ids []string) (map[string]Product, error)
	ListProducts(ctx context.Context) ([]Product, error)
	// UpsertProduct writes catalog fields; ReservedQuantity is left as stored.
	UpsertProduct(ctx context.Context, p Product) error
	UpdateProductCounts(ctx context.Context, id string, stock, reserved int) error

	// InsertSlot is a no-op returning false when a slot already exists at SlotTime.
	InsertSlot(ctx context.Context, s PickupSlot) (bool, error)
	GetSlot(ctx context.Context, id string) (PickupSlot, error)
	LockSlot(ctx context.Context, id string) (PickupSlot, error)
	ListSlots(ctx context.Context, from, to time.Time) ([]PickupSlot, error)
	UpdateSlotOrders(ctx context.Context, id string, current int) error

	// InsertOrder stores the order and its items. A taken order number yields
	// ErrDuplicateOrderNumber and leaves the transaction usable.
	InsertOrder(ctx context.Context, o *Order) error
	GetOrder(ctx context.Context, id string) (*Order, error)
	LockOrder(ctx context.Context, id string) (*Order, error)
	UpdateOrderStatus(ctx context.Context, id string, s Status, at time.Time) error
	ListOrdersByCustomer(ctx context.Context, customerID string) ([]Order, error)

	FindOrCreateCustomer(ctx context.Context, c Customer) (Customer, error)
	GetCustomer(ctx context.Context, id string) (Customer, error)
}
