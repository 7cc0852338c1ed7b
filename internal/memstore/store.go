// Package memstore is an in-process orders.Store. Rows carry their own
// exclusive lock; a transaction buffers its writes and applies them on
// commit while it still holds every row lock it took.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"

	"github.com/ariefcatur/go-pickup-orders/internal/orders"
)

const DefaultLockTimeout = 2 * time.Second

// rowLock is an exclusive row lock whose wait is bounded by the store's
// lock timeout.
type rowLock struct{ sem *semaphore.Weighted }

func newRowLock() rowLock { return rowLock{sem: semaphore.NewWeighted(1)} }

func (l rowLock) acquire(ctx context.Context, timeout time.Duration, op string) error {
	if l.sem.TryAcquire(1) {
		return nil
	}
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := l.sem.Acquire(wctx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &orders.ConflictError{Op: op, Err: errors.New("lock wait timeout")}
	}
	return nil
}

func (l rowLock) release() { l.sem.Release(1) }

type productRow struct {
	lock rowLock
	val  orders.Product
}

type slotRow struct {
	lock rowLock
	val  orders.PickupSlot
}

type orderRow struct {
	lock rowLock
	val  orders.Order
}

type Store struct {
	// mu guards the maps and row values; row locks order transactions.
	mu        sync.RWMutex
	products  map[string]*productRow
	slots     map[string]*slotRow
	slotTimes map[int64]string
	orders    map[string]*orderRow
	numbers   map[string]string
	customers map[string]orders.Customer
	emails    map[string]string

	lockTimeout time.Duration
	now         func() time.Time
}

type Option func(*Store)

func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{
		products:    map[string]*productRow{},
		slots:       map[string]*slotRow{},
		slotTimes:   map[int64]string{},
		orders:      map[string]*orderRow{},
		numbers:     map[string]string{},
		customers:   map[string]orders.Customer{},
		emails:      map[string]string{},
		lockTimeout: DefaultLockTimeout,
		now:         time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// InTx implements orders.Store.
func (s *Store) InTx(ctx context.Context, fn func(tx orders.Tx) error) error {
	t := s.begin()
	defer func() {
		if p := recover(); p != nil {
			t.rollback()
			panic(p)
		}
	}()
	if err := ctx.Err(); err != nil {
		t.rollback()
		return err
	}
	if err := fn(t); err != nil {
		t.rollback()
		return err
	}
	t.commit()
	return nil
}

// Seed stores products directly, bypassing transactions. Meant for tests
// and the demo catalog.
func (s *Store) Seed(ps ...orders.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	for _, p := range ps {
		if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
		p.UpdatedAt = now
		if r, ok := s.products[p.ID]; ok {
			r.val = p
			continue
		}
		s.products[p.ID] = &productRow{lock: newRowLock(), val: p}
	}
}

func (s *Store) begin() *tx {
	return &tx{
		s:           s,
		products:    map[string]orders.Product{},
		newProducts: map[string]orders.Product{},
		slots:       map[string]orders.PickupSlot{},
		orders:      map[string]orders.Order{},
	}
}

type tx struct {
	s    *Store
	held []rowLock

	// locked rows and their buffered values
	products    map[string]orders.Product
	newProducts map[string]orders.Product
	slots       map[string]orders.PickupSlot
	orders      map[string]orders.Order

	newSlots  []orders.PickupSlot
	newOrders []orders.Order

	// undo for unique-index claims made before commit
	claims []func()
	done   bool
}

func (t *tx) commit() {
	s := t.s
	s.mu.Lock()
	for id, p := range t.products {
		if r, ok := s.products[id]; ok {
			r.val = p
		}
	}
	for id, p := range t.newProducts {
		if r, ok := s.products[id]; ok {
			p.ReservedQuantity = r.val.ReservedQuantity
			p.CreatedAt = r.val.CreatedAt
			r.val = p
			continue
		}
		s.products[id] = &productRow{lock: newRowLock(), val: p}
	}
	for id, sl := range t.slots {
		if r, ok := s.slots[id]; ok {
			r.val = sl
		}
	}
	for _, sl := range t.newSlots {
		s.slots[sl.ID] = &slotRow{lock: newRowLock(), val: sl}
	}
	for id, o := range t.orders {
		if r, ok := s.orders[id]; ok {
			r.val = o
		}
	}
	for _, o := range t.newOrders {
		s.orders[o.ID] = &orderRow{lock: newRowLock(), val: o}
	}
	s.mu.Unlock()
	t.finish()
}

func (t *tx) rollback() {
	if len(t.claims) > 0 {
		t.s.mu.Lock()
		for i := len(t.claims) - 1; i >= 0; i-- {
			t.claims[i]()
		}
		t.s.mu.Unlock()
	}
	t.finish()
}

func (t *tx) finish() {
	if t.done {
		return
	}
	t.done = true
	for i := len(t.held) - 1; i >= 0; i-- {
		t.held[i].release()
	}
	t.held = nil
}

func (t *tx) GetProducts(ctx context.Context, ids []string) (map[string]orders.Product, error) {
	out := make(map[string]orders.Product, len(ids))
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	for _, id := range ids {
		if p, ok := t.products[id]; ok {
			out[id] = p
			continue
		}
		if r, ok := t.s.products[id]; ok {
			out[id] = r.val
		}
	}
	return out, nil
}

func (t *tx) LockProducts(ctx context.Context, ids []string) (map[string]orders.Product, error) {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	out := make(map[string]orders.Product, len(sorted))
	for _, id := range sorted {
		if p, ok := t.products[id]; ok {
			out[id] = p
			continue
		}
		t.s.mu.RLock()
		r, ok := t.s.products[id]
		t.s.mu.RUnlock()
		if !ok {
			continue
		}
		if err := r.lock.acquire(ctx, t.s.lockTimeout, "lock product "+id); err != nil {
			return nil, err
		}
		t.held = append(t.held, r.lock)
		t.s.mu.RLock()
		p := r.val
		t.s.mu.RUnlock()
		t.products[id] = p
		out[id] = p
	}
	return out, nil
}

func (t *tx) ListProducts(ctx context.Context) ([]orders.Product, error) {
	t.s.mu.RLock()
	out := make([]orders.Product, 0, len(t.s.products))
	for id, r := range t.s.products {
		if p, ok := t.products[id]; ok {
			out = append(out, p)
			continue
		}
		out = append(out, r.val)
	}
	t.s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *tx) UpsertProduct(ctx context.Context, p orders.Product) error {
	now := t.s.now().UTC()
	p.UpdatedAt = now
	if cur, ok := t.products[p.ID]; ok {
		p.ReservedQuantity = cur.ReservedQuantity
		p.CreatedAt = cur.CreatedAt
		t.products[p.ID] = p
		return nil
	}
	p.ReservedQuantity = 0
	p.CreatedAt = now
	t.newProducts[p.ID] = p
	return nil
}

func (t *tx) UpdateProductCounts(ctx context.Context, id string, stock, reserved int) error {
	p, ok := t.products[id]
	if !ok {
		return errors.Errorf("memstore: product %s not locked by this transaction", id)
	}
	if reserved < 0 || reserved > stock {
		return &orders.PersistenceError{Op: "update product counts",
			Err: errors.Errorf("check violated: reserved=%d stock=%d", reserved, stock)}
	}
	p.StockQuantity = stock
	p.ReservedQuantity = reserved
	p.UpdatedAt = t.s.now().UTC()
	t.products[id] = p
	return nil
}

func (t *tx) InsertSlot(ctx context.Context, sl orders.PickupSlot) (bool, error) {
	key := sl.SlotTime.UTC().UnixNano()
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if _, taken := t.s.slotTimes[key]; taken {
		return false, nil
	}
	t.s.slotTimes[key] = sl.ID
	t.claims = append(t.claims, func() { delete(t.s.slotTimes, key) })
	sl.SlotTime = sl.SlotTime.UTC()
	t.newSlots = append(t.newSlots, sl)
	return true, nil
}

func (t *tx) GetSlot(ctx context.Context, id string) (orders.PickupSlot, error) {
	if sl, ok := t.slots[id]; ok {
		return sl, nil
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	r, ok := t.s.slots[id]
	if !ok {
		return orders.PickupSlot{}, orders.NotFound("pickup slot", id)
	}
	return r.val, nil
}

func (t *tx) LockSlot(ctx context.Context, id string) (orders.PickupSlot, error) {
	if sl, ok := t.slots[id]; ok {
		return sl, nil
	}
	t.s.mu.RLock()
	r, ok := t.s.slots[id]
	t.s.mu.RUnlock()
	if !ok {
		return orders.PickupSlot{}, orders.NotFound("pickup slot", id)
	}
	if err := r.lock.acquire(ctx, t.s.lockTimeout, "lock slot "+id); err != nil {
		return orders.PickupSlot{}, err
	}
	t.held = append(t.held, r.lock)
	t.s.mu.RLock()
	sl := r.val
	t.s.mu.RUnlock()
	t.slots[id] = sl
	return sl, nil
}

func (t *tx) ListSlots(ctx context.Context, from, to time.Time) ([]orders.PickupSlot, error) {
	t.s.mu.RLock()
	var out []orders.PickupSlot
	for id, r := range t.s.slots {
		sl := r.val
		if own, ok := t.slots[id]; ok {
			sl = own
		}
		if sl.SlotTime.Before(from) || !sl.SlotTime.Before(to) {
			continue
		}
		out = append(out, sl)
	}
	t.s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].SlotTime.Before(out[j].SlotTime) })
	return out, nil
}

func (t *tx) UpdateSlotOrders(ctx context.Context, id string, current int) error {
	sl, ok := t.slots[id]
	if !ok {
		return errors.Errorf("memstore: slot %s not locked by this transaction", id)
	}
	if current < 0 || current > sl.MaxOrders {
		return &orders.PersistenceError{Op: "update slot orders",
			Err: errors.Errorf("check violated: current=%d max=%d", current, sl.MaxOrders)}
	}
	sl.CurrentOrders = current
	t.slots[id] = sl
	return nil
}

func (t *tx) InsertOrder(ctx context.Context, o *orders.Order) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if _, taken := t.s.numbers[o.OrderNumber]; taken {
		return orders.ErrDuplicateOrderNumber
	}
	num := o.OrderNumber
	t.s.numbers[num] = o.ID
	t.claims = append(t.claims, func() { delete(t.s.numbers, num) })
	t.newOrders = append(t.newOrders, cloneOrder(*o))
	return nil
}

func (t *tx) GetOrder(ctx context.Context, id string) (*orders.Order, error) {
	if o, ok := t.orders[id]; ok {
		c := cloneOrder(o)
		return &c, nil
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	r, ok := t.s.orders[id]
	if !ok {
		return nil, orders.NotFound("order", id)
	}
	c := cloneOrder(r.val)
	return &c, nil
}

func (t *tx) LockOrder(ctx context.Context, id string) (*orders.Order, error) {
	if o, ok := t.orders[id]; ok {
		c := cloneOrder(o)
		return &c, nil
	}
	t.s.mu.RLock()
	r, ok := t.s.orders[id]
	t.s.mu.RUnlock()
	if !ok {
		return nil, orders.NotFound("order", id)
	}
	if err := r.lock.acquire(ctx, t.s.lockTimeout, "lock order "+id); err != nil {
		return nil, err
	}
	t.held = append(t.held, r.lock)
	t.s.mu.RLock()
	o := cloneOrder(r.val)
	t.s.mu.RUnlock()
	t.orders[id] = o
	c := cloneOrder(o)
	return &c, nil
}

func (t *tx) UpdateOrderStatus(ctx context.Context, id string, st orders.Status, at time.Time) error {
	o, ok := t.orders[id]
	if !ok {
		return errors.Errorf("memstore: order %s not locked by this transaction", id)
	}
	o.Status = st
	o.UpdatedAt = at
	t.orders[id] = o
	return nil
}

func (t *tx) ListOrdersByCustomer(ctx context.Context, customerID string) ([]orders.Order, error) {
	t.s.mu.RLock()
	var out []orders.Order
	for _, r := range t.s.orders {
		if r.val.CustomerID == customerID {
			out = append(out, cloneOrder(r.val))
		}
	}
	t.s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// FindOrCreateCustomer is applied immediately: customer rows survive a
// rolled back transaction, which keeps the lookup idempotent either way.
func (t *tx) FindOrCreateCustomer(ctx context.Context, c orders.Customer) (orders.Customer, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if id, ok := t.s.emails[c.Email]; ok {
		return t.s.customers[id], nil
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = t.s.now().UTC()
	}
	t.s.customers[c.ID] = c
	t.s.emails[c.Email] = c.ID
	return c, nil
}

func (t *tx) GetCustomer(ctx context.Context, id string) (orders.Customer, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	c, ok := t.s.customers[id]
	if !ok {
		return orders.Customer{}, orders.NotFound("customer", id)
	}
	return c, nil
}

func cloneOrder(o orders.Order) orders.Order {
	o.Items = append([]orders.OrderItem(nil), o.Items...)
	if o.PickupSlotID != nil {
		id := *o.PickupSlotID
		o.PickupSlotID = &id
	}
	return o
}
