package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/ariefcatur/go-pickup-orders/internal/orders"
)

const (
	codeUniqueViolation   = "23505"
	codeSerialization     = "40001"
	codeDeadlock          = "40P01"
	codeLockNotAvailable  = "55P03"
	codeQueryCanceled     = "57014"
	constraintOrderNumber = "orders_order_number_key"
)

// Store is the PostgreSQL orders.Store. Each InTx opens a READ COMMITTED
// transaction with a bounded lock wait; row locks are SELECT ... FOR UPDATE.
type Store struct {
	DB          *pgxpool.Pool
	LockTimeout time.Duration
}

func NewStore(db *pgxpool.Pool, lockTimeout time.Duration) *Store {
	if lockTimeout <= 0 {
		lockTimeout = 2 * time.Second
	}
	return &Store{DB: db, LockTimeout: lockTimeout}
}

func (s *Store) InTx(ctx context.Context, fn func(tx orders.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return classify("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// SET LOCAL does not take bind parameters.
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.LockTimeout.Milliseconds())); err != nil {
		return classify("set lock_timeout", err)
	}
	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return classify("commit", err)
	}
	return nil
}

// classify maps driver errors onto the domain taxonomy.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeLockNotAvailable, codeDeadlock, codeSerialization, codeQueryCanceled:
			return &orders.ConflictError{Op: op, Err: err}
		}
	}
	return &orders.PersistenceError{Op: op, Err: err}
}

type pgTx struct {
	tx pgx.Tx
}

const productCols = `id, name, price_cents, stock_quantity, reserved_quantity, minimum_stock, active, created_at, updated_at`

func scanProduct(row pgx.Row) (orders.Product, error) {
	var p orders.Product
	err := row.Scan(&p.ID, &p.Name, &p.PriceCents, &p.StockQuantity, &p.ReservedQuantity,
		&p.MinimumStock, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (t *pgTx) queryProducts(ctx context.Context, op, q string, args ...any) (map[string]orders.Product, error) {
	rows, err := t.tx.Query(ctx, q, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()
	out := map[string]orders.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, classify(op, err)
		}
		out[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	return out, nil
}

func (t *pgTx) GetProducts(ctx context.Context, ids []string) (map[string]orders.Product, error) {
	return t.queryProducts(ctx, "get products",
		`SELECT `+productCols+` FROM products WHERE id = ANY($1)`, ids)
}

// LockProducts relies on ORDER BY id so rows are locked in ascending order.
func (t *pgTx) LockProducts(ctx context.Context, ids []string) (map[string]orders.Product, error) {
	return t.queryProducts(ctx, "lock products",
		`SELECT `+productCols+` FROM products WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
}

func (t *pgTx) ListProducts(ctx context.Context) ([]orders.Product, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+productCols+` FROM products ORDER BY id`)
	if err != nil {
		return nil, classify("list products", err)
	}
	defer rows.Close()
	var out []orders.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, classify("list products", err)
		}
		out = append(out, p)
	}
	return out, classify("list products", rows.Err())
}

func (t *pgTx) UpsertProduct(ctx context.Context, p orders.Product) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO products(id, name, price_cents, stock_quantity, minimum_stock, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			price_cents = EXCLUDED.price_cents,
			stock_quantity = EXCLUDED.stock_quantity,
			minimum_stock = EXCLUDED.minimum_stock,
			active = EXCLUDED.active,
			updated_at = now()`,
		p.ID, p.Name, p.PriceCents, p.StockQuantity, p.MinimumStock, p.Active)
	return classify("upsert product", err)
}

func (t *pgTx) UpdateProductCounts(ctx context.Context, id string, stock, reserved int) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE products SET stock_quantity = $2, reserved_quantity = $3, updated_at = now()
		WHERE id = $1`, id, stock, reserved)
	if err != nil {
		return classify("update product counts", err)
	}
	if ct.RowsAffected() != 1 {
		return orders.NotFound("product", id)
	}
	return nil
}

func (t *pgTx) InsertSlot(ctx context.Context, s orders.PickupSlot) (bool, error) {
	ct, err := t.tx.Exec(ctx, `
		INSERT INTO pickup_slots(id, slot_time, max_orders, current_orders)
		VALUES ($1, $2, $3, 0)
		ON CONFLICT (slot_time) DO NOTHING`, s.ID, s.SlotTime.UTC(), s.MaxOrders)
	if err != nil {
		return false, classify("insert slot", err)
	}
	return ct.RowsAffected() == 1, nil
}

func (t *pgTx) slot(ctx context.Context, op, q, id string) (orders.PickupSlot, error) {
	var s orders.PickupSlot
	err := t.tx.QueryRow(ctx, q, id).Scan(&s.ID, &s.SlotTime, &s.MaxOrders, &s.CurrentOrders)
	if errors.Is(err, pgx.ErrNoRows) {
		return s, orders.NotFound("pickup slot", id)
	}
	return s, classify(op, err)
}

func (t *pgTx) GetSlot(ctx context.Context, id string) (orders.PickupSlot, error) {
	return t.slot(ctx, "get slot",
		`SELECT id, slot_time, max_orders, current_orders FROM pickup_slots WHERE id = $1`, id)
}

func (t *pgTx) LockSlot(ctx context.Context, id string) (orders.PickupSlot, error) {
	return t.slot(ctx, "lock slot",
		`SELECT id, slot_time, max_orders, current_orders FROM pickup_slots WHERE id = $1 FOR UPDATE`, id)
}

func (t *pgTx) ListSlots(ctx context.Context, from, to time.Time) ([]orders.PickupSlot, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, slot_time, max_orders, current_orders FROM pickup_slots
		WHERE slot_time >= $1 AND slot_time < $2
		ORDER BY slot_time`, from.UTC(), to.UTC())
	if err != nil {
		return nil, classify("list slots", err)
	}
	defer rows.Close()
	var out []orders.PickupSlot
	for rows.Next() {
		var s orders.PickupSlot
		if err := rows.Scan(&s.ID, &s.SlotTime, &s.MaxOrders, &s.CurrentOrders); err != nil {
			return nil, classify("list slots", err)
		}
		out = append(out, s)
	}
	return out, classify("list slots", rows.Err())
}

func (t *pgTx) UpdateSlotOrders(ctx context.Context, id string, current int) error {
	ct, err := t.tx.Exec(ctx, `UPDATE pickup_slots SET current_orders = $2 WHERE id = $1`, id, current)
	if err != nil {
		return classify("update slot", err)
	}
	if ct.RowsAffected() != 1 {
		return orders.NotFound("pickup slot", id)
	}
	return nil
}

// InsertOrder runs inside a savepoint so an order number collision can be
// retried without aborting the surrounding transaction.
func (t *pgTx) InsertOrder(ctx context.Context, o *orders.Order) error {
	sp, err := t.tx.Begin(ctx)
	if err != nil {
		return classify("savepoint", err)
	}
	_, err = sp.Exec(ctx, `
		INSERT INTO orders(id, customer_id, order_number, status, total_cents, pickup_slot_id, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		o.ID, o.CustomerID, o.OrderNumber, string(o.Status), o.TotalCents, o.PickupSlotID, o.Notes,
		o.CreatedAt, o.UpdatedAt)
	if err != nil {
		_ = sp.Rollback(ctx)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation && pgErr.ConstraintName == constraintOrderNumber {
			return orders.ErrDuplicateOrderNumber
		}
		return classify("insert order", err)
	}

	batch := &pgx.Batch{}
	for _, it := range o.Items {
		batch.Queue(`
			INSERT INTO order_items(order_id, product_id, product_name, qty, price_cents, subtotal_cents)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			o.ID, it.ProductID, it.ProductName, it.Qty, it.PriceCents, it.SubtotalCents)
	}
	if err := sp.SendBatch(ctx, batch).Close(); err != nil {
		_ = sp.Rollback(ctx)
		return classify("insert order items", err)
	}
	return classify("release savepoint", sp.Commit(ctx))
}

const orderCols = `id, customer_id, order_number, status, total_cents, pickup_slot_id, notes, created_at, updated_at`

func scanOrder(row pgx.Row) (*orders.Order, error) {
	var o orders.Order
	var status string
	if err := row.Scan(&o.ID, &o.CustomerID, &o.OrderNumber, &status, &o.TotalCents,
		&o.PickupSlotID, &o.Notes, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.Status = orders.Status(status)
	return &o, nil
}

func (t *pgTx) loadItems(ctx context.Context, o *orders.Order) error {
	rows, err := t.tx.Query(ctx, `
		SELECT order_id, product_id, product_name, qty, price_cents, subtotal_cents
		FROM order_items WHERE order_id = $1 ORDER BY product_id`, o.ID)
	if err != nil {
		return classify("load order items", err)
	}
	defer rows.Close()
	o.Items = o.Items[:0]
	for rows.Next() {
		var it orders.OrderItem
		if err := rows.Scan(&it.OrderID, &it.ProductID, &it.ProductName, &it.Qty, &it.PriceCents, &it.SubtotalCents); err != nil {
			return classify("load order items", err)
		}
		o.Items = append(o.Items, it)
	}
	return classify("load order items", rows.Err())
}

func (t *pgTx) order(ctx context.Context, op, q, id string) (*orders.Order, error) {
	o, err := scanOrder(t.tx.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, orders.NotFound("order", id)
	}
	if err != nil {
		return nil, classify(op, err)
	}
	if err := t.loadItems(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (t *pgTx) GetOrder(ctx context.Context, id string) (*orders.Order, error) {
	return t.order(ctx, "get order", `SELECT `+orderCols+` FROM orders WHERE id = $1`, id)
}

func (t *pgTx) LockOrder(ctx context.Context, id string) (*orders.Order, error) {
	return t.order(ctx, "lock order", `SELECT `+orderCols+` FROM orders WHERE id = $1 FOR UPDATE`, id)
}

func (t *pgTx) UpdateOrderStatus(ctx context.Context, id string, s orders.Status, at time.Time) error {
	ct, err := t.tx.Exec(ctx, `UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1`, id, string(s), at)
	if err != nil {
		return classify("update order status", err)
	}
	if ct.RowsAffected() != 1 {
		return orders.NotFound("order", id)
	}
	return nil
}

func (t *pgTx) ListOrdersByCustomer(ctx context.Context, customerID string) ([]orders.Order, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+orderCols+` FROM orders WHERE customer_id = $1 ORDER BY created_at DESC`, customerID)
	if err != nil {
		return nil, classify("list orders", err)
	}
	var out []orders.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, classify("list orders", err)
		}
		out = append(out, *o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, classify("list orders", err)
	}
	for i := range out {
		if err := t.loadItems(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (t *pgTx) FindOrCreateCustomer(ctx context.Context, c orders.Customer) (orders.Customer, error) {
	// DO UPDATE with a no-op assignment makes RETURNING yield the existing row.
	var out orders.Customer
	err := t.tx.QueryRow(ctx, `
		INSERT INTO customers(id, name, email, phone)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (email) DO UPDATE SET email = EXCLUDED.email
		RETURNING id, name, email, phone, created_at`,
		c.ID, c.Name, c.Email, c.Phone).Scan(&out.ID, &out.Name, &out.Email, &out.Phone, &out.CreatedAt)
	return out, classify("find or create customer", err)
}

func (t *pgTx) GetCustomer(ctx context.Context, id string) (orders.Customer, error) {
	var c orders.Customer
	err := t.tx.QueryRow(ctx, `SELECT id, name, email, phone, created_at FROM customers WHERE id = $1`, id).
		Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return c, orders.NotFound("customer", id)
	}
	return c, classify("get customer", err)
}
