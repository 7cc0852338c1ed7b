package redisx

import "time"

const (
	// Idempotency checkout: idem:checkout:{idempotency_key} -> order_id
	KeyIdemCheckout = "idem:checkout:%s"

	// Cache status order: order_status:{order_id} -> {"status": "...", "order_number": "..."}
	KeyOrderStatus = "order_status:%s"

	// Cart per session: hash cart:{session_id} -> product_id => qty
	KeyCart = "cart:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLCart        = 72 * time.Hour
	TTLDedup       = 48 * time.Hour
)
