package redisx

import "time"

const (
	// Checkout idempotency: idem:checkout:{user_id}:{idempotency_key} -> order_id
	KeyIdemCheckout = "idem:checkout:%s:%s"

	// Dedup of consumed events: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLPending     = 2 * time.Minute
	TTLDedup       = 48 * time.Hour
)
