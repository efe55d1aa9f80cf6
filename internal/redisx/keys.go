package redisx

import "time"

const (
	// Create idempotency: idem:order:create:{user_id}:{external_id} -> order_id
	KeyIdemOrderCreate = "idem:order:create:%s:%s"

	// Cached aggregate: order:{order_id} -> hash {v: version, d: JSON order}, or {gone: 1} after delete
	KeyOrder = "order:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLOrderCache  = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
