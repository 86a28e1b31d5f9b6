package redisx

import "time"

const (
	// Cart hash per user: cart:{user_id} -> {product_id: qty, _updated_at: ts}
	KeyCart = "cart:%s"

	// Order status read cache: order_status:{order_id} -> {"status": "..."}
	KeyOrderStatus = "order_status:%s"

	// Consumer dedup: dedup:{consumer}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
