package stock

import "time"

// Entry is a per-product counter pair. The zero value reads as a missing
// ledger entry: zero available.
type Entry struct {
	ProductID string    `json:"product_id"`
	Quantity  int       `json:"quantity"`
	Reserved  int       `json:"reserved"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (e Entry) Available() int { return e.Quantity - e.Reserved }
