package orders

import "time"

// Order is an immutable snapshot of a checkout: once created, items and
// total never change. Only Status and UpdatedAt move, via Transition.
type Order struct {
	ID              string      `json:"id"`
	UserID          string      `json:"user_id"`
	Status          Status      `json:"status"`
	TotalCents      int         `json:"total_cents"`
	ShippingAddress string      `json:"shipping_address,omitempty"`
	Notes           string      `json:"notes,omitempty"`
	Items           []OrderItem `json:"items,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// OrderItem captures product name and price at checkout time. It is never
// re-read from the catalog afterward.
type OrderItem struct {
	ProductID      string `json:"product_id"`
	ProductName    string `json:"product_name"`
	Qty            int    `json:"qty"`
	UnitPriceCents int    `json:"unit_price_cents"`
}
