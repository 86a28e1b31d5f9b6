package orders

import (
	"encoding/json"
	"time"
)

const (
	EventOrderCreated   = "OrderCreated"
	EventOrderConfirmed = "OrderConfirmed"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id
	Payload       json.RawMessage `json:"payload"`
}

type EventItem struct {
	ProductID      string `json:"product_id"`
	ProductName    string `json:"product_name"`
	Qty            int    `json:"qty"`
	UnitPriceCents int    `json:"unit_price_cents"`
}

// OrderCreatedPayload carries the full order snapshot so the stock consumer
// never has to query the producer's store.
type OrderCreatedPayload struct {
	OrderID    string      `json:"order_id"`
	UserID     string      `json:"user_id"`
	Items      []EventItem `json:"items"`
	TotalCents int         `json:"total_cents"`
	CreatedAt  time.Time   `json:"created_at"`
}

type OrderConfirmedPayload struct {
	OrderID string `json:"order_id"`
	UserID  string `json:"user_id"`
}
