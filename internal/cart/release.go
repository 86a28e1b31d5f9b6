package cart

import (
	"context"
	"encoding/json"
	"log"

	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/storecraft/checkout-saga/internal/kafka"
	"github.com/storecraft/checkout-saga/internal/orders"
)

// Releaser clears a user's cart once their order is confirmed. It is a
// separate consumer so stock-processing failures never suppress cart
// clearing, and a cart-clearing failure never touches a confirmed order.
// Clearing is idempotent, so duplicate delivery needs no dedup.
type Releaser struct {
	Carts *Store
}

func (r *Releaser) HandleOrderConfirmed(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return err
	}
	if env.EventType != orders.EventOrderConfirmed {
		return nil
	}

	p, err := kafkax.UnwrapPayload[orders.OrderConfirmedPayload](env.Payload)
	if err != nil {
		return err
	}

	if err := r.Carts.Clear(ctx, p.UserID); err != nil {
		return err
	}
	log.Printf("cart: cleared for user %s after order %s confirmed", p.UserID, p.OrderID)
	return nil
}
