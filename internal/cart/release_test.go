package cart

import (
	"context"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kafkax "github.com/storecraft/checkout-saga/internal/kafka"
	"github.com/storecraft/checkout-saga/internal/orders"
)

func confirmedMsg(orderID, userID string) kafkago.Message {
	env := orders.Envelope{
		EventID:      "ev-1",
		EventType:    orders.EventOrderConfirmed,
		EventVersion: 1,
		OccurredAt:   time.Now().UTC(),
		Producer:     "test",
		Payload:      kafkax.MustMarshal(orders.OrderConfirmedPayload{OrderID: orderID, UserID: userID}),
	}
	return kafkago.Message{Value: kafkax.MustMarshal(env)}
}

func TestReleaseClearsCart(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddOrUpdate(ctx, "u1", "p1", 2))
	require.NoError(t, s.AddOrUpdate(ctx, "u1", "p2", 1))

	r := &Releaser{Carts: s}
	require.NoError(t, r.HandleOrderConfirmed(ctx, confirmedMsg("o1", "u1")))

	c, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, c.Items)
}

func TestReleaseOnEmptyCartIsIdempotent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	r := &Releaser{Carts: s}
	// no cart was ever written for this user
	require.NoError(t, r.HandleOrderConfirmed(ctx, confirmedMsg("o1", "u1")))
	// duplicate delivery of the same event
	require.NoError(t, r.HandleOrderConfirmed(ctx, confirmedMsg("o1", "u1")))
}

func TestReleaseIgnoresForeignEvents(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddOrUpdate(ctx, "u1", "p1", 2))

	env := orders.Envelope{
		EventType: orders.EventOrderCreated,
		Payload:   kafkax.MustMarshal(orders.OrderCreatedPayload{OrderID: "o1", UserID: "u1"}),
	}
	r := &Releaser{Carts: s}
	require.NoError(t, r.HandleOrderConfirmed(ctx, kafkago.Message{Value: kafkax.MustMarshal(env)}))

	c, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, c.Items, 1, "foreign event types must not touch the cart")
}

func TestReleaseRejectsMalformedMessage(t *testing.T) {
	s, _ := newTestStore(t)
	r := &Releaser{Carts: s}

	err := r.HandleOrderConfirmed(context.Background(), kafkago.Message{Value: []byte("{not json")})
	assert.Error(t, err)
}
