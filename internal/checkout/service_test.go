package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storecraft/checkout-saga/internal/cart"
	"github.com/storecraft/checkout-saga/internal/catalog"
	"github.com/storecraft/checkout-saga/internal/orders"
)

type fakeCarts struct {
	cart cart.Cart
	err  error
}

func (f *fakeCarts) Get(_ context.Context, userID string) (cart.Cart, error) {
	if f.err != nil {
		return cart.Cart{}, f.err
	}
	c := f.cart
	c.UserID = userID
	return c, nil
}

type fakeCatalog struct {
	products []catalog.Product
	err      error
}

func (f *fakeCatalog) GetByIDs(_ context.Context, _ []string) ([]catalog.Product, error) {
	return f.products, f.err
}

type fakeOrders struct {
	created []*orders.Order
	err     error
}

func (f *fakeOrders) Create(_ context.Context, o *orders.Order) error {
	if f.err != nil {
		return f.err
	}
	o.ID = "order-1"
	o.Status = orders.StatusPending
	o.CreatedAt = time.Now().UTC()
	f.created = append(f.created, o)
	return nil
}

type fakePublisher struct {
	keys   [][]byte
	values [][]byte
}

func (f *fakePublisher) Publish(key, value []byte, _ ...kafkago.Header) {
	f.keys = append(f.keys, key)
	f.values = append(f.values, value)
}

func newService(carts *fakeCarts, cat *fakeCatalog, ord *fakeOrders, pub *fakePublisher) *Service {
	return &Service{
		Carts:       carts,
		Catalog:     cat,
		Orders:      ord,
		Producer:    pub,
		ServiceName: "test-api",
	}
}

func activeProduct(id, name string, price int) catalog.Product {
	return catalog.Product{ID: id, SKU: "sku-" + id, Name: name, PriceCents: price, IsActive: true}
}

func TestCheckoutEmptyCart(t *testing.T) {
	ord := &fakeOrders{}
	pub := &fakePublisher{}
	svc := newService(&fakeCarts{cart: cart.Cart{Items: map[string]int{}}}, &fakeCatalog{}, ord, pub)

	_, err := svc.Checkout(context.Background(), Input{UserID: "u1"})
	require.ErrorIs(t, err, ErrEmptyCart)
	assert.Empty(t, ord.created, "no order may be written")
	assert.Empty(t, pub.values, "no event may be published")
}

func TestCheckoutSnapshotsFreshPrices(t *testing.T) {
	carts := &fakeCarts{cart: cart.Cart{Items: map[string]int{"p1": 2, "p2": 1}}}
	cat := &fakeCatalog{products: []catalog.Product{
		activeProduct("p1", "Keyboard", 1000),
		activeProduct("p2", "Mouse", 500),
	}}
	ord := &fakeOrders{}
	pub := &fakePublisher{}
	svc := newService(carts, cat, ord, pub)

	rec, err := svc.Checkout(context.Background(), Input{UserID: "u1", ShippingAddress: "1 Main St"})
	require.NoError(t, err)

	assert.Equal(t, "order-1", rec.OrderID)
	assert.Equal(t, 2500, rec.TotalCents)
	assert.Equal(t, 2, rec.ItemCount)
	assert.Equal(t, string(orders.StatusPending), rec.Status)

	require.Len(t, ord.created, 1)
	o := ord.created[0]
	assert.Equal(t, orders.StatusPending, o.Status)
	assert.Equal(t, 2500, o.TotalCents)
	assert.Equal(t, "1 Main St", o.ShippingAddress)
	require.Len(t, o.Items, 2)
	assert.Equal(t, orders.OrderItem{ProductID: "p1", ProductName: "Keyboard", Qty: 2, UnitPriceCents: 1000}, o.Items[0])
	assert.Equal(t, orders.OrderItem{ProductID: "p2", ProductName: "Mouse", Qty: 1, UnitPriceCents: 500}, o.Items[1])

	require.Len(t, pub.values, 1, "exactly one OrderCreated event")
	assert.Equal(t, []byte("order-1"), pub.keys[0], "partitioned by order id")

	var env orders.Envelope
	require.NoError(t, json.Unmarshal(pub.values[0], &env))
	assert.Equal(t, orders.EventOrderCreated, env.EventType)
	assert.Equal(t, "order-1", env.CorrelationID)

	var p orders.OrderCreatedPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, "order-1", p.OrderID)
	assert.Equal(t, "u1", p.UserID)
	assert.Equal(t, 2500, p.TotalCents)
	require.Len(t, p.Items, 2)
	assert.Equal(t, "Keyboard", p.Items[0].ProductName)
}

func TestCheckoutRejectsInactiveProduct(t *testing.T) {
	carts := &fakeCarts{cart: cart.Cart{Items: map[string]int{"p1": 1}}}
	inactive := activeProduct("p1", "Keyboard", 1000)
	inactive.IsActive = false
	cat := &fakeCatalog{products: []catalog.Product{inactive}}
	ord := &fakeOrders{}
	pub := &fakePublisher{}
	svc := newService(carts, cat, ord, pub)

	_, err := svc.Checkout(context.Background(), Input{UserID: "u1"})
	var unavailable *ProductUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, "p1", unavailable.ProductID)
	assert.Empty(t, ord.created)
	assert.Empty(t, pub.values)
}

func TestCheckoutRejectsMissingProduct(t *testing.T) {
	carts := &fakeCarts{cart: cart.Cart{Items: map[string]int{"ghost": 1}}}
	svc := newService(carts, &fakeCatalog{}, &fakeOrders{}, &fakePublisher{})

	_, err := svc.Checkout(context.Background(), Input{UserID: "u1"})
	var unavailable *ProductUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, "ghost", unavailable.ProductID)
}

func TestCheckoutDoesNotPublishWhenPersistFails(t *testing.T) {
	carts := &fakeCarts{cart: cart.Cart{Items: map[string]int{"p1": 1}}}
	cat := &fakeCatalog{products: []catalog.Product{activeProduct("p1", "Keyboard", 1000)}}
	ord := &fakeOrders{err: errors.New("db down")}
	pub := &fakePublisher{}
	svc := newService(carts, cat, ord, pub)

	_, err := svc.Checkout(context.Background(), Input{UserID: "u1"})
	require.Error(t, err)
	assert.Empty(t, pub.values, "an event without an order row is meaningless")
}
