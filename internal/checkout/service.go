package checkout

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/storecraft/checkout-saga/internal/cart"
	"github.com/storecraft/checkout-saga/internal/catalog"
	kafkax "github.com/storecraft/checkout-saga/internal/kafka"
	"github.com/storecraft/checkout-saga/internal/orders"
)

var ErrEmptyCart = errors.New("cannot checkout an empty cart")

// ProductUnavailableError rejects a checkout whose cart references a product
// the catalog no longer sells.
type ProductUnavailableError struct{ ProductID string }

func (e *ProductUnavailableError) Error() string {
	return fmt.Sprintf("product %s is no longer available", e.ProductID)
}

type CartReader interface {
	Get(ctx context.Context, userID string) (cart.Cart, error)
}

type Catalog interface {
	GetByIDs(ctx context.Context, ids []string) ([]catalog.Product, error)
}

type OrderCreator interface {
	Create(ctx context.Context, o *orders.Order) error
}

type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

type Input struct {
	UserID          string
	ShippingAddress string
	Notes           string
	TraceID         string
}

type Receipt struct {
	OrderID    string `json:"order_id"`
	TotalCents int    `json:"total_cents"`
	ItemCount  int    `json:"item_count"`
	Status     string `json:"status"`
}

// Service turns a cart into a PENDING order and hands the rest to the
// stock consumer via OrderCreated. It returns before stock is validated and
// deliberately leaves the cart intact: the cart is only cleared once the
// worker confirms the order.
type Service struct {
	Carts       CartReader
	Catalog     Catalog
	Orders      OrderCreator
	Producer    Publisher
	ServiceName string
}

func (s *Service) Checkout(ctx context.Context, in Input) (Receipt, error) {
	c, err := s.Carts.Get(ctx, in.UserID)
	if err != nil {
		return Receipt{}, err
	}
	if len(c.Items) == 0 {
		return Receipt{}, ErrEmptyCart
	}

	ids := make([]string, 0, len(c.Items))
	for pid := range c.Items {
		ids = append(ids, pid)
	}
	sort.Strings(ids) // stable line item order

	// Re-price from the catalog so the order snapshots CURRENT prices, not
	// whatever the price was when the item went into the cart.
	products, err := s.Catalog.GetByIDs(ctx, ids)
	if err != nil {
		return Receipt{}, err
	}
	byID := make(map[string]catalog.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	items := make([]orders.OrderItem, 0, len(ids))
	total := 0
	for _, pid := range ids {
		p, ok := byID[pid]
		if !ok || !p.IsActive {
			return Receipt{}, &ProductUnavailableError{ProductID: pid}
		}
		qty := c.Items[pid]
		items = append(items, orders.OrderItem{
			ProductID:      p.ID,
			ProductName:    p.Name,
			Qty:            qty,
			UnitPriceCents: p.PriceCents,
		})
		total += qty * p.PriceCents
	}

	o := &orders.Order{
		UserID:          in.UserID,
		TotalCents:      total,
		ShippingAddress: in.ShippingAddress,
		Notes:           in.Notes,
		Items:           items,
	}
	if err := s.Orders.Create(ctx, o); err != nil {
		return Receipt{}, err
	}

	// The order exists; from here on the event channel owns the outcome.
	// If this publish is lost the order stays PENDING: there is no
	// reconciliation sweep.
	s.publishCreated(o, in.TraceID)

	log.Printf("checkout: order %s created for user %s, %d items, total %d",
		o.ID, in.UserID, len(items), total)

	return Receipt{
		OrderID:    o.ID,
		TotalCents: total,
		ItemCount:  len(items),
		Status:     string(o.Status),
	}, nil
}

func (s *Service) publishCreated(o *orders.Order, trace string) {
	evItems := make([]orders.EventItem, 0, len(o.Items))
	for _, it := range o.Items {
		evItems = append(evItems, orders.EventItem{
			ProductID:      it.ProductID,
			ProductName:    it.ProductName,
			Qty:            it.Qty,
			UnitPriceCents: it.UnitPriceCents,
		})
	}
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     orders.EventOrderCreated,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      s.ServiceName,
		TraceID:       trace,
		CorrelationID: o.ID,
		Payload: kafkax.MustMarshal(orders.OrderCreatedPayload{
			OrderID:    o.ID,
			UserID:     o.UserID,
			Items:      evItems,
			TotalCents: o.TotalCents,
			CreatedAt:  o.CreatedAt,
		}),
	}
	s.Producer.Publish(orders.PartitionKey(o.ID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(orders.EventOrderCreated)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
