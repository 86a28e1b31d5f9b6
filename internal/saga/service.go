package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/storecraft/checkout-saga/internal/kafka"
	"github.com/storecraft/checkout-saga/internal/orders"
	"github.com/storecraft/checkout-saga/internal/redisx"
	"github.com/storecraft/checkout-saga/internal/stock"
)

type Shortfall struct {
	ProductID string
	Requested int
	Available int
}

// InsufficientStockError is terminal: the order is rejected and nothing is
// retried without customer action.
type InsufficientStockError struct {
	OrderID    string
	Shortfalls []Shortfall
}

func (e *InsufficientStockError) Error() string {
	parts := make([]string, 0, len(e.Shortfalls))
	for _, sf := range e.Shortfalls {
		parts = append(parts, fmt.Sprintf("%s (requested %d, available %d)", sf.ProductID, sf.Requested, sf.Available))
	}
	return fmt.Sprintf("order %s: insufficient stock: %s", e.OrderID, strings.Join(parts, ", "))
}

type StockLedger interface {
	GetByProductIDs(ctx context.Context, ids []string) (map[string]stock.Entry, error)
	Reserve(ctx context.Context, productID string, qty int) error
	Deduct(ctx context.Context, productID string, qty int) error
	Release(ctx context.Context, productID string, qty int) error
}

type OrderStore interface {
	GetStatus(ctx context.Context, orderID string) (orders.Status, error)
	Transition(ctx context.Context, orderID string, to orders.Status) (bool, error)
}

type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

// Service consumes OrderCreated and drives the reservation saga: validate
// every line, then reserve, deduct and confirm, or release whatever was
// reserved and reject. There is no cross-product transaction; correctness
// under partial failure comes from the compensating releases, and
// correctness under redelivery comes from the terminal-status guard.
type Service struct {
	Stock       StockLedger
	Orders      OrderStore
	Redis       *redis.Client
	Producer    Publisher
	ServiceName string
}

func (s *Service) HandleOrderCreated(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return err
	}
	if env.EventType != orders.EventOrderCreated {
		return nil
	}

	// duplicate-delivery fast path
	dkey := fmt.Sprintf(redisx.KeyDedup, "stock-saga", env.EventID)
	if seen, _ := redisx.Exists(ctx, s.Redis, dkey); seen {
		return nil
	}

	p, err := kafkax.UnwrapPayload[orders.OrderCreatedPayload](env.Payload)
	if err != nil {
		return err
	}

	if err := s.process(ctx, p, env.TraceID); err != nil {
		return err
	}

	// marked only after a successful pass so a failed one gets redelivered
	_ = s.Redis.Set(ctx, dkey, "1", redisx.TTLDedup).Err()
	return nil
}

func (s *Service) process(ctx context.Context, p orders.OrderCreatedPayload, trace string) error {
	// A redelivered message for a terminal order has already been through
	// the ledger once; running it again would double-deduct. Check before
	// any mutation.
	st, err := s.Orders.GetStatus(ctx, p.OrderID)
	if errors.Is(err, orders.ErrNotFound) {
		// nothing to reject and nothing to retry against
		log.Printf("saga: order %s not found, dropping event", p.OrderID)
		return nil
	}
	if err != nil {
		return err
	}
	if st.Terminal() {
		log.Printf("saga: order %s already %s, skipping", p.OrderID, st)
		return nil
	}

	ids := make([]string, 0, len(p.Items))
	for _, it := range p.Items {
		ids = append(ids, it.ProductID)
	}
	entries, err := s.Stock.GetByProductIDs(ctx, ids)
	if err != nil {
		return err
	}

	// Validate every line before touching any counter: no partial orders.
	// A missing entry reads as zero available.
	var shorts []Shortfall
	for _, it := range p.Items {
		e := entries[it.ProductID]
		if e.Available() < it.Qty {
			shorts = append(shorts, Shortfall{ProductID: it.ProductID, Requested: it.Qty, Available: e.Available()})
		}
	}
	if len(shorts) > 0 {
		insufficient := &InsufficientStockError{OrderID: p.OrderID, Shortfalls: shorts}
		if _, err := s.Orders.Transition(ctx, p.OrderID, orders.StatusRejected); err != nil {
			return err
		}
		s.cacheStatus(ctx, p.OrderID, orders.StatusRejected)
		log.Printf("saga: rejected: %v", insufficient)
		return nil
	}

	// held tracks reservations not yet converted by a deduct; it is what
	// compensation releases if anything below fails.
	held := make(map[string]int, len(p.Items))
	fail := func(cause error) error {
		s.releaseHeld(ctx, p.OrderID, held)
		if _, terr := s.Orders.Transition(ctx, p.OrderID, orders.StatusRejected); terr != nil {
			log.Printf("saga: order %s reject after failure: %v", p.OrderID, terr)
		} else {
			s.cacheStatus(ctx, p.OrderID, orders.StatusRejected)
		}
		return cause
	}

	for _, it := range p.Items {
		if err := s.Stock.Reserve(ctx, it.ProductID, it.Qty); err != nil {
			return fail(fmt.Errorf("reserve %s: %w", it.ProductID, err))
		}
		held[it.ProductID] += it.Qty
	}

	for _, it := range p.Items {
		if err := s.Stock.Deduct(ctx, it.ProductID, it.Qty); err != nil {
			return fail(fmt.Errorf("deduct %s: %w", it.ProductID, err))
		}
		held[it.ProductID] -= it.Qty
		if held[it.ProductID] <= 0 {
			delete(held, it.ProductID)
		}
	}

	applied, err := s.Orders.Transition(ctx, p.OrderID, orders.StatusConfirmed)
	if err != nil {
		return fail(fmt.Errorf("confirm %s: %w", p.OrderID, err))
	}
	if !applied {
		// a concurrent pass got there first; it owns the confirmation event
		log.Printf("saga: order %s reached a terminal state concurrently", p.OrderID)
		return nil
	}

	s.cacheStatus(ctx, p.OrderID, orders.StatusConfirmed)
	s.publishConfirmed(p.OrderID, p.UserID, trace)
	log.Printf("saga: order %s confirmed, %d lines deducted, total %d",
		p.OrderID, len(p.Items), p.TotalCents)
	return nil
}

// cacheStatus refreshes the read cache so pollers see the outcome without
// waiting out the old entry's TTL. Best-effort.
func (s *Service) cacheStatus(ctx context.Context, orderID string, st orders.Status) {
	key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	_ = s.Redis.Set(ctx, key, fmt.Sprintf(`{"status":%q}`, st), redisx.TTLStatusCache).Err()
}

// releaseHeld undoes still-held reservations, each independently; a failed
// release is logged and left for manual reconciliation.
func (s *Service) releaseHeld(ctx context.Context, orderID string, held map[string]int) {
	for pid, qty := range held {
		if qty <= 0 {
			continue
		}
		if err := s.Stock.Release(ctx, pid, qty); err != nil {
			log.Printf("saga: order %s release %s x%d failed: %v", orderID, pid, qty, err)
		}
	}
}

func (s *Service) publishConfirmed(orderID, userID, trace string) {
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     orders.EventOrderConfirmed,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      s.ServiceName,
		TraceID:       trace,
		CorrelationID: orderID,
		Payload:       kafkax.MustMarshal(orders.OrderConfirmedPayload{OrderID: orderID, UserID: userID}),
	}
	s.Producer.Publish(orders.PartitionKey(orderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(orders.EventOrderConfirmed)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
