package cart

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/storecraft/checkout-saga/internal/redisx"
)

// MaxDelta caps a single quantity change. Larger jumps are almost always a
// client bug, not a customer.
const MaxDelta = 100

var (
	ErrInvalidProduct = errors.New("product id is required")
	ErrInvalidDelta   = fmt.Errorf("quantity change must be non-zero and within ±%d", MaxDelta)
)

const fieldUpdatedAt = "_updated_at"

// Cart is ephemeral Redis state, not a system of record. Losing one costs a
// customer their in-progress selection, nothing more.
type Cart struct {
	UserID    string         `json:"user_id"`
	Items     map[string]int `json:"items"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Store keeps one Redis hash per user: a field per product id holding the
// quantity, plus a timestamp metadata field. Every mutation slides the key
// TTL forward.
type Store struct {
	RDB *redis.Client
	TTL time.Duration
}

func key(userID string) string { return fmt.Sprintf(redisx.KeyCart, userID) }

// Get returns an empty cart when none exists; absence is not an error.
func (s *Store) Get(ctx context.Context, userID string) (Cart, error) {
	c := Cart{UserID: userID, Items: map[string]int{}}

	fields, err := s.RDB.HGetAll(ctx, key(userID)).Result()
	if err != nil {
		return c, err
	}
	for f, v := range fields {
		if f == fieldUpdatedAt {
			if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
				c.UpdatedAt = t
			}
			continue
		}
		qty, err := strconv.Atoi(v)
		if err != nil {
			log.Printf("cart: user %s has bad qty for %s: %q", userID, f, v)
			continue
		}
		c.Items[f] = qty
	}
	return c, nil
}

// AddOrUpdate atomically increments the stored quantity by delta (HINCRBY,
// so concurrent adds never lose an update). A resulting quantity ≤ 0
// deletes the entry instead of storing it.
func (s *Store) AddOrUpdate(ctx context.Context, userID, productID string, delta int) error {
	if productID == "" {
		return ErrInvalidProduct
	}
	if delta == 0 || delta > MaxDelta || delta < -MaxDelta {
		return ErrInvalidDelta
	}

	k := key(userID)
	qty, err := s.RDB.HIncrBy(ctx, k, productID, int64(delta)).Result()
	if err != nil {
		return err
	}
	if qty <= 0 {
		if err := s.RDB.HDel(ctx, k, productID).Err(); err != nil {
			return err
		}
	}
	s.touch(ctx, k)
	return nil
}

// Remove deletes the entry unconditionally; removing an absent entry is a
// no-op.
func (s *Store) Remove(ctx context.Context, userID, productID string) error {
	if productID == "" {
		return ErrInvalidProduct
	}
	k := key(userID)
	if err := s.RDB.HDel(ctx, k, productID).Err(); err != nil {
		return err
	}
	s.touch(ctx, k)
	return nil
}

// Clear drops the whole cart. Deleting an absent cart is a no-op.
func (s *Store) Clear(ctx context.Context, userID string) error {
	return s.RDB.Del(ctx, key(userID)).Err()
}

// touch refreshes the metadata timestamp and slides the expiration window.
// Both are fire-and-forget: cart metadata is not worth failing a mutation.
func (s *Store) touch(ctx context.Context, k string) {
	_ = s.RDB.HSet(ctx, k, fieldUpdatedAt, time.Now().UTC().Format(time.RFC3339Nano)).Err()
	_ = s.RDB.Expire(ctx, k, s.TTL).Err()
}
