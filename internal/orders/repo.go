package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("order not found")

type Repo struct{ DB *pgxpool.Pool }

// Create inserts the order and its line items in one transaction, status
// PENDING. The order id is generated here; timestamps come from the DB.
func (r *Repo) Create(ctx context.Context, o *Order) error {
	if len(o.Items) == 0 {
		return fmt.Errorf("order without items")
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	o.Status = StatusPending

	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx, `
		INSERT INTO orders(id, user_id, status, total_cents, shipping_address, notes)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`,
		o.ID, o.UserID, o.Status, o.TotalCents, o.ShippingAddress, o.Notes,
	).Scan(&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return err
	}

	for _, it := range o.Items {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items(order_id, product_id, product_name, qty, price_cents)
			VALUES ($1, $2, $3, $4, $5)`,
			o.ID, it.ProductID, it.ProductName, it.Qty, it.UnitPriceCents,
		); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (r *Repo) Get(ctx context.Context, orderID string) (*Order, error) {
	var o Order
	err := r.DB.QueryRow(ctx, `
		SELECT id, user_id, status, total_cents, shipping_address, notes, created_at, updated_at
		FROM orders WHERE id=$1`, orderID,
	).Scan(&o.ID, &o.UserID, &o.Status, &o.TotalCents, &o.ShippingAddress, &o.Notes, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.DB.Query(ctx, `
		SELECT product_id, product_name, qty, price_cents
		FROM order_items WHERE order_id=$1`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ProductID, &it.ProductName, &it.Qty, &it.UnitPriceCents); err != nil {
			return nil, err
		}
		o.Items = append(o.Items, it)
	}
	return &o, rows.Err()
}

func (r *Repo) GetStatus(ctx context.Context, orderID string) (Status, error) {
	var s string
	err := r.DB.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1`, orderID).Scan(&s)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return Status(s), nil
}

// ListByUser returns order summaries (no items), newest first.
func (r *Repo) ListByUser(ctx context.Context, userID string) ([]Order, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, user_id, status, total_cents, shipping_address, notes, created_at, updated_at
		FROM orders WHERE user_id=$1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.UserID, &o.Status, &o.TotalCents, &o.ShippingAddress, &o.Notes, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Transition moves a PENDING order to a terminal status. The WHERE clause
// makes it a compare-and-set: it reports false when the order was already
// terminal (or missing), which is what consumers use as their idempotency
// guard under at-least-once delivery.
func (r *Repo) Transition(ctx context.Context, orderID string, to Status) (bool, error) {
	if !CanTransition(StatusPending, to) {
		return false, fmt.Errorf("invalid transition %s -> %s", StatusPending, to)
	}
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders SET status=$2, updated_at=now()
		WHERE id=$1 AND status=$3`,
		orderID, to, StatusPending)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}
