package stock

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repo mutates the ledger one product at a time. Reserve, Deduct and
// Release are single-row atomic counter updates; there is no cross-product
// transaction and no availability guard at reserve time. Availability is
// validated before reserving, so a concurrent saga can still win the race
// between validation and reservation; that window is accepted, and a crash
// mid-sequence leaves partial reservations for the caller to release.
type Repo struct{ DB *pgxpool.Pool }

func (r *Repo) GetByProductIDs(ctx context.Context, ids []string) (map[string]Entry, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT product_id, quantity, reserved, updated_at
		FROM stock_items WHERE product_id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]Entry, len(ids))
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ProductID, &e.Quantity, &e.Reserved, &e.UpdatedAt); err != nil {
			return nil, err
		}
		out[e.ProductID] = e
	}
	return out, rows.Err()
}

func (r *Repo) Reserve(ctx context.Context, productID string, qty int) error {
	return r.bump(ctx, productID, `
		UPDATE stock_items SET reserved = reserved + $2, updated_at = now()
		WHERE product_id=$1`, qty)
}

// Deduct converts a soft reservation into a hard deduction.
func (r *Repo) Deduct(ctx context.Context, productID string, qty int) error {
	return r.bump(ctx, productID, `
		UPDATE stock_items SET quantity = quantity - $2, reserved = reserved - $2, updated_at = now()
		WHERE product_id=$1`, qty)
}

func (r *Repo) Release(ctx context.Context, productID string, qty int) error {
	return r.bump(ctx, productID, `
		UPDATE stock_items SET reserved = reserved - $2, updated_at = now()
		WHERE product_id=$1`, qty)
}

func (r *Repo) bump(ctx context.Context, productID, query string, qty int) error {
	ct, err := r.DB.Exec(ctx, query, productID, qty)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("stock entry missing: %s", productID)
	}
	return nil
}
