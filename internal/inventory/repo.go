package inventory

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/ariefcatur/agrimarket/internal/apperr"
	"github.com/ariefcatur/agrimarket/internal/orders"
	"github.com/ariefcatur/agrimarket/internal/postgres"
)

const (
	reservationReserved = "RESERVED"
	reservationReleased = "RELEASED"

	// tombstoneProduct marks an order released before anything was reserved.
	tombstoneProduct = ""
)

// Outcome of a reservation attempt.
type Outcome int

const (
	Reserved Outcome = iota
	Rejected
	Skipped // order already cancelled or released
)

var errRejected = errors.New("stock rejected")

type Repo struct{ DB postgres.DB }

// AlreadyReserved reports whether every item of the order already holds a
// reservation, so a redelivered event can be answered without touching stock.
func (r *Repo) AlreadyReserved(ctx context.Context, orderID string, itemCount int) (bool, error) {
	var n int
	err := r.DB.QueryRow(ctx, `
		SELECT count(*) FROM reservations
		WHERE order_id = $1 AND status = $2`, orderID, reservationReserved).Scan(&n)
	if err != nil {
		return false, apperr.Persistence(err, "count reservations")
	}
	return n == itemCount, nil
}

// lockOrder serialises reserve and release for one order until the
// transaction ends.
func lockOrder(ctx context.Context, tx pgx.Tx, orderID string) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, orderID)
	return err
}

// ReserveAll locks each product row, decrements stock and records the
// reservation. If any item falls short nothing is committed and the
// shortfalls are returned. Orders that were cancelled or released first are
// skipped.
func (r *Repo) ReserveAll(ctx context.Context, orderID string, items []orders.ItemQty) (Outcome, []orders.StockRejectedDetail, error) {
	var (
		rejects []orders.StockRejectedDetail
		skipped bool
	)
	err := postgres.WithTx(ctx, r.DB, func(tx pgx.Tx) error {
		if err := lockOrder(ctx, tx, orderID); err != nil {
			return err
		}
		if err := tx.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM reservations WHERE order_id = $1 AND status = $2)
				OR EXISTS (SELECT 1 FROM orders WHERE order_id = $1 AND status = $3)`,
			orderID, reservationReleased, string(orders.StatusCancelled)).Scan(&skipped); err != nil {
			return err
		}
		if skipped {
			return nil
		}

		for _, it := range items {
			var stock int
			err := tx.QueryRow(ctx, `SELECT stock FROM products WHERE product_id = $1 FOR UPDATE`, it.ProductID).Scan(&stock)
			if errors.Is(err, pgx.ErrNoRows) {
				rejects = append(rejects, orders.StockRejectedDetail{ProductID: it.ProductID, Required: it.Qty})
				continue
			}
			if err != nil {
				return err
			}
			if stock < it.Qty {
				rejects = append(rejects, orders.StockRejectedDetail{
					ProductID: it.ProductID, Required: it.Qty, Available: stock,
				})
				continue
			}

			if _, err := tx.Exec(ctx, `UPDATE products SET stock = stock - $2, updated_at = now() WHERE product_id = $1`,
				it.ProductID, it.Qty); err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO reservations(order_id, product_id, qty, status)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (order_id, product_id) DO NOTHING`,
				orderID, it.ProductID, it.Qty, reservationReserved); err != nil {
				return err
			}
		}
		if len(rejects) > 0 {
			return errRejected
		}
		return nil
	})
	switch {
	case errors.Is(err, errRejected):
		return Rejected, rejects, nil
	case err != nil:
		return Rejected, nil, apperr.Persistence(err, "reserve stock for order %s", orderID)
	case skipped:
		return Skipped, nil, nil
	}
	return Reserved, nil, nil
}

// ReleaseAll puts reserved stock back and returns how many items it
// released. Already released orders release nothing. When nothing was
// reserved yet a tombstone is written so a late reservation is skipped.
func (r *Repo) ReleaseAll(ctx context.Context, orderID string) (int, error) {
	var released int
	err := postgres.WithTx(ctx, r.DB, func(tx pgx.Tx) error {
		if err := lockOrder(ctx, tx, orderID); err != nil {
			return err
		}
		rows, err := tx.Query(ctx, `
			SELECT product_id, qty FROM reservations
			WHERE order_id = $1 AND status = $2
			FOR UPDATE`, orderID, reservationReserved)
		if err != nil {
			return err
		}
		var items []orders.ItemQty
		for rows.Next() {
			var it orders.ItemQty
			if err := rows.Scan(&it.ProductID, &it.Qty); err != nil {
				rows.Close()
				return err
			}
			items = append(items, it)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		if len(items) == 0 {
			_, err := tx.Exec(ctx, `
				INSERT INTO reservations(order_id, product_id, qty, status)
				VALUES ($1, $2, 0, $3)
				ON CONFLICT (order_id, product_id) DO NOTHING`,
				orderID, tombstoneProduct, reservationReleased)
			return err
		}

		for _, it := range items {
			if _, err := tx.Exec(ctx, `UPDATE products SET stock = stock + $2, updated_at = now() WHERE product_id = $1`,
				it.ProductID, it.Qty); err != nil {
				return err
			}
		}
		if _, err := tx.Exec(ctx, `
			UPDATE reservations SET status = $3
			WHERE order_id = $1 AND status = $2`, orderID, reservationReserved, reservationReleased); err != nil {
			return err
		}
		released = len(items)
		return nil
	})
	if err != nil {
		return 0, apperr.Persistence(err, "release stock for order %s", orderID)
	}
	return released, nil
}
