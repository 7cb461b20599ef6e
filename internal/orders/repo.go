package orders

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ariefcatur/agrimarket/internal/apperr"
	"github.com/ariefcatur/agrimarket/internal/payments"
	"github.com/ariefcatur/agrimarket/internal/postgres"
)

// Store is the persistence the order service needs. Repo is the PostgreSQL
// implementation.
type Store interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string, includeDeleted bool) (*Order, error)
	ListByUser(ctx context.Context, userID string, page Page) ([]Order, error)
	ListAll(ctx context.Context, f AdminFilter) ([]Order, int64, error)
	Transition(ctx context.Context, id string, from, to Status, changedBy, processedBy *string) (time.Time, error)
	SoftDelete(ctx context.Context, id string) (time.Time, error)
	ApplyPayment(ctx context.Context, e *payments.Entry, transactionID string) (*Order, error)
	History(ctx context.Context, id string) ([]StatusChange, error)
	Recipient(ctx context.Context, userID string) (Recipient, error)
}

type Repo struct{ DB postgres.DB }

const orderColumns = `order_id, user_id, status, payment_status, payment_method, COALESCE(transaction_id, ''),
	subtotal, shipping, tax, total, shipping_address, created_at, deleted_at, processed_by`

// Create writes the order header, its line items (keeping their order) and
// the first history row in one transaction.
func (r *Repo) Create(ctx context.Context, o *Order) error {
	addr, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return apperr.Validation("shipping address: %v", err)
	}
	err = postgres.WithTx(ctx, r.DB, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `
			INSERT INTO orders(order_id, user_id, status, payment_status, payment_method,
				subtotal, shipping, tax, total, shipping_address)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING created_at`,
			o.ID, o.UserID, string(o.Status), string(o.PaymentStatus), o.PaymentMethod,
			o.SubtotalCents, o.ShippingCents, o.TaxCents, o.TotalCents, addr,
		).Scan(&o.CreatedAt); err != nil {
			return err
		}

		for i, it := range o.Items {
			if _, err := tx.Exec(ctx, `
				INSERT INTO order_items(order_id, product_id, quantity, price, position)
				VALUES ($1, $2, $3, $4, $5)`,
				o.ID, it.ProductID, it.Quantity, it.UnitPriceCents, i,
			); err != nil {
				return err
			}
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO order_status_history(order_id, status, changed_by)
			VALUES ($1, $2, $3)`, o.ID, string(o.Status), o.UserID)
		return err
	})
	return apperr.Persistence(err, "create order")
}

func (r *Repo) Get(ctx context.Context, id string, includeDeleted bool) (*Order, error) {
	return getOrder(ctx, r.DB, id, includeDeleted)
}

func getOrder(ctx context.Context, q postgres.Querier, id string, includeDeleted bool) (*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE order_id = $1 AND deleted_at IS NULL`
	if includeDeleted {
		query = `SELECT ` + orderColumns + ` FROM orders WHERE order_id = $1`
	}
	o, err := scanOrder(q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("order %s not found", id)
	}
	if err != nil {
		return nil, apperr.Persistence(err, "load order %s", id)
	}

	items, err := loadItems(ctx, q, []string{id})
	if err != nil {
		return nil, err
	}
	o.Items = items[id]
	return o, nil
}

func (r *Repo) ListByUser(ctx context.Context, userID string, page Page) ([]Order, error) {
	page = page.normalize()
	rows, err := r.DB.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE user_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, userID, page.Size, page.Offset())
	if err != nil {
		return nil, apperr.Persistence(err, "list orders for user")
	}
	out, err := collectOrders(rows)
	if err != nil {
		return nil, err
	}
	return out, r.attachItems(ctx, out)
}

// ListAll is the admin view. Soft-deleted orders are included only when the
// filter asks for them.
func (r *Repo) ListAll(ctx context.Context, f AdminFilter) ([]Order, int64, error) {
	page := f.Page.normalize()

	var total int64
	if err := r.DB.QueryRow(ctx, `
		SELECT count(*) FROM orders
		WHERE ($1 = '' OR status = $1) AND ($2 OR deleted_at IS NULL)`,
		string(f.Status), f.IncludeDeleted,
	).Scan(&total); err != nil {
		return nil, 0, apperr.Persistence(err, "count orders")
	}

	rows, err := r.DB.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE ($1 = '' OR status = $1) AND ($2 OR deleted_at IS NULL)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`,
		string(f.Status), f.IncludeDeleted, page.Size, page.Offset())
	if err != nil {
		return nil, 0, apperr.Persistence(err, "list orders")
	}
	out, err := collectOrders(rows)
	if err != nil {
		return nil, 0, err
	}
	return out, total, r.attachItems(ctx, out)
}

// Transition moves the order from -> to with a conditional update, so a
// concurrent change between read and write turns into InvalidTransition
// instead of a lost update. The history row is written in the same
// transaction. A nil processedBy keeps the current value.
func (r *Repo) Transition(ctx context.Context, id string, from, to Status, changedBy, processedBy *string) (time.Time, error) {
	var at time.Time
	err := postgres.WithTx(ctx, r.DB, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE orders SET status = $3, processed_by = COALESCE($4, processed_by)
			WHERE order_id = $1 AND status = $2 AND deleted_at IS NULL`,
			id, string(from), string(to), processedBy)
		if err != nil {
			return err
		}
		if tag.RowsAffected() != 1 {
			return apperr.New(apperr.KindInvalidTransition, "order %s is no longer %s", id, from)
		}
		return tx.QueryRow(ctx, `
			INSERT INTO order_status_history(order_id, status, changed_by)
			VALUES ($1, $2, $3)
			RETURNING created_at`, id, string(to), changedBy).Scan(&at)
	})
	if err != nil {
		return time.Time{}, apperr.Persistence(err, "transition order %s", id)
	}
	return at, nil
}

func (r *Repo) SoftDelete(ctx context.Context, id string) (time.Time, error) {
	var at time.Time
	err := r.DB.QueryRow(ctx, `
		UPDATE orders SET deleted_at = now()
		WHERE order_id = $1 AND deleted_at IS NULL
		RETURNING deleted_at`, id).Scan(&at)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, apperr.NotFound("order %s not found", id)
	}
	if err != nil {
		return time.Time{}, apperr.Persistence(err, "soft delete order %s", id)
	}
	return at, nil
}

// ApplyPayment appends e to the ledger and, for a completed payment, updates
// the order's payment projection. Both happen in one transaction.
func (r *Repo) ApplyPayment(ctx context.Context, e *payments.Entry, transactionID string) (*Order, error) {
	var o *Order
	err := postgres.WithTx(ctx, r.DB, func(tx pgx.Tx) error {
		if err := payments.AppendTx(ctx, tx, e); err != nil {
			return err
		}
		if e.Status == payments.StatusCompleted {
			if _, err := tx.Exec(ctx, `
				UPDATE orders SET payment_status = $2, transaction_id = $3
				WHERE order_id = $1`,
				e.OrderID, string(payments.StatusCompleted), transactionID); err != nil {
				return err
			}
		}
		var err error
		o, err = getOrder(ctx, tx, e.OrderID, true)
		return err
	})
	if err != nil {
		return nil, apperr.Persistence(err, "record payment for order %s", e.OrderID)
	}
	return o, nil
}

func (r *Repo) History(ctx context.Context, id string) ([]StatusChange, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT status, changed_by, created_at
		FROM order_status_history
		WHERE order_id = $1
		ORDER BY id`, id)
	if err != nil {
		return nil, apperr.Persistence(err, "load status history")
	}
	defer rows.Close()

	out := []StatusChange{}
	for rows.Next() {
		var (
			c      = StatusChange{OrderID: id}
			status string
		)
		if err := rows.Scan(&status, &c.ChangedBy, &c.CreatedAt); err != nil {
			return nil, apperr.Persistence(err, "scan status history")
		}
		c.Status = Status(status)
		out = append(out, c)
	}
	return out, apperr.Persistence(rows.Err(), "read status history")
}

func (r *Repo) Recipient(ctx context.Context, userID string) (Recipient, error) {
	var rc Recipient
	err := r.DB.QueryRow(ctx, `SELECT email, full_name FROM users WHERE user_id = $1`, userID).
		Scan(&rc.Email, &rc.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return Recipient{}, apperr.NotFound("user %s not found", userID)
	}
	return rc, apperr.Persistence(err, "load recipient")
}

func (r *Repo) attachItems(ctx context.Context, out []Order) error {
	if len(out) == 0 {
		return nil
	}
	ids := make([]string, len(out))
	for i := range out {
		ids[i] = out[i].ID
	}
	items, err := loadItems(ctx, r.DB, ids)
	if err != nil {
		return err
	}
	for i := range out {
		out[i].Items = items[out[i].ID]
	}
	return nil
}

func loadItems(ctx context.Context, q postgres.Querier, orderIDs []string) (map[string][]LineItem, error) {
	rows, err := q.Query(ctx, `
		SELECT order_id, product_id, quantity, price
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, position`, orderIDs)
	if err != nil {
		return nil, apperr.Persistence(err, "load order items")
	}
	defer rows.Close()

	out := make(map[string][]LineItem, len(orderIDs))
	for rows.Next() {
		var (
			orderID string
			it      LineItem
		)
		if err := rows.Scan(&orderID, &it.ProductID, &it.Quantity, &it.UnitPriceCents); err != nil {
			return nil, apperr.Persistence(err, "scan order item")
		}
		out[orderID] = append(out[orderID], it)
	}
	return out, apperr.Persistence(rows.Err(), "read order items")
}

func collectOrders(rows pgx.Rows) ([]Order, error) {
	defer rows.Close()
	out := []Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, apperr.Persistence(err, "scan order")
		}
		out = append(out, *o)
	}
	return out, apperr.Persistence(rows.Err(), "read orders")
}

func scanOrder(row pgx.Row) (*Order, error) {
	var (
		o                     Order
		status, paymentStatus string
		addr                  []byte
	)
	err := row.Scan(&o.ID, &o.UserID, &status, &paymentStatus, &o.PaymentMethod, &o.TransactionID,
		&o.SubtotalCents, &o.ShippingCents, &o.TaxCents, &o.TotalCents, &addr,
		&o.CreatedAt, &o.DeletedAt, &o.ProcessedBy)
	if err != nil {
		return nil, err
	}
	o.Status = Status(status)
	o.PaymentStatus = payments.Status(paymentStatus)
	if err := json.Unmarshal(addr, &o.ShippingAddress); err != nil {
		return nil, err
	}
	return &o, nil
}
