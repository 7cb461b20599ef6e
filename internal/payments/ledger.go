// Package payments keeps the append-only history of payment attempts per
// order. Rows are inserted and read, never updated or deleted.
package payments

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ariefcatur/agrimarket/internal/apperr"
	"github.com/ariefcatur/agrimarket/internal/postgres"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRefunded   Status = "refunded"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusRefunded:
		return true
	}
	return false
}

var ErrOrderMissing = errors.New("referenced order does not exist")

type Entry struct {
	ID          string    `json:"log_id"`
	OrderID     string    `json:"order_id"`
	Method      string    `json:"payment_method"`
	AmountCents int64     `json:"amount_cents"`
	Status      Status    `json:"status"`
	Details     string    `json:"details"`
	CreatedAt   time.Time `json:"created_at"`
}

type Ledger struct{ DB postgres.Querier }

func (l *Ledger) Append(ctx context.Context, e *Entry) error {
	return AppendTx(ctx, l.DB, e)
}

// AppendTx inserts e using q, which may be an open transaction. The insert is
// guarded on the order existing; e.ID and e.CreatedAt are filled in.
func AppendTx(ctx context.Context, q postgres.Querier, e *Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	err := q.QueryRow(ctx, `
		INSERT INTO payment_logs(log_id, order_id, payment_method, amount, status, details)
		SELECT $1, $2, $3, $4, $5, $6
		WHERE EXISTS (SELECT 1 FROM orders WHERE order_id = $2)
		RETURNING created_at`,
		e.ID, e.OrderID, e.Method, e.AmountCents, string(e.Status), e.Details,
	).Scan(&e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.Wrap(apperr.KindPersistence, ErrOrderMissing, "append payment log for order %s", e.OrderID)
	}
	return apperr.Persistence(err, "append payment log for order %s", e.OrderID)
}

// HistoryFor yields the entries of one order, oldest first. Each range runs
// the query again, so a later iteration also sees newer appends.
func (l *Ledger) HistoryFor(ctx context.Context, orderID string) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		rows, err := l.DB.Query(ctx, `
			SELECT log_id, order_id, payment_method, amount, status, details, created_at
			FROM payment_logs
			WHERE order_id = $1
			ORDER BY created_at, log_id`, orderID)
		if err != nil {
			yield(Entry{}, apperr.Persistence(err, "query payment history"))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var (
				e      Entry
				status string
			)
			if err := rows.Scan(&e.ID, &e.OrderID, &e.Method, &e.AmountCents, &status, &e.Details, &e.CreatedAt); err != nil {
				yield(Entry{}, apperr.Persistence(err, "scan payment log"))
				return
			}
			e.Status = Status(status)
			if !yield(e, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(Entry{}, apperr.Persistence(err, "read payment history"))
		}
	}
}

func (l *Ledger) History(ctx context.Context, orderID string) ([]Entry, error) {
	out := []Entry{}
	for e, err := range l.HistoryFor(ctx, orderID) {
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
