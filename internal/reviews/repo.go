package reviews

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/agrimarket/internal/apperr"
	"github.com/ariefcatur/agrimarket/internal/orders"
	"github.com/ariefcatur/agrimarket/internal/postgres"
)

type Repo struct{ DB postgres.Querier }

func (r *Repo) Facts(ctx context.Context, userID, productID, orderID string) (Facts, error) {
	var (
		f      Facts
		status string
	)
	err := r.DB.QueryRow(ctx, `
		SELECT o.user_id, o.status, o.deleted_at IS NOT NULL,
			EXISTS (SELECT 1 FROM order_items oi WHERE oi.order_id = o.order_id AND oi.product_id = $2),
			EXISTS (SELECT 1 FROM reviews rv
				WHERE rv.user_id = $3 AND rv.product_id = $2 AND rv.order_id = o.order_id)
		FROM orders o
		WHERE o.order_id = $1`, orderID, productID, userID,
	).Scan(&f.OwnerID, &status, &f.Deleted, &f.HasProduct, &f.Reviewed)
	if errors.Is(err, pgx.ErrNoRows) {
		return Facts{}, apperr.NotFound("order %s not found", orderID)
	}
	if err != nil {
		return Facts{}, apperr.Persistence(err, "load review eligibility")
	}
	f.Status = orders.Status(status)
	return f, nil
}

// Insert writes the review only if the order still qualifies at write time.
// The unique constraint settles concurrent submissions for the same triple.
func (r *Repo) Insert(ctx context.Context, rv *Review) error {
	err := r.DB.QueryRow(ctx, `
		INSERT INTO reviews(review_id, user_id, product_id, order_id, rating, comment)
		SELECT $1, $2, $3, $4, $5, $6
		WHERE EXISTS (
			SELECT 1 FROM orders o
			JOIN order_items oi ON oi.order_id = o.order_id
			WHERE o.order_id = $4 AND o.user_id = $2 AND oi.product_id = $3
				AND o.status = $7 AND o.deleted_at IS NULL)
		RETURNING created_at`,
		rv.ID, rv.UserID, rv.ProductID, rv.OrderID, rv.Rating, rv.Comment, string(orders.StatusDelivered),
	).Scan(&rv.CreatedAt)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return apperr.New(apperr.KindNotEligible, "order %s no longer qualifies for a review", rv.OrderID)
	case postgres.IsUniqueViolation(err):
		return apperr.Wrap(apperr.KindDuplicateReview, err,
			"product %s already reviewed for order %s", rv.ProductID, rv.OrderID)
	}
	return apperr.Persistence(err, "insert review")
}

func (r *Repo) ListForProduct(ctx context.Context, productID string) ([]Review, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT review_id, user_id, product_id, order_id, rating, comment, created_at
		FROM reviews
		WHERE product_id = $1
		ORDER BY created_at DESC, review_id`, productID)
	if err != nil {
		return nil, apperr.Persistence(err, "list reviews")
	}
	defer rows.Close()

	out := []Review{}
	for rows.Next() {
		var rv Review
		if err := rows.Scan(&rv.ID, &rv.UserID, &rv.ProductID, &rv.OrderID, &rv.Rating, &rv.Comment, &rv.CreatedAt); err != nil {
			return nil, apperr.Persistence(err, "scan review")
		}
		out = append(out, rv)
	}
	return out, apperr.Persistence(rows.Err(), "read reviews")
}

func (r *Repo) Summary(ctx context.Context, productID string) (Summary, error) {
	var count, sum int64
	err := r.DB.QueryRow(ctx, `
		SELECT count(*), COALESCE(sum(rating), 0)
		FROM reviews
		WHERE product_id = $1`, productID).Scan(&count, &sum)
	if err != nil {
		return Summary{}, apperr.Persistence(err, "summarize reviews")
	}
	return summarize(productID, count, sum), nil
}

func summarize(productID string, count, sum int64) Summary {
	s := Summary{ProductID: productID, Count: count, Average: decimal.Zero}
	if count > 0 {
		s.Average = decimal.NewFromInt(sum).DivRound(decimal.NewFromInt(count), 1)
	}
	return s
}
