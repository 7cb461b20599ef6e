// Package reviews gates product reviews on a delivered purchase and keeps
// at most one review per (user, product, order).
package reviews

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/agrimarket/internal/apperr"
	"github.com/ariefcatur/agrimarket/internal/orders"
)

type Review struct {
	ID        string    `json:"review_id"`
	UserID    string    `json:"user_id"`
	ProductID string    `json:"product_id"`
	OrderID   string    `json:"order_id"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment"`
	CreatedAt time.Time `json:"created_at"`
}

type Summary struct {
	ProductID string          `json:"product_id"`
	Count     int64           `json:"count"`
	Average   decimal.Decimal `json:"average"`
}

type Reason string

const (
	ReasonNotOwner        Reason = "not_owner"
	ReasonNotDelivered    Reason = "not_delivered"
	ReasonProductMissing  Reason = "product_not_in_order"
	ReasonAlreadyReviewed Reason = "already_reviewed"
	ReasonOrderDeleted    Reason = "order_deleted"
)

// Ineligible is the cause carried by every NOT_ELIGIBLE error of this
// package.
type Ineligible struct{ Reason Reason }

func (e *Ineligible) Error() string { return string(e.Reason) }

func notEligible(r Reason, format string, args ...any) error {
	return apperr.Wrap(apperr.KindNotEligible, &Ineligible{Reason: r}, format, args...)
}

// ReasonOf extracts the reason from a NOT_ELIGIBLE error, or "".
func ReasonOf(err error) Reason {
	var ie *Ineligible
	if errors.As(err, &ie) {
		return ie.Reason
	}
	return ""
}

// Facts is what the store knows about one order relative to a
// (user, product) pair.
type Facts struct {
	OwnerID    string
	Status     orders.Status
	Deleted    bool
	HasProduct bool
	Reviewed   bool
}

// check applies the eligibility rules in a fixed order so the reported
// reason is stable.
func (f Facts) check(userID, productID, orderID string) error {
	switch {
	case f.Deleted:
		return notEligible(ReasonOrderDeleted, "order %s was deleted", orderID)
	case f.OwnerID != userID:
		return notEligible(ReasonNotOwner, "order %s belongs to another user", orderID)
	case f.Status != orders.StatusDelivered:
		return notEligible(ReasonNotDelivered, "order %s is %s, not delivered", orderID, f.Status)
	case !f.HasProduct:
		return notEligible(ReasonProductMissing, "order %s does not contain product %s", orderID, productID)
	case f.Reviewed:
		return notEligible(ReasonAlreadyReviewed, "product %s was already reviewed for order %s", productID, orderID)
	}
	return nil
}

type Store interface {
	// Facts returns NOT_FOUND when the order does not exist.
	Facts(ctx context.Context, userID, productID, orderID string) (Facts, error)
	// Insert re-checks eligibility in the same statement. A unique
	// violation surfaces as DUPLICATE_REVIEW.
	Insert(ctx context.Context, r *Review) error
	ListForProduct(ctx context.Context, productID string) ([]Review, error)
	Summary(ctx context.Context, productID string) (Summary, error)
}
