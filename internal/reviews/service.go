package reviews

import (
	"context"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ariefcatur/agrimarket/internal/apperr"
	"github.com/ariefcatur/agrimarket/internal/auth"
	kafkax "github.com/ariefcatur/agrimarket/internal/kafka"
	"github.com/ariefcatur/agrimarket/internal/orders"
)

type Service struct {
	Store       Store
	Events      orders.Publisher
	ServiceName string
	Log         *zap.Logger
}

type Submission struct {
	ProductID string `json:"product_id" validate:"required"`
	OrderID   string `json:"order_id" validate:"required"`
	Rating    int    `json:"rating" validate:"min=1,max=5"`
	Comment   string `json:"comment" validate:"required,max=2000"`
}

var validate = validator.New()

// CheckEligibility returns nil when actor may review productID for orderID.
// Otherwise the error is NOT_ELIGIBLE (see ReasonOf) or NOT_FOUND.
func (s *Service) CheckEligibility(ctx context.Context, actor auth.Actor, productID, orderID string) error {
	if actor.IsSystem() {
		return apperr.Forbidden("reviews need a user")
	}
	f, err := s.Store.Facts(ctx, actor.UserID, productID, orderID)
	if err != nil {
		return err
	}
	return f.check(actor.UserID, productID, orderID)
}

// SubmitReview validates the input, re-checks eligibility and inserts. Two
// concurrent submissions for the same triple end with one review and one
// DUPLICATE_REVIEW.
func (s *Service) SubmitReview(ctx context.Context, actor auth.Actor, in Submission) (*Review, error) {
	in.Comment = strings.TrimSpace(in.Comment)
	if err := validate.Struct(in); err != nil {
		return nil, orders.ValidationError(err)
	}
	if err := s.CheckEligibility(ctx, actor, in.ProductID, in.OrderID); err != nil {
		if ReasonOf(err) == ReasonAlreadyReviewed {
			return nil, apperr.Wrap(apperr.KindDuplicateReview, err,
				"product %s already reviewed for order %s", in.ProductID, in.OrderID)
		}
		return nil, err
	}

	rv := &Review{
		ID:        uuid.NewString(),
		UserID:    actor.UserID,
		ProductID: in.ProductID,
		OrderID:   in.OrderID,
		Rating:    in.Rating,
		Comment:   in.Comment,
	}
	if err := s.Store.Insert(ctx, rv); err != nil {
		return nil, err
	}

	err := orders.Emit(s.Events, s.ServiceName, kafkax.TraceID(ctx), orders.TopicReviewSubmitted,
		orders.EventReviewSubmitted, rv.OrderID, orders.ReviewSubmittedPayload{
			ReviewID: rv.ID, ProductID: rv.ProductID, OrderID: rv.OrderID, Rating: rv.Rating,
		})
	if err != nil {
		s.logger().Warn("emit review event", zap.String("review_id", rv.ID), zap.Error(err))
	}
	return rv, nil
}

func (s *Service) ListForProduct(ctx context.Context, productID string) ([]Review, error) {
	return s.Store.ListForProduct(ctx, productID)
}

func (s *Service) Summary(ctx context.Context, productID string) (Summary, error) {
	return s.Store.Summary(ctx, productID)
}

func (s *Service) logger() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}
