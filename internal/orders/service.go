package orders

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ariefcatur/agrimarket/internal/apperr"
	"github.com/ariefcatur/agrimarket/internal/auth"
	kafkax "github.com/ariefcatur/agrimarket/internal/kafka"
	"github.com/ariefcatur/agrimarket/internal/payments"
)

// Auditor records privileged actions. Implementations must not fail the
// caller.
type Auditor interface {
	Log(ctx context.Context, actor auth.Actor, action, table, recordID string, details map[string]any)
}

type Notifier interface {
	SendOrderConfirmation(ctx context.Context, o *Order, to Recipient) Delivery
	SendOrderStatusUpdate(ctx context.Context, o *Order, to Recipient, newStatus Status) Delivery
}

// Pricer snapshots current catalog prices for a cart.
type Pricer interface {
	PriceItems(ctx context.Context, items []ItemInput) ([]LineItem, error)
}

type PaymentHistory interface {
	HistoryFor(ctx context.Context, orderID string) iter.Seq2[payments.Entry, error]
}

type Service struct {
	Store       Store
	Catalog     Pricer
	Payments    PaymentHistory
	Pricing     Pricing
	Audit       Auditor
	Notifier    Notifier
	Events      Publisher
	ServiceName string
	Log         *zap.Logger
}

var validate = validator.New()

type NewOrder struct {
	Items              []LineItem
	ShippingAddress    ShippingAddress
	PaymentMethod      string
	ExpectedTotalCents *int64
}

type CheckoutInput struct {
	Items              []ItemInput     `json:"items" validate:"required,min=1,dive"`
	ShippingAddress    ShippingAddress `json:"shipping_address"`
	PaymentMethod      string          `json:"payment_method" validate:"required,max=50"`
	ExpectedTotalCents *int64          `json:"expected_total_cents,omitempty"`
}

type PaymentInput struct {
	OrderID       string          `json:"order_id"`
	Method        string          `json:"payment_method"`
	AmountCents   int64           `json:"amount_cents"`
	Status        payments.Status `json:"status"`
	Details       string          `json:"details"`
	TransactionID string          `json:"transaction_id"`
}

// Checkout prices the cart from the catalog and creates the order.
func (s *Service) Checkout(ctx context.Context, actor auth.Actor, in CheckoutInput) (*Order, Delivery, error) {
	if err := validate.Struct(in); err != nil {
		return nil, Delivery{}, ValidationError(err)
	}
	items, err := s.Catalog.PriceItems(ctx, in.Items)
	if err != nil {
		return nil, Delivery{}, err
	}
	return s.CreateOrder(ctx, actor, NewOrder{
		Items:              items,
		ShippingAddress:    in.ShippingAddress,
		PaymentMethod:      in.PaymentMethod,
		ExpectedTotalCents: in.ExpectedTotalCents,
	})
}

// CreateOrder validates and prices the line items and stores a pending
// order. The confirmation email goes out after commit; its outcome is
// returned but never undoes the order.
func (s *Service) CreateOrder(ctx context.Context, actor auth.Actor, in NewOrder) (*Order, Delivery, error) {
	if actor.IsSystem() {
		return nil, Delivery{}, apperr.Forbidden("orders need an owning user")
	}
	if err := validate.Struct(in.ShippingAddress); err != nil {
		return nil, Delivery{}, ValidationError(err)
	}
	method := strings.TrimSpace(in.PaymentMethod)
	if method == "" {
		return nil, Delivery{}, apperr.Validation("payment method is required")
	}
	items, err := MergeItems(in.Items)
	if err != nil {
		return nil, Delivery{}, err
	}
	totals, err := s.Pricing.QuoteExpecting(items, in.ExpectedTotalCents)
	if err != nil {
		return nil, Delivery{}, err
	}

	o := &Order{
		ID:              uuid.NewString(),
		UserID:          actor.UserID,
		Items:           items,
		Totals:          totals,
		Status:          StatusPending,
		PaymentStatus:   payments.StatusPending,
		PaymentMethod:   method,
		ShippingAddress: in.ShippingAddress,
	}
	if err := s.Store.Create(ctx, o); err != nil {
		return nil, Delivery{}, err
	}

	s.audit(ctx, actor, "order.create", "orders", o.ID, map[string]any{
		"total_cents": o.TotalCents,
		"items":       len(o.Items),
	})
	s.emit(ctx, TopicOrderCreated, EventOrderCreated, o.ID, OrderCreatedPayload{
		OrderID: o.ID, UserID: o.UserID, Items: o.Items, TotalCents: o.TotalCents,
	})
	s.logger().Info("order created", zap.String("order_id", o.ID), zap.String("user_id", o.UserID),
		zap.Int64("total_cents", o.TotalCents))

	return o, s.notify(ctx, o, func(rc Recipient) Delivery {
		return s.Notifier.SendOrderConfirmation(ctx, o, rc)
	}), nil
}

// AdvanceStatus moves an order to the next status. Staff with
// advance_orders may make any legal move; an owner may only cancel.
func (s *Service) AdvanceStatus(ctx context.Context, actor auth.Actor, id string, to Status) (*Order, Delivery, error) {
	if !to.Valid() {
		return nil, Delivery{}, apperr.Validation("unknown order status %q", to)
	}
	o, err := s.Store.Get(ctx, id, false)
	if err != nil {
		return nil, Delivery{}, err
	}

	staff := actor.Can(auth.CapAdvanceOrders)
	owner := !actor.IsSystem() && o.UserID == actor.UserID
	if !staff && !(owner && to == StatusCancelled) {
		return nil, Delivery{}, apperr.Forbidden("not allowed to move order %s to %s", id, to)
	}
	if !CanTransition(o.Status, to) {
		return nil, Delivery{}, apperr.New(apperr.KindInvalidTransition,
			"cannot move order %s from %s to %s", id, o.Status, to)
	}

	var processedBy *string
	if staff {
		processedBy = actor.Ref()
	}
	at, err := s.Store.Transition(ctx, id, o.Status, to, actor.Ref(), processedBy)
	if err != nil {
		return nil, Delivery{}, err
	}
	from := o.Status
	o.Status = to
	if processedBy != nil {
		o.ProcessedBy = processedBy
	}

	s.audit(ctx, actor, "order.status", "orders", id, map[string]any{
		"from":       string(from),
		"to":         string(to),
		"changed_at": at,
	})
	s.emit(ctx, TopicOrderStatusChanged, EventOrderStatusChanged, id, OrderStatusChangedPayload{
		OrderID: id, From: from, To: to, Items: o.Items,
	})

	return o, s.notify(ctx, o, func(rc Recipient) Delivery {
		return s.Notifier.SendOrderStatusUpdate(ctx, o, rc, to)
	}), nil
}

func (s *Service) SoftDelete(ctx context.Context, actor auth.Actor, id string) error {
	if !actor.Can(auth.CapManageOrders) {
		return apperr.Forbidden("manage_orders is required to delete orders")
	}
	at, err := s.Store.SoftDelete(ctx, id)
	if err != nil {
		return err
	}
	s.audit(ctx, actor, "order.soft_delete", "orders", id, map[string]any{"deleted_at": at})
	s.emit(ctx, TopicOrderDeleted, EventOrderDeleted, id, OrderDeletedPayload{OrderID: id, DeletedAt: at})
	return nil
}

// RecordPayment appends a ledger entry. Only a completed payment moves the
// order's payment_status and transaction_id.
func (s *Service) RecordPayment(ctx context.Context, actor auth.Actor, in PaymentInput) (*Order, *payments.Entry, error) {
	if !actor.IsSystem() && !actor.Can(auth.CapRecordPayments) {
		return nil, nil, apperr.Forbidden("record_payments is required")
	}
	switch {
	case in.OrderID == "":
		return nil, nil, apperr.Validation("order id is required")
	case strings.TrimSpace(in.Method) == "":
		return nil, nil, apperr.Validation("payment method is required")
	case in.AmountCents <= 0:
		return nil, nil, apperr.Validation("payment amount must be positive")
	case !in.Status.Valid():
		return nil, nil, apperr.Validation("unknown payment status %q", in.Status)
	}

	e := &payments.Entry{
		OrderID:     in.OrderID,
		Method:      strings.TrimSpace(in.Method),
		AmountCents: in.AmountCents,
		Status:      in.Status,
		Details:     in.Details,
	}
	o, err := s.Store.ApplyPayment(ctx, e, in.TransactionID)
	if err != nil {
		return nil, nil, err
	}

	s.audit(ctx, actor, "payment.record", "payment_logs", e.ID, map[string]any{
		"order_id":     e.OrderID,
		"amount_cents": e.AmountCents,
		"status":       string(e.Status),
	})
	s.emit(ctx, TopicPaymentRecorded, EventPaymentRecorded, e.OrderID, PaymentRecordedPayload{
		OrderID: e.OrderID, LogID: e.ID, Method: e.Method, AmountCents: e.AmountCents, Status: string(e.Status),
	})
	return o, e, nil
}

func (s *Service) PaymentHistory(ctx context.Context, actor auth.Actor, orderID string) ([]payments.Entry, error) {
	if _, err := s.Get(ctx, actor, orderID); err != nil {
		return nil, err
	}
	out := []payments.Entry{}
	for e, err := range s.Payments.HistoryFor(ctx, orderID) {
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Get returns the order to its owner or to staff. Soft-deleted orders are
// visible only with manage_orders.
func (s *Service) Get(ctx context.Context, actor auth.Actor, id string) (*Order, error) {
	o, err := s.Store.Get(ctx, id, actor.Can(auth.CapManageOrders))
	if err != nil {
		return nil, err
	}
	if o.UserID != actor.UserID && !actor.Can(auth.CapViewOrders) {
		return nil, apperr.Forbidden("order %s belongs to another user", id)
	}
	return o, nil
}

func (s *Service) ListForUser(ctx context.Context, actor auth.Actor, page Page) ([]Order, error) {
	if actor.IsSystem() {
		return nil, apperr.Forbidden("listing orders needs a user")
	}
	return s.Store.ListByUser(ctx, actor.UserID, page)
}

func (s *Service) ListAll(ctx context.Context, actor auth.Actor, f AdminFilter) ([]Order, int64, error) {
	if !actor.Can(auth.CapViewOrders) {
		return nil, 0, apperr.Forbidden("view_orders is required")
	}
	if f.IncludeDeleted && !actor.Can(auth.CapManageOrders) {
		return nil, 0, apperr.Forbidden("manage_orders is required to see deleted orders")
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, apperr.Validation("unknown order status %q", f.Status)
	}
	return s.Store.ListAll(ctx, f)
}

func (s *Service) StatusHistory(ctx context.Context, actor auth.Actor, id string) ([]StatusChange, error) {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	return s.Store.History(ctx, id)
}

func (s *Service) notify(ctx context.Context, o *Order, send func(Recipient) Delivery) Delivery {
	if s.Notifier == nil {
		return Delivery{}
	}
	rc, err := s.Store.Recipient(ctx, o.UserID)
	if err != nil {
		s.logger().Warn("notification recipient lookup failed", zap.String("order_id", o.ID), zap.Error(err))
		return Delivery{Errors: []string{err.Error()}}
	}
	d := send(rc)
	if !d.Sent {
		s.logger().Warn("notification not sent", zap.String("order_id", o.ID), zap.Strings("errors", d.Errors))
	}
	return d
}

func (s *Service) audit(ctx context.Context, actor auth.Actor, action, table, id string, details map[string]any) {
	if s.Audit != nil {
		s.Audit.Log(ctx, actor, action, table, id, details)
	}
}

func (s *Service) emit(ctx context.Context, topic, eventType, orderID string, payload any) {
	err := Emit(s.Events, s.ServiceName, kafkax.TraceID(ctx), topic, eventType, orderID, payload)
	if err != nil {
		s.logger().Warn("emit event", zap.String("event_type", eventType), zap.String("order_id", orderID), zap.Error(err))
	}
}

func (s *Service) logger() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

// ValidationError turns validator output into a VALIDATION error naming the
// first failing field.
func ValidationError(err error) error {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) && len(ve) > 0 {
		f := ve[0]
		return apperr.Validation("%s failed %s", strings.ToLower(f.Field()), fieldRule(f))
	}
	return apperr.Validation("%v", err)
}

func fieldRule(f validator.FieldError) string {
	if f.Param() == "" {
		return f.Tag()
	}
	return fmt.Sprintf("%s=%s", f.Tag(), f.Param())
}
