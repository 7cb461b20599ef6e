package httpx

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ariefcatur/agrimarket/internal/apperr"
	"github.com/ariefcatur/agrimarket/internal/audit"
	"github.com/ariefcatur/agrimarket/internal/auth"
	"github.com/ariefcatur/agrimarket/internal/catalog"
	"github.com/ariefcatur/agrimarket/internal/orders"
	"github.com/ariefcatur/agrimarket/internal/payments"
	"github.com/ariefcatur/agrimarket/internal/redisx"
	"github.com/ariefcatur/agrimarket/internal/reviews"
)

type OrderService interface {
	Checkout(ctx context.Context, actor auth.Actor, in orders.CheckoutInput) (*orders.Order, orders.Delivery, error)
	Get(ctx context.Context, actor auth.Actor, id string) (*orders.Order, error)
	ListForUser(ctx context.Context, actor auth.Actor, page orders.Page) ([]orders.Order, error)
	ListAll(ctx context.Context, actor auth.Actor, f orders.AdminFilter) ([]orders.Order, int64, error)
	AdvanceStatus(ctx context.Context, actor auth.Actor, id string, to orders.Status) (*orders.Order, orders.Delivery, error)
	SoftDelete(ctx context.Context, actor auth.Actor, id string) error
	RecordPayment(ctx context.Context, actor auth.Actor, in orders.PaymentInput) (*orders.Order, *payments.Entry, error)
	PaymentHistory(ctx context.Context, actor auth.Actor, orderID string) ([]payments.Entry, error)
	StatusHistory(ctx context.Context, actor auth.Actor, id string) ([]orders.StatusChange, error)
}

type ReviewService interface {
	CheckEligibility(ctx context.Context, actor auth.Actor, productID, orderID string) error
	SubmitReview(ctx context.Context, actor auth.Actor, in reviews.Submission) (*reviews.Review, error)
	ListForProduct(ctx context.Context, productID string) ([]reviews.Review, error)
	Summary(ctx context.Context, productID string) (reviews.Summary, error)
}

type AuditQuerier interface {
	Query(ctx context.Context, actor auth.Actor, f audit.Filter) (audit.Page, error)
}

type ProductLister interface {
	ListProducts(ctx context.Context) ([]catalog.Product, error)
}

// Handler serves the marketplace API. A nil Redis disables the
// Idempotency-Key support on checkout.
type Handler struct {
	Orders    OrderService
	Reviews   ReviewService
	Audit     AuditQuerier
	Products  ProductLister
	Redis     redis.Cmdable
	JWTSecret string
	Log       *zap.Logger
}

type orderResponse struct {
	Order        *orders.Order    `json:"order"`
	Notification *orders.Delivery `json:"notification,omitempty"`
	Replayed     bool             `json:"replayed,omitempty"`
}

type statusRequest struct {
	Status orders.Status `json:"status" validate:"required"`
}

type paymentResponse struct {
	Order   *orders.Order   `json:"order"`
	Payment *payments.Entry `json:"payment"`
}

type listResponse struct {
	Orders []orders.Order `json:"orders"`
	Total  int64          `json:"total"`
	Page   int            `json:"page"`
	Size   int            `json:"size"`
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/products", h.listProducts)
	r.Get("/products/{id}/reviews", h.productReviews)

	r.Group(func(r chi.Router) {
		r.Use(Authenticate(h.JWTSecret, h.logger()))

		r.Post("/checkout", h.checkout)
		r.Get("/orders", h.listOrders)
		r.Get("/orders/{id}", h.getOrder)
		r.Get("/orders/{id}/payments", h.paymentHistory)
		r.Get("/orders/{id}/history", h.statusHistory)
		r.Get("/orders/{id}/products/{productID}/eligibility", h.eligibility)
		r.Post("/reviews", h.submitReview)

		r.Route("/admin", func(r chi.Router) {
			r.Get("/orders", h.adminListOrders)
			r.Post("/orders/{id}/status", h.advanceStatus)
			r.Delete("/orders/{id}", h.softDelete)
			r.Post("/orders/{id}/payments", h.recordPayment)
			r.Get("/audit-logs", h.auditLogs)
		})
	})
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Products.ListProducts(ctx)
	if err != nil {
		writeError(w, h.logger(), err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

// checkout honours an optional Idempotency-Key header: the first request
// with a key creates the order, later ones replay it.
func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) {
	var in orders.CheckoutInput
	if err := decode(r, &in); err != nil {
		writeError(w, h.logger(), err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	actor := actorFrom(ctx)

	key := ""
	if idem := r.Header.Get("Idempotency-Key"); idem != "" && h.Redis != nil {
		key = redisx.CheckoutKey(actor.UserID, idem)
		orderID, err := redisx.Claim(ctx, h.Redis, key)
		switch {
		case errors.Is(err, redisx.ErrInProgress):
			writeError(w, h.logger(), apperr.New(apperr.KindConflict, "%v", err))
			return
		case err != nil:
			// redis is an optimisation; the order is still created
			h.logger().Warn("idempotency claim failed", zap.Error(err))
			key = ""
		case orderID != "":
			o, err := h.Orders.Get(ctx, actor, orderID)
			if err != nil {
				writeError(w, h.logger(), err)
				return
			}
			writeJSON(w, http.StatusOK, orderResponse{Order: o, Replayed: true})
			return
		}
	}

	o, delivery, err := h.Orders.Checkout(ctx, actor, in)
	if err != nil {
		if key != "" {
			if rerr := redisx.Release(ctx, h.Redis, key); rerr != nil {
				h.logger().Warn("idempotency release failed", zap.Error(rerr))
			}
		}
		writeError(w, h.logger(), err)
		return
	}
	if key != "" {
		if err := redisx.Complete(ctx, h.Redis, key, o.ID); err != nil {
			h.logger().Warn("idempotency complete failed", zap.String("order_id", o.ID), zap.Error(err))
		}
	}
	writeJSON(w, http.StatusCreated, orderResponse{Order: o, Notification: &delivery})
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	p := page(r)
	out, err := h.Orders.ListForUser(r.Context(), actorFrom(r.Context()), p)
	if err != nil {
		writeError(w, h.logger(), err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Orders.Get(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger(), err)
		return
	}
	writeJSON(w, http.StatusOK, orderResponse{Order: o})
}

func (h *Handler) paymentHistory(w http.ResponseWriter, r *http.Request) {
	out, err := h.Orders.PaymentHistory(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger(), err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) statusHistory(w http.ResponseWriter, r *http.Request) {
	out, err := h.Orders.StatusHistory(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger(), err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) adminListOrders(w http.ResponseWriter, r *http.Request) {
	f := orders.AdminFilter{
		Status: orders.Status(r.URL.Query().Get("status")),
		Page:   page(r).Normalized(),
	}
	if v := r.URL.Query().Get("include_deleted"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, h.logger(), apperr.Validation("include_deleted must be a boolean"))
			return
		}
		f.IncludeDeleted = b
	}

	out, total, err := h.Orders.ListAll(r.Context(), actorFrom(r.Context()), f)
	if err != nil {
		writeError(w, h.logger(), err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Orders: out, Total: total, Page: f.Page.Number, Size: f.Page.Size})
}

func (h *Handler) advanceStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decode(r, &req); err != nil {
		writeError(w, h.logger(), err)
		return
	}
	o, delivery, err := h.Orders.AdvanceStatus(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		writeError(w, h.logger(), err)
		return
	}
	writeJSON(w, http.StatusOK, orderResponse{Order: o, Notification: &delivery})
}

func (h *Handler) softDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.Orders.SoftDelete(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeError(w, h.logger(), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	var in orders.PaymentInput
	if err := decode(r, &in); err != nil {
		writeError(w, h.logger(), err)
		return
	}
	in.OrderID = chi.URLParam(r, "id")

	o, entry, err := h.Orders.RecordPayment(r.Context(), actorFrom(r.Context()), in)
	if err != nil {
		writeError(w, h.logger(), err)
		return
	}
	writeJSON(w, http.StatusCreated, paymentResponse{Order: o, Payment: entry})
}

func (h *Handler) auditLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := audit.Filter{Table: q.Get("table"), RecordID: q.Get("record_id"), Page: queryInt(r, "page")}
	out, err := h.Audit.Query(r.Context(), actorFrom(r.Context()), f)
	if err != nil {
		writeError(w, h.logger(), err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) logger() *zap.Logger {
	if h.Log == nil {
		return zap.NewNop()
	}
	return h.Log
}
