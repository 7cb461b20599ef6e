// Package inventory reserves stock for new orders and gives it back when an
// order is cancelled. It runs as a Kafka consumer next to the API.
package inventory

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/ariefcatur/agrimarket/internal/kafka"
	"github.com/ariefcatur/agrimarket/internal/orders"
	"github.com/ariefcatur/agrimarket/internal/redisx"
)

const reasonOutOfStock = "OUT_OF_STOCK"

type Store interface {
	AlreadyReserved(ctx context.Context, orderID string, itemCount int) (bool, error)
	ReserveAll(ctx context.Context, orderID string, items []orders.ItemQty) (Outcome, []orders.StockRejectedDetail, error)
	ReleaseAll(ctx context.Context, orderID string) (int, error)
}

type Service struct {
	Store       Store
	Redis       redis.Cmdable
	Events      orders.Publisher
	ServiceName string
	Log         *zap.Logger
}

// Topics the worker consumes.
var Topics = []string{orders.TopicOrderCreated, orders.TopicOrderStatusChanged}

// Handle is the consumer handler. Events already processed (by event id)
// are skipped; the dedup mark is written only after success, and the
// consumer retries a failed event before moving past it. Undecodable events
// fail permanently.
func (s *Service) Handle(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := kafkax.UnmarshalEnvelope(m.Value, &env); err != nil {
		return kafkax.Permanent(err)
	}
	if env.EventType != orders.EventOrderCreated && env.EventType != orders.EventOrderStatusChanged {
		return nil
	}

	dkey := fmt.Sprintf(redisx.KeyDedup, s.ServiceName, env.EventID)
	seen, err := redisx.Exists(ctx, s.Redis, dkey)
	if err != nil {
		s.logger().Warn("dedup lookup failed", zap.String("event_id", env.EventID), zap.Error(err))
	}
	if seen {
		return nil
	}

	ctx = kafkax.WithTraceID(ctx, env.TraceID)
	switch env.EventType {
	case orders.EventOrderCreated:
		err = s.orderCreated(ctx, env)
	case orders.EventOrderStatusChanged:
		err = s.statusChanged(ctx, env)
	}
	if err != nil {
		return err
	}

	if _, err := redisx.MarkOnce(ctx, s.Redis, dkey, redisx.TTLDedup); err != nil {
		s.logger().Warn("dedup mark failed", zap.String("event_id", env.EventID), zap.Error(err))
	}
	return nil
}

func (s *Service) orderCreated(ctx context.Context, env orders.Envelope) error {
	p, err := kafkax.UnwrapPayload[orders.OrderCreatedPayload](env.Payload)
	if err != nil {
		return kafkax.Permanent(err)
	}
	items := make([]orders.ItemQty, 0, len(p.Items))
	for _, it := range p.Items {
		items = append(items, orders.ItemQty{ProductID: it.ProductID, Qty: it.Quantity})
	}

	done, err := s.Store.AlreadyReserved(ctx, p.OrderID, len(items))
	if err != nil {
		return err
	}
	if done {
		return s.publish(ctx, orders.TopicStockReserved, orders.EventStockReserved, p.OrderID,
			orders.StockReservedPayload{OrderID: p.OrderID, Items: items})
	}

	outcome, details, err := s.Store.ReserveAll(ctx, p.OrderID, items)
	if err != nil {
		return err
	}
	switch outcome {
	case Skipped:
		s.logger().Info("order cancelled before reservation", zap.String("order_id", p.OrderID))
		return nil
	case Rejected:
		s.logger().Info("stock rejected", zap.String("order_id", p.OrderID), zap.Int("short_items", len(details)))
		return s.publish(ctx, orders.TopicStockRejected, orders.EventStockRejected, p.OrderID,
			orders.StockRejectedPayload{OrderID: p.OrderID, Reason: reasonOutOfStock, Details: details})
	}
	s.logger().Info("stock reserved", zap.String("order_id", p.OrderID), zap.Int("items", len(items)))
	return s.publish(ctx, orders.TopicStockReserved, orders.EventStockReserved, p.OrderID,
		orders.StockReservedPayload{OrderID: p.OrderID, Items: items})
}

func (s *Service) statusChanged(ctx context.Context, env orders.Envelope) error {
	p, err := kafkax.UnwrapPayload[orders.OrderStatusChangedPayload](env.Payload)
	if err != nil {
		return kafkax.Permanent(err)
	}
	if p.To != orders.StatusCancelled {
		return nil
	}
	n, err := s.Store.ReleaseAll(ctx, p.OrderID)
	if err != nil {
		return err
	}
	s.logger().Info("stock released", zap.String("order_id", p.OrderID), zap.Int("items", n))
	return nil
}

func (s *Service) publish(ctx context.Context, topic, eventType, orderID string, payload any) error {
	return orders.Emit(s.Events, s.ServiceName, kafkax.TraceID(ctx), topic, eventType, orderID, payload)
}

func (s *Service) logger() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}
