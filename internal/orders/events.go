package orders

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
)

const (
	EventOrderCreated       = "OrderCreated"
	EventOrderStatusChanged = "OrderStatusChanged"
	EventPaymentRecorded    = "PaymentRecorded"
	EventOrderDeleted       = "OrderDeleted"
	EventReviewSubmitted    = "ReviewSubmitted"
	EventStockReserved      = "StockReserved"
	EventStockRejected      = "StockRejected"
)

const envelopeVersion = 1

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // usually the order id
	Payload       json.RawMessage `json:"payload"`
}

// Publisher is satisfied by the async Kafka producer.
type Publisher interface {
	Publish(topic string, key, value []byte, headers ...kafkago.Header)
}

// Emit wraps payload in a v1 envelope and hands it to p. A nil publisher
// drops the event.
func Emit(p Publisher, producer, traceID, topic, eventType, orderID string, payload any) error {
	if p == nil {
		return nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	ev := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  envelopeVersion,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		TraceID:       traceID,
		CorrelationID: orderID,
		Payload:       body,
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	p.Publish(topic, PartitionKey(orderID), value,
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte(strconv.Itoa(envelopeVersion))},
	)
	return nil
}

// ---- payloads ----

type ItemQty struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type OrderCreatedPayload struct {
	OrderID    string     `json:"order_id"`
	UserID     string     `json:"user_id"`
	Items      []LineItem `json:"items"`
	TotalCents int64      `json:"total_cents"`
}

type OrderStatusChangedPayload struct {
	OrderID string     `json:"order_id"`
	From    Status     `json:"from"`
	To      Status     `json:"to"`
	Items   []LineItem `json:"items,omitempty"`
}

type PaymentRecordedPayload struct {
	OrderID     string `json:"order_id"`
	LogID       string `json:"log_id"`
	Method      string `json:"payment_method"`
	AmountCents int64  `json:"amount_cents"`
	Status      string `json:"status"`
}

type OrderDeletedPayload struct {
	OrderID   string    `json:"order_id"`
	DeletedAt time.Time `json:"deleted_at"`
}

type ReviewSubmittedPayload struct {
	ReviewID  string `json:"review_id"`
	ProductID string `json:"product_id"`
	OrderID   string `json:"order_id"`
	Rating    int    `json:"rating"`
}

type StockReservedPayload struct {
	OrderID string    `json:"order_id"`
	Items   []ItemQty `json:"items"`
}

type StockRejectedDetail struct {
	ProductID string `json:"product_id"`
	Required  int    `json:"required"`
	Available int    `json:"available"`
}

type StockRejectedPayload struct {
	OrderID string                `json:"order_id"`
	Reason  string                `json:"reason"` // e.g. OUT_OF_STOCK
	Details []StockRejectedDetail `json:"details,omitempty"`
}
