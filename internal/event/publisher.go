// Package event announces checkout outcomes to other systems.
package event

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/segmentio/kafka-go"

	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/order"
)

// TypeOrderCreated is the event_type header of order creation events.
const TypeOrderCreated = "order.created"

var (
	_ checkout.OrderPublisher = Noop{}
	_ checkout.OrderPublisher = (*KafkaPublisher)(nil)
)

// Noop drops every event. It is used when no brokers are configured.
type Noop struct{}

// OrderCreated implements checkout.OrderPublisher.
func (Noop) OrderCreated(context.Context, *order.Order) error { return nil }

// MessageWriter is implemented by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig configures KafkaPublisher.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// KafkaPublisher writes order events to a Kafka topic keyed by order id, so
// events of one order stay in one partition.
type KafkaPublisher struct {
	w MessageWriter
}

// NewKafkaPublisher creates a KafkaPublisher with a synchronous writer that
// waits for all in-sync replicas.
func NewKafkaPublisher(cfg KafkaConfig) *KafkaPublisher {
	return NewKafkaPublisherWithWriter(&kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		WriteTimeout:           cfg.WriteTimeout,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	})
}

// NewKafkaPublisherWithWriter creates a KafkaPublisher over w.
func NewKafkaPublisherWithWriter(w MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{w: w}
}

// OrderCreated implements checkout.OrderPublisher.
func (p *KafkaPublisher) OrderCreated(ctx context.Context, o *order.Order) error {
	msg := kafka.Message{
		Key:   []byte(o.ID),
		Value: EncodeOrderCreated(o),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(TypeOrderCreated)},
			{Key: "session_id", Value: []byte(o.SessionID)},
		},
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return errors.Wrapf(err, "publish %s %s", TypeOrderCreated, o.ID)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}

// EncodeOrderCreated returns the JSON payload of an order.created event.
func EncodeOrderCreated(o *order.Order) []byte {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	money := func(field, v string) {
		e.FieldStart(field)
		e.Num(jx.Num(v))
	}

	e.ObjStart()
	e.FieldStart("type")
	e.Str(TypeOrderCreated)
	e.FieldStart("orderId")
	e.Str(o.ID)
	e.FieldStart("sessionId")
	e.Str(o.SessionID)
	e.FieldStart("basketId")
	e.Str(o.BasketID)
	if o.CustomerID != "" {
		e.FieldStart("customerId")
		e.Str(o.CustomerID)
	}
	if o.GuestEmail != "" {
		e.FieldStart("guestEmail")
		e.Str(o.GuestEmail)
	}
	e.FieldStart("status")
	e.Str(string(o.Status))
	e.FieldStart("shippingMethodId")
	e.Str(o.ShippingMethodID)
	e.FieldStart("paymentMethodId")
	e.Str(o.PaymentMethodID)
	e.FieldStart("country")
	e.Str(o.ShippingAddress.Country)
	money("subtotal", o.Subtotal.StringFixed(2))
	money("taxAmount", o.TaxAmount.StringFixed(2))
	money("shippingAmount", o.ShippingAmount.StringFixed(2))
	money("discountAmount", o.DiscountAmount.StringFixed(2))
	money("total", o.Total.StringFixed(2))
	e.FieldStart("createdAt")
	e.Str(o.CreatedAt.UTC().Format(time.RFC3339))
	e.ObjEnd()

	// The encoder is pooled; copy before returning.
	return append([]byte(nil), e.Bytes()...)
}
