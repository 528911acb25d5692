package kafka

import (
	"context"

	"go-kafkaguard/pkg/models"

	kafka "github.com/segmentio/kafka-go"
)

// Message is one inbound delivery handed down the middleware chain. Envelope is set
// once the decode stage has parsed the record value.
type Message struct {
	models.Delivery
	Envelope models.Envelope

	record kafka.Message
}

func NewMessage(record kafka.Message) *Message {
	return &Message{
		Delivery: models.Delivery{
			Topic:     record.Topic,
			Partition: record.Partition,
			Offset:    record.Offset,
			Key:       string(record.Key),
			Value:     record.Value,
			Headers:   headerMap(record.Headers),
			Timestamp: record.Time,
		},
		record: record,
	}
}

// Record returns the broker record the message was built from.
func (m *Message) Record() kafka.Message {
	return m.record
}

// Handler processes a decoded message. The result is published as the reply when the
// handler is registered for requests and ignored otherwise.
type Handler func(ctx context.Context, msg *Message) (any, error)

// Middleware wraps a Handler with one processing stage.
type Middleware func(Handler) Handler

// Chain wraps h so that the first middleware is the outermost stage.
func Chain(h Handler, middleware ...Middleware) Handler {
	for i := len(middleware) - 1; i >= 0; i-- {
		h = middleware[i](h)
	}
	return h
}
