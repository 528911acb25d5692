package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Semantic convention attributes for messaging
const (
	MessagingSystemKey              = "messaging.system"
	MessagingDestinationNameKey     = "messaging.destination.name"
	MessagingDestinationPartitionID = "messaging.destination.partition.id"
	MessagingOperationNameKey       = "messaging.operation.name"
	MessagingKafkaOffsetKey         = "messaging.kafka.offset"
	MessagingKafkaConsumerGroupKey  = "messaging.kafka.consumer.group"
	MessagingKafkaMessageKeyKey     = "messaging.kafka.message.key"
)

const tracerName = "go-kafkaguard"

// Tracer starts producer and consumer spans and carries trace context in message headers.
// Spans are no-ops until the application installs a TracerProvider.
type Tracer struct {
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

func NewTracer() *Tracer {
	return &Tracer{
		tracer:     otel.Tracer(tracerName),
		propagator: otel.GetTextMapPropagator(),
	}
}

// NewTracerWith is NewTracer with an explicit provider and propagator.
func NewTracerWith(tp trace.TracerProvider, p propagation.TextMapPropagator) *Tracer {
	return &Tracer{tracer: tp.Tracer(tracerName), propagator: p}
}

func (t *Tracer) StartProducerSpan(ctx context.Context, topic, key, operation string) (context.Context, func(error)) {
	ctx, span := t.tracer.Start(ctx, fmt.Sprintf("%s %s", topic, operation),
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String(MessagingSystemKey, "kafka"),
			attribute.String(MessagingDestinationNameKey, topic),
			attribute.String(MessagingOperationNameKey, operation),
			attribute.String(MessagingKafkaMessageKeyKey, key),
		),
	)
	return ctx, endSpan(span)
}

// StartConsumerSpan continues the trace found in headers.
func (t *Tracer) StartConsumerSpan(ctx context.Context, groupID, topic string, partition int, offset int64, headers map[string]string) (context.Context, func(error)) {
	ctx = t.Extract(ctx, headers)
	ctx, span := t.tracer.Start(ctx, fmt.Sprintf("%s %s process", groupID, topic),
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String(MessagingSystemKey, "kafka"),
			attribute.String(MessagingDestinationNameKey, topic),
			attribute.Int(MessagingDestinationPartitionID, partition),
			attribute.String(MessagingOperationNameKey, "process"),
			attribute.Int64(MessagingKafkaOffsetKey, offset),
			attribute.String(MessagingKafkaConsumerGroupKey, groupID),
		),
	)
	return ctx, endSpan(span)
}

// Inject writes the trace context of ctx into headers.
func (t *Tracer) Inject(ctx context.Context, headers map[string]string) {
	t.propagator.Inject(ctx, propagation.MapCarrier(headers))
}

func (t *Tracer) Extract(ctx context.Context, headers map[string]string) context.Context {
	if len(headers) == 0 {
		return ctx
	}
	return t.propagator.Extract(ctx, propagation.MapCarrier(headers))
}

func endSpan(span trace.Span) func(error) {
	return func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}
