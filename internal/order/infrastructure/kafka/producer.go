package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmehra2102/Lesson-Booking-System/pkg/tracing"
)

// Writer publishes order events. The relay sets the topic per message.
type Writer struct {
	*kafka.Writer
	tracer trace.Tracer
}

func NewWriter(brokers []string) *Writer {
	return &Writer{
		Writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			BatchTimeout:           10 * time.Millisecond,
			AllowAutoTopicCreation: true,
		},
		tracer: otel.Tracer("order-kafka"),
	}
}

// WriteMessages continues the trace recorded with each event, so the
// publish span joins the request that placed the order.
func (w *Writer) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		ctx = tracing.ExtractKafkaHeaders(ctx, m.Headers)
	}

	ctx, span := w.tracer.Start(ctx, "kafka.publish", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()

	if len(msgs) > 0 {
		span.SetAttributes(attribute.String("messaging.destination.name", msgs[0].Topic))
	}

	if err := w.Writer.WriteMessages(ctx, msgs...); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}
