package service

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/transitgo/ticketing-service/internal/domain"
	"github.com/transitgo/ticketing-service/pkg/kafka"
	"github.com/transitgo/ticketing-service/pkg/telemetry"
)

// publishTimeout bounds one publish round trip including broker retries
const publishTimeout = 30 * time.Second

// EventPublisher pushes committed booking events onto the bus
type EventPublisher interface {
	PublishBookingEvent(ctx context.Context, evt *domain.BookingEvent) error
}

// KafkaEventPublisher publishes booking events to the ticket events topic.
// Messages are keyed by aggregate id so all events of one booking land on
// one partition in commit order.
type KafkaEventPublisher struct {
	producer *kafka.Producer
	topic    string
}

func NewKafkaEventPublisher(producer *kafka.Producer, topic string) *KafkaEventPublisher {
	return &KafkaEventPublisher{producer: producer, topic: topic}
}

func (p *KafkaEventPublisher) PublishBookingEvent(ctx context.Context, evt *domain.BookingEvent) error {
	ctx, span := telemetry.StartSpan(ctx, "publisher.kafka.booking_event")
	defer span.End()

	span.SetAttributes(
		attribute.String("event.id", evt.EventID),
		attribute.String("event.type", evt.EventType),
		attribute.String("booking.id", evt.AggregateID),
		attribute.String("messaging.destination", p.topic),
	)

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	headers := map[string]string{
		"event_id":       evt.EventID,
		"event_type":     evt.EventType,
		"correlation_id": evt.CorrelationID,
	}

	if err := p.producer.ProduceJSON(ctx, p.topic, evt.AggregateID, evt, headers); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		return fmt.Errorf("failed to publish %s event: %w", evt.EventType, err)
	}

	span.SetStatus(codes.Ok, "event published")
	return nil
}

// NoOpEventPublisher drops events. Used in tests and when the bus is
// disabled in local development.
type NoOpEventPublisher struct{}

func (NoOpEventPublisher) PublishBookingEvent(ctx context.Context, evt *domain.BookingEvent) error {
	return nil
}
