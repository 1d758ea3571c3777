package projector

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/transitgo/ticketing-service/internal/domain"
	"github.com/transitgo/ticketing-service/internal/metrics"
	"github.com/transitgo/ticketing-service/internal/repository"
	"github.com/transitgo/ticketing-service/pkg/config"
	"github.com/transitgo/ticketing-service/pkg/kafka"
	"github.com/transitgo/ticketing-service/pkg/logger"
	"github.com/transitgo/ticketing-service/pkg/retry"
	"github.com/transitgo/ticketing-service/pkg/telemetry"
)

// pollBackoff is how long the loop waits after a failed poll or an
// unrecoverable record before polling again
const pollBackoff = time.Second

// EventSource is the consumer surface the projector needs
type EventSource interface {
	Poll(ctx context.Context) ([]*kafka.Record, error)
	CommitRecords(ctx context.Context, records []*kafka.Record) error
}

// Projector consumes booking events and maintains the read model: ticket
// views, schedule seat counters and the projection checkpoint. Events are
// applied sequentially in partition order; failed events are retried and
// then diverted to the dead letter topic so one poison event cannot stall
// the stream.
type Projector struct {
	source   EventSource
	readRepo repository.ReadModelRepository
	cache    repository.TicketCacheRepository
	dlq      *retry.DLQHandler
	metrics  *metrics.TicketMetrics
	log      *logger.Logger

	projectionName string
	checkpoint     *domain.ProjectionCheckpoint

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewProjector wires the projector. dlqProducer publishes diverted events
// to the events topic plus the ".dlq" suffix.
func NewProjector(
	source EventSource,
	readRepo repository.ReadModelRepository,
	cache repository.TicketCacheRepository,
	dlqProducer retry.JSONProducer,
	m *metrics.TicketMetrics,
	cfg config.TicketingConfig,
) *Projector {
	log := logger.Get()

	maxRetries := cfg.DLQMaxAttempts - 1
	if maxRetries < 0 {
		maxRetries = 0
	}

	dlqPublisher := retry.NewKafkaDLQPublisher(dlqProducer, &retry.DLQConfig{
		TopicSuffix: ".dlq",
		Source:      cfg.ProjectionName,
	})

	handler := retry.NewDLQHandler(dlqPublisher, &retry.DLQHandlerConfig{
		RetryConfig: &retry.Config{
			MaxRetries:      maxRetries,
			InitialInterval: 200 * time.Millisecond,
			MaxInterval:     5 * time.Second,
			Multiplier:      2.0,
			JitterFactor:    0.1,
		},
		Source: cfg.ProjectionName,
		OnDLQ: func(msg *retry.DLQMessage) {
			m.EventsDeadLettered.Inc(context.Background())
			log.Error("event moved to dead letter topic",
				zap.String("event_id", msg.ID),
				zap.String("error", msg.Error),
				zap.Int("attempts", msg.Attempts),
			)
		},
	})

	return &Projector{
		source:         source,
		readRepo:       readRepo,
		cache:          cache,
		dlq:            handler,
		metrics:        m,
		log:            log,
		projectionName: cfg.ProjectionName,
	}
}

// Start loads the checkpoint and begins consuming in the background
func (p *Projector) Start(ctx context.Context) error {
	cp, err := p.readRepo.GetCheckpoint(ctx, p.projectionName)
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}
	p.checkpoint = cp

	if cp != nil {
		p.log.Info("projector resuming from checkpoint",
			zap.String("projection", p.projectionName),
			zap.String("last_event_id", cp.LastProcessedEventID),
		)
	} else {
		p.log.Info("projector starting fresh", zap.String("projection", p.projectionName))
	}

	runCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.wg.Add(1)
	go p.run(runCtx)
	return nil
}

// Stop halts consumption and waits for the in-flight batch to finish
func (p *Projector) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.log.Info("projector stopped", zap.String("projection", p.projectionName))
}

func (p *Projector) run(ctx context.Context) {
	defer p.wg.Done()

	for {
		records, err := p.source.Poll(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			p.log.Warn("poll failed", zap.Error(err))
			if !sleep(ctx, pollBackoff) {
				return
			}
			continue
		}
		if len(records) == 0 {
			continue
		}

		handled := true
		for _, rec := range records {
			if err := p.processRecord(ctx, rec); err != nil {
				// Neither applied nor dead-lettered. Offsets stay
				// uncommitted so the batch replays after a restart or
				// rebalance; the read model updates are idempotent.
				p.log.Error("event unaccounted for, halting batch",
					zap.Int64("offset", rec.Offset),
					zap.Error(err),
				)
				handled = false
				break
			}
		}

		if !handled {
			if !sleep(ctx, pollBackoff) {
				return
			}
			continue
		}

		if err := p.source.CommitRecords(ctx, records); err != nil {
			p.log.Warn("offset commit failed", zap.Error(err))
		}
	}
}

func (p *Projector) processRecord(ctx context.Context, rec *kafka.Record) error {
	msgCtx := &retry.MessageContext{
		ID:      rec.Header("event_id"),
		Topic:   rec.Topic,
		Key:     string(rec.Key),
		Payload: rec.Value,
		Headers: rec.Headers,
	}

	return p.dlq.ProcessWithDLQ(ctx, msgCtx, func(ctx context.Context) error {
		return p.handleEvent(ctx, rec.Value)
	})
}

// handleEvent decodes and applies one event, then advances the checkpoint
// and invalidates caches. Undecodable payloads are permanent failures and
// divert to the DLQ without retries.
func (p *Projector) handleEvent(ctx context.Context, raw []byte) error {
	ctx, span := telemetry.StartSpan(ctx, "projector.handle_event")
	defer span.End()

	var evt domain.BookingEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "undecodable event")
		return retry.Permanent(fmt.Errorf("undecodable event: %w", err))
	}
	if evt.EventID == "" || evt.AggregateID == "" {
		span.SetStatus(codes.Error, "incomplete envelope")
		return retry.Permanent(fmt.Errorf("event envelope missing eventId or aggregateId"))
	}

	span.SetAttributes(
		attribute.String("event.id", evt.EventID),
		attribute.String("event.type", evt.EventType),
		attribute.String("booking.id", evt.AggregateID),
	)

	// Redelivery of the exact event we processed last
	if p.checkpoint != nil && p.checkpoint.LastProcessedEventID == evt.EventID {
		p.metrics.EventsSkipped.Inc(ctx, attribute.String("reason", "duplicate"))
		span.SetStatus(codes.Ok, "duplicate skipped")
		return nil
	}

	applied, userID, err := p.apply(ctx, &evt)
	if err != nil {
		p.metrics.ProjectionFailures.Inc(ctx, attribute.String("event_type", evt.EventType))
		span.RecordError(err)
		span.SetStatus(codes.Error, "apply failed")
		return err
	}

	cp := &domain.ProjectionCheckpoint{
		ProjectionName:       p.projectionName,
		LastProcessedEventID: evt.EventID,
		LastProcessedAt:      time.Now().UTC(),
	}
	if err := p.readRepo.UpsertCheckpoint(ctx, cp); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "checkpoint update failed")
		return err
	}
	p.checkpoint = cp

	if applied {
		p.invalidateCaches(ctx, evt.AggregateID, userID)
		p.metrics.EventsProjected.Inc(ctx, attribute.String("event_type", evt.EventType))
	}

	span.SetStatus(codes.Ok, "event applied")
	return nil
}

// apply routes the event to the read model. Unknown event types are
// logged and dropped so new producers can roll out ahead of the projector.
func (p *Projector) apply(ctx context.Context, evt *domain.BookingEvent) (applied bool, userID string, err error) {
	switch evt.EventType {
	case domain.EventTypeTicketBooked:
		var payload domain.TicketBookedPayload
		if err := json.Unmarshal(evt.Payload, &payload); err != nil {
			return false, "", retry.Permanent(fmt.Errorf("undecodable %s payload: %w", evt.EventType, err))
		}
		return true, payload.UserID, p.applyCreated(ctx, evt, payload, domain.BookingStatusPending)

	case domain.EventTypeTicketReserved:
		var payload domain.TicketReservedPayload
		if err := json.Unmarshal(evt.Payload, &payload); err != nil {
			return false, "", retry.Permanent(fmt.Errorf("undecodable %s payload: %w", evt.EventType, err))
		}
		return true, payload.UserID, p.applyCreated(ctx, evt, payload.TicketBookedPayload, domain.BookingStatusReserved)

	case domain.EventTypeTicketConfirmed:
		var payload domain.TicketConfirmedPayload
		if err := json.Unmarshal(evt.Payload, &payload); err != nil {
			return false, "", retry.Permanent(fmt.Errorf("undecodable %s payload: %w", evt.EventType, err))
		}
		return true, payload.UserID, p.readRepo.SetTicketStatus(ctx, evt.AggregateID, domain.BookingStatusConfirmed, evt.Timestamp)

	case domain.EventTypeTicketCancelled:
		var payload domain.TicketCancelledPayload
		if err := json.Unmarshal(evt.Payload, &payload); err != nil {
			return false, "", retry.Permanent(fmt.Errorf("undecodable %s payload: %w", evt.EventType, err))
		}
		return true, payload.UserID, p.applyTerminated(ctx, evt, domain.BookingStatusCancelled)

	case domain.EventTypeTicketExpired:
		var payload domain.TicketExpiredPayload
		if err := json.Unmarshal(evt.Payload, &payload); err != nil {
			return false, "", retry.Permanent(fmt.Errorf("undecodable %s payload: %w", evt.EventType, err))
		}
		return true, payload.UserID, p.applyTerminated(ctx, evt, domain.BookingStatusExpired)

	case domain.EventTypeTicketRefunded:
		var payload domain.TicketRefundedPayload
		if err := json.Unmarshal(evt.Payload, &payload); err != nil {
			return false, "", retry.Permanent(fmt.Errorf("undecodable %s payload: %w", evt.EventType, err))
		}
		return true, payload.UserID, p.readRepo.SetTicketStatus(ctx, evt.AggregateID, domain.BookingStatusRefunded, evt.Timestamp)

	default:
		p.log.Warn("unknown event type, skipping",
			zap.String("event_id", evt.EventID),
			zap.String("event_type", evt.EventType),
		)
		p.metrics.EventsSkipped.Inc(ctx, attribute.String("reason", "unknown_type"))
		return false, "", nil
	}
}

// applyCreated upserts the ticket row for a new booking and counts its
// seat against the schedule
func (p *Projector) applyCreated(ctx context.Context, evt *domain.BookingEvent, payload domain.TicketBookedPayload, status domain.BookingStatus) error {
	view := &domain.TicketView{
		BookingID:     payload.BookingID,
		UserID:        payload.UserID,
		RouteID:       payload.RouteID,
		ScheduleID:    payload.ScheduleID,
		SeatNumber:    payload.SeatNumber,
		PassengerName: payload.PassengerName,
		Status:        status,
		Price:         payload.Price,
		Currency:      payload.Currency,
		CreatedAt:     evt.Timestamp,
		UpdatedAt:     evt.Timestamp,
	}

	if err := p.readRepo.UpsertTicketView(ctx, view); err != nil {
		return err
	}

	if payload.SeatNumber != "" {
		if err := p.readRepo.AdjustBookedSeats(ctx, payload.ScheduleID, 1); err != nil {
			return err
		}
	}
	return nil
}

// applyTerminated sets a terminal status and returns the seat to the
// schedule's pool
func (p *Projector) applyTerminated(ctx context.Context, evt *domain.BookingEvent, status domain.BookingStatus) error {
	if err := p.readRepo.SetTicketStatus(ctx, evt.AggregateID, status, evt.Timestamp); err != nil {
		return err
	}

	// The terminal payloads do not carry the schedule; read it back from
	// the view maintained by the creation event.
	view, err := p.readRepo.GetTicketByID(ctx, evt.AggregateID)
	if err != nil {
		if domain.IsNotFoundError(err) {
			p.log.Warn("terminal event for unknown ticket, seat counter unchanged",
				zap.String("booking_id", evt.AggregateID),
				zap.String("event_type", evt.EventType),
			)
			return nil
		}
		return err
	}

	if view.SeatNumber != "" {
		if err := p.readRepo.AdjustBookedSeats(ctx, view.ScheduleID, -1); err != nil {
			return err
		}
	}
	return nil
}

// invalidateCaches drops the ticket entry and every cached page of the
// owner. Failures are logged only; the TTLs bound the staleness.
func (p *Projector) invalidateCaches(ctx context.Context, bookingID, userID string) {
	if err := p.cache.InvalidateTicket(ctx, bookingID); err != nil {
		p.log.Warn("ticket cache invalidation failed",
			zap.String("booking_id", bookingID),
			zap.Error(err),
		)
	}
	if userID == "" {
		return
	}
	if err := p.cache.InvalidateUserTickets(ctx, userID); err != nil {
		p.log.Warn("user tickets cache invalidation failed",
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
