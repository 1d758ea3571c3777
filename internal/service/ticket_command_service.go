package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/transitgo/ticketing-service/internal/domain"
	"github.com/transitgo/ticketing-service/internal/metrics"
	"github.com/transitgo/ticketing-service/internal/repository"
	"github.com/transitgo/ticketing-service/pkg/config"
	"github.com/transitgo/ticketing-service/pkg/logger"
	"github.com/transitgo/ticketing-service/pkg/telemetry"
)

// BookTicketCommand carries the inputs of an immediate booking
type BookTicketCommand struct {
	UserID         string
	RouteID        string
	ScheduleID     string
	SeatNumber     string
	PassengerName  string
	PassengerEmail string
	PassengerPhone string
	Price          float64
	Currency       string
	CorrelationID  string
}

// ReserveTicketCommand carries the inputs of a timed seat hold.
// Duration zero means the configured default.
type ReserveTicketCommand struct {
	BookTicketCommand
	Duration time.Duration
}

// ConfirmTicketCommand attaches a payment to a PENDING or RESERVED booking
type ConfirmTicketCommand struct {
	BookingID     string
	PaymentID     string
	CorrelationID string
}

// CancelTicketCommand cancels a booking. UserID empty skips the ownership
// check (trusted internal callers and admins).
type CancelTicketCommand struct {
	BookingID     string
	UserID        string
	Reason        string
	CorrelationID string
}

// TicketCommandService executes the write side of the ticket lifecycle.
// Every command commits booking, seat and event in one transaction, then
// publishes the event. A failed publish never rolls back the commit: the
// write store is the source of truth and the bus is caught up by replay.
type TicketCommandService struct {
	repo      repository.BookingRepository
	publisher EventPublisher
	metrics   *metrics.TicketMetrics
	cfg       config.TicketingConfig
	log       *logger.Logger
}

func NewTicketCommandService(
	repo repository.BookingRepository,
	publisher EventPublisher,
	m *metrics.TicketMetrics,
	cfg config.TicketingConfig,
) *TicketCommandService {
	return &TicketCommandService{
		repo:      repo,
		publisher: publisher,
		metrics:   m,
		cfg:       cfg,
		log:       logger.Get(),
	}
}

// Book creates a booking in status PENDING and takes the seat immediately
func (s *TicketCommandService) Book(ctx context.Context, cmd BookTicketCommand) (*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.ticket.book")
	defer span.End()
	start := time.Now()

	span.SetAttributes(
		attribute.String("user.id", cmd.UserID),
		attribute.String("schedule.id", cmd.ScheduleID),
	)

	params, err := s.bookingParams(cmd)
	if err != nil {
		span.SetStatus(codes.Error, "invalid command")
		return nil, err
	}

	now := time.Now().UTC()
	b := domain.NewBooking(params, now)

	evt, err := domain.NewTicketBookedEvent(b, cmd.CorrelationID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "event build failed")
		return nil, err
	}

	if err := s.repo.CreateWithEvent(ctx, b, evt); err != nil {
		s.recordFailure(ctx, span, "book", err)
		return nil, err
	}

	s.publishCommitted(ctx, evt)
	s.recordSuccess(ctx, span, "book", start)

	s.log.Info("ticket booked",
		zap.String("booking_id", b.ID),
		zap.String("user_id", b.UserID),
		zap.String("schedule_id", b.ScheduleID),
		zap.String("seat_number", b.SeatNumber),
	)
	return b, nil
}

// Reserve creates a booking in status RESERVED holding the seat until the
// reservation deadline
func (s *TicketCommandService) Reserve(ctx context.Context, cmd ReserveTicketCommand) (*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.ticket.reserve")
	defer span.End()
	start := time.Now()

	span.SetAttributes(
		attribute.String("user.id", cmd.UserID),
		attribute.String("schedule.id", cmd.ScheduleID),
	)

	params, err := s.bookingParams(cmd.BookTicketCommand)
	if err != nil {
		span.SetStatus(codes.Error, "invalid command")
		return nil, err
	}

	duration := cmd.Duration
	if duration == 0 {
		duration = time.Duration(s.cfg.DefaultReservationMinutes) * time.Minute
	}
	min := time.Duration(s.cfg.MinReservationMinutes) * time.Minute
	max := time.Duration(s.cfg.MaxReservationMinutes) * time.Minute
	if duration < min || duration > max {
		span.SetStatus(codes.Error, "invalid duration")
		return nil, domain.NewBadRequestError(fmt.Sprintf(
			"reservation duration must be between %d and %d minutes",
			s.cfg.MinReservationMinutes, s.cfg.MaxReservationMinutes,
		))
	}

	now := time.Now().UTC()
	b := domain.NewReservation(params, duration, now)

	evt, err := domain.NewTicketReservedEvent(b, cmd.CorrelationID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "event build failed")
		return nil, err
	}

	if err := s.repo.CreateWithEvent(ctx, b, evt); err != nil {
		s.recordFailure(ctx, span, "reserve", err)
		return nil, err
	}

	s.publishCommitted(ctx, evt)
	s.recordSuccess(ctx, span, "reserve", start)

	s.log.Info("ticket reserved",
		zap.String("booking_id", b.ID),
		zap.String("user_id", b.UserID),
		zap.Time("expires_at", *b.ExpiresAt),
	)
	return b, nil
}

// Confirm attaches a payment and moves the booking to CONFIRMED
func (s *TicketCommandService) Confirm(ctx context.Context, cmd ConfirmTicketCommand) (*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.ticket.confirm")
	defer span.End()
	start := time.Now()

	span.SetAttributes(attribute.String("booking.id", cmd.BookingID))

	if cmd.BookingID == "" {
		return nil, domain.NewBadRequestError("bookingId is required")
	}
	if cmd.PaymentID == "" {
		return nil, domain.NewBadRequestError("paymentId is required")
	}

	now := time.Now().UTC()
	b, evt, err := s.repo.Transition(ctx, cmd.BookingID, func(b *domain.Booking, seat *domain.SeatAvailability) (*domain.BookingEvent, error) {
		if err := b.Confirm(cmd.PaymentID, now); err != nil {
			return nil, err
		}
		if seat != nil {
			seat.ConfirmLock(b.ID, now)
		}
		return domain.NewTicketConfirmedEvent(b, cmd.CorrelationID)
	})
	if err != nil {
		s.recordFailure(ctx, span, "confirm", err)
		return nil, err
	}

	s.publishCommitted(ctx, evt)
	s.recordSuccess(ctx, span, "confirm", start)

	s.log.Info("ticket confirmed",
		zap.String("booking_id", b.ID),
		zap.String("payment_id", b.PaymentID),
	)
	return b, nil
}

// Cancel moves the booking to CANCELLED, frees its seat and computes the
// refund. The refund is the full price iff the booking was CONFIRMED.
func (s *TicketCommandService) Cancel(ctx context.Context, cmd CancelTicketCommand) (*domain.Booking, *float64, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.ticket.cancel")
	defer span.End()
	start := time.Now()

	span.SetAttributes(attribute.String("booking.id", cmd.BookingID))

	if cmd.BookingID == "" {
		return nil, nil, domain.NewBadRequestError("bookingId is required")
	}

	now := time.Now().UTC()
	var refund *float64
	b, evt, err := s.repo.Transition(ctx, cmd.BookingID, func(b *domain.Booking, seat *domain.SeatAvailability) (*domain.BookingEvent, error) {
		if cmd.UserID != "" && !b.OwnedBy(cmd.UserID) {
			return nil, domain.ErrForbidden
		}

		r, err := b.Cancel(now)
		if err != nil {
			return nil, err
		}
		refund = r

		// The seat may have been reacquired after a stale lock; only the
		// current holder releases it.
		if seat != nil && seat.BookingID == b.ID {
			seat.Release(now)
		}
		return domain.NewTicketCancelledEvent(b, cmd.Reason, r, cmd.CorrelationID)
	})
	if err != nil {
		s.recordFailure(ctx, span, "cancel", err)
		return nil, nil, err
	}

	s.publishCommitted(ctx, evt)
	s.recordSuccess(ctx, span, "cancel", start)

	s.log.Info("ticket cancelled",
		zap.String("booking_id", b.ID),
		zap.Bool("refunded", refund != nil),
	)
	return b, refund, nil
}

// ExpireOverdue expires reservations whose deadline has passed and frees
// their seats. Returns the number of reservations expired. Reservations
// that changed state between listing and locking are skipped.
func (s *TicketCommandService) ExpireOverdue(ctx context.Context) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.ticket.expire_overdue")
	defer span.End()
	start := time.Now()

	s.metrics.SweepsInFlight.Add(ctx, 1)
	defer s.metrics.SweepsInFlight.Add(ctx, -1)

	now := time.Now().UTC()
	ids, err := s.repo.ListExpiredReservationIDs(ctx, now, s.cfg.SweepBatchSize)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "listing failed")
		return 0, err
	}

	expired := 0
	for _, id := range ids {
		_, evt, err := s.repo.Transition(ctx, id, func(b *domain.Booking, seat *domain.SeatAvailability) (*domain.BookingEvent, error) {
			if err := b.Expire(now); err != nil {
				return nil, err
			}
			if seat != nil && seat.BookingID == b.ID {
				seat.Release(now)
			}
			return domain.NewTicketExpiredEvent(b, "")
		})
		if err != nil {
			// Confirmed or cancelled in the meantime, or lost a write race.
			if domain.IsInvalidStateError(err) || domain.IsConflictError(err) || domain.IsNotFoundError(err) {
				continue
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, "expiry failed")
			return expired, err
		}

		s.publishCommitted(ctx, evt)
		expired++
	}

	s.metrics.ReservationsExpired.Add(ctx, int64(expired))
	s.metrics.SweepDuration.Record(ctx, time.Since(start).Seconds())

	span.SetAttributes(attribute.Int("reservations.expired", expired))
	span.SetStatus(codes.Ok, "sweep complete")

	if expired > 0 {
		s.log.Info("expired overdue reservations", zap.Int("count", expired))
	}
	return expired, nil
}

func (s *TicketCommandService) bookingParams(cmd BookTicketCommand) (domain.BookingParams, error) {
	if cmd.UserID == "" {
		return domain.BookingParams{}, domain.NewBadRequestError("userId is required")
	}
	if cmd.RouteID == "" || cmd.ScheduleID == "" {
		return domain.BookingParams{}, domain.NewBadRequestError("routeId and scheduleId are required")
	}
	if cmd.PassengerName == "" || cmd.PassengerEmail == "" {
		return domain.BookingParams{}, domain.NewBadRequestError("passenger name and email are required")
	}
	if cmd.Price <= 0 {
		return domain.BookingParams{}, domain.NewBadRequestError("price must be positive")
	}

	currency := strings.ToUpper(cmd.Currency)
	if currency == "" {
		currency = s.cfg.DefaultCurrency
	}

	return domain.BookingParams{
		UserID:         cmd.UserID,
		RouteID:        cmd.RouteID,
		ScheduleID:     cmd.ScheduleID,
		SeatNumber:     cmd.SeatNumber,
		PassengerName:  cmd.PassengerName,
		PassengerEmail: cmd.PassengerEmail,
		PassengerPhone: cmd.PassengerPhone,
		Price:          cmd.Price,
		Currency:       currency,
	}, nil
}

// publishCommitted pushes an already-committed event to the bus. The
// commit wins over a publish failure: the event row stays authoritative
// and the failure is surfaced through logs and metrics only.
func (s *TicketCommandService) publishCommitted(ctx context.Context, evt *domain.BookingEvent) {
	if err := s.publisher.PublishBookingEvent(ctx, evt); err != nil {
		s.metrics.EventPublishFailures.Inc(ctx, attribute.String("event_type", evt.EventType))
		s.log.Warn("event committed but not published",
			zap.String("event_id", evt.EventID),
			zap.String("event_type", evt.EventType),
			zap.String("booking_id", evt.AggregateID),
			zap.Error(err),
		)
		return
	}
	s.metrics.EventsPublished.Inc(ctx, attribute.String("event_type", evt.EventType))
}

func (s *TicketCommandService) recordSuccess(ctx context.Context, span trace.Span, command string, start time.Time) {
	s.metrics.CommandsTotal.Inc(ctx,
		attribute.String("command", command),
		attribute.String("outcome", "success"),
	)
	s.metrics.CommandDuration.Record(ctx, time.Since(start).Seconds(), attribute.String("command", command))
	span.SetStatus(codes.Ok, command+" succeeded")
}

func (s *TicketCommandService) recordFailure(ctx context.Context, span trace.Span, command string, err error) {
	s.metrics.CommandsTotal.Inc(ctx,
		attribute.String("command", command),
		attribute.String("outcome", "failure"),
	)
	s.metrics.CommandFailures.Inc(ctx, attribute.String("command", command))
	span.RecordError(err)
	span.SetStatus(codes.Error, command+" failed")
}
