package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transitgo/ticketing-service/internal/domain"
	"github.com/transitgo/ticketing-service/internal/metrics"
	"github.com/transitgo/ticketing-service/internal/repository"
	"github.com/transitgo/ticketing-service/pkg/config"
)

// mockBookingRepo is a function-field mock of repository.BookingRepository
type mockBookingRepo struct {
	CreateWithEventFn func(ctx context.Context, b *domain.Booking, evt *domain.BookingEvent) error
	TransitionFn      func(ctx context.Context, bookingID string, apply repository.TransitionFunc) (*domain.Booking, *domain.BookingEvent, error)
	GetByIDFn         func(ctx context.Context, id string) (*domain.Booking, error)
	ListExpiredFn     func(ctx context.Context, now time.Time, limit int) ([]string, error)
}

func (m *mockBookingRepo) CreateWithEvent(ctx context.Context, b *domain.Booking, evt *domain.BookingEvent) error {
	return m.CreateWithEventFn(ctx, b, evt)
}

func (m *mockBookingRepo) Transition(ctx context.Context, bookingID string, apply repository.TransitionFunc) (*domain.Booking, *domain.BookingEvent, error) {
	return m.TransitionFn(ctx, bookingID, apply)
}

func (m *mockBookingRepo) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	return m.GetByIDFn(ctx, id)
}

func (m *mockBookingRepo) ListExpiredReservationIDs(ctx context.Context, now time.Time, limit int) ([]string, error) {
	return m.ListExpiredFn(ctx, now, limit)
}

func (m *mockBookingRepo) HealthCheck(ctx context.Context) error { return nil }

// mockPublisher records published events
type mockPublisher struct {
	Published  []*domain.BookingEvent
	ShouldFail bool
}

func (m *mockPublisher) PublishBookingEvent(ctx context.Context, evt *domain.BookingEvent) error {
	if m.ShouldFail {
		return errors.New("broker unavailable")
	}
	m.Published = append(m.Published, evt)
	return nil
}

// transitionAgainst emulates the repository transaction against an
// in-memory booking and seat
func transitionAgainst(b *domain.Booking, seat *domain.SeatAvailability) func(ctx context.Context, bookingID string, apply repository.TransitionFunc) (*domain.Booking, *domain.BookingEvent, error) {
	return func(ctx context.Context, bookingID string, apply repository.TransitionFunc) (*domain.Booking, *domain.BookingEvent, error) {
		if b == nil || b.ID != bookingID {
			return nil, nil, domain.ErrBookingNotFound
		}
		evt, err := apply(b, seat)
		if err != nil {
			return nil, nil, err
		}
		return b, evt, nil
	}
}

func testTicketingConfig() config.TicketingConfig {
	return config.TicketingConfig{
		DefaultCurrency:           "USD",
		DefaultReservationMinutes: 15,
		MinReservationMinutes:     5,
		MaxReservationMinutes:     60,
		SweepInterval:             30 * time.Second,
		SweepBatchSize:            100,
		EventsTopic:               "ticket-events",
		ProjectionName:            "user-tickets",
		DLQMaxAttempts:            5,
	}
}

func newCommandService(repo *mockBookingRepo, pub *mockPublisher) *TicketCommandService {
	return NewTicketCommandService(repo, pub, metrics.NewTicketMetrics(), testTicketingConfig())
}

func validBookCommand() BookTicketCommand {
	return BookTicketCommand{
		UserID:         "user-1",
		RouteID:        "route-1",
		ScheduleID:     "schedule-1",
		SeatNumber:     "A1",
		PassengerName:  "Alice Example",
		PassengerEmail: "alice@example.com",
		Price:          25.00,
		CorrelationID:  "corr-1",
	}
}

func TestTicketCommandService_Book(t *testing.T) {
	var stored *domain.Booking
	repo := &mockBookingRepo{
		CreateWithEventFn: func(ctx context.Context, b *domain.Booking, evt *domain.BookingEvent) error {
			stored = b
			return nil
		},
	}
	pub := &mockPublisher{}
	svc := newCommandService(repo, pub)

	booking, err := svc.Book(context.Background(), validBookCommand())
	require.NoError(t, err)

	assert.Equal(t, domain.BookingStatusPending, booking.Status)
	assert.Equal(t, 1, booking.Version)
	assert.Equal(t, "USD", booking.Currency, "default currency applied")
	assert.Same(t, stored, booking)

	require.Len(t, pub.Published, 1)
	assert.Equal(t, domain.EventTypeTicketBooked, pub.Published[0].EventType)
	assert.Equal(t, booking.ID, pub.Published[0].AggregateID)
	assert.Equal(t, "corr-1", pub.Published[0].CorrelationID)
}

func TestTicketCommandService_Book_Validation(t *testing.T) {
	repo := &mockBookingRepo{
		CreateWithEventFn: func(ctx context.Context, b *domain.Booking, evt *domain.BookingEvent) error {
			t.Fatal("repository must not be called for invalid commands")
			return nil
		},
	}
	svc := newCommandService(repo, &mockPublisher{})

	tests := []struct {
		name   string
		mutate func(*BookTicketCommand)
	}{
		{"missing user", func(c *BookTicketCommand) { c.UserID = "" }},
		{"missing schedule", func(c *BookTicketCommand) { c.ScheduleID = "" }},
		{"missing passenger", func(c *BookTicketCommand) { c.PassengerName = "" }},
		{"non-positive price", func(c *BookTicketCommand) { c.Price = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := validBookCommand()
			tt.mutate(&cmd)

			_, err := svc.Book(context.Background(), cmd)
			assert.True(t, domain.IsBadRequestError(err), "expected bad request, got %v", err)
		})
	}
}

func TestTicketCommandService_Book_SeatTaken(t *testing.T) {
	repo := &mockBookingRepo{
		CreateWithEventFn: func(ctx context.Context, b *domain.Booking, evt *domain.BookingEvent) error {
			return domain.ErrSeatNotAvailable
		},
	}
	pub := &mockPublisher{}
	svc := newCommandService(repo, pub)

	_, err := svc.Book(context.Background(), validBookCommand())
	assert.True(t, domain.IsInsufficientSeatsError(err))
	assert.Empty(t, pub.Published, "nothing published when the write fails")
}

func TestTicketCommandService_Book_PublishFailureKeepsCommit(t *testing.T) {
	repo := &mockBookingRepo{
		CreateWithEventFn: func(ctx context.Context, b *domain.Booking, evt *domain.BookingEvent) error {
			return nil
		},
	}
	svc := newCommandService(repo, &mockPublisher{ShouldFail: true})

	booking, err := svc.Book(context.Background(), validBookCommand())
	require.NoError(t, err, "publish failure must not fail the command")
	assert.Equal(t, domain.BookingStatusPending, booking.Status)
}

func TestTicketCommandService_Reserve(t *testing.T) {
	repo := &mockBookingRepo{
		CreateWithEventFn: func(ctx context.Context, b *domain.Booking, evt *domain.BookingEvent) error {
			return nil
		},
	}
	pub := &mockPublisher{}
	svc := newCommandService(repo, pub)

	t.Run("default duration", func(t *testing.T) {
		booking, err := svc.Reserve(context.Background(), ReserveTicketCommand{
			BookTicketCommand: validBookCommand(),
		})
		require.NoError(t, err)

		assert.Equal(t, domain.BookingStatusReserved, booking.Status)
		require.NotNil(t, booking.ExpiresAt)
		assert.WithinDuration(t, time.Now().Add(15*time.Minute), *booking.ExpiresAt, 5*time.Second)

		require.NotEmpty(t, pub.Published)
		assert.Equal(t, domain.EventTypeTicketReserved, pub.Published[len(pub.Published)-1].EventType)
	})

	t.Run("explicit duration", func(t *testing.T) {
		booking, err := svc.Reserve(context.Background(), ReserveTicketCommand{
			BookTicketCommand: validBookCommand(),
			Duration:          30 * time.Minute,
		})
		require.NoError(t, err)
		assert.WithinDuration(t, time.Now().Add(30*time.Minute), *booking.ExpiresAt, 5*time.Second)
	})

	t.Run("duration out of bounds", func(t *testing.T) {
		for _, d := range []time.Duration{time.Minute, 2 * time.Hour} {
			_, err := svc.Reserve(context.Background(), ReserveTicketCommand{
				BookTicketCommand: validBookCommand(),
				Duration:          d,
			})
			assert.True(t, domain.IsBadRequestError(err), "duration %v should be rejected", d)
		}
	})
}

func TestTicketCommandService_Confirm(t *testing.T) {
	now := time.Now()

	t.Run("pending booking confirms and books the seat", func(t *testing.T) {
		b := domain.NewBooking(bookingParamsFixture(), now)
		seat := domain.NewAvailableSeat("schedule-1", "A1", now)
		require.NoError(t, seat.Book(b.ID, now))

		repo := &mockBookingRepo{TransitionFn: transitionAgainst(b, seat)}
		pub := &mockPublisher{}
		svc := newCommandService(repo, pub)

		confirmed, err := svc.Confirm(context.Background(), ConfirmTicketCommand{
			BookingID: b.ID,
			PaymentID: "pay-1",
		})
		require.NoError(t, err)

		assert.Equal(t, domain.BookingStatusConfirmed, confirmed.Status)
		assert.Equal(t, "pay-1", confirmed.PaymentID)
		assert.Equal(t, 2, confirmed.Version)
		assert.Equal(t, domain.SeatStatusBooked, seat.Status)

		require.Len(t, pub.Published, 1)
		assert.Equal(t, domain.EventTypeTicketConfirmed, pub.Published[0].EventType)
		assert.Equal(t, 2, pub.Published[0].Version)
	})

	t.Run("reserved seat upgrades from locked", func(t *testing.T) {
		b := domain.NewReservation(bookingParamsFixture(), 15*time.Minute, now)
		seat := domain.NewAvailableSeat("schedule-1", "A1", now)
		require.NoError(t, seat.Lock(b.ID, *b.ExpiresAt, now))

		repo := &mockBookingRepo{TransitionFn: transitionAgainst(b, seat)}
		svc := newCommandService(repo, &mockPublisher{})

		_, err := svc.Confirm(context.Background(), ConfirmTicketCommand{BookingID: b.ID, PaymentID: "pay-2"})
		require.NoError(t, err)

		assert.Equal(t, domain.SeatStatusBooked, seat.Status)
		assert.Nil(t, seat.LockedUntil)
	})

	t.Run("expired reservation rejected", func(t *testing.T) {
		b := domain.NewReservation(bookingParamsFixture(), 5*time.Minute, now.Add(-10*time.Minute))
		repo := &mockBookingRepo{TransitionFn: transitionAgainst(b, nil)}
		svc := newCommandService(repo, &mockPublisher{})

		_, err := svc.Confirm(context.Background(), ConfirmTicketCommand{BookingID: b.ID, PaymentID: "pay-3"})
		assert.True(t, domain.IsInvalidStateError(err))
	})

	t.Run("missing payment id", func(t *testing.T) {
		svc := newCommandService(&mockBookingRepo{}, &mockPublisher{})

		_, err := svc.Confirm(context.Background(), ConfirmTicketCommand{BookingID: "b-1"})
		assert.True(t, domain.IsBadRequestError(err))
	})
}

func TestTicketCommandService_Cancel(t *testing.T) {
	now := time.Now()

	t.Run("owner cancels confirmed booking with refund", func(t *testing.T) {
		b := domain.NewBooking(bookingParamsFixture(), now)
		require.NoError(t, b.Confirm("pay-1", now))
		seat := domain.NewAvailableSeat("schedule-1", "A1", now)
		require.NoError(t, seat.Book(b.ID, now))

		repo := &mockBookingRepo{TransitionFn: transitionAgainst(b, seat)}
		pub := &mockPublisher{}
		svc := newCommandService(repo, pub)

		cancelled, refund, err := svc.Cancel(context.Background(), CancelTicketCommand{
			BookingID: b.ID,
			UserID:    "user-1",
			Reason:    "plans changed",
		})
		require.NoError(t, err)

		assert.Equal(t, domain.BookingStatusCancelled, cancelled.Status)
		require.NotNil(t, refund)
		assert.Equal(t, 25.00, *refund)
		assert.Equal(t, domain.SeatStatusAvailable, seat.Status)

		require.Len(t, pub.Published, 1)
		assert.Equal(t, domain.EventTypeTicketCancelled, pub.Published[0].EventType)
	})

	t.Run("pending cancel has no refund", func(t *testing.T) {
		b := domain.NewBooking(bookingParamsFixture(), now)
		repo := &mockBookingRepo{TransitionFn: transitionAgainst(b, nil)}
		svc := newCommandService(repo, &mockPublisher{})

		_, refund, err := svc.Cancel(context.Background(), CancelTicketCommand{BookingID: b.ID})
		require.NoError(t, err)
		assert.Nil(t, refund)
	})

	t.Run("non-owner rejected", func(t *testing.T) {
		b := domain.NewBooking(bookingParamsFixture(), now)
		repo := &mockBookingRepo{TransitionFn: transitionAgainst(b, nil)}
		pub := &mockPublisher{}
		svc := newCommandService(repo, pub)

		_, _, err := svc.Cancel(context.Background(), CancelTicketCommand{
			BookingID: b.ID,
			UserID:    "someone-else",
		})
		assert.True(t, domain.IsForbiddenError(err))
		assert.Empty(t, pub.Published)
	})

	t.Run("seat held by another booking stays allocated", func(t *testing.T) {
		b := domain.NewReservation(bookingParamsFixture(), 5*time.Minute, now.Add(-10*time.Minute))
		seat := domain.NewAvailableSeat("schedule-1", "A1", now)
		require.NoError(t, seat.Lock("other-booking", now.Add(10*time.Minute), now))

		repo := &mockBookingRepo{TransitionFn: transitionAgainst(b, seat)}
		svc := newCommandService(repo, &mockPublisher{})

		_, _, err := svc.Cancel(context.Background(), CancelTicketCommand{BookingID: b.ID})
		require.NoError(t, err)

		assert.Equal(t, domain.SeatStatusLocked, seat.Status)
		assert.Equal(t, "other-booking", seat.BookingID)
	})
}

func TestTicketCommandService_ExpireOverdue(t *testing.T) {
	now := time.Now()

	overdue := domain.NewReservation(bookingParamsFixture(), 5*time.Minute, now.Add(-10*time.Minute))
	confirmedMeanwhile := domain.NewBooking(bookingParamsFixture(), now)
	require.NoError(t, confirmedMeanwhile.Confirm("pay-1", now))

	bookings := map[string]*domain.Booking{
		overdue.ID:            overdue,
		confirmedMeanwhile.ID: confirmedMeanwhile,
	}

	repo := &mockBookingRepo{
		ListExpiredFn: func(ctx context.Context, listNow time.Time, limit int) ([]string, error) {
			assert.Equal(t, 100, limit)
			return []string{overdue.ID, confirmedMeanwhile.ID}, nil
		},
		TransitionFn: func(ctx context.Context, bookingID string, apply repository.TransitionFunc) (*domain.Booking, *domain.BookingEvent, error) {
			b, ok := bookings[bookingID]
			if !ok {
				return nil, nil, domain.ErrBookingNotFound
			}
			evt, err := apply(b, nil)
			if err != nil {
				return nil, nil, err
			}
			return b, evt, nil
		},
	}
	pub := &mockPublisher{}
	svc := newCommandService(repo, pub)

	expired, err := svc.ExpireOverdue(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, expired, "the confirmed booking is skipped")
	assert.Equal(t, domain.BookingStatusExpired, overdue.Status)
	assert.Equal(t, domain.BookingStatusConfirmed, confirmedMeanwhile.Status)

	require.Len(t, pub.Published, 1)
	assert.Equal(t, domain.EventTypeTicketExpired, pub.Published[0].EventType)
}

func bookingParamsFixture() domain.BookingParams {
	return domain.BookingParams{
		UserID:         "user-1",
		RouteID:        "route-1",
		ScheduleID:     "schedule-1",
		SeatNumber:     "A1",
		PassengerName:  "Alice Example",
		PassengerEmail: "alice@example.com",
		Price:          25.00,
		Currency:       "USD",
	}
}
