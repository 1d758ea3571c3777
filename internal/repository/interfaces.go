package repository

import (
	"context"
	"time"

	"github.com/transitgo/ticketing-service/internal/domain"
)

// TransitionFunc mutates a locked booking (and its seat row, when the
// booking holds one) in memory. It returns the event to append at the
// booking's post-mutation version. seat is nil when the booking has no
// seat or the seat row is absent.
type TransitionFunc func(b *domain.Booking, seat *domain.SeatAvailability) (*domain.BookingEvent, error)

// BookingRepository is the command-side store for booking aggregates.
// All mutations couple the bookings row, the seat_availability row, and
// the event-store append under one transaction.
type BookingRepository interface {
	// CreateWithEvent persists a new booking, acquires its seat (BOOKED
	// for PENDING bookings, LOCKED for RESERVED), and appends the
	// version-1 event, all in one transaction.
	CreateWithEvent(ctx context.Context, b *domain.Booking, evt *domain.BookingEvent) error

	// Transition locks the booking row and its seat row, applies the
	// in-memory mutation, and persists booking, seat, and event together.
	Transition(ctx context.Context, bookingID string, apply TransitionFunc) (*domain.Booking, *domain.BookingEvent, error)

	// GetByID returns the booking or domain.ErrBookingNotFound.
	GetByID(ctx context.Context, id string) (*domain.Booking, error)

	// ListExpiredReservationIDs returns ids of RESERVED bookings whose
	// deadline passed before now, oldest first, up to limit.
	ListExpiredReservationIDs(ctx context.Context, now time.Time, limit int) ([]string, error)

	// HealthCheck verifies the write store is reachable.
	HealthCheck(ctx context.Context) error
}

// ReadModelRepository is the query-side store maintained by the projector
// and served by the query core.
type ReadModelRepository interface {
	// UpsertTicketView inserts or updates a ticket row. When the row
	// already holds a CONFIRMED or terminal status, that status is kept
	// (replays of older events must not regress state).
	UpsertTicketView(ctx context.Context, view *domain.TicketView) error

	// SetTicketStatus updates the row's status. Setting CONFIRMED on a
	// row already in a terminal status is a no-op.
	SetTicketStatus(ctx context.Context, bookingID string, status domain.BookingStatus, updatedAt time.Time) error

	// AdjustBookedSeats adds delta to the schedule's booked-seat counter,
	// clamped at zero, creating the row when absent.
	AdjustBookedSeats(ctx context.Context, scheduleID string, delta int) error

	// GetCheckpoint returns the projection's cursor, or nil when the
	// projection has never run.
	GetCheckpoint(ctx context.Context, projectionName string) (*domain.ProjectionCheckpoint, error)

	// UpsertCheckpoint stores the projection's cursor.
	UpsertCheckpoint(ctx context.Context, cp *domain.ProjectionCheckpoint) error

	// ListUserTickets returns one page of the user's tickets ordered by
	// createdAt descending, plus the unpaged total. status filters when
	// non-empty.
	ListUserTickets(ctx context.Context, userID string, status domain.BookingStatus, page, limit int) ([]*domain.TicketView, int64, error)

	// GetTicketByID returns the ticket row or domain.ErrTicketNotFound.
	GetTicketByID(ctx context.Context, bookingID string) (*domain.TicketView, error)

	// HealthCheck verifies the read store is reachable.
	HealthCheck(ctx context.Context) error
}

// TicketCacheRepository is the short-TTL cache in front of the read model.
// Misses return (nil, nil): the cache is best-effort and callers fall
// back to the read store on any error.
type TicketCacheRepository interface {
	GetTicketPage(ctx context.Context, userID string, page, limit int) (*domain.TicketPage, error)
	SetTicketPage(ctx context.Context, userID string, page, limit int, pageData *domain.TicketPage) error
	GetTicket(ctx context.Context, bookingID string) (*domain.TicketView, error)
	SetTicket(ctx context.Context, view *domain.TicketView) error
	InvalidateTicket(ctx context.Context, bookingID string) error
	InvalidateUserTickets(ctx context.Context, userID string) error
	HealthCheck(ctx context.Context) error
}
