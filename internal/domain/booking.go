package domain

import (
	"time"

	"github.com/google/uuid"
)

// BookingStatus is the lifecycle state of a booking aggregate
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "PENDING"
	BookingStatusReserved  BookingStatus = "RESERVED"
	BookingStatusConfirmed BookingStatus = "CONFIRMED"
	BookingStatusCancelled BookingStatus = "CANCELLED"
	BookingStatusExpired   BookingStatus = "EXPIRED"
	BookingStatusRefunded  BookingStatus = "REFUNDED"
)

// IsTerminal reports whether the status can never change again
func (s BookingStatus) IsTerminal() bool {
	switch s {
	case BookingStatusCancelled, BookingStatusExpired, BookingStatusRefunded:
		return true
	}
	return false
}

// IsValid reports whether s is a known status
func (s BookingStatus) IsValid() bool {
	switch s {
	case BookingStatusPending, BookingStatusReserved, BookingStatusConfirmed,
		BookingStatusCancelled, BookingStatusExpired, BookingStatusRefunded:
		return true
	}
	return false
}

// Reservation duration bounds in minutes
const (
	MinReservationMinutes     = 5
	MaxReservationMinutes     = 60
	DefaultReservationMinutes = 15
)

// Booking is the aggregate root. Every persisted mutation bumps Version
// by one and is recorded as exactly one event row carrying that version.
type Booking struct {
	ID             string        `json:"id"`
	UserID         string        `json:"userId"`
	RouteID        string        `json:"routeId"`
	ScheduleID     string        `json:"scheduleId"`
	SeatNumber     string        `json:"seatNumber,omitempty"`
	PassengerName  string        `json:"passengerName"`
	PassengerEmail string        `json:"passengerEmail"`
	PassengerPhone string        `json:"passengerPhone,omitempty"`
	Price          float64       `json:"price"`
	Currency       string        `json:"currency"`
	Status         BookingStatus `json:"status"`
	PaymentID      string        `json:"paymentId,omitempty"`
	ReservedAt     *time.Time    `json:"reservedAt,omitempty"`
	ConfirmedAt    *time.Time    `json:"confirmedAt,omitempty"`
	CancelledAt    *time.Time    `json:"cancelledAt,omitempty"`
	ExpiresAt      *time.Time    `json:"expiresAt,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
	Version        int           `json:"version"`
}

// BookingParams carries the validated inputs shared by Book and Reserve
type BookingParams struct {
	UserID         string
	RouteID        string
	ScheduleID     string
	SeatNumber     string
	PassengerName  string
	PassengerEmail string
	PassengerPhone string
	Price          float64
	Currency       string
}

// NewBooking creates a booking in status PENDING at version 1
func NewBooking(p BookingParams, now time.Time) *Booking {
	return &Booking{
		ID:             uuid.New().String(),
		UserID:         p.UserID,
		RouteID:        p.RouteID,
		ScheduleID:     p.ScheduleID,
		SeatNumber:     p.SeatNumber,
		PassengerName:  p.PassengerName,
		PassengerEmail: p.PassengerEmail,
		PassengerPhone: p.PassengerPhone,
		Price:          p.Price,
		Currency:       p.Currency,
		Status:         BookingStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
		Version:        1,
	}
}

// NewReservation creates a booking in status RESERVED at version 1 with
// expiresAt = now + duration
func NewReservation(p BookingParams, duration time.Duration, now time.Time) *Booking {
	b := NewBooking(p, now)
	expiresAt := now.Add(duration)
	b.Status = BookingStatusReserved
	b.ReservedAt = &now
	b.ExpiresAt = &expiresAt
	return b
}

// HasSeat reports whether the booking holds a specific seat
func (b *Booking) HasSeat() bool {
	return b.SeatNumber != ""
}

// IsReservationExpired reports whether a RESERVED booking is past its deadline
func (b *Booking) IsReservationExpired(now time.Time) bool {
	return b.Status == BookingStatusReserved && b.ExpiresAt != nil && b.ExpiresAt.Before(now)
}

// Confirm transitions PENDING or unexpired RESERVED to CONFIRMED,
// attaches the payment and clears the reservation deadline.
func (b *Booking) Confirm(paymentID string, now time.Time) error {
	switch b.Status {
	case BookingStatusPending:
	case BookingStatusReserved:
		if b.IsReservationExpired(now) {
			return NewInvalidStateError(b.Status, "reservation expired")
		}
	default:
		return NewInvalidStateError(b.Status, "only PENDING or RESERVED bookings can be confirmed")
	}

	b.Status = BookingStatusConfirmed
	b.PaymentID = paymentID
	b.ConfirmedAt = &now
	b.ExpiresAt = nil
	b.touch(now)
	return nil
}

// Cancel transitions PENDING, RESERVED, or CONFIRMED to CANCELLED and
// returns the refund amount: full price iff the previous status was
// CONFIRMED, nil otherwise. The refund rule is a placeholder.
func (b *Booking) Cancel(now time.Time) (*float64, error) {
	switch b.Status {
	case BookingStatusPending, BookingStatusReserved, BookingStatusConfirmed:
	default:
		return nil, NewInvalidStateError(b.Status, "only PENDING, RESERVED, or CONFIRMED bookings can be cancelled")
	}

	refund := RefundAmount(b.Status, b.Price)

	b.Status = BookingStatusCancelled
	b.CancelledAt = &now
	b.ExpiresAt = nil
	b.touch(now)
	return refund, nil
}

// Expire transitions an overdue RESERVED booking to EXPIRED
func (b *Booking) Expire(now time.Time) error {
	if b.Status != BookingStatusReserved {
		return NewInvalidStateError(b.Status, "only RESERVED bookings can expire")
	}
	if b.ExpiresAt == nil || !b.ExpiresAt.Before(now) {
		return NewInvalidStateError(b.Status, "reservation has not expired yet")
	}

	b.Status = BookingStatusExpired
	b.ExpiresAt = nil
	b.touch(now)
	return nil
}

// OwnedBy reports whether the booking belongs to userID
func (b *Booking) OwnedBy(userID string) bool {
	return b.UserID == userID
}

func (b *Booking) touch(now time.Time) {
	b.UpdatedAt = now
	b.Version++
}

// RefundAmount computes the refund for a cancellation from the status
// the booking held before cancelling. Placeholder policy: full refund
// iff the booking was CONFIRMED.
func RefundAmount(previous BookingStatus, price float64) *float64 {
	if previous != BookingStatusConfirmed {
		return nil
	}
	refund := price
	return &refund
}
