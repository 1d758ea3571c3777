package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event types published on the ticket events topic
const (
	EventTypeTicketBooked    = "TICKET_BOOKED"
	EventTypeTicketReserved  = "TICKET_RESERVED"
	EventTypeTicketConfirmed = "TICKET_CONFIRMED"
	EventTypeTicketCancelled = "TICKET_CANCELLED"
	EventTypeTicketExpired   = "TICKET_EXPIRED"
	EventTypeTicketRefunded  = "TICKET_REFUNDED"
)

// AggregateTypeBooking is the aggregate type recorded on every event
const AggregateTypeBooking = "Booking"

// BookingEvent is the envelope persisted to the event store and published
// on the bus. (AggregateID, Version) is unique: it is the write fence that
// serializes concurrent mutations of one aggregate.
type BookingEvent struct {
	EventID       string            `json:"eventId"`
	EventType     string            `json:"eventType"`
	AggregateID   string            `json:"aggregateId"`
	AggregateType string            `json:"aggregateType"`
	Timestamp     time.Time         `json:"timestamp"`
	Version       int               `json:"version"`
	CorrelationID string            `json:"correlationId,omitempty"`
	CausationID   string            `json:"causationId,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Payload       json.RawMessage   `json:"payload"`
}

// TicketBookedPayload is the payload of TICKET_BOOKED
type TicketBookedPayload struct {
	BookingID      string  `json:"bookingId"`
	UserID         string  `json:"userId"`
	RouteID        string  `json:"routeId"`
	ScheduleID     string  `json:"scheduleId"`
	SeatNumber     string  `json:"seatNumber,omitempty"`
	PassengerName  string  `json:"passengerName"`
	PassengerEmail string  `json:"passengerEmail"`
	Price          float64 `json:"price"`
	Currency       string  `json:"currency"`
}

// TicketReservedPayload is the payload of TICKET_RESERVED
type TicketReservedPayload struct {
	TicketBookedPayload
	ExpiresAt time.Time `json:"expiresAt"`
}

// TicketConfirmedPayload is the payload of TICKET_CONFIRMED
type TicketConfirmedPayload struct {
	BookingID   string    `json:"bookingId"`
	UserID      string    `json:"userId"`
	PaymentID   string    `json:"paymentId"`
	ConfirmedAt time.Time `json:"confirmedAt"`
}

// TicketCancelledPayload is the payload of TICKET_CANCELLED
type TicketCancelledPayload struct {
	BookingID    string    `json:"bookingId"`
	UserID       string    `json:"userId"`
	Reason       string    `json:"reason,omitempty"`
	CancelledAt  time.Time `json:"cancelledAt"`
	RefundAmount *float64  `json:"refundAmount,omitempty"`
}

// TicketExpiredPayload is the payload of TICKET_EXPIRED
type TicketExpiredPayload struct {
	BookingID string    `json:"bookingId"`
	UserID    string    `json:"userId"`
	ExpiredAt time.Time `json:"expiredAt"`
}

// TicketRefundedPayload is the payload of TICKET_REFUNDED
type TicketRefundedPayload struct {
	BookingID    string    `json:"bookingId"`
	UserID       string    `json:"userId"`
	RefundAmount float64   `json:"refundAmount"`
	RefundedAt   time.Time `json:"refundedAt"`
}

// NewBookingEvent builds an envelope for the booking at its current
// version with the given payload
func NewBookingEvent(eventType string, b *Booking, payload interface{}, correlationID string) (*BookingEvent, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}

	return &BookingEvent{
		EventID:       uuid.New().String(),
		EventType:     eventType,
		AggregateID:   b.ID,
		AggregateType: AggregateTypeBooking,
		Timestamp:     time.Now().UTC(),
		Version:       b.Version,
		CorrelationID: correlationID,
		Payload:       raw,
	}, nil
}

// NewTicketBookedEvent builds the version-1 event for a new PENDING booking
func NewTicketBookedEvent(b *Booking, correlationID string) (*BookingEvent, error) {
	return NewBookingEvent(EventTypeTicketBooked, b, bookedPayload(b), correlationID)
}

// NewTicketReservedEvent builds the version-1 event for a new reservation
func NewTicketReservedEvent(b *Booking, correlationID string) (*BookingEvent, error) {
	if b.ExpiresAt == nil {
		return nil, fmt.Errorf("reservation event requires expiresAt")
	}
	return NewBookingEvent(EventTypeTicketReserved, b, TicketReservedPayload{
		TicketBookedPayload: bookedPayload(b),
		ExpiresAt:           *b.ExpiresAt,
	}, correlationID)
}

// NewTicketConfirmedEvent builds the event for a confirmed booking
func NewTicketConfirmedEvent(b *Booking, correlationID string) (*BookingEvent, error) {
	if b.ConfirmedAt == nil {
		return nil, fmt.Errorf("confirmed event requires confirmedAt")
	}
	return NewBookingEvent(EventTypeTicketConfirmed, b, TicketConfirmedPayload{
		BookingID:   b.ID,
		UserID:      b.UserID,
		PaymentID:   b.PaymentID,
		ConfirmedAt: *b.ConfirmedAt,
	}, correlationID)
}

// NewTicketCancelledEvent builds the event for a cancelled booking
func NewTicketCancelledEvent(b *Booking, reason string, refundAmount *float64, correlationID string) (*BookingEvent, error) {
	if b.CancelledAt == nil {
		return nil, fmt.Errorf("cancelled event requires cancelledAt")
	}
	return NewBookingEvent(EventTypeTicketCancelled, b, TicketCancelledPayload{
		BookingID:    b.ID,
		UserID:       b.UserID,
		Reason:       reason,
		CancelledAt:  *b.CancelledAt,
		RefundAmount: refundAmount,
	}, correlationID)
}

// NewTicketExpiredEvent builds the event for an expired reservation
func NewTicketExpiredEvent(b *Booking, correlationID string) (*BookingEvent, error) {
	return NewBookingEvent(EventTypeTicketExpired, b, TicketExpiredPayload{
		BookingID: b.ID,
		UserID:    b.UserID,
		ExpiredAt: b.UpdatedAt,
	}, correlationID)
}

func bookedPayload(b *Booking) TicketBookedPayload {
	return TicketBookedPayload{
		BookingID:      b.ID,
		UserID:         b.UserID,
		RouteID:        b.RouteID,
		ScheduleID:     b.ScheduleID,
		SeatNumber:     b.SeatNumber,
		PassengerName:  b.PassengerName,
		PassengerEmail: b.PassengerEmail,
		Price:          b.Price,
		Currency:       b.Currency,
	}
}
