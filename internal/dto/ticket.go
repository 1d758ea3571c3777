package dto

import (
	"time"

	"github.com/transitgo/ticketing-service/internal/domain"
)

// BookTicketRequest represents request to book a ticket immediately
type BookTicketRequest struct {
	RouteID        string  `json:"routeId" binding:"required"`
	ScheduleID     string  `json:"scheduleId" binding:"required"`
	SeatNumber     string  `json:"seatNumber,omitempty"`
	PassengerName  string  `json:"passengerName" binding:"required"`
	PassengerEmail string  `json:"passengerEmail" binding:"required,email"`
	PassengerPhone string  `json:"passengerPhone,omitempty"`
	Price          float64 `json:"price" binding:"required,gt=0"`
	Currency       string  `json:"currency,omitempty" binding:"omitempty,len=3"`
}

// ReserveTicketRequest represents request to hold a seat for later payment.
// DurationMinutes zero means the configured default.
type ReserveTicketRequest struct {
	BookTicketRequest
	DurationMinutes int `json:"durationMinutes,omitempty" binding:"omitempty,min=5,max=60"`
}

// ConfirmTicketRequest represents request to confirm a booking after payment
type ConfirmTicketRequest struct {
	BookingID string `json:"bookingId" binding:"required,uuid"`
	PaymentID string `json:"paymentId" binding:"required"`
}

// CancelTicketRequest represents request to cancel a booking
type CancelTicketRequest struct {
	BookingID string `json:"bookingId" binding:"required,uuid"`
	Reason    string `json:"reason,omitempty"`
}

// TicketResponse represents a booking in API responses
type TicketResponse struct {
	BookingID      string     `json:"bookingId"`
	UserID         string     `json:"userId"`
	RouteID        string     `json:"routeId"`
	ScheduleID     string     `json:"scheduleId"`
	SeatNumber     string     `json:"seatNumber,omitempty"`
	PassengerName  string     `json:"passengerName"`
	PassengerEmail string     `json:"passengerEmail"`
	Price          float64    `json:"price"`
	Currency       string     `json:"currency"`
	Status         string     `json:"status"`
	PaymentID      string     `json:"paymentId,omitempty"`
	ReservedAt     *time.Time `json:"reservedAt,omitempty"`
	ConfirmedAt    *time.Time `json:"confirmedAt,omitempty"`
	CancelledAt    *time.Time `json:"cancelledAt,omitempty"`
	ExpiresAt      *time.Time `json:"expiresAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	Version        int        `json:"version"`
}

// CancelTicketResponse represents response after cancelling a booking
type CancelTicketResponse struct {
	TicketResponse
	RefundAmount *float64 `json:"refundAmount,omitempty"`
}

// TicketListResponse represents one page of a user's tickets
type TicketListResponse struct {
	Data       []*domain.TicketView `json:"data"`
	Total      int64                `json:"total"`
	Page       int                  `json:"page"`
	Limit      int                  `json:"limit"`
	TotalPages int                  `json:"totalPages"`
}

// FromDomain converts a domain Booking to TicketResponse
func FromDomain(b *domain.Booking) *TicketResponse {
	return &TicketResponse{
		BookingID:      b.ID,
		UserID:         b.UserID,
		RouteID:        b.RouteID,
		ScheduleID:     b.ScheduleID,
		SeatNumber:     b.SeatNumber,
		PassengerName:  b.PassengerName,
		PassengerEmail: b.PassengerEmail,
		Price:          b.Price,
		Currency:       b.Currency,
		Status:         string(b.Status),
		PaymentID:      b.PaymentID,
		ReservedAt:     b.ReservedAt,
		ConfirmedAt:    b.ConfirmedAt,
		CancelledAt:    b.CancelledAt,
		ExpiresAt:      b.ExpiresAt,
		CreatedAt:      b.CreatedAt,
		UpdatedAt:      b.UpdatedAt,
		Version:        b.Version,
	}
}

// FromTicketPage converts a domain TicketPage to TicketListResponse
func FromTicketPage(p *domain.TicketPage) *TicketListResponse {
	return &TicketListResponse{
		Data:       p.Tickets,
		Total:      p.Total,
		Page:       p.Page,
		Limit:      p.Limit,
		TotalPages: p.TotalPages,
	}
}
