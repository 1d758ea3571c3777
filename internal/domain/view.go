package domain

import "time"

// TicketView is the denormalized read model row for one booking.
// Route and schedule display fields are nullable pending enrichment.
type TicketView struct {
	BookingID       string        `json:"bookingId"`
	UserID          string        `json:"userId"`
	RouteID         string        `json:"routeId"`
	ScheduleID      string        `json:"scheduleId"`
	SeatNumber      string        `json:"seatNumber,omitempty"`
	PassengerName   string        `json:"passengerName"`
	Status          BookingStatus `json:"status"`
	Price           float64       `json:"price"`
	Currency        string        `json:"currency"`
	RouteName       *string       `json:"routeName,omitempty"`
	DepartureTime   *time.Time    `json:"departureTime,omitempty"`
	ArrivalTime     *time.Time    `json:"arrivalTime,omitempty"`
	OriginStop      *string       `json:"originStop,omitempty"`
	DestinationStop *string       `json:"destinationStop,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

// ScheduleAvailability is the per-schedule booked-seat counter
type ScheduleAvailability struct {
	ScheduleID  string    `json:"scheduleId"`
	TotalSeats  int       `json:"totalSeats"`
	BookedSeats int       `json:"bookedSeats"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// AvailableSeats derives the remaining capacity
func (s *ScheduleAvailability) AvailableSeats() int {
	remaining := s.TotalSeats - s.BookedSeats
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ProjectionCheckpoint is a named cursor over the event stream
type ProjectionCheckpoint struct {
	ProjectionName       string    `json:"projectionName"`
	LastProcessedEventID string    `json:"lastProcessedEventId"`
	LastProcessedAt      time.Time `json:"lastProcessedAt"`
}

// TicketPage is one page of a user's tickets
type TicketPage struct {
	Tickets    []*TicketView `json:"tickets"`
	Total      int64         `json:"total"`
	Page       int           `json:"page"`
	Limit      int           `json:"limit"`
	TotalPages int           `json:"totalPages"`
}

// NewTicketPage computes totalPages = ceil(total/limit)
func NewTicketPage(tickets []*TicketView, total int64, page, limit int) *TicketPage {
	totalPages := 0
	if limit > 0 {
		totalPages = int((total + int64(limit) - 1) / int64(limit))
	}
	return &TicketPage{
		Tickets:    tickets,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: totalPages,
	}
}
