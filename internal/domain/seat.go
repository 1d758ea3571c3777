package domain

import "time"

// SeatStatus is the allocation state of a (scheduleId, seatNumber) pair
type SeatStatus string

const (
	SeatStatusAvailable SeatStatus = "AVAILABLE"
	SeatStatusLocked    SeatStatus = "LOCKED"
	SeatStatusBooked    SeatStatus = "BOOKED"
)

// SeatAvailability tracks one seat within a schedule. Transitions are
// driven solely by the booking lifecycle:
//
//	AVAILABLE -> BOOKED   (Book, Confirm)
//	AVAILABLE -> LOCKED   (Reserve)
//	LOCKED    -> BOOKED   (Confirm)
//	LOCKED    -> AVAILABLE (Cancel, Expire, stale-lock reacquisition)
//	BOOKED    -> AVAILABLE (Cancel)
type SeatAvailability struct {
	ScheduleID  string     `json:"scheduleId"`
	SeatNumber  string     `json:"seatNumber"`
	Status      SeatStatus `json:"status"`
	BookingID   string     `json:"bookingId,omitempty"`
	LockedUntil *time.Time `json:"lockedUntil,omitempty"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// NewAvailableSeat creates an unallocated seat row
func NewAvailableSeat(scheduleID, seatNumber string, now time.Time) *SeatAvailability {
	return &SeatAvailability{
		ScheduleID: scheduleID,
		SeatNumber: seatNumber,
		Status:     SeatStatusAvailable,
		UpdatedAt:  now,
	}
}

// Acquirable reports whether a new booking may take this seat: the row
// is AVAILABLE, or LOCKED with a stale lockedUntil (the sweeper has not
// fired yet; reacquisition keeps the system progressing).
func (s *SeatAvailability) Acquirable(now time.Time) bool {
	switch s.Status {
	case SeatStatusAvailable:
		return true
	case SeatStatusLocked:
		return s.LockedUntil != nil && s.LockedUntil.Before(now)
	}
	return false
}

// Book marks the seat BOOKED for the given booking
func (s *SeatAvailability) Book(bookingID string, now time.Time) error {
	if !s.Acquirable(now) {
		return ErrSeatNotAvailable
	}
	s.Status = SeatStatusBooked
	s.BookingID = bookingID
	s.LockedUntil = nil
	s.UpdatedAt = now
	return nil
}

// Lock marks the seat LOCKED for the given booking until the deadline
func (s *SeatAvailability) Lock(bookingID string, until time.Time, now time.Time) error {
	if !s.Acquirable(now) {
		return ErrSeatNotAvailable
	}
	s.Status = SeatStatusLocked
	s.BookingID = bookingID
	s.LockedUntil = &until
	s.UpdatedAt = now
	return nil
}

// ConfirmLock upgrades a LOCKED seat to BOOKED, clearing the deadline.
// A seat already BOOKED by the same booking is left as-is.
func (s *SeatAvailability) ConfirmLock(bookingID string, now time.Time) {
	if s.Status == SeatStatusBooked && s.BookingID == bookingID {
		return
	}
	s.Status = SeatStatusBooked
	s.BookingID = bookingID
	s.LockedUntil = nil
	s.UpdatedAt = now
}

// Release returns the seat to AVAILABLE, clearing the booking reference
// and any lock deadline
func (s *SeatAvailability) Release(now time.Time) {
	s.Status = SeatStatusAvailable
	s.BookingID = ""
	s.LockedUntil = nil
	s.UpdatedAt = now
}
