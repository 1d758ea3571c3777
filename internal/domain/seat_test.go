package domain

import (
	"testing"
	"time"
)

func TestSeatAvailability_Acquirable(t *testing.T) {
	now := time.Now()
	future := now.Add(10 * time.Minute)
	past := now.Add(-10 * time.Minute)

	tests := []struct {
		name string
		seat *SeatAvailability
		want bool
	}{
		{
			name: "available seat",
			seat: NewAvailableSeat("schedule-1", "A1", now),
			want: true,
		},
		{
			name: "locked with future deadline",
			seat: &SeatAvailability{Status: SeatStatusLocked, BookingID: "b-1", LockedUntil: &future},
			want: false,
		},
		{
			name: "locked with stale deadline",
			seat: &SeatAvailability{Status: SeatStatusLocked, BookingID: "b-1", LockedUntil: &past},
			want: true,
		},
		{
			name: "booked seat",
			seat: &SeatAvailability{Status: SeatStatusBooked, BookingID: "b-1"},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.seat.Acquirable(now); got != tt.want {
				t.Errorf("Acquirable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSeatAvailability_Book(t *testing.T) {
	now := time.Now()
	seat := NewAvailableSeat("schedule-1", "A1", now)

	if err := seat.Book("booking-1", now); err != nil {
		t.Fatalf("Book failed: %v", err)
	}
	if seat.Status != SeatStatusBooked {
		t.Errorf("Status = %s, want BOOKED", seat.Status)
	}
	if seat.BookingID != "booking-1" {
		t.Errorf("BookingID = %s, want booking-1", seat.BookingID)
	}
	if seat.LockedUntil != nil {
		t.Error("BOOKED seat must not carry lockedUntil")
	}

	// A second booking cannot take the same seat
	if err := seat.Book("booking-2", now); err != ErrSeatNotAvailable {
		t.Errorf("expected ErrSeatNotAvailable, got %v", err)
	}
}

func TestSeatAvailability_Lock(t *testing.T) {
	now := time.Now()
	until := now.Add(15 * time.Minute)
	seat := NewAvailableSeat("schedule-1", "A2", now)

	if err := seat.Lock("booking-1", until, now); err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	if seat.Status != SeatStatusLocked {
		t.Errorf("Status = %s, want LOCKED", seat.Status)
	}
	if seat.LockedUntil == nil || !seat.LockedUntil.Equal(until) {
		t.Errorf("LockedUntil = %v, want %v", seat.LockedUntil, until)
	}

	// A stale lock may be reacquired by a new reservation
	later := until.Add(time.Minute)
	newUntil := later.Add(15 * time.Minute)
	if err := seat.Lock("booking-2", newUntil, later); err != nil {
		t.Fatalf("stale lock reacquisition failed: %v", err)
	}
	if seat.BookingID != "booking-2" {
		t.Errorf("BookingID = %s, want booking-2", seat.BookingID)
	}
}

func TestSeatAvailability_ConfirmLock(t *testing.T) {
	now := time.Now()
	until := now.Add(15 * time.Minute)
	seat := NewAvailableSeat("schedule-1", "A3", now)
	if err := seat.Lock("booking-1", until, now); err != nil {
		t.Fatal(err)
	}

	seat.ConfirmLock("booking-1", now)

	if seat.Status != SeatStatusBooked {
		t.Errorf("Status = %s, want BOOKED", seat.Status)
	}
	if seat.LockedUntil != nil {
		t.Error("lockedUntil must be cleared on confirm")
	}

	// Idempotent for the same booking
	seat.ConfirmLock("booking-1", now)
	if seat.Status != SeatStatusBooked || seat.BookingID != "booking-1" {
		t.Error("repeated confirm must not change the seat")
	}
}

func TestSeatAvailability_Release(t *testing.T) {
	now := time.Now()
	seat := NewAvailableSeat("schedule-1", "A4", now)
	if err := seat.Book("booking-1", now); err != nil {
		t.Fatal(err)
	}

	seat.Release(now)

	if seat.Status != SeatStatusAvailable {
		t.Errorf("Status = %s, want AVAILABLE", seat.Status)
	}
	if seat.BookingID != "" {
		t.Errorf("BookingID = %s, want empty", seat.BookingID)
	}
	if seat.LockedUntil != nil {
		t.Error("released seat must not carry lockedUntil")
	}
}
