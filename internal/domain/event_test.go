package domain

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNewTicketBookedEvent(t *testing.T) {
	now := time.Now()
	b := NewBooking(testParams(), now)

	evt, err := NewTicketBookedEvent(b, "corr-1")
	if err != nil {
		t.Fatalf("NewTicketBookedEvent failed: %v", err)
	}

	if evt.EventID == "" {
		t.Error("expected generated event id")
	}
	if evt.EventType != EventTypeTicketBooked {
		t.Errorf("EventType = %s, want TICKET_BOOKED", evt.EventType)
	}
	if evt.AggregateID != b.ID {
		t.Errorf("AggregateID = %s, want %s", evt.AggregateID, b.ID)
	}
	if evt.AggregateType != AggregateTypeBooking {
		t.Errorf("AggregateType = %s, want Booking", evt.AggregateType)
	}
	if evt.Version != 1 {
		t.Errorf("Version = %d, want 1", evt.Version)
	}
	if evt.CorrelationID != "corr-1" {
		t.Errorf("CorrelationID = %s, want corr-1", evt.CorrelationID)
	}

	var payload TicketBookedPayload
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		t.Fatalf("payload unmarshal failed: %v", err)
	}
	if payload.BookingID != b.ID || payload.UserID != b.UserID {
		t.Error("payload identity fields do not match booking")
	}
	if payload.Price != 25.00 || payload.Currency != "USD" {
		t.Errorf("payload price = %v %s, want 25.00 USD", payload.Price, payload.Currency)
	}
}

func TestNewTicketReservedEvent(t *testing.T) {
	now := time.Now()
	b := NewReservation(testParams(), 15*time.Minute, now)

	evt, err := NewTicketReservedEvent(b, "")
	if err != nil {
		t.Fatalf("NewTicketReservedEvent failed: %v", err)
	}

	var payload TicketReservedPayload
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		t.Fatalf("payload unmarshal failed: %v", err)
	}
	if payload.ExpiresAt.IsZero() {
		t.Error("reserved payload must carry expiresAt")
	}
}

func TestNewTicketReservedEvent_RequiresExpiry(t *testing.T) {
	b := NewBooking(testParams(), time.Now())

	if _, err := NewTicketReservedEvent(b, ""); err == nil {
		t.Error("expected error for reservation without expiresAt")
	}
}

func TestNewTicketCancelledEvent(t *testing.T) {
	now := time.Now()
	b := NewBooking(testParams(), now)
	if err := b.Confirm("pay-1", now); err != nil {
		t.Fatal(err)
	}
	refund, err := b.Cancel(now)
	if err != nil {
		t.Fatal(err)
	}

	evt, err := NewTicketCancelledEvent(b, "user requested", refund, "corr-2")
	if err != nil {
		t.Fatalf("NewTicketCancelledEvent failed: %v", err)
	}
	if evt.Version != 3 {
		t.Errorf("Version = %d, want 3", evt.Version)
	}

	var payload TicketCancelledPayload
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		t.Fatalf("payload unmarshal failed: %v", err)
	}
	if payload.RefundAmount == nil || *payload.RefundAmount != 25.00 {
		t.Errorf("RefundAmount = %v, want 25.00", payload.RefundAmount)
	}
	if payload.Reason != "user requested" {
		t.Errorf("Reason = %q, want 'user requested'", payload.Reason)
	}
}

func TestNewTicketExpiredEvent(t *testing.T) {
	now := time.Now()
	b := NewReservation(testParams(), 5*time.Minute, now.Add(-10*time.Minute))
	if err := b.Expire(now); err != nil {
		t.Fatal(err)
	}

	evt, err := NewTicketExpiredEvent(b, "")
	if err != nil {
		t.Fatalf("NewTicketExpiredEvent failed: %v", err)
	}
	if evt.EventType != EventTypeTicketExpired {
		t.Errorf("EventType = %s, want TICKET_EXPIRED", evt.EventType)
	}
	if evt.Version != 2 {
		t.Errorf("Version = %d, want 2", evt.Version)
	}
}
