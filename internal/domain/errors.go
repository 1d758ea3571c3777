package domain

import (
	"errors"
	"fmt"
)

// Sentinel domain errors. Handlers map these to wire error codes.
var (
	ErrBookingNotFound     = errors.New("booking not found")
	ErrTicketNotFound      = errors.New("ticket not found")
	ErrSeatNotAvailable    = errors.New("seat is not available")
	ErrVersionConflict     = errors.New("booking was modified concurrently")
	ErrInvalidBookingState = errors.New("invalid booking state")
	ErrForbidden           = errors.New("caller does not own this booking")
	ErrUnauthorized        = errors.New("missing or invalid credentials")
	ErrInvalidInput        = errors.New("invalid input")
	ErrValidation          = errors.New("validation failed")
)

// InvalidStateError reports an illegal transition with the booking's
// current status and an optional reason (e.g. an expired reservation).
type InvalidStateError struct {
	Current BookingStatus
	Reason  string
}

func (e *InvalidStateError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid booking state %s: %s", e.Current, e.Reason)
	}
	return fmt.Sprintf("invalid booking state %s", e.Current)
}

func (e *InvalidStateError) Unwrap() error {
	return ErrInvalidBookingState
}

// NewInvalidStateError creates an InvalidStateError for the given status
func NewInvalidStateError(current BookingStatus, reason string) error {
	return &InvalidStateError{Current: current, Reason: reason}
}

// ValidationError carries per-field details for schema violations
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %d field(s) invalid", len(e.Fields))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NewValidationError creates a ValidationError from field messages
func NewValidationError(fields map[string]string) error {
	return &ValidationError{Fields: fields}
}

// BadRequestError wraps ErrInvalidInput with a caller-facing message
type BadRequestError struct {
	Message string
}

func (e *BadRequestError) Error() string {
	return e.Message
}

func (e *BadRequestError) Unwrap() error {
	return ErrInvalidInput
}

// NewBadRequestError creates a BadRequestError with the given message
func NewBadRequestError(message string) error {
	return &BadRequestError{Message: message}
}

// IsNotFoundError returns true for absent booking/ticket errors
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrBookingNotFound) || errors.Is(err, ErrTicketNotFound)
}

// IsInsufficientSeatsError returns true when the requested seat cannot be acquired
func IsInsufficientSeatsError(err error) bool {
	return errors.Is(err, ErrSeatNotAvailable)
}

// IsConflictError returns true for concurrent-modification conflicts
func IsConflictError(err error) bool {
	return errors.Is(err, ErrVersionConflict) || errors.Is(err, ErrSeatNotAvailable)
}

// IsInvalidStateError returns true for illegal state transitions
func IsInvalidStateError(err error) bool {
	return errors.Is(err, ErrInvalidBookingState)
}

// IsForbiddenError returns true for ownership violations
func IsForbiddenError(err error) bool {
	return errors.Is(err, ErrForbidden)
}

// IsBadRequestError returns true for malformed input
func IsBadRequestError(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsValidationError returns true for schema violations with field details
func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidation)
}
