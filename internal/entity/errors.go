package entity

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Error kinds. Every error returned by the services wraps exactly one of them,
// transport maps them to status codes with errors.Is.
var (
	ErrValidation  = errors.New("validation error")
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrForbidden   = errors.New("forbidden")
	ErrGateway     = errors.New("payment gateway error")
	ErrPersistence = errors.New("persistence error")
)

var (
	// Room errors
	ErrRoomNotFound      = fmt.Errorf("%w: room not found", ErrNotFound)
	ErrRoomInMaintenance = fmt.Errorf("%w: room is under maintenance", ErrConflict)

	// Booking errors
	ErrBookingNotFound          = fmt.Errorf("%w: booking not found", ErrNotFound)
	ErrBookingAlreadyCancelled  = fmt.Errorf("%w: booking already cancelled", ErrConflict)
	ErrBookingAlreadyCompleted  = fmt.Errorf("%w: booking already completed", ErrConflict)
	ErrBookingNotTerminal       = fmt.Errorf("%w: only cancelled or completed bookings can be purged", ErrConflict)
	ErrInvalidBookingStatus     = fmt.Errorf("%w: invalid booking status", ErrValidation)
	ErrInvalidBookingTransition = fmt.Errorf("%w: booking status transition not allowed", ErrConflict)

	// Payment errors
	ErrPaymentNotFound          = fmt.Errorf("%w: payment not found", ErrNotFound)
	ErrAlreadyPaid              = fmt.Errorf("%w: booking already paid", ErrConflict)
	ErrBookingCancelled         = fmt.Errorf("%w: booking is cancelled", ErrConflict)
	ErrNotPaid                  = fmt.Errorf("%w: booking is not paid", ErrConflict)
	ErrInvalidPaymentStatus     = fmt.Errorf("%w: invalid payment status", ErrValidation)
	ErrInvalidPaymentTransition = fmt.Errorf("%w: payment status transition not allowed", ErrConflict)
	ErrProofRequired            = fmt.Errorf("%w: proof of payment is required for this method", ErrValidation)

	// Access errors
	ErrNotOwner     = fmt.Errorf("%w: booking belongs to another customer", ErrForbidden)
	ErrAdminOnly    = fmt.Errorf("%w: administrator role required", ErrForbidden)
	ErrUnauthorized = errors.New("unauthorized access")
)

// ConflictError is returned when a requested interval overlaps active bookings.
// It always carries the conflicting bookings and, when one exists, the
// earliest moment the room frees up.
type ConflictError struct {
	Message       string     `json:"message"`
	NextAvailable *time.Time `json:"next_available,omitempty"`
	Conflicts     []*Booking `json:"conflicts"`
}

func (e *ConflictError) Error() string {
	return e.Message
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

// NewConflictError builds the client facing conflict for the given overlaps.
// Conflicts are expected in start order, the first one is quoted in the message.
func NewConflictError(conflicts []*Booking, now time.Time) *ConflictError {
	e := &ConflictError{Conflicts: conflicts}
	if len(conflicts) == 0 {
		e.Message = "room is not available for the requested time"
		return e
	}

	first := conflicts[0]
	e.Message = fmt.Sprintf("room is already booked from %s to %s",
		first.Start.Format("2006-01-02 15:04"), first.End.Format("2006-01-02 15:04"))
	e.NextAvailable = NextAvailable(conflicts, now)
	return e
}

// AsConflict returns the conflict details carried by err, if any.
func AsConflict(err error) (*ConflictError, bool) {
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		return conflict, true
	}
	return nil, false
}

// ValidationError collects per-field input problems.
type ValidationError struct {
	fields map[string][]string
}

func NewValidationError() *ValidationError {
	return &ValidationError{fields: make(map[string][]string)}
}

// Validationf is a shortcut for a single-field validation error.
func Validationf(field, format string, args ...interface{}) error {
	e := NewValidationError()
	e.Add(field, fmt.Sprintf(format, args...))
	return e
}

func (e *ValidationError) Add(field, msg string) {
	e.fields[field] = append(e.fields[field], msg)
}

func (e *ValidationError) Fields() map[string][]string {
	return e.fields
}

func (e *ValidationError) Empty() bool {
	return len(e.fields) == 0
}

// OrNil lets callers return the collector only when something was added.
func (e *ValidationError) OrNil() error {
	if e.Empty() {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.fields))
	for k := range e.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+strings.Join(e.fields[k], ", "))
	}
	return "validation error: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}
