package entity

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"
)

type BookingStatus string

const (
	BookingStatusActive    BookingStatus = "active"
	BookingStatusCancelled BookingStatus = "cancelled"
	BookingStatusCompleted BookingStatus = "completed"
)

func (s BookingStatus) Valid() bool {
	switch s {
	case BookingStatusActive, BookingStatusCancelled, BookingStatusCompleted:
		return true
	}
	return false
}

// CanTransitionTo reports whether s -> next is allowed. Only active bookings
// move, cancelled and completed are terminal.
func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	return s == BookingStatusActive && (next == BookingStatusCancelled || next == BookingStatusCompleted)
}

func (s BookingStatus) Terminal() bool {
	return s == BookingStatusCancelled || s == BookingStatusCompleted
}

type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending: {PaymentStatusPaid, PaymentStatusFailed},
	PaymentStatusFailed:  {PaymentStatusPending},
	PaymentStatusPaid:    {PaymentStatusRefunded},
}

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	}
	return false
}

func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	for _, allowed := range paymentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// BookingPaymentStatusAfter resolves the booking payment status once one of
// its payments reached outcome. A booking may carry several intents, so its
// status can already have moved through another payment. A captured charge
// always lands the booking on paid (failed goes through the retry edge in
// one step). A failure only touches a booking still waiting for money, and a
// refund only a paid one.
func BookingPaymentStatusAfter(current, outcome PaymentStatus) (PaymentStatus, bool) {
	if current == outcome {
		return current, false
	}
	switch outcome {
	case PaymentStatusPaid:
		return PaymentStatusPaid, true
	case PaymentStatusFailed:
		if current == PaymentStatusPending {
			return PaymentStatusFailed, true
		}
	case PaymentStatusRefunded:
		if current == PaymentStatusPaid {
			return PaymentStatusRefunded, true
		}
	}
	return current, false
}

// BookingNotes replaces the free-text bag clients used to attach to a booking.
type BookingNotes struct {
	Purpose   string    `json:"purpose,omitempty"`
	Attendees int       `json:"attendees,omitempty"`
	Equipment []Amenity `json:"equipment,omitempty"`
	Comment   string    `json:"comment,omitempty"`
}

func (n *BookingNotes) Validate(capacity int) error {
	if n == nil {
		return nil
	}
	verr := NewValidationError()
	if n.Attendees < 0 {
		verr.Add("notes.attendees", "attendees must not be negative")
	}
	if capacity > 0 && n.Attendees > capacity {
		verr.Add("notes.attendees", fmt.Sprintf("room fits at most %d people", capacity))
	}
	for _, a := range n.Equipment {
		if !a.Valid() {
			verr.Add("notes.equipment", fmt.Sprintf("unknown equipment %q", a))
		}
	}
	if len(n.Comment) > 1000 {
		verr.Add("notes.comment", "comment is too long")
	}
	return verr.OrNil()
}

func (n BookingNotes) Value() (driver.Value, error) {
	return json.Marshal(n)
}

func (n *BookingNotes) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan type %T into BookingNotes", value)
	}
	return json.Unmarshal(b, n)
}

type Booking struct {
	ID            int64         `json:"id" db:"id"`
	RoomID        int64         `json:"room_id" db:"room_id"`
	RequesterID   int64         `json:"requester_id" db:"requester_id"`
	Start         time.Time     `json:"start" db:"start_time"`
	End           time.Time     `json:"end" db:"end_time"`
	DurationHours int           `json:"duration_hours" db:"duration_hours"`
	Status        BookingStatus `json:"status" db:"status"`
	TotalPrice    float64       `json:"total_price" db:"total_price"`
	PaymentStatus PaymentStatus `json:"payment_status" db:"payment_status"`
	Notes         *BookingNotes `json:"notes,omitempty" db:"notes"`
	CreatedAt     time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at" db:"updated_at"`
}

// Covers reports whether t falls inside the booking's half-open interval.
func (b *Booking) Covers(t time.Time) bool {
	return !t.Before(b.Start) && t.Before(b.End)
}

// BookingDetails is a booking merged with the room data it was priced from.
type BookingDetails struct {
	Booking      *Booking `json:"booking"`
	RoomName     string   `json:"room_name"`
	PricePerHour float64  `json:"price_per_hour"`
}

type BookingFilter struct {
	RequesterID   *int64
	RoomID        *int64
	Status        *BookingStatus
	PaymentStatus *PaymentStatus
}

const (
	MinDurationHours = 1
	MaxDurationHours = 24
)

// DurationHoursFor rounds an interval up to whole hours.
func DurationHoursFor(start, end time.Time) int {
	return int(math.Ceil(end.Sub(start).Hours()))
}

// TotalPrice is the flat duration x rate price, rounded to minor units.
func TotalPrice(durationHours int, pricePerHour float64) float64 {
	return math.Round(float64(durationHours)*pricePerHour*100) / 100
}

// Overlaps is the conflict predicate for half-open intervals [s1,e1) and [s2,e2).
func Overlaps(s1, e1, s2, e2 time.Time) bool {
	return !(!e1.After(s2) || !s1.Before(e2))
}

// FindConflicts returns the active bookings overlapping [start, end) ordered by start.
func FindConflicts(bookings []*Booking, start, end time.Time) []*Booking {
	var conflicts []*Booking
	for _, b := range bookings {
		if b.Status != BookingStatusActive {
			continue
		}
		if Overlaps(start, end, b.Start, b.End) {
			conflicts = append(conflicts, b)
		}
	}
	sort.SliceStable(conflicts, func(i, j int) bool {
		return conflicts[i].Start.Before(conflicts[j].Start)
	})
	return conflicts
}

// NextAvailable is the earliest end among conflicts that is still ahead of now.
func NextAvailable(conflicts []*Booking, now time.Time) *time.Time {
	var next *time.Time
	for _, b := range conflicts {
		if !b.End.After(now) {
			continue
		}
		if next == nil || b.End.Before(*next) {
			end := b.End
			next = &end
		}
	}
	return next
}
