package entity

import "time"

// Slot is a generated candidate interval. It is never stored.
type Slot struct {
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	DurationMinutes int       `json:"duration_minutes"`
	Available       bool      `json:"available"`
	Past            bool      `json:"past"`
	BookingID       *int64    `json:"booking_id,omitempty"`
}

type SlotSummary struct {
	Total          int `json:"total"`
	AvailableCount int `json:"available_count"`
	BookedCount    int `json:"booked_count"`
}

type RoomSlots struct {
	RoomID int64  `json:"room_id"`
	Date   string `json:"date"`
	Slots  []Slot `json:"slots"`
	SlotSummary
}

// RoomAvailability is one entry of the fleet view.
type RoomAvailability struct {
	Room      *Room       `json:"room"`
	Available bool        `json:"available"`
	Summary   SlotSummary `json:"summary"`
	Slots     []Slot      `json:"slots,omitempty"`
}

type AvailabilityResult struct {
	Available     bool       `json:"available"`
	Conflicts     []*Booking `json:"conflicts"`
	NextAvailable *time.Time `json:"next_available,omitempty"`
	Message       string     `json:"message"`
}
