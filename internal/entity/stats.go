package entity

import "time"

type UserBookingStats struct {
	RequesterID        int64   `json:"requester_id"`
	TotalBookings      int64   `json:"total_bookings"`
	TotalSpend         float64 `json:"total_spend"`
	CurrentPeriodCount int64   `json:"current_period_bookings"`
	CurrentlyActive    int64   `json:"active_bookings"`
}

// RoomSyncResult describes one room's reconciliation.
type RoomSyncResult struct {
	RoomID            int64      `json:"room_id"`
	CompletedBookings []int64    `json:"completed_bookings"`
	PreviousStatus    RoomStatus `json:"previous_status"`
	Status            RoomStatus `json:"status"`
}

func (r *RoomSyncResult) Changed() bool {
	return len(r.CompletedBookings) > 0 || r.PreviousStatus != r.Status
}

type SyncReport struct {
	StartedAt         time.Time        `json:"started_at"`
	RoomsChecked      int              `json:"rooms_checked"`
	BookingsCompleted int              `json:"bookings_completed"`
	RoomsUpdated      int              `json:"rooms_updated"`
	Results           []RoomSyncResult `json:"results,omitempty"`
	Errors            []string         `json:"errors,omitempty"`
}
