package memory

import (
	"sort"
	"sync"
	"time"

	repository "github.com/ds124wfegd/roombooker/internal/database/postgres"
	"github.com/ds124wfegd/roombooker/internal/entity"
)

// Store keeps rooms, bookings and payments in process memory. One mutex guards
// everything, so every repository method is atomic the way a transaction is.
type Store struct {
	mu sync.RWMutex

	rooms    map[int64]*entity.Room
	bookings map[int64]*entity.Booking
	payments map[int64]*entity.Payment
	events   map[string]time.Time

	nextRoomID    int64
	nextBookingID int64
	nextPaymentID int64

	clock func() time.Time
}

func NewStore() *Store {
	return &Store{
		rooms:    make(map[int64]*entity.Room),
		bookings: make(map[int64]*entity.Booking),
		payments: make(map[int64]*entity.Payment),
		events:   make(map[string]time.Time),
		clock:    time.Now,
	}
}

// WithClock replaces the wall clock used for timestamps.
func (s *Store) WithClock(clock func() time.Time) *Store {
	s.clock = clock
	return s
}

func (s *Store) Rooms() repository.RoomRepository {
	return &roomRepository{s: s}
}

func (s *Store) Bookings() repository.BookingRepository {
	return &bookingRepository{s: s}
}

func (s *Store) Payments() repository.PaymentRepository {
	return &paymentRepository{s: s}
}

func cloneRoom(r *entity.Room) *entity.Room {
	c := *r
	c.Amenities = append([]entity.Amenity(nil), r.Amenities...)
	if r.Location != nil {
		loc := *r.Location
		c.Location = &loc
	}
	return &c
}

func cloneBooking(b *entity.Booking) *entity.Booking {
	c := *b
	if b.Notes != nil {
		notes := *b.Notes
		notes.Equipment = append([]entity.Amenity(nil), b.Notes.Equipment...)
		c.Notes = &notes
	}
	return &c
}

func clonePayment(p *entity.Payment) *entity.Payment {
	c := *p
	return &c
}

// overlapping must be called with the lock held.
func (s *Store) overlapping(roomID int64, start, end time.Time) []*entity.Booking {
	var candidates []*entity.Booking
	for _, b := range s.bookings {
		if b.RoomID == roomID {
			candidates = append(candidates, b)
		}
	}
	conflicts := entity.FindConflicts(candidates, start, end)
	out := make([]*entity.Booking, len(conflicts))
	for i, b := range conflicts {
		out[i] = cloneBooking(b)
	}
	return out
}

func (s *Store) coveredAt(roomID int64, now time.Time) bool {
	for _, b := range s.bookings {
		if b.RoomID == roomID && b.Status == entity.BookingStatusActive && b.Covers(now) {
			return true
		}
	}
	return false
}

func occupancyStatus(occupied bool) entity.RoomStatus {
	if occupied {
		return entity.RoomStatusOccupied
	}
	return entity.RoomStatusAvailable
}

func sortBookings(bookings []*entity.Booking, less func(a, b *entity.Booking) bool) {
	sort.SliceStable(bookings, func(i, j int) bool {
		return less(bookings[i], bookings[j])
	})
}
