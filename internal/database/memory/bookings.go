package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/ds124wfegd/roombooker/internal/entity"
)

type bookingRepository struct {
	s *Store
}

// TryReserve checks and inserts under the write lock, so two overlapping
// reservations can never both pass the check.
func (r *bookingRepository) TryReserve(_ context.Context, booking *entity.Booking, now time.Time) (*entity.Room, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	room, ok := r.s.rooms[booking.RoomID]
	if !ok {
		return nil, entity.ErrRoomNotFound
	}
	if room.Status == entity.RoomStatusMaintenance {
		return nil, entity.ErrRoomInMaintenance
	}

	if conflicts := r.s.overlapping(booking.RoomID, booking.Start, booking.End); len(conflicts) > 0 {
		return nil, entity.NewConflictError(conflicts, now)
	}

	r.s.nextBookingID++
	booking.ID = r.s.nextBookingID
	booking.Status = entity.BookingStatusActive
	booking.PaymentStatus = entity.PaymentStatusPending
	booking.TotalPrice = entity.TotalPrice(booking.DurationHours, room.PricePerHour)
	booking.CreatedAt = now
	booking.UpdatedAt = now

	r.s.bookings[booking.ID] = cloneBooking(booking)
	return cloneRoom(room), nil
}

func (r *bookingRepository) GetByID(_ context.Context, id int64) (*entity.Booking, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	b, ok := r.s.bookings[id]
	if !ok {
		return nil, entity.ErrBookingNotFound
	}
	return cloneBooking(b), nil
}

func (r *bookingRepository) List(_ context.Context, filter entity.BookingFilter) ([]*entity.Booking, error) {
	return r.collect(func(b *entity.Booking) bool {
		switch {
		case filter.RequesterID != nil && b.RequesterID != *filter.RequesterID:
			return false
		case filter.RoomID != nil && b.RoomID != *filter.RoomID:
			return false
		case filter.Status != nil && b.Status != *filter.Status:
			return false
		case filter.PaymentStatus != nil && b.PaymentStatus != *filter.PaymentStatus:
			return false
		}
		return true
	}, func(a, b *entity.Booking) bool {
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	}), nil
}

func (r *bookingRepository) Delete(_ context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	b, ok := r.s.bookings[id]
	if !ok {
		return entity.ErrBookingNotFound
	}
	if !b.Status.Terminal() {
		return entity.ErrBookingNotTerminal
	}

	for pid, p := range r.s.payments {
		if p.BookingID == id {
			delete(r.s.payments, pid)
		}
	}
	delete(r.s.bookings, id)
	return nil
}

func (r *bookingRepository) GetActiveOverlapping(_ context.Context, roomID int64, start, end time.Time) ([]*entity.Booking, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	return r.s.overlapping(roomID, start, end), nil
}

func (r *bookingRepository) GetActiveInRange(_ context.Context, roomIDs []int64, start, end time.Time) ([]*entity.Booking, error) {
	wanted := make(map[int64]bool, len(roomIDs))
	for _, id := range roomIDs {
		wanted[id] = true
	}

	return r.collect(func(b *entity.Booking) bool {
		if len(wanted) > 0 && !wanted[b.RoomID] {
			return false
		}
		return b.Status == entity.BookingStatusActive && entity.Overlaps(start, end, b.Start, b.End)
	}, func(a, b *entity.Booking) bool {
		if a.RoomID != b.RoomID {
			return a.RoomID < b.RoomID
		}
		return a.Start.Before(b.Start)
	}), nil
}

func (r *bookingRepository) ListPaidCancelled(_ context.Context) ([]*entity.Booking, error) {
	return r.collect(func(b *entity.Booking) bool {
		return b.Status == entity.BookingStatusCancelled && b.PaymentStatus == entity.PaymentStatusPaid
	}, func(a, b *entity.Booking) bool {
		return a.UpdatedAt.After(b.UpdatedAt)
	}), nil
}

func (r *bookingRepository) RoomsWithFinishedBookings(_ context.Context, now time.Time) ([]int64, error) {
	finished := r.collect(func(b *entity.Booking) bool {
		return b.Status == entity.BookingStatusActive && !b.End.After(now)
	}, func(a, b *entity.Booking) bool {
		return a.RoomID < b.RoomID
	})

	var ids []int64
	for _, b := range finished {
		if len(ids) == 0 || ids[len(ids)-1] != b.RoomID {
			ids = append(ids, b.RoomID)
		}
	}
	return ids, nil
}

func (r *bookingRepository) TransitionStatus(_ context.Context, id int64, from, to entity.BookingStatus) (*entity.Booking, error) {
	if !from.CanTransitionTo(to) {
		return nil, entity.ErrInvalidBookingTransition
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	b, ok := r.s.bookings[id]
	if !ok {
		return nil, entity.ErrBookingNotFound
	}
	if b.Status != from {
		switch b.Status {
		case entity.BookingStatusCancelled:
			return nil, entity.ErrBookingAlreadyCancelled
		case entity.BookingStatusCompleted:
			return nil, entity.ErrBookingAlreadyCompleted
		}
		return nil, entity.ErrInvalidBookingTransition
	}

	b.Status = to
	b.UpdatedAt = r.s.clock()
	return cloneBooking(b), nil
}

func (r *bookingRepository) TransitionPaymentStatus(_ context.Context, id int64, to entity.PaymentStatus) (*entity.Booking, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	b, ok := r.s.bookings[id]
	if !ok {
		return nil, entity.ErrBookingNotFound
	}
	if !b.PaymentStatus.CanTransitionTo(to) {
		return nil, fmt.Errorf("%w: %s -> %s", entity.ErrInvalidPaymentTransition, b.PaymentStatus, to)
	}

	b.PaymentStatus = to
	b.UpdatedAt = r.s.clock()
	return cloneBooking(b), nil
}

func (r *bookingRepository) UpdateTotalPrice(_ context.Context, id int64, price float64) (*entity.Booking, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	b, ok := r.s.bookings[id]
	if !ok {
		return nil, entity.ErrBookingNotFound
	}
	b.TotalPrice = price
	b.UpdatedAt = r.s.clock()
	return cloneBooking(b), nil
}

func (r *bookingRepository) GetUserStats(_ context.Context, requesterID int64, periodStart time.Time) (*entity.UserBookingStats, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	stats := &entity.UserBookingStats{RequesterID: requesterID}
	for _, b := range r.s.bookings {
		if b.RequesterID != requesterID {
			continue
		}
		stats.TotalBookings++
		if b.PaymentStatus == entity.PaymentStatusPaid {
			stats.TotalSpend += b.TotalPrice
		}
		if !b.CreatedAt.Before(periodStart) {
			stats.CurrentPeriodCount++
		}
		if b.Status == entity.BookingStatusActive {
			stats.CurrentlyActive++
		}
	}
	return stats, nil
}

func (r *bookingRepository) collect(match func(*entity.Booking) bool, less func(a, b *entity.Booking) bool) []*entity.Booking {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*entity.Booking
	for _, b := range r.s.bookings {
		if match(b) {
			out = append(out, cloneBooking(b))
		}
	}
	sortBookings(out, less)
	return out
}
