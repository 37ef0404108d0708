package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ds124wfegd/roombooker/internal/entity"
)

func TestCreateBooking(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	req := bookingRequest(f.room.ID, day(10), day(11))
	req.DurationHours = 1
	details, err := f.bookings.Create(ctx, customer, req)
	require.NoError(t, err)

	b := details.Booking
	assert.Equal(t, 300.0, b.TotalPrice)
	assert.Equal(t, entity.BookingStatusActive, b.Status)
	assert.Equal(t, entity.PaymentStatusPending, b.PaymentStatus)
	assert.Equal(t, customer.ID, b.RequesterID)
	assert.Equal(t, "Karaoke A", details.RoomName)
	assert.Equal(t, 300.0, details.PricePerHour)

	assert.Equal(t, []string{EventBookingCreated}, f.events.Keys())

	tasks := f.tasks.all()
	require.Len(t, tasks, 2)
	for _, task := range tasks {
		assert.Equal(t, TaskTypeSyncRoom, task.Type)
		assert.Equal(t, f.room.ID, task.Data["room_id"])
	}
	assert.True(t, tasks[0].ExecuteAt.Equal(day(10)))
	assert.True(t, tasks[1].ExecuteAt.Equal(day(11)))
}

func TestCreateBookingDerivesDuration(t *testing.T) {
	f := newFixture(t)

	// 90 minutes round up to two billable hours
	b := f.book(t, customer, day(10), day(11).Add(30*time.Minute))
	assert.Equal(t, 2, b.DurationHours)
	assert.Equal(t, 600.0, b.TotalPrice)
}

func TestCreateBookingValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	tests := []struct {
		name  string
		req   *CreateBookingRequest
		field string
	}{
		{
			name:  "end before start",
			req:   bookingRequest(f.room.ID, day(12), day(11)),
			field: "end",
		},
		{
			name:  "missing start",
			req:   bookingRequest(f.room.ID, time.Time{}, day(11)),
			field: "start",
		},
		{
			name:  "in the past",
			req:   bookingRequest(f.room.ID, day(5), day(6)),
			field: "end",
		},
		{
			name: "duration mismatch",
			req: func() *CreateBookingRequest {
				r := bookingRequest(f.room.ID, day(10), day(12))
				r.DurationHours = 3
				return r
			}(),
			field: "duration_hours",
		},
		{
			name:  "longer than a day",
			req:   bookingRequest(f.room.ID, day(10), day(10).Add(25*time.Hour)),
			field: "duration_hours",
		},
		{
			name: "too many attendees",
			req: func() *CreateBookingRequest {
				r := bookingRequest(f.room.ID, day(10), day(11))
				r.Notes = &entity.BookingNotes{Attendees: 20}
				return r
			}(),
			field: "notes.attendees",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.bookings.Create(ctx, customer, tt.req)
			require.Error(t, err)
			assert.ErrorIs(t, err, entity.ErrValidation)

			var verr *entity.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Contains(t, verr.Fields(), tt.field)
		})
	}

	_, err := f.bookings.Create(ctx, customer, bookingRequest(999, day(10), day(11)))
	assert.ErrorIs(t, err, entity.ErrNotFound)

	_, err = f.bookings.Create(ctx, nil, bookingRequest(f.room.ID, day(10), day(11)))
	assert.ErrorIs(t, err, entity.ErrUnauthorized)
}

func TestCreateBookingOnBehalf(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	req := bookingRequest(f.room.ID, day(10), day(11))
	req.RequesterID = customer.ID

	_, err := f.bookings.Create(ctx, stranger, req)
	assert.ErrorIs(t, err, entity.ErrForbidden)

	details, err := f.bookings.Create(ctx, admin, req)
	require.NoError(t, err)
	assert.Equal(t, customer.ID, details.Booking.RequesterID)
}

func TestCreateBookingConflict(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	existing := f.book(t, customer, day(14), day(16))

	_, err := f.bookings.Create(ctx, stranger, bookingRequest(f.room.ID, day(15), day(17)))
	require.Error(t, err)
	assert.ErrorIs(t, err, entity.ErrConflict)

	conflict, ok := entity.AsConflict(err)
	require.True(t, ok)
	require.Len(t, conflict.Conflicts, 1)
	assert.Equal(t, existing.ID, conflict.Conflicts[0].ID)
	require.NotNil(t, conflict.NextAvailable)
	assert.True(t, conflict.NextAvailable.Equal(day(16)))

	// Half-open intervals: touching bookings do not conflict
	f.book(t, stranger, day(16), day(17))
	f.book(t, stranger, day(13), day(14))
}

func TestCreateBookingConcurrent(t *testing.T) {
	f := newFixture(t)

	const workers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		created   int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			actor := &entity.Actor{ID: id, Role: entity.RoleCustomer}
			_, err := f.bookings.Create(context.Background(), actor, bookingRequest(f.room.ID, day(14), day(16)))

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, entity.ErrConflict):
				conflicts++
			}
		}(int64(100 + i))
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, workers-1, conflicts)

	active := entity.BookingStatusActive
	bookings, err := f.bookings.List(context.Background(), entity.BookingFilter{Status: &active})
	require.NoError(t, err)
	assert.Len(t, bookings, 1)
}

func TestTotalPriceIsDurationTimesRate(t *testing.T) {
	f := newFixture(t)

	for hours := entity.MinDurationHours; hours <= entity.MaxDurationHours; hours++ {
		start := day(10).AddDate(0, 0, hours)
		b := f.book(t, customer, start, start.Add(time.Duration(hours)*time.Hour))
		assert.Equal(t, hours, b.DurationHours)
		assert.InDelta(t, float64(hours)*300, b.TotalPrice, 0.001, "hours=%d", hours)
	}
}

func TestCancelBooking(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := f.book(t, customer, day(14), day(16))

	_, err := f.bookings.Cancel(ctx, stranger, b.ID)
	assert.ErrorIs(t, err, entity.ErrNotOwner)

	cancelled, err := f.bookings.Cancel(ctx, customer, b.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.BookingStatusCancelled, cancelled.Status)

	_, err = f.bookings.Cancel(ctx, customer, b.ID)
	assert.ErrorIs(t, err, entity.ErrBookingAlreadyCancelled)
	assert.ErrorIs(t, err, entity.ErrConflict)

	// The interval is free again
	f.book(t, stranger, day(14), day(16))

	assert.Contains(t, f.events.Keys(), EventBookingCancelled)
}

func TestCancelOccupyingBookingFreesRoom(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := f.book(t, customer, day(9), day(11))

	f.advance(day(10))
	_, err := f.sync.SyncRooms(ctx, day(10))
	require.NoError(t, err)
	room, err := f.rooms.GetRoom(ctx, f.room.ID)
	require.NoError(t, err)
	require.Equal(t, entity.RoomStatusOccupied, room.Status)

	_, err = f.bookings.Cancel(ctx, customer, b.ID)
	require.NoError(t, err)

	room, err = f.rooms.GetRoom(ctx, f.room.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.RoomStatusAvailable, room.Status)
}

func TestCancelCompletesFinishedBookings(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	finished := f.book(t, customer, day(9), day(10))
	current := f.book(t, stranger, day(10), day(12))

	// No sync ran yet, the first booking is still active
	f.advance(day(11))
	assert.NotContains(t, f.events.Keys(), EventBookingCompleted)

	_, err := f.bookings.Cancel(ctx, stranger, current.ID)
	require.NoError(t, err)

	details, err := f.bookings.Get(ctx, customer, finished.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.BookingStatusCompleted, details.Booking.Status)
	assert.Contains(t, f.events.Keys(), EventBookingCompleted)

	room, err := f.rooms.GetRoom(ctx, f.room.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.RoomStatusAvailable, room.Status)
}

func TestGetBooking(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := f.book(t, customer, day(14), day(16))

	details, err := f.bookings.Get(ctx, customer, b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, details.Booking.ID)
	assert.Equal(t, f.room.Name, details.RoomName)

	_, err = f.bookings.Get(ctx, stranger, b.ID)
	assert.ErrorIs(t, err, entity.ErrForbidden)

	_, err = f.bookings.Get(ctx, admin, b.ID)
	assert.NoError(t, err)

	_, err = f.bookings.Get(ctx, admin, 999)
	assert.ErrorIs(t, err, entity.ErrNotFound)
}

func TestUpdateStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := f.book(t, customer, day(14), day(16))

	_, err := f.bookings.UpdateStatus(ctx, customer, b.ID, "completed")
	assert.ErrorIs(t, err, entity.ErrAdminOnly)

	_, err = f.bookings.UpdateStatus(ctx, admin, b.ID, "archived")
	assert.ErrorIs(t, err, entity.ErrInvalidBookingStatus)

	_, err = f.bookings.UpdateStatus(ctx, admin, b.ID, "active")
	assert.ErrorIs(t, err, entity.ErrInvalidBookingTransition)

	updated, err := f.bookings.UpdateStatus(ctx, admin, b.ID, "completed")
	require.NoError(t, err)
	assert.Equal(t, entity.BookingStatusCompleted, updated.Status)

	_, err = f.bookings.UpdateStatus(ctx, admin, b.ID, "cancelled")
	assert.ErrorIs(t, err, entity.ErrBookingAlreadyCompleted)
}

func TestUpdatePaymentStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := f.book(t, customer, day(14), day(16))

	_, err := f.bookings.UpdatePaymentStatus(ctx, customer, b.ID, "paid")
	assert.ErrorIs(t, err, entity.ErrAdminOnly)

	_, err = f.bookings.UpdatePaymentStatus(ctx, admin, b.ID, "settled")
	assert.ErrorIs(t, err, entity.ErrInvalidPaymentStatus)

	_, err = f.bookings.UpdatePaymentStatus(ctx, admin, b.ID, "refunded")
	assert.ErrorIs(t, err, entity.ErrConflict)

	updated, err := f.bookings.UpdatePaymentStatus(ctx, admin, b.ID, "paid")
	require.NoError(t, err)
	assert.Equal(t, entity.PaymentStatusPaid, updated.PaymentStatus)
}

func TestPaidCancelledReport(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	paid := f.book(t, customer, day(14), day(16))
	f.book(t, customer, day(17), day(18))

	_, err := f.bookings.UpdatePaymentStatus(ctx, admin, paid.ID, "paid")
	require.NoError(t, err)
	_, err = f.bookings.Cancel(ctx, customer, paid.ID)
	require.NoError(t, err)

	_, err = f.bookings.ListPaidCancelled(ctx, customer)
	assert.ErrorIs(t, err, entity.ErrAdminOnly)

	report, err := f.bookings.ListPaidCancelled(ctx, admin)
	require.NoError(t, err)
	require.Len(t, report, 1)
	assert.Equal(t, paid.ID, report[0].ID)
	assert.Equal(t, entity.PaymentStatusPaid, report[0].PaymentStatus)
}

func TestAdminCorrectPriceAndPurge(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := f.book(t, customer, day(14), day(16))

	_, err := f.bookings.AdminCorrectPrice(ctx, customer, b.ID, 100)
	assert.ErrorIs(t, err, entity.ErrAdminOnly)

	_, err = f.bookings.AdminCorrectPrice(ctx, admin, b.ID, -1)
	assert.ErrorIs(t, err, entity.ErrValidation)

	corrected, err := f.bookings.AdminCorrectPrice(ctx, admin, b.ID, 450)
	require.NoError(t, err)
	assert.Equal(t, 450.0, corrected.TotalPrice)

	err = f.bookings.AdminPurgeBooking(ctx, admin, b.ID)
	assert.ErrorIs(t, err, entity.ErrBookingNotTerminal)

	_, err = f.bookings.Cancel(ctx, customer, b.ID)
	require.NoError(t, err)
	require.NoError(t, f.bookings.AdminPurgeBooking(ctx, admin, b.ID))

	_, err = f.bookings.Get(ctx, admin, b.ID)
	assert.ErrorIs(t, err, entity.ErrNotFound)
}

func TestGetStats(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	paid := f.book(t, customer, day(10), day(12))
	f.book(t, customer, day(13), day(14))
	cancelled := f.book(t, customer, day(15), day(16))
	f.book(t, stranger, day(17), day(18))

	_, err := f.bookings.UpdatePaymentStatus(ctx, admin, paid.ID, "paid")
	require.NoError(t, err)
	_, err = f.bookings.Cancel(ctx, customer, cancelled.ID)
	require.NoError(t, err)

	stats, err := f.bookings.GetStats(ctx, customer.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalBookings)
	assert.Equal(t, 600.0, stats.TotalSpend)
	assert.Equal(t, int64(3), stats.CurrentPeriodCount)
	assert.Equal(t, int64(2), stats.CurrentlyActive)
}
