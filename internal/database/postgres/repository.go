package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/ds124wfegd/roombooker/internal/entity"
)

type RoomRepository interface {
	// Basic CRUD operations
	Create(ctx context.Context, room *entity.Room) error
	GetByID(ctx context.Context, id int64) (*entity.Room, error)
	GetAll(ctx context.Context) ([]*entity.Room, error)
	Update(ctx context.Context, room *entity.Room) error

	// SetMaintenance forces a room into maintenance or releases it, in which
	// case the status is recomputed from active bookings at now.
	SetMaintenance(ctx context.Context, id int64, on bool, now time.Time) (*entity.Room, error)

	// ListAvailable returns rooms without active bookings overlapping
	// [start, end), cheapest first then by name.
	ListAvailable(ctx context.Context, start, end time.Time) ([]*entity.Room, error)

	// ReconcileOccupancy completes finished bookings of one room and
	// recomputes its status in a single transaction.
	ReconcileOccupancy(ctx context.Context, roomID int64, now time.Time) (*entity.RoomSyncResult, error)
}

type BookingRepository interface {
	// TryReserve locks the room, re-checks overlap and inserts the booking
	// atomically. TotalPrice is computed from the locked room row.
	TryReserve(ctx context.Context, booking *entity.Booking, now time.Time) (*entity.Room, error)

	GetByID(ctx context.Context, id int64) (*entity.Booking, error)
	List(ctx context.Context, filter entity.BookingFilter) ([]*entity.Booking, error)
	Delete(ctx context.Context, id int64) error

	// Query operations
	GetActiveOverlapping(ctx context.Context, roomID int64, start, end time.Time) ([]*entity.Booking, error)
	GetActiveInRange(ctx context.Context, roomIDs []int64, start, end time.Time) ([]*entity.Booking, error)
	ListPaidCancelled(ctx context.Context) ([]*entity.Booking, error)
	RoomsWithFinishedBookings(ctx context.Context, now time.Time) ([]int64, error)

	// State transitions, conditional on the current value
	TransitionStatus(ctx context.Context, id int64, from, to entity.BookingStatus) (*entity.Booking, error)
	TransitionPaymentStatus(ctx context.Context, id int64, to entity.PaymentStatus) (*entity.Booking, error)
	UpdateTotalPrice(ctx context.Context, id int64, price float64) (*entity.Booking, error)

	// Statistical operations
	GetUserStats(ctx context.Context, requesterID int64, periodStart time.Time) (*entity.UserBookingStats, error)
}

type PaymentRepository interface {
	// RecordManual persists a paid payment and flips the booking to paid.
	RecordManual(ctx context.Context, payment *entity.Payment) (*entity.Booking, error)

	// CreateIntent persists a pending gateway payment. A failed booking is
	// moved back to pending.
	CreateIntent(ctx context.Context, payment *entity.Payment) error

	// ApplyOutcome moves an intent's payment and booking to outcome.Status.
	// It reports false when nothing changed: a duplicate event or an outcome
	// already in place.
	ApplyOutcome(ctx context.Context, outcome entity.PaymentOutcome) (*entity.Payment, bool, error)

	GetByIntentID(ctx context.Context, intentID string) (*entity.Payment, error)
	ListByBooking(ctx context.Context, bookingID int64) ([]*entity.Payment, error)
	ListPendingIntents(ctx context.Context, olderThan time.Time) ([]*entity.Payment, error)
}

// PostgreSQL error codes the repositories translate.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgExclusionViolation  = "23P01"
)

func pqCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

// persistenceErr wraps a driver error so callers can tell it from domain errors.
func persistenceErr(op string, err error) error {
	return fmt.Errorf("%w: failed to %s: %w", entity.ErrPersistence, op, err)
}
