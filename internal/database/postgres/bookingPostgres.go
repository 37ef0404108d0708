package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/ds124wfegd/roombooker/internal/entity"
)

const bookingColumns = `id, room_id, requester_id, start_time, end_time, duration_hours, status, total_price, payment_status, notes, created_at, updated_at`

type bookingRepository struct {
	db *sql.DB
}

func NewBookingRepository(db *sql.DB) BookingRepository {
	return &bookingRepository{db: db}
}

func scanBooking(row rowScanner) (*entity.Booking, error) {
	var (
		booking entity.Booking
		notes   []byte
	)
	err := row.Scan(
		&booking.ID,
		&booking.RoomID,
		&booking.RequesterID,
		&booking.Start,
		&booking.End,
		&booking.DurationHours,
		&booking.Status,
		&booking.TotalPrice,
		&booking.PaymentStatus,
		&notes,
		&booking.CreatedAt,
		&booking.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(notes) > 0 {
		var n entity.BookingNotes
		if err := json.Unmarshal(notes, &n); err != nil {
			return nil, fmt.Errorf("failed to decode booking notes: %w", err)
		}
		booking.Notes = &n
	}
	return &booking, nil
}

func notesValue(n *entity.BookingNotes) (interface{}, error) {
	if n == nil {
		return nil, nil
	}
	b, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("failed to encode booking notes: %w", err)
	}
	return b, nil
}

// TryReserve is the only way bookings are created. The room row lock
// serializes concurrent reservations of the same room, the exclusion
// constraint bookings_no_overlap is the backstop.
func (r *bookingRepository) TryReserve(ctx context.Context, booking *entity.Booking, now time.Time) (*entity.Room, error) {
	notes, err := notesValue(booking.Notes)
	if err != nil {
		return nil, err
	}

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelReadCommitted,
	})
	if err != nil {
		return nil, persistenceErr("begin transaction", err)
	}
	defer tx.Rollback()

	// Lock the room row
	query := `SELECT ` + roomColumns + ` FROM rooms WHERE id = $1 FOR UPDATE`
	room, err := scanRoom(tx.QueryRowContext(ctx, query, booking.RoomID))
	if err == sql.ErrNoRows {
		return nil, entity.ErrRoomNotFound
	}
	if err != nil {
		return nil, persistenceErr("lock room", err)
	}
	if room.Status == entity.RoomStatusMaintenance {
		return nil, entity.ErrRoomInMaintenance
	}

	// Re-check overlap under the lock
	conflicts, err := queryBookings(ctx, tx, overlapQuery, booking.RoomID, booking.Start, booking.End)
	if err != nil {
		return nil, persistenceErr("check overlapping bookings", err)
	}
	if len(conflicts) > 0 {
		return nil, entity.NewConflictError(conflicts, now)
	}

	booking.Status = entity.BookingStatusActive
	booking.PaymentStatus = entity.PaymentStatusPending
	booking.TotalPrice = entity.TotalPrice(booking.DurationHours, room.PricePerHour)

	query = `
		INSERT INTO bookings (
			room_id, requester_id, start_time, end_time, duration_hours,
			status, total_price, payment_status, notes, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		RETURNING id
	`
	err = tx.QueryRowContext(ctx, query,
		booking.RoomID,
		booking.RequesterID,
		booking.Start,
		booking.End,
		booking.DurationHours,
		booking.Status,
		booking.TotalPrice,
		booking.PaymentStatus,
		notes,
		now,
	).Scan(&booking.ID)
	if err != nil {
		if pqCode(err) == pgExclusionViolation {
			return nil, r.conflictAfterRace(ctx, booking, now)
		}
		return nil, persistenceErr("create booking", err)
	}

	if err := tx.Commit(); err != nil {
		if pqCode(err) == pgExclusionViolation {
			return nil, r.conflictAfterRace(ctx, booking, now)
		}
		return nil, persistenceErr("commit transaction", err)
	}

	booking.CreatedAt = now
	booking.UpdatedAt = now
	return room, nil
}

// conflictAfterRace rebuilds the conflict details once the constraint fired.
func (r *bookingRepository) conflictAfterRace(ctx context.Context, booking *entity.Booking, now time.Time) error {
	conflicts, err := r.GetActiveOverlapping(ctx, booking.RoomID, booking.Start, booking.End)
	if err != nil {
		return entity.NewConflictError(nil, now)
	}
	return entity.NewConflictError(conflicts, now)
}

// GetByID retrieves a booking by its ID
func (r *bookingRepository) GetByID(ctx context.Context, id int64) (*entity.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`

	booking, err := scanBooking(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, entity.ErrBookingNotFound
	}
	if err != nil {
		return nil, persistenceErr("get booking", err)
	}
	return booking, nil
}

// List applies the optional filters, newest first
func (r *bookingRepository) List(ctx context.Context, filter entity.BookingFilter) ([]*entity.Booking, error) {
	var (
		conds []string
		args  []interface{}
	)
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.RequesterID != nil {
		add("requester_id = $%d", *filter.RequesterID)
	}
	if filter.RoomID != nil {
		add("room_id = $%d", *filter.RoomID)
	}
	if filter.Status != nil {
		add("status = $%d", *filter.Status)
	}
	if filter.PaymentStatus != nil {
		add("payment_status = $%d", *filter.PaymentStatus)
	}

	query := `SELECT ` + bookingColumns + ` FROM bookings`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`

	bookings, err := queryBookings(ctx, r.db, query, args...)
	if err != nil {
		return nil, persistenceErr("list bookings", err)
	}
	return bookings, nil
}

// Delete physically removes a terminal booking and its payments
func (r *bookingRepository) Delete(ctx context.Context, id int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return persistenceErr("begin transaction", err)
	}
	defer tx.Rollback()

	var status entity.BookingStatus
	err = tx.QueryRowContext(ctx, `SELECT status FROM bookings WHERE id = $1 FOR UPDATE`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return entity.ErrBookingNotFound
	}
	if err != nil {
		return persistenceErr("lock booking", err)
	}
	if !status.Terminal() {
		return entity.ErrBookingNotTerminal
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM payments WHERE booking_id = $1`, id); err != nil {
		return persistenceErr("delete payments", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM bookings WHERE id = $1`, id); err != nil {
		return persistenceErr("delete booking", err)
	}

	if err := tx.Commit(); err != nil {
		return persistenceErr("commit transaction", err)
	}
	return nil
}

const overlapQuery = `
	SELECT ` + bookingColumns + `
	FROM bookings
	WHERE room_id = $1 AND status = 'active' AND start_time < $3 AND end_time > $2
	ORDER BY start_time
`

func (r *bookingRepository) GetActiveOverlapping(ctx context.Context, roomID int64, start, end time.Time) ([]*entity.Booking, error) {
	bookings, err := queryBookings(ctx, r.db, overlapQuery, roomID, start, end)
	if err != nil {
		return nil, persistenceErr("get overlapping bookings", err)
	}
	return bookings, nil
}

// GetActiveInRange returns active bookings of the given rooms (all rooms when
// roomIDs is empty) overlapping [start, end).
func (r *bookingRepository) GetActiveInRange(ctx context.Context, roomIDs []int64, start, end time.Time) ([]*entity.Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE status = 'active' AND start_time < $2 AND end_time > $1
		  AND (cardinality($3::bigint[]) = 0 OR room_id = ANY($3))
		ORDER BY room_id, start_time
	`
	if roomIDs == nil {
		roomIDs = []int64{}
	}

	bookings, err := queryBookings(ctx, r.db, query, start, end, pq.Array(roomIDs))
	if err != nil {
		return nil, persistenceErr("get bookings in range", err)
	}
	return bookings, nil
}

// ListPaidCancelled reports bookings cancelled after being paid. They need a
// manual refund decision.
func (r *bookingRepository) ListPaidCancelled(ctx context.Context) ([]*entity.Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE status = 'cancelled' AND payment_status = 'paid'
		ORDER BY updated_at DESC
	`

	bookings, err := queryBookings(ctx, r.db, query)
	if err != nil {
		return nil, persistenceErr("list paid cancelled bookings", err)
	}
	return bookings, nil
}

func (r *bookingRepository) RoomsWithFinishedBookings(ctx context.Context, now time.Time) ([]int64, error) {
	query := `
		SELECT DISTINCT room_id FROM bookings
		WHERE status = 'active' AND end_time <= $1
		ORDER BY room_id
	`

	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, persistenceErr("get rooms with finished bookings", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, persistenceErr("scan room id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceErr("get rooms with finished bookings", err)
	}
	return ids, nil
}

// TransitionStatus updates the status only if it still equals from
func (r *bookingRepository) TransitionStatus(ctx context.Context, id int64, from, to entity.BookingStatus) (*entity.Booking, error) {
	if !from.CanTransitionTo(to) {
		return nil, entity.ErrInvalidBookingTransition
	}

	query := `
		UPDATE bookings SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4
		RETURNING ` + bookingColumns

	booking, err := scanBooking(r.db.QueryRowContext(ctx, query, to, time.Now(), id, from))
	if err == sql.ErrNoRows {
		return nil, r.transitionMiss(ctx, id)
	}
	if err != nil {
		return nil, persistenceErr("update booking status", err)
	}
	return booking, nil
}

// transitionMiss explains why a conditional update matched no row.
func (r *bookingRepository) transitionMiss(ctx context.Context, id int64) error {
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	switch current.Status {
	case entity.BookingStatusCancelled:
		return entity.ErrBookingAlreadyCancelled
	case entity.BookingStatusCompleted:
		return entity.ErrBookingAlreadyCompleted
	}
	return entity.ErrInvalidBookingTransition
}

func (r *bookingRepository) TransitionPaymentStatus(ctx context.Context, id int64, to entity.PaymentStatus) (*entity.Booking, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, persistenceErr("begin transaction", err)
	}
	defer tx.Rollback()

	var current entity.PaymentStatus
	err = tx.QueryRowContext(ctx, `SELECT payment_status FROM bookings WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if err == sql.ErrNoRows {
		return nil, entity.ErrBookingNotFound
	}
	if err != nil {
		return nil, persistenceErr("lock booking", err)
	}
	if !current.CanTransitionTo(to) {
		return nil, fmt.Errorf("%w: %s -> %s", entity.ErrInvalidPaymentTransition, current, to)
	}

	query := `UPDATE bookings SET payment_status = $1, updated_at = $2 WHERE id = $3 RETURNING ` + bookingColumns
	booking, err := scanBooking(tx.QueryRowContext(ctx, query, to, time.Now(), id))
	if err != nil {
		return nil, persistenceErr("update payment status", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, persistenceErr("commit transaction", err)
	}
	return booking, nil
}

func (r *bookingRepository) UpdateTotalPrice(ctx context.Context, id int64, price float64) (*entity.Booking, error) {
	query := `UPDATE bookings SET total_price = $1, updated_at = $2 WHERE id = $3 RETURNING ` + bookingColumns

	booking, err := scanBooking(r.db.QueryRowContext(ctx, query, price, time.Now(), id))
	if err == sql.ErrNoRows {
		return nil, entity.ErrBookingNotFound
	}
	if err != nil {
		return nil, persistenceErr("update total price", err)
	}
	return booking, nil
}

func (r *bookingRepository) GetUserStats(ctx context.Context, requesterID int64, periodStart time.Time) (*entity.UserBookingStats, error) {
	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(total_price) FILTER (WHERE payment_status = 'paid'), 0),
			COUNT(*) FILTER (WHERE created_at >= $2),
			COUNT(*) FILTER (WHERE status = 'active')
		FROM bookings
		WHERE requester_id = $1
	`

	stats := &entity.UserBookingStats{RequesterID: requesterID}
	err := r.db.QueryRowContext(ctx, query, requesterID, periodStart).Scan(
		&stats.TotalBookings,
		&stats.TotalSpend,
		&stats.CurrentPeriodCount,
		&stats.CurrentlyActive,
	)
	if err != nil {
		return nil, persistenceErr("get user stats", err)
	}
	return stats, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func queryBookings(ctx context.Context, q querier, query string, args ...interface{}) ([]*entity.Booking, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []*entity.Booking
	for rows.Next() {
		booking, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, booking)
	}
	return bookings, rows.Err()
}
