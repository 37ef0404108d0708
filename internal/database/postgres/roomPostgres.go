package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/ds124wfegd/roombooker/internal/entity"
)

const roomColumns = `id, name, capacity, price_per_hour, open_time, close_time, status, amenities, location, created_at, updated_at`

type roomRepository struct {
	db *sql.DB
}

func NewRoomRepository(db *sql.DB) RoomRepository {
	return &roomRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRoom(row rowScanner) (*entity.Room, error) {
	var (
		room      entity.Room
		amenities []string
		location  []byte
	)
	err := row.Scan(
		&room.ID,
		&room.Name,
		&room.Capacity,
		&room.PricePerHour,
		&room.OpenTime,
		&room.CloseTime,
		&room.Status,
		pq.Array(&amenities),
		&location,
		&room.CreatedAt,
		&room.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	room.Amenities = entity.AmenitiesFromStrings(amenities)
	if len(location) > 0 {
		var addr entity.Address
		if err := json.Unmarshal(location, &addr); err != nil {
			return nil, fmt.Errorf("failed to decode room location: %w", err)
		}
		room.Location = &addr
	}
	return &room, nil
}

func locationValue(addr *entity.Address) interface{} {
	if addr == nil {
		return nil
	}
	b, err := json.Marshal(addr)
	if err != nil {
		return nil
	}
	return b
}

// Create creates a new room, new rooms start available
func (r *roomRepository) Create(ctx context.Context, room *entity.Room) error {
	query := `
		INSERT INTO rooms (name, capacity, price_per_hour, open_time, close_time, status, amenities, location, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		RETURNING id
	`

	if room.Status == "" {
		room.Status = entity.RoomStatusAvailable
	}
	now := time.Now()

	err := r.db.QueryRowContext(ctx, query,
		room.Name,
		room.Capacity,
		room.PricePerHour,
		room.OpenTime,
		room.CloseTime,
		room.Status,
		pq.Array(room.AmenityStrings()),
		locationValue(room.Location),
		now,
	).Scan(&room.ID)
	if err != nil {
		if pqCode(err) == pgUniqueViolation {
			return entity.Validationf("name", "room %q already exists", room.Name)
		}
		return persistenceErr("create room", err)
	}

	room.CreatedAt = now
	room.UpdatedAt = now
	return nil
}

// GetByID retrieves a room by its ID
func (r *roomRepository) GetByID(ctx context.Context, id int64) (*entity.Room, error) {
	query := `SELECT ` + roomColumns + ` FROM rooms WHERE id = $1`

	room, err := scanRoom(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, entity.ErrRoomNotFound
	}
	if err != nil {
		return nil, persistenceErr("get room", err)
	}
	return room, nil
}

func (r *roomRepository) GetAll(ctx context.Context) ([]*entity.Room, error) {
	query := `SELECT ` + roomColumns + ` FROM rooms ORDER BY name`

	return r.queryRooms(ctx, "get rooms", query)
}

// Update changes the administrative fields. Status is not touched here.
func (r *roomRepository) Update(ctx context.Context, room *entity.Room) error {
	query := `
		UPDATE rooms
		SET name = $1, capacity = $2, price_per_hour = $3, open_time = $4, close_time = $5,
		    amenities = $6, location = $7, updated_at = $8
		WHERE id = $9
		RETURNING status, created_at
	`

	now := time.Now()
	err := r.db.QueryRowContext(ctx, query,
		room.Name,
		room.Capacity,
		room.PricePerHour,
		room.OpenTime,
		room.CloseTime,
		pq.Array(room.AmenityStrings()),
		locationValue(room.Location),
		now,
		room.ID,
	).Scan(&room.Status, &room.CreatedAt)
	if err == sql.ErrNoRows {
		return entity.ErrRoomNotFound
	}
	if err != nil {
		return persistenceErr("update room", err)
	}
	room.UpdatedAt = now
	return nil
}

func (r *roomRepository) SetMaintenance(ctx context.Context, id int64, on bool, now time.Time) (*entity.Room, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, persistenceErr("begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := lockRoomStatus(ctx, tx, id); err != nil {
		return nil, err
	}

	status := entity.RoomStatusMaintenance
	if !on {
		occupied, err := coveredAt(ctx, tx, id, now)
		if err != nil {
			return nil, err
		}
		status = occupancyStatus(occupied)
	}

	query := `UPDATE rooms SET status = $1, updated_at = $2 WHERE id = $3 RETURNING ` + roomColumns
	room, err := scanRoom(tx.QueryRowContext(ctx, query, status, now, id))
	if err != nil {
		return nil, persistenceErr("set room status", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, persistenceErr("commit transaction", err)
	}
	return room, nil
}

// ListAvailable evaluates the overlap predicate in SQL:
// NOT (end1 <= start2 OR start1 >= end2) is start1 < end2 AND end1 > start2.
func (r *roomRepository) ListAvailable(ctx context.Context, start, end time.Time) ([]*entity.Room, error) {
	query := `
		SELECT ` + roomColumns + `
		FROM rooms r
		WHERE r.status <> 'maintenance'
		  AND NOT EXISTS (
			SELECT 1 FROM bookings b
			WHERE b.room_id = r.id
			  AND b.status = 'active'
			  AND b.start_time < $2
			  AND b.end_time > $1
		  )
		ORDER BY r.price_per_hour ASC, r.name ASC
	`

	return r.queryRooms(ctx, "list available rooms", query, start, end)
}

func (r *roomRepository) ReconcileOccupancy(ctx context.Context, roomID int64, now time.Time) (*entity.RoomSyncResult, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, persistenceErr("begin transaction", err)
	}
	defer tx.Rollback()

	current, err := lockRoomStatus(ctx, tx, roomID)
	if err != nil {
		return nil, err
	}

	result := &entity.RoomSyncResult{RoomID: roomID, PreviousStatus: current, Status: current}

	rows, err := tx.QueryContext(ctx, `
		UPDATE bookings
		SET status = 'completed', updated_at = $2
		WHERE room_id = $1 AND status = 'active' AND end_time <= $2
		RETURNING id
	`, roomID, now)
	if err != nil {
		return nil, persistenceErr("complete bookings", err)
	}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, persistenceErr("scan completed booking", err)
		}
		result.CompletedBookings = append(result.CompletedBookings, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, persistenceErr("complete bookings", err)
	}

	if current != entity.RoomStatusMaintenance {
		occupied, err := coveredAt(ctx, tx, roomID, now)
		if err != nil {
			return nil, err
		}
		result.Status = occupancyStatus(occupied)
		if result.Status != current {
			_, err := tx.ExecContext(ctx, `UPDATE rooms SET status = $1, updated_at = $2 WHERE id = $3`,
				result.Status, now, roomID)
			if err != nil {
				return nil, persistenceErr("update room status", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, persistenceErr("commit transaction", err)
	}
	return result, nil
}

func (r *roomRepository) queryRooms(ctx context.Context, op, query string, args ...interface{}) ([]*entity.Room, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistenceErr(op, err)
	}
	defer rows.Close()

	var rooms []*entity.Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, persistenceErr(op, err)
		}
		rooms = append(rooms, room)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceErr(op, err)
	}
	return rooms, nil
}

// lockRoomStatus takes the row lock that serializes every writer of one room.
func lockRoomStatus(ctx context.Context, tx *sql.Tx, roomID int64) (entity.RoomStatus, error) {
	var status entity.RoomStatus
	err := tx.QueryRowContext(ctx, `SELECT status FROM rooms WHERE id = $1 FOR UPDATE`, roomID).Scan(&status)
	if err == sql.ErrNoRows {
		return "", entity.ErrRoomNotFound
	}
	if err != nil {
		return "", persistenceErr("lock room", err)
	}
	return status, nil
}

func coveredAt(ctx context.Context, tx *sql.Tx, roomID int64, now time.Time) (bool, error) {
	var occupied bool
	err := tx.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM bookings
			WHERE room_id = $1 AND status = 'active' AND start_time <= $2 AND end_time > $2
		)
	`, roomID, now).Scan(&occupied)
	if err != nil {
		return false, persistenceErr("check occupancy", err)
	}
	return occupied, nil
}

func occupancyStatus(occupied bool) entity.RoomStatus {
	if occupied {
		return entity.RoomStatusOccupied
	}
	return entity.RoomStatusAvailable
}
