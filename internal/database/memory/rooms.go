package memory

import (
	"context"
	"sort"
	"time"

	"github.com/ds124wfegd/roombooker/internal/entity"
)

type roomRepository struct {
	s *Store
}

func (r *roomRepository) Create(_ context.Context, room *entity.Room) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.rooms {
		if existing.Name == room.Name {
			return entity.Validationf("name", "room %q already exists", room.Name)
		}
	}

	if room.Status == "" {
		room.Status = entity.RoomStatusAvailable
	}
	now := r.s.clock()
	r.s.nextRoomID++
	room.ID = r.s.nextRoomID
	room.CreatedAt = now
	room.UpdatedAt = now

	r.s.rooms[room.ID] = cloneRoom(room)
	return nil
}

func (r *roomRepository) GetByID(_ context.Context, id int64) (*entity.Room, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	room, ok := r.s.rooms[id]
	if !ok {
		return nil, entity.ErrRoomNotFound
	}
	return cloneRoom(room), nil
}

func (r *roomRepository) GetAll(_ context.Context) ([]*entity.Room, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	rooms := make([]*entity.Room, 0, len(r.s.rooms))
	for _, room := range r.s.rooms {
		rooms = append(rooms, cloneRoom(room))
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].Name < rooms[j].Name })
	return rooms, nil
}

func (r *roomRepository) Update(_ context.Context, room *entity.Room) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.s.rooms[room.ID]
	if !ok {
		return entity.ErrRoomNotFound
	}
	for _, existing := range r.s.rooms {
		if existing.ID != room.ID && existing.Name == room.Name {
			return entity.Validationf("name", "room %q already exists", room.Name)
		}
	}

	room.Status = stored.Status
	room.CreatedAt = stored.CreatedAt
	room.UpdatedAt = r.s.clock()
	r.s.rooms[room.ID] = cloneRoom(room)
	return nil
}

func (r *roomRepository) SetMaintenance(_ context.Context, id int64, on bool, now time.Time) (*entity.Room, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	room, ok := r.s.rooms[id]
	if !ok {
		return nil, entity.ErrRoomNotFound
	}

	if on {
		room.Status = entity.RoomStatusMaintenance
	} else {
		room.Status = occupancyStatus(r.s.coveredAt(id, now))
	}
	room.UpdatedAt = now
	return cloneRoom(room), nil
}

func (r *roomRepository) ListAvailable(_ context.Context, start, end time.Time) ([]*entity.Room, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var rooms []*entity.Room
	for _, room := range r.s.rooms {
		if room.Status == entity.RoomStatusMaintenance {
			continue
		}
		if len(r.s.overlapping(room.ID, start, end)) > 0 {
			continue
		}
		rooms = append(rooms, cloneRoom(room))
	}
	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].PricePerHour != rooms[j].PricePerHour {
			return rooms[i].PricePerHour < rooms[j].PricePerHour
		}
		return rooms[i].Name < rooms[j].Name
	})
	return rooms, nil
}

func (r *roomRepository) ReconcileOccupancy(_ context.Context, roomID int64, now time.Time) (*entity.RoomSyncResult, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	room, ok := r.s.rooms[roomID]
	if !ok {
		return nil, entity.ErrRoomNotFound
	}

	result := &entity.RoomSyncResult{RoomID: roomID, PreviousStatus: room.Status, Status: room.Status}

	var finished []*entity.Booking
	for _, b := range r.s.bookings {
		if b.RoomID == roomID && b.Status == entity.BookingStatusActive && !b.End.After(now) {
			finished = append(finished, b)
		}
	}
	sortBookings(finished, func(a, b *entity.Booking) bool { return a.ID < b.ID })
	for _, b := range finished {
		b.Status = entity.BookingStatusCompleted
		b.UpdatedAt = now
		result.CompletedBookings = append(result.CompletedBookings, b.ID)
	}

	if room.Status != entity.RoomStatusMaintenance {
		result.Status = occupancyStatus(r.s.coveredAt(roomID, now))
		if result.Status != room.Status {
			room.Status = result.Status
			room.UpdatedAt = now
		}
	}
	return result, nil
}
