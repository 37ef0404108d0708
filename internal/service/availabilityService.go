package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	repository "github.com/ds124wfegd/roombooker/internal/database/postgres"
	"github.com/ds124wfegd/roombooker/internal/entity"
)

type availabilityService struct {
	roomRepo    repository.RoomRepository
	bookingRepo repository.BookingRepository
	clock       Clock
	log         *logrus.Entry
}

// NewAvailabilityService создает новый экземпляр AvailabilityService
func NewAvailabilityService(
	roomRepo repository.RoomRepository,
	bookingRepo repository.BookingRepository,
	clock Clock,
	log *logrus.Entry,
) AvailabilityService {
	return &availabilityService{
		roomRepo:    roomRepo,
		bookingRepo: bookingRepo,
		clock:       clock,
		log:         log.WithField("component", "availability"),
	}
}

func validateInterval(start, end time.Time) error {
	verr := entity.NewValidationError()
	if start.IsZero() {
		verr.Add("start", "start is required")
	}
	if end.IsZero() {
		verr.Add("end", "end is required")
	}
	if verr.Empty() && !start.Before(end) {
		verr.Add("end", "end must be after start")
	}
	return verr.OrNil()
}

// CheckAvailability сверяет интервал со всеми активными бронями комнаты
func (s *availabilityService) CheckAvailability(ctx context.Context, roomID int64, start, end time.Time) (*entity.AvailabilityResult, error) {
	if err := validateInterval(start, end); err != nil {
		return nil, err
	}

	room, err := s.roomRepo.GetByID(ctx, roomID)
	if err != nil {
		return nil, err
	}

	conflicts, err := s.bookingRepo.GetActiveOverlapping(ctx, roomID, start, end)
	if err != nil {
		s.log.WithError(err).WithField("room_id", roomID).Error("Ошибка при проверке пересечений")
		return nil, err
	}

	result := &entity.AvailabilityResult{
		Available: len(conflicts) == 0,
		Conflicts: make([]*entity.Booking, 0, len(conflicts)),
	}
	result.Conflicts = append(result.Conflicts, conflicts...)

	switch {
	case room.Status == entity.RoomStatusMaintenance:
		result.Available = false
		result.Message = entity.ErrRoomInMaintenance.Error()
	case len(conflicts) > 0:
		conflict := entity.NewConflictError(conflicts, s.clock())
		result.Message = conflict.Message
		result.NextAvailable = conflict.NextAvailable
	default:
		result.Message = "room is available for the requested time"
	}
	return result, nil
}

// ListAvailableRooms возвращает комнаты без пересечений, сначала дешевые
func (s *availabilityService) ListAvailableRooms(ctx context.Context, start, end time.Time) ([]*entity.Room, error) {
	if err := validateInterval(start, end); err != nil {
		return nil, err
	}

	rooms, err := s.roomRepo.ListAvailable(ctx, start, end)
	if err != nil {
		s.log.WithError(err).Error("Ошибка при получении свободных комнат")
		return nil, err
	}
	if rooms == nil {
		rooms = []*entity.Room{}
	}
	return rooms, nil
}
