package service

import (
	"context"

	"github.com/sirupsen/logrus"

	repository "github.com/ds124wfegd/roombooker/internal/database/postgres"
	"github.com/ds124wfegd/roombooker/internal/entity"
)

type roomService struct {
	roomRepo repository.RoomRepository
	policy   AuthorizationPolicy
	cache    SlotCache
	clock    Clock
	log      *logrus.Entry
}

// NewRoomService создает новый экземпляр RoomService
func NewRoomService(roomRepo repository.RoomRepository, policy AuthorizationPolicy, cache SlotCache, clock Clock, log *logrus.Entry) RoomService {
	return &roomService{
		roomRepo: roomRepo,
		policy:   policy,
		cache:    cache,
		clock:    clock,
		log:      log.WithField("component", "room"),
	}
}

func (s *roomService) CreateRoom(ctx context.Context, actor *entity.Actor, req *RoomRequest) (*entity.Room, error) {
	if err := s.policy.RequireAdmin(actor); err != nil {
		return nil, err
	}

	room := req.room()
	if err := room.Validate(); err != nil {
		return nil, err
	}
	if err := s.roomRepo.Create(ctx, room); err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"room_id": room.ID, "name": room.Name}).Info("Комната создана")
	return room, nil
}

// UpdateRoom меняет описание комнаты. Цена уже созданных броней не
// пересчитывается, статус меняется только через SetMaintenance и синхронизацию.
func (s *roomService) UpdateRoom(ctx context.Context, actor *entity.Actor, roomID int64, req *RoomRequest) (*entity.Room, error) {
	if err := s.policy.RequireAdmin(actor); err != nil {
		return nil, err
	}
	if _, err := s.roomRepo.GetByID(ctx, roomID); err != nil {
		return nil, err
	}

	room := req.room()
	room.ID = roomID
	if err := room.Validate(); err != nil {
		return nil, err
	}
	if err := s.roomRepo.Update(ctx, room); err != nil {
		return nil, err
	}

	s.invalidate(ctx, roomID)
	s.log.WithField("room_id", roomID).Info("Комната обновлена")
	return room, nil
}

func (s *roomService) GetRoom(ctx context.Context, roomID int64) (*entity.Room, error) {
	return s.roomRepo.GetByID(ctx, roomID)
}

func (s *roomService) GetAllRooms(ctx context.Context) ([]*entity.Room, error) {
	rooms, err := s.roomRepo.GetAll(ctx)
	if err != nil {
		s.log.WithError(err).Error("Ошибка при получении списка комнат")
		return nil, err
	}
	if rooms == nil {
		rooms = []*entity.Room{}
	}
	return rooms, nil
}

// SetMaintenance закрывает комнату на обслуживание или возвращает ее в работу
func (s *roomService) SetMaintenance(ctx context.Context, actor *entity.Actor, roomID int64, on bool) (*entity.Room, error) {
	if err := s.policy.RequireAdmin(actor); err != nil {
		return nil, err
	}

	room, err := s.roomRepo.SetMaintenance(ctx, roomID, on, s.clock())
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, roomID)
	s.log.WithFields(logrus.Fields{"room_id": roomID, "status": room.Status}).Info("Статус обслуживания комнаты изменен")
	return room, nil
}

func (s *roomService) invalidate(ctx context.Context, roomID int64) {
	if s.cache != nil {
		s.cache.InvalidateRoom(ctx, roomID)
	}
}
