package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	repository "github.com/ds124wfegd/roombooker/internal/database/postgres"
	"github.com/ds124wfegd/roombooker/internal/entity"
	"github.com/ds124wfegd/roombooker/internal/metrics"
)

type roomSyncService struct {
	roomRepo    repository.RoomRepository
	bookingRepo repository.BookingRepository
	cache       SlotCache
	events      EventPublisher
	loc         *time.Location
	log         *logrus.Entry
}

// NewRoomSyncService создает сервис пересчета занятости. cache и events
// могут быть nil.
func NewRoomSyncService(
	roomRepo repository.RoomRepository,
	bookingRepo repository.BookingRepository,
	cache SlotCache,
	events EventPublisher,
	loc *time.Location,
	log *logrus.Entry,
) RoomSyncService {
	if loc == nil {
		loc = entity.DefaultLocation
	}
	return &roomSyncService{
		roomRepo:    roomRepo,
		bookingRepo: bookingRepo,
		cache:       cache,
		events:      events,
		loc:         loc,
		log:         log.WithField("component", "room_sync"),
	}
}

// SyncRooms завершает прошедшие брони и пересчитывает статус комнат.
// Ошибка одной комнаты не останавливает остальные и попадает в отчет.
func (s *roomSyncService) SyncRooms(ctx context.Context, now time.Time) (*entity.SyncReport, error) {
	report := &entity.SyncReport{StartedAt: now}

	finished, err := s.bookingRepo.RoomsWithFinishedBookings(ctx, now)
	if err != nil {
		metrics.IncSync("error")
		return nil, err
	}
	rooms, err := s.roomRepo.GetAll(ctx)
	if err != nil {
		metrics.IncSync("error")
		return nil, err
	}

	// Комнаты с завершенными бронями плюс все остальные: бронь могла
	// начаться, и комнату нужно пометить занятой
	ids := make(map[int64]struct{}, len(rooms)+len(finished))
	for _, id := range finished {
		ids[id] = struct{}{}
	}
	for _, room := range rooms {
		ids[room.ID] = struct{}{}
	}
	ordered := make([]int64, 0, len(ids))
	for id := range ids {
		ordered = append(ordered, id)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	for _, roomID := range ordered {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		result, err := s.SyncRoom(ctx, roomID, now)
		report.RoomsChecked++
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("room %d: %v", roomID, err))
			continue
		}
		if !result.Changed() {
			continue
		}
		report.RoomsUpdated++
		report.BookingsCompleted += len(result.CompletedBookings)
		report.Results = append(report.Results, *result)
	}

	outcome := "ok"
	if len(report.Errors) > 0 {
		outcome = "partial"
	}
	metrics.IncSync(outcome)

	if report.RoomsUpdated > 0 || len(report.Errors) > 0 {
		s.log.WithFields(logrus.Fields{
			"rooms_checked":      report.RoomsChecked,
			"rooms_updated":      report.RoomsUpdated,
			"bookings_completed": report.BookingsCompleted,
			"errors":             len(report.Errors),
		}).Info("Синхронизация комнат завершена")
	}
	return report, nil
}

// SyncRoom пересчитывает одну комнату в одной транзакции
func (s *roomSyncService) SyncRoom(ctx context.Context, roomID int64, now time.Time) (*entity.RoomSyncResult, error) {
	result, err := s.roomRepo.ReconcileOccupancy(ctx, roomID, now)
	if err != nil {
		s.log.WithError(err).WithField("room_id", roomID).Error("Ошибка при синхронизации комнаты")
		return nil, err
	}
	if result.CompletedBookings == nil {
		result.CompletedBookings = []int64{}
	}

	if len(result.CompletedBookings) > 0 {
		metrics.AddBookingsCompleted(len(result.CompletedBookings))
		s.afterCompleted(ctx, result.CompletedBookings)
	}
	if result.PreviousStatus != result.Status {
		s.log.WithFields(logrus.Fields{
			"room_id": roomID,
			"from":    result.PreviousStatus,
			"to":      result.Status,
		}).Info("Статус комнаты изменен")
	}
	return result, nil
}

// afterCompleted публикует события и сбрасывает кэш по завершенным броням
func (s *roomSyncService) afterCompleted(ctx context.Context, ids []int64) {
	for _, id := range ids {
		booking, err := s.bookingRepo.GetByID(ctx, id)
		if err != nil {
			s.log.WithError(err).WithField("booking_id", id).Warn("Завершенная бронь не найдена")
			continue
		}
		if s.cache != nil {
			s.cache.Invalidate(ctx, booking.RoomID, affectedDates(booking, s.loc)...)
		}
		publishEvent(ctx, s.events, s.log, EventBookingCompleted, bookingEventData(booking))
	}
}
