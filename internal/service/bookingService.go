package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	repository "github.com/ds124wfegd/roombooker/internal/database/postgres"
	"github.com/ds124wfegd/roombooker/internal/entity"
	"github.com/ds124wfegd/roombooker/internal/metrics"
)

type bookingService struct {
	bookingRepo repository.BookingRepository
	roomRepo    repository.RoomRepository
	policy      AuthorizationPolicy
	cache       SlotCache
	events      EventPublisher
	queue       TaskPublisher
	clock       Clock
	loc         *time.Location
	log         *logrus.Entry
	// пересчет занятости при отмене текущей брони
	sync RoomSyncService
}

// BookingDeps зависимости BookingService. Cache, Events и Queue необязательны.
type BookingDeps struct {
	Bookings repository.BookingRepository
	Rooms    repository.RoomRepository
	Policy   AuthorizationPolicy
	Cache    SlotCache
	Events   EventPublisher
	Queue    TaskPublisher
	Clock    Clock
	Location *time.Location
	Log      *logrus.Entry
}

// NewBookingService создает новый экземпляр BookingService
func NewBookingService(deps BookingDeps) BookingService {
	loc := deps.Location
	if loc == nil {
		loc = entity.DefaultLocation
	}
	return &bookingService{
		bookingRepo: deps.Bookings,
		roomRepo:    deps.Rooms,
		policy:      deps.Policy,
		cache:       deps.Cache,
		events:      deps.Events,
		queue:       deps.Queue,
		clock:       deps.Clock,
		loc:         loc,
		log:         deps.Log.WithField("component", "booking"),
		sync:        NewRoomSyncService(deps.Rooms, deps.Bookings, deps.Cache, deps.Events, loc, deps.Log),
	}
}

// Create бронирует комнату. Проверка пересечений и вставка выполняются
// атомарно в TryReserve, отдельной проверки доступности здесь нет.
func (s *bookingService) Create(ctx context.Context, actor *entity.Actor, req *CreateBookingRequest) (*entity.BookingDetails, error) {
	requesterID, err := s.policy.RequesterFor(actor, req.RequesterID)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	start, end := req.Start.Time, req.End.Time
	if err := s.validateCreate(req, start, end, now); err != nil {
		metrics.IncBookingCreated("rejected")
		return nil, err
	}

	hours := req.DurationHours
	if hours == 0 {
		hours = entity.DurationHoursFor(start, end)
	}

	// Комната нужна до резервирования: вместимость проверяется по заметкам
	room, err := s.roomRepo.GetByID(ctx, req.RoomID)
	if err != nil {
		metrics.IncBookingCreated("rejected")
		return nil, err
	}
	if err := req.Notes.Validate(room.Capacity); err != nil {
		metrics.IncBookingCreated("rejected")
		return nil, err
	}

	booking := &entity.Booking{
		RoomID:        req.RoomID,
		RequesterID:   requesterID,
		Start:         start,
		End:           end,
		DurationHours: hours,
		Notes:         req.Notes,
	}

	room, err = s.bookingRepo.TryReserve(ctx, booking, now)
	if err != nil {
		log := s.log.WithFields(logrus.Fields{"room_id": req.RoomID, "requester_id": requesterID})
		if conflict, ok := entity.AsConflict(err); ok {
			metrics.IncBookingCreated("conflict")
			log.WithField("conflicts", len(conflict.Conflicts)).Info("Бронирование отклонено: пересечение")
		} else {
			metrics.IncBookingCreated("error")
			log.WithError(err).Warn("Ошибка при создании бронирования")
		}
		return nil, err
	}
	metrics.IncBookingCreated("created")

	s.log.WithFields(logrus.Fields{
		"booking_id":   booking.ID,
		"room_id":      booking.RoomID,
		"requester_id": booking.RequesterID,
		"total_price":  booking.TotalPrice,
	}).Info("Бронирование создано")

	s.invalidate(ctx, booking)
	s.scheduleSync(ctx, booking, now)
	publishEvent(ctx, s.events, s.log, EventBookingCreated, bookingEventData(booking))

	return &entity.BookingDetails{
		Booking:      booking,
		RoomName:     room.Name,
		PricePerHour: room.PricePerHour,
	}, nil
}

func (s *bookingService) validateCreate(req *CreateBookingRequest, start, end, now time.Time) error {
	if err := validateInterval(start, end); err != nil {
		return err
	}

	verr := entity.NewValidationError()
	if !end.After(now) {
		verr.Add("end", "booking must end in the future")
	}

	derived := entity.DurationHoursFor(start, end)
	hours := req.DurationHours
	if hours == 0 {
		hours = derived
	}
	switch {
	case hours < entity.MinDurationHours || hours > entity.MaxDurationHours:
		verr.Add("duration_hours", fmt.Sprintf("duration must be between %d and %d hours",
			entity.MinDurationHours, entity.MaxDurationHours))
	case hours != derived:
		verr.Add("duration_hours", fmt.Sprintf("duration_hours %d does not match the interval (%d)", hours, derived))
	}
	return verr.OrNil()
}

// scheduleSync ставит пересчет занятости на начало и конец брони.
// Периодический воркер остается страховкой, если очередь недоступна.
func (s *bookingService) scheduleSync(ctx context.Context, booking *entity.Booking, now time.Time) {
	if s.queue == nil {
		return
	}

	for _, at := range []time.Time{booking.Start, booking.End} {
		if !at.After(now) {
			continue
		}
		task := &Task{
			ID:   fmt.Sprintf("sync_room_%d_%d_%d", booking.RoomID, booking.ID, at.Unix()),
			Type: TaskTypeSyncRoom,
			Data: map[string]interface{}{
				"room_id":    booking.RoomID,
				"booking_id": booking.ID,
			},
			ExecuteAt:  at,
			MaxRetries: 3,
		}
		if err := s.queue.Publish(ctx, task); err != nil {
			s.log.WithError(err).WithField("booking_id", booking.ID).Warn("Ошибка при планировании пересчета занятости")
		}
	}
}

// invalidate сбрасывает кэш слотов на все даты, которые задевает бронь.
// Предыдущий день тоже, из-за ночных часов работы.
func (s *bookingService) invalidate(ctx context.Context, booking *entity.Booking) {
	if s.cache == nil {
		return
	}
	s.cache.Invalidate(ctx, booking.RoomID, affectedDates(booking, s.loc)...)
}

func affectedDates(booking *entity.Booking, loc *time.Location) []string {
	y, m, d := booking.Start.In(loc).Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, loc).AddDate(0, 0, -1)

	var dates []string
	for ; day.Before(booking.End); day = day.AddDate(0, 0, 1) {
		dates = append(dates, day.Format(dateLayout))
	}
	return dates
}

// Cancel отменяет бронь. Статус оплаты не меняется: оплаченная и
// отмененная бронь попадает в отчет ListPaidCancelled.
func (s *bookingService) Cancel(ctx context.Context, actor *entity.Actor, bookingID int64) (*entity.Booking, error) {
	booking, err := s.bookingRepo.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if err := s.policy.CanAccessBooking(actor, booking); err != nil {
		return nil, err
	}

	cancelled, err := s.bookingRepo.TransitionStatus(ctx, bookingID, entity.BookingStatusActive, entity.BookingStatusCancelled)
	if err != nil {
		return nil, err
	}
	metrics.IncBookingCancelled()

	log := s.log.WithFields(logrus.Fields{"booking_id": bookingID, "actor_id": actor.ID})
	if cancelled.PaymentStatus == entity.PaymentStatusPaid {
		log.Warn("Отменена оплаченная бронь, требуется решение о возврате")
	} else {
		log.Info("Бронирование отменено")
	}

	// Комната могла освободиться прямо сейчас
	now := s.clock()
	if cancelled.Covers(now) {
		if _, err := s.sync.SyncRoom(ctx, cancelled.RoomID, now); err != nil {
			log.WithError(err).Warn("Ошибка при пересчете занятости комнаты")
		}
	}

	s.invalidate(ctx, cancelled)
	publishEvent(ctx, s.events, s.log, EventBookingCancelled, bookingEventData(cancelled))
	return cancelled, nil
}

// Get возвращает бронь вместе с данными комнаты
func (s *bookingService) Get(ctx context.Context, actor *entity.Actor, bookingID int64) (*entity.BookingDetails, error) {
	booking, err := s.bookingRepo.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if err := s.policy.CanAccessBooking(actor, booking); err != nil {
		return nil, err
	}

	room, err := s.roomRepo.GetByID(ctx, booking.RoomID)
	if err != nil {
		return nil, err
	}
	return &entity.BookingDetails{
		Booking:      booking,
		RoomName:     room.Name,
		PricePerHour: room.PricePerHour,
	}, nil
}

// List не проверяет права: вызывающая сторона сама ограничивает фильтр
// для клиентов их собственным requester_id
func (s *bookingService) List(ctx context.Context, filter entity.BookingFilter) ([]*entity.Booking, error) {
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, entity.ErrInvalidBookingStatus
	}
	if filter.PaymentStatus != nil && !filter.PaymentStatus.Valid() {
		return nil, entity.ErrInvalidPaymentStatus
	}

	bookings, err := s.bookingRepo.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	if bookings == nil {
		bookings = []*entity.Booking{}
	}
	return bookings, nil
}

// GetStats считает статистику клиента, текущий период это календарный месяц
func (s *bookingService) GetStats(ctx context.Context, requesterID int64) (*entity.UserBookingStats, error) {
	now := s.clock().In(s.loc)
	periodStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, s.loc)

	return s.bookingRepo.GetUserStats(ctx, requesterID, periodStart)
}

func (s *bookingService) UpdateStatus(ctx context.Context, actor *entity.Actor, bookingID int64, status string) (*entity.Booking, error) {
	if err := s.policy.RequireAdmin(actor); err != nil {
		return nil, err
	}
	next := entity.BookingStatus(status)
	if !next.Valid() {
		return nil, entity.ErrInvalidBookingStatus
	}

	current, err := s.bookingRepo.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	switch {
	case current.Status == entity.BookingStatusCancelled:
		return nil, entity.ErrBookingAlreadyCancelled
	case current.Status == entity.BookingStatusCompleted:
		return nil, entity.ErrBookingAlreadyCompleted
	case !current.Status.CanTransitionTo(next):
		return nil, fmt.Errorf("%w: %s -> %s", entity.ErrInvalidBookingTransition, current.Status, next)
	}

	updated, err := s.bookingRepo.TransitionStatus(ctx, bookingID, current.Status, next)
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, updated)
	switch next {
	case entity.BookingStatusCancelled:
		metrics.IncBookingCancelled()
		publishEvent(ctx, s.events, s.log, EventBookingCancelled, bookingEventData(updated))
	case entity.BookingStatusCompleted:
		metrics.AddBookingsCompleted(1)
		publishEvent(ctx, s.events, s.log, EventBookingCompleted, bookingEventData(updated))
	}
	return updated, nil
}

func (s *bookingService) UpdatePaymentStatus(ctx context.Context, actor *entity.Actor, bookingID int64, status string) (*entity.Booking, error) {
	if err := s.policy.RequireAdmin(actor); err != nil {
		return nil, err
	}
	next := entity.PaymentStatus(status)
	if !next.Valid() {
		return nil, entity.ErrInvalidPaymentStatus
	}

	updated, err := s.bookingRepo.TransitionPaymentStatus(ctx, bookingID, next)
	if err != nil {
		return nil, err
	}
	metrics.IncPaymentTransition(string(next), "manual")
	if key, ok := paymentEventKey(next); ok {
		publishEvent(ctx, s.events, s.log, key, bookingEventData(updated))
	}
	return updated, nil
}

func (s *bookingService) ListPaidCancelled(ctx context.Context, actor *entity.Actor) ([]*entity.Booking, error) {
	if err := s.policy.RequireAdmin(actor); err != nil {
		return nil, err
	}
	bookings, err := s.bookingRepo.ListPaidCancelled(ctx)
	if err != nil {
		return nil, err
	}
	if bookings == nil {
		bookings = []*entity.Booking{}
	}
	return bookings, nil
}

// AdminCorrectPrice единственный способ изменить цену после создания
func (s *bookingService) AdminCorrectPrice(ctx context.Context, actor *entity.Actor, bookingID int64, price float64) (*entity.Booking, error) {
	if err := s.policy.RequireAdmin(actor); err != nil {
		return nil, err
	}
	if price < 0 {
		return nil, entity.Validationf("total_price", "price must not be negative")
	}

	updated, err := s.bookingRepo.UpdateTotalPrice(ctx, bookingID, price)
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"booking_id": bookingID,
		"actor_id":   actor.ID,
		"price":      price,
	}).Info("Цена брони исправлена администратором")
	return updated, nil
}

// AdminPurgeBooking физически удаляет завершенную или отмененную бронь
func (s *bookingService) AdminPurgeBooking(ctx context.Context, actor *entity.Actor, bookingID int64) error {
	if err := s.policy.RequireAdmin(actor); err != nil {
		return err
	}

	if err := s.bookingRepo.Delete(ctx, bookingID); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"booking_id": bookingID, "actor_id": actor.ID}).Info("Бронь удалена")
	return nil
}
