package service

import (
	"context"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	repository "github.com/ds124wfegd/roombooker/internal/database/postgres"
	"github.com/ds124wfegd/roombooker/internal/entity"
	"github.com/ds124wfegd/roombooker/internal/timeslot"
)

const (
	dateLayout = "2006-01-02"

	// maxFleetRange ограничивает интервальный запрос по всем комнатам
	maxFleetRange = 31 * 24 * time.Hour
)

type slotService struct {
	roomRepo    repository.RoomRepository
	bookingRepo repository.BookingRepository
	cache       SlotCache
	opts        timeslot.Options
	clock       Clock
	log         *logrus.Entry
}

// NewSlotService создает SlotService. cache может быть nil.
func NewSlotService(
	roomRepo repository.RoomRepository,
	bookingRepo repository.BookingRepository,
	cache SlotCache,
	opts timeslot.Options,
	clock Clock,
	log *logrus.Entry,
) SlotService {
	if opts.Location == nil {
		opts.Location = entity.DefaultLocation
	}
	return &slotService{
		roomRepo:    roomRepo,
		bookingRepo: bookingRepo,
		cache:       cache,
		opts:        opts,
		clock:       clock,
		log:         log.WithField("component", "slots"),
	}
}

func (s *slotService) midnight(t time.Time) time.Time {
	y, m, d := t.In(s.opts.Location).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, s.opts.Location)
}

func (s *slotService) dateKey(date time.Time) string {
	return date.In(s.opts.Location).Format(dateLayout)
}

// GetTimeSlots возвращает сетку слотов комнаты на дату
func (s *slotService) GetTimeSlots(ctx context.Context, roomID int64, date time.Time) (*entity.RoomSlots, error) {
	key := s.dateKey(date)
	if s.cache != nil {
		if cached, ok := s.cache.GetRoomSlots(ctx, roomID, key); ok {
			return cached, nil
		}
	}

	room, err := s.roomRepo.GetByID(ctx, roomID)
	if err != nil {
		return nil, err
	}

	fleet, err := s.dayFleet(ctx, []*entity.Room{room}, date)
	if err != nil {
		return nil, err
	}

	result := &entity.RoomSlots{
		RoomID:      roomID,
		Date:        key,
		Slots:       fleet[0].Slots,
		SlotSummary: fleet[0].Summary,
	}
	if s.cache != nil {
		s.cache.SetRoomSlots(ctx, result)
	}
	return result, nil
}

// GetFleetAvailability считает сводку по слотам всех комнат на дату
func (s *slotService) GetFleetAvailability(ctx context.Context, date time.Time) ([]*entity.RoomAvailability, error) {
	key := s.dateKey(date)
	if s.cache != nil {
		if cached, ok := s.cache.GetFleet(ctx, key); ok {
			return cached, nil
		}
	}

	rooms, err := s.roomRepo.GetAll(ctx)
	if err != nil {
		s.log.WithError(err).Error("Ошибка при получении списка комнат")
		return nil, err
	}

	fleet, err := s.dayFleet(ctx, rooms, date)
	if err != nil {
		return nil, err
	}
	sortFleet(fleet)

	if s.cache != nil {
		s.cache.SetFleet(ctx, key, fleet)
	}
	return fleet, nil
}

// GetFleetAvailabilityForRange проверяет интервал для всех комнат и
// считает сводку по слотам, попадающим в него
func (s *slotService) GetFleetAvailabilityForRange(ctx context.Context, start, end time.Time) ([]*entity.RoomAvailability, error) {
	if err := validateInterval(start, end); err != nil {
		return nil, err
	}
	if end.Sub(start) > maxFleetRange {
		return nil, entity.Validationf("end", "interval must not exceed %d days", int(maxFleetRange.Hours()/24))
	}

	rooms, err := s.roomRepo.GetAll(ctx)
	if err != nil {
		s.log.WithError(err).Error("Ошибка при получении списка комнат")
		return nil, err
	}

	// Слоты каждого дня, задевающего интервал. Ночное окно предыдущего
	// дня тоже может в него попасть.
	slotsByRoom := make(map[int64][]entity.Slot, len(rooms))
	from, to := start, end
	for _, room := range rooms {
		var slots []entity.Slot
		for day := s.midnight(start).AddDate(0, 0, -1); day.Before(end); day = day.AddDate(0, 0, 1) {
			daySlots, err := timeslot.Generate(room.OperatingHours(), day, s.opts)
			if err != nil {
				return nil, err
			}
			for _, slot := range daySlots {
				if entity.Overlaps(slot.Start, slot.End, start, end) {
					slots = append(slots, slot)
					if slot.Start.Before(from) {
						from = slot.Start
					}
					if slot.End.After(to) {
						to = slot.End
					}
				}
			}
		}
		slotsByRoom[room.ID] = slots
	}

	bookings, err := s.bookingRepo.GetActiveInRange(ctx, roomIDs(rooms), from, to)
	if err != nil {
		s.log.WithError(err).Error("Ошибка при получении броней за период")
		return nil, err
	}
	byRoom := groupByRoom(bookings)

	now := s.clock()
	fleet := make([]*entity.RoomAvailability, 0, len(rooms))
	for _, room := range rooms {
		slots := timeslot.Mark(slotsByRoom[room.ID], byRoom[room.ID], now)
		conflicts := entity.FindConflicts(byRoom[room.ID], start, end)
		maintenance := room.Status == entity.RoomStatusMaintenance
		if maintenance {
			closeSlots(slots)
		}
		fleet = append(fleet, &entity.RoomAvailability{
			Room:      room,
			Available: len(conflicts) == 0 && !maintenance,
			Summary:   timeslot.Summarize(slots),
		})
	}
	sortFleet(fleet)
	return fleet, nil
}

// dayFleet строит слоты каждой комнаты на дату одним запросом броней
func (s *slotService) dayFleet(ctx context.Context, rooms []*entity.Room, date time.Time) ([]*entity.RoomAvailability, error) {
	slotsByRoom := make(map[int64][]entity.Slot, len(rooms))
	var from, to time.Time
	for _, room := range rooms {
		slots, err := timeslot.Generate(room.OperatingHours(), date, s.opts)
		if err != nil {
			return nil, err
		}
		slotsByRoom[room.ID] = slots
		if len(slots) == 0 {
			continue
		}
		if from.IsZero() || slots[0].Start.Before(from) {
			from = slots[0].Start
		}
		if last := slots[len(slots)-1].End; last.After(to) {
			to = last
		}
	}

	var byRoom map[int64][]*entity.Booking
	if !from.IsZero() {
		bookings, err := s.bookingRepo.GetActiveInRange(ctx, roomIDs(rooms), from, to)
		if err != nil {
			s.log.WithError(err).Error("Ошибка при получении броней на дату")
			return nil, err
		}
		byRoom = groupByRoom(bookings)
	}

	now := s.clock()
	fleet := make([]*entity.RoomAvailability, 0, len(rooms))
	for _, room := range rooms {
		slots := timeslot.Mark(slotsByRoom[room.ID], byRoom[room.ID], now)
		if slots == nil {
			slots = []entity.Slot{}
		}
		if room.Status == entity.RoomStatusMaintenance {
			closeSlots(slots)
		}
		summary := timeslot.Summarize(slots)
		fleet = append(fleet, &entity.RoomAvailability{
			Room:      room,
			Available: summary.AvailableCount > 0,
			Summary:   summary,
			Slots:     slots,
		})
	}
	return fleet, nil
}

func closeSlots(slots []entity.Slot) {
	for i := range slots {
		slots[i].Available = false
	}
}

func roomIDs(rooms []*entity.Room) []int64 {
	ids := make([]int64, len(rooms))
	for i, r := range rooms {
		ids[i] = r.ID
	}
	return ids
}

func groupByRoom(bookings []*entity.Booking) map[int64][]*entity.Booking {
	out := make(map[int64][]*entity.Booking)
	for _, b := range bookings {
		out[b.RoomID] = append(out[b.RoomID], b)
	}
	return out
}

// sortFleet: свободные комнаты первыми, затем по цене и имени
func sortFleet(fleet []*entity.RoomAvailability) {
	sort.SliceStable(fleet, func(i, j int) bool {
		a, b := fleet[i], fleet[j]
		if a.Available != b.Available {
			return a.Available
		}
		if a.Room.PricePerHour != b.Room.PricePerHour {
			return a.Room.PricePerHour < b.Room.PricePerHour
		}
		return a.Room.Name < b.Room.Name
	})
}
