package service

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/ds124wfegd/roombooker/internal/database/memory"
	"github.com/ds124wfegd/roombooker/internal/entity"
	"github.com/ds124wfegd/roombooker/internal/gateway"
	"github.com/ds124wfegd/roombooker/internal/timeslot"
	"github.com/ds124wfegd/roombooker/pkg/broker"
)

var (
	admin    = &entity.Actor{ID: 1, Role: entity.RoleAdmin}
	customer = &entity.Actor{ID: 42, Role: entity.RoleCustomer}
	stranger = &entity.Actor{ID: 77, Role: entity.RoleCustomer}
)

type taskRecorder struct {
	mu    sync.Mutex
	tasks []*Task
}

func (r *taskRecorder) Publish(_ context.Context, task *Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, task)
	return nil
}

func (r *taskRecorder) all() []*Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Task(nil), r.tasks...)
}

type fixture struct {
	mu  sync.Mutex
	now time.Time

	store   *memory.Store
	sandbox *gateway.Sandbox
	events  *broker.MemoryPublisher
	tasks   *taskRecorder
	log     *logrus.Entry

	availability AvailabilityService
	slots        SlotService
	bookings     BookingService
	payments     PaymentService
	rooms        RoomService
	sync         RoomSyncService

	room *entity.Room
}

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// day returns hour:00 UTC on 2025-06-01
func day(hour int) time.Time {
	return time.Date(2025, 6, 1, hour, 0, 0, 0, time.UTC)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		now:     day(8),
		sandbox: gateway.NewSandbox("thb", 2000),
		events:  broker.NewMemoryPublisher(),
		tasks:   &taskRecorder{},
		log:     testLogger(),
	}
	f.store = memory.NewStore().WithClock(f.clock)

	policy := NewRolePolicy()
	opts := timeslot.Options{SlotDuration: time.Hour, BreakDuration: 10 * time.Minute, Location: time.UTC}

	f.availability = NewAvailabilityService(f.store.Rooms(), f.store.Bookings(), f.clock, f.log)
	f.slots = NewSlotService(f.store.Rooms(), f.store.Bookings(), nil, opts, f.clock, f.log)
	f.bookings = NewBookingService(BookingDeps{
		Bookings: f.store.Bookings(),
		Rooms:    f.store.Rooms(),
		Policy:   policy,
		Events:   f.events,
		Queue:    f.tasks,
		Clock:    f.clock,
		Location: time.UTC,
		Log:      f.log,
	})
	f.payments = f.paymentService(time.Second)
	f.rooms = NewRoomService(f.store.Rooms(), policy, nil, f.clock, f.log)
	f.sync = NewRoomSyncService(f.store.Rooms(), f.store.Bookings(), nil, f.events, time.UTC, f.log)

	f.room = f.createRoom(t, "Karaoke A", 300)
	return f
}

func (f *fixture) paymentService(timeout time.Duration) PaymentService {
	return NewPaymentService(PaymentDeps{
		Payments:       f.store.Payments(),
		Bookings:       f.store.Bookings(),
		Gateway:        f.sandbox,
		Policy:         NewRolePolicy(),
		Events:         f.events,
		Timeout:        timeout,
		ReconcileAfter: 10 * time.Minute,
		Clock:          f.clock,
		Log:            f.log,
	})
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) advance(to time.Time) {
	f.mu.Lock()
	f.now = to
	f.mu.Unlock()
}

func (f *fixture) createRoom(t *testing.T, name string, price float64) *entity.Room {
	t.Helper()
	room, err := f.rooms.CreateRoom(context.Background(), admin, &RoomRequest{
		Name:         name,
		Capacity:     8,
		PricePerHour: price,
		OpenTime:     entity.NewClockTime(9, 0),
		CloseTime:    entity.NewClockTime(23, 0),
		Amenities:    []entity.Amenity{entity.AmenityKaraoke},
	})
	require.NoError(t, err)
	return room
}

func bookingRequest(roomID int64, start, end time.Time) *CreateBookingRequest {
	return &CreateBookingRequest{
		RoomID: roomID,
		Start:  entity.FlexibleTime{Time: start},
		End:    entity.FlexibleTime{Time: end},
	}
}

func (f *fixture) book(t *testing.T, actor *entity.Actor, start, end time.Time) *entity.Booking {
	t.Helper()
	details, err := f.bookings.Create(context.Background(), actor, bookingRequest(f.room.ID, start, end))
	require.NoError(t, err)
	return details.Booking
}
