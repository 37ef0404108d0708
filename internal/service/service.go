package service

import (
	"context"
	"time"

	"github.com/ds124wfegd/roombooker/internal/entity"
	"github.com/ds124wfegd/roombooker/internal/gateway"
)

// AvailabilityService отвечает на вопрос "свободна ли комната". Это только
// подсказка для клиента, окончательная проверка делается в TryReserve.
type AvailabilityService interface {
	CheckAvailability(ctx context.Context, roomID int64, start, end time.Time) (*entity.AvailabilityResult, error)
	ListAvailableRooms(ctx context.Context, start, end time.Time) ([]*entity.Room, error)
}

// SlotService строит сетку слотов по часам работы комнаты
type SlotService interface {
	GetTimeSlots(ctx context.Context, roomID int64, date time.Time) (*entity.RoomSlots, error)
	GetFleetAvailability(ctx context.Context, date time.Time) ([]*entity.RoomAvailability, error)
	GetFleetAvailabilityForRange(ctx context.Context, start, end time.Time) ([]*entity.RoomAvailability, error)
}

// BookingService определяет интерфейс для операций с бронированиями
type BookingService interface {
	// Основные операции
	Create(ctx context.Context, actor *entity.Actor, req *CreateBookingRequest) (*entity.BookingDetails, error)
	Cancel(ctx context.Context, actor *entity.Actor, bookingID int64) (*entity.Booking, error)
	Get(ctx context.Context, actor *entity.Actor, bookingID int64) (*entity.BookingDetails, error)
	List(ctx context.Context, filter entity.BookingFilter) ([]*entity.Booking, error)
	GetStats(ctx context.Context, requesterID int64) (*entity.UserBookingStats, error)

	// Смена статусов со сверкой по таблице переходов
	UpdateStatus(ctx context.Context, actor *entity.Actor, bookingID int64, status string) (*entity.Booking, error)
	UpdatePaymentStatus(ctx context.Context, actor *entity.Actor, bookingID int64, status string) (*entity.Booking, error)

	// Административные операции
	ListPaidCancelled(ctx context.Context, actor *entity.Actor) ([]*entity.Booking, error)
	AdminCorrectPrice(ctx context.Context, actor *entity.Actor, bookingID int64, price float64) (*entity.Booking, error)
	AdminPurgeBooking(ctx context.Context, actor *entity.Actor, bookingID int64) error
}

// PaymentService ведет оплату брони: ручные платежи и намерения через шлюз
type PaymentService interface {
	CreatePayment(ctx context.Context, actor *entity.Actor, req *RecordPaymentRequest) (*entity.Payment, error)
	ListPayments(ctx context.Context, actor *entity.Actor, bookingID int64) ([]*entity.Payment, error)

	// Платежи через шлюз
	CreateIntent(ctx context.Context, actor *entity.Actor, req *CreateIntentRequest) (*IntentResult, error)
	ConfirmIntent(ctx context.Context, actor *entity.Actor, intentID string) (*entity.Payment, error)
	CancelIntent(ctx context.Context, actor *entity.Actor, intentID string) (*entity.Payment, error)
	Refund(ctx context.Context, actor *entity.Actor, intentID string, amount *float64) (*entity.Payment, error)

	// Асинхронные уведомления шлюза и сверка зависших намерений
	HandleGatewayEvent(ctx context.Context, event *entity.GatewayEvent) (bool, error)
	ReconcilePending(ctx context.Context) (int, error)
}

// RoomSyncService пересчитывает занятость комнат и завершает прошедшие брони
type RoomSyncService interface {
	SyncRooms(ctx context.Context, now time.Time) (*entity.SyncReport, error)
	SyncRoom(ctx context.Context, roomID int64, now time.Time) (*entity.RoomSyncResult, error)
}

// RoomService управляет справочником комнат
type RoomService interface {
	CreateRoom(ctx context.Context, actor *entity.Actor, req *RoomRequest) (*entity.Room, error)
	UpdateRoom(ctx context.Context, actor *entity.Actor, roomID int64, req *RoomRequest) (*entity.Room, error)
	GetRoom(ctx context.Context, roomID int64) (*entity.Room, error)
	GetAllRooms(ctx context.Context) ([]*entity.Room, error)
	SetMaintenance(ctx context.Context, actor *entity.Actor, roomID int64, on bool) (*entity.Room, error)
}

// SlotCache хранит готовые сетки слотов. Промах кэша никогда не ошибка.
type SlotCache interface {
	GetRoomSlots(ctx context.Context, roomID int64, date string) (*entity.RoomSlots, bool)
	SetRoomSlots(ctx context.Context, slots *entity.RoomSlots)
	GetFleet(ctx context.Context, date string) ([]*entity.RoomAvailability, bool)
	SetFleet(ctx context.Context, date string, fleet []*entity.RoomAvailability)
	Invalidate(ctx context.Context, roomID int64, dates ...string)
	InvalidateRoom(ctx context.Context, roomID int64)
}

// EventPublisher публикует доменные события во внешний брокер
type EventPublisher interface {
	PublishJSON(ctx context.Context, key string, v interface{}) error
}

// TaskPublisher интерфейс для публикации задач в очередь
type TaskPublisher interface {
	Publish(ctx context.Context, task *Task) error
}

// Task представляет задачу для очереди
type Task struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"type"`
	Data       map[string]interface{} `json:"data"`
	ExecuteAt  time.Time              `json:"execute_at"`
	MaxRetries int                    `json:"max_retries"`
	Attempts   int                    `json:"attempts"`
}

// Константы типов задач
const (
	TaskTypeSyncRoom = "sync_room"
)

// CreateBookingRequest представляет данные для бронирования комнаты
type CreateBookingRequest struct {
	RoomID int64               `json:"room_id" binding:"required"`
	Start  entity.FlexibleTime `json:"start"`
	End    entity.FlexibleTime `json:"end"`
	// DurationHours выводится из интервала, если не задан
	DurationHours int                  `json:"duration_hours" binding:"omitempty,min=1,max=24"`
	Notes         *entity.BookingNotes `json:"notes,omitempty"`
	// RequesterID учитывается только для администратора
	RequesterID int64 `json:"requester_id,omitempty"`
}

// RecordPaymentRequest ручная фиксация оплаты (наличные, перевод и т.д.)
type RecordPaymentRequest struct {
	BookingID     int64                `json:"booking_id" binding:"required"`
	Amount        *float64             `json:"amount,omitempty"`
	Method        entity.PaymentMethod `json:"method" binding:"required"`
	TransactionID string               `json:"transaction_id,omitempty"`
	ProofRef      string               `json:"proof,omitempty"`
}

type CreateIntentRequest struct {
	BookingID int64  `json:"booking_id" binding:"required"`
	Token     string `json:"token"`
}

// IntentResult объединяет запись платежа и состояние намерения у шлюза
type IntentResult struct {
	Payment *entity.Payment `json:"payment"`
	Intent  *gateway.Intent `json:"intent"`
}

type RoomRequest struct {
	Name         string           `json:"name" binding:"required"`
	Capacity     int              `json:"capacity" binding:"required"`
	PricePerHour float64          `json:"price_per_hour"`
	OpenTime     entity.ClockTime `json:"open_time"`
	CloseTime    entity.ClockTime `json:"close_time"`
	Amenities    []entity.Amenity `json:"amenities"`
	Location     *entity.Address  `json:"location,omitempty"`
}

func (r *RoomRequest) room() *entity.Room {
	return &entity.Room{
		Name:         r.Name,
		Capacity:     r.Capacity,
		PricePerHour: r.PricePerHour,
		OpenTime:     r.OpenTime,
		CloseTime:    r.CloseTime,
		Amenities:    r.Amenities,
		Location:     r.Location,
	}
}

// Clock возвращает текущее время, подменяется в тестах
type Clock func() time.Time
