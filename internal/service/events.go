package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ds124wfegd/roombooker/internal/entity"
	"github.com/ds124wfegd/roombooker/pkg/broker"
)

// Ключи маршрутизации доменных событий
const (
	EventBookingCreated   = "booking.created"
	EventBookingCancelled = "booking.cancelled"
	EventBookingCompleted = "booking.completed"
	EventPaymentPaid      = "payment.paid"
	EventPaymentFailed    = "payment.failed"
	EventPaymentRefunded  = "payment.refunded"
)

type BookingEventData struct {
	BookingID     int64                `json:"booking_id"`
	RoomID        int64                `json:"room_id"`
	RequesterID   int64                `json:"requester_id"`
	Start         time.Time            `json:"start"`
	End           time.Time            `json:"end"`
	Status        entity.BookingStatus `json:"status"`
	PaymentStatus entity.PaymentStatus `json:"payment_status"`
	TotalPrice    float64              `json:"total_price"`
}

func bookingEventData(b *entity.Booking) BookingEventData {
	return BookingEventData{
		BookingID:     b.ID,
		RoomID:        b.RoomID,
		RequesterID:   b.RequesterID,
		Start:         b.Start,
		End:           b.End,
		Status:        b.Status,
		PaymentStatus: b.PaymentStatus,
		TotalPrice:    b.TotalPrice,
	}
}

type PaymentEventData struct {
	PaymentID     int64                `json:"payment_id"`
	BookingID     int64                `json:"booking_id"`
	Amount        float64              `json:"amount"`
	Method        entity.PaymentMethod `json:"method"`
	Status        entity.PaymentStatus `json:"status"`
	TransactionID string               `json:"transaction_id,omitempty"`
	IntentID      string               `json:"intent_id,omitempty"`
}

func paymentEventData(p *entity.Payment) PaymentEventData {
	return PaymentEventData{
		PaymentID:     p.ID,
		BookingID:     p.BookingID,
		Amount:        p.Amount,
		Method:        p.Method,
		Status:        p.Status,
		TransactionID: p.TransactionID,
		IntentID:      p.IntentID,
	}
}

func paymentEventKey(status entity.PaymentStatus) (string, bool) {
	switch status {
	case entity.PaymentStatusPaid:
		return EventPaymentPaid, true
	case entity.PaymentStatusFailed:
		return EventPaymentFailed, true
	case entity.PaymentStatusRefunded:
		return EventPaymentRefunded, true
	}
	return "", false
}

// publishEvent не прерывает операцию: изменение уже зафиксировано в базе
func publishEvent(ctx context.Context, pub EventPublisher, log *logrus.Entry, key string, data interface{}) {
	if pub == nil {
		return
	}
	if err := pub.PublishJSON(ctx, key, broker.NewEvent(key, data)); err != nil {
		log.WithError(err).WithField("event", key).Warn("Ошибка при публикации события")
	}
}
